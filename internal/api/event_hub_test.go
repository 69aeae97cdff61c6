package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orca-network/orca-go-sdk/internal/bus"
)

func TestEventHubBroadcast(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	eventBus := bus.NewEventBus(logger)
	defer eventBus.Stop()
	hub := NewEventHub(eventBus, logger)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	// Give registration a moment before publishing.
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	eventBus.PublishEscrowSpend("0xab", "0xdeadbeef", "60000")

	var event bus.Event
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, ws.ReadJSON(&event))

	assert.Equal(t, bus.EventEscrowSpend, event.Type)
	assert.Equal(t, "0xdeadbeef", event.Payload["txHash"])
	assert.Equal(t, "60000", event.Payload["amount"])
}

func TestEventHubMultipleClients(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	eventBus := bus.NewEventBus(logger)
	defer eventBus.Stop()
	hub := NewEventHub(eventBus, logger)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	first, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer first.Close()
	second, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer second.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	eventBus.PublishPaymentVerified("req-1", "0xpayer")

	for _, ws := range []*websocket.Conn{first, second} {
		var event bus.Event
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
		require.NoError(t, ws.ReadJSON(&event))
		assert.Equal(t, bus.EventPaymentVerified, event.Type)
	}
}

func TestEventHubClientDisconnect(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	eventBus := bus.NewEventBus(logger)
	defer eventBus.Stop()
	hub := NewEventHub(eventBus, logger)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	ws.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}
