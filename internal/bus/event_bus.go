package bus

import (
	"sync"

	"github.com/sirupsen/logrus"
)

type EventType string

const (
	EventPaymentChallenged EventType = "paymentChallenged"
	EventPaymentVerified   EventType = "paymentVerified"
	EventPaymentSettled    EventType = "paymentSettled"

	EventEscrowSpend    EventType = "escrowSpend"
	EventEscrowWithdraw EventType = "escrowWithdraw"

	EventA2AMessageSent     EventType = "a2aMessageSent"
	EventA2AMessageReceived EventType = "a2aMessageReceived"
	EventAgentRegistered    EventType = "agentRegistered"

	EventLogEntry EventType = "logEntry"
)

var allEventTypes = []EventType{
	EventPaymentChallenged,
	EventPaymentVerified,
	EventPaymentSettled,
	EventEscrowSpend,
	EventEscrowWithdraw,
	EventA2AMessageSent,
	EventA2AMessageReceived,
	EventAgentRegistered,
	EventLogEntry,
}

type Event struct {
	Type    EventType              `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

type EventHandler func(event Event)

// EventBus fans protocol events out to subscribers, primarily the /events
// websocket hub. Publishing never blocks: a full channel drops the event.
type EventBus struct {
	mu        sync.RWMutex
	handlers  map[EventType][]EventHandler
	logger    *logrus.Logger
	eventChan chan Event
	stopChan  chan struct{}
}

func NewEventBus(logger *logrus.Logger) *EventBus {
	eb := &EventBus{
		handlers:  make(map[EventType][]EventHandler),
		logger:    logger,
		eventChan: make(chan Event, 100),
		stopChan:  make(chan struct{}),
	}

	go eb.processEvents()

	return eb
}

func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
	eb.logger.Debugf("Handler subscribed to event type: %s", eventType)
}

func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, eventType := range allEventTypes {
		eb.handlers[eventType] = append(eb.handlers[eventType], handler)
	}

	eb.logger.Debug("Handler subscribed to all event types")
}

func (eb *EventBus) Publish(event Event) {
	select {
	case eb.eventChan <- event:
	default:
		eb.logger.Warnf("Event channel full, dropping event: %s", event.Type)
	}
}

func (eb *EventBus) PublishAsync(eventType EventType, payload map[string]interface{}) {
	go func() {
		eb.Publish(Event{
			Type:    eventType,
			Payload: payload,
		})
	}()
}

func (eb *EventBus) processEvents() {
	for {
		select {
		case event := <-eb.eventChan:
			eb.handleEvent(event)
		case <-eb.stopChan:
			eb.logger.Info("EventBus stopped")
			return
		}
	}
}

func (eb *EventBus) handleEvent(event Event) {
	eb.mu.RLock()
	handlers := eb.handlers[event.Type]
	eb.mu.RUnlock()

	for _, handler := range handlers {
		// Run each handler in a goroutine to prevent blocking
		go func(h EventHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Errorf("Panic in event handler for %s: %v", event.Type, r)
				}
			}()
			h(event)
		}(handler)
	}
}

func (eb *EventBus) Stop() {
	close(eb.stopChan)
}

// PublishPaymentChallenged records a 402 challenge handed to a client.
func (eb *EventBus) PublishPaymentChallenged(resource, amount string) {
	eb.PublishAsync(EventPaymentChallenged, map[string]interface{}{
		"resource": resource,
		"amount":   amount,
	})
}

// PublishPaymentVerified records a proof that passed verification.
func (eb *EventBus) PublishPaymentVerified(requestID, payer string) {
	eb.PublishAsync(EventPaymentVerified, map[string]interface{}{
		"requestId": requestID,
		"payer":     payer,
	})
}

// PublishPaymentSettled records a facilitator settlement outcome.
func (eb *EventBus) PublishPaymentSettled(requestID string, receipt map[string]interface{}) {
	eb.PublishAsync(EventPaymentSettled, map[string]interface{}{
		"requestId": requestID,
		"receipt":   receipt,
	})
}

// PublishEscrowSpend records a submitted budget debit.
func (eb *EventBus) PublishEscrowSpend(taskID, txHash, amount string) {
	eb.PublishAsync(EventEscrowSpend, map[string]interface{}{
		"taskId": taskID,
		"txHash": txHash,
		"amount": amount,
	})
}

// PublishA2AMessage records an inter-agent message in either direction.
func (eb *EventBus) PublishA2AMessage(direction, peer, action, messageID string) {
	eventType := EventA2AMessageSent
	if direction == "receive" {
		eventType = EventA2AMessageReceived
	}
	eb.PublishAsync(eventType, map[string]interface{}{
		"direction": direction,
		"peer":      peer,
		"action":    action,
		"messageId": messageID,
	})
}
