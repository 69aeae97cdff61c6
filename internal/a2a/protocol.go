package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/orca-network/orca-go-sdk/internal/bus"
	"github.com/orca-network/orca-go-sdk/internal/registry"
)

var (
	// ErrPeerUnknown means the target agent could not be resolved, locally
	// or on-chain.
	ErrPeerUnknown = errors.New("a2a: peer unknown")

	// ErrPeerUnreachable means the peer resolved but the HTTP exchange
	// failed.
	ErrPeerUnreachable = errors.New("a2a: peer unreachable")
)

// MessageOption customizes an outbound message's task section.
type MessageOption func(*Task)

func WithTaskID(taskID string) MessageOption {
	return func(t *Task) { t.TaskID = taskID }
}

func WithSubTaskID(subTaskID string) MessageOption {
	return func(t *Task) { t.SubTaskID = subTaskID }
}

func WithMaxBudget(maxBudget string) MessageOption {
	return func(t *Task) { t.MaxBudget = maxBudget }
}

// Protocol implements the agent-to-agent message exchange: construction,
// delivery to a peer's /a2a/receive endpoint, and inbound validation plus
// dispatch.
type Protocol struct {
	agentID    string
	registry   *registry.Registry
	dispatcher *Dispatcher
	http       *http.Client
	bus        *bus.EventBus
	logger     *logrus.Logger
	permissive bool
}

func NewProtocol(agentID string, reg *registry.Registry, dispatcher *Dispatcher, eventBus *bus.EventBus, timeout time.Duration, permissive bool, logger *logrus.Logger) *Protocol {
	return &Protocol{
		agentID:    agentID,
		registry:   reg,
		dispatcher: dispatcher,
		http:       &http.Client{Timeout: timeout},
		bus:        eventBus,
		logger:     logger,
		permissive: permissive,
	}
}

// AgentID returns the identity this protocol speaks as.
func (p *Protocol) AgentID() string { return p.agentID }

// CreateMessage builds a fully addressed message. Every call mints a fresh
// messageId.
func (p *Protocol) CreateMessage(to, action string, payload map[string]interface{}, opts ...MessageOption) Message {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	msg := Message{
		Header: Header{
			MessageID: uuid.New().String(),
			From:      p.agentID,
			To:        to,
			Timestamp: time.Now().UnixMilli(),
		},
		Task: Task{
			Action:  action,
			Payload: payload,
		},
	}
	for _, opt := range opts {
		opt(&msg.Task)
	}
	return msg
}

// Send delivers an action to a peer and returns the peer's decoded reply.
func (p *Protocol) Send(ctx context.Context, to, action string, payload map[string]interface{}, opts ...MessageOption) (map[string]interface{}, error) {
	target, err := p.registry.Resolve(ctx, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeerUnknown, err)
	}

	msg := p.CreateMessage(to, action, payload, opts...)
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(target.Endpoint, "/") + "/a2a/receive"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPeerUnreachable, to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrPeerUnreachable, to, resp.StatusCode, detail)
	}

	var reply map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("%w: %s: malformed reply: %v", ErrPeerUnreachable, to, err)
	}

	p.bus.PublishA2AMessage("send", to, action, msg.Header.MessageID)
	p.logger.WithFields(logrus.Fields{
		"to":         to,
		"action":     action,
		"message_id": msg.Header.MessageID,
	}).Info("A2A message sent")
	return reply, nil
}

// Receive validates an inbound message, dispatches its action, and wraps
// the result in the standard receive envelope. Schema failures return
// *SchemaError.
func (p *Protocol) Receive(raw []byte) (map[string]interface{}, error) {
	msg, err := ValidateMessage(raw, p.agentID, p.permissive)
	if err != nil {
		return nil, err
	}

	result := p.dispatcher.Handle(msg)

	p.bus.PublishA2AMessage("receive", msg.Header.From, msg.Task.Action, msg.Header.MessageID)
	p.logger.WithFields(logrus.Fields{
		"from":       msg.Header.From,
		"action":     msg.Task.Action,
		"message_id": msg.Header.MessageID,
	}).Info("A2A message received")

	return map[string]interface{}{
		"status":     "success",
		"message_id": msg.Header.MessageID,
		"from_agent": msg.Header.From,
		"action":     msg.Task.Action,
		"result":     result,
		"timestamp":  time.Now().UnixMilli(),
	}, nil
}
