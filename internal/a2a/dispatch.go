package a2a

import (
	"time"

	"github.com/sirupsen/logrus"
)

var supportedActions = []string{"ping", "query_market_data", "notify", "status"}

// Dispatcher routes validated messages to their action handlers. Unknown
// actions are answered, not failed: the peer gets the supported list back.
type Dispatcher struct {
	agentID      string
	capabilities []string
	version      string
	logger       *logrus.Logger
}

func NewDispatcher(agentID string, capabilities []string, version string, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		agentID:      agentID,
		capabilities: capabilities,
		version:      version,
		logger:       logger,
	}
}

func (d *Dispatcher) Handle(msg *Message) map[string]interface{} {
	from := msg.Header.From
	payload := msg.Task.Payload

	switch msg.Task.Action {
	case "ping":
		return d.handlePing(payload, from)
	case "query_market_data":
		return d.handleMarketDataQuery(payload, from)
	case "notify":
		return d.handleNotification(payload, from)
	case "status":
		return d.handleStatus(from)
	default:
		d.logger.Warnf("Unknown A2A action: %s", msg.Task.Action)
		return map[string]interface{}{
			"status":            "unknown_action",
			"message":           "Action '" + msg.Task.Action + "' is not supported",
			"supported_actions": supportedActions,
		}
	}
}

func (d *Dispatcher) handlePing(payload map[string]interface{}, from string) map[string]interface{} {
	d.logger.Infof("Ping received from %s", from)
	message, _ := payload["message"].(string)
	return map[string]interface{}{
		"status":    "pong",
		"agent_id":  d.agentID,
		"timestamp": time.Now().UnixMilli(),
		"message":   message,
	}
}

// handleMarketDataQuery advertises the paid capability rather than serving
// data: peers must come back through the paywalled /agent endpoint.
func (d *Dispatcher) handleMarketDataQuery(payload map[string]interface{}, from string) map[string]interface{} {
	d.logger.WithFields(logrus.Fields{
		"from":    from,
		"payload": payload,
	}).Info("Market data query received")
	return map[string]interface{}{
		"status":            "market_data_available",
		"message":           "Market data queries require payment verification",
		"endpoint":          "/agent",
		"payment_required":  true,
		"supported_symbols": []string{"BTC", "ETH", "CRO"},
	}
}

func (d *Dispatcher) handleNotification(payload map[string]interface{}, from string) map[string]interface{} {
	notificationType, _ := payload["type"].(string)
	if notificationType == "" {
		notificationType = "general"
	}
	message, _ := payload["message"].(string)
	d.logger.Infof("Notification from %s [%s]: %s", from, notificationType, message)
	return map[string]interface{}{
		"status":       "notification_received",
		"type":         notificationType,
		"acknowledged": true,
	}
}

func (d *Dispatcher) handleStatus(from string) map[string]interface{} {
	d.logger.Infof("Status request from %s", from)
	return map[string]interface{}{
		"status":       "online",
		"agent_id":     d.agentID,
		"capabilities": d.capabilities,
		"timestamp":    time.Now().UnixMilli(),
		"version":      d.version,
	}
}
