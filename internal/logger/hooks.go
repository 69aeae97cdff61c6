package logger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/orca-network/orca-go-sdk/internal/bus"
)

// New builds the process logger from configuration.
func New(level string, jsonFormat bool) *logrus.Logger {
	logger := logrus.New()
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	if jsonFormat {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// EventBusLogHook mirrors log entries onto the event bus so websocket
// clients watching /events see them live.
type EventBusLogHook struct {
	eventBus  *bus.EventBus
	agentName string
}

func NewEventBusLogHook(eventBus *bus.EventBus, agentName string) *EventBusLogHook {
	return &EventBusLogHook{
		eventBus:  eventBus,
		agentName: agentName,
	}
}

// Levels returns the log levels this hook is interested in.
func (h *EventBusLogHook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
		logrus.InfoLevel,
	}
}

// Fire is called when a log event occurs.
func (h *EventBusLogHook) Fire(entry *logrus.Entry) error {
	if h.eventBus == nil {
		return nil
	}

	requestID, _ := entry.Data["request_id"].(string)
	taskID, _ := entry.Data["task_id"].(string)

	message := entry.Message
	var fieldParts []string
	for key, value := range entry.Data {
		if key != "request_id" && key != "task_id" {
			fieldParts = append(fieldParts, fmt.Sprintf("%s=%v", key, value))
		}
	}
	if len(fieldParts) > 0 {
		sort.Strings(fieldParts)
		message = fmt.Sprintf("%s [%s]", message, strings.Join(fieldParts, ", "))
	}

	h.eventBus.PublishAsync(bus.EventLogEntry, map[string]interface{}{
		"level":     entry.Level.String(),
		"message":   message,
		"source":    h.agentName,
		"requestId": requestID,
		"taskId":    taskID,
		"timestamp": entry.Time.Format(time.RFC3339),
	})

	return nil
}
