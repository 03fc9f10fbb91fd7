package eventbus

import (
	"fmt"
)

// Logger is the logging contract used by event handlers.
type Logger interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
}

// EventHandler reacts to a single event.
type EventHandler interface {
	Handle(eventType string, data interface{})
}

// LogHandler writes a one-line summary of each event.
type LogHandler struct {
	logger Logger
}

// NewLogHandler creates a LogHandler.
func NewLogHandler(logger Logger) *LogHandler {
	return &LogHandler{logger: logger}
}

// Handle logs the event; failures are logged at warn level.
func (h *LogHandler) Handle(eventType string, data interface{}) {
	if h.logger == nil {
		return
	}
	switch eventType {
	case EventNotifyFailed:
		h.logger.Warn("%s: %s", eventType, Describe(data))
	default:
		h.logger.Info("%s: %s", eventType, Describe(data))
	}
}

// Describe renders event data for logs.
func Describe(data interface{}) string {
	switch d := data.(type) {
	case AuthEventData:
		return fmt.Sprintf("auth_request=%s device=%s", d.AuthRequest, d.DeviceID)
	case DeorbitEventData:
		return fmt.Sprintf("user_hash=%s age=%s", d.UserHash, d.Age)
	case NotifyFailedEventData:
		return fmt.Sprintf("action=%s status=%t auth_request=%s error=%s", d.Action, d.Status, d.AuthRequest, d.Error)
	case SessionEventData:
		return fmt.Sprintf("session=%s user=%s reason=%s", d.SessionID, d.Username, d.Reason)
	default:
		return fmt.Sprintf("%v", data)
	}
}

// SetupEventHandlers attaches handler to every topic on the async path.
func SetupEventHandlers(bus *Bus, handler EventHandler) error {
	for _, topic := range Topics {
		topic := topic
		err := bus.SubscribeAsync(topic, func(data interface{}) {
			handler.Handle(topic, data)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}
