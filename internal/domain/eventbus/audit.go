package eventbus

import (
	"context"
	"time"

	"launchkey-go/internal/domain/eventbus/repository"
)

const auditWriteTimeout = 5 * time.Second

// AuditRecorder persists every event it handles to an EventRepository.
type AuditRecorder struct {
	repo   repository.EventRepository
	logger Logger
}

// NewAuditRecorder creates an AuditRecorder. logger may be nil.
func NewAuditRecorder(repo repository.EventRepository, logger Logger) *AuditRecorder {
	return &AuditRecorder{repo: repo, logger: logger}
}

// Handle stores the event. Storage failures are logged and swallowed.
func (a *AuditRecorder) Handle(eventType string, data interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	if err := a.repo.Store(ctx, ToAuditEvent(eventType, data)); err != nil && a.logger != nil {
		a.logger.Warn("audit write failed for %s: %v", eventType, err)
	}
}

// ToAuditEvent maps event payloads onto the audit row's session and user
// columns.
func ToAuditEvent(eventType string, data interface{}) repository.Event {
	event := repository.Event{
		EventType: eventType,
		Data:      data,
		CreatedAt: time.Now(),
	}
	switch d := data.(type) {
	case AuthEventData:
		event.SessionID = d.AuthRequest
		event.CreatedAt = nonZero(d.At, event.CreatedAt)
	case DeorbitEventData:
		event.UserID = d.UserHash
		event.CreatedAt = nonZero(d.At, event.CreatedAt)
	case NotifyFailedEventData:
		event.SessionID = d.AuthRequest
		event.CreatedAt = nonZero(d.At, event.CreatedAt)
	case SessionEventData:
		event.SessionID = d.SessionID
		event.UserID = d.Username
		event.CreatedAt = nonZero(d.At, event.CreatedAt)
	}
	return event
}

func nonZero(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}
