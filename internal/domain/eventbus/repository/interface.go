package repository

import (
	"context"
	"time"
)

// EventRepository persists the audit trail of domain events.
type EventRepository interface {
	// Store appends one event.
	Store(ctx context.Context, event Event) error

	// Find returns the events matching q, newest first.
	Find(ctx context.Context, q Query) ([]Event, error)

	// Prune deletes events created before cutoff and reports how many went.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)

	// CountByType counts events per type.
	CountByType(ctx context.Context) (map[string]int64, error)
}

// Query filters the audit trail. Zero fields match everything. SessionIDs and
// UserIDs form a single scope: an event is in scope when its session or its
// user is listed. A scope whose ids are all empty matches nothing.
type Query struct {
	EventType  string
	SessionIDs []string
	UserIDs    []string
	From       time.Time
	To         time.Time
	Limit      int
}

// Scoped reports whether q restricts results to particular sessions or users.
func (q Query) Scoped() bool {
	return len(q.SessionIDs) > 0 || len(q.UserIDs) > 0
}

// Event is one audit entry. SessionID carries the auth request or session
// identifier, UserID the username or LaunchKey user hash.
type Event struct {
	ID        string      `json:"id"`
	EventType string      `json:"event_type"`
	SessionID string      `json:"session_id,omitempty"`
	UserID    string      `json:"user_id,omitempty"`
	Data      interface{} `json:"data"`
	CreatedAt time.Time   `json:"created_at"`
}
