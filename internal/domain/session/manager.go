// Package session tracks LaunchKey logins from the Authorize call through the
// user's answer, and issues bearer tokens for approved sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"launchkey-go/internal/domain/eventbus"
	"launchkey-go/internal/domain/session/model"
	"launchkey-go/internal/domain/session/store"
	platformerrors "launchkey-go/internal/platform/errors"
)

type (
	// Session re-exports the shared entity for callers.
	Session = model.Session
	// Status re-exports the session status.
	Status = model.Status
	// Logger re-exports the logging interface used across the domain.
	Logger = model.Logger
)

const (
	StatusPending  = model.StatusPending
	StatusApproved = model.StatusApproved
	StatusDenied   = model.StatusDenied
)

const (
	defaultCleanupInterval = 10 * time.Minute
	minCleanupInterval     = 30 * time.Second
	defaultPendingTTL      = 10 * time.Minute
)

// ErrNotFound is returned for unknown or expired sessions.
var ErrNotFound = model.ErrNotFound

// Publisher receives session events. *eventbus.Bus satisfies it.
type Publisher interface {
	Publish(topic string, args ...interface{})
}

// Options encapsulates the dependencies required to construct a Manager.
type Options struct {
	Store           store.Store
	Tokens          *TokenIssuer
	Logger          Logger
	Events          Publisher
	SessionTTL      time.Duration
	PendingTTL      time.Duration
	CleanupInterval time.Duration
}

// Manager coordinates session storage and token issuance.
type Manager struct {
	store      store.Store
	tokens     *TokenIssuer
	logger     Logger
	events     Publisher
	sessionTTL time.Duration
	pendingTTL time.Duration

	cleanupInterval time.Duration
	cleanupStop     chan struct{}
	cleanupOnce     sync.Once
	mu              sync.Mutex
}

// NewManager wires a Manager and starts its cleanup loop.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("session manager requires a store")
	}
	if opts.Tokens == nil {
		return nil, errors.New("session manager requires a token issuer")
	}
	if opts.Logger == nil {
		return nil, errors.New("session manager requires a logger")
	}
	sessionTTL := opts.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	pendingTTL := opts.PendingTTL
	if pendingTTL <= 0 {
		pendingTTL = defaultPendingTTL
	}
	cleanupInterval := opts.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	} else if cleanupInterval < minCleanupInterval {
		opts.Logger.Warn("cleanup interval too small, adjusting to %s", minCleanupInterval)
		cleanupInterval = minCleanupInterval
	}

	mgr := &Manager{
		store:           opts.Store,
		tokens:          opts.Tokens,
		logger:          opts.Logger,
		events:          opts.Events,
		sessionTTL:      sessionTTL,
		pendingTTL:      pendingTTL,
		cleanupInterval: cleanupInterval,
		cleanupStop:     make(chan struct{}),
	}
	go mgr.runCleanup()
	return mgr, nil
}

func (m *Manager) runCleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Cleanup(context.Background()); err != nil {
				m.logger.Warn("session cleanup failed: %v", err)
			}
		case <-m.cleanupStop:
			return
		}
	}
}

// Create records a pending session for an auth request just returned by
// Authorize.
func (m *Manager) Create(ctx context.Context, authRequest, username string, metadata map[string]any) (Session, error) {
	if authRequest == "" {
		return Session{}, platformerrors.New(platformerrors.KindSession, "session.create", "auth request must not be empty")
	}
	now := time.Now()
	expiresAt := now.Add(m.pendingTTL)
	sess := Session{
		ID:          uuid.NewString(),
		AuthRequest: authRequest,
		Username:    username,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   &expiresAt,
		Metadata:    metadata,
	}

	m.mu.Lock()
	err := m.store.Save(ctx, sess)
	m.mu.Unlock()
	if err != nil {
		return Session{}, platformerrors.Wrap(platformerrors.KindSession, "session.create", "failed to save session", err)
	}

	m.logger.Debug("session %s pending for %s", sess.ID, username)
	m.publish(eventbus.EventSessionCreated, sess, "")
	return sess, nil
}

// Activate marks the session for authRequest approved, records the user hash
// LaunchKey reported and issues a bearer token. Activating an already approved
// session issues a fresh token.
func (m *Manager) Activate(ctx context.Context, authRequest, userHash string) (Session, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.store.FindByAuthRequest(ctx, authRequest)
	if err != nil {
		return Session{}, "", m.wrapLookup("session.activate", err)
	}
	if sess.Status == StatusDenied {
		return Session{}, "", platformerrors.New(platformerrors.KindSession, "session.activate", "session was denied")
	}

	token, expiresAt, err := m.tokens.Issue(sess.ID, sess.Username)
	if err != nil {
		return Session{}, "", platformerrors.Wrap(platformerrors.KindSession, "session.activate", "failed to issue token", err)
	}

	sess.Status = StatusApproved
	if userHash != "" {
		sess.UserHash = userHash
	}
	sess.ExpiresAt = &expiresAt
	if err := m.store.Save(ctx, sess); err != nil {
		return Session{}, "", platformerrors.Wrap(platformerrors.KindSession, "session.activate", "failed to save session", err)
	}

	m.logger.Info("session %s approved for %s", sess.ID, sess.Username)
	return sess, token, nil
}

// Deny marks the session for authRequest denied. The row is kept until its
// pending expiry so pollers observe the outcome.
func (m *Manager) Deny(ctx context.Context, authRequest string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.store.FindByAuthRequest(ctx, authRequest)
	if err != nil {
		return Session{}, m.wrapLookup("session.deny", err)
	}
	sess.Status = StatusDenied
	if err := m.store.Save(ctx, sess); err != nil {
		return Session{}, platformerrors.Wrap(platformerrors.KindSession, "session.deny", "failed to save session", err)
	}

	m.logger.Info("session %s denied for %s", sess.ID, sess.Username)
	return sess, nil
}

// Get returns a session by id.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return Session{}, m.wrapLookup("session.get", err)
	}
	return sess, nil
}

// GetByAuthRequest returns the session created for authRequest.
func (m *Manager) GetByAuthRequest(ctx context.Context, authRequest string) (Session, error) {
	sess, err := m.store.FindByAuthRequest(ctx, authRequest)
	if err != nil {
		return Session{}, m.wrapLookup("session.get", err)
	}
	return sess, nil
}

// Authenticate resolves a bearer token to its approved session.
func (m *Manager) Authenticate(ctx context.Context, token string) (Session, error) {
	claims, err := m.tokens.Verify(token)
	if err != nil {
		return Session{}, platformerrors.Wrap(platformerrors.KindSession, "session.authenticate", "invalid token", err)
	}
	sess, err := m.store.Get(ctx, claims.SessionID)
	if err != nil {
		return Session{}, m.wrapLookup("session.authenticate", err)
	}
	if sess.Status != StatusApproved {
		return Session{}, platformerrors.New(platformerrors.KindSession, "session.authenticate", "session is not approved")
	}
	return sess, nil
}

// Remove deletes a session. reason is recorded on the removal event.
func (m *Manager) Remove(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		m.mu.Unlock()
		return m.wrapLookup("session.remove", err)
	}
	err = m.store.Remove(ctx, id)
	m.mu.Unlock()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindSession, "session.remove", "failed to remove session", err)
	}

	m.logger.Info("removed session %s (%s)", id, reason)
	m.publish(eventbus.EventSessionRemoved, sess, reason)
	return nil
}

// RemoveByUserHash deletes every session belonging to the LaunchKey user and
// returns how many were removed.
func (m *Manager) RemoveByUserHash(ctx context.Context, userHash, reason string) (int, error) {
	if userHash == "" {
		return 0, nil
	}

	m.mu.Lock()
	sessions, err := m.store.FindByUserHash(ctx, userHash)
	if err != nil {
		m.mu.Unlock()
		return 0, platformerrors.Wrap(platformerrors.KindSession, "session.remove_user", "failed to find sessions", err)
	}
	removed := make([]Session, 0, len(sessions))
	for _, sess := range sessions {
		if err := m.store.Remove(ctx, sess.ID); err != nil {
			m.mu.Unlock()
			return len(removed), platformerrors.Wrap(platformerrors.KindSession, "session.remove_user", "failed to remove session", err)
		}
		removed = append(removed, sess)
	}
	m.mu.Unlock()

	for _, sess := range removed {
		m.publish(eventbus.EventSessionRemoved, sess, reason)
	}
	if len(removed) > 0 {
		m.logger.Info("removed %d session(s) for user %s (%s)", len(removed), userHash, reason)
	}
	return len(removed), nil
}

// List returns active session identifiers.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Stats returns debug information from the store backend.
func (m *Manager) Stats(ctx context.Context) (map[string]any, error) {
	return m.store.Stats(ctx)
}

// Cleanup drops expired sessions.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.CleanupExpired(ctx)
}

// Close stops the cleanup loop and releases the store.
func (m *Manager) Close() error {
	m.cleanupOnce.Do(func() {
		close(m.cleanupStop)
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Close(context.Background()); err != nil {
		m.logger.Error("failed closing session store: %v", err)
		return err
	}
	return nil
}

func (m *Manager) wrapLookup(op string, err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return platformerrors.Wrap(platformerrors.KindSession, op, "session lookup failed", err)
}

func (m *Manager) publish(topic string, sess Session, reason string) {
	if m.events == nil {
		return
	}
	m.events.Publish(topic, eventbus.SessionEventData{
		SessionID:   sess.ID,
		AuthRequest: sess.AuthRequest,
		Username:    sess.Username,
		UserHash:    sess.UserHash,
		Reason:      reason,
		At:          time.Now(),
	})
}
