package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchkey-go/internal/domain/eventbus"
	"launchkey-go/internal/domain/session/store"
	platformerrors "launchkey-go/internal/platform/errors"
	testutil "launchkey-go/internal/platform/testing"
)

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	data   []eventbus.SessionEventData
}

func (p *recordingPublisher) Publish(topic string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	if len(args) > 0 {
		if d, ok := args[0].(eventbus.SessionEventData); ok {
			p.data = append(p.data, d)
		}
	}
}

func newTestManager(t *testing.T) (*Manager, *recordingPublisher) {
	t.Helper()
	tokens, err := NewTokenIssuer("secret", "launchkey-go", time.Hour)
	require.NoError(t, err)

	events := &recordingPublisher{}
	mgr, err := NewManager(Options{
		Store:  store.NewMemory(store.Config{TTL: time.Hour}),
		Tokens: tokens,
		Logger: testutil.NopLogger{},
		Events: events,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr, events
}

func TestManagerLoginFlow(t *testing.T) {
	ctx := context.Background()
	mgr, events := newTestManager(t)

	sess, err := mgr.Create(ctx, "r1", "alice", map[string]any{"ip": "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, sess.Status)
	assert.NotEmpty(t, sess.ID)

	active, token, err := mgr.Activate(ctx, "r1", "hash-a")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, active.Status)
	assert.Equal(t, "hash-a", active.UserHash)
	assert.NotEmpty(t, token)

	authed, err := mgr.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, authed.ID)
	assert.Equal(t, "alice", authed.Username)

	require.NoError(t, mgr.Remove(ctx, sess.ID, "logout"))
	_, err = mgr.Authenticate(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, []string{eventbus.EventSessionCreated, eventbus.EventSessionRemoved}, events.topics)
	assert.Equal(t, "logout", events.data[1].Reason)
}

func TestManagerDeny(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	_, err := mgr.Create(ctx, "r2", "bob", nil)
	require.NoError(t, err)

	denied, err := mgr.Deny(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, denied.Status)

	got, err := mgr.GetByAuthRequest(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, got.Status)

	_, _, err = mgr.Activate(ctx, "r2", "hash-b")
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindSession))
}

func TestManagerAuthenticateRejectsPending(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	sess, err := mgr.Create(ctx, "r3", "carol", nil)
	require.NoError(t, err)

	token, _, err := mgr.tokens.Issue(sess.ID, "carol")
	require.NoError(t, err)
	_, err = mgr.Authenticate(ctx, token)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindSession))

	_, err = mgr.Authenticate(ctx, "garbage")
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindSession))
}

func TestManagerRemoveByUserHash(t *testing.T) {
	ctx := context.Background()
	mgr, events := newTestManager(t)

	for _, req := range []string{"a", "b"} {
		_, err := mgr.Create(ctx, req, "dave", nil)
		require.NoError(t, err)
		_, _, err = mgr.Activate(ctx, req, "hash-d")
		require.NoError(t, err)
	}
	_, err := mgr.Create(ctx, "c", "erin", nil)
	require.NoError(t, err)
	_, _, err = mgr.Activate(ctx, "c", "hash-e")
	require.NoError(t, err)

	n, err := mgr.RemoveByUserHash(ctx, "hash-d", "deorbit")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ids, err := mgr.List(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	n, err = mgr.RemoveByUserHash(ctx, "", "deorbit")
	require.NoError(t, err)
	assert.Zero(t, n)

	removed := 0
	for _, topic := range events.topics {
		if topic == eventbus.EventSessionRemoved {
			removed++
		}
	}
	assert.Equal(t, 2, removed)
}

func TestManagerUnknownAuthRequest(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	_, _, err := mgr.Activate(ctx, "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = mgr.Deny(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	err = mgr.Remove(ctx, "missing", "logout")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = mgr.Create(ctx, "", "x", nil)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindSession))
}

func TestNewManagerValidatesOptions(t *testing.T) {
	tokens, err := NewTokenIssuer("secret", "", time.Hour)
	require.NoError(t, err)

	_, err = NewManager(Options{Tokens: tokens, Logger: testutil.NopLogger{}})
	assert.Error(t, err)
	_, err = NewManager(Options{Store: store.NewMemory(store.Config{}), Logger: testutil.NopLogger{}})
	assert.Error(t, err)
	_, err = NewManager(Options{Store: store.NewMemory(store.Config{}), Tokens: tokens})
	assert.Error(t, err)
}
