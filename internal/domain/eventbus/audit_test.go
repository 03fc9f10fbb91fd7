package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchkey-go/internal/domain/eventbus/infrastructure"
	"launchkey-go/internal/domain/eventbus/repository"
	testutil "launchkey-go/internal/platform/testing"
)

func TestAuditRecorderPersistsEvents(t *testing.T) {
	db := testutil.OpenTestDB(t, "audit")

	repo := infrastructure.NewEventRepository(db)
	bus := New(1)
	defer bus.Shutdown()
	require.NoError(t, SetupEventHandlers(bus, NewAuditRecorder(repo, nil)))

	at := time.Now().Add(-time.Minute)
	bus.Publish(EventAuthorized, AuthEventData{AuthRequest: "r1", At: at})
	bus.Publish(EventDeorbit, DeorbitEventData{UserHash: "u1", Age: 6 * time.Minute})
	bus.Publish(EventSessionRemoved, SessionEventData{SessionID: "s1", Username: "alice", Reason: "deorbit"})
	bus.Flush()

	ctx := context.Background()
	recent, err := repo.Find(ctx, repository.Query{Limit: 10})
	require.NoError(t, err)
	require.Len(t, recent, 3)

	byReq, err := repo.Find(ctx, repository.Query{SessionIDs: []string{"r1"}})
	require.NoError(t, err)
	require.Len(t, byReq, 1)
	assert.Equal(t, EventAuthorized, byReq[0].EventType)
	data, ok := byReq[0].Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "r1", data["auth_request"])

	byUser, err := repo.Find(ctx, repository.Query{UserIDs: []string{"u1"}})
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, EventDeorbit, byUser[0].EventType)

	counts, err := repo.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[EventSessionRemoved])
}

func TestToAuditEventMapping(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	ev := ToAuditEvent(EventNotifyFailed, NotifyFailedEventData{AuthRequest: "r9", At: at})
	assert.Equal(t, "r9", ev.SessionID)
	assert.Equal(t, at, ev.CreatedAt)

	ev = ToAuditEvent(EventSessionCreated, SessionEventData{SessionID: "s1", Username: "bob"})
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, "bob", ev.UserID)
	assert.False(t, ev.CreatedAt.IsZero())

	ev = ToAuditEvent("custom", "payload")
	assert.Empty(t, ev.SessionID)
	assert.Equal(t, "payload", ev.Data)
}
