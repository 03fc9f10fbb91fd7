package launchkey

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launchkey-go/internal/domain/launchkey/model"
	platformerrors "launchkey-go/internal/platform/errors"
)

func countingPinger(calls *int32, resp model.PingResponse, delay time.Duration) Pinger {
	return func(ctx context.Context) (model.PingResponse, error) {
		atomic.AddInt32(calls, 1)
		time.Sleep(delay)
		return resp, nil
	}
}

func TestTimeCacheLazy(t *testing.T) {
	var calls int32
	serverTime := time.Date(2013, 4, 20, 21, 40, 2, 0, time.UTC)
	cache := NewTimeCache(countingPinger(&calls, model.PingResponse{Key: "KEY", LaunchkeyTime: model.NewTimestamp(serverTime)}, 0))

	assert.True(t, cache.IsStale())
	_, _, ok := cache.Snapshot()
	assert.False(t, ok)

	require.NoError(t, cache.EnsureReady(context.Background()))
	require.NoError(t, cache.EnsureReady(context.Background()))

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	key, ts, ok := cache.Snapshot()
	assert.True(t, ok)
	assert.Equal(t, "KEY", key)
	assert.True(t, serverTime.Equal(ts))
}

func TestTimeCacheConcurrentEnsureReadyPingsOnce(t *testing.T) {
	var calls int32
	cache := NewTimeCache(countingPinger(&calls, model.PingResponse{Key: "KEY"}, 20*time.Millisecond))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, cache.EnsureReady(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTimeCacheRefreshAlwaysPings(t *testing.T) {
	var calls int32
	cache := NewTimeCache(countingPinger(&calls, model.PingResponse{Key: "KEY"}, 0))

	_, err := cache.Refresh(context.Background())
	require.NoError(t, err)
	_, err = cache.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestTimeCacheFailedPingStaysStale(t *testing.T) {
	boom := errors.New("network down")
	cache := NewTimeCache(func(context.Context) (model.PingResponse, error) {
		return model.PingResponse{}, boom
	})

	err := cache.EnsureReady(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, cache.IsStale())
}

func TestTimeCacheRejectsEmptyKey(t *testing.T) {
	cache := NewTimeCache(func(context.Context) (model.PingResponse, error) {
		return model.PingResponse{}, nil
	})

	_, err := cache.Refresh(context.Background())
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindParse))
	assert.True(t, cache.IsStale())
}
