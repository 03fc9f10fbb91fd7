package launchkey

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"launchkey-go/internal/domain/launchkey/model"
	platformerrors "launchkey-go/internal/platform/errors"
)

// Pinger fetches the API public key and server clock.
type Pinger func(ctx context.Context) (model.PingResponse, error)

// TimeCache holds the last API public key and server time seen by Ping. It has
// no TTL: it is stale only until the first successful ping.
type TimeCache struct {
	ping  Pinger
	group singleflight.Group

	mu         sync.RWMutex
	publicKey  string
	serverTime time.Time
	ready      bool
}

func NewTimeCache(ping Pinger) *TimeCache {
	return &TimeCache{ping: ping}
}

// Refresh always pings and stores the result.
func (c *TimeCache) Refresh(ctx context.Context) (model.PingResponse, error) {
	resp, err := c.ping(ctx)
	if err != nil {
		return model.PingResponse{}, err
	}
	if resp.Key == "" {
		return resp, platformerrors.New(platformerrors.KindParse, "ping", "ping response carried no public key")
	}
	c.Store(resp)
	return resp, nil
}

// EnsureReady pings only when the cache has never been populated. Concurrent
// callers share a single ping.
func (c *TimeCache) EnsureReady(ctx context.Context) error {
	if !c.IsStale() {
		return nil
	}
	_, err, _ := c.group.Do("ensure-ready", func() (any, error) {
		if !c.IsStale() {
			return nil, nil
		}
		_, err := c.Refresh(ctx)
		return nil, err
	})
	return err
}

func (c *TimeCache) Store(resp model.PingResponse) {
	c.mu.Lock()
	c.publicKey = resp.Key
	c.serverTime = resp.LaunchkeyTime.Time
	c.ready = true
	c.mu.Unlock()
}

func (c *TimeCache) IsStale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.ready
}

// Snapshot returns the cached key and time; ok is false before the first ping.
func (c *TimeCache) Snapshot() (publicKey string, serverTime time.Time, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.publicKey, c.serverTime, c.ready
}
