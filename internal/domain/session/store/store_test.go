package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"launchkey-go/internal/domain/session/model"
	testutil "launchkey-go/internal/platform/testing"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	db := testutil.OpenTestDB(t, "session")

	s, err := New(Config{Driver: DriverSQLite, TTL: time.Hour}, Dependencies{SQLiteDB: db})
	if err != nil {
		t.Fatalf("New sqlite store: %v", err)
	}
	return s
}

func newRedisStore(t *testing.T) Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	s, err := New(Config{
		Driver: DriverRedis,
		TTL:    time.Hour,
		Redis:  &RedisConfig{Addr: mr.Addr(), Prefix: "test:session:"},
	}, Dependencies{})
	if err != nil {
		t.Fatalf("New redis store: %v", err)
	}
	return s
}

func drivers(t *testing.T) map[string]func(*testing.T) Store {
	return map[string]func(*testing.T) Store{
		DriverMemory: func(*testing.T) Store { return NewMemory(Config{TTL: time.Hour}) },
		DriverSQLite: newSQLiteStore,
		DriverRedis:  newRedisStore,
	}
}

func TestStoreLifecycle(t *testing.T) {
	for name, build := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := build(t)
			t.Cleanup(func() { _ = s.Close(ctx) })

			sess := model.Session{
				ID:          "s1",
				AuthRequest: "req-1",
				Username:    "alice",
				Status:      model.StatusPending,
				Metadata:    map[string]any{"ip": "127.0.0.1"},
			}
			if err := s.Save(ctx, sess); err != nil {
				t.Fatalf("Save error: %v", err)
			}

			got, err := s.Get(ctx, "s1")
			if err != nil {
				t.Fatalf("Get error: %v", err)
			}
			if got.Username != "alice" || got.Status != model.StatusPending {
				t.Fatalf("unexpected session: %+v", got)
			}
			if got.ExpiresAt == nil {
				t.Fatalf("expected ttl to set expiry")
			}
			if got.Metadata["ip"] != "127.0.0.1" {
				t.Fatalf("metadata lost: %+v", got.Metadata)
			}

			byReq, err := s.FindByAuthRequest(ctx, "req-1")
			if err != nil {
				t.Fatalf("FindByAuthRequest error: %v", err)
			}
			if byReq.ID != "s1" {
				t.Fatalf("unexpected session for auth request: %+v", byReq)
			}

			got.Status = model.StatusApproved
			got.UserHash = "hash-a"
			if err := s.Save(ctx, got); err != nil {
				t.Fatalf("Save update error: %v", err)
			}

			matches, err := s.FindByUserHash(ctx, "hash-a")
			if err != nil {
				t.Fatalf("FindByUserHash error: %v", err)
			}
			if len(matches) != 1 || matches[0].Status != model.StatusApproved {
				t.Fatalf("unexpected user hash matches: %+v", matches)
			}

			ids, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List error: %v", err)
			}
			if len(ids) != 1 || ids[0] != "s1" {
				t.Fatalf("unexpected list: %v", ids)
			}

			stats, err := s.Stats(ctx)
			if err != nil {
				t.Fatalf("Stats error: %v", err)
			}
			if stats["type"] != name {
				t.Fatalf("unexpected stats type: %v", stats["type"])
			}

			if err := s.Remove(ctx, "s1"); err != nil {
				t.Fatalf("Remove error: %v", err)
			}
			if _, err := s.Get(ctx, "s1"); !errors.Is(err, model.ErrNotFound) {
				t.Fatalf("expected ErrNotFound after removal, got %v", err)
			}
			if _, err := s.FindByAuthRequest(ctx, "req-1"); !errors.Is(err, model.ErrNotFound) {
				t.Fatalf("expected auth request index cleared, got %v", err)
			}
			matches, err = s.FindByUserHash(ctx, "hash-a")
			if err != nil {
				t.Fatalf("FindByUserHash error: %v", err)
			}
			if len(matches) != 0 {
				t.Fatalf("expected no sessions for user hash, got %+v", matches)
			}
		})
	}
}

func TestStoreFindByUserHashReturnsEverySession(t *testing.T) {
	for name, build := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := build(t)
			t.Cleanup(func() { _ = s.Close(ctx) })

			for i, hash := range []string{"h1", "h1", "h2"} {
				err := s.Save(ctx, model.Session{
					ID:          fmt.Sprintf("s%d", i),
					AuthRequest: fmt.Sprintf("r%d", i),
					Username:    "bob",
					UserHash:    hash,
					Status:      model.StatusApproved,
				})
				if err != nil {
					t.Fatalf("Save error: %v", err)
				}
			}

			matches, err := s.FindByUserHash(ctx, "h1")
			if err != nil {
				t.Fatalf("FindByUserHash error: %v", err)
			}
			ids := make([]string, 0, len(matches))
			for _, m := range matches {
				ids = append(ids, m.ID)
			}
			sort.Strings(ids)
			if len(ids) != 2 || ids[0] != "s0" || ids[1] != "s1" {
				t.Fatalf("unexpected matches: %v", ids)
			}
		})
	}
}

func TestStoreHidesExpiredSessions(t *testing.T) {
	for _, name := range []string{DriverMemory, DriverSQLite} {
		build := drivers(t)[name]
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := build(t)
			t.Cleanup(func() { _ = s.Close(ctx) })

			past := time.Now().Add(-time.Minute)
			err := s.Save(ctx, model.Session{
				ID:          "old",
				AuthRequest: "r-old",
				Username:    "carol",
				Status:      model.StatusApproved,
				CreatedAt:   past.Add(-time.Hour),
				ExpiresAt:   &past,
			})
			if err != nil {
				t.Fatalf("Save error: %v", err)
			}

			if _, err := s.Get(ctx, "old"); !errors.Is(err, model.ErrNotFound) {
				t.Fatalf("expected expired session hidden, got %v", err)
			}
			if err := s.CleanupExpired(ctx); err != nil {
				t.Fatalf("CleanupExpired error: %v", err)
			}
			ids, err := s.List(ctx)
			if err != nil {
				t.Fatalf("List error: %v", err)
			}
			if len(ids) != 0 {
				t.Fatalf("expected empty list, got %v", ids)
			}
		})
	}
}

func TestRedisStoreDropsAlreadyExpired(t *testing.T) {
	ctx := context.Background()
	s := newRedisStore(t)
	t.Cleanup(func() { _ = s.Close(ctx) })

	past := time.Now().Add(-time.Minute)
	if err := s.Save(ctx, model.Session{ID: "old", AuthRequest: "r", ExpiresAt: &past}); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if _, err := s.Get(ctx, "old"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected missing session, got %v", err)
	}
}

func TestFactoryRejectsBadConfig(t *testing.T) {
	if _, err := New(Config{Driver: DriverSQLite}, Dependencies{}); err == nil {
		t.Fatalf("expected error without sqlite handle")
	}
	if _, err := New(Config{Driver: DriverRedis}, Dependencies{}); err == nil {
		t.Fatalf("expected error without redis config")
	}
	if _, err := New(Config{Driver: "etcd"}, Dependencies{}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}

	s, err := New(Config{}, Dependencies{})
	if err != nil {
		t.Fatalf("default driver: %v", err)
	}
	_ = s.Close(context.Background())
}

func TestMemoryStoreSaveRequiresID(t *testing.T) {
	s := NewMemory(Config{})
	defer s.Close(context.Background())
	if err := s.Save(context.Background(), model.Session{}); err == nil {
		t.Fatalf("expected error for empty id")
	}
}
