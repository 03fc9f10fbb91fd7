package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"launchkey-go/internal/domain/session/model"
)

type memoryStore struct {
	items       map[string]model.Session
	byRequest   map[string]string
	mutex       sync.RWMutex
	ttl         time.Duration
	cleanupFreq time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewMemory builds an in-memory session store.
func NewMemory(cfg Config) Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	cleanup := 5 * time.Minute
	if cfg.Memory != nil && cfg.Memory.GCInterval > 0 {
		cleanup = cfg.Memory.GCInterval
	}
	s := &memoryStore{
		items:       make(map[string]model.Session),
		byRequest:   make(map[string]string),
		ttl:         ttl,
		cleanupFreq: cleanup,
		stop:        make(chan struct{}),
	}
	go s.gcLoop()
	return s
}

func (s *memoryStore) gcLoop() {
	ticker := time.NewTicker(s.cleanupFreq)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = s.CleanupExpired(context.Background())
		case <-s.stop:
			return
		}
	}
}

func (s *memoryStore) Save(_ context.Context, sess model.Session) error {
	if sess.ID == "" {
		return fmt.Errorf("session id required")
	}
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	if sess.ExpiresAt == nil && s.ttl > 0 {
		exp := sess.CreatedAt.Add(s.ttl)
		sess.ExpiresAt = &exp
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if prev, ok := s.items[sess.ID]; ok && prev.AuthRequest != sess.AuthRequest {
		delete(s.byRequest, prev.AuthRequest)
	}
	s.items[sess.ID] = sess
	if sess.AuthRequest != "" {
		s.byRequest[sess.AuthRequest] = sess.ID
	}
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (model.Session, error) {
	s.mutex.RLock()
	sess, ok := s.items[id]
	s.mutex.RUnlock()
	if !ok || sess.Expired(time.Now()) {
		return model.Session{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return sess, nil
}

func (s *memoryStore) FindByAuthRequest(ctx context.Context, authRequest string) (model.Session, error) {
	s.mutex.RLock()
	id, ok := s.byRequest[authRequest]
	s.mutex.RUnlock()
	if !ok {
		return model.Session{}, fmt.Errorf("%w: auth request %s", model.ErrNotFound, authRequest)
	}
	return s.Get(ctx, id)
}

func (s *memoryStore) FindByUserHash(_ context.Context, userHash string) ([]model.Session, error) {
	now := time.Now()
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var out []model.Session
	for _, sess := range s.items {
		if sess.UserHash == userHash && !sess.Expired(now) {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *memoryStore) Remove(_ context.Context, id string) error {
	s.mutex.Lock()
	if sess, ok := s.items[id]; ok {
		delete(s.byRequest, sess.AuthRequest)
	}
	delete(s.items, id)
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) List(_ context.Context) ([]string, error) {
	now := time.Now()
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ids := make([]string, 0, len(s.items))
	for id, sess := range s.items {
		if !sess.Expired(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memoryStore) CleanupExpired(_ context.Context) error {
	now := time.Now()
	s.mutex.Lock()
	for id, sess := range s.items {
		if sess.Expired(now) {
			delete(s.byRequest, sess.AuthRequest)
			delete(s.items, id)
		}
	}
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Stats(_ context.Context) (map[string]any, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	byStatus := map[string]int{}
	for _, sess := range s.items {
		byStatus[string(sess.Status)]++
	}
	return map[string]any{
		"type":      "memory",
		"total":     len(s.items),
		"ttl":       int(s.ttl.Seconds()),
		"by_status": byStatus,
	}, nil
}

func (s *memoryStore) Close(context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}
