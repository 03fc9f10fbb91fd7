package store

import (
	"context"
	"time"

	"launchkey-go/internal/domain/session/model"
)

// Store persists sessions. Implementations return model.ErrNotFound for
// missing or expired sessions.
type Store interface {
	// Save inserts or replaces the session with the same ID.
	Save(ctx context.Context, s model.Session) error
	Get(ctx context.Context, id string) (model.Session, error)
	FindByAuthRequest(ctx context.Context, authRequest string) (model.Session, error)
	FindByUserHash(ctx context.Context, userHash string) ([]model.Session, error)
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
	CleanupExpired(ctx context.Context) error
	Stats(ctx context.Context) (map[string]any, error)
	Close(ctx context.Context) error
}

// Config describes the high level store selection parameters.
type Config struct {
	Driver string
	TTL    time.Duration
	Redis  *RedisConfig
	Memory *MemoryConfig
}

// MemoryConfig holds in-memory tuning knobs.
type MemoryConfig struct {
	GCInterval time.Duration
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}
