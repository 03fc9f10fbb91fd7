package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"launchkey-go/internal/domain/session/model"
)

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis constructs a redis-backed session store. Sessions live under
// <prefix>:id:<id>; <prefix>:req:<auth_request> and the <prefix>:user:<hash>
// set are secondary indexes sharing the session's expiry.
func NewRedis(cfg Config) (Store, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := strings.TrimSuffix(cfg.Redis.Prefix, ":")
	if prefix == "" {
		prefix = "launchkey:session"
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisStore{
		client: client,
		ttl:    ttl,
		prefix: prefix,
	}, nil
}

func (s *redisStore) idKey(id string) string       { return s.prefix + ":id:" + id }
func (s *redisStore) requestKey(req string) string { return s.prefix + ":req:" + req }
func (s *redisStore) userKey(hash string) string   { return s.prefix + ":user:" + hash }

func (s *redisStore) Save(ctx context.Context, sess model.Session) error {
	if sess.ID == "" {
		return fmt.Errorf("session id required")
	}
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	if sess.ExpiresAt == nil {
		exp := sess.CreatedAt.Add(s.ttl)
		sess.ExpiresAt = &exp
	}
	expiry := time.Until(*sess.ExpiresAt)
	if expiry <= 0 {
		return s.Remove(ctx, sess.ID)
	}

	data, err := sonic.Marshal(sess)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.idKey(sess.ID), data, expiry)
	if sess.AuthRequest != "" {
		pipe.Set(ctx, s.requestKey(sess.AuthRequest), sess.ID, expiry)
	}
	if sess.UserHash != "" {
		pipe.SAdd(ctx, s.userKey(sess.UserHash), sess.ID)
		pipe.Expire(ctx, s.userKey(sess.UserHash), s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) Get(ctx context.Context, id string) (model.Session, error) {
	raw, err := s.client.Get(ctx, s.idKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Session{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
		}
		return model.Session{}, err
	}
	var sess model.Session
	if err := sonic.Unmarshal(raw, &sess); err != nil {
		return model.Session{}, err
	}
	if sess.Expired(time.Now()) {
		_ = s.Remove(ctx, id)
		return model.Session{}, fmt.Errorf("%w: %s expired", model.ErrNotFound, id)
	}
	return sess, nil
}

func (s *redisStore) FindByAuthRequest(ctx context.Context, authRequest string) (model.Session, error) {
	id, err := s.client.Get(ctx, s.requestKey(authRequest)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Session{}, fmt.Errorf("%w: auth request %s", model.ErrNotFound, authRequest)
		}
		return model.Session{}, err
	}
	return s.Get(ctx, id)
}

func (s *redisStore) FindByUserHash(ctx context.Context, userHash string) ([]model.Session, error) {
	ids, err := s.client.SMembers(ctx, s.userKey(userHash)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			s.client.SRem(ctx, s.userKey(userHash), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *redisStore) Remove(ctx context.Context, id string) error {
	raw, err := s.client.Get(ctx, s.idKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	var sess model.Session
	_ = sonic.Unmarshal(raw, &sess)

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.idKey(id))
	if sess.AuthRequest != "" {
		pipe.Del(ctx, s.requestKey(sess.AuthRequest))
	}
	if sess.UserHash != "" {
		pipe.SRem(ctx, s.userKey(sess.UserHash), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) List(ctx context.Context) ([]string, error) {
	var cursor uint64
	ids := make([]string, 0)
	base := s.prefix + ":id:"
	for {
		res, next, err := s.client.Scan(ctx, cursor, base+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range res {
			ids = append(ids, strings.TrimPrefix(key, base))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return ids, nil
}

func (s *redisStore) CleanupExpired(context.Context) error {
	// Redis handles expiration via TTL.
	return nil
}

func (s *redisStore) Stats(ctx context.Context) (map[string]any, error) {
	ids, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type":  "redis",
		"total": len(ids),
		"ttl":   int(s.ttl.Seconds()),
	}, nil
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}
