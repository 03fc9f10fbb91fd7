package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"launchkey-go/internal/domain/session/model"
	"launchkey-go/internal/platform/storage"
)

type sqliteStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewSQLite builds a SQLite-backed session store on the shared storage handle.
func NewSQLite(db *gorm.DB, cfg Config) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	return &sqliteStore{
		db:  db,
		ttl: cfg.TTL,
	}, nil
}

func (s *sqliteStore) Save(ctx context.Context, sess model.Session) error {
	if sess.ID == "" {
		return fmt.Errorf("session id required")
	}
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.ExpiresAt == nil && s.ttl > 0 {
		exp := sess.CreatedAt.Add(s.ttl)
		sess.ExpiresAt = &exp
	}
	var meta []byte
	if len(sess.Metadata) > 0 {
		meta, _ = sonic.Marshal(sess.Metadata)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", sess.ID).Delete(&storage.SessionRecord{}).Error; err != nil {
			return err
		}
		record := &storage.SessionRecord{
			ID:          sess.ID,
			AuthRequest: sess.AuthRequest,
			Username:    sess.Username,
			UserHash:    sess.UserHash,
			Status:      string(sess.Status),
			CreatedAt:   sess.CreatedAt,
			UpdatedAt:   now,
			ExpiresAt:   sess.ExpiresAt,
			Metadata:    meta,
		}
		return tx.Create(record).Error
	})
}

func (s *sqliteStore) Get(ctx context.Context, id string) (model.Session, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *sqliteStore) FindByAuthRequest(ctx context.Context, authRequest string) (model.Session, error) {
	return s.first(ctx, "auth_request = ?", authRequest)
}

func (s *sqliteStore) FindByUserHash(ctx context.Context, userHash string) ([]model.Session, error) {
	var records []storage.SessionRecord
	err := s.db.WithContext(ctx).
		Where("user_hash = ?", userHash).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.Session, 0, len(records))
	for _, rec := range records {
		out = append(out, fromRecord(rec))
	}
	return out, nil
}

func (s *sqliteStore) Remove(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&storage.SessionRecord{}).Error
}

func (s *sqliteStore) List(ctx context.Context) ([]string, error) {
	var records []storage.SessionRecord
	if err := s.db.WithContext(ctx).Select("id", "expires_at").Find(&records).Error; err != nil {
		return nil, err
	}
	now := time.Now()
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.ExpiresAt == nil || now.Before(*rec.ExpiresAt) {
			ids = append(ids, rec.ID)
		}
	}
	return ids, nil
}

func (s *sqliteStore) CleanupExpired(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", time.Now()).
		Delete(&storage.SessionRecord{}).
		Error
}

func (s *sqliteStore) Stats(ctx context.Context) (map[string]any, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&storage.SessionRecord{}).Count(&total).Error; err != nil {
		return nil, err
	}

	type statusCount struct {
		Status string
		Count  int
	}
	var rows []statusCount
	if err := s.db.WithContext(ctx).Model(&storage.SessionRecord{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	byStatus := make(map[string]int, len(rows))
	for _, row := range rows {
		byStatus[row.Status] = row.Count
	}

	return map[string]any{
		"type":      "sqlite",
		"total":     total,
		"ttl":       int(s.ttl.Seconds()),
		"by_status": byStatus,
	}, nil
}

func (s *sqliteStore) Close(context.Context) error {
	return nil
}

func (s *sqliteStore) first(ctx context.Context, query string, arg string) (model.Session, error) {
	var rec storage.SessionRecord
	err := s.db.WithContext(ctx).Where(query, arg).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Session{}, fmt.Errorf("%w: %s", model.ErrNotFound, arg)
	}
	if err != nil {
		return model.Session{}, err
	}
	sess := fromRecord(rec)
	if sess.Expired(time.Now()) {
		return model.Session{}, fmt.Errorf("%w: %s expired", model.ErrNotFound, arg)
	}
	return sess, nil
}

func fromRecord(rec storage.SessionRecord) model.Session {
	sess := model.Session{
		ID:          rec.ID,
		AuthRequest: rec.AuthRequest,
		Username:    rec.Username,
		UserHash:    rec.UserHash,
		Status:      model.Status(rec.Status),
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		ExpiresAt:   rec.ExpiresAt,
	}
	if len(rec.Metadata) > 0 {
		var meta map[string]any
		if err := sonic.Unmarshal(rec.Metadata, &meta); err == nil {
			sess.Metadata = meta
		}
	}
	return sess
}
