package infrastructure

import (
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"launchkey-go/internal/domain/eventbus/repository"
	"launchkey-go/internal/platform/errors"
	"launchkey-go/internal/platform/storage"
)

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository returns a gorm-backed EventRepository over the
// domain_events table.
func NewEventRepository(db *gorm.DB) repository.EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Store(ctx context.Context, event repository.Event) error {
	data, err := sonic.Marshal(event.Data)
	if err != nil {
		return errors.Wrap(errors.KindStorage, "audit.store", "failed to encode event data", err)
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	row := &storage.DomainEvent{
		EventType: event.EventType,
		SessionID: event.SessionID,
		UserID:    event.UserID,
		Data:      data,
		CreatedAt: createdAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "audit.store", "failed to store event", err)
	}
	return nil
}

func (r *eventRepository) Find(ctx context.Context, q repository.Query) ([]repository.Event, error) {
	query := r.db.WithContext(ctx).Model(&storage.DomainEvent{})

	if q.Scoped() {
		sessions, users := nonEmpty(q.SessionIDs), nonEmpty(q.UserIDs)
		switch {
		case len(sessions) == 0 && len(users) == 0:
			return []repository.Event{}, nil
		case len(users) == 0:
			query = query.Where("session_id IN ?", sessions)
		case len(sessions) == 0:
			query = query.Where("user_id IN ?", users)
		default:
			query = query.Where(r.db.Where("session_id IN ?", sessions).Or("user_id IN ?", users))
		}
	}
	if q.EventType != "" {
		query = query.Where("event_type = ?", q.EventType)
	}
	if !q.From.IsZero() {
		query = query.Where("created_at >= ?", q.From.UTC())
	}
	if !q.To.IsZero() {
		query = query.Where("created_at <= ?", q.To.UTC())
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var rows []storage.DomainEvent
	if err := query.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "audit.find", "failed to query events", err)
	}
	return toEvents(rows)
}

func (r *eventRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Delete(&storage.DomainEvent{})
	if res.Error != nil {
		return 0, errors.Wrap(errors.KindStorage, "audit.prune", "failed to delete old events", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *eventRepository) CountByType(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		EventType string
		Count     int64
	}
	if err := r.db.WithContext(ctx).
		Model(&storage.DomainEvent{}).
		Select("event_type, count(*) AS count").
		Group("event_type").
		Scan(&rows).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "audit.count", "failed to count events", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.EventType] = row.Count
	}
	return counts, nil
}

func nonEmpty(ids []string) []string {
	return slices.DeleteFunc(slices.Clone(ids), func(id string) bool { return id == "" })
}

func toEvents(rows []storage.DomainEvent) ([]repository.Event, error) {
	events := make([]repository.Event, len(rows))
	for i, row := range rows {
		var data interface{}
		if len(row.Data) > 0 {
			if err := sonic.Unmarshal(row.Data, &data); err != nil {
				return nil, errors.Wrap(errors.KindStorage, "audit.find", "failed to decode event data", err)
			}
		}
		events[i] = repository.Event{
			ID:        strconv.FormatUint(uint64(row.ID), 10),
			EventType: row.EventType,
			SessionID: row.SessionID,
			UserID:    row.UserID,
			Data:      data,
			CreatedAt: row.CreatedAt,
		}
	}
	return events, nil
}
