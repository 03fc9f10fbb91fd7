package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"launchkey-go/internal/platform/errors"
	"launchkey-go/internal/platform/storage/migrations"
)

// DefaultDSN is used when no DSN is configured.
const DefaultDSN = "data/launchkey.db"

// Open opens the SQLite database at dsn, creating its directory when dsn is a
// file path, and applies pending migrations.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(errors.KindStorage, "storage.open", "create data directory", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.open", fmt.Sprintf("open database %s", dsn), err)
	}

	if _, err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate applies pending schema migrations and returns their versions.
func Migrate(db *gorm.DB) ([]string, error) {
	return NewMigrator(db, &migrations.Migration001Initial{}).Apply()
}

// Close releases the underlying sql.DB.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SessionRecord is the persisted form of a login session.
type SessionRecord struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)"`
	AuthRequest string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	Username    string    `gorm:"index;not null"`
	UserHash    string    `gorm:"index"`
	Status      string    `gorm:"type:varchar(16);not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time
	ExpiresAt   *time.Time `gorm:"index"`
	Metadata    datatypes.JSON
}

func (SessionRecord) TableName() string {
	return "sessions"
}

// DomainEvent is the audit trail row written for every published event.
type DomainEvent struct {
	ID        uint           `gorm:"primaryKey"`
	EventType string         `gorm:"index;not null"`
	SessionID string         `gorm:"index"`
	UserID    string         `gorm:"index"`
	Data      datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"index"`
}
