package storage

import (
	"fmt"
	"slices"
	"time"

	"gorm.io/gorm"

	"launchkey-go/internal/platform/errors"
)

// Migration is one forward-only schema change.
type Migration interface {
	Version() string
	Description() string
	Up(tx *gorm.DB) error
}

// MigrationRecord marks a migration as applied.
type MigrationRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Version   string    `gorm:"uniqueIndex;not null"`
	Name      string    `gorm:"not null"`
	AppliedAt time.Time `gorm:"not null"`
}

// Migrator applies migrations in registration order. A migration and its
// record commit in the same transaction.
type Migrator struct {
	db    *gorm.DB
	steps []Migration
}

func NewMigrator(db *gorm.DB, steps ...Migration) *Migrator {
	return &Migrator{db: db, steps: steps}
}

// Apply runs every migration without a record and returns the versions it
// applied. It stops at the first failure.
func (m *Migrator) Apply() ([]string, error) {
	if err := m.db.AutoMigrate(&MigrationRecord{}); err != nil {
		return nil, errors.Wrap(errors.KindStorage, "migration.init", "failed to create migration table", err)
	}

	var done []string
	if err := m.db.Model(&MigrationRecord{}).Pluck("version", &done).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "migration.init", "failed to read applied migrations", err)
	}

	var applied []string
	for _, step := range m.steps {
		if slices.Contains(done, step.Version()) {
			continue
		}
		err := m.db.Transaction(func(tx *gorm.DB) error {
			if err := step.Up(tx); err != nil {
				return err
			}
			return tx.Create(&MigrationRecord{
				Version:   step.Version(),
				Name:      step.Description(),
				AppliedAt: time.Now(),
			}).Error
		})
		if err != nil {
			return applied, errors.Wrap(errors.KindStorage, "migration.apply", fmt.Sprintf("migration %s failed", step.Version()), err)
		}
		applied = append(applied, step.Version())
	}
	return applied, nil
}

// SchemaVersion returns the most recently applied migration, or "" when none
// has run.
func SchemaVersion(db *gorm.DB) (string, error) {
	if !db.Migrator().HasTable(&MigrationRecord{}) {
		return "", nil
	}
	var records []MigrationRecord
	if err := db.Order("id DESC").Limit(1).Find(&records).Error; err != nil {
		return "", errors.Wrap(errors.KindStorage, "migration.version", "failed to read schema version", err)
	}
	if len(records) == 0 {
		return "", nil
	}
	return records[0].Version, nil
}
