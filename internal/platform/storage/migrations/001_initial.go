package migrations

import (
	"gorm.io/gorm"
)

// Migration001Initial creates the session and audit tables.
type Migration001Initial struct{}

func (m *Migration001Initial) Version() string {
	return "001_initial"
}

func (m *Migration001Initial) Description() string {
	return "Create sessions and domain_events tables"
}

func (m *Migration001Initial) Up(db *gorm.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR(64) PRIMARY KEY,
			auth_request VARCHAR(255) NOT NULL UNIQUE,
			username VARCHAR(255) NOT NULL,
			user_hash VARCHAR(255),
			status VARCHAR(16) NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME,
			expires_at DATETIME,
			metadata JSON
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_username ON sessions(username)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_hash ON sessions(user_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,
		`CREATE TABLE IF NOT EXISTS domain_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type VARCHAR(255) NOT NULL,
			session_id VARCHAR(255),
			user_id VARCHAR(255),
			data JSON NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_domain_events_event_type ON domain_events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_domain_events_session_id ON domain_events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_domain_events_user_id ON domain_events(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_domain_events_created_at ON domain_events(created_at)`,
	}

	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
