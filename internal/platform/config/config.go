package config

import (
	"time"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Observability ObservabilityConfig `yaml:"observability"`
	LaunchKey     LaunchKeyConfig     `yaml:"launchkey"`
	Session       SessionConfig       `yaml:"session"`
	Storage       StorageConfig       `yaml:"storage"`
}

type ServerConfig struct {
	IP          string        `yaml:"ip"`
	Port        int           `yaml:"port"`
	CORSOrigins []string      `yaml:"cors_origins"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

type LogConfig struct {
	Level   string `yaml:"log_level"`
	Dir     string `yaml:"log_dir"`
	File    string `yaml:"log_file"`
	Console bool   `yaml:"console"`
}

type ObservabilityConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LaunchKeyConfig holds application credentials and API client settings.
type LaunchKeyConfig struct {
	AppKey         string `yaml:"app_key"`
	AppSecret      string `yaml:"app_secret"`
	PrivateKey     string `yaml:"private_key,omitempty"`
	PrivateKeyFile string `yaml:"private_key_file,omitempty"`
	Domain         string `yaml:"domain"`
	Version        string `yaml:"version"`
	// BaseURL overrides https://api.launchkey.com/{version}/ when set.
	BaseURL string `yaml:"base_url,omitempty"`
	Debug   bool   `yaml:"debug"`
	// EncryptionPadding is "pkcs1v15" (default) or "oaep".
	EncryptionPadding string        `yaml:"encryption_padding"`
	Timeout           time.Duration `yaml:"timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	PollTimeout       time.Duration `yaml:"poll_timeout"`

	// Logout Revoke notifications are retried in the background when
	// RevokeWorkers > 0.
	RevokeWorkers int `yaml:"revoke_workers"`
	RevokeRetries int `yaml:"revoke_retries"`
}

// SessionConfig selects the session store driver and token settings.
type SessionConfig struct {
	Driver     string        `yaml:"driver"` // memory/sqlite/redis
	TTL        time.Duration `yaml:"ttl"`
	PendingTTL time.Duration `yaml:"pending_ttl"`
	Cleanup    time.Duration `yaml:"cleanup"`
	JWTSecret  string        `yaml:"jwt_secret"`
	Issuer     string        `yaml:"issuer"`
	Redis      RedisConfig   `yaml:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// StorageConfig points at the SQLite database shared by the sqlite session
// driver and the audit trail.
type StorageConfig struct {
	DSN            string        `yaml:"dsn"`
	Audit          bool          `yaml:"audit"`
	AuditRetention time.Duration `yaml:"audit_retention"`
}
