package config

import "time"

// DefaultConfig returns the built-in configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:          "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"*"},
			ReadTimeout: 15 * time.Second,
		},
		Log: LogConfig{
			Level:   "INFO",
			Dir:     "data/logs",
			File:    "launchkey.log",
			Console: true,
		},
		LaunchKey: LaunchKeyConfig{
			Version:           "v1",
			EncryptionPadding: "pkcs1v15",
			Timeout:           30 * time.Second,
			PollInterval:      2 * time.Second,
			PollTimeout:       2 * time.Minute,
			RevokeWorkers:     2,
			RevokeRetries:     3,
		},
		Session: SessionConfig{
			Driver:     "memory",
			TTL:        24 * time.Hour,
			PendingTTL: 10 * time.Minute,
			Cleanup:    10 * time.Minute,
			Issuer:     "launchkey-go",
			Redis: RedisConfig{
				Addr:   "127.0.0.1:6379",
				Prefix: "launchkey:session",
			},
		},
		Storage: StorageConfig{
			DSN:            "data/launchkey.db",
			Audit:          true,
			AuditRetention: 30 * 24 * time.Hour,
		},
	}
}
