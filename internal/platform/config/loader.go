package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	platformerrors "launchkey-go/internal/platform/errors"
)

// DefaultPaths are searched in order when no explicit path is given.
var DefaultPaths = []string{"config.yaml", ".config.yaml"}

// Loader reads config.yaml, applies .env and LAUNCHKEY_* overrides and validates.
type Loader struct {
	useDotEnv bool
	path      string
}

func NewLoader() *Loader {
	return &Loader{useDotEnv: true}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath pins the config file location.
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// Result captures the loaded configuration and its origin path. Path is empty
// when only defaults and environment were used.
type Result struct {
	Config *Config
	Path   string
}

func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// a missing .env is normal; system environment still applies
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	path, err := l.resolvePath()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindConfig, "load", "read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindConfig, "load", "parse config file "+path, err)
		}
	}

	applyEnv(cfg)

	if err := resolvePrivateKey(&cfg.LaunchKey); err != nil {
		return nil, err
	}
	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: path}, nil
}

func (l *Loader) resolvePath() (string, error) {
	if l.path != "" {
		if _, err := os.Stat(l.path); err != nil {
			return "", platformerrors.Wrap(platformerrors.KindConfig, "load", "config file not found", err)
		}
		return l.path, nil
	}
	if p := os.Getenv("LAUNCHKEY_CONFIG"); p != "" {
		return p, nil
	}
	for _, candidate := range DefaultPaths {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	setString("LAUNCHKEY_APP_KEY", &cfg.LaunchKey.AppKey)
	setString("LAUNCHKEY_APP_SECRET", &cfg.LaunchKey.AppSecret)
	setString("LAUNCHKEY_PRIVATE_KEY", &cfg.LaunchKey.PrivateKey)
	setString("LAUNCHKEY_PRIVATE_KEY_FILE", &cfg.LaunchKey.PrivateKeyFile)
	setString("LAUNCHKEY_DOMAIN", &cfg.LaunchKey.Domain)
	setString("LAUNCHKEY_VERSION", &cfg.LaunchKey.Version)
	setString("LAUNCHKEY_BASE_URL", &cfg.LaunchKey.BaseURL)
	setString("LAUNCHKEY_JWT_SECRET", &cfg.Session.JWTSecret)
	setString("LAUNCHKEY_SESSION_DRIVER", &cfg.Session.Driver)
	setString("LAUNCHKEY_REDIS_ADDR", &cfg.Session.Redis.Addr)
	setString("LAUNCHKEY_STORAGE_DSN", &cfg.Storage.DSN)
	setString("LAUNCHKEY_LOG_LEVEL", &cfg.Log.Level)

	if v := os.Getenv("LAUNCHKEY_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LaunchKey.Debug = b
		}
	}
	if v := os.Getenv("LAUNCHKEY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

// resolvePrivateKey reads PrivateKeyFile when no inline PEM was configured.
func resolvePrivateKey(lk *LaunchKeyConfig) error {
	if strings.TrimSpace(lk.PrivateKey) != "" || lk.PrivateKeyFile == "" {
		return nil
	}
	data, err := os.ReadFile(lk.PrivateKeyFile)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "load", "read private key file", err)
	}
	lk.PrivateKey = string(data)
	return nil
}

// Validate checks ports and required credentials.
func Validate(cfg *Config) error {
	return NewLoader().validate(cfg)
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return platformerrors.New(platformerrors.KindConfig, "validate",
			fmt.Sprintf("invalid server port: %d", cfg.Server.Port))
	}

	lk := cfg.LaunchKey
	switch {
	case lk.AppKey == "":
		return platformerrors.New(platformerrors.KindConfig, "validate", "launchkey.app_key is required")
	case lk.AppSecret == "":
		return platformerrors.New(platformerrors.KindConfig, "validate", "launchkey.app_secret is required")
	case strings.TrimSpace(lk.PrivateKey) == "":
		return platformerrors.New(platformerrors.KindConfig, "validate", "launchkey.private_key or private_key_file is required")
	}

	switch strings.ToLower(lk.EncryptionPadding) {
	case "", "pkcs1v15", "oaep":
	default:
		return platformerrors.New(platformerrors.KindConfig, "validate",
			"unsupported encryption_padding: "+lk.EncryptionPadding)
	}

	switch strings.ToLower(cfg.Session.Driver) {
	case "", "memory", "sqlite", "redis":
	default:
		return platformerrors.New(platformerrors.KindConfig, "validate",
			"unsupported session driver: "+cfg.Session.Driver)
	}

	if cfg.Session.JWTSecret == "" {
		return platformerrors.New(platformerrors.KindConfig, "validate", "session.jwt_secret is required")
	}
	return nil
}
