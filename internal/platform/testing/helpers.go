// Package testing holds fixtures shared by package tests: throwaway SQLite
// databases, loggers writing to temp dirs and generated RSA keys.
package testing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"launchkey-go/internal/platform/config"
	"launchkey-go/internal/platform/logging"
	"launchkey-go/internal/platform/storage"
)

var dsnSeq atomic.Int64

// MemoryDSN returns a shared-cache in-memory SQLite DSN unique to this process.
func MemoryDSN(name string) string {
	return fmt.Sprintf("file:%s-%d-%d?mode=memory&cache=shared", name, time.Now().UnixNano(), dsnSeq.Add(1))
}

// OpenTestDB opens a migrated in-memory database closed at test cleanup.
func OpenTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()

	db, err := storage.Open(MemoryDSN(name))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close(db) })
	return db
}

// PrivateKeyPEM generates a 2048-bit RSA key in PKCS#1 PEM form.
func PrivateKeyPEM(t *testing.T) (string, *rsa.PrivateKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return string(pem.EncodeToMemory(block)), key
}

// SetupTestConfig returns defaults with credentials filled in and logs under
// a temp dir. The private key is left empty.
func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Server.IP = "127.0.0.1"
	cfg.Log.Level = "DEBUG"
	cfg.Log.Dir = t.TempDir()
	cfg.Log.File = "test.log"
	cfg.Log.Console = false
	cfg.LaunchKey.AppKey = "1234567890"
	cfg.LaunchKey.AppSecret = "app-secret"
	cfg.LaunchKey.Domain = "example.com"
	cfg.Session.JWTSecret = "test-secret"
	cfg.Storage.DSN = MemoryDSN("config")
	return cfg
}

// SetupTestLogger builds a file-only logger closed at test cleanup.
func SetupTestLogger(t *testing.T) *logging.Logger {
	t.Helper()

	cfg := SetupTestConfig(t)
	logger, err := logging.New(logging.Config{
		Level:    cfg.Log.Level,
		Dir:      cfg.Log.Dir,
		Filename: cfg.Log.File,
	})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

// NopLogger discards everything. It satisfies the printf-style logger
// interfaces of the domain packages.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
