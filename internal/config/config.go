// Package config loads server settings from the environment.
package config

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/tillflow/internal/logging"
	"github.com/caarlos0/env/v11"
)

// Server holds the settings of `tillflow serve`.
type Server struct {
	Addr      string `env:"TILLFLOW_ADDR" envDefault:":8080"`
	FlowFile  string `env:"TILLFLOW_FLOW"`
	LogLevel  string `env:"TILLFLOW_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"TILLFLOW_LOG_FORMAT" envDefault:"text"`

	// RedisURL enables snapshot persistence and distributed locks when set.
	RedisURL    string        `env:"TILLFLOW_REDIS_URL"`
	SnapshotTTL time.Duration `env:"TILLFLOW_SNAPSHOT_TTL" envDefault:"24h"`
	LockTTL     time.Duration `env:"TILLFLOW_LOCK_TTL" envDefault:"5s"`

	// SnapshotDir keeps snapshots as JSON files when Redis is not configured.
	SnapshotDir string `env:"TILLFLOW_SNAPSHOT_DIR"`

	// SnapshotMask lists patterns of scope keys masked in snapshots.
	SnapshotMask []string `env:"TILLFLOW_SNAPSHOT_MASK" envSeparator:","`
	// SnapshotKey is a base64 AES-256 key encrypting snapshot scopes.
	SnapshotKey string `env:"TILLFLOW_SNAPSHOT_KEY"`

	Metrics         bool          `env:"TILLFLOW_METRICS" envDefault:"true"`
	ShutdownTimeout time.Duration `env:"TILLFLOW_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadServer parses the server settings.
func LoadServer() (Server, error) {
	var cfg Server
	if err := ParseEnv(&cfg); err != nil {
		return Server{}, err
	}
	if cfg.LogFormat != string(logging.FormatText) && cfg.LogFormat != string(logging.FormatJSON) {
		return Server{}, fmt.Errorf("parse env: unknown log format %q", cfg.LogFormat)
	}
	return cfg, nil
}

// EncryptionKey decodes SnapshotKey. It returns nil when no key is set.
func (s Server) EncryptionKey() ([]byte, error) {
	if s.SnapshotKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(s.SnapshotKey)
	if err != nil {
		return nil, fmt.Errorf("snapshot key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("snapshot key: want 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Level returns the configured log level.
func (s Server) Level() (slog.Level, error) {
	return logging.ParseLevel(s.LogLevel)
}
