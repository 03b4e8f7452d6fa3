package config

import (
	"encoding/base64"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServer_Defaults(t *testing.T) {
	cfg, err := LoadServer()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 24*time.Hour, cfg.SnapshotTTL)
	assert.True(t, cfg.Metrics)
	assert.Empty(t, cfg.RedisURL)

	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}

func TestLoadServer_Overrides(t *testing.T) {
	t.Setenv("TILLFLOW_ADDR", ":9090")
	t.Setenv("TILLFLOW_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("TILLFLOW_LOCK_TTL", "2s")
	t.Setenv("TILLFLOW_LOG_FORMAT", "json")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, 2*time.Second, cfg.LockTTL)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadServer_Errors(t *testing.T) {
	t.Setenv("TILLFLOW_LOCK_TTL", "soon")
	_, err := LoadServer()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestLoadServer_UnknownFormat(t *testing.T) {
	t.Setenv("TILLFLOW_LOG_FORMAT", "xml")
	_, err := LoadServer()
	assert.ErrorContains(t, err, "unknown log format")
}

func TestLoadServer_SnapshotDir(t *testing.T) {
	t.Setenv("TILLFLOW_SNAPSHOT_DIR", "/var/lib/tillflow")
	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/tillflow", cfg.SnapshotDir)
}

func TestServer_EncryptionKey(t *testing.T) {
	cfg := Server{}
	key, err := cfg.EncryptionKey()
	require.NoError(t, err)
	assert.Nil(t, key)

	cfg.SnapshotKey = base64.StdEncoding.EncodeToString(make([]byte, 32))
	key, err = cfg.EncryptionKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)

	cfg.SnapshotKey = base64.StdEncoding.EncodeToString([]byte("short"))
	_, err = cfg.EncryptionKey()
	assert.ErrorContains(t, err, "want 32 bytes")

	cfg.SnapshotKey = "%%%"
	_, err = cfg.EncryptionKey()
	assert.Error(t, err)
}

func TestLoadServer_SnapshotMask(t *testing.T) {
	t.Setenv("TILLFLOW_SNAPSHOT_MASK", "card_number,pan")
	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, []string{"card_number", "pan"}, cfg.SnapshotMask)
}
