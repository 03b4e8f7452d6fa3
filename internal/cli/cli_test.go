package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/tillflow/internal/logging"
	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const laneFlow = `
flows:
  Main:
    - state: Idle
      screen: "Hello ${cashier}"
      on:
        Scan: Basket
    - state: Basket
      screen: "Basket"
`

func writeFlow(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lane.yaml")
	require.NoError(t, os.WriteFile(path, []byte(laneFlow), 0o600))
	return path
}

func TestExecute_Headless(t *testing.T) {
	var out bytes.Buffer
	err := Execute(context.Background(), RunOptions{
		FlowFile: writeFlow(t),
		Headless: true,
		Seed:     `{"cashier": "Ana"}`,
	}, strings.NewReader("Scan 123\n"), &out)
	require.NoError(t, err)
	assert.Equal(t, "Hello Ana\nBasket\n", out.String())
}

func TestExecute_JSON(t *testing.T) {
	var out bytes.Buffer
	err := Execute(context.Background(), RunOptions{
		FlowFile: writeFlow(t),
		DeviceID: "lane-1",
		JSON:     true,
	}, strings.NewReader("Pay\n"), &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "lane-1", first["device_id"])

	var recovery struct {
		Screen map[string]any `json:"screen"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &recovery))
	assert.Equal(t, true, recovery.Screen["recovery"])
	assert.Equal(t, "Pay", recovery.Screen["action"])
}

func TestExecute_InvalidSeed(t *testing.T) {
	err := Execute(context.Background(), RunOptions{FlowFile: writeFlow(t), Seed: "{"}, strings.NewReader(""), io.Discard)
	assert.ErrorContains(t, err, "--seed")
}

func TestExecute_MissingFlow(t *testing.T) {
	err := Execute(context.Background(), RunOptions{FlowFile: "missing.yaml", Headless: true}, strings.NewReader(""), io.Discard)
	assert.ErrorContains(t, err, "error initializing engine")
}

func TestOpenSessions_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	sessions, closeFn, err := openSessions(ctx, SessionOptions{
		RedisURL: "redis://" + mr.Addr(),
		TTL:      time.Hour,
		LockTTL:  time.Second,
	}, logging.NewNop())
	require.NoError(t, err)
	defer closeFn()

	require.NoError(t, sessions.Save(ctx, "pos-1", &domain.Snapshot{DeviceID: "pos-1", Flows: []string{"Main"}}))
	snap, err := sessions.Load(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Main"}, snap.Flows)
}

func TestOpenSessions_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, _, err := openSessions(context.Background(), SessionOptions{RedisURL: "redis://" + addr}, logging.NewNop())
	assert.ErrorContains(t, err, "connect to redis")
}

func TestOpenSessions_BadURL(t *testing.T) {
	_, _, err := openSessions(context.Background(), SessionOptions{RedisURL: "http://nope"}, logging.NewNop())
	assert.ErrorContains(t, err, "invalid redis url")
}

func TestHandleExecutionError(t *testing.T) {
	assert.NoError(t, handleExecutionError(nil))
	assert.NoError(t, handleExecutionError(context.Canceled))
	assert.NoError(t, handleExecutionError(errInterrupted))
	assert.Error(t, handleExecutionError(errors.New("boom")))
}

func TestInterruptibleReader(t *testing.T) {
	cancel := make(chan struct{})
	r := NewInterruptibleReader(strings.NewReader("abc"), cancel)
	buf := make([]byte, 3)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	close(cancel)
	_, err = r.Read(buf)
	assert.ErrorIs(t, err, errInterrupted)
}

func TestExecute_SnapshotDir(t *testing.T) {
	dir := t.TempDir()
	err := Execute(context.Background(), RunOptions{
		FlowFile:    writeFlow(t),
		DeviceID:    "lane-9",
		Headless:    true,
		SnapshotDir: dir,
	}, strings.NewReader("Scan\n"), io.Discard)
	require.NoError(t, err)

	// The conversation ended, so its snapshot is gone again.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpenSessions_MasksScope(t *testing.T) {
	ctx := context.Background()
	sessions, closeFn, err := openSessions(ctx, SessionOptions{MaskKeys: []string{"card"}}, logging.NewNop())
	require.NoError(t, err)
	defer closeFn()

	require.NoError(t, sessions.Save(ctx, "pos-1", &domain.Snapshot{Scope: map[string]any{"card": "4111", "total": 3}}))
	snap, err := sessions.Load(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, "***", snap.Scope["card"])
	assert.Equal(t, 3, snap.Scope["total"])
}

func TestOpenSessions_BadMiddleware(t *testing.T) {
	_, _, err := openSessions(context.Background(), SessionOptions{MaskKeys: []string{"("}}, logging.NewNop())
	assert.ErrorContains(t, err, "invalid mask pattern")

	_, _, err = openSessions(context.Background(), SessionOptions{EncryptionKey: []byte("short")}, logging.NewNop())
	assert.Error(t, err)
}
