package tillflow_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aretw0/tillflow"
	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/aretw0/tillflow/pkg/dsl"
	"github.com/aretw0/tillflow/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checkoutYAML = `
entry: Main
flows:
  Main:
    - state: Home
      screen: "Welcome ${cashier}"
      on:
        Next: Checkout
    - state: Checkout
      on:
        Pay:
          subflow: Payment
          returns:
            Paid: Done
    - ref: Done
    - state: Global
      on:
        Cancel: Home
  Payment:
    - state: Card
      screen: "Insert card"
screens:
  Done: "Thank you"
`

type lastScreen struct {
	mu     sync.Mutex
	screen domain.Screen
}

func (l *lastScreen) Present(_ context.Context, _ string, screen domain.Screen) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.screen = screen
	return nil
}

func (l *lastScreen) get() domain.Screen {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.screen
}

func writeFlow(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(checkoutYAML), 0o600))
	return path
}

func TestNew_FromBuilder(t *testing.T) {
	ctx := context.Background()
	b := dsl.New()
	b.Flow("Main").State("Home").On("Next", "Done")

	reg := registry.New()
	for _, id := range []string{"Home", "Done"} {
		id := id
		require.NoError(t, reg.RegisterFunc(id, func(context.Context, domain.Conversation, domain.Action) (domain.Screen, error) {
			return id, nil
		}))
	}

	out := &lastScreen{}
	eng, err := tillflow.New(b.Source(), "Main", reg, tillflow.WithPresenter(out))
	require.NoError(t, err)
	defer eng.Close(ctx)

	assert.Equal(t, "Main", eng.Name)
	require.NoError(t, eng.Begin(ctx, "pos-1", nil))
	require.NoError(t, eng.DoAction(ctx, "pos-1", "Next", nil))
	assert.Equal(t, "Done", out.get())

	snap, err := eng.Snapshot(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, "Done", snap.State)
	assert.Equal(t, []string{"pos-1"}, eng.Devices())
}

func TestNew_ConfigurationError(t *testing.T) {
	b := dsl.New()
	b.Flow("Main").State("Home").On("Next", "Nowhere")

	_, err := tillflow.New(b.Source(), "Main", registry.New())
	require.Error(t, err)
	var cfgErr *domain.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestNewFromFile(t *testing.T) {
	ctx := context.Background()
	out := &lastScreen{}
	eng, err := tillflow.NewFromFile(writeFlow(t), tillflow.WithPresenter(out))
	require.NoError(t, err)
	defer eng.Close(ctx)

	require.NoError(t, eng.Begin(ctx, "pos-1", map[string]any{"cashier": "Ana"}))
	assert.Equal(t, "Welcome Ana", out.get())

	require.NoError(t, eng.DoAction(ctx, "pos-1", "Next", nil))
	require.NoError(t, eng.DoAction(ctx, "pos-1", "Pay", nil))
	assert.Equal(t, "Insert card", out.get())

	snap, err := eng.Snapshot(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Main", "Payment"}, snap.Flows)

	require.NoError(t, eng.DoAction(ctx, "pos-1", "Paid", nil))
	assert.Equal(t, "Thank you", out.get())

	mermaid, err := eng.Inspect(ctx, "pos-1")
	require.NoError(t, err)
	assert.Contains(t, mermaid, "graph TD")
	assert.Contains(t, mermaid, "Main_Done")
}

func TestNewFromFile_Missing(t *testing.T) {
	_, err := tillflow.NewFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestRunner(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	runner := tillflow.NewRunner(strings.NewReader("Next\nPay\nPaid\nquit\nNext\n"), &out)
	runner.Headless = true

	eng, err := tillflow.NewFromFile(writeFlow(t), tillflow.WithPresenter(runner))
	require.NoError(t, err)
	defer eng.Close(ctx)

	require.NoError(t, runner.Run(ctx, eng, "pos-1", map[string]any{"cashier": "Bo"}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, []string{"Welcome Bo", "Checkout", "Insert card", "Thank you"}, lines)
	assert.Empty(t, eng.Devices())
}

func TestRunner_UnhandledAction(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	runner := tillflow.NewRunner(strings.NewReader("Dance\n"), &out)
	runner.Format = func(_ string, screen domain.Screen) string {
		if rec, ok := screen.(domain.RecoveryScreen); ok {
			return "recovery: " + rec.Action
		}
		return "screen"
	}

	eng, err := tillflow.NewFromFile(writeFlow(t), tillflow.WithPresenter(runner))
	require.NoError(t, err)
	defer eng.Close(ctx)

	require.NoError(t, runner.Run(ctx, eng, "pos-1", nil))
	assert.Contains(t, out.String(), "recovery: Dance")
	assert.Contains(t, out.String(), "! ")
}
