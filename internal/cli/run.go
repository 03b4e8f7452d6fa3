package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aretw0/tillflow"
	"github.com/aretw0/tillflow/internal/presentation/tui"
	"github.com/aretw0/tillflow/pkg/domain"
)

// RunOptions contains all the configuration for the Run command.
type RunOptions struct {
	FlowFile string
	DeviceID string
	Headless bool
	JSON     bool
	Debug    bool
	Seed     string // Raw JSON object copied into the device scope
	RedisURL string

	// SnapshotDir keeps conversation snapshots as JSON files.
	SnapshotDir string
}

// Execute drives one interactive conversation from in, showing screens on out.
func Execute(ctx context.Context, opts RunOptions, in io.Reader, out io.Writer) error {
	var seed map[string]any
	if opts.Seed != "" {
		if err := json.Unmarshal([]byte(opts.Seed), &seed); err != nil {
			return fmt.Errorf("error parsing --seed JSON: %w", err)
		}
	}
	if opts.DeviceID == "" {
		opts.DeviceID = "terminal"
	}

	logger := createLogger(opts.Debug)
	runner := newRunner(opts, in, out)

	extra := []tillflow.Option{tillflow.WithPresenter(runner)}
	if opts.RedisURL != "" || opts.SnapshotDir != "" {
		sessions, closeSessions, err := openSessions(ctx, SessionOptions{RedisURL: opts.RedisURL, Dir: opts.SnapshotDir}, logger)
		if err != nil {
			return err
		}
		defer closeSessions()
		extra = append(extra, tillflow.WithSessions(sessions))
	}

	engine, err := createEngine(opts.FlowFile, opts.Debug, logger, nil, extra...)
	if err != nil {
		return err
	}
	defer engine.Close(context.WithoutCancel(ctx))

	if !runner.Headless {
		printSystemMessage(out, "Device '%s' on flow '%s'. Type 'quit' to leave.", opts.DeviceID, engine.Name)
	}
	return handleExecutionError(runner.Run(ctx, engine, opts.DeviceID, seed))
}

// newRunner picks the screen format: JSON lines, plain text or rendered markdown.
func newRunner(opts RunOptions, in io.Reader, out io.Writer) *tillflow.Runner {
	runner := tillflow.NewRunner(in, out)
	switch {
	case opts.JSON:
		runner.Headless = true
		runner.Format = jsonScreen
	case opts.Headless:
		runner.Headless = true
	default:
		runner.Format = tui.Markdown
		runner.Renderer = tillflow.ContentRenderer(tui.NewRenderer())
	}
	return runner
}

func jsonScreen(deviceID string, screen domain.Screen) string {
	if rec, ok := screen.(domain.RecoveryScreen); ok {
		screen = map[string]any{
			"recovery": true,
			"state":    rec.State,
			"action":   rec.Action,
			"message":  rec.Message,
		}
	}
	data, err := json.Marshal(map[string]any{"device_id": deviceID, "screen": screen})
	if err != nil {
		return fmt.Sprintf(`{"device_id":%q,"error":%q}`, deviceID, err.Error())
	}
	return string(data)
}
