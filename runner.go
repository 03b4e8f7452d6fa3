package tillflow

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aretw0/tillflow/pkg/domain"
)

// Runner drives one device conversation from a line oriented input, and shows
// the device's screens on an output. It is the terminal front end of the CLI
// and a convenient harness for tests.
//
// Each input line is an action name optionally followed by a payload, which is
// decoded as JSON when possible and passed as a string otherwise. Lines that
// start with "!" broadcast an external event from the device instead:
//
//	Scan {"sku": "4006381333931"}
//	!door_opened {"aisle": 3}
//	quit
type Runner struct {
	Input    io.Reader
	Output   io.Writer
	Headless bool
	Renderer ContentRenderer

	// Format turns a screen into text before rendering. Defaults to fmt's %v.
	Format func(deviceID string, screen domain.Screen) string

	mu sync.Mutex
}

// ContentRenderer is a function that transforms the content before outputting it.
// This allows for TUI rendering (markdown to ANSI) without coupling the core package.
type ContentRenderer func(string) (string, error)

// NewRunner creates a Runner over the given IO.
func NewRunner(in io.Reader, out io.Writer) *Runner {
	return &Runner{Input: in, Output: out}
}

// Present implements ports.Presenter, so the Runner can be passed to
// WithPresenter of the engine it runs.
func (r *Runner) Present(_ context.Context, deviceID string, screen domain.Screen) error {
	text := r.format(deviceID, screen)
	if r.Renderer != nil {
		rendered, err := r.Renderer(text)
		if err == nil {
			text = rendered
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := fmt.Fprintln(r.Output, text)
	return err
}

func (r *Runner) format(deviceID string, screen domain.Screen) string {
	if r.Format != nil {
		return r.Format(deviceID, screen)
	}
	return fmt.Sprintf("%v", screen)
}

// Run begins the conversation of deviceID and feeds it input lines until the
// input ends or a quit command is read. The conversation is ended on return.
func (r *Runner) Run(ctx context.Context, engine *Engine, deviceID string, seed map[string]any) error {
	if r.Input == nil {
		return fmt.Errorf("input reader must be set (use os.Stdin)")
	}
	if r.Output == nil {
		return fmt.Errorf("output writer must be set (use os.Stdout)")
	}

	if !r.Headless {
		r.println("--- tillflow ---")
	}
	if err := engine.Begin(ctx, deviceID, seed); err != nil {
		return err
	}
	defer func() {
		if err := engine.End(context.WithoutCancel(ctx), deviceID); err != nil && !errors.Is(err, domain.ErrConversationNotFound) {
			r.println(fmt.Sprintf("end: %v", err))
		}
	}()

	scanner := bufio.NewScanner(r.Input)
	for {
		if !r.Headless {
			r.print("> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}

		if strings.HasPrefix(line, "!") {
			name, data := splitCommand(line[1:])
			event := domain.ExternalEvent{Type: name}
			if m, ok := data.(map[string]any); ok {
				event.Data = m
			}
			n, err := engine.Broadcast(ctx, deviceID, event)
			if err != nil {
				return err
			}
			if !r.Headless {
				r.println(fmt.Sprintf("(%s handled by %d)", name, n))
			}
			continue
		}

		name, payload := splitCommand(line)
		err := engine.DoAction(ctx, deviceID, name, payload)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrConversationNotFound),
			errors.Is(err, domain.ErrConversationClosed),
			errors.Is(err, context.Canceled):
			return err
		case r.Headless:
			// The error handler already presented a recovery screen.
		default:
			r.println(fmt.Sprintf("! %v", err))
		}
	}
}

func (r *Runner) print(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprint(r.Output, s)
}

func (r *Runner) println(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.Output, s)
}

// splitCommand separates the first word of a line from its argument. The
// argument is decoded as JSON when it is valid JSON.
func splitCommand(line string) (string, any) {
	name, rest, found := strings.Cut(strings.TrimSpace(line), " ")
	if !found {
		return name, nil
	}
	rest = strings.TrimSpace(rest)
	var v any
	if err := json.Unmarshal([]byte(rest), &v); err == nil {
		return name, v
	}
	return name, rest
}
