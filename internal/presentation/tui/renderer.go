package tui

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/charmbracelet/glamour"
)

// NewRenderer returns a function that renders markdown using glamour.
func NewRenderer() func(string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
	)
	if err != nil {
		return func(markdown string) (string, error) { return markdown, nil }
	}

	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}

// Markdown converts a screen into markdown. Strings are used as-is, recovery
// screens become a warning block and anything else is shown as JSON.
func Markdown(deviceID string, screen domain.Screen) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "### %s\n\n", deviceID)

	switch s := screen.(type) {
	case nil:
		sb.WriteString("_(no screen)_\n")
	case string:
		sb.WriteString(s)
		sb.WriteString("\n")
	case fmt.Stringer:
		sb.WriteString(s.String())
		sb.WriteString("\n")
	case domain.RecoveryScreen:
		fmt.Fprintf(&sb, "> **%s** could not handle `%s`\n>\n> %s\n", s.State, s.Action, s.Message)
		var rejected *domain.ActionRejectedError
		if errors.As(s.Err, &rejected) {
			fmt.Fprintf(&sb, "\nAccepted now: `%s`\n", strings.Join(rejected.Accepts, "`, `"))
		}
	default:
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			fmt.Fprintf(&sb, "%v\n", s)
			break
		}
		fmt.Fprintf(&sb, "```json\n%s\n```\n", data)
	}
	return sb.String()
}
