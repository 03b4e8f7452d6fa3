package tui

import (
	"bytes"
	"errors"
	"testing"

	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestMarkdown(t *testing.T) {
	assert.Contains(t, Markdown("pos-1", "Checkout"), "### pos-1\n\nCheckout\n")
	assert.Contains(t, Markdown("pos-1", nil), "_(no screen)_")
	assert.Contains(t, Markdown("pos-1", map[string]int{"total": 12}), "\"total\": 12")

	md := Markdown("pos-1", domain.RecoveryScreen{
		State:   "Checkout",
		Action:  "Back",
		Message: "rejected",
		Err: &domain.ActionRejectedError{
			Step:    "load",
			Action:  "Back",
			Accepts: []string{"CheckAgain", "Tick"},
		},
	})
	assert.Contains(t, md, "**Checkout** could not handle `Back`")
	assert.Contains(t, md, "`CheckAgain`, `Tick`")

	md = Markdown("pos-1", domain.RecoveryScreen{State: "Home", Action: "X", Err: errors.New("nope")})
	assert.NotContains(t, md, "Accepted now")
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf)
	assert.NotEmpty(t, buf.String())
}
