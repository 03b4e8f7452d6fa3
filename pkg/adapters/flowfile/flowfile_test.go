package flowfile_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/tillflow/pkg/adapters/flowfile"
	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/aretw0/tillflow/pkg/registry"
	"github.com/aretw0/tillflow/pkg/scope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const checkout = `
entry: Main
flows:
  Main:
    - state: Home
      screen: "Welcome ${cashier}"
      on:
        Next: Checkout
    - state: Checkout
      on:
        Back: Home
        Pay:
          subflow: Payment
          returns:
            Paid: Done
          seed:
            amount: 10
          propagate: [receipt]
    - ref: Done
    - state: Global
      on:
        Cancel: Home
  Payment:
    - state: Card
      on:
        Approve: Approved
screens:
  Done: "Thank you"
`

type conv struct {
	store *scope.Store
}

func (c conv) DeviceID() string        { return "pos-1" }
func (c conv) Scope() *scope.Store     { return c.store }
func (c conv) Raise(string, any) error { return nil }
func (c conv) Publish(any) error       { return nil }

func TestParse(t *testing.T) {
	doc, err := flowfile.Parse([]byte(checkout))
	require.NoError(t, err)

	assert.Equal(t, "Main", doc.EntryFlow())
	require.Len(t, doc.Flows["Main"], 4)
	pay := doc.Flows["Main"][1].On["Pay"]
	assert.Equal(t, "Payment", pay.Subflow)
	assert.Equal(t, "Done", pay.Returns["Paid"].To)
	assert.Equal(t, []string{"receipt"}, pay.Propagate)
	assert.Equal(t, "Checkout", doc.Flows["Main"][0].On["Next"].To)
}

func TestCompile(t *testing.T) {
	doc, err := flowfile.Parse([]byte(checkout))
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, reg.RegisterFunc("Card", func(context.Context, domain.Conversation, domain.Action) (domain.Screen, error) {
		return "custom card", nil
	}))
	def, err := doc.Compile(reg)
	require.NoError(t, err)

	assert.Equal(t, "Home", def.Initial.Name)
	pay := def.States["Checkout"].Actions["Pay"]
	require.Equal(t, domain.TargetSubflow, pay.Kind)
	assert.Equal(t, "Payment", pay.Subflow.Flow.Name)
	assert.Equal(t, 10, pay.Subflow.Seed["amount"])
	assert.Contains(t, def.Global, "Cancel")

	c := conv{store: scope.New("Main")}
	require.NoError(t, c.store.Set(scope.Device, "cashier", "ana"))

	screen, err := def.Initial.Materialize().Enter(context.Background(), c, domain.Action{})
	require.NoError(t, err)
	assert.Equal(t, "Welcome ana", screen)

	done, _ := def.State("Done")
	screen, err = done.Materialize().Enter(context.Background(), c, domain.Action{})
	require.NoError(t, err)
	assert.Equal(t, "Thank you", screen)

	card, _ := pay.Subflow.Flow.State("Card")
	screen, err = card.Materialize().Enter(context.Background(), c, domain.Action{})
	require.NoError(t, err)
	assert.Equal(t, "custom card", screen)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no flows", "entry: Main\n", "declares no flows"},
		{"unknown entry", "entry: X\nflows:\n  Main:\n    - state: Home\n", "entry flow \"X\""},
		{"state and ref", "flows:\n  Main:\n    - state: Home\n      ref: Other\n", "exclusive"},
		{"target without destination", "flows:\n  Main:\n    - state: Home\n      on:\n        Next: {seed: {a: 1}}\n", "exactly one of to or subflow"},
		{"unknown key", "flows:\n  Main:\n    - state: Home\n      color: red\n", "color"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := flowfile.Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"flows":{"Main":[{"state":"Home","on":{"Next":"Home"}}]}}`), 0o600))

	doc, err := flowfile.Load(path)
	require.NoError(t, err)
	def, err := doc.Compile(nil)
	require.NoError(t, err)
	assert.Equal(t, "Home", def.Initial.Name)
}

func TestCompile_ReportsGraphErrors(t *testing.T) {
	doc, err := flowfile.Parse([]byte("flows:\n  Main:\n    - state: Home\n      on:\n        Pay: {subflow: Missing}\n"))
	require.NoError(t, err)

	_, err = doc.Compile(nil)
	var cfg *domain.ConfigurationError
	require.ErrorAs(t, err, &cfg)
}
