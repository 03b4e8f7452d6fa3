package graph_test

import (
	"context"
	"strings"
	"testing"

	"github.com/aretw0/tillflow/internal/presentation/graph"
	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/aretw0/tillflow/pkg/dsl"
	"github.com/aretw0/tillflow/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T) *domain.FlowDefinition {
	t.Helper()
	b := dsl.New()
	main := b.Flow("Main")
	main.State("Home").On("Next", "Checkout")
	main.State("Checkout").Sub("Pay", "Payment", dsl.Return("Paid", "Done"))
	main.Global().On("Cancel", "Home")
	b.Flow("Payment").State("Card").On("Approve", "Approved")

	reg := registry.New(registry.WithFallback(func(string) domain.StateFactory {
		return func() domain.State {
			return domain.StateFunc(func(context.Context, domain.Conversation, domain.Action) (domain.Screen, error) {
				return nil, nil
			})
		}
	}))
	def, err := dsl.Compile(b.Source(), "Main", reg)
	require.NoError(t, err)
	return def
}

func TestGenerateMermaid(t *testing.T) {
	out := graph.GenerateMermaid(compile(t), nil)

	for _, want := range []string{
		"graph TD\n",
		"subgraph flow_Main[\"Main\"]",
		"subgraph flow_Payment[\"Payment\"]",
		"Main_Home((\"Home\"))",
		"Main_Done[/\"Done\"/]",
		"Main_Home -- \"Next\" --> Main_Checkout",
		"Main_Checkout -. \"Pay\" .-> Payment_Card",
		"flow_Payment -. \"↩ Paid\" .-> Main_Done",
		"Main_Global -- \"⚑ Cancel\" --> Main_Home",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "Overlay")
}

func TestGenerateMermaid_Overlay(t *testing.T) {
	def := compile(t)

	out := graph.GenerateMermaid(def, graph.OverlayFromSnapshot(&domain.Snapshot{
		Flows:  []string{"Main", "Payment"},
		State:  "Card",
		Status: domain.StatusAtRest,
	}))
	assert.Contains(t, out, "class Payment_Card current;")

	out = graph.GenerateMermaid(def, &graph.GraphOverlay{Flows: []string{"Main"}, CurrentState: "Checkout", Pending: true})
	assert.Contains(t, out, "class Main_Checkout pending;")
	assert.Equal(t, 1, strings.Count(out, "classDef current"))
}
