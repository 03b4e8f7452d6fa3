package dsl_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/aretw0/tillflow/pkg/dsl"
	"github.com/aretw0/tillflow/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T, ids ...string) *registry.Registry {
	t.Helper()
	reg := registry.New()
	for _, id := range ids {
		id := id
		require.NoError(t, reg.RegisterFunc(id, func(context.Context, domain.Conversation, domain.Action) (domain.Screen, error) {
			return id, nil
		}))
	}
	return reg
}

func configErrors(t *testing.T, err error) []*domain.ConfigurationError {
	t.Helper()
	var out []*domain.ConfigurationError
	var walk func(error)
	walk = func(e error) {
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
			return
		}
		var ce *domain.ConfigurationError
		if errors.As(e, &ce) {
			out = append(out, ce)
		}
	}
	walk(err)
	return out
}

func TestCompile_InitialAndPlaceholders(t *testing.T) {
	b := dsl.New()
	main := b.Flow("Main")
	main.State("Home").On("Next", "Checkout")
	main.State("Checkout").On("Pay", "CompleteState").On("Back", "Home")

	def, err := dsl.Compile(b.Source(), "Main", newRegistry(t, "Home", "Checkout", "CompleteState"))
	require.NoError(t, err)

	assert.Equal(t, "Home", def.Initial.Name)
	assert.Equal(t, []string{"Home", "Checkout", "CompleteState"}, def.Order)

	complete, ok := def.State("CompleteState")
	require.True(t, ok)
	assert.True(t, complete.Placeholder)
	assert.Empty(t, complete.Actions)
	assert.NotNil(t, complete.Factory)

	next := def.States["Home"].Actions["Next"]
	assert.Equal(t, domain.TargetState, next.Kind)
	assert.Same(t, def.States["Checkout"], next.State)
}

func TestCompile_InitialSkipsGlobalAndReferences(t *testing.T) {
	src := dsl.Source{
		"Main": {
			{Name: domain.GlobalStateName, Concrete: true, Actions: []domain.ActionDecl{{Action: "Cancel", Target: domain.TargetRef{Name: "Home"}}}},
			{Name: "Lookup"},
			{Name: "Home", Concrete: true},
		},
	}
	def, err := dsl.Compile(src, "Main", newRegistry(t, "Home", "Lookup"))
	require.NoError(t, err)

	assert.Equal(t, "Home", def.Initial.Name)
	assert.Contains(t, def.Global, "Cancel")
	lookup, ok := def.State("Lookup")
	require.True(t, ok)
	assert.True(t, lookup.Placeholder)
}

func TestCompile_NoInitialState(t *testing.T) {
	b := dsl.New()
	b.Flow("Main").Ref("Home").Global().On("Cancel", "Home")

	_, err := dsl.Compile(b.Source(), "Main", newRegistry(t, "Home"))
	require.Error(t, err)
	errs := configErrors(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ConfigNoInitial, errs[0].Kind)
}

func TestCompile_UnresolvedPlaceholder(t *testing.T) {
	b := dsl.New()
	b.Flow("Main").State("Home").On("Next", "Nowhere")

	_, err := dsl.Compile(b.Source(), "Main", newRegistry(t, "Home"))
	require.Error(t, err)

	errs := configErrors(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ConfigUnresolved, errs[0].Kind)
	assert.Equal(t, "Nowhere", errs[0].Name)
	assert.NotEmpty(t, errs[0].Namespaces)
	assert.Contains(t, err.Error(), "Nowhere")
}

func TestCompile_ReferenceBindsImplementation(t *testing.T) {
	b := dsl.New()
	b.Flow("Main").
		Ref("Done", "ReceiptPrinter").
		State("Home").On("Finish", "Done")

	def, err := dsl.Compile(b.Source(), "Main", newRegistry(t, "Home", "ReceiptPrinter"))
	require.NoError(t, err)
	assert.Equal(t, "ReceiptPrinter", def.States["Done"].Impl)
}

func TestCompile_DuplicateDeclarations(t *testing.T) {
	t.Run("identical redefinition is tolerated", func(t *testing.T) {
		b := dsl.New()
		main := b.Flow("Main")
		main.State("Home").On("Next", "Checkout")
		main.State("Checkout").On("Back", "Home")
		main.State("Home").On("Next", "Checkout")

		def, err := dsl.Compile(b.Source(), "Main", newRegistry(t, "Home", "Checkout"))
		require.NoError(t, err)
		assert.Len(t, def.States, 2)
	})

	t.Run("hook bodies are not compared", func(t *testing.T) {
		var ran []string
		hook := func(label string) func(context.Context, domain.Conversation, domain.Action) error {
			return func(context.Context, domain.Conversation, domain.Action) error {
				ran = append(ran, label)
				return nil
			}
		}
		b := dsl.New()
		main := b.Flow("Main")
		main.State("Home").On("Next", "Checkout").Before("audit", hook("first"))
		main.State("Checkout").On("Back", "Home")
		main.State("Home").On("Next", "Checkout").Before("audit", hook("second"))

		def, err := dsl.Compile(b.Source(), "Main", newRegistry(t, "Home", "Checkout"))
		require.NoError(t, err)
		require.Len(t, def.States["Home"].Hooks, 1)
		require.NoError(t, def.States["Home"].Hooks[0].Run(context.Background(), nil, domain.Action{}))
		assert.Equal(t, []string{"first"}, ran)
	})

	t.Run("renamed hook conflicts", func(t *testing.T) {
		noop := func(context.Context, domain.Conversation, domain.Action) error { return nil }
		b := dsl.New()
		main := b.Flow("Main")
		main.State("Home").On("Next", "Checkout").Before("audit", noop)
		main.State("Checkout").On("Back", "Home")
		main.State("Home").On("Next", "Checkout").Before("log", noop)

		_, err := dsl.Compile(b.Source(), "Main", newRegistry(t, "Home", "Checkout"))
		errs := configErrors(t, err)
		require.Len(t, errs, 1)
		assert.Equal(t, domain.ConfigConflict, errs[0].Kind)
	})

	t.Run("conflicting redefinition fails", func(t *testing.T) {
		b := dsl.New()
		main := b.Flow("Main")
		main.State("Home").On("Next", "Checkout")
		main.State("Checkout")
		main.State("Home").On("Next", "Home")

		_, err := dsl.Compile(b.Source(), "Main", newRegistry(t, "Home", "Checkout"))
		require.Error(t, err)
		errs := configErrors(t, err)
		require.Len(t, errs, 1)
		assert.Equal(t, domain.ConfigConflict, errs[0].Kind)
		assert.Equal(t, "Home", errs[0].Name)
	})
}

func TestCompile_EmbeddedSubflow(t *testing.T) {
	b := dsl.New()
	main := b.Flow("Main")
	main.State("Home").
		Sub("Pay", "Payment", dsl.Return("Done", "Receipt"), dsl.Return("Abort", "Home"), dsl.Seed("amount", 10)).
		Sub("Refund", "Payment", dsl.Return("Done", "Home"))
	pay := b.Flow("Payment")
	pay.State("CardEntry").On("Approved", "Approved")

	def, err := dsl.Compile(b.Source(), "Main", newRegistry(t, "Home", "Receipt", "CardEntry", "Approved"))
	require.NoError(t, err)

	target := def.States["Home"].Actions["Pay"]
	require.Equal(t, domain.TargetSubflow, target.Kind)
	sub := target.Subflow
	assert.False(t, sub.Wrapped)
	assert.Equal(t, "Payment", sub.Flow.Name)
	assert.Equal(t, "CardEntry", sub.Flow.Initial.Name)
	assert.Equal(t, []string{"Abort", "Done"}, sub.ReturnActions())
	assert.Equal(t, 10, sub.Seed["amount"])

	// return targets are states of the parent flow
	receipt := sub.Returns["Done"]
	assert.Equal(t, "Main", receipt.State.Flow)
	assert.True(t, receipt.State.Placeholder)
	_, inSub := sub.Flow.State("Receipt")
	assert.False(t, inSub)

	// the embedded flow is built once per compile
	assert.Same(t, sub.Flow, def.States["Home"].Actions["Refund"].Subflow.Flow)

	var visited []string
	def.Walk(func(f *domain.FlowDefinition) { visited = append(visited, f.Name) })
	assert.Equal(t, []string{"Main", "Payment"}, visited)
}

func TestCompile_WrappedStateSubflow(t *testing.T) {
	b := dsl.New()
	main := b.Flow("Main")
	main.State("Checkout").Sub("Confirm", "ConfirmState", dsl.Return("Yes", "Paid"), dsl.Return("No", "Checkout"))

	def, err := dsl.Compile(b.Source(), "Main", newRegistry(t, "Checkout", "ConfirmState", "Paid"))
	require.NoError(t, err)

	sub := def.States["Checkout"].Actions["Confirm"].Subflow
	require.NotNil(t, sub)
	assert.True(t, sub.Wrapped)
	assert.Equal(t, "Main:ConfirmState", sub.Flow.Name)
	assert.Equal(t, "ConfirmState", sub.Flow.Initial.Name)

	yes := sub.Flow.Initial.Actions["Yes"]
	assert.Equal(t, domain.TargetReturn, yes.Kind)
	assert.Equal(t, "Yes", yes.ReturnAction)
	assert.Equal(t, "Paid", sub.Returns["Yes"].State.Name)
	assert.Same(t, def.States["Checkout"], sub.Returns["No"].State)
}

func TestCompile_AmbiguousInlineSubflow(t *testing.T) {
	b := dsl.New()
	main := b.Flow("Main")
	main.State("Checkout").Sub("Confirm", "Confirm", dsl.Return("Yes", "Checkout"))
	main.State("Confirm").On("Yes", "Checkout")

	_, err := dsl.Compile(b.Source(), "Main", newRegistry(t, "Checkout", "Confirm"))
	require.Error(t, err)
	errs := configErrors(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ConfigAmbiguous, errs[0].Kind)
	require.Len(t, errs[0].Usages, 2)
	assert.Contains(t, errs[0].Usages[0], "Checkout.Confirm")
}

func TestCompile_RecursiveEmbedding(t *testing.T) {
	b := dsl.New()
	b.Flow("A").State("One").Sub("Go", "B", dsl.Return("Back", "One"))
	b.Flow("B").State("Two").Sub("Go", "A", dsl.Return("Back", "Two"))

	_, err := dsl.Compile(b.Source(), "A", newRegistry(t, "One", "Two"))
	require.Error(t, err)
	errs := configErrors(t, err)
	require.NotEmpty(t, errs)
	assert.Equal(t, domain.ConfigRecursive, errs[0].Kind)
	assert.Equal(t, "A", errs[0].Name)
}

func TestCompile_UnknownFlow(t *testing.T) {
	_, err := dsl.Compile(dsl.Source{}, "Main", newRegistry(t))
	errs := configErrors(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ConfigUnknownFlow, errs[0].Kind)
}

func TestCompile_ReportsEveryProblem(t *testing.T) {
	b := dsl.New()
	main := b.Flow("Main")
	main.State("Home").On("A", "Missing1").On("B", "Missing2").Sub("C", "Nothing", dsl.Return("Done", "Home"))

	_, err := dsl.Compile(b.Source(), "Main", newRegistry(t, "Home"))
	require.Error(t, err)
	errs := configErrors(t, err)
	assert.Len(t, errs, 3)

	var names []string
	for _, e := range errs {
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{"Missing1", "Missing2", "Nothing"}, names)
}

func TestCompile_ReturnTargetCanBeSubflow(t *testing.T) {
	b := dsl.New()
	b.Flow("Main").State("Home").Sub("Pay", "Payment",
		dsl.ReturnTo("Done", dsl.SubRef("Survey", dsl.Return("Finished", "Home"))))
	b.Flow("Payment").State("Card")
	b.Flow("Survey").State("Question")

	def, err := dsl.Compile(b.Source(), "Main", newRegistry(t, "Home", "Card", "Question"))
	require.NoError(t, err)

	done := def.States["Home"].Actions["Pay"].Subflow.Returns["Done"]
	require.Equal(t, domain.TargetSubflow, done.Kind)
	assert.Equal(t, "Survey", done.Subflow.Flow.Name)
}
