package validator

import (
	"context"
	"testing"

	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/aretw0/tillflow/pkg/dsl"
	"github.com/aretw0/tillflow/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, b *dsl.Builder) *domain.FlowDefinition {
	t.Helper()
	reg := registry.New(registry.WithFallback(func(id string) domain.StateFactory {
		return func() domain.State {
			return domain.StateFunc(func(_ context.Context, _ domain.Conversation, _ domain.Action) (domain.Screen, error) {
				return id, nil
			})
		}
	}))
	def, err := dsl.Compile(b.Source(), "Main", reg)
	require.NoError(t, err)
	return def
}

func TestValidateGraph(t *testing.T) {
	t.Run("valid graph", func(t *testing.T) {
		b := dsl.New()
		main := b.Flow("Main")
		main.State("Idle").On("Scan", "Basket")
		main.State("Basket").On("Pay", "Idle").Sub("Verify", "Age", dsl.Return("Verified", "Basket"))
		b.Flow("Age").State("Prompt")

		assert.NoError(t, ValidateGraph(compile(t, b)))
	})

	t.Run("unreachable state", func(t *testing.T) {
		b := dsl.New()
		main := b.Flow("Main")
		main.State("Idle").On("Scan", "Idle")
		main.State("Orphan").On("Back", "Idle")

		err := ValidateGraph(compile(t, b))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Unreachable state: 'Main/Orphan'")
	})

	t.Run("global reaches state", func(t *testing.T) {
		b := dsl.New()
		main := b.Flow("Main")
		main.State("Idle").On("Scan", "Idle")
		main.State("Locked").On("Unlock", "Idle")
		main.Global().On("Lock", "Locked")

		assert.NoError(t, ValidateGraph(compile(t, b)))
	})

	t.Run("dead end", func(t *testing.T) {
		b := dsl.New()
		main := b.Flow("Main")
		main.State("Idle").On("Scan", "Stuck")
		main.Ref("Stuck")

		err := ValidateGraph(compile(t, b))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Dead end: 'Main/Stuck'")
	})
}
