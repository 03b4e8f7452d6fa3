package registry_test

import (
	"context"
	"testing"

	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/aretw0/tillflow/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func screen(name string) func(context.Context, domain.Conversation, domain.Action) (domain.Screen, error) {
	return func(context.Context, domain.Conversation, domain.Action) (domain.Screen, error) {
		return name, nil
	}
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.RegisterFunc("Home", screen("home")))
	require.NoError(t, r.RegisterFunc("Checkout", screen("checkout")))

	f, ok := r.Resolve("Home")
	require.True(t, ok)
	got, err := f().Enter(context.Background(), nil, domain.Action{})
	require.NoError(t, err)
	assert.Equal(t, "home", got)

	_, ok = r.Resolve("Missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"Checkout", "Home"}, r.IDs())
}

func TestRegistry_RejectsInvalidRegistrations(t *testing.T) {
	r := registry.New()
	assert.Error(t, r.Register("", func() domain.State { return nil }))
	assert.Error(t, r.Register("Home", nil))
	require.NoError(t, r.RegisterFunc("Home", screen("home")))
	assert.Error(t, r.RegisterFunc("Home", screen("again")))
	assert.Panics(t, func() { r.MustRegister("Home", func() domain.State { return nil }) })
}

func TestRegistry_Fallback(t *testing.T) {
	r := registry.New(registry.WithFallback(func(id string) domain.StateFactory {
		if id == "Unknown" {
			return nil
		}
		return func() domain.State { return domain.StateFunc(screen(id)) }
	}))

	f, ok := r.Resolve("Anything")
	require.True(t, ok)
	got, _ := f().Enter(context.Background(), nil, domain.Action{})
	assert.Equal(t, "Anything", got)

	_, ok = r.Resolve("Unknown")
	assert.False(t, ok)
	assert.Empty(t, r.IDs())
}
