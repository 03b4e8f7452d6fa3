package ports

import (
	"context"

	"github.com/aretw0/tillflow/pkg/domain"
)

// Presenter displays a screen on a device.
// It is called from the device's processing loop and should not block for long.
type Presenter interface {
	Present(ctx context.Context, deviceID string, screen domain.Screen) error
}

// PresenterFunc adapts a function to the Presenter interface.
type PresenterFunc func(ctx context.Context, deviceID string, screen domain.Screen) error

// Present implements Presenter.
func (f PresenterFunc) Present(ctx context.Context, deviceID string, screen domain.Screen) error {
	return f(ctx, deviceID, screen)
}
