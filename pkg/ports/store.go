package ports

import (
	"context"

	"github.com/aretw0/tillflow/pkg/domain"
)

// SnapshotStore defines the interface for persisting conversation snapshots.
type SnapshotStore interface {
	// Save persists the snapshot of a device, replacing any previous one.
	Save(ctx context.Context, deviceID string, snap *domain.Snapshot) error

	// Load retrieves the snapshot of a device.
	// Returns domain.ErrSnapshotNotFound if the device has none.
	Load(ctx context.Context, deviceID string) (*domain.Snapshot, error)

	// Delete removes the snapshot of a device.
	Delete(ctx context.Context, deviceID string) error

	// List returns the ids of every device with a snapshot.
	List(ctx context.Context) ([]string, error)
}
