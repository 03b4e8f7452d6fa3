package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSnapshotStoreContract runs a suite of tests to verify that a SnapshotStore
// implementation adheres to the interface contract.
func RunSnapshotStoreContract(t *testing.T, store SnapshotStore) {
	ctx := context.Background()
	deviceID := "contract-device-" + time.Now().Format("20060102150405")

	snapshot := func(id string) *domain.Snapshot {
		return &domain.Snapshot{
			DeviceID:  id,
			Flows:     []string{"Main", "Payment"},
			State:     "CardEntry",
			Status:    domain.StatusPending,
			Accepts:   []string{"CheckAgain"},
			Scope:     map[string]any{"cart": "c-1", "count": 42},
			UpdatedAt: time.Now().UTC().Truncate(time.Second),
		}
	}

	t.Run("Save and Load", func(t *testing.T) {
		err := store.Save(ctx, deviceID, snapshot(deviceID))
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, deviceID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, deviceID, loaded.DeviceID)
		assert.Equal(t, "CardEntry", loaded.State)
		assert.Equal(t, domain.StatusPending, loaded.Status)
		assert.Equal(t, []string{"Main", "Payment"}, loaded.Flows)
		assert.Equal(t, 1, loaded.Depth())
		assert.Equal(t, "c-1", loaded.Scope["cart"])
		// JSON backed stores turn numbers into float64
		assert.NotNil(t, loaded.Scope["count"])
	})

	t.Run("Save overwrites", func(t *testing.T) {
		snap := snapshot(deviceID)
		snap.State = "Receipt"
		snap.Status = domain.StatusAtRest
		require.NoError(t, store.Save(ctx, deviceID, snap))

		loaded, err := store.Load(ctx, deviceID)
		require.NoError(t, err)
		assert.Equal(t, "Receipt", loaded.State)
		assert.Equal(t, domain.StatusAtRest, loaded.Status)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+deviceID)
		assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, deviceID, snapshot(deviceID)))

		err := store.Delete(ctx, deviceID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, deviceID)
		assert.ErrorIs(t, err, domain.ErrSnapshotNotFound, "Load after Delete should return ErrSnapshotNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := deviceID + "-1"
		id2 := deviceID + "-2"
		require.NoError(t, store.Save(ctx, id1, snapshot(id1)))
		require.NoError(t, store.Save(ctx, id2, snapshot(id2)))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}
