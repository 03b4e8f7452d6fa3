package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/aretw0/tillflow/pkg/adapters/memory"
	"github.com/aretw0/tillflow/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestManager_LockLifecycle(t *testing.T) {
	mgr := NewManager(memory.NewStore())
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("till-%d", i)
		_ = mgr.Save(ctx, id, &domain.Snapshot{DeviceID: id})
		_ = mgr.Delete(ctx, id)
	}

	assert.Empty(t, mgr.locks, "locks must be released once unused")
}
