package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/aretw0/tillflow/internal/logging"
	"github.com/aretw0/tillflow/pkg/domain"
)

// ScreenBuffer is a presenter that keeps the last screen of every device and
// forwards each screen to the device's stream subscribers.
type ScreenBuffer struct {
	mu      sync.RWMutex
	last    map[string]domain.Screen
	streams *StreamManager
	logger  *slog.Logger
}

// NewScreenBuffer creates an empty buffer publishing to streams. streams may be nil.
func NewScreenBuffer(streams *StreamManager, logger *slog.Logger) *ScreenBuffer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ScreenBuffer{
		last:    make(map[string]domain.Screen),
		streams: streams,
		logger:  logger,
	}
}

// Present implements ports.Presenter.
func (b *ScreenBuffer) Present(_ context.Context, deviceID string, screen domain.Screen) error {
	b.mu.Lock()
	b.last[deviceID] = screen
	b.mu.Unlock()

	if b.streams == nil {
		return nil
	}
	data, err := json.Marshal(screenView(screen))
	if err != nil {
		b.logger.Warn("screen is not serializable", "device_id", deviceID, "err", err)
		return nil
	}
	b.streams.Broadcast(deviceID, string(data))
	return nil
}

// Last returns the last screen presented on a device.
func (b *ScreenBuffer) Last(deviceID string) (domain.Screen, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.last[deviceID]
	return s, ok
}

// Forget drops the screen of a device.
func (b *ScreenBuffer) Forget(deviceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.last, deviceID)
}

// screenView makes recovery screens carry their error kind over the wire.
func screenView(screen domain.Screen) any {
	rs, ok := screen.(domain.RecoveryScreen)
	if !ok {
		return screen
	}
	return map[string]any{
		"recovery": true,
		"state":    rs.State,
		"action":   rs.Action,
		"message":  rs.Message,
		"kind":     domain.ErrorKind(rs.Err),
	}
}
