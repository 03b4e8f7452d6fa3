package http

import (
	"log/slog"
	"sync"

	"github.com/aretw0/tillflow/internal/logging"
)

// StreamManager handles active SSE connections, keyed by device id.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{}
	logger      *slog.Logger
}

// NewStreamManager creates a StreamManager.
func NewStreamManager(logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a subscriber for a device. The returned function
// unsubscribes and closes the channel.
func (sm *StreamManager) Subscribe(deviceID string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[deviceID]; !ok {
		sm.subscribers[deviceID] = make(map[chan<- string]struct{})
	}
	sm.subscribers[deviceID][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			if subs, ok := sm.subscribers[deviceID]; ok {
				delete(subs, ch)
				close(ch)
				if len(subs) == 0 {
					delete(sm.subscribers, deviceID)
				}
			}
		})
	}
}

// Subscribers returns the number of subscribers of a device.
func (sm *StreamManager) Subscribers(deviceID string) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers[deviceID])
}

// Broadcast sends msg to every subscriber of a device. Slow subscribers lose messages.
func (sm *StreamManager) Broadcast(deviceID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for ch := range sm.subscribers[deviceID] {
		select {
		case ch <- msg:
		default:
			// Drop message if channel is full (slow client)
			sm.logger.Warn("SSE: Client buffer full, dropping message", "device_id", deviceID)
		}
	}
}
