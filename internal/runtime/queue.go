package runtime

import (
	"context"
	"sync"

	"github.com/aretw0/tillflow/pkg/domain"
)

type workKind int

const (
	workBegin workKind = iota + 1
	workAction
	workProceed
	workEvent
	workExec
)

func (k workKind) String() string {
	switch k {
	case workBegin:
		return "begin"
	case workAction:
		return "action"
	case workProceed:
		return "proceed"
	case workEvent:
		return "event"
	case workExec:
		return "exec"
	}
	return "unknown"
}

// work is one unit processed by a device loop.
type work struct {
	kind   workKind
	ctx    context.Context
	action domain.Action
	env    domain.Envelope
	gen    uint64
	fn     func(ctx context.Context, c *Conversation) error

	// done is nil for fire-and-forget submissions.
	done chan result
}

type result struct {
	err     error
	handled bool
}

func (w work) reply(r result) {
	if w.done != nil {
		w.done <- r
	}
}

// workQueue is an unbounded, thread-safe FIFO queue drained by one device loop.
//
// It is unbounded so that a state raising follow-up actions from inside the loop
// never blocks on its own queue. The buffered signal channel lets the loop wait
// without polling; Close closes it to wake the loop for shutdown.
type workQueue struct {
	mu     sync.Mutex
	items  []work
	closed bool
	signal chan struct{}
}

func newWorkQueue() *workQueue {
	return &workQueue{
		items:  make([]work, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds w to the back of the queue. Returns false if the queue is closed.
func (q *workQueue) Enqueue(w work) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, w)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front item without blocking.
func (q *workQueue) TryDequeue() (work, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return work{}, false
	}
	w := q.items[0]
	// release references held by the backing array
	q.items[0] = work{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return w, true
}

// Wait returns a channel that signals when items may be available.
func (q *workQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *workQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting work and returns the items that were never dequeued.
func (q *workQueue) Close() []work {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	left := q.items
	q.items = nil
	close(q.signal)
	return left
}

// Closed reports whether Close was called.
func (q *workQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
