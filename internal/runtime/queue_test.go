package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkQueue_FIFO(t *testing.T) {
	q := newWorkQueue()
	for i := 1; i <= 3; i++ {
		require.True(t, q.Enqueue(work{kind: workProceed, gen: uint64(i)}))
	}
	assert.Equal(t, 3, q.Len())

	select {
	case <-q.Wait():
	default:
		t.Fatal("expected a pending signal")
	}

	for i := 1; i <= 3; i++ {
		w, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, uint64(i), w.gen)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestWorkQueue_CloseReturnsLeftovers(t *testing.T) {
	q := newWorkQueue()
	q.Enqueue(work{kind: workAction})
	q.Enqueue(work{kind: workExec})

	left := q.Close()
	require.Len(t, left, 2)
	assert.Equal(t, workAction, left[0].kind)
	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(work{kind: workAction}))
	assert.Nil(t, q.Close())

	// The signal channel is closed once the buffered wakeup is consumed.
	for range q.Wait() {
	}
}

func TestWork_ReplyWithoutWaiter(t *testing.T) {
	w := work{kind: workAction}
	assert.NotPanics(t, func() { w.reply(result{}) })

	w.done = make(chan result, 1)
	w.reply(result{handled: true})
	assert.True(t, (<-w.done).handled)
}
