package stream

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Queue is the bounded FIFO event buffer for one job. Events are read
// from C(). A reconnecting subscriber reuses the same Queue, so buffered
// events survive a disconnect until the sweeper reclaims the entry.
type Queue struct {
	// instanceID distinguishes queue incarnations in logs; a re-register
	// after an unregister produces a new instance for the same job.
	instanceID string

	mu sync.Mutex
	ch chan *Event

	closed  atomic.Bool
	dropped atomic.Int64
}

// newQueue creates a queue with the given buffer capacity.
func newQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		instanceID: uuid.NewString(),
		ch:         make(chan *Event, capacity),
	}
}

// InstanceID returns the unique identifier of this queue incarnation.
func (q *Queue) InstanceID() string { return q.instanceID }

// C returns the read-only event channel. The channel is closed when the
// queue is unregistered.
func (q *Queue) C() <-chan *Event { return q.ch }

// Dropped returns how many events this queue has discarded under
// backpressure.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// push appends an event. If the buffer is full, the oldest unread event
// is dropped first: a slow subscriber sees stale output rather than
// stalling the producer. Returns false only if the queue is closed.
// The mutex serializes competing pushes so drop-then-send stays atomic
// and FIFO order is preserved.
func (q *Queue) push(evt *Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed.Load() {
		return false
	}

	for {
		select {
		case q.ch <- evt:
			return true
		default:
		}
		// Buffer full — discard the oldest unread event and retry.
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// close closes the event channel. Safe to call multiple times.
func (q *Queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed.CompareAndSwap(false, true) {
		close(q.ch)
	}
}
