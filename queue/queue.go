// Package queue implements the unbounded single-producer/single-consumer
// FIFO used for a control block's recv_queue and ack_queue (spec.md §3):
// push never suspends, pop is poll-based so it composes with the
// scheduler's cooperative Task model instead of parking a goroutine.
package queue

import (
	"sync"

	"github.com/coolheart77/usertcp/scheduler"
)

// AsyncQueue is an unbounded SPSC FIFO. The zero value is not usable; use
// New. A Waker registered via WaitFor is invoked at most once, on the next
// Push that transitions the queue from empty to non-empty; callers that get
// Pending from TryPop must re-register after every failed attempt, exactly
// like a Task re-arming interest after each Poll.
type AsyncQueue[T any] struct {
	mu       sync.Mutex
	items    []T
	waiter   scheduler.Waker
	hasWaker bool
}

// New creates an empty queue.
func New[T any]() *AsyncQueue[T] {
	return &AsyncQueue[T]{}
}

// Push appends v and wakes a waiting consumer, if one is registered. Push
// never blocks and never fails — the queue is unbounded, matching spec.md
// §3's AsyncQueue<T> contract.
func (q *AsyncQueue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	w := q.waiter
	hadWaker := q.hasWaker
	q.hasWaker = false
	q.mu.Unlock()

	if hadWaker {
		w.Wake()
	}
}

// TryPop removes and returns the oldest item without blocking. ok is false
// if the queue was empty.
func (q *AsyncQueue[T]) TryPop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return v, false
	}
	v = q.items[0]
	q.items[0] = *new(T) // drop the reference so the backing array doesn't pin it
	q.items = q.items[1:]
	return v, true
}

// WaitFor registers w to be woken on the next Push, provided the queue is
// still empty at the time of the call. It returns false (and does not
// register) if an item is already available, so the caller should TryPop
// again instead of waiting. This mirrors the poll-registration dance every
// suspension point in this module uses: check, and only arm the waker if
// the check failed.
func (q *AsyncQueue[T]) WaitFor(w scheduler.Waker) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) > 0 {
		return false
	}
	q.waiter = w
	q.hasWaker = true
	return true
}

// Len reports the number of items currently queued, for diagnostics and
// metrics; it is not meant to be used to decide whether to call TryPop
// (TryPop's own return already answers that race-free).
func (q *AsyncQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Empty reports whether the queue currently holds no items.
func (q *AsyncQueue[T]) Empty() bool {
	return q.Len() == 0
}
