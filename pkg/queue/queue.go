// Package queue implements a bounded, channel-backed async queue with
// explicit close semantics, used both as the caller-supplied user queue and
// as the internal stream queue between a model adapter and an agent's
// post-think hooks.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Put/PutNoWait once Close has been called.
var ErrQueueClosed = errors.New("queue: closed")

// ErrQueueFull is returned by PutNoWait when the queue has no free capacity.
var ErrQueueFull = errors.New("queue: full")

// ErrQueueEmpty is returned by GetNoWait when no item is immediately
// available.
var ErrQueueEmpty = errors.New("queue: empty")

// Queue is a bounded FIFO of items of type T, safe for concurrent producers
// and consumers.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	closed   bool

	notEmpty chan struct{}
	notFull  chan struct{}
}

// New returns a Queue bounded at capacity items. capacity <= 0 means
// unbounded.
func New[T any](capacity int) *Queue[T] {
	return &Queue[T]{
		capacity: capacity,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
	}
}

func (q *Queue[T]) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Put blocks until the item is enqueued, the queue is closed, or ctx is
// done.
func (q *Queue[T]) Put(ctx context.Context, item T) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if q.capacity <= 0 || len(q.items) < q.capacity {
			q.items = append(q.items, item)
			q.mu.Unlock()
			q.signal(q.notEmpty)
			return nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.notFull:
		}
	}
}

// PutNoWait enqueues item without blocking, or returns ErrQueueFull /
// ErrQueueClosed.
func (q *Queue[T]) PutNoWait(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.items = append(q.items, item)
	q.signal(q.notEmpty)
	return nil
}

// Get blocks until an item is available, the queue is closed and drained, or
// ctx is done. ok is false only when the queue is closed and empty.
func (q *Queue[T]) Get(ctx context.Context) (item T, ok bool, err error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item = q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			q.signal(q.notFull)
			return item, true, nil
		}
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, false, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero T
			return zero, false, ctx.Err()
		case <-q.notEmpty:
		}
	}
}

// GetNoWait returns the next item without blocking, or ErrQueueEmpty.
func (q *Queue[T]) GetNoWait() (item T, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero, ErrQueueEmpty
	}
	item = q.items[0]
	q.items = q.items[1:]
	q.signal(q.notFull)
	return item, nil
}

// IsEmpty reports whether the queue currently holds no items.
func (q *Queue[T]) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

// IsFull reports whether the queue is at capacity. Always false when
// unbounded.
func (q *Queue[T]) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capacity <= 0 {
		return false
	}
	return len(q.items) >= q.capacity
}

// IsClosed reports whether Close has been called.
func (q *Queue[T]) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close marks the queue closed. Subsequent Put/PutNoWait calls fail; Get
// calls continue to drain any remaining items, then report ok=false.
// Closing an already-closed queue is a no-op.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.signal(q.notEmpty)
	q.signal(q.notFull)
}
