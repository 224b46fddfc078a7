package qchan

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned from [*Unbounded.Pop]
// once the queue has been closed and fully drained.
var ErrClosed = errors.New("queue closed")

// Unbounded is a FIFO queue that never blocks its producer.
//
// It stands in for a channel with unlimited capacity:
// a producer that must not stall (the connection driver)
// pushes values, and a consumer pops them at its own pace.
// A slow consumer therefore grows memory instead of applying backpressure.
//
// Either side may close the queue.
// After Close, Push fails, but values already queued remain poppable.
type Unbounded[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	// One-slot signal, refilled on every push.
	ready chan struct{}

	// Closed on Close.
	done chan struct{}
}

// NewUnbounded returns an initialized, open queue.
func NewUnbounded[T any]() *Unbounded[T] {
	return &Unbounded[T]{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends v to the queue.
// It reports false, without queueing v, if the queue is closed.
func (u *Unbounded[T]) Push(v T) bool {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return false
	}
	u.items = append(u.items, v)
	u.mu.Unlock()

	u.signal()
	return true
}

// TryPop removes and returns the oldest value without blocking.
// It reports false if the queue is currently empty.
func (u *Unbounded[T]) TryPop() (T, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.popLocked()
}

// Pop removes and returns the oldest value,
// blocking until one is available.
//
// Pop returns [ErrClosed] if the queue is closed and empty,
// or the context's cause if ctx finishes first.
func (u *Unbounded[T]) Pop(ctx context.Context) (T, error) {
	for {
		u.mu.Lock()
		v, ok := u.popLocked()
		closed := u.closed
		u.mu.Unlock()

		if ok {
			return v, nil
		}
		if closed {
			var zero T
			return zero, ErrClosed
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, context.Cause(ctx)
		case <-u.ready:
		case <-u.done:
		}
	}
}

func (u *Unbounded[T]) popLocked() (T, bool) {
	var zero T
	if len(u.items) == 0 {
		return zero, false
	}

	v := u.items[0]
	u.items[0] = zero
	u.items = u.items[1:]

	if len(u.items) > 0 {
		// Another consumer may have been waiting on the same signal.
		u.signal()
	} else {
		// Let the backing array go once drained.
		u.items = nil
	}

	return v, true
}

func (u *Unbounded[T]) signal() {
	select {
	case u.ready <- struct{}{}:
	default:
	}
}

// Close marks the queue closed. It is safe to call more than once.
func (u *Unbounded[T]) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return
	}
	u.closed = true
	close(u.done)
}

// Closed reports whether Close has been called.
func (u *Unbounded[T]) Closed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closed
}

// Drain removes and returns every queued value.
func (u *Unbounded[T]) Drain() []T {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := u.items
	u.items = nil
	return out
}

// Len returns the number of queued values.
func (u *Unbounded[T]) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.items)
}

// Done returns a channel that is closed when the queue is closed.
func (u *Unbounded[T]) Done() <-chan struct{} {
	return u.done
}
