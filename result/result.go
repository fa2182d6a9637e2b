// Package result provides a one-shot container that hands the outcome of an
// asynchronous callback to a single waiting goroutine.
package result

import (
	"context"
	"sync"
)

// Result holds the completion flag, value and error of one asynchronous
// operation. It is written once by the callback and read once by the waiter.
// The first Set* call completes the container; later calls are ignored so the
// stored value and error never change after completion. The zero value is not
// usable; create one with New.
type Result[T any] struct {
	mu    sync.Mutex
	done  bool
	value T
	err   error
	ch    chan struct{}
}

// New creates an incomplete Result.
func New[T any]() *Result[T] {
	return &Result[T]{ch: make(chan struct{})}
}

// NewWithValue creates an incomplete Result that already carries an initial value.
func NewWithValue[T any](initial T) *Result[T] {
	r := New[T]()
	r.value = initial
	return r
}

// SetDone marks the result as completed without storing anything.
func (r *Result[T]) SetDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.complete()
}

// SetValue completes the result with a value.
func (r *Result[T]) SetValue(value T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return false
	}
	r.value = value
	return r.complete()
}

// SetError completes the result with an error.
func (r *Result[T]) SetError(err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return false
	}
	r.err = err
	return r.complete()
}

// Set completes the result with both a value and an error.
func (r *Result[T]) Set(value T, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return false
	}
	r.value = value
	r.err = err
	return r.complete()
}

// complete must be called with mu held.
func (r *Result[T]) complete() bool {
	if r.done {
		return false
	}
	r.done = true
	close(r.ch)
	return true
}

// IsDone reports whether the result has been completed.
func (r *Result[T]) IsDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Value returns the stored value, which may be the zero value.
func (r *Result[T]) Value() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

// Err returns the stored error, if any.
func (r *Result[T]) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Done returns a channel that is closed once the result is completed.
func (r *Result[T]) Done() <-chan struct{} {
	return r.ch
}

// Wait blocks until the result is completed or ctx ends. When ctx ends first
// the context error is returned and the result stays incomplete.
func (r *Result[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-r.ch:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value, r.err
}
