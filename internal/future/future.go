// Package future provides a one-shot, pollable result of background work.
//
// A Future is written once by the goroutine that owns it and read any number
// of times by anyone else. The value and error are published together with a
// single atomic store, so a reader that sees IsPending() == false is
// guaranteed to see the complete outcome.
package future

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
)

var (
	// ErrPending is returned by Result while the work has not finished.
	ErrPending = errors.New("future: result still pending")
	// ErrPanicked wraps a panic recovered from the work function.
	ErrPanicked = errors.New("future: work panicked")
)

type outcome[T any] struct {
	value T
	err   error
}

// Future is the eventual outcome of one background operation.
type Future[T any] struct {
	state atomic.Pointer[outcome[T]]
	done  chan struct{}
}

// Complete publishes the outcome of a Future. It must be called exactly once.
type Complete[T any] func(value T, err error)

// New returns a pending future and the function that completes it.
// Calling the completer a second time panics.
func New[T any]() (*Future[T], Complete[T]) {
	f := &Future[T]{done: make(chan struct{})}
	return f, f.complete
}

// Spawn runs work on its own goroutine and returns immediately.
func Spawn[T any](work func() (T, error)) *Future[T] {
	f, complete := New[T]()
	go Run(work, complete)
	return f
}

// Run executes work on the calling goroutine and publishes its outcome,
// converting a panic into an error wrapping ErrPanicked.
func Run[T any](work func() (T, error), complete Complete[T]) {
	var (
		value T
		err   error
	)
	defer func() {
		if r := recover(); r != nil {
			var zero T
			value = zero
			err = fmt.Errorf("%w: %v\n%s", ErrPanicked, r, debug.Stack())
		}
		complete(value, err)
	}()
	value, err = work()
}

func (f *Future[T]) complete(value T, err error) {
	if !f.state.CompareAndSwap(nil, &outcome[T]{value: value, err: err}) {
		panic("future: completed twice")
	}
	close(f.done)
}

// IsPending reports whether the work is still running.
func (f *Future[T]) IsPending() bool {
	return f.state.Load() == nil
}

// KeepWaiting is IsPending under the name cooperative schedulers poll.
func (f *Future[T]) KeepWaiting() bool {
	return f.IsPending()
}

// Result returns the outcome. While pending it returns ErrPending.
func (f *Future[T]) Result() (T, error) {
	o := f.state.Load()
	if o == nil {
		var zero T
		return zero, ErrPending
	}
	return o.value, o.err
}

// Err returns the failure of a finished future, nil on success or while pending.
func (f *Future[T]) Err() error {
	if o := f.state.Load(); o != nil {
		return o.err
	}
	return nil
}

// Done returns a channel closed once the outcome is published.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the outcome is published or ctx is done.
// Cancelling ctx stops the wait, never the work.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
