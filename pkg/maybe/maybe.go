// Package maybe provides Handle, an asynchronous reference that settles exactly
// once to a value, to "absent", or to a failure.
package maybe

import (
	"context"
	"sync"
)

// State describes how a Handle settled
type State int

const (
	StatePending State = iota
	StateResolved
	StateEmpty
	StateFailed
)

// Handle is a single-slot future with an explicit empty variant.
// A nil *Handle behaves as an already-empty handle.
type Handle[T any] struct {
	once  sync.Once
	done  chan struct{}
	state State
	value T
	err   error
}

// New creates a pending handle
func New[T any]() *Handle[T] {
	return &Handle[T]{done: make(chan struct{})}
}

// Of creates a handle already resolved to v
func Of[T any](v T) *Handle[T] {
	h := New[T]()
	h.Resolve(v)
	return h
}

// Empty creates a handle already settled as absent
func Empty[T any]() *Handle[T] {
	h := New[T]()
	h.Clear()
	return h
}

// Failed creates a handle already settled with err
func Failed[T any](err error) *Handle[T] {
	h := New[T]()
	h.Fail(err)
	return h
}

// Resolve settles the handle with v. It reports false if the handle was already settled.
func (h *Handle[T]) Resolve(v T) bool {
	return h.settle(StateResolved, v, nil)
}

// Clear settles the handle as absent
func (h *Handle[T]) Clear() bool {
	var zero T
	return h.settle(StateEmpty, zero, nil)
}

// Fail settles the handle with err. A nil err settles the handle as absent.
func (h *Handle[T]) Fail(err error) bool {
	if err == nil {
		return h.Clear()
	}
	var zero T
	return h.settle(StateFailed, zero, err)
}

func (h *Handle[T]) settle(state State, v T, err error) bool {
	if h == nil {
		return false
	}
	settled := false
	h.once.Do(func() {
		h.state = state
		h.value = v
		h.err = err
		settled = true
		close(h.done)
	})
	return settled
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done returns a channel closed once the handle settles
func (h *Handle[T]) Done() <-chan struct{} {
	if h == nil {
		return closedChan
	}
	return h.done
}

// Wait blocks until the handle settles or ctx is done.
// ok is true only for a resolved value; err carries a failure or the ctx error.
func (h *Handle[T]) Wait(ctx context.Context) (v T, ok bool, err error) {
	if h == nil {
		return v, false, nil
	}
	select {
	case <-h.done:
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
	return h.value, h.state == StateResolved, h.err
}

// State returns the current state without blocking
func (h *Handle[T]) State() State {
	if h == nil {
		return StateEmpty
	}
	select {
	case <-h.done:
		return h.state
	default:
		return StatePending
	}
}
