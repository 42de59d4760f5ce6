package logging

import (
	"sync"

	"github.com/labring/testreport/pkg/client"
	"github.com/labring/testreport/pkg/maybe"
)

// Registry tracks the current execution context of each execution unit
// (a worker, a test runner goroutine, a shard) by key.
type Registry struct {
	mu       sync.RWMutex
	contexts map[string]*Context
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{contexts: make(map[string]*Context)}
}

// Init creates a context for itemID and installs it as current for unit,
// replacing whatever was installed before
func (r *Registry) Init(unit string, itemID *maybe.Handle[string], sender client.LogSender, cfg *Config) *Context {
	lc := New(itemID, sender, cfg)

	r.mu.Lock()
	r.contexts[unit] = lc
	r.mu.Unlock()

	return lc
}

// Current returns the context installed for unit, or nil
func (r *Registry) Current(unit string) *Context {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contexts[unit]
}

// Emit queues build on unit's current context. It reports false when none is installed.
func (r *Registry) Emit(unit string, build Builder) bool {
	lc := r.Current(unit)
	if lc == nil {
		return false
	}
	lc.Emit(build)
	return true
}

// Complete completes and uninstalls unit's current context.
// With no context installed the returned channel is already closed.
func (r *Registry) Complete(unit string) <-chan struct{} {
	r.mu.Lock()
	lc, ok := r.contexts[unit]
	delete(r.contexts, unit)
	r.mu.Unlock()

	if !ok {
		return closedChan
	}
	return lc.Complete()
}
