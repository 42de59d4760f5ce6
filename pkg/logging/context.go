// Package logging implements the per-item execution context: an asynchronous,
// non-blocking log pipeline that batches events and ships them to the collector.
package logging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/labring/testreport/pkg/client"
	"github.com/labring/testreport/pkg/common"
	"github.com/labring/testreport/pkg/maybe"
)

// DefaultBatchSize is the number of events shipped per log request
const DefaultBatchSize = 10

// Builder produces a log event once the owning item ID is known
type Builder func(itemID string) *common.SaveLogRQ

// Config configures an execution context
type Config struct {
	BatchSize     int
	ConvertImages bool
	// SendWorkers bounds concurrent batch sends. With one worker batches arrive in order.
	SendWorkers int
	Logger      *slog.Logger
	// OnError receives every *errors.PipelineDeliveryError
	OnError func(err error)
}

// NewDefaultConfig returns the default pipeline configuration
func NewDefaultConfig() *Config {
	return &Config{
		BatchSize:     DefaultBatchSize,
		ConvertImages: false,
		SendWorkers:   1,
		Logger:        slog.Default(),
	}
}

func (c *Config) normalize() *Config {
	out := NewDefaultConfig()
	if c == nil {
		return out
	}
	*out = *c
	if out.BatchSize <= 0 {
		out.BatchSize = DefaultBatchSize
	}
	if out.SendWorkers <= 0 {
		out.SendWorkers = 1
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Context collects the log events of one test item.
// Emit never blocks; a single consumer goroutine resolves, batches and sends.
type Context struct {
	itemID *maybe.Handle[string]
	sender client.LogSender
	cfg    *Config

	mu     sync.Mutex
	queue  []Builder
	closed bool
	notify chan struct{}

	done chan struct{}
}

// New creates an execution context bound to itemID and starts its consumer
func New(itemID *maybe.Handle[string], sender client.LogSender, cfg *Config) *Context {
	c := &Context{
		itemID: itemID,
		sender: sender,
		cfg:    cfg.normalize(),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

// ItemID returns the handle this context is bound to
func (c *Context) ItemID() *maybe.Handle[string] {
	return c.itemID
}

// Emit queues build for delivery. Events emitted after Complete are dropped.
func (c *Context) Emit(build Builder) {
	if build == nil {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.cfg.Logger.Warn("log event emitted after context completion, dropping")
		return
	}
	c.queue = append(c.queue, build)
	c.mu.Unlock()

	c.wake()
}

// Complete stops accepting events. The returned channel is closed once every
// queued event has been sent or discarded and every send has returned.
func (c *Context) Complete() <-chan struct{} {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.wake()
	return c.done
}

// Done is closed when the context has fully drained
func (c *Context) Done() <-chan struct{} {
	return c.done
}

func (c *Context) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// next blocks until events are queued or the context is completed and empty
func (c *Context) next() ([]Builder, bool) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			items := c.queue
			c.queue = nil
			c.mu.Unlock()
			return items, true
		}
		if c.closed {
			c.mu.Unlock()
			return nil, false
		}
		c.mu.Unlock()

		<-c.notify
	}
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

type ctxKey struct{}

// WithContext returns a copy of ctx carrying lc as the current execution context
func WithContext(ctx context.Context, lc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, lc)
}

// FromContext returns the execution context carried by ctx, or nil
func FromContext(ctx context.Context) *Context {
	lc, _ := ctx.Value(ctxKey{}).(*Context)
	return lc
}

// Emit queues build on the execution context carried by ctx.
// It reports false when ctx carries none.
func Emit(ctx context.Context, build Builder) bool {
	lc := FromContext(ctx)
	if lc == nil {
		return false
	}
	lc.Emit(build)
	return true
}

// Complete completes the execution context carried by ctx.
// With no context installed the returned channel is already closed.
func Complete(ctx context.Context) <-chan struct{} {
	lc := FromContext(ctx)
	if lc == nil {
		return closedChan
	}
	return lc.Complete()
}
