// Package launch reports a tree of test items to the collector without
// blocking the tests that produce it.
package launch

import (
	"context"
	"log/slog"
	"time"

	"github.com/labring/testreport/pkg/client"
	"github.com/labring/testreport/pkg/common"
	"github.com/labring/testreport/pkg/config"
	"github.com/labring/testreport/pkg/logging"
	"github.com/labring/testreport/pkg/maybe"
)

// Launch is the lifecycle contract shared by the active and disabled variants.
// Every method except Finish returns immediately.
type Launch interface {
	// Start starts the launch once and returns the launch ID handle
	Start() *maybe.Handle[string]
	// StartTestItem starts a root item when parent is nil. When retryOf is not
	// nil the item is reported as a retry of it.
	StartTestItem(parent, retryOf *maybe.Handle[string], rq *common.StartTestItemRQ) *maybe.Handle[string]
	// FinishTestItem schedules the finish of item after every started child has finished
	FinishTestItem(item *maybe.Handle[string], rq *common.FinishTestItemRQ)
	// Finish blocks until pending operations complete, then finishes the launch
	Finish(ctx context.Context, rq *common.FinishExecutionRQ) error
	// Log emits a log event on item's execution context
	Log(item *maybe.Handle[string], build logging.Builder)
	// ExecutionContext returns item's execution context, or nil
	ExecutionContext(item *maybe.Handle[string]) *logging.Context
	// Parameters returns the listener parameters in effect
	Parameters() *config.ListenerParameters
}

// Option configures an active launch
type Option func(*Active)

// WithLogger sets the logger used for reporting diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(a *Active) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithLogErrorHandler receives log batches that failed to deliver
func WithLogErrorHandler(fn func(err error)) Option {
	return func(a *Active) {
		a.onLogError = fn
	}
}

// New returns a Disabled launch when params.Enable is false, otherwise an Active one
func New(c client.Client, params *config.ListenerParameters, rq *common.StartLaunchRQ, opts ...Option) Launch {
	if params == nil {
		params = config.NewListenerParameters()
	}
	if !params.Enable {
		return NewDisabled(params)
	}
	return NewActive(c, params, rq, opts...)
}

// NewStartLaunchRQ builds a launch start request from params
func NewStartLaunchRQ(params *config.ListenerParameters) *common.StartLaunchRQ {
	return &common.StartLaunchRQ{
		Name:        params.Launch,
		Description: params.Description,
		StartTime:   time.Now(),
		Mode:        params.Mode,
		Tags:        append([]string(nil), params.Tags...),
		Rerun:       params.Rerun,
	}
}
