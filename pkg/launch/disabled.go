package launch

import (
	"context"

	"github.com/labring/testreport/pkg/common"
	"github.com/labring/testreport/pkg/config"
	"github.com/labring/testreport/pkg/logging"
	"github.com/labring/testreport/pkg/maybe"
)

// Disabled is the no-op launch used when reporting is turned off
type Disabled struct {
	params *config.ListenerParameters
}

var _ Launch = (*Disabled)(nil)

// NewDisabled creates a launch that never contacts the collector
func NewDisabled(params *config.ListenerParameters) *Disabled {
	return &Disabled{params: params}
}

// Start returns an empty handle
func (d *Disabled) Start() *maybe.Handle[string] {
	return maybe.Empty[string]()
}

// StartTestItem returns an empty handle
func (d *Disabled) StartTestItem(parent, retryOf *maybe.Handle[string], rq *common.StartTestItemRQ) *maybe.Handle[string] {
	return maybe.Empty[string]()
}

// FinishTestItem does nothing
func (d *Disabled) FinishTestItem(item *maybe.Handle[string], rq *common.FinishTestItemRQ) {}

// Finish returns immediately
func (d *Disabled) Finish(ctx context.Context, rq *common.FinishExecutionRQ) error {
	return nil
}

// Log drops the event
func (d *Disabled) Log(item *maybe.Handle[string], build logging.Builder) {}

// ExecutionContext always returns nil
func (d *Disabled) ExecutionContext(item *maybe.Handle[string]) *logging.Context {
	return nil
}

// Parameters returns the listener parameters the launch was created with
func (d *Disabled) Parameters() *config.ListenerParameters {
	return d.params
}
