// Package client defines the delivery contract towards the collector and an
// HTTP implementation of it.
package client

import (
	"context"

	"github.com/labring/testreport/pkg/common"
)

// LogSender ships log batches. Implementations must be safe for concurrent use.
type LogSender interface {
	Log(ctx context.Context, payload *LogPayload) (*common.BatchSaveOperatingRS, error)
}

// Client is the delivery client shared by every launch, item and log batcher
type Client interface {
	LogSender

	StartLaunch(ctx context.Context, rq *common.StartLaunchRQ) (*common.EntryCreatedRS, error)
	FinishLaunch(ctx context.Context, launchID string, rq *common.FinishExecutionRQ) (*common.OperationCompletionRS, error)

	// StartTestItem starts a root item when parentID is empty
	StartTestItem(ctx context.Context, parentID string, rq *common.StartTestItemRQ) (*common.EntryCreatedRS, error)
	FinishTestItem(ctx context.Context, itemID string, rq *common.FinishTestItemRQ) (*common.OperationCompletionRS, error)
}
