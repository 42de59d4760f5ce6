// Package clienttest provides an in-memory delivery client that records every call
package clienttest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/labring/testreport/pkg/client"
	"github.com/labring/testreport/pkg/common"
)

// CallKind identifies a recorded delivery client method
type CallKind string

const (
	CallStartLaunch    CallKind = "StartLaunch"
	CallFinishLaunch   CallKind = "FinishLaunch"
	CallStartTestItem  CallKind = "StartTestItem"
	CallFinishTestItem CallKind = "FinishTestItem"
	CallLog            CallKind = "Log"
)

// Call is one recorded invocation. ID is the created or targeted entity.
type Call struct {
	Kind     CallKind
	ID       string
	ParentID string
	Name     string
	Payload  *client.LogPayload
	Start    *common.StartTestItemRQ
	Finish   *common.FinishTestItemRQ
	At       time.Time
}

// Recorder is a goroutine-safe fake client.Client
type Recorder struct {
	// Delay is applied before every call returns
	Delay time.Duration
	// FailLog, when set, decides whether a log batch fails
	FailLog func(payload *client.LogPayload) error
	// FailStart, when set, decides whether an item start fails
	FailStart func(rq *common.StartTestItemRQ) error

	mu    sync.Mutex
	calls []Call
	names map[string]string
}

var _ client.Client = (*Recorder)(nil)

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{names: make(map[string]string)}
}

func (r *Recorder) record(c Call) {
	c.At = time.Now()
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

func (r *Recorder) wait(ctx context.Context) error {
	if r.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(r.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartLaunch records a launch start
func (r *Recorder) StartLaunch(ctx context.Context, rq *common.StartLaunchRQ) (*common.EntryCreatedRS, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	r.record(Call{Kind: CallStartLaunch, ID: id, Name: rq.Name})
	return &common.EntryCreatedRS{ID: id}, nil
}

// FinishLaunch records a launch finish
func (r *Recorder) FinishLaunch(ctx context.Context, launchID string, rq *common.FinishExecutionRQ) (*common.OperationCompletionRS, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.record(Call{Kind: CallFinishLaunch, ID: launchID})
	return &common.OperationCompletionRS{Message: "finished"}, nil
}

// StartTestItem records an item start
func (r *Recorder) StartTestItem(ctx context.Context, parentID string, rq *common.StartTestItemRQ) (*common.EntryCreatedRS, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	if r.FailStart != nil {
		if err := r.FailStart(rq); err != nil {
			return nil, err
		}
	}
	id := uuid.NewString()
	r.mu.Lock()
	r.names[id] = rq.Name
	r.mu.Unlock()
	r.record(Call{Kind: CallStartTestItem, ID: id, ParentID: parentID, Name: rq.Name, Start: rq})
	return &common.EntryCreatedRS{ID: id}, nil
}

// FinishTestItem records an item finish
func (r *Recorder) FinishTestItem(ctx context.Context, itemID string, rq *common.FinishTestItemRQ) (*common.OperationCompletionRS, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.record(Call{Kind: CallFinishTestItem, ID: itemID, Name: r.NameOf(itemID), Finish: rq})
	return &common.OperationCompletionRS{Message: "finished"}, nil
}

// Log records a log batch
func (r *Recorder) Log(ctx context.Context, payload *client.LogPayload) (*common.BatchSaveOperatingRS, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.record(Call{Kind: CallLog, Payload: payload})
	if r.FailLog != nil {
		if err := r.FailLog(payload); err != nil {
			return nil, err
		}
	}
	rs := &common.BatchSaveOperatingRS{}
	for range payload.Requests {
		rs.Responses = append(rs.Responses, common.BatchElementCreatedRS{ID: uuid.NewString()})
	}
	return rs, nil
}

// Calls returns a snapshot of every recorded call in order
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsOf returns the recorded calls of one kind in order
func (r *Recorder) CallsOf(kind CallKind) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// BatchSizes returns the number of events of every recorded log batch
func (r *Recorder) BatchSizes() []int {
	var sizes []int
	for _, c := range r.CallsOf(CallLog) {
		sizes = append(sizes, len(c.Payload.Requests))
	}
	return sizes
}

// NameOf returns the name an item was started with
func (r *Recorder) NameOf(itemID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.names[itemID]
}
