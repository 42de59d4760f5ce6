package launch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/labring/testreport/pkg/client"
	"github.com/labring/testreport/pkg/common"
	"github.com/labring/testreport/pkg/config"
	"github.com/labring/testreport/pkg/logging"
	"github.com/labring/testreport/pkg/maybe"
)

// node is one started test item tracked until its finish is delivered
type node struct {
	handle   *maybe.Handle[string]
	children []*node
	logs     *logging.Context

	finishRequested bool
	// finished is closed once the finish request returned or was skipped,
	// or when the launch finishes without the item's finish being requested
	finished chan struct{}
}

// Active reports to the collector through a client.Client
type Active struct {
	client     client.Client
	params     *config.ListenerParameters
	rq         *common.StartLaunchRQ
	logger     *slog.Logger
	onLogError func(err error)

	startOnce sync.Once
	launchID  *maybe.Handle[string]

	finishOnce sync.Once
	finishErr  error

	mu    sync.Mutex
	nodes map[*maybe.Handle[string]]*node
	// finishing is set once Finish begins; later operations are ignored
	finishing bool
	// pending is only added to under mu while finishing is false
	pending sync.WaitGroup
}

var _ Launch = (*Active)(nil)

// NewActive creates a launch that reports through c. A nil rq is built from params.
func NewActive(c client.Client, params *config.ListenerParameters, rq *common.StartLaunchRQ, opts ...Option) *Active {
	if params == nil {
		params = config.NewListenerParameters()
	}
	if rq == nil {
		rq = NewStartLaunchRQ(params)
	}

	a := &Active{
		client:   c,
		params:   params,
		rq:       rq,
		logger:   slog.Default(),
		launchID: maybe.New[string](),
		nodes:    make(map[*maybe.Handle[string]]*node),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Parameters returns the listener parameters the launch was created with
func (a *Active) Parameters() *config.ListenerParameters {
	return a.params
}

func (a *Active) logConfig() *logging.Config {
	cfg := logging.NewDefaultConfig()
	cfg.BatchSize = a.params.BatchLogsSize
	cfg.ConvertImages = a.params.ConvertImage
	cfg.Logger = a.logger
	cfg.OnError = a.onLogError
	return cfg
}

// Start sends the launch start request on first call only
func (a *Active) Start() *maybe.Handle[string] {
	a.startOnce.Do(func() {
		rq := *a.rq
		if rq.StartTime.IsZero() {
			rq.StartTime = time.Now()
		}

		started := a.track(func() {
			rs, err := a.client.StartLaunch(context.Background(), &rq)
			if err != nil {
				a.logger.Error("failed to start launch",
					slog.String("launch", rq.Name),
					slog.String("error", err.Error()),
				)
				a.launchID.Fail(err)
				return
			}

			a.logger.Info("launch started", slog.String("launch_id", rs.ID), slog.String("launch", rq.Name))
			a.launchID.Resolve(rs.ID)
		})
		if !started {
			a.launchID.Clear()
		}
	})
	return a.launchID
}

// track runs fn on a goroutine that Finish waits for. It reports false
// without running fn once Finish has begun.
func (a *Active) track(fn func()) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finishing {
		return false
	}
	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		fn()
	}()
	return true
}

// StartTestItem registers the item under parent right away and sends the
// start request once the launch, parent and retried item are known
func (a *Active) StartTestItem(parent, retryOf *maybe.Handle[string], rq *common.StartTestItemRQ) *maybe.Handle[string] {
	launchID := a.Start()

	var req common.StartTestItemRQ
	if rq != nil {
		req = *rq
	}

	a.mu.Lock()
	if a.finishing {
		a.mu.Unlock()
		a.logger.Warn("launch is finishing, test item not started", slog.String("item", req.Name))
		return maybe.Empty[string]()
	}

	item := maybe.New[string]()
	n := &node{
		handle:   item,
		logs:     logging.New(item, a.client, a.logConfig()),
		finished: make(chan struct{}),
	}
	if parent != nil {
		if p, ok := a.nodes[parent]; ok {
			p.children = append(p.children, n)
		}
	}
	a.nodes[item] = n
	a.pending.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.pending.Done()
		a.startItem(item, launchID, parent, retryOf, &req)
	}()

	return item
}

func (a *Active) startItem(item, launchID, parent, retryOf *maybe.Handle[string], rq *common.StartTestItemRQ) {
	ctx := context.Background()

	id, ok, err := launchID.Wait(ctx)
	if !ok {
		a.abandon(item, rq.Name, "launch", err)
		return
	}
	rq.LaunchID = id

	var parentID string
	if parent != nil {
		parentID, ok, err = parent.Wait(ctx)
		if !ok {
			a.abandon(item, rq.Name, "parent", err)
			return
		}
	}

	if retryOf != nil {
		retryID, ok, err := retryOf.Wait(ctx)
		if !ok {
			a.abandon(item, rq.Name, "retried item", err)
			return
		}
		rq.Retry = true
		rq.RetryOf = retryID
	}

	if rq.StartTime.IsZero() {
		rq.StartTime = time.Now()
	}

	rs, err := a.client.StartTestItem(ctx, parentID, rq)
	if err != nil {
		a.logger.Error("failed to start test item",
			slog.String("item", rq.Name),
			slog.String("parent_id", parentID),
			slog.String("error", err.Error()),
		)
		item.Fail(err)
		return
	}

	a.logger.Debug("test item started", slog.String("item_id", rs.ID), slog.String("item", rq.Name))
	item.Resolve(rs.ID)
}

// abandon settles item as absent because something it depends on never resolved
func (a *Active) abandon(item *maybe.Handle[string], name, dependency string, err error) {
	if err != nil {
		a.logger.Warn("test item not started",
			slog.String("item", name),
			slog.String("dependency", dependency),
			slog.String("error", err.Error()),
		)
	}
	item.Clear()
}

// FinishTestItem schedules the finish of item. The request is sent after every
// registered child has finished and item's logs are flushed.
func (a *Active) FinishTestItem(item *maybe.Handle[string], rq *common.FinishTestItemRQ) {
	if item == nil {
		return
	}
	req := a.finishRequest(rq)

	a.mu.Lock()
	if a.finishing {
		a.mu.Unlock()
		a.logger.Warn("launch is finishing, test item finish ignored")
		return
	}
	n, ok := a.nodes[item]
	if !ok {
		// not started through this launch
		n = &node{handle: item, finished: make(chan struct{})}
		a.nodes[item] = n
	}
	if n.finishRequested {
		a.mu.Unlock()
		a.logger.Warn("test item finish already scheduled, ignoring")
		return
	}
	n.finishRequested = true
	a.pending.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.pending.Done()
		a.finishItem(n, req)
	}()
}

func (a *Active) finishRequest(rq *common.FinishTestItemRQ) *common.FinishTestItemRQ {
	var req common.FinishTestItemRQ
	if rq != nil {
		req = *rq
	}
	if req.EndTime.IsZero() {
		req.EndTime = time.Now()
	}
	if !a.params.SkippedAnIssue && req.Status == common.StatusSkipped && req.Issue == nil {
		req.Issue = &common.Issue{IssueType: common.IssueNotIssue}
	}
	return &req
}

func (a *Active) finishItem(n *node, rq *common.FinishTestItemRQ) {
	defer close(n.finished)
	defer a.release(n)

	a.awaitChildren(n)

	if n.logs != nil {
		<-n.logs.Complete()
	}

	ctx := context.Background()
	id, ok, _ := n.handle.Wait(ctx)
	if !ok {
		return
	}

	if _, err := a.client.FinishTestItem(ctx, id, rq); err != nil {
		a.logger.Error("failed to finish test item",
			slog.String("item_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.Debug("test item finished", slog.String("item_id", id), slog.String("status", string(rq.Status)))
}

// awaitChildren blocks until every registered child has finished, including
// children registered while waiting
func (a *Active) awaitChildren(n *node) {
	for {
		var wait <-chan struct{}

		a.mu.Lock()
		for _, c := range n.children {
			if !isClosed(c.finished) {
				wait = c.finished
				break
			}
		}
		a.mu.Unlock()

		if wait == nil {
			return
		}
		<-wait
	}
}

// release drops what a finished node no longer needs. The node itself stays
// so a repeated finish of the same handle is recognized.
func (a *Active) release(n *node) {
	a.mu.Lock()
	n.children = nil
	n.logs = nil
	a.mu.Unlock()
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// ExecutionContext returns the execution context of a started item whose
// finish has not been requested yet, or nil once the launch is finishing
func (a *Active) ExecutionContext(item *maybe.Handle[string]) *logging.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.contextLocked(item)
}

func (a *Active) contextLocked(item *maybe.Handle[string]) *logging.Context {
	if a.finishing {
		return nil
	}
	n, ok := a.nodes[item]
	if !ok || n.finishRequested {
		return nil
	}
	return n.logs
}

// Log emits build on item's execution context. Items that are already
// finishing or unknown get a one-off context that Finish waits for.
// Logs emitted after Finish began are dropped.
func (a *Active) Log(item *maybe.Handle[string], build logging.Builder) {
	a.mu.Lock()
	if a.finishing {
		a.mu.Unlock()
		a.logger.Warn("launch is finishing, log event dropped")
		return
	}
	if lc := a.contextLocked(item); lc != nil {
		a.mu.Unlock()
		lc.Emit(build)
		return
	}
	a.pending.Add(1)
	a.mu.Unlock()

	lc := logging.New(item, a.client, a.logConfig())
	lc.Emit(build)
	done := lc.Complete()

	go func() {
		defer a.pending.Done()
		<-done
	}()
}

// Finish waits for pending operations, flushes the logs of items that were
// never finished and finishes the launch. It is bounded by ctx and by the
// reporting timeout. Log delivery failures are not returned.
func (a *Active) Finish(ctx context.Context, rq *common.FinishExecutionRQ) error {
	a.finishOnce.Do(func() {
		a.finishErr = a.finish(ctx, rq)
	})
	return a.finishErr
}

func (a *Active) finish(ctx context.Context, rq *common.FinishExecutionRQ) error {
	ctx, cancel := context.WithTimeout(ctx, a.params.ReportingTimeout())
	defer cancel()

	launchID := a.Start()

	// Items whose finish was never requested will not be finished. Closing
	// their finished channels lets parents waiting on them proceed.
	a.mu.Lock()
	a.finishing = true
	var open []*logging.Context
	for _, n := range a.nodes {
		if n.finishRequested {
			continue
		}
		close(n.finished)
		if n.logs != nil {
			open = append(open, n.logs)
		}
	}
	a.mu.Unlock()

	if err := a.waitPending(ctx); err != nil {
		return err
	}

	for _, lc := range open {
		select {
		case <-lc.Complete():
		case <-ctx.Done():
			return fmt.Errorf("timed out flushing unfinished item logs: %w", ctx.Err())
		}
	}

	id, ok, err := launchID.Wait(ctx)
	if err != nil {
		return fmt.Errorf("launch was not started: %w", err)
	}
	if !ok {
		return nil
	}

	var req common.FinishExecutionRQ
	if rq != nil {
		req = *rq
	}
	if req.EndTime.IsZero() {
		req.EndTime = time.Now()
	}

	if _, err := a.client.FinishLaunch(ctx, id, &req); err != nil {
		a.logger.Error("failed to finish launch", slog.String("launch_id", id), slog.String("error", err.Error()))
		return err
	}

	a.logger.Info("launch finished", slog.String("launch_id", id))
	return nil
}

func (a *Active) waitPending(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for pending reporting operations: %w", ctx.Err())
	}
}
