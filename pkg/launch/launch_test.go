package launch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labring/testreport/pkg/client/clienttest"
	"github.com/labring/testreport/pkg/common"
	"github.com/labring/testreport/pkg/config"
	"github.com/labring/testreport/pkg/logging"
	"github.com/labring/testreport/pkg/maybe"
)

func testParams() *config.ListenerParameters {
	p := config.NewListenerParameters()
	p.Endpoint = "http://collector"
	p.Project = "demo"
	p.Launch = "unit"
	p.ReportingTimeoutSeconds = 10
	return p
}

func startItem(name string) *common.StartTestItemRQ {
	return &common.StartTestItemRQ{Name: name, Type: common.ItemTypeTest}
}

func passed() *common.FinishTestItemRQ {
	return &common.FinishTestItemRQ{Status: common.StatusPassed}
}

func resolved(t *testing.T, h *maybe.Handle[string]) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, ok, err := h.Wait(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	return id
}

// finishIndex returns the position of the finish call of id among all recorded calls
func finishIndex(calls []clienttest.Call, id string) int {
	for i, c := range calls {
		if c.Kind == clienttest.CallFinishTestItem && c.ID == id {
			return i
		}
	}
	return -1
}

func TestNew_SelectsVariant(t *testing.T) {
	rec := clienttest.NewRecorder()

	enabled := testParams()
	assert.IsType(t, &Active{}, New(rec, enabled, nil))

	disabled := testParams()
	disabled.Enable = false
	l := New(rec, disabled, nil)
	assert.IsType(t, &Disabled{}, l)
	assert.Same(t, disabled, l.Parameters())

	assert.IsType(t, &Active{}, New(rec, nil, nil), "nil parameters use enabled defaults")
}

func TestActive_StartIsIdempotent(t *testing.T) {
	rec := clienttest.NewRecorder()
	l := NewActive(rec, testParams(), nil)

	first := l.Start()
	second := l.Start()
	assert.Same(t, first, second)

	resolved(t, first)
	require.NoError(t, l.Finish(context.Background(), nil))

	starts := rec.CallsOf(clienttest.CallStartLaunch)
	require.Len(t, starts, 1)
	assert.Equal(t, "unit", starts[0].Name)
	assert.Len(t, rec.CallsOf(clienttest.CallFinishLaunch), 1)
}

func TestActive_ParentFinishesAfterChildren(t *testing.T) {
	rec := clienttest.NewRecorder()
	rec.Delay = 10 * time.Millisecond
	l := NewActive(rec, testParams(), nil)

	suite := l.StartTestItem(nil, nil, startItem("suite"))
	var tests []*maybe.Handle[string]
	var steps []*maybe.Handle[string]
	for i := 0; i < 3; i++ {
		test := l.StartTestItem(suite, nil, startItem(fmt.Sprintf("test-%d", i)))
		tests = append(tests, test)
		for j := 0; j < 2; j++ {
			steps = append(steps, l.StartTestItem(test, nil, startItem(fmt.Sprintf("step-%d-%d", i, j))))
		}
	}

	// Finish requests are issued before any item has resolved
	for i, test := range tests {
		l.FinishTestItem(steps[2*i], passed())
		l.FinishTestItem(steps[2*i+1], passed())
		l.FinishTestItem(test, passed())
	}
	l.FinishTestItem(suite, passed())

	require.NoError(t, l.Finish(context.Background(), &common.FinishExecutionRQ{Status: common.StatusPassed}))

	calls := rec.Calls()
	suiteID := resolved(t, suite)
	suiteIdx := finishIndex(calls, suiteID)
	require.NotEqual(t, -1, suiteIdx)

	for i, test := range tests {
		testID := resolved(t, test)
		testIdx := finishIndex(calls, testID)
		require.NotEqual(t, -1, testIdx)
		assert.Less(t, testIdx, suiteIdx, "test finish must precede suite finish")

		for _, step := range steps[2*i : 2*i+2] {
			stepIdx := finishIndex(calls, resolved(t, step))
			require.NotEqual(t, -1, stepIdx)
			assert.Less(t, stepIdx, testIdx, "step finish must precede test finish")
		}
	}

	last := calls[len(calls)-1]
	assert.Equal(t, clienttest.CallFinishLaunch, last.Kind, "launch finish must be the last call")
}

func TestActive_ParentWaitsForLaterChildFinish(t *testing.T) {
	rec := clienttest.NewRecorder()
	l := NewActive(rec, testParams(), nil)

	suite := l.StartTestItem(nil, nil, startItem("suite"))
	test := l.StartTestItem(suite, nil, startItem("test"))
	testID := resolved(t, test)

	l.FinishTestItem(suite, passed())
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.CallsOf(clienttest.CallFinishTestItem), "suite must wait for its started test")

	l.FinishTestItem(test, passed())
	require.NoError(t, l.Finish(context.Background(), nil))

	calls := rec.Calls()
	suiteIdx := finishIndex(calls, resolved(t, suite))
	testIdx := finishIndex(calls, testID)
	require.NotEqual(t, -1, suiteIdx)
	require.NotEqual(t, -1, testIdx)
	assert.Less(t, testIdx, suiteIdx, "test finish must precede suite finish")
}

func TestActive_FinishReleasesParentOfUnfinishedChild(t *testing.T) {
	rec := clienttest.NewRecorder()
	l := NewActive(rec, testParams(), nil)

	suite := l.StartTestItem(nil, nil, startItem("suite"))
	l.StartTestItem(suite, nil, startItem("abandoned"))
	l.FinishTestItem(suite, passed())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.Finish(ctx, nil))

	finishes := rec.CallsOf(clienttest.CallFinishTestItem)
	require.Len(t, finishes, 1)
	assert.Equal(t, resolved(t, suite), finishes[0].ID)

	calls := rec.Calls()
	assert.Equal(t, clienttest.CallFinishLaunch, calls[len(calls)-1].Kind)
}

func TestActive_OperationsAfterFinishAreIgnored(t *testing.T) {
	rec := clienttest.NewRecorder()
	l := NewActive(rec, testParams(), nil)

	item := l.StartTestItem(nil, nil, startItem("item"))
	require.NoError(t, l.Finish(context.Background(), nil))
	before := len(rec.Calls())

	late := l.StartTestItem(nil, nil, startItem("late"))
	assert.Equal(t, maybe.StateEmpty, late.State())
	l.Log(item, logging.Message(common.LevelInfo, "too late"))
	l.FinishTestItem(item, passed())
	assert.Nil(t, l.ExecutionContext(item))

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.Calls(), before)
	assert.Equal(t, clienttest.CallFinishLaunch, rec.Calls()[before-1].Kind)
}

func TestActive_StartRequestsCarryParentAndLaunch(t *testing.T) {
	rec := clienttest.NewRecorder()
	l := NewActive(rec, testParams(), nil)

	launchID := resolved(t, l.Start())
	parent := l.StartTestItem(nil, nil, startItem("parent"))
	child := l.StartTestItem(parent, nil, startItem("child"))

	parentID := resolved(t, parent)
	childID := resolved(t, child)
	require.NoError(t, l.Finish(context.Background(), nil))

	for _, c := range rec.CallsOf(clienttest.CallStartTestItem) {
		assert.Equal(t, launchID, c.Start.LaunchID)
		assert.False(t, c.Start.StartTime.IsZero())
		switch c.ID {
		case parentID:
			assert.Empty(t, c.ParentID)
		case childID:
			assert.Equal(t, parentID, c.ParentID)
		default:
			t.Fatalf("unexpected item %s", c.ID)
		}
	}
}

func TestActive_FailedParentYieldsEmptyChild(t *testing.T) {
	rec := clienttest.NewRecorder()
	rec.FailStart = func(rq *common.StartTestItemRQ) error {
		if rq.Name == "broken" {
			return errors.New("rejected")
		}
		return nil
	}
	l := NewActive(rec, testParams(), nil)

	parent := l.StartTestItem(nil, nil, startItem("broken"))
	child := l.StartTestItem(parent, nil, startItem("orphan"))
	l.Log(child, logging.Message(common.LevelInfo, "never sent"))
	l.FinishTestItem(child, passed())
	l.FinishTestItem(parent, passed())

	require.NoError(t, l.Finish(context.Background(), nil))

	assert.Equal(t, maybe.StateFailed, parent.State())
	assert.Equal(t, maybe.StateEmpty, child.State())
	assert.Empty(t, rec.CallsOf(clienttest.CallStartTestItem))
	assert.Empty(t, rec.CallsOf(clienttest.CallFinishTestItem))
	assert.Empty(t, rec.CallsOf(clienttest.CallLog))
}

func TestActive_EmptyParentYieldsEmptyChild(t *testing.T) {
	rec := clienttest.NewRecorder()
	l := NewActive(rec, testParams(), nil)

	child := l.StartTestItem(maybe.Empty[string](), nil, startItem("child"))
	require.NoError(t, l.Finish(context.Background(), nil))

	assert.Equal(t, maybe.StateEmpty, child.State())
	assert.Empty(t, rec.CallsOf(clienttest.CallStartTestItem))
}

func TestActive_Retry(t *testing.T) {
	rec := clienttest.NewRecorder()
	l := NewActive(rec, testParams(), nil)

	first := l.StartTestItem(nil, nil, startItem("flaky"))
	l.FinishTestItem(first, &common.FinishTestItemRQ{Status: common.StatusFailed, Retry: true})
	retry := l.StartTestItem(nil, first, startItem("flaky"))
	l.FinishTestItem(retry, passed())

	require.NoError(t, l.Finish(context.Background(), nil))

	firstID := resolved(t, first)
	retryID := resolved(t, retry)
	for _, c := range rec.CallsOf(clienttest.CallStartTestItem) {
		if c.ID == retryID {
			assert.True(t, c.Start.Retry)
			assert.Equal(t, firstID, c.Start.RetryOf)
		} else {
			assert.False(t, c.Start.Retry)
			assert.Empty(t, c.Start.RetryOf)
		}
	}
}

func TestActive_SkippedIssue(t *testing.T) {
	testCases := []struct {
		name           string
		skippedAnIssue bool
		status         common.Status
		expectedIssue  *common.Issue
	}{
		{"skipped counted as issue", true, common.StatusSkipped, nil},
		{"skipped not an issue", false, common.StatusSkipped, &common.Issue{IssueType: common.IssueNotIssue}},
		{"passed untouched", false, common.StatusPassed, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := clienttest.NewRecorder()
			params := testParams()
			params.SkippedAnIssue = tc.skippedAnIssue
			l := NewActive(rec, params, nil)

			item := l.StartTestItem(nil, nil, startItem("item"))
			l.FinishTestItem(item, &common.FinishTestItemRQ{Status: tc.status})
			require.NoError(t, l.Finish(context.Background(), nil))

			finishes := rec.CallsOf(clienttest.CallFinishTestItem)
			require.Len(t, finishes, 1)
			assert.Equal(t, tc.expectedIssue, finishes[0].Finish.Issue)
			assert.False(t, finishes[0].Finish.EndTime.IsZero())
		})
	}
}

func TestActive_LogsDeliveredBeforeItemFinish(t *testing.T) {
	rec := clienttest.NewRecorder()
	params := testParams()
	params.BatchLogsSize = 2
	l := NewActive(rec, params, nil)

	item := l.StartTestItem(nil, nil, startItem("item"))
	for i := 0; i < 5; i++ {
		l.Log(item, logging.Message(common.LevelInfo, fmt.Sprintf("line %d", i)))
	}
	l.FinishTestItem(item, passed())
	require.NoError(t, l.Finish(context.Background(), nil))

	itemID := resolved(t, item)
	calls := rec.Calls()
	finishIdx := finishIndex(calls, itemID)
	require.NotEqual(t, -1, finishIdx)

	assert.Equal(t, []int{2, 2, 1}, rec.BatchSizes())
	for i, c := range calls {
		if c.Kind != clienttest.CallLog {
			continue
		}
		assert.Less(t, i, finishIdx, "log batch must precede item finish")
		for _, rq := range c.Payload.Requests {
			assert.Equal(t, itemID, rq.ItemID)
		}
	}
}

func TestActive_FinishFlushesUnfinishedItems(t *testing.T) {
	rec := clienttest.NewRecorder()
	l := NewActive(rec, testParams(), nil)

	item := l.StartTestItem(nil, nil, startItem("forgotten"))
	l.Log(item, logging.Message(common.LevelWarn, "still delivered"))

	require.NoError(t, l.Finish(context.Background(), nil))

	calls := rec.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, []int{1}, rec.BatchSizes())
	assert.Empty(t, rec.CallsOf(clienttest.CallFinishTestItem))
	assert.Equal(t, clienttest.CallFinishLaunch, calls[len(calls)-1].Kind)
}

func TestActive_LogAfterFinishRequested(t *testing.T) {
	rec := clienttest.NewRecorder()
	l := NewActive(rec, testParams(), nil)

	item := l.StartTestItem(nil, nil, startItem("item"))
	l.FinishTestItem(item, passed())
	assert.Nil(t, l.ExecutionContext(item))

	l.Log(item, logging.Message(common.LevelInfo, "late"))
	require.NoError(t, l.Finish(context.Background(), nil))

	assert.Equal(t, []int{1}, rec.BatchSizes(), "late logs go through a one-off context")
}

func TestActive_ExecutionContextScoping(t *testing.T) {
	rec := clienttest.NewRecorder()
	l := NewActive(rec, testParams(), nil)

	item := l.StartTestItem(nil, nil, startItem("item"))
	ctx := logging.WithContext(context.Background(), l.ExecutionContext(item))
	require.True(t, logging.Emit(ctx, logging.Message(common.LevelInfo, "via context")))

	l.FinishTestItem(item, passed())
	require.NoError(t, l.Finish(context.Background(), nil))

	assert.Equal(t, []int{1}, rec.BatchSizes())
}

func TestActive_DoubleFinishIgnored(t *testing.T) {
	rec := clienttest.NewRecorder()
	l := NewActive(rec, testParams(), nil)

	item := l.StartTestItem(nil, nil, startItem("item"))
	l.FinishTestItem(item, passed())
	l.FinishTestItem(item, passed())
	require.NoError(t, l.Finish(context.Background(), nil))
	require.NoError(t, l.Finish(context.Background(), nil))

	assert.Len(t, rec.CallsOf(clienttest.CallFinishTestItem), 1)
	assert.Len(t, rec.CallsOf(clienttest.CallFinishLaunch), 1)
}

func TestActive_FinishTimeout(t *testing.T) {
	rec := clienttest.NewRecorder()
	rec.Delay = 2 * time.Second
	l := NewActive(rec, testParams(), nil)

	l.StartTestItem(nil, nil, startItem("slow"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.Finish(ctx, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestActive_FailedLaunch(t *testing.T) {
	rec := clienttest.NewRecorder()
	l := NewActive(&failingLaunchClient{Recorder: rec}, testParams(), nil)

	item := l.StartTestItem(nil, nil, startItem("item"))
	l.FinishTestItem(item, passed())

	err := l.Finish(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collector down")
	assert.Equal(t, maybe.StateEmpty, item.State())
	assert.Empty(t, rec.Calls())
}

func TestActive_FinishCancelled(t *testing.T) {
	rec := clienttest.NewRecorder()
	rec.Delay = 100 * time.Millisecond
	l := NewActive(rec, testParams(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, l.Finish(ctx, nil), context.Canceled)
}

type failingLaunchClient struct {
	*clienttest.Recorder
}

func (f *failingLaunchClient) StartLaunch(ctx context.Context, rq *common.StartLaunchRQ) (*common.EntryCreatedRS, error) {
	return nil, errors.New("collector down")
}

func TestDisabled_MakesNoCalls(t *testing.T) {
	rec := clienttest.NewRecorder()
	params := testParams()
	params.Enable = false
	l := New(rec, params, nil)

	assert.Equal(t, maybe.StateEmpty, l.Start().State())

	suite := l.StartTestItem(nil, nil, startItem("suite"))
	test := l.StartTestItem(suite, suite, startItem("test"))
	assert.Equal(t, maybe.StateEmpty, suite.State())
	assert.Equal(t, maybe.StateEmpty, test.State())
	assert.Nil(t, l.ExecutionContext(test))

	l.Log(test, logging.Message(common.LevelInfo, "ignored"))
	l.FinishTestItem(test, passed())
	l.FinishTestItem(suite, passed())
	require.NoError(t, l.Finish(context.Background(), nil))

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.Calls())
}

func TestNewStartLaunchRQ(t *testing.T) {
	params := testParams()
	params.Description = "nightly"
	params.Mode = common.ModeDebug
	params.Tags = config.TagSet{"a", "b"}
	params.Rerun = true

	rq := NewStartLaunchRQ(params)
	assert.Equal(t, "unit", rq.Name)
	assert.Equal(t, "nightly", rq.Description)
	assert.Equal(t, common.ModeDebug, rq.Mode)
	assert.Equal(t, []string{"a", "b"}, rq.Tags)
	assert.True(t, rq.Rerun)
	assert.False(t, rq.StartTime.IsZero())
}
