package maybe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleStates(t *testing.T) {
	boom := errors.New("boom")

	testCases := []struct {
		name      string
		handle    *Handle[string]
		wantState State
		wantValue string
		wantOK    bool
		wantErr   error
	}{
		{"resolved", Of("item-1"), StateResolved, "item-1", true, nil},
		{"empty", Empty[string](), StateEmpty, "", false, nil},
		{"failed", Failed[string](boom), StateFailed, "", false, boom},
		{"nil handle", nil, StateEmpty, "", false, nil},
		{"fail with nil error", func() *Handle[string] { h := New[string](); h.Fail(nil); return h }(), StateEmpty, "", false, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wantState, tc.handle.State())

			v, ok, err := tc.handle.Wait(context.Background())
			assert.Equal(t, tc.wantValue, v)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantErr, err)

			select {
			case <-tc.handle.Done():
			default:
				t.Fatal("settled handle should have a closed Done channel")
			}
		})
	}
}

func TestHandleSettlesOnce(t *testing.T) {
	h := New[string]()
	assert.Equal(t, StatePending, h.State())

	assert.True(t, h.Resolve("first"))
	assert.False(t, h.Resolve("second"))
	assert.False(t, h.Clear())
	assert.False(t, h.Fail(errors.New("late")))

	v, ok, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "first", v)
}

func TestHandleWaitHonorsContext(t *testing.T) {
	h := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok, err := h.Wait(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatePending, h.State())
}

func TestHandleResolvesAcrossGoroutines(t *testing.T) {
	h := New[string]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		h.Resolve("late")
	}()

	v, ok, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "late", v)
}
