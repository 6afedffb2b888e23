package ingest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoop(h *harness, cursor *Cursor, mode string, limit int) *Loop {
	return NewLoop(h.pipeline, cursor, LoopOptions{Mode: mode, PageLimit: limit, PageTimeout: time.Minute}, nil, nil)
}

func TestStep_WalksHistoryBackward(t *testing.T) {
	ctx := context.Background()
	h := newHarness(10, newFakeLedger(sigs("s", 25)...))
	cursor := NewCursor("gm", Window{}, newMemCheckpoints())
	loop := newTestLoop(h, cursor, "sync", 10)

	var befores []int
	for i := 0; i < 3; i++ {
		stats, err := loop.Step(ctx)
		require.NoError(t, err)
		assert.Greater(t, stats.Total, 0)
		befores = append(befores, h.ledger.index(cursor.Window().Before))
	}
	assert.Equal(t, []int{9, 19, 24}, befores, "the cursor only moves toward older signatures")
	assert.Equal(t, 25, h.store.len())

	stats, err := loop.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
	assert.Empty(t, cursor.Window().Before, "an exhausted walk restarts at the head")

	stats, err = loop.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.AlreadyPresent)
	assert.Equal(t, 0, stats.Written)
}

func TestStep_FailureKeepsCursor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(10, newFakeLedger(sigs("s", 25)...))
	cursor := NewCursor("gm", Window{}, nil)
	loop := newTestLoop(h, cursor, "sync", 10)

	_, err := loop.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, "s09", cursor.Window().Before)

	h.ledger.failures = 1
	_, err = loop.Step(ctx)
	var fetch *PageFetchFailure
	require.ErrorAs(t, err, &fetch)
	assert.Equal(t, "s09", cursor.Window().Before)

	h.store.failOn["s12"] = 1
	_, err = loop.Step(ctx)
	require.Error(t, err)
	assert.Equal(t, "s09", cursor.Window().Before)
	assert.Equal(t, "persist_failed", pageStatus(err))

	stats, err := loop.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.AlreadyPresent, "s10 and s11 were stored before the failure")
	assert.Equal(t, 8, stats.Written)
	assert.Equal(t, "s19", cursor.Window().Before)
}

func TestStep_DecodeFailureAdvances(t *testing.T) {
	h := newHarness(10, newFakeLedger(sigs("s", 3)...))
	h.decoder.fail["s02"] = true
	cursor := NewCursor("gm", Window{}, nil)

	stats, err := newTestLoop(h, cursor, "sync", 10).Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, "s02", cursor.Window().Before)
}

// cancellingProcessor cancels the loop's context from inside a page and
// records whether the page's own context survived it.
type cancellingProcessor struct {
	inner      PageProcessor
	cancel     context.CancelFunc
	calls      atomic.Int32
	cancelAt   int32
	pageCtxErr error
}

func (p *cancellingProcessor) ProcessPage(ctx context.Context, w Window) (*Stats, error) {
	if p.calls.Add(1) == p.cancelAt {
		p.cancel()
		time.Sleep(10 * time.Millisecond)
		p.pageCtxErr = ctx.Err()
	}
	return p.inner.ProcessPage(ctx, w)
}

func TestRunPoll_ShutdownFinishesPage(t *testing.T) {
	h := newHarness(10, newFakeLedger(sigs("s", 50)...))
	ctx, cancel := context.WithCancel(context.Background())
	proc := &cancellingProcessor{inner: h.pipeline, cancel: cancel, cancelAt: 3}
	cursor := NewCursor("gm", Window{}, newMemCheckpoints())
	loop := NewLoop(proc, cursor, LoopOptions{Mode: "sync", PageLimit: 10, PageTimeout: time.Minute}, nil, nil)

	require.NoError(t, loop.RunPoll(ctx))

	assert.Equal(t, int32(3), proc.calls.Load())
	assert.NoError(t, proc.pageCtxErr)
	assert.Equal(t, 30, h.store.len())
	assert.Equal(t, "s29", cursor.Window().Before)
}

func TestDrain_CatchesUpToLastSeen(t *testing.T) {
	ctx := context.Background()
	h := newHarness(10, newFakeLedger(sigs("s", 25)...))
	cursor := NewCursor("gm-react", Window{}, newMemCheckpoints())
	loop := newTestLoop(h, cursor, "react", 10)

	require.NoError(t, loop.Drain(ctx))
	assert.Equal(t, 10, h.store.len(), "without a last seen signature only the newest page is read")
	assert.Equal(t, "s00", cursor.Window().Until)

	h.ledger.prepend(sigs("n", 23)...)
	require.NoError(t, loop.Drain(ctx))
	assert.Equal(t, 33, h.store.len())
	assert.Equal(t, "n00", cursor.Window().Until)

	calls := len(h.ledger.calls)
	require.NoError(t, loop.Drain(ctx))
	assert.Equal(t, calls+1, len(h.ledger.calls))
	assert.Equal(t, "n00", cursor.Window().Until)
}

func TestDrain_FailureKeepsLastSeen(t *testing.T) {
	ctx := context.Background()
	h := newHarness(10, newFakeLedger(sigs("s", 5)...))
	cursor := NewCursor("gm-react", Window{Until: "s02"}, nil)
	loop := newTestLoop(h, cursor, "react", 10)

	h.ledger.failures = 1
	require.Error(t, loop.Drain(ctx))
	assert.Equal(t, "s02", cursor.Window().Until)

	require.NoError(t, loop.Drain(ctx))
	assert.Equal(t, "s00", cursor.Window().Until)
	assert.Equal(t, 2, h.store.len())
}

func TestRunReact_DrainsOnNotification(t *testing.T) {
	h := newHarness(10, newFakeLedger(sigs("s", 4)...))
	cursor := NewCursor("gm-react", Window{}, nil)
	loop := newTestLoop(h, cursor, "react", 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notify := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- loop.RunReact(ctx, notify) }()

	notify <- struct{}{}
	require.Eventually(t, func() bool { return h.store.len() == 4 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunReact did not stop")
	}
}

func TestRunReact_DrainsOnStartup(t *testing.T) {
	h := newHarness(10, newFakeLedger(sigs("s", 3)...))
	cursor := NewCursor("gm-react", Window{}, nil)
	loop := newTestLoop(h, cursor, "react", 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loop.RunReact(ctx, make(chan struct{})) }()

	require.Eventually(t, func() bool { return h.store.len() == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return cursor.Window().Until != "" }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunReact did not stop")
	}
}

func TestRunReact_ClosedChannel(t *testing.T) {
	h := newHarness(10, newFakeLedger())
	loop := newTestLoop(h, NewCursor("gm-react", Window{}, nil), "react", 10)

	notify := make(chan struct{})
	close(notify)
	assert.NoError(t, loop.RunReact(context.Background(), notify))
}

func TestStats_Position(t *testing.T) {
	bt := int64(0)
	s := &Stats{Oldest: "sig", OldestBlockTime: &bt}
	assert.Equal(t, "sig - Thu, 01 Jan 1970 00:00:00 UTC", s.Position())
}
