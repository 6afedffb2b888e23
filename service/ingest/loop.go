package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/brojonat/tradewatch/service/db"
	"github.com/brojonat/tradewatch/service/metrics"
)

// PageProcessor handles one page bounded by a window.
type PageProcessor interface {
	ProcessPage(ctx context.Context, w Window) (*Stats, error)
}

// LoopOptions tune the ingestion loop.
type LoopOptions struct {
	// Mode labels log lines and metrics, e.g. "sync" or "react".
	Mode        string
	Sleep       time.Duration
	PageTimeout time.Duration
	PageLimit   int
}

// Loop runs pages one after another on a single goroutine.
type Loop struct {
	pages   PageProcessor
	cursor  *Cursor
	opts    LoopOptions
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewLoop(pages PageProcessor, cursor *Cursor, opts LoopOptions, m *metrics.Metrics, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 5 * time.Minute
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = 10
	}
	return &Loop{
		pages:   pages,
		cursor:  cursor,
		opts:    opts,
		metrics: m,
		logger:  logger.With("component", "ingest_loop", "mode", opts.Mode),
	}
}

// runPage processes one page on a context that ignores cancellation of
// ctx, so a shutdown lets the page in flight finish. PageTimeout still
// bounds it.
func (l *Loop) runPage(ctx context.Context, w Window) (*Stats, error) {
	pageCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.opts.PageTimeout)
	defer cancel()

	start := time.Now()
	stats, err := l.pages.ProcessPage(pageCtx, w)
	if l.metrics != nil {
		l.metrics.RecordPage(l.opts.Mode, pageStatus(err), time.Since(start).Seconds())
	}
	if err != nil {
		l.logger.ErrorContext(ctx, "page failed",
			"before", w.Before,
			"until", w.Until,
			"status", pageStatus(err),
			"error", err,
		)
		return stats, err
	}

	l.logger.InfoContext(ctx, stats.Summary(l.opts.Mode))
	if stats.Oldest != "" {
		l.logger.InfoContext(ctx, stats.Position())
	}
	return stats, nil
}

func pageStatus(err error) string {
	var (
		fetch   *PageFetchFailure
		persist *db.PersistenceFailure
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &fetch):
		return "fetch_failed"
	case errors.As(err, &persist):
		return "persist_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// Step runs one poll iteration: process the page at the current window and
// advance the cursor to its oldest signature. An empty page means the walk
// reached the start of history and the cursor goes back to the head. On
// error the cursor does not move.
func (l *Loop) Step(ctx context.Context) (*Stats, error) {
	w := l.cursor.Window()
	stats, err := l.runPage(ctx, w)
	if err != nil {
		return stats, err
	}

	// The checkpoint must land even when shutdown began during the page.
	saveCtx := context.WithoutCancel(ctx)
	if stats.Total == 0 {
		if w.Before != "" {
			l.logger.InfoContext(ctx, "reached end of history, restarting from head", "before", w.Before)
			if err := l.cursor.Reset(saveCtx); err != nil {
				l.logger.WarnContext(ctx, "failed to checkpoint cursor", "error", err)
			}
		}
		return stats, nil
	}

	if err := l.cursor.Advance(saveCtx, stats.Oldest, stats.OldestBlockTime); err != nil {
		l.logger.WarnContext(ctx, "failed to checkpoint cursor", "error", err)
	}
	l.recordCursor()
	return stats, nil
}

// RunPoll walks history backward one page per iteration, sleeping between
// iterations, until ctx is cancelled. Failed iterations are retried with
// the same window after the sleep.
func (l *Loop) RunPoll(ctx context.Context) error {
	l.logger.InfoContext(ctx, "starting poll loop",
		"window", l.cursor.Window(),
		"sleep", l.opts.Sleep,
		"page_limit", l.opts.PageLimit,
	)
	for {
		if ctx.Err() != nil {
			return nil
		}
		_, _ = l.Step(ctx)
		if err := sleepCtx(ctx, l.opts.Sleep); err != nil {
			l.logger.InfoContext(context.WithoutCancel(ctx), "poll loop stopped", "window", l.cursor.Window())
			return nil
		}
	}
}

// Drain processes every page newer than the cursor's until bound, newest
// first, and then moves until to the newest signature seen. With no until
// bound only the newest page is processed. On error until stays put; the
// next drain replays the same range and persistence absorbs the repeats.
func (l *Loop) Drain(ctx context.Context) error {
	lastSeen := l.cursor.Window().Until
	var (
		before          string
		newest          string
		newestBlockTime *int64
	)
	for {
		stats, err := l.runPage(ctx, Window{Before: before, Until: lastSeen})
		if err != nil {
			return err
		}
		if newest == "" {
			newest, newestBlockTime = stats.Newest, stats.NewestBlockTime
		}
		if lastSeen == "" || stats.Total < l.opts.PageLimit || stats.Oldest == "" {
			break
		}
		before = stats.Oldest
	}

	if newest == "" {
		return nil
	}
	if err := l.cursor.MarkSeen(context.WithoutCancel(ctx), newest, newestBlockTime); err != nil {
		l.logger.WarnContext(ctx, "failed to checkpoint cursor", "error", err)
	}
	l.recordCursor()
	return nil
}

// RunReact drains once on startup and then once per wake-up on notify
// until ctx is cancelled. Wake-ups that arrive during a drain are coalesced
// by the sender into one pending signal. The startup drain catches a
// resumed cursor up, or seeds a fresh one with the newest page.
func (l *Loop) RunReact(ctx context.Context, notify <-chan struct{}) error {
	l.logger.InfoContext(ctx, "starting react loop", "last_seen", l.cursor.Window().Until)
	_ = l.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			l.logger.InfoContext(context.WithoutCancel(ctx), "react loop stopped", "last_seen", l.cursor.Window().Until)
			return nil
		case _, ok := <-notify:
			if !ok {
				return nil
			}
		}
		_ = l.Drain(ctx)
	}
}

func (l *Loop) recordCursor() {
	if l.metrics == nil {
		return
	}
	if bt := l.cursor.BlockTime(); bt != nil {
		l.metrics.RecordCursor(l.cursor.Name(), *bt)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
