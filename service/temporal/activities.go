package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/tradewatch/service/db"
	"github.com/brojonat/tradewatch/service/ingest"
	"github.com/brojonat/tradewatch/service/metrics"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// ProcessPageInput contains the window for the ProcessPage activity.
type ProcessPageInput struct {
	Window ingest.Window `json:"window"`
}

// ProcessPageResult contains the stats of one processed page.
type ProcessPageResult struct {
	Stats ingest.Stats `json:"stats"`
}

// LoadCursorInput names the checkpoint to load. Window is returned as is
// when no checkpoint exists.
type LoadCursorInput struct {
	Name   string        `json:"name"`
	Window ingest.Window `json:"window"`
}

// LoadCursorResult contains the window the workflow should start from.
type LoadCursorResult struct {
	Window   ingest.Window `json:"window"`
	Restored bool          `json:"restored"`
}

// SaveCursorInput contains a checkpoint to persist.
type SaveCursorInput struct {
	Name      string        `json:"name"`
	Window    ingest.Window `json:"window"`
	BlockTime *int64        `json:"block_time,omitempty"`
}

// Activities holds the dependencies needed by Temporal activities.
// Following go-kit pattern, all dependencies are explicit.
type Activities struct {
	pages       ingest.PageProcessor
	checkpoints ingest.CheckpointStore
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(pages ingest.PageProcessor, checkpoints ingest.CheckpointStore, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		pages:       pages,
		checkpoints: checkpoints,
		metrics:     m,
		logger:      logger,
	}
}

// ProcessPage runs the page pipeline for one window. Fetch and persistence
// failures are returned as retryable application errors typed by failure
// kind; the workflow decides what to do once retries run out.
func (a *Activities) ProcessPage(ctx context.Context, input ProcessPageInput) (*ProcessPageResult, error) {
	start := time.Now()
	stats, err := a.pages.ProcessPage(ctx, input.Window)
	if a.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		a.metrics.RecordWorkflowIteration(status)
		a.metrics.RecordPage("temporal", status, time.Since(start).Seconds())
	}
	if err != nil {
		a.logger.ErrorContext(ctx, "page failed",
			"before", input.Window.Before,
			"until", input.Window.Until,
			"error", err,
		)
		var (
			fetch   *ingest.PageFetchFailure
			persist *db.PersistenceFailure
		)
		switch {
		case errors.As(err, &fetch):
			return nil, temporalsdk.NewApplicationErrorWithCause(err.Error(), "PageFetchFailure", err)
		case errors.As(err, &persist):
			return nil, temporalsdk.NewApplicationErrorWithCause(err.Error(), "PersistenceFailure", err)
		}
		return nil, fmt.Errorf("process page: %w", err)
	}

	a.logger.InfoContext(ctx, stats.Summary("temporal"))
	if stats.Oldest != "" {
		a.logger.InfoContext(ctx, stats.Position())
	}
	return &ProcessPageResult{Stats: *stats}, nil
}

// LoadCursor resolves the starting window from the saved checkpoint.
func (a *Activities) LoadCursor(ctx context.Context, input LoadCursorInput) (*LoadCursorResult, error) {
	cursor := ingest.NewCursor(input.Name, input.Window, a.checkpoints)
	restored, err := cursor.Restore(ctx)
	if err != nil {
		return nil, err
	}
	if restored {
		a.logger.InfoContext(ctx, "restored cursor checkpoint", "name", input.Name, "window", cursor.Window())
	}
	return &LoadCursorResult{Window: cursor.Window(), Restored: restored}, nil
}

// SaveCursor persists the workflow's window.
func (a *Activities) SaveCursor(ctx context.Context, input SaveCursorInput) error {
	cp := db.Checkpoint{Name: input.Name, Before: input.Window.Before, Until: input.Window.Until}
	if input.BlockTime != nil {
		t := time.Unix(*input.BlockTime, 0).UTC()
		cp.BlockTime = &t
		if a.metrics != nil {
			a.metrics.RecordCursor(input.Name, *input.BlockTime)
		}
	}
	if err := a.checkpoints.SaveCursor(ctx, cp); err != nil {
		return fmt.Errorf("save cursor %s: %w", input.Name, err)
	}
	return nil
}
