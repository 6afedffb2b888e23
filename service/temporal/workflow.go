package temporal

import (
	"time"

	"github.com/brojonat/tradewatch/service/ingest"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

const (
	// IngestWorkflowName is the registered workflow type.
	IngestWorkflowName = "IngestWorkflow"

	// StateQuery returns the workflow's IngestState.
	StateQuery = "state"

	defaultIterationsPerRun = 500
)

// IngestWorkflowInput configures one run of IngestWorkflow. A run that
// continues as new carries its window forward in Window.
type IngestWorkflowInput struct {
	CursorName string        `json:"cursor_name"`
	Window     ingest.Window `json:"window"`
	// Restore loads the saved checkpoint before the first page.
	Restore          bool          `json:"restore"`
	Sleep            time.Duration `json:"sleep"`
	PageTimeout      time.Duration `json:"page_timeout"`
	IterationsPerRun int           `json:"iterations_per_run"`
}

// IngestState is what the state query reports.
type IngestState struct {
	Window     ingest.Window `json:"window"`
	Iterations int           `json:"iterations"`
	Failures   int           `json:"failures"`
	LastStats  *ingest.Stats `json:"last_stats,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
}

// IngestWorkflow is the poll loop run durably: process the page at the
// current window, move the window on success, checkpoint it and sleep.
// After IterationsPerRun pages it continues as new to keep history small.
func IngestWorkflow(ctx workflow.Context, input IngestWorkflowInput) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("IngestWorkflow started", "cursor", input.CursorName, "window", input.Window)

	state := IngestState{Window: input.Window}
	if err := workflow.SetQueryHandler(ctx, StateQuery, func() (IngestState, error) {
		return state, nil
	}); err != nil {
		return err
	}

	pageTimeout := input.PageTimeout
	if pageTimeout <= 0 {
		pageTimeout = 5 * time.Minute
	}
	iterations := input.IterationsPerRun
	if iterations <= 0 {
		iterations = defaultIterationsPerRun
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: pageTimeout,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	if input.Restore {
		var restored LoadCursorResult
		err := workflow.ExecuteActivity(ctx, a.LoadCursor, LoadCursorInput{Name: input.CursorName, Window: input.Window}).Get(ctx, &restored)
		if err != nil {
			logger.Warn("failed to load cursor checkpoint, starting from input window", "error", err)
		} else {
			state.Window = restored.Window
		}
	}

	for i := 0; i < iterations; i++ {
		var result ProcessPageResult
		err := workflow.ExecuteActivity(ctx, a.ProcessPage, ProcessPageInput{Window: state.Window}).Get(ctx, &result)
		state.Iterations++
		if err != nil {
			// The window stays put; the same page is tried after the sleep.
			state.Failures++
			state.LastError = err.Error()
			logger.Warn("page failed, keeping window", "window", state.Window, "error", err)
		} else {
			state.LastError = ""
			state.LastStats = &result.Stats
			if next := nextWindow(state.Window, &result.Stats); next != state.Window {
				state.Window = next
				save := SaveCursorInput{Name: input.CursorName, Window: next, BlockTime: result.Stats.OldestBlockTime}
				if err := workflow.ExecuteActivity(ctx, a.SaveCursor, save).Get(ctx, nil); err != nil {
					logger.Warn("failed to checkpoint cursor", "error", err)
				}
			}
		}

		if err := workflow.Sleep(ctx, input.Sleep); err != nil {
			return err
		}
	}

	next := input
	next.Window = state.Window
	next.Restore = false
	logger.Info("continuing as new", "window", next.Window, "iterations", state.Iterations)
	return workflow.NewContinueAsNewError(ctx, IngestWorkflow, next)
}

// nextWindow moves before to the page's oldest signature, or back to the
// head when the page came back empty.
func nextWindow(w ingest.Window, s *ingest.Stats) ingest.Window {
	if s.Total == 0 {
		w.Before = ""
		return w
	}
	if s.Oldest != "" {
		w.Before = s.Oldest
	}
	return w
}
