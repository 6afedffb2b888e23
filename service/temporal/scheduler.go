package temporal

import (
	"context"
)

// IngestStatus describes a running or finished ingest workflow.
type IngestStatus struct {
	WorkflowID string       `json:"workflow_id"`
	RunID      string       `json:"run_id"`
	Status     string       `json:"status"`
	State      *IngestState `json:"state,omitempty"`
}

// Scheduler starts and controls the ingest workflow for a cursor.
// Each cursor name maps to exactly one workflow ID.
type Scheduler interface {
	// StartIngest starts IngestWorkflow, or attaches to the one already
	// running for input.CursorName.
	StartIngest(ctx context.Context, input IngestWorkflowInput) (*IngestStatus, error)

	// DescribeIngest reports the workflow status and, while it runs, the
	// result of its state query.
	DescribeIngest(ctx context.Context, cursorName string) (*IngestStatus, error)

	// StopIngest cancels the workflow. The page in flight is abandoned and
	// retried from the last checkpoint on the next start.
	StopIngest(ctx context.Context, cursorName string) error
}

// workflowID returns the Temporal workflow ID for a cursor name.
func workflowID(cursorName string) string {
	return "tradewatch-ingest-" + cursorName
}
