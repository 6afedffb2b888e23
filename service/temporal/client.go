package temporal

import (
	"context"
	"fmt"
	"log/slog"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")
	return NewClientFromSDK(c, taskQueue, logger), nil
}

// NewClientFromSDK wraps an existing SDK client.
func NewClientFromSDK(c client.Client, taskQueue string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{client: c, taskQueue: taskQueue, logger: logger}
}

// StartIngest starts the ingest workflow for input.CursorName. A workflow
// already running under the same ID is reused rather than duplicated.
func (c *Client) StartIngest(ctx context.Context, input IngestWorkflowInput) (*IngestStatus, error) {
	id := workflowID(input.CursorName)

	c.logger.Debug("starting ingest workflow",
		"workflow_id", id,
		"cursor", input.CursorName,
		"window", input.Window,
	)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       id,
		TaskQueue:                c.taskQueue,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
		Memo: map[string]interface{}{
			"cursor_name": input.CursorName,
			"created_by":  "tradewatch",
		},
	}, IngestWorkflowName, input)
	if err != nil {
		c.logger.Error("failed to start ingest workflow",
			"workflow_id", id,
			"error", err,
		)
		return nil, fmt.Errorf("failed to start workflow %q: %w", id, err)
	}

	c.logger.Info("ingest workflow running",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return &IngestStatus{WorkflowID: run.GetID(), RunID: run.GetRunID(), Status: "Running"}, nil
}

// DescribeIngest reports the workflow's execution status and queried state.
func (c *Client) DescribeIngest(ctx context.Context, cursorName string) (*IngestStatus, error) {
	id := workflowID(cursorName)

	desc, err := c.client.DescribeWorkflowExecution(ctx, id, "")
	if err != nil {
		return nil, fmt.Errorf("failed to describe workflow %q: %w", id, err)
	}
	info := desc.GetWorkflowExecutionInfo()
	status := &IngestStatus{
		WorkflowID: id,
		RunID:      info.GetExecution().GetRunId(),
		Status:     info.GetStatus().String(),
	}
	if info.GetStatus() != enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING {
		return status, nil
	}

	resp, err := c.client.QueryWorkflow(ctx, id, "", StateQuery)
	if err != nil {
		c.logger.Warn("state query failed", "workflow_id", id, "error", err)
		return status, nil
	}
	var state IngestState
	if err := resp.Get(&state); err != nil {
		return nil, fmt.Errorf("failed to decode workflow state: %w", err)
	}
	status.State = &state
	return status, nil
}

// StopIngest cancels the ingest workflow for cursorName.
func (c *Client) StopIngest(ctx context.Context, cursorName string) error {
	id := workflowID(cursorName)
	if err := c.client.CancelWorkflow(ctx, id, ""); err != nil {
		c.logger.Error("failed to cancel ingest workflow", "workflow_id", id, "error", err)
		return fmt.Errorf("failed to cancel workflow %q: %w", id, err)
	}
	c.logger.Info("ingest workflow cancel requested", "workflow_id", id)
	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
