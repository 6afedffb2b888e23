package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/tradewatch/service/ingest"
	"github.com/brojonat/tradewatch/service/metrics"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// WorkerConfig holds the connection settings and the ingest dependencies
// the activities run against.
type WorkerConfig struct {
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	Pages       ingest.PageProcessor
	Checkpoints ingest.CheckpointStore
	Metrics     *metrics.Metrics // optional
	Logger      *slog.Logger
}

// Worker hosts IngestWorkflow and its activities on one task queue.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

// NewWorker dials Temporal and registers the workflow and activities. It
// does not start polling; see Run.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Pages == nil || cfg.Checkpoints == nil {
		return nil, fmt.Errorf("worker requires a page processor and a checkpoint store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "temporal_worker", "task_queue", cfg.TaskQueue)

	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalHost,
		Namespace: cfg.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal at %s: %w", cfg.TemporalHost, err)
	}

	// A single activity slot keeps one writer on the cursor.
	w := worker.New(c, cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     1,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})
	w.RegisterWorkflowWithOptions(IngestWorkflow, workflow.RegisterOptions{Name: IngestWorkflowName})

	acts := NewActivities(cfg.Pages, cfg.Checkpoints, cfg.Metrics, logger)
	w.RegisterActivity(acts.ProcessPage)
	w.RegisterActivity(acts.LoadCursor)
	w.RegisterActivity(acts.SaveCursor)

	logger.Info("temporal worker ready",
		"host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"workflow", IngestWorkflowName,
	)
	return &Worker{client: c, worker: w, logger: logger}, nil
}

// Client returns the worker's SDK client so the caller can start the
// workflow over the same connection.
func (w *Worker) Client() client.Client {
	return w.client
}

// Run polls the task queue until ctx is cancelled, then drains in-flight
// tasks and closes the client.
func (w *Worker) Run(ctx context.Context) error {
	defer w.client.Close()

	interrupt := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(interrupt)
	}()

	w.logger.Info("temporal worker polling")
	if err := w.worker.Run(interrupt); err != nil {
		return fmt.Errorf("temporal worker: %w", err)
	}
	w.logger.Info("temporal worker stopped")
	return nil
}

// Close releases the client of a worker that was never run.
func (w *Worker) Close() {
	w.client.Close()
}
