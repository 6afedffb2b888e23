package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/brojonat/tradewatch/service/ingest"
	"github.com/brojonat/tradewatch/service/temporal"
	"github.com/urfave/cli/v2"
)

// newScheduler connects to Temporal. Tests replace it.
var newScheduler = func(c *cli.Context) (temporal.Scheduler, func(), error) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	tc, err := temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		logger,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}
	return tc, tc.Close, nil
}

func temporalCommands() *cli.Command {
	return &cli.Command{
		Name:  "temporal",
		Usage: "Manage the durable ingest workflow",
		Subcommands: []*cli.Command{
			startIngestCommand(),
			describeIngestCommand(),
			stopIngestCommand(),
		},
	}
}

func startIngestCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Start the ingest workflow for the cursor, or attach to the running one",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "before",
				Usage: "Start walking back from this signature; disables checkpoint restore",
			},
			&cli.StringFlag{
				Name:  "until",
				Usage: "Stop at this signature",
			},
			&cli.DurationFlag{
				Name:  "sleep",
				Usage: "Pause between pages",
				Value: 10 * time.Second,
			},
			&cli.DurationFlag{
				Name:  "page-timeout",
				Usage: "Timeout for one page",
				Value: 5 * time.Minute,
			},
			&cli.IntFlag{
				Name:  "iterations-per-run",
				Usage: "Pages per workflow run before continuing as new (0 uses the default)",
			},
		},
		Action: func(c *cli.Context) error {
			sched, closeFn, err := newScheduler(c)
			if err != nil {
				return err
			}
			defer closeFn()

			input := temporal.IngestWorkflowInput{
				CursorName:       c.String("cursor-name"),
				Window:           ingest.Window{Before: c.String("before"), Until: c.String("until")},
				Restore:          c.String("before") == "",
				Sleep:            c.Duration("sleep"),
				PageTimeout:      c.Duration("page-timeout"),
				IterationsPerRun: c.Int("iterations-per-run"),
			}
			st, err := sched.StartIngest(c.Context, input)
			if err != nil {
				return fmt.Errorf("failed to start ingest workflow: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(st)
			}
			writeIngestStatus(c.App.Writer, st)
			return nil
		},
	}
}

func describeIngestCommand() *cli.Command {
	return &cli.Command{
		Name:  "describe",
		Usage: "Show the ingest workflow status and progress",
		Action: func(c *cli.Context) error {
			sched, closeFn, err := newScheduler(c)
			if err != nil {
				return err
			}
			defer closeFn()

			st, err := sched.DescribeIngest(c.Context, c.String("cursor-name"))
			if err != nil {
				return fmt.Errorf("failed to describe ingest workflow: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(st)
			}
			writeIngestStatus(c.App.Writer, st)
			return nil
		},
	}
}

func stopIngestCommand() *cli.Command {
	return &cli.Command{
		Name:  "stop",
		Usage: "Cancel the ingest workflow",
		Action: func(c *cli.Context) error {
			sched, closeFn, err := newScheduler(c)
			if err != nil {
				return err
			}
			defer closeFn()

			name := c.String("cursor-name")
			if err := sched.StopIngest(c.Context, name); err != nil {
				return fmt.Errorf("failed to stop ingest workflow: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "✓ Ingest workflow for cursor %s canceled\n", name)
			return nil
		},
	}
}

func writeIngestStatus(out io.Writer, st *temporal.IngestStatus) {
	fmt.Fprintf(out, "Workflow ID: %s\n", st.WorkflowID)
	fmt.Fprintf(out, "Run ID:      %s\n", st.RunID)
	fmt.Fprintf(out, "Status:      %s\n", st.Status)
	if st.State == nil {
		return
	}
	fmt.Fprintf(out, "Before:      %s\n", orDash(st.State.Window.Before))
	fmt.Fprintf(out, "Until:       %s\n", orDash(st.State.Window.Until))
	fmt.Fprintf(out, "Iterations:  %d\n", st.State.Iterations)
	fmt.Fprintf(out, "Failures:    %d\n", st.State.Failures)
	if st.State.LastStats != nil {
		fmt.Fprintf(out, "Last Page:   %s\n", st.State.LastStats.Summary("temporal"))
	}
	if st.State.LastError != "" {
		fmt.Fprintf(out, "Last Error:  %s\n", st.State.LastError)
	}
}

