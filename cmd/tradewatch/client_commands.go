package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/tradewatch/client"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for the tradewatch read API",
		Subcommands: []*cli.Command{
			clientEventsCommand(),
			clientEventCommand(),
			clientCursorCommand(),
			awaitCommand(),
		},
	}
}

func clientEventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "List stored events through the read API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Usage: "Filter by category"},
			&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Usage: "Filter by market symbol"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 50, Usage: "Limit number of events"},
			&cli.IntFlag{Name: "offset", Usage: "Skip this many events"},
			&cli.StringSliceFlag{Name: "jq", Usage: "jq predicate applied to each event; repeatable, all must hold"},
		},
		Action: func(c *cli.Context) error {
			filter, err := compileJQ(c.StringSlice("jq"))
			if err != nil {
				return err
			}
			events, err := newAPIClient(c, 30*time.Second).List(c.Context, client.EventsQuery{
				Category: c.String("category"),
				Symbol:   c.String("symbol"),
				Limit:    c.Int("limit"),
				Offset:   c.Int("offset"),
			})
			if err != nil {
				return fmt.Errorf("failed to list events: %w", err)
			}

			matched := make([]*client.Event, 0, len(events))
			for _, ev := range events {
				if filter.Match(ev) {
					matched = append(matched, ev)
				}
			}

			if c.Bool("json") {
				return outputJSON(matched)
			}
			writeClientEvents(c.App.Writer, matched)
			return nil
		},
	}
}

func clientEventCommand() *cli.Command {
	return &cli.Command{
		Name:      "event",
		Usage:     "Show one event through the read API",
		ArgsUsage: "<signature>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}
			ev, err := newAPIClient(c, 30*time.Second).Get(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get event: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(ev)
			}
			printEventDetailed(c.App.Writer, ev)
			return nil
		},
	}
}

func clientCursorCommand() *cli.Command {
	return &cli.Command{
		Name:  "cursor",
		Usage: "Show the ingestion checkpoint through the read API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "Checkpoint name (server default when empty)"},
		},
		Action: func(c *cli.Context) error {
			cur, err := newAPIClient(c, 30*time.Second).Cursor(c.Context, c.String("name"))
			if err != nil {
				return fmt.Errorf("failed to get cursor: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(cur)
			}
			out := c.App.Writer
			fmt.Fprintf(out, "Name:       %s\n", cur.Name)
			fmt.Fprintf(out, "Before:     %s\n", orDash(cur.Before))
			fmt.Fprintf(out, "Until:      %s\n", orDash(cur.Until))
			fmt.Fprintf(out, "Block Time: %s\n", formatTime(cur.BlockTime))
			fmt.Fprintf(out, "Updated:    %s\n", cur.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func awaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until a newly stored event matching criteria arrives",
		ArgsUsage: "[category]",
		Description: `Streams events from the server and exits with the first one that
satisfies every --jq predicate.

Example:
  tradewatch client await exchange --jq '.symbol == "ATLASUSDC"' --jq '.size > 10'`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq predicate applied to each event; repeatable, all must hold",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait for a matching event",
			},
		},
		Action: func(c *cli.Context) error {
			filter, err := compileJQ(c.StringSlice("jq"))
			if err != nil {
				return err
			}
			category := c.Args().First()
			jsonOutput := c.Bool("json")

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Waiting for %s event...\n", orDefault(category, "any"))
				fmt.Fprintf(os.Stderr, "  Timeout: %v\n\n", c.Duration("timeout"))
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			ev, err := newAPIClient(c, 30*time.Second).Await(ctx, category, func(ev *client.Event) bool {
				return filter.Match(ev)
			})
			if err != nil {
				return fmt.Errorf("failed to await event: %w", err)
			}

			if jsonOutput {
				return outputJSON(ev)
			}
			printEventDetailed(c.App.Writer, ev)
			return nil
		},
	}
}

func newAPIClient(c *cli.Context, timeout time.Duration) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(c.String("server-url"), &http.Client{Timeout: timeout}, logger)
}

func writeClientEvents(out io.Writer, events []*client.Event) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIGNATURE\tCATEGORY\tSYMBOL\tSIZE\tPRICE\tBLOCK TIME")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.Signature,
			ev.Category,
			ev.Symbol,
			formatOptionalInt(ev.Size),
			formatOptionalInt(ev.Price),
			formatTime(ev.BlockTime),
		)
	}
	w.Flush()
}

func printEventDetailed(out io.Writer, ev *client.Event) {
	fmt.Fprintf(out, "Signature:  %s\n", ev.Signature)
	fmt.Fprintf(out, "Category:   %s\n", ev.Category)
	fmt.Fprintf(out, "Symbol:     %s\n", ev.Symbol)
	fmt.Fprintf(out, "Size:       %s\n", formatOptionalInt(ev.Size))
	fmt.Fprintf(out, "Price:      %s\n", formatOptionalInt(ev.Price))
	fmt.Fprintf(out, "Block Time: %s\n", formatTime(ev.BlockTime))
	if ev.Failed {
		fmt.Fprintln(out, "Failed:     true")
	}
	if ev.Table != "" {
		fmt.Fprintf(out, "Table:      %s\n", ev.Table)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
