package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/tradewatch/service/classifier"
	"github.com/brojonat/tradewatch/service/config"
	"github.com/brojonat/tradewatch/service/db"
	"github.com/urfave/cli/v2"
)

func listEventsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-events",
		Usage:   "List stored events, newest first",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "category",
				Aliases: []string{"c"},
				Usage:   "Filter by category (exchange, counter_init, create, cancel, direct_transfer, unmapped)",
			},
			&cli.StringFlag{
				Name:    "symbol",
				Aliases: []string{"s"},
				Usage:   "Filter by market symbol, e.g. ATLASUSDC",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of events",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Skip this many events",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq predicate applied to each event; repeatable, all must hold",
			},
		},
		Action: func(c *cli.Context) error {
			params := db.ListEventsParams{
				Symbol: c.String("symbol"),
				Limit:  int32(c.Int("limit")),
				Offset: int32(c.Int("offset")),
			}
			if cat := c.String("category"); cat != "" {
				category, err := classifier.ParseCategory(cat)
				if err != nil {
					return err
				}
				params.Category = category
			}
			filter, err := compileJQ(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			events, err := store.ListEvents(context.Background(), params)
			if err != nil {
				return fmt.Errorf("failed to list events: %w", err)
			}

			matched := make([]*db.StoredEvent, 0, len(events))
			for _, ev := range events {
				if filter.Match(ev) {
					matched = append(matched, ev)
				}
			}

			if c.Bool("json") {
				return outputJSON(matched)
			}
			writeEventTable(os.Stdout, matched)
			fmt.Fprintf(os.Stderr, "\nTotal: %d events\n", len(matched))
			return nil
		},
	}
}

func getEventCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-event",
		Usage:     "Look a signature up across all event stores",
		Aliases:   []string{"get"},
		ArgsUsage: "<signature>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ev, err := store.GetEvent(context.Background(), c.Args().First())
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("signature %s is not in any store", c.Args().First())
			}
			if err != nil {
				return fmt.Errorf("failed to get event: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(ev)
			}
			writeEventDetail(os.Stdout, ev)
			return nil
		},
	}
}

func cursorCommand() *cli.Command {
	return &cli.Command{
		Name:  "cursor",
		Usage: "Show or modify the persisted cursor checkpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "name",
				Usage: "Checkpoint name (defaults to --cursor-name)",
			},
			&cli.StringFlag{
				Name:  "set",
				Usage: "Set the before signature",
			},
			&cli.StringFlag{
				Name:  "until",
				Usage: "Set the until signature",
			},
			&cli.BoolFlag{
				Name:  "clear",
				Usage: "Delete the checkpoint so the next start begins at the head",
			},
		},
		Action: func(c *cli.Context) error {
			name := c.String("name")
			if name == "" {
				name = c.String("cursor-name")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()
			ctx := context.Background()

			if c.Bool("clear") {
				if err := store.ClearCursor(ctx, name); err != nil {
					return fmt.Errorf("failed to clear cursor: %w", err)
				}
				fmt.Fprintf(os.Stderr, "Cleared cursor %s\n", name)
				return nil
			}

			if c.IsSet("set") || c.IsSet("until") {
				cp := db.Checkpoint{Name: name}
				if existing, err := store.GetCursor(ctx, name); err == nil {
					cp = *existing
				} else if !errors.Is(err, db.ErrNotFound) {
					return fmt.Errorf("failed to load cursor: %w", err)
				}
				if c.IsSet("set") {
					cp.Before = c.String("set")
					cp.BlockTime = nil
				}
				if c.IsSet("until") {
					cp.Until = c.String("until")
				}
				if err := store.SaveCursor(ctx, cp); err != nil {
					return fmt.Errorf("failed to save cursor: %w", err)
				}
			}

			cp, err := store.GetCursor(ctx, name)
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("no checkpoint named %s", name)
			}
			if err != nil {
				return fmt.Errorf("failed to load cursor: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(cp)
			}
			writeCheckpoint(os.Stdout, cp)
			return nil
		},
	}
}

func initSchemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Create event tables, indexes and the cursor table",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := store.EnsureSchema(context.Background()); err != nil {
				return err
			}
			for _, table := range store.Tables() {
				fmt.Printf("✓ %s\n", table)
			}
			fmt.Printf("✓ %s\n", db.CursorTable)
			return nil
		},
	}
}

func writeEventTable(out io.Writer, events []*db.StoredEvent) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIGNATURE\tBLOCK TIME\tCATEGORY\tSYMBOL\tSIZE\tPRICE\tTABLE")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.Signature,
			formatUnix(ev.BlockTime),
			ev.Category,
			ev.Symbol,
			formatOptionalInt(ev.Size),
			formatOptionalInt(ev.Price),
			ev.Table,
		)
	}
	w.Flush()
}

func writeEventDetail(out io.Writer, ev *db.StoredEvent) {
	fmt.Fprintf(out, "Signature:  %s\n", ev.Signature)
	fmt.Fprintf(out, "Block Time: %s\n", formatUnix(ev.BlockTime))
	fmt.Fprintf(out, "Category:   %s\n", ev.Category)
	fmt.Fprintf(out, "Symbol:     %s\n", ev.Symbol)
	fmt.Fprintf(out, "Size:       %s\n", formatOptionalInt(ev.Size))
	fmt.Fprintf(out, "Price:      %s\n", formatOptionalInt(ev.Price))
	fmt.Fprintf(out, "Table:      %s\n", ev.Table)
	fmt.Fprintf(out, "Stored:     %s\n", ev.CreatedAt.Format(time.RFC3339))
	fmt.Fprintln(out, "Instructions:")
	var pretty interface{}
	if err := json.Unmarshal(ev.Raw, &pretty); err == nil {
		data, _ := json.MarshalIndent(pretty, "  ", "  ")
		fmt.Fprintf(out, "  %s\n", data)
	}
}

func writeCheckpoint(out io.Writer, cp *db.Checkpoint) {
	fmt.Fprintf(out, "Name:       %s\n", cp.Name)
	fmt.Fprintf(out, "Before:     %s\n", orDash(cp.Before))
	fmt.Fprintf(out, "Until:      %s\n", orDash(cp.Until))
	if cp.BlockTime != nil {
		fmt.Fprintf(out, "Block Time: %s\n", cp.BlockTime.UTC().Format(time.RFC1123))
	}
	fmt.Fprintf(out, "Updated:    %s\n", cp.UpdatedAt.Format(time.RFC3339))
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DB_CONN_STRING env var or use --database-url)")
	}

	pool, err := db.NewPool(context.Background(), dbURL, c.String("db-name"))
	if err != nil {
		return nil, nil, err
	}

	store := db.NewStore(pool, config.TablesFromEnv(), nil)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatUnix(sec *int64) string {
	if sec == nil {
		return "-"
	}
	return time.Unix(*sec, 0).UTC().Format(time.RFC3339)
}

func formatOptionalInt(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
