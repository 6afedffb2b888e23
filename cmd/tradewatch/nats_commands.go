package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/tradewatch/service/classifier"
	natspkg "github.com/brojonat/tradewatch/service/nats"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand streams published events.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to newly stored events",
		ArgsUsage: "[category]",
		Description: `Subscribe to events published to NATS JetStream.

Events are published to the subject gm.events.{category}; without a
category every event is streamed.

Example:
  tradewatch nats subscribe exchange --json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "durable",
				Usage: "Durable consumer name; resumes where it left off across runs",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq predicate applied to each event; repeatable, all must hold",
			},
		},
		Action: func(c *cli.Context) error {
			var category classifier.Category
			if c.NArg() > 0 {
				parsed, err := classifier.ParseCategory(c.Args().First())
				if err != nil {
					return err
				}
				category = parsed
			}
			filter, err := compileJQ(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			nc, err := natspkg.Connect(c.String("nats-url"), "tradewatch-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			jsonOutput := c.Bool("json")
			subject := natspkg.Subject(category)
			fmt.Fprintf(os.Stderr, "Subscribed to %s (Ctrl+C to stop)\n", subject)

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			count := 0
			err = natspkg.Subscribe(ctx, js, natspkg.SubscribeOptions{Category: category, Durable: c.String("durable")}, logger, func(ev *natspkg.EventMessage) error {
				if !filter.Match(ev) {
					return nil
				}
				count++
				if jsonOutput {
					data, _ := json.Marshal(ev)
					fmt.Println(string(data))
					return nil
				}
				fmt.Printf("[%s] %-15s %-12s size=%s price=%s %s\n",
					formatTime(ev.BlockTime),
					ev.Category,
					ev.Symbol,
					formatOptionalInt(ev.Size),
					formatOptionalInt(ev.Price),
					ev.Signature,
				)
				return nil
			})
			fmt.Fprintf(os.Stderr, "\nReceived %d events\n", count)
			return err
		},
	}
}

func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the GM_EVENTS JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := natspkg.Connect(c.String("nats-url"), "tradewatch-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(context.Background(), natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}
			info, err := stream.Info(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(info)
			}
			fmt.Printf("Stream:       %s\n", info.Config.Name)
			fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
			fmt.Printf("Messages:     %d\n", info.State.Msgs)
			fmt.Printf("Bytes:        %d\n", info.State.Bytes)
			fmt.Printf("First Seq:    %d\n", info.State.FirstSeq)
			fmt.Printf("Last Seq:     %d\n", info.State.LastSeq)
			fmt.Printf("Consumers:    %d\n", info.State.Consumers)
			fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
			fmt.Printf("Dup Window:   %s\n", info.Config.Duplicates)
			return nil
		},
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
