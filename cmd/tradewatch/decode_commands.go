package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/brojonat/tradewatch/service/classifier"
	"github.com/brojonat/tradewatch/service/decoder"
	"github.com/brojonat/tradewatch/service/solana"
	"github.com/brojonat/tradewatch/service/symbols"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

// decodeResult is what decode prints: the decoder's view, the category it
// maps to and the event that would be stored.
type decodeResult struct {
	Decoded     *decoder.Decoded  `json:"decoded"`
	Instruction string            `json:"matched_instruction,omitempty"`
	Event       *classifier.Event `json:"event"`
}

func decodeCommand() *cli.Command {
	return &cli.Command{
		Name:      "decode",
		Usage:     "Fetch, decode and classify one transaction without storing it",
		ArgsUsage: "<signature>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "idl",
				Usage:   "Path to a marketplace IDL (defaults to the embedded one)",
				EnvVars: []string{"IDL_PATH"},
			},
			&cli.BoolFlag{
				Name:  "no-symbols",
				Usage: "Skip loading the asset catalog; every symbol resolves to not-found",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Overall timeout",
				Value: time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}
			signature := c.Args().First()

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
			program, err := solanago.PublicKeyFromBase58(c.String("program"))
			if err != nil {
				return fmt.Errorf("invalid program address: %w", err)
			}

			idl, err := decoder.LoadIDL(c.String("idl"))
			if err != nil {
				return err
			}
			dec, err := decoder.NewMarketplaceDecoder(program, idl)
			if err != nil {
				return err
			}

			var resolver *symbols.Resolver
			if !c.Bool("no-symbols") {
				catalog := symbols.NewCatalogClient(c.String("catalog-url"), nil, logger)
				resolver, err = symbols.Load(ctx, catalog, symbols.DefaultCurrencies)
				if err != nil {
					return err
				}
			}

			ledger := solana.NewClient(solana.NewRPCClient(c.String("rpc"), 4, 4), "cli", nil, logger)
			decoded, err := decoder.NewAdapter(ledger, dec, logger).Decode(ctx, signature)
			if err != nil {
				return err
			}

			event, result, err := classifier.New(resolver).ClassifyTransaction(decoded)
			if err != nil {
				return err
			}

			out := decodeResult{Decoded: decoded, Instruction: result.Instruction, Event: event}
			if c.Bool("json") {
				return outputJSON(out)
			}
			writeDecodeResult(os.Stdout, out)
			return nil
		},
	}
}

func writeDecodeResult(out io.Writer, r decodeResult) {
	fmt.Fprintf(out, "Signature:    %s\n", r.Decoded.Signature)
	fmt.Fprintf(out, "Slot:         %d\n", r.Decoded.Slot)
	fmt.Fprintf(out, "Block Time:   %s\n", formatUnix(r.Decoded.BlockTime))
	if r.Decoded.Failed {
		fmt.Fprintf(out, "Status:       failed on-chain\n")
	}
	fmt.Fprintf(out, "Instructions: %s\n", strings.Join(r.Decoded.Names(), ", "))
	fmt.Fprintf(out, "Category:     %s\n", r.Event.Category)
	if r.Instruction != "" {
		fmt.Fprintf(out, "Matched:      %s\n", r.Instruction)
	}
	fmt.Fprintf(out, "Symbol:       %s\n", r.Event.Symbol)
	fmt.Fprintf(out, "Size:         %s\n", formatOptionalInt(r.Event.Size))
	fmt.Fprintf(out, "Price:        %s\n", formatOptionalInt(r.Event.Price))
}
