package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/tradewatch/service/symbols"
	"github.com/urfave/cli/v2"
)

func symbolsCommands() *cli.Command {
	return &cli.Command{
		Name:  "symbols",
		Usage: "Inspect the market symbol index built from the live catalog",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List every (base, quote) pair and its symbol",
				Action: func(c *cli.Context) error {
					resolver, err := loadResolver(c)
					if err != nil {
						return err
					}
					pairs := resolver.Pairs()
					if c.Bool("json") {
						return outputJSON(pairs)
					}

					w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
					fmt.Fprintln(w, "SYMBOL\tBASE MINT\tQUOTE MINT")
					for _, p := range pairs {
						fmt.Fprintf(w, "%s\t%s\t%s\n", p.Symbol, p.BaseMint, p.QuoteMint)
					}
					w.Flush()
					fmt.Fprintf(os.Stderr, "\nTotal: %d pairs\n", len(pairs))
					return nil
				},
			},
			{
				Name:      "resolve",
				Usage:     "Resolve one pair",
				ArgsUsage: "<base-mint> <quote-mint>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("requires exactly two arguments: base mint and quote mint")
					}
					resolver, err := loadResolver(c)
					if err != nil {
						return err
					}
					pair := symbols.Pair{
						Symbol:    resolver.Resolve(c.Args().Get(0), c.Args().Get(1)),
						BaseMint:  c.Args().Get(0),
						QuoteMint: c.Args().Get(1),
					}
					if c.Bool("json") {
						return outputJSON(pair)
					}
					fmt.Println(pair.Symbol)
					return nil
				},
			},
		},
	}
}

func loadResolver(c *cli.Context) (*symbols.Resolver, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	catalog := symbols.NewCatalogClient(c.String("catalog-url"), nil, logger)
	return symbols.Load(ctx, catalog, symbols.DefaultCurrencies)
}
