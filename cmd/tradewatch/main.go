package main

import (
	"fmt"
	"log"
	"os"

	"github.com/brojonat/tradewatch/service/config"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "tradewatch",
		Usage: "Galactic Marketplace ingestion CLI",
		Description: `A command-line tool for operating and debugging the tradewatch pipeline.

Use this CLI to inspect stored events and the cursor checkpoint, dry-run the
decoder against a live transaction, and manage the durable ingest workflow.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Database inspection commands
			{
				Name:  "db",
				Usage: "Database inspection commands",
				Subcommands: []*cli.Command{
					listEventsCommand(),
					getEventCommand(),
					cursorCommand(),
					initSchemaCommand(),
				},
			},
			decodeCommand(),
			symbolsCommands(),
			// NATS event streaming commands
			{
				Name:  "nats",
				Usage: "NATS event streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			// Client commands (HTTP API)
			clientCommands(),
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
			temporalCommands(),
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DB_CONN_STRING", "DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "db-name",
				Usage:   "Database name, overrides the one in the URL",
				EnvVars: []string{"DB_NAME"},
			},
			&cli.StringFlag{
				Name:    "rpc",
				Usage:   "Ledger RPC endpoint",
				EnvVars: []string{"RPC"},
				Value:   "https://api.mainnet-beta.solana.com",
			},
			&cli.StringFlag{
				Name:    "program",
				Usage:   "Marketplace program address",
				EnvVars: []string{"PROGRAM_ADDRESS"},
				Value:   config.DefaultProgramAddress,
			},
			&cli.StringFlag{
				Name:    "catalog-url",
				Usage:   "Asset catalog URL",
				EnvVars: []string{"CATALOG_URL"},
				Value:   "https://galaxy.staratlas.com/nfts",
			},
			&cli.StringFlag{
				Name:    "cursor-name",
				Usage:   "Cursor checkpoint name",
				EnvVars: []string{"CURSOR_NAME"},
				Value:   "gm-marketplace",
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "tradewatch",
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Read API URL",
				EnvVars: []string{"SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
