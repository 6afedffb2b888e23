package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brojonat/tradewatch/service/classifier"
	"github.com/brojonat/tradewatch/service/config"
	"github.com/brojonat/tradewatch/service/db"
	"github.com/brojonat/tradewatch/service/decoder"
	"github.com/brojonat/tradewatch/service/ingest"
	"github.com/brojonat/tradewatch/service/metrics"
	natspkg "github.com/brojonat/tradewatch/service/nats"
	"github.com/brojonat/tradewatch/service/solana"
	"github.com/brojonat/tradewatch/service/symbols"
	"github.com/brojonat/tradewatch/service/temporal"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting ingestion worker",
		"mode", cfg.Mode,
		"program", cfg.ProgramAddress,
		"page_limit", cfg.PageLimit,
		"log_level", cfg.LogLevel,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Cancelled on SIGINT/SIGTERM; the page in flight still completes.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	program, err := solanago.PublicKeyFromBase58(cfg.ProgramAddress)
	if err != nil {
		return err
	}

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry
	metricsServer := startMetricsServer(cfg.MetricsAddr, logger)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	// Initialize database connection pool and stores
	dbPool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseName)
	if err != nil {
		return err
	}
	defer dbPool.Close()
	logger.Info("connected to database")

	store := db.NewStore(dbPool, cfg.Tables, metricsCollector)
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	logger.Info("event stores ready", "tables", store.Tables())

	// The symbol index is built once; without it nothing can be labelled.
	catalog := symbols.NewCatalogClient(cfg.CatalogURL, nil, logger)
	resolver, err := symbols.Load(ctx, catalog, symbols.DefaultCurrencies)
	if err != nil {
		var loadErr *symbols.CatalogLoadFailure
		if errors.As(err, &loadErr) {
			logger.Error("symbol catalog unavailable, refusing to start", "url", cfg.CatalogURL)
		}
		return err
	}
	logger.Info("symbol index built", "pairs", resolver.Len())

	idl, err := decoder.LoadIDL(cfg.IDLPath)
	if err != nil {
		return err
	}
	dec, err := decoder.NewMarketplaceDecoder(program, idl)
	if err != nil {
		return err
	}

	rpcClient := solana.NewRPCClient(cfg.RPCURL, cfg.RPCRate, cfg.RPCBurst)
	ledger := solana.NewClient(rpcClient, endpointLabel(cfg.RPCURL), metricsCollector, logger).
		WithCallTimeout(cfg.RPCTimeout)
	logger.Info("initialized solana RPC client",
		"endpoint", endpointLabel(cfg.RPCURL),
		"rps", cfg.RPCRate,
		"burst", cfg.RPCBurst,
	)

	deps := ingest.Deps{
		Lister:     ledger,
		Decoder:    decoder.NewAdapter(ledger, dec, logger),
		Classifier: classifier.New(resolver),
		Store:      store,
		Metrics:    metricsCollector,
		Logger:     logger,
	}

	// Initialize NATS publisher (optional)
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			return err
		}
		defer publisher.Close()
		deps.Publisher = publisher
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	} else {
		logger.Warn("NATS_URL not set, events will not be published")
	}

	pipeline := ingest.NewPipeline(program, cfg.PageLimit, deps)
	start := ingest.Window{Before: cfg.StartSignature, Until: cfg.UntilSignature}

	switch cfg.Mode {
	case config.ModeTemporal:
		return runTemporal(ctx, cfg, pipeline, store, start, metricsCollector, logger)
	case config.ModeReact:
		return runReact(ctx, cfg, program, pipeline, store, start, metricsCollector, logger)
	default:
		return runPoll(ctx, cfg, pipeline, store, start, metricsCollector, logger)
	}
}

func runPoll(ctx context.Context, cfg *config.Config, pages ingest.PageProcessor, store *db.Store, start ingest.Window, m *metrics.Metrics, logger *slog.Logger) error {
	cursor := ingest.NewCursor(cfg.CursorName, start, store)
	if err := restoreCursor(ctx, cursor, logger); err != nil {
		return err
	}

	loop := ingest.NewLoop(pages, cursor, ingest.LoopOptions{
		Mode:        cfg.ModeName,
		Sleep:       cfg.SleepInterval,
		PageTimeout: cfg.PageTimeout,
		PageLimit:   cfg.PageLimit,
	}, m, logger)
	return loop.RunPoll(ctx)
}

func runReact(ctx context.Context, cfg *config.Config, program solanago.PublicKey, pages ingest.PageProcessor, store *db.Store, start ingest.Window, m *metrics.Metrics, logger *slog.Logger) error {
	// React keeps its own checkpoint so it never disturbs a backfill cursor.
	cursor := ingest.NewCursor(cfg.CursorName+"-react", ingest.Window{Until: start.Until}, store)
	if err := restoreCursor(ctx, cursor, logger); err != nil {
		return err
	}

	loop := ingest.NewLoop(pages, cursor, ingest.LoopOptions{
		Mode:        cfg.ModeName,
		PageTimeout: cfg.PageTimeout,
		PageLimit:   cfg.PageLimit,
	}, m, logger)

	notify := make(chan struct{}, 1)
	sub := solana.NewProgramSubscriber(cfg.RPCWSURL, program, rpc.CommitmentFinalized, m, logger)
	subCtx, cancelSub := context.WithCancel(ctx)
	defer cancelSub()
	subErrors := make(chan error, 1)
	go func() {
		subErrors <- sub.Run(subCtx, notify)
	}()
	logger.Info("subscribed to program account changes", "ws", cfg.RPCWSURL)

	err := loop.RunReact(ctx, notify)
	cancelSub()
	if subErr := <-subErrors; subErr != nil && !errors.Is(subErr, context.Canceled) {
		logger.Error("program subscriber stopped", "error", subErr)
	}
	return err
}

func runTemporal(ctx context.Context, cfg *config.Config, pages ingest.PageProcessor, store *db.Store, start ingest.Window, m *metrics.Metrics, logger *slog.Logger) error {
	worker, err := temporal.NewWorker(temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Pages:             pages,
		Checkpoints:       store,
		Metrics:           m,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	scheduler := temporal.NewClientFromSDK(worker.Client(), cfg.TemporalTaskQueue, logger)
	status, err := scheduler.StartIngest(ctx, temporal.IngestWorkflowInput{
		CursorName:  cfg.CursorName,
		Window:      start,
		Restore:     start.Before == "",
		Sleep:       cfg.SleepInterval,
		PageTimeout: cfg.PageTimeout,
	})
	if err != nil {
		worker.Close()
		return err
	}
	logger.Info("ingest workflow running", "workflow_id", status.WorkflowID, "run_id", status.RunID)

	return worker.Run(ctx)
}

func restoreCursor(ctx context.Context, cursor *ingest.Cursor, logger *slog.Logger) error {
	restored, err := cursor.Restore(ctx)
	if err != nil {
		return err
	}
	if restored {
		logger.Info("resuming from checkpoint", "cursor", cursor.Name(), "window", cursor.Window())
	} else {
		logger.Info("starting cursor", "cursor", cursor.Name(), "window", cursor.Window())
	}
	return nil
}

func startMetricsServer(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("starting metrics HTTP server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	return srv
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// endpointLabel extracts a short identifier from the RPC URL for metrics labeling.
// Examples:
//   - "https://api.mainnet-beta.solana.com" -> "mainnet"
//   - "https://mainnet.helius-rpc.com/?api-key=..." -> "helius"
func endpointLabel(rpcURL string) string {
	parsed, err := url.Parse(rpcURL)
	if err != nil {
		return "unknown"
	}
	host := parsed.Hostname()

	for _, provider := range []string{"helius", "quiknode", "alchemy", "triton", "rpcpool", "mainnet", "devnet", "testnet"} {
		if strings.Contains(host, provider) {
			return provider
		}
	}
	if strings.Contains(host, "quicknode") {
		return "quiknode"
	}
	return host
}
