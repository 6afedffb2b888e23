package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brojonat/tradewatch/service/config"
	"github.com/brojonat/tradewatch/service/db"
	"github.com/brojonat/tradewatch/service/metrics"
	"github.com/brojonat/tradewatch/service/server"
	"github.com/brojonat/tradewatch/service/symbols"
	"github.com/brojonat/tradewatch/service/temporal"
)

func main() {
	cfg := config.MustLoad()
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting read API", "addr", cfg.ServerAddr, "mode", cfg.Mode)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics(nil)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseName)
	if err != nil {
		return err
	}
	defer pool.Close()
	store := db.NewStore(pool, cfg.Tables, m)

	opts := server.Options{CursorName: cfg.CursorName}

	// Without the catalog the symbols endpoint is disabled; events are
	// still served.
	catalog := symbols.NewCatalogClient(cfg.CatalogURL, nil, logger)
	if resolver, err := symbols.Load(ctx, catalog, symbols.DefaultCurrencies); err != nil {
		logger.Warn("symbol catalog unavailable, /api/v1/symbols disabled", "error", err)
	} else {
		opts.Symbols = resolver
	}

	if cfg.NATSURL != "" {
		stream, err := server.NewEventStream(cfg.NATSURL, logger)
		if err != nil {
			return fmt.Errorf("event stream: %w", err)
		}
		opts.Stream = stream
	}

	if cfg.Mode == config.ModeTemporal {
		tc, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
		if err != nil {
			return err
		}
		defer tc.Close()
		opts.Scheduler = tc
	}

	srv := server.New(cfg.ServerAddr, store, opts, m, logger)
	logger.Info("read API ready",
		"symbols", opts.Symbols != nil,
		"stream", opts.Stream != nil,
		"temporal", opts.Scheduler != nil,
	)

	errs := make(chan error, 1)
	go func() { errs <- srv.Start() }()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// setupLogger returns a JSON logger on stderr; unknown levels mean info.
func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
