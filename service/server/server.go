package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/tradewatch/service/db"
	"github.com/brojonat/tradewatch/service/metrics"
	"github.com/brojonat/tradewatch/service/symbols"
	"github.com/brojonat/tradewatch/service/temporal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EventReader is the read side of the event stores.
type EventReader interface {
	Ping(ctx context.Context) error
	ListEvents(ctx context.Context, params db.ListEventsParams) ([]*db.StoredEvent, error)
	GetEvent(ctx context.Context, signature string) (*db.StoredEvent, error)
	GetCursor(ctx context.Context, name string) (*db.Checkpoint, error)
}

// Options holds the optional collaborators of the read API.
type Options struct {
	// CursorName is reported by GET /api/v1/cursor.
	CursorName string
	// Symbols backs GET /api/v1/symbols; nil disables it.
	Symbols *symbols.Resolver
	// Scheduler backs GET /api/v1/ingest; nil disables it.
	Scheduler temporal.Scheduler
	// Stream backs the SSE endpoints; nil disables them.
	Stream *EventStream
	// Gatherer is served on /metrics; nil serves the default registry.
	Gatherer prometheus.Gatherer
}

// Server represents the HTTP read API over ingested marketplace events.
type Server struct {
	addr    string
	store   EventReader
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, store EventReader, opts Options, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CursorName == "" {
		opts.CursorName = "gm-marketplace"
	}
	return &Server{
		addr:    addr,
		store:   store,
		opts:    opts,
		metrics: m,
		logger:  logger,
	}
}

// Handler builds the routed handler. Each route is wrapped with the HTTP
// metrics middleware under its pattern.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	route("GET /api/v1/events", "list_events", handleListEvents(s.store, s.logger))
	route("GET /api/v1/events/{signature}", "get_event", handleGetEvent(s.store, s.logger))
	route("GET /api/v1/cursor", "get_cursor", handleGetCursor(s.store, s.opts.CursorName, s.logger))

	if s.opts.Symbols != nil {
		route("GET /api/v1/symbols", "list_symbols", handleListSymbols(s.opts.Symbols))
	} else {
		s.logger.Warn("symbol index not configured, symbols endpoint disabled")
	}

	if s.opts.Scheduler != nil {
		route("GET /api/v1/ingest", "describe_ingest", handleDescribeIngest(s.opts.Scheduler, s.opts.CursorName, s.logger))
	}

	// SSE streaming endpoints (if NATS is configured). Not wrapped: the
	// latency histogram would only measure connection lifetime.
	if s.opts.Stream != nil {
		mux.Handle("GET /api/v1/stream/events/{category}", handleStreamEvents(s.opts.Stream, s.logger))
		mux.Handle("GET /api/v1/stream/events", handleStreamEvents(s.opts.Stream, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", handleHealth(s.store, s.logger))

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		if s.opts.Gatherer != nil {
			mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
		} else {
			mux.Handle("GET /metrics", promhttp.Handler())
		}
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: SSE connections are long lived.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close the stream first (disconnects all SSE clients)
	if s.opts.Stream != nil {
		s.opts.Stream.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
