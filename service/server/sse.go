package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/tradewatch/service/classifier"
	natspkg "github.com/brojonat/tradewatch/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// EventStream relays published marketplace events to Server-Sent Events clients.
type EventStream struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewEventStream connects to NATS for SSE streaming.
func NewEventStream(natsURL string, logger *slog.Logger) (*EventStream, error) {
	nc, err := natspkg.Connect(natsURL, "tradewatch-sse")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("SSE event stream initialized", "nats_url", natsURL)
	return &EventStream{nc: nc, js: js, logger: logger}, nil
}

// Close closes the NATS connection.
func (s *EventStream) Close() error {
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("SSE event stream closed")
	}
	return nil
}

// handleStreamEvents streams newly inserted events. An empty category path
// parameter streams every category.
func handleStreamEvents(stream *EventStream, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var category classifier.Category
		if c := r.PathValue("category"); c != "" {
			parsed, err := classifier.ParseCategory(c)
			if err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			category = parsed
		}
		desc := string(category)
		if desc == "" {
			desc = "all"
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flush := func() {
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		}
		flush()

		logger.DebugContext(r.Context(), "SSE client connected",
			"category", desc,
			"remote_addr", r.RemoteAddr,
		)

		ctx := r.Context()
		events := make(chan *natspkg.EventMessage, 10)
		done := make(chan error, 1)

		// Ephemeral consumer, removed when the connection closes.
		go func() {
			done <- natspkg.Subscribe(ctx, stream.js, natspkg.SubscribeOptions{Category: category}, logger, func(ev *natspkg.EventMessage) error {
				select {
				case events <- ev:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}()

		fmt.Fprintf(w, "event: connected\ndata: {\"category\":%q}\n\n", desc)
		flush()

		keepalive := time.NewTicker(10 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flush()

			case ev := <-events:
				data, err := json.Marshal(ev)
				if err != nil {
					logger.WarnContext(ctx, "failed to marshal event", "error", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Category, data)
				flush()

				logger.DebugContext(ctx, "sent event",
					"category", ev.Category,
					"signature", ev.Signature,
				)

			case err := <-done:
				if err != nil {
					logger.ErrorContext(ctx, "failed to subscribe", "category", desc, "error", err)
					fmt.Fprintf(w, "event: error\ndata: {\"error\": \"failed to subscribe\"}\n\n")
					flush()
				}
				return

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected",
					"category", desc,
					"remote_addr", r.RemoteAddr,
				)
				return
			}
		}
	})
}
