package solana

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/tradewatch/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

// programStream is one live programSubscribe subscription.
type programStream interface {
	Recv(ctx context.Context) error
	Close()
}

type dialFunc func(ctx context.Context) (programStream, error)

// ProgramSubscriber turns programSubscribe notifications into wake-ups for
// the ingestion loop. The websocket is re-dialled with backoff whenever it
// drops.
type ProgramSubscriber struct {
	dial         dialFunc
	logger       *slog.Logger
	metrics      *metrics.Metrics
	minReconnect time.Duration
	maxReconnect time.Duration
}

// NewProgramSubscriber subscribes to account changes owned by program at
// the given commitment over wsURL.
func NewProgramSubscriber(wsURL string, program solana.PublicKey, commitment rpc.CommitmentType, m *metrics.Metrics, logger *slog.Logger) *ProgramSubscriber {
	dial := func(ctx context.Context) (programStream, error) {
		client, err := ws.Connect(ctx, wsURL)
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", wsURL, err)
		}
		sub, err := client.ProgramSubscribe(program, commitment)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("programSubscribe: %w", err)
		}
		return &wsProgramStream{client: client, sub: sub}, nil
	}
	return newProgramSubscriber(dial, m, logger)
}

func newProgramSubscriber(dial dialFunc, m *metrics.Metrics, logger *slog.Logger) *ProgramSubscriber {
	return &ProgramSubscriber{
		dial:         dial,
		logger:       logger.With("component", "program_subscriber"),
		metrics:      m,
		minReconnect: time.Second,
		maxReconnect: 30 * time.Second,
	}
}

// Run delivers a signal on notify for every notification until ctx is
// cancelled. Sends never block: if a wake-up is already pending, further
// notifications are coalesced into it.
func (s *ProgramSubscriber) Run(ctx context.Context, notify chan<- struct{}) error {
	delay := s.minReconnect
	for {
		stream, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.WarnContext(ctx, "subscription dial failed", "error", err, "retry_in", delay)
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
			delay = min(delay*2, s.maxReconnect)
			continue
		}

		s.logger.InfoContext(ctx, "program subscription established")
		delay = s.minReconnect
		err = s.pump(ctx, stream, notify)
		stream.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.WarnContext(ctx, "program subscription dropped", "error", err)
		if s.metrics != nil {
			s.metrics.RecordSubscriptionReconnect()
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *ProgramSubscriber) pump(ctx context.Context, stream programStream, notify chan<- struct{}) error {
	for {
		if err := stream.Recv(ctx); err != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.RecordNotification()
		}
		select {
		case notify <- struct{}{}:
		default:
		}
	}
}

type wsProgramStream struct {
	client *ws.Client
	sub    *ws.ProgramSubscription
}

func (w *wsProgramStream) Recv(ctx context.Context) error {
	_, err := w.sub.Recv(ctx)
	return err
}

func (w *wsProgramStream) Close() {
	w.sub.Unsubscribe()
	w.client.Close()
}
