// Package ingest drives the page pipeline: list a signature page, decode
// and classify each transaction in page order, persist it, then move the
// cursor.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/brojonat/tradewatch/service/classifier"
	"github.com/brojonat/tradewatch/service/db"
	"github.com/brojonat/tradewatch/service/decoder"
	"github.com/brojonat/tradewatch/service/metrics"
	"github.com/brojonat/tradewatch/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// SignatureLister lists one page of program signatures, newest first.
type SignatureLister interface {
	ListSignatures(ctx context.Context, program solanago.PublicKey, params solana.ListSignaturesParams) ([]solana.SignatureInfo, error)
}

// TransactionDecoder fetches and decodes one transaction.
type TransactionDecoder interface {
	Decode(ctx context.Context, signature string) (*decoder.Decoded, error)
}

// EventStore persists classified events.
type EventStore interface {
	PersistEvent(ctx context.Context, e *classifier.Event) (db.Outcome, error)
}

// EventPublisher announces newly stored events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e *classifier.Event) error
}

// PageFetchFailure means the signature page itself could not be listed.
type PageFetchFailure struct {
	Window Window
	Err    error
}

func (e *PageFetchFailure) Error() string {
	return fmt.Sprintf("fetch page before=%q until=%q: %v", e.Window.Before, e.Window.Until, e.Err)
}

func (e *PageFetchFailure) Unwrap() error {
	return e.Err
}

// Deps are the collaborators of a Pipeline. Publisher and Metrics are
// optional.
type Deps struct {
	Lister     SignatureLister
	Decoder    TransactionDecoder
	Classifier *classifier.Classifier
	Store      EventStore
	Publisher  EventPublisher
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Pipeline processes one signature page at a time.
type Pipeline struct {
	Deps
	program   solanago.PublicKey
	pageLimit int
}

func NewPipeline(program solanago.PublicKey, pageLimit int, deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	deps.Logger = deps.Logger.With("component", "pipeline")
	return &Pipeline{Deps: deps, program: program, pageLimit: pageLimit}
}

func (p *Pipeline) PageLimit() int {
	return p.pageLimit
}

// ProcessPage lists the page bounded by w and handles every transaction in
// page order.
//
// A transaction that cannot be decoded is skipped and counted; it still
// counts toward the page's oldest signature. A persistence failure aborts
// the page and is returned as is, so the caller leaves the cursor alone.
func (p *Pipeline) ProcessPage(ctx context.Context, w Window) (*Stats, error) {
	sigs, err := p.Lister.ListSignatures(ctx, p.program, solana.ListSignaturesParams{
		Limit:  p.pageLimit,
		Before: w.Before,
		Until:  w.Until,
	})
	if err != nil {
		return nil, &PageFetchFailure{Window: w, Err: err}
	}

	stats := &Stats{Total: len(sigs)}
	if len(sigs) > 0 {
		stats.Newest = sigs[0].Signature
		stats.NewestBlockTime = sigs[0].BlockTime
	}

	for _, sig := range sigs {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("page interrupted at %s: %w", sig.Signature, err)
		}

		ev, err := p.classify(ctx, sig)
		if err != nil {
			var df *decoder.DecodeFailure
			if !errors.As(err, &df) {
				return stats, err
			}
			p.Logger.WarnContext(ctx, "skipping transaction", "signature", sig.Signature, "error", err)
			if p.Metrics != nil {
				p.Metrics.RecordDecodeFailure()
			}
			stats.Skipped++
			stats.Oldest, stats.OldestBlockTime = sig.Signature, sig.BlockTime
			continue
		}

		stats.count(ev.Category)
		outcome, err := p.Store.PersistEvent(ctx, ev)
		if err != nil {
			if p.Metrics != nil {
				p.Metrics.RecordEvent(string(ev.Category), "error")
			}
			return stats, err
		}
		if p.Metrics != nil {
			p.Metrics.RecordEvent(string(ev.Category), outcome.String())
		}

		if outcome == db.OutcomeAlreadyExists {
			stats.AlreadyPresent++
		} else {
			stats.Written++
			p.publish(ctx, ev)
		}
		stats.Oldest, stats.OldestBlockTime = sig.Signature, sig.BlockTime
	}
	return stats, nil
}

func (p *Pipeline) classify(ctx context.Context, sig solana.SignatureInfo) (*classifier.Event, error) {
	decoded, err := p.Decoder.Decode(ctx, sig.Signature)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("decode %s: %w", sig.Signature, ctx.Err())
		}
		return nil, err
	}
	if decoded.BlockTime == nil {
		decoded.BlockTime = sig.BlockTime
	}

	ev, result, err := p.Classifier.ClassifyTransaction(decoded)
	if err != nil {
		return nil, &decoder.DecodeFailure{Signature: sig.Signature, Err: err}
	}
	p.Logger.DebugContext(ctx, "classified transaction",
		"signature", sig.Signature,
		"category", result.Category,
		"instruction", result.Instruction,
		"symbol", result.Symbol,
	)
	return ev, nil
}

// publish is best effort. The event is already stored.
func (p *Pipeline) publish(ctx context.Context, ev *classifier.Event) {
	if p.Publisher == nil {
		return
	}
	if err := p.Publisher.PublishEvent(ctx, ev); err != nil {
		p.Logger.WarnContext(ctx, "failed to publish event",
			"signature", ev.Signature,
			"category", ev.Category,
			"error", err,
		)
	}
}
