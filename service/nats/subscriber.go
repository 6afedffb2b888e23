package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/brojonat/tradewatch/service/classifier"
	"github.com/nats-io/nats.go/jetstream"
)

// SubscribeOptions select which events a subscription receives.
type SubscribeOptions struct {
	// Category filters to one category; empty receives every category.
	Category classifier.Category
	// Durable names a consumer that survives restarts. Empty creates an
	// ephemeral consumer that starts with new messages.
	Durable string
}

// Subscribe delivers events to handle until ctx is cancelled. Messages that
// fail to parse are acked and skipped; a handler error leaves the message
// unacked for redelivery.
func Subscribe(ctx context.Context, js jetstream.JetStream, opts SubscribeOptions, logger *slog.Logger, handle func(*EventMessage) error) error {
	cfg := jetstream.ConsumerConfig{
		FilterSubject: Subject(opts.Category),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if opts.Durable != "" {
		cfg.Durable = opts.Durable
		cfg.Name = opts.Durable
		cfg.DeliverPolicy = jetstream.DeliverAllPolicy
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, StreamName, cfg)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		var event EventMessage
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			logger.Warn("dropping unparseable event", "subject", msg.Subject(), "error", err)
			_ = msg.Ack()
			return
		}
		if err := handle(&event); err != nil {
			logger.Warn("event handler failed", "signature", event.Signature, "error", err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}
	defer cc.Stop()

	<-ctx.Done()
	return nil
}
