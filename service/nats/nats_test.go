package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/brojonat/tradewatch/service/classifier"
	"github.com/brojonat/tradewatch/service/metrics"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func int64Ptr(v int64) *int64 { return &v }

func sampleEvent() *classifier.Event {
	return &classifier.Event{
		Signature: "5sig",
		BlockTime: int64Ptr(1700000000),
		Category:  classifier.Exchange,
		Raw:       json.RawMessage(`[{"name":"processExchange"}]`),
		Size:      int64Ptr(50),
		Price:     int64Ptr(1200),
		Symbol:    "ATLASUSDC",
	}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "gm.events.exchange", Subject(classifier.Exchange))
	assert.Equal(t, "gm.events.direct_transfer", Subject(classifier.DirectTransfer))
	assert.Equal(t, "gm.events.*", Subject(""))
}

func TestFromEvent(t *testing.T) {
	msg := FromEvent(sampleEvent())
	assert.Equal(t, "5sig", msg.Signature)
	assert.Equal(t, classifier.Exchange, msg.Category)
	assert.Equal(t, int64(50), *msg.Size)
	require.NotNil(t, msg.BlockTime)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), *msg.BlockTime)
	assert.WithinDuration(t, time.Now(), msg.PublishedAt, time.Second)

	unmapped := FromEvent(&classifier.Event{Signature: "x", Category: classifier.Unmapped, Symbol: classifier.NoSymbol})
	assert.Nil(t, unmapped.BlockTime)
	assert.Nil(t, unmapped.Size)
}

func TestMockPublisher(t *testing.T) {
	m := NewMockPublisher()
	ctx := context.Background()

	require.NoError(t, m.PublishEvent(ctx, sampleEvent()))
	require.NoError(t, m.PublishEvent(ctx, &classifier.Event{Signature: "c", Category: classifier.Cancel}))
	assert.Len(t, m.GetPublishedEvents(), 2)
	assert.Len(t, m.GetPublishedEventsForCategory(classifier.Cancel), 1)

	m.SetPublishError(errors.New("boom"))
	assert.Error(t, m.PublishEvent(ctx, sampleEvent()))
	assert.Len(t, m.GetPublishedEvents(), 2)

	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
	m.Reset()
	assert.Empty(t, m.GetPublishedEvents())
	assert.False(t, m.IsClosed())
}

// startNATS runs a JetStream-enabled server in a container.
func startNATS(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping NATS container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			Cmd:          []string{"-js"},
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Skipping NATS test: cannot start container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func TestJetStreamPublisher_RoundTrip(t *testing.T) {
	url := startNATS(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	pub, err := NewPublisher(url, m, logger)
	require.NoError(t, err)
	defer pub.Close()

	nc, err := Connect(url, "tradewatch-test")
	require.NoError(t, err)
	defer nc.Close()
	js, err := jetstream.New(nc)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	received := make(chan *EventMessage, 4)
	go func() {
		_ = Subscribe(ctx, js, SubscribeOptions{Category: classifier.Exchange, Durable: "test-exchanges"}, logger,
			func(msg *EventMessage) error {
				received <- msg
				return nil
			})
	}()

	require.NoError(t, pub.PublishEvent(ctx, &classifier.Event{Signature: "cancel-1", Category: classifier.Cancel}))
	require.NoError(t, pub.PublishEvent(ctx, sampleEvent()))
	// Same signature again is dropped by the stream's duplicate window.
	require.NoError(t, pub.PublishEvent(ctx, sampleEvent()))

	select {
	case msg := <-received:
		assert.Equal(t, "5sig", msg.Signature)
		assert.Equal(t, "ATLASUSDC", msg.Symbol)
		assert.Equal(t, int64(1200), *msg.Price)
	case <-ctx.Done():
		t.Fatal("no event received")
	}

	select {
	case msg := <-received:
		t.Fatalf("unexpected second delivery: %s", msg.Signature)
	case <-time.After(500 * time.Millisecond):
	}

	// One series per subject: cancel and exchange.
	n, err := testutil.GatherAndCount(reg, "nats_messages_published_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
