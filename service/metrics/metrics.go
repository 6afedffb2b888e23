package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the worker and server export.
// It is built once per process and shared; components treat a nil *Metrics
// as "don't record".
type Metrics struct {
	ledger
	ingest
	storage
	api
	bus
}

type ledger struct {
	rpcCalls          *prometheus.CounterVec
	rpcLatency        *prometheus.HistogramVec
	rpcRateLimited    *prometheus.CounterVec
	rpcRetries        *prometheus.CounterVec
	signaturesPerPage *prometheus.HistogramVec
	notifications     prometheus.Counter
	reconnects        prometheus.Counter
}

type ingest struct {
	pages              *prometheus.CounterVec
	pageLatency        *prometheus.HistogramVec
	events             *prometheus.CounterVec
	decodeFailures     prometheus.Counter
	cursorBlockTime    *prometheus.GaugeVec
	workflowIterations *prometheus.CounterVec
}

type storage struct {
	queryLatency *prometheus.HistogramVec
	operations   *prometheus.CounterVec
}

type api struct {
	requestLatency *prometheus.HistogramVec
	requests       *prometheus.CounterVec
}

type bus struct {
	published      *prometheus.CounterVec
	publishLatency *prometheus.HistogramVec
}

// NewMetrics registers all collectors with registry, or with
// prometheus.DefaultRegisterer when registry is nil. Registering twice on
// the same registry panics.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)

	return &Metrics{
		ledger:  newLedger(f),
		ingest:  newIngest(f),
		storage: newStorage(f),
		api:     newAPI(f),
		bus:     newBus(f),
	}
}

func newLedger(f promauto.Factory) ledger {
	const rpc = "solana_rpc"
	return ledger{
		rpcCalls: f.NewCounterVec(prometheus.CounterOpts{
			Subsystem: rpc, Name: "calls_total",
			Help: "Ledger RPC calls by method, outcome and endpoint",
		}, []string{"method", "status", "endpoint"}),
		rpcLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: rpc, Name: "call_duration_seconds",
			Help:    "Ledger RPC call latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "endpoint"}),
		rpcRateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Subsystem: rpc, Name: "rate_limit_hits_total",
			Help: "Responses with HTTP 429 from the ledger RPC",
		}, []string{"endpoint"}),
		rpcRetries: f.NewCounterVec(prometheus.CounterOpts{
			Subsystem: rpc, Name: "retries_total",
			Help: "Ledger RPC calls retried, by reason",
		}, []string{"method", "reason"}),
		signaturesPerPage: f.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: rpc, Name: "signatures_per_call",
			Help:    "Signatures returned by one getSignaturesForAddress call",
			Buckets: []float64{0, 1, 5, 10, 25, 100, 500, 1000},
		}, []string{"endpoint"}),
		notifications: f.NewCounter(prometheus.CounterOpts{
			Subsystem: "solana", Name: "program_notifications_total",
			Help: "Program account change notifications received",
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Subsystem: "solana", Name: "program_subscription_reconnects_total",
			Help: "Times the program subscription had to be re-established",
		}),
	}
}

func newIngest(f promauto.Factory) ingest {
	const sub = "ingest"
	return ingest{
		pages: f.NewCounterVec(prometheus.CounterOpts{
			Subsystem: sub, Name: "pages_total",
			Help: "Pages processed by mode and status",
		}, []string{"mode", "status"}),
		pageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: sub, Name: "page_duration_seconds",
			Help:    "Wall time to process one page",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"mode"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Subsystem: sub, Name: "events_total",
			Help: "Classified events by category and persistence outcome",
		}, []string{"category", "outcome"}),
		decodeFailures: f.NewCounter(prometheus.CounterOpts{
			Subsystem: sub, Name: "decode_failures_total",
			Help: "Transactions skipped because they could not be fetched or decoded",
		}),
		cursorBlockTime: f.NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: sub, Name: "cursor_block_time_seconds",
			Help: "Block time of the oldest signature in the last processed page",
		}, []string{"cursor"}),
		workflowIterations: f.NewCounterVec(prometheus.CounterOpts{
			Subsystem: sub, Name: "workflow_iterations_total",
			Help: "Ingest workflow page activities by status",
		}, []string{"status"}),
	}
}

func newStorage(f promauto.Factory) storage {
	return storage{
		queryLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "db", Name: "query_duration_seconds",
			Help:    "Postgres statement latency by operation and table",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
		}, []string{"operation", "table"}),
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "db", Name: "operations_total",
			Help: "Postgres statements by operation and outcome",
		}, []string{"operation", "status"}),
	}
}

func newAPI(f promauto.Factory) api {
	labels := []string{"handler", "method", "status"}
	return api{
		requestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "http", Name: "request_duration_seconds",
			Help:    "Read API request latency",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, labels),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "http", Name: "requests_total",
			Help: "Read API requests by route, method and status class",
		}, labels),
	}
}

func newBus(f promauto.Factory) bus {
	return bus{
		published: f.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "nats", Name: "messages_published_total",
			Help: "Events published to JetStream by subject and outcome",
		}, []string{"subject", "status"}),
		publishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "nats", Name: "publish_duration_seconds",
			Help:    "Time until JetStream acknowledged a publish",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"subject"}),
	}
}

// RecordRPCCall records one ledger RPC call.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.rpcCalls.WithLabelValues(method, status, endpoint).Inc()
	m.rpcLatency.WithLabelValues(method, endpoint).Observe(duration)
}

func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.rpcRateLimited.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.rpcRetries.WithLabelValues(method, reason).Inc()
}

func (m *Metrics) RecordRPCSignaturesPerCall(endpoint string, count float64) {
	m.signaturesPerPage.WithLabelValues(endpoint).Observe(count)
}

func (m *Metrics) RecordNotification() {
	m.notifications.Inc()
}

func (m *Metrics) RecordSubscriptionReconnect() {
	m.reconnects.Inc()
}

// RecordPage records one processed (or aborted) page.
func (m *Metrics) RecordPage(mode, status string, duration float64) {
	m.pages.WithLabelValues(mode, status).Inc()
	m.pageLatency.WithLabelValues(mode).Observe(duration)
}

// RecordEvent records the persistence outcome for one classified event.
func (m *Metrics) RecordEvent(category, outcome string) {
	m.events.WithLabelValues(category, outcome).Inc()
}

func (m *Metrics) RecordDecodeFailure() {
	m.decodeFailures.Inc()
}

// RecordCursor exports the block time the named cursor currently points at.
func (m *Metrics) RecordCursor(name string, blockTime int64) {
	m.cursorBlockTime.WithLabelValues(name).Set(float64(blockTime))
}

// RecordWorkflowIteration counts one ProcessPage activity run.
func (m *Metrics) RecordWorkflowIteration(status string) {
	m.workflowIterations.WithLabelValues(status).Inc()
}

// RecordDBQuery records one statement; err decides the status label.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.queryLatency.WithLabelValues(operation, table).Observe(duration)
	m.operations.WithLabelValues(operation, status).Inc()
}

// RecordHTTPRequest records one request under its status class.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	class := statusClass(statusCode)
	m.requestLatency.WithLabelValues(handler, method, class).Observe(duration)
	m.requests.WithLabelValues(handler, method, class).Inc()
}

func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.published.WithLabelValues(subject, status).Inc()
	m.publishLatency.WithLabelValues(subject).Observe(duration)
}

// statusClass maps 404 to "4xx" and so on.
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return string(rune('0'+code/100)) + "xx"
}
