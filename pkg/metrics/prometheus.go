// Package metrics provides Prometheus metrics for the criterium service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns all Prometheus metrics for the service.
type Manager struct {
	namespace string
	registry  *prometheus.Registry

	// Webhook intake
	webhookEventsReceived  *prometheus.CounterVec
	webhookEventsDuplicate prometheus.Counter
	webhookEventsDropped   prometheus.Counter

	// Batch fetch runs
	batchRunsStarted    prometheus.Counter
	batchRunsCompleted  prometheus.Counter
	batchRunsFailed     prometheus.Counter
	batchAthleteOutcome *prometheus.CounterVec

	// Upstream provider
	upstreamCalls    *prometheus.CounterVec
	upstreamLatency  prometheus.Histogram
	tokenRefreshes   prometheus.Counter
	authFailures     prometheus.Counter

	// Scoring and storage
	scoringRecomputes prometheus.Counter
	resultsTracked    prometheus.Gauge
	storeLatency      *prometheus.HistogramVec

	// Queue and workers
	queueSize   prometheus.Gauge
	queueDrops  prometheus.Counter
	workerCount prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional singleton

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager()
}

// NewManager creates a metrics manager with its own registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "criterium",
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initialize()
	return m
}

func (m *Manager) initialize() {
	auto := promauto.With(m.registry)

	m.webhookEventsReceived = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "webhook_events_received_total",
		Help:      "Webhook events accepted at intake, by event kind.",
	}, []string{"kind"})
	m.webhookEventsDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "webhook_events_duplicate_total",
		Help:      "Webhook events absorbed as provider replays.",
	})
	m.webhookEventsDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "webhook_events_dropped_total",
		Help:      "Webhook events rejected due to queue backpressure.",
	})

	m.batchRunsStarted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "batch_runs_started_total",
		Help:      "Batch fetch runs started.",
	})
	m.batchRunsCompleted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "batch_runs_completed_total",
		Help:      "Batch fetch runs that reached the terminal complete event.",
	})
	m.batchRunsFailed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "batch_runs_failed_total",
		Help:      "Batch fetch runs that terminated with an error event.",
	})
	m.batchAthleteOutcome = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "batch_athlete_outcomes_total",
		Help:      "Per-athlete outcomes within batch runs.",
	}, []string{"outcome"})

	m.upstreamCalls = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "upstream_calls_total",
		Help:      "Calls to the upstream activity provider, by operation and status.",
	}, []string{"op", "status"})
	m.upstreamLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "upstream_call_duration_seconds",
		Help:      "Latency of upstream provider calls.",
		Buckets:   prometheus.DefBuckets,
	})
	m.tokenRefreshes = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "token_refreshes_total",
		Help:      "Forced credential refreshes against the token provider.",
	})
	m.authFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "auth_failures_total",
		Help:      "Terminal per-athlete authorization failures.",
	})

	m.scoringRecomputes = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "scoring_recomputes_total",
		Help:      "Full week scoring recomputations.",
	})
	m.resultsTracked = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "results_tracked",
		Help:      "Number of result rows currently persisted.",
	})
	m.storeLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "store_operation_duration_seconds",
		Help:      "Latency of repository operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "webhook_queue_size",
		Help:      "Current depth of the webhook event queue.",
	})
	m.queueDrops = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "webhook_queue_drops_total",
		Help:      "Events the queue refused because it was full or closed.",
	})
	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "worker_count",
		Help:      "Number of webhook workers.",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by endpoint, method and status.",
	}, []string{"endpoint", "method", "status"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by endpoint.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint", "method"})
}

// Handler returns an http.Handler serving the manager's registry.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Handler exposes the global manager's registry.
func Handler() http.Handler { return globalManager.Handler() }

// Package-level recording functions against the global manager.

func RecordWebhookEventReceived(kind string) { globalManager.webhookEventsReceived.WithLabelValues(kind).Inc() }
func RecordWebhookEventDuplicate()           { globalManager.webhookEventsDuplicate.Inc() }
func RecordWebhookEventDropped()             { globalManager.webhookEventsDropped.Inc() }

func RecordBatchRunStarted()   { globalManager.batchRunsStarted.Inc() }
func RecordBatchRunCompleted() { globalManager.batchRunsCompleted.Inc() }
func RecordBatchRunFailed()    { globalManager.batchRunsFailed.Inc() }

// RecordBatchAthleteOutcome records one athlete's outcome: found, no_result or failed.
func RecordBatchAthleteOutcome(outcome string) {
	globalManager.batchAthleteOutcome.WithLabelValues(outcome).Inc()
}

func RecordUpstreamCall(op, status string) {
	globalManager.upstreamCalls.WithLabelValues(op, status).Inc()
}
func RecordUpstreamLatency(seconds float64) { globalManager.upstreamLatency.Observe(seconds) }
func RecordTokenRefresh()                   { globalManager.tokenRefreshes.Inc() }
func RecordAuthFailure()                    { globalManager.authFailures.Inc() }

func RecordScoringRecompute()      { globalManager.scoringRecomputes.Inc() }
func UpdateResultsTracked(n int)   { globalManager.resultsTracked.Set(float64(n)) }
func RecordStoreLatency(op string, seconds float64) {
	globalManager.storeLatency.WithLabelValues(op).Observe(seconds)
}

func UpdateQueueSize(n int)    { globalManager.queueSize.Set(float64(n)) }
func RecordQueueDrop()         { globalManager.queueDrops.Inc() }
func UpdateWorkerCount(n int)  { globalManager.workerCount.Set(float64(n)) }

func RecordHTTPRequest(endpoint, method, status string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, status).Inc()
}

func RecordHTTPRequestDuration(endpoint, method string, seconds float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method).Observe(seconds)
}
