package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var toolLabels = []string{"provider", "tool"}

const (
	ToolCallStatusOK      = "ok"
	ToolCallStatusError   = "error"
	ToolCallStatusInvalid = "invalid"
	ToolCallStatusPanic   = "panic"
)

type Metrics struct {
	// Tool-related metrics.
	ToolCallCount     *prometheus.CounterVec
	ToolCallDuration  *prometheus.HistogramVec
	ToolCallsInflight *prometheus.GaugeVec

	// Upstream-related metrics.
	UpstreamRequestCount    *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics.
	CircuitBreakerState   *prometheus.GaugeVec
	CircuitBreakerTrips   *prometheus.CounterVec
	CircuitBreakerRejects *prometheus.CounterVec

	// Transport-related metrics.
	HTTPRequestsInflight prometheus.Gauge
	HTTPRequestCount     *prometheus.CounterVec
}

// NewMetrics creates AND registers metrics. It will panic if a collector has already been registered.
// Note: we are not specifying namespace in the metrics; the provided registerer may specify a "namespace"
// using [prometheus.WrapRegistererWithPrefix].
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		// Tool-related metrics.

		// Pessimistic cardinality: 15 providers, 7 tools, 4 statuses = up to 420.
		ToolCallCount: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: "tool_calls",
			Name:      "total",
			Help:      "The count of tool invocations, by outcome.",
		}, append(toolLabels, "status")),
		ToolCallDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "tool_calls",
			Name:      "duration_seconds",
			Help: "The total duration of tool invocations, in seconds. " +
				"Most of this time is spent waiting on the upstream API.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, toolLabels),
		ToolCallsInflight: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: "tool_calls",
			Name:      "inflight",
			Help:      "The number of tool invocations currently being processed.",
		}, []string{"provider"}),

		// Upstream-related metrics.

		// NOTE: endpoint is a static label chosen by the adapter, never the raw URL path.
		UpstreamRequestCount: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: "upstream_requests",
			Name:      "total",
			Help:      "The count of requests sent to third-party APIs, by response code.",
		}, []string{"provider", "endpoint", "method", "code"}),
		UpstreamRequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "upstream_requests",
			Name:      "duration_seconds",
			Help:      "The duration of requests sent to third-party APIs, in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider", "endpoint"}),

		// Circuit breaker metrics.

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Current circuit breaker state (0=closed, 0.5=half-open, 1=open).",
		}, []string{"provider", "endpoint"}),
		CircuitBreakerTrips: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: "circuit_breaker",
			Name:      "trips_total",
			Help:      "The number of times a circuit breaker opened.",
		}, []string{"provider", "endpoint"}),
		CircuitBreakerRejects: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: "circuit_breaker",
			Name:      "rejects_total",
			Help:      "The number of upstream requests rejected by an open circuit breaker.",
		}, []string{"provider", "endpoint"}),

		// Transport-related metrics.

		HTTPRequestsInflight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Subsystem: "http",
			Name:      "requests_inflight",
			Help:      "The number of MCP HTTP requests currently being served.",
		}),
		// Pessimistic cardinality: 15 providers, 3 transports, 5 codes = up to 225.
		HTTPRequestCount: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "The count of MCP HTTP requests, by transport and response code.",
		}, []string{"provider", "transport", "code"}),
	}
}
