// Package metrics exposes Prometheus counters/gauges for the service's
// HTTP surface and scheduler, recovered from
// original_source/app/metrics_endpoints.go (the spec's distillation
// dropped it, but the Non-goals exclude only publisher-side throttling
// guarantees and distributed scheduling — never ambient observability).
//
// No teacher implementation file registers metrics directly — the
// teacher's observability package only exercises prometheus/client_golang
// from context_metrics_test.go, a per-package gauge/counter wrapper built
// around a prometheus.Registerer. This package follows that same shape,
// generalized from "context compression metrics" to "service request and
// queue metrics".
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServiceMetrics accumulates request, task, and queue health counters.
type ServiceMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tasksTotal      *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	activeDownloads prometheus.Gauge
	circuitState    *prometheus.GaugeVec
}

// New builds a ServiceMetrics registered against the default registerer.
func New() *ServiceMetrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer builds a ServiceMetrics against reg, mirroring the
// teacher's NewContextMetricsWithRegisterer constructor shape so tests can
// register against a throwaway prometheus.NewRegistry().
func NewWithRegisterer(reg prometheus.Registerer) *ServiceMetrics {
	factory := promauto.With(reg)
	return &ServiceMetrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ytdlpapi",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by route and status.",
		}, []string{"route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ytdlpapi",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ytdlpapi",
			Name:      "tasks_total",
			Help:      "Total tasks reaching a terminal status, by status.",
		}, []string{"status"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ytdlpapi",
			Name:      "queue_depth",
			Help:      "Current number of jobs waiting in the priority queue.",
		}),
		activeDownloads: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ytdlpapi",
			Name:      "active_downloads",
			Help:      "Current number of in-flight downloads/transcodes.",
		}),
		circuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ytdlpapi",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state by name (0=closed, 1=open, 2=half_open), matching internal/errors.CircuitState.",
		}, []string{"name"}),
	}
}

// RecordRequest records one completed HTTP request.
func (m *ServiceMetrics) RecordRequest(route, status string, duration float64) {
	m.requestsTotal.WithLabelValues(route, status).Inc()
	m.requestDuration.WithLabelValues(route).Observe(duration)
}

// RecordTaskTerminal records a task reaching a terminal status.
func (m *ServiceMetrics) RecordTaskTerminal(status string) {
	m.tasksTotal.WithLabelValues(status).Inc()
}

// SetQueueDepth publishes the current queue depth.
func (m *ServiceMetrics) SetQueueDepth(n float64) {
	m.queueDepth.Set(n)
}

// SetActiveDownloads publishes the current in-flight count.
func (m *ServiceMetrics) SetActiveDownloads(n float64) {
	m.activeDownloads.Set(n)
}

// SetCircuitState publishes a named circuit breaker's numeric state.
func (m *ServiceMetrics) SetCircuitState(name string, state float64) {
	m.circuitState.WithLabelValues(name).Set(state)
}

// Handler returns the Prometheus exposition-format HTTP handler for
// GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
