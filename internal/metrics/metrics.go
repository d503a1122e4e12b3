// Package metrics exposes Prometheus collectors for the meter service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	probeResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterd_probe_results_total",
			Help: "Total probe results applied, labeled by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	probeDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meterd_probe_duration_seconds",
			Help:    "Histogram of individual probe latencies, labeled by source.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source"},
	)

	batchesStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meterd_batches_started_total",
			Help: "Total probe batches dispatched.",
		},
	)

	batchesCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meterd_batches_completed_total",
			Help: "Total probe batches completed.",
		},
	)

	lateEventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meterd_late_events_dropped_total",
			Help: "Total result events dropped for unknown or closed batches.",
		},
	)

	activeProbes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meterd_active_probes",
			Help: "Number of probes currently in flight.",
		},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveProbeResult counts one probe result for a source.
func ObserveProbeResult(source, outcome string) {
	probeResultsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveProbeDuration records one probe's latency.
func ObserveProbeDuration(source string, duration time.Duration) {
	probeDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveBatchStarted counts one dispatched batch.
func ObserveBatchStarted() {
	batchesStartedTotal.Inc()
}

// ObserveBatchCompleted counts one completed batch.
func ObserveBatchCompleted() {
	batchesCompletedTotal.Inc()
}

// ObserveLateEventDropped counts one discarded late or duplicate event.
func ObserveLateEventDropped() {
	lateEventsDroppedTotal.Inc()
}

// IncActiveProbes increments the in-flight probe gauge.
func IncActiveProbes() {
	activeProbes.Inc()
}

// DecActiveProbes decrements the in-flight probe gauge.
func DecActiveProbes() {
	activeProbes.Dec()
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
