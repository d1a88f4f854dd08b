// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DecisionsTotal tracks match decisions by entity kind and outcome
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "matching",
			Name:      "decisions_total",
			Help:      "Total number of match decisions by kind and outcome",
		},
		[]string{"kind", "decision"},
	)

	// ResolveDuration tracks the duration of a resolve call including retries
	ResolveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "matching",
			Name:      "resolve_duration_seconds",
			Help:      "Duration of resolve calls in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"kind"},
	)

	// UniquenessConflictsTotal tracks resolve attempts rolled back on a uniqueness conflict
	UniquenessConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "matching",
			Name:      "uniqueness_conflicts_total",
			Help:      "Total number of resolve attempts retried after a uniqueness conflict",
		},
		[]string{"kind"},
	)

	// GateRejectionsTotal tracks person records turned into placeholders by gate rule
	GateRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "gate",
			Name:      "rejections_total",
			Help:      "Total number of gate rejections by rule",
		},
		[]string{"rule"},
	)

	// MergesTotal tracks merges by kind and status
	MergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "merging",
			Name:      "merges_total",
			Help:      "Total number of merges by kind and status",
		},
		[]string{"kind", "status"},
	)

	// RecordsProcessed tracks inbound candidate messages by status
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "processor",
			Name:      "records_total",
			Help:      "Total number of inbound candidate records processed",
		},
		[]string{"source", "status"},
	)

	// RecordsInFlight tracks records currently being resolved by the worker pool
	RecordsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "processor",
			Name:      "records_in_flight",
			Help:      "Number of records currently being resolved",
		},
	)

	// ConfigReloadsTotal tracks matching parameter reloads by status
	ConfigReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "config",
			Name:      "reloads_total",
			Help:      "Total number of matching parameter reloads by status",
		},
		[]string{"status"},
	)
)

var (
	// HTTPRequestDuration tracks API latency by route and status class
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
