// Package metrics holds the Prometheus instrumentation for sync runs, the
// Spotify client, the metadata cache and the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync runs
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotlog_sync_runs_total",
			Help: "Total number of per-user sync runs by outcome",
		},
		[]string{"outcome"}, // success, partial, failure
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spotlog_sync_duration_seconds",
			Help:    "Duration of a per-user sync run in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RowsCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spotlog_rows_committed_total",
			Help: "Total number of log rows appended",
		},
	)

	EventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotlog_events_skipped_total",
			Help: "Total number of fetched events not committed, by reason",
		},
		[]string{"reason"}, // duplicate, out_of_window, malformed
	)

	PagesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spotlog_pages_fetched_total",
			Help: "Total number of history pages fetched",
		},
	)

	// Metadata cache
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotlog_cache_lookups_total",
			Help: "Total number of metadata resolutions by entity kind and result",
		},
		[]string{"kind", "status"}, // fresh, fetched, stale_fallback, failed
	)

	// Spotify API
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotlog_api_requests_total",
			Help: "Total number of Spotify API requests by endpoint and status class",
		},
		[]string{"endpoint", "status"},
	)

	APIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotlog_api_retries_total",
			Help: "Total number of retried calls by operation",
		},
		[]string{"operation"},
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spotlog_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotlog_circuit_breaker_requests_total",
			Help: "Total number of requests through the circuit breaker",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotlog_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// HTTP server
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spotlog_http_requests_total",
			Help: "Total number of HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spotlog_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
