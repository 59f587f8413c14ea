// Package metrics exposes Prometheus collectors for ingestion, enrichment and aggregation.
//
// Collectors register on the default registry and are served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TrackEvents counts tracking requests by outcome
	// (accepted, invalid, dropped, bot, stored, failed).
	TrackEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitly_track_events_total",
			Help: "Tracking events by outcome",
		},
		[]string{"outcome"},
	)

	// GeoLookups counts geo resolutions by provider and result (hit, miss, skipped, rejected).
	GeoLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitly_geo_lookups_total",
			Help: "Geo enrichment lookups by provider and result",
		},
		[]string{"provider", "result"},
	)

	// StoreWriteFailures counts failed visit store writes by operation.
	StoreWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitly_store_write_failures_total",
			Help: "Failed visit store writes by operation",
		},
		[]string{"op"},
	)

	// QueueJobs counts write queue jobs by result (enqueued, dropped, panicked).
	QueueJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitly_write_queue_jobs_total",
			Help: "Write queue jobs by result",
		},
		[]string{"result"},
	)

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "visitly_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// VisitorsToday mirrors today's DailyStats, refreshed by the snapshot job.
	VisitorsToday = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "visitly_visitors_today",
			Help: "Today's visit counters by kind",
		},
		[]string{"kind"},
	)

	// AnalyticsQueryDuration observes aggregation latency per query.
	AnalyticsQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "visitly_analytics_query_duration_seconds",
			Help:    "Aggregation query latency",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"query"},
	)
)
