package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups counts cache reads by record type and result (hit|miss|corrupt|error).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hatsync_cache_lookups_total",
			Help: "Total number of local cache lookups",
		},
		[]string{"type", "result"},
	)

	// RemoteCalls counts HAT API calls by operation (fetch|provision) and error code ("ok" on success).
	RemoteCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hatsync_remote_calls_total",
			Help: "Total number of calls made to the HAT API",
		},
		[]string{"op", "result"},
	)

	// SyncAttempts counts completed sync attempts by type and outcome (cache|remote|provisioned|failed).
	SyncAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hatsync_sync_attempts_total",
			Help: "Total number of sync attempts",
		},
		[]string{"type", "outcome"},
	)

	// DecodeSkipped counts remote records dropped because they failed schema validation.
	DecodeSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hatsync_decode_skipped_total",
			Help: "Total number of remote records skipped during decoding",
		},
		[]string{"type"},
	)

	// SyncDuration measures end-to-end sync attempt latency.
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hatsync_sync_duration_seconds",
			Help:    "Sync attempt latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// MaintenanceRuns counts background job runs by job and result (success|failure).
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hatsync_maintenance_runs_total",
			Help: "Total number of background maintenance job runs",
		},
		[]string{"job", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hatsync_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
