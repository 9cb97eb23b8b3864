package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReaderOperations records physical reader interactions by operation (read|write|wait) and result.
	ReaderOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealcard_reader_operations_total",
			Help: "Total number of NFC reader operations",
		},
		[]string{"operation", "result"},
	)

	// CacheFallbacks counts facade calls answered from the offline cache or queued offline.
	CacheFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealcard_offline_fallbacks_total",
			Help: "Total number of reads and writes served by the offline path",
		},
		[]string{"operation"},
	)

	// PendingOperations tracks the number of queued operations awaiting reconciliation.
	PendingOperations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mealcard_pending_operations",
			Help: "Number of offline operations awaiting sync",
		},
	)

	// SyncOperations counts reconciler outcomes per operation (synced|failed|skipped).
	SyncOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealcard_sync_operations_total",
			Help: "Total number of reconciled offline operations",
		},
		[]string{"result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mealcard_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
