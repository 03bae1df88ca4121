package rpc

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPC metrics
	RPCRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindex_rpc_requests_total",
			Help: "Total number of RPC requests by method",
		},
		[]string{"method"},
	)

	RPCErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindex_rpc_errors_total",
			Help: "Total number of RPC errors by method and type",
		},
		[]string{"method", "error_type"},
	)

	RPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evmindex_rpc_request_duration_seconds",
			Help:    "Duration of RPC requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	RPCRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindex_rpc_retries_total",
			Help: "Total number of RPC retry attempts by operation",
		},
		[]string{"operation"},
	)

	RPCBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evmindex_rpc_batch_size",
			Help:    "Size of outbound JSON-RPC batches",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	RPCAdaptiveCeiling = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evmindex_rpc_adaptive_batch_ceiling",
			Help: "Current adaptive batch size ceiling discovered by probing",
		},
	)

	RPCCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evmindex_rpc_coalesced_calls_total",
			Help: "Total number of individual calls merged into a shared batch by the coalescing window",
		},
	)
)

func RPCMethodInc(method string) {
	RPCRequests.WithLabelValues(method).Inc()
}

func RPCMethodDuration(method string, duration time.Duration) {
	RPCDuration.WithLabelValues(method).Observe(duration.Seconds())
}

func RPCMethodError(method, errorType string) {
	RPCErrors.WithLabelValues(method, errorType).Inc()
}

// RPCRetryInc records a retry attempt for the named logical operation.
func RPCRetryInc(operation string) {
	RPCRetries.WithLabelValues(operation).Inc()
}

// RPCBatchSizeObserve records the size of an outbound batch.
func RPCBatchSizeObserve(n int) {
	RPCBatchSize.Observe(float64(n))
}

// RPCAdaptiveCeilingSet records the adaptive batcher's current discovered ceiling.
func RPCAdaptiveCeilingSet(n int) {
	RPCAdaptiveCeiling.Set(float64(n))
}

// RPCCoalescedInc records a call that was merged into a shared batch.
func RPCCoalescedInc() {
	RPCCoalesced.Inc()
}
