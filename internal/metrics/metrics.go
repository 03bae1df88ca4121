package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Indexing metrics
	LastFetchedHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evmindex_last_fetched_height",
			Help: "Height of the most recently fetched block",
		},
	)

	LastFinalizedHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evmindex_last_finalized_height",
			Help: "Height of the last finalized block observed by the chain-tip monitor",
		},
	)

	BlocksDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evmindex_blocks_dispatched_total",
			Help: "Total number of blocks handed to the dispatcher",
		},
	)

	BlocksCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evmindex_blocks_committed_total",
			Help: "Total number of blocks that completed in-order commit",
		},
	)

	FetchBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evmindex_fetch_batch_size",
			Help:    "Size of batches computed by the fetch service",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	DispatcherQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evmindex_dispatcher_queue_depth",
			Help: "Current number of heights pending in the dispatcher ring buffer",
		},
	)

	ReorgsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evmindex_reorgs_detected_total",
			Help: "Total number of blockchain reorganizations detected",
		},
	)

	ReorgDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evmindex_reorg_depth_blocks",
			Help:    "Depth of blockchain reorganizations in blocks",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		},
	)

	DictionaryLagBlocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evmindex_dictionary_lag_blocks",
			Help: "Blocks the dictionary's lastProcessedHeight lags the chain tip",
		},
	)

	DictionaryVersion = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evmindex_dictionary_version",
			Help: "Active dictionary protocol version per endpoint (1 or 2)",
		},
		[]string{"endpoint"},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evmindex_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindex_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evmindex_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evmindex_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evmindex_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func LastFetchedHeightSet(height uint64) {
	LastFetchedHeight.Set(float64(height))
}

func LastFinalizedHeightSet(height uint64) {
	LastFinalizedHeight.Set(float64(height))
}

func BlocksDispatchedInc(n int) {
	BlocksDispatched.Add(float64(n))
}

func BlocksCommittedInc() {
	BlocksCommitted.Inc()
}

func FetchBatchSizeObserve(n int) {
	FetchBatchSize.Observe(float64(n))
}

func DispatcherQueueDepthSet(n int) {
	DispatcherQueueDepth.Set(float64(n))
}

func ReorgDetectedLog(depth uint64) {
	ReorgsDetected.Inc()
	ReorgDepth.Observe(float64(depth))
}

func DictionaryLagSet(lag int64) {
	DictionaryLagBlocks.Set(float64(lag))
}

func DictionaryVersionSet(endpoint string, version int) {
	DictionaryVersion.WithLabelValues(endpoint).Set(float64(version))
}

func ErrorsInc(component, severity string) {
	Errors.WithLabelValues(component, severity).Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())
	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
