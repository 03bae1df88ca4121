package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blocksCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evmindex_dispatcher_blocks_committed_total",
			Help: "Total number of blocks committed in order by the dispatcher",
		},
	)

	handlerFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evmindex_dispatcher_handler_failures_total",
			Help: "Total number of fatal handler failures reported by the dispatcher",
		},
	)

	ringPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evmindex_dispatcher_ring_pending",
			Help: "Number of heights currently sitting in the dispatcher's ring buffer",
		},
	)
)
