package dictionary

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindex_dictionary_queries_total",
			Help: "Total number of dictionary GetData calls by protocol version and outcome",
		},
		[]string{"version", "outcome"},
	)

	behindTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evmindex_dictionary_behind_total",
			Help: "Number of fetch cycles where the dictionary was behind the requested start height and bypassed",
		},
	)

	capabilityDisabled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmindex_dictionary_capability_disabled_total",
			Help: "Number of times a capability (distinct, startHeight) was disabled after an unsupported-argument error",
		},
		[]string{"capability"},
	)
)

// QueryInc records a completed GetData call.
func QueryInc(version int, outcome string) {
	queriesTotal.WithLabelValues(versionLabel(version), outcome).Inc()
}

// BehindInc records a cycle where the dictionary was skipped for being behind.
func BehindInc() {
	behindTotal.Inc()
}

// CapabilityDisabledInc records a capability being turned off for the process.
func CapabilityDisabledInc(capability string) {
	capabilityDisabled.WithLabelValues(capability).Inc()
}

func versionLabel(v int) string {
	switch v {
	case 1:
		return "v1"
	case 2:
		return "v2"
	default:
		return "unknown"
	}
}
