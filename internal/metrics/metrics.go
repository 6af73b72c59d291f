// Package metrics exposes the engine's Prometheus instrumentation. Every
// counter here is registered against the default registry at package init.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	BatchUpdatesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "memengine",
		Subsystem: "batch",
		Name:      "updates_dropped_total",
		Help:      "Pending decay updates dropped due to back-pressure.",
	})

	BatchFlushesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "memengine",
		Subsystem: "batch",
		Name:      "flushes_total",
		Help:      "Batch flushes successfully applied to storage.",
	})

	RecallCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "memengine",
		Subsystem: "recall",
		Name:      "cache_hits_total",
		Help:      "Hybrid recall results served from the result cache.",
	})

	RecallCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "memengine",
		Subsystem: "recall",
		Name:      "cache_misses_total",
		Help:      "Hybrid recall requests that missed the result cache.",
	})

	GraphTriageOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "memengine",
		Subsystem: "graph",
		Name:      "triage_outcomes_total",
		Help:      "Connection discovery outcomes by triage method.",
	}, []string{"method"})

	DecayWriteElisionRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "memengine",
		Subsystem: "decay",
		Name:      "write_elision_ratio",
		Help:      "Fraction of the most recent decay batch elided as not-significant.",
	})
)

func init() {
	prometheus.MustRegister(
		BatchUpdatesDropped,
		BatchFlushesTotal,
		RecallCacheHits,
		RecallCacheMisses,
		GraphTriageOutcomes,
		DecayWriteElisionRatio,
	)
}
