// Package metrics defines the Prometheus instrumentation for the cascade:
// decisions by tier/verdict, per-tier latency, and human-queue depth.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Decisions counts every terminal verdict, labeled by the tier that
	// produced it and the decision kind.
	Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "captainhook",
		Name:      "decisions_total",
		Help:      "Total cascade decisions, labeled by tier and verdict.",
	}, []string{"tier", "decision"})

	// TierLatency observes per-tier evaluation latency in seconds.
	TierLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "captainhook",
		Name:      "tier_latency_seconds",
		Help:      "Latency of each cascade tier's evaluation, in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 12), // 1µs .. ~4s
	}, []string{"tier"})

	// HumanQueueDepth tracks the current count of pending human-review
	// entries.
	HumanQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "captainhook",
		Name:      "human_queue_depth",
		Help:      "Number of entries currently awaiting human response.",
	})

	// SimilarityScore observes the similarity score of adopted Tier 2a/2b
	// matches, for tuning thresholds.
	SimilarityScore = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "captainhook",
		Name:      "similarity_score",
		Help:      "Similarity score of adopted Tier 2a/2b matches.",
		Buckets:   prometheus.LinearBuckets(0.5, 0.05, 11),
	}, []string{"tier"})
)

// Registry is a dedicated registry (rather than the global default) so
// tests can spin up independent instances without collector-already-
// registered panics.
func NewRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(Decisions, TierLatency, HumanQueueDepth, SimilarityScore)
	return r
}
