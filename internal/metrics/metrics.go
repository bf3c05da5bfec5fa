// Package metrics provides Prometheus metrics for the qaforge control plane.
// It tracks cache effectiveness, provider call outcomes, budget spend, and
// selection round latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "qaforge"

var (
	// CacheHits counts cache hits by tier (l1, l2, l3).
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total cache hits by tier",
		},
		[]string{"tier"},
	)

	// CacheMisses counts full cache misses.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total cache misses across all tiers",
		},
	)

	// CacheSets counts cache writes.
	CacheSets = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_sets_total",
			Help:      "Total cache writes",
		},
	)

	// CacheInvalidations counts explicit invalidations.
	CacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidations_total",
			Help:      "Total explicit cache invalidations",
		},
	)

	// ProviderCalls counts outbound provider calls by model and outcome.
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Total outbound provider calls by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	// FallbackTotal counts fallback-model substitutions.
	FallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_total",
			Help:      "Total fallback model substitutions",
		},
		[]string{"from_model", "to_model"},
	)

	// BudgetSpentUSD tracks cumulative spend in USD.
	BudgetSpentUSD = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_spent_usd",
			Help:      "Cumulative budget spend in USD",
		},
	)

	// BudgetSpentTokens tracks cumulative token usage.
	BudgetSpentTokens = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_spent_tokens_total",
			Help:      "Cumulative token usage",
		},
	)

	// RoundLatency tracks end-to-end selection round latency.
	RoundLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_latency_seconds",
			Help:      "End-to-end generate-and-select round latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
	)

	// RepairTotal counts rewrite passes triggered by hard violations.
	RepairTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repair_total",
			Help:      "Total bounded repair passes",
		},
	)

	// SharedCacheUp reports the health of the shared cache tier (1 = healthy).
	SharedCacheUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shared_cache_up",
			Help:      "Whether the shared cache tier is reachable (1 = up)",
		},
	)

	// CandidatesDropped counts strategies dropped from a round after their
	// calls failed.
	CandidatesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_dropped_total",
			Help:      "Total candidates dropped due to strategy call failure",
		},
		[]string{"strategy"},
	)
)
