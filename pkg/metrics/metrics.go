// Package metrics holds the Prometheus collectors exported by ladder.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cache metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_cache_lookups_total",
			Help: "Total number of cache lookups by tier and result",
		},
		[]string{"type", "result"},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ladder_cache_evictions_total",
			Help: "Total number of LRU evictions from the hybrid cache",
		},
	)

	EmbeddingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_embedding_failures_total",
			Help: "Embedding failures that degraded the cache to hash-only",
		},
		[]string{"op"},
	)

	// Call metrics
	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_llm_calls_total",
			Help: "Total number of served LLM calls by tier and outcome",
		},
		[]string{"tier", "success"},
	)

	// Escalation metrics
	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_escalations_total",
			Help: "Total number of tier escalations",
		},
		[]string{"from", "to"},
	)

	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_runs_total",
			Help: "Total number of controller runs by terminal state",
		},
		[]string{"state"},
	)

	RunCostUSD = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ladder_run_cost_usd",
			Help:    "Cost in USD per controller run",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 10},
		},
	)

	// Router metrics
	RouterFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_router_fallbacks_total",
			Help: "Router decisions that used the static default model",
		},
		[]string{"reason"},
	)

	// Telemetry metrics
	TelemetryWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ladder_telemetry_write_errors_total",
			Help: "Telemetry appends or rotations that failed",
		},
		[]string{"kind"},
	)
)
