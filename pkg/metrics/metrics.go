// Package metrics registers the engine's Prometheus collectors. Collectors
// are package-level and registered once via promauto; they are exported on
// the ops server at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Write path.
	EventsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "droptally",
		Name:      "events_applied_total",
		Help:      "Events applied to the aggregation store.",
	})
	EventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "droptally",
		Name:      "events_duplicate_total",
		Help:      "Events rejected by the idempotency guard.",
	})
	FlushBatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "droptally",
		Name:      "flush_batches_total",
		Help:      "Pipeline chunks flushed to the aggregation store.",
	})
	FlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "droptally",
		Name:      "flush_failures_total",
		Help:      "Apply calls that failed mid-flush.",
	})

	// Read path.
	SnapshotRebuilds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "droptally",
		Name:      "snapshot_rebuilds_total",
		Help:      "Rank snapshot rebuilds.",
	})
	Simulations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "droptally",
		Name:      "rank_simulations_total",
		Help:      "Rank-change simulations served.",
	})

	// Reconciliation.
	ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "droptally",
		Name:      "reconcile_runs_total",
		Help:      "Reconciliation ticks by outcome.",
	}, []string{"outcome"}) // success | failure | skipped | idle
	BreakerOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "droptally",
		Name:      "breaker_open",
		Help:      "1 while the refresh circuit breaker is open.",
	})
)
