// Package observability defines the Prometheus metrics for the payout
// pipeline. Metrics are package-level promauto vars so any layer can
// record without plumbing a registry through constructors; they are
// exposed on /metrics when the API server has metrics enabled.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Balance Calculator ─────────────────────────────────────────────────────

var BalanceCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vendly_balance_cache_hits_total",
	Help: "Balance reads served from the TTL cache.",
})

var BalanceCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vendly_balance_cache_misses_total",
	Help: "Balance reads that recomputed from the ledger.",
})

var BalanceFallbacks = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vendly_balance_fallbacks_total",
	Help: "Balance reads served by the degraded completed-payouts approximation.",
})

// ─── Redemption & Settlement ────────────────────────────────────────────────

var PayoutRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vendly_payout_requests_total",
	Help: "Redemption attempts by outcome.",
}, []string{"outcome"}) // created, below_minimum, duplicate, bad_destination, error

var PayoutSettlements = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vendly_payout_settlements_total",
	Help: "Admin settlement actions by result status.",
}, []string{"status"}) // completed, failed, rejected, processing

var ReconciliationNeeded = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vendly_reconciliation_needed_total",
	Help: "Partial failures left for manual reconciliation.",
})

var ProcessorLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "vendly_processor_call_seconds",
	Help:    "External payment processor call latency.",
	Buckets: prometheus.DefBuckets,
})

// ─── Appreciation Job ───────────────────────────────────────────────────────

var AppreciationRuns = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vendly_appreciation_runs_total",
	Help: "Appreciation job invocations.",
})

var AppreciationBonus = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vendly_appreciation_bonus_credits_total",
	Help: "Bonus credits granted by the appreciation job.",
})

var AppreciationErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vendly_appreciation_entry_errors_total",
	Help: "Per-entry errors recorded during appreciation runs.",
})
