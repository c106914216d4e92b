// Package metrics provides application-level counters using stdlib expvar.
// Counters are exported on the /debug/vars HTTP endpoint served by the API.
package metrics

import "expvar"

// Dispatch counters.
var (
	PlanItemsDispatched = expvar.NewInt("discovery_plan_items_dispatched_total")
	PlanItemsFailed     = expvar.NewInt("discovery_plan_items_failed_total")
	PlanItemsRequeued   = expvar.NewInt("discovery_plan_items_requeued_total")
	AdapterCalls        = expvar.NewInt("discovery_adapter_calls_total")
	AdapterRetries      = expvar.NewInt("discovery_adapter_retries_total")
	RateLimitTimeouts   = expvar.NewInt("discovery_rate_limit_timeouts_total")
)

// Pipeline counters.
var (
	CandidatesExtracted = expvar.NewInt("discovery_candidates_extracted_total")
	CandidatesRejected  = expvar.NewInt("discovery_candidates_rejected_total")
	BusinessesCreated   = expvar.NewInt("discovery_businesses_created_total")
	BusinessesMerged    = expvar.NewInt("discovery_businesses_merged_total")
	MergeConflicts      = expvar.NewInt("discovery_merge_conflicts_total")
	RunsCompleted       = expvar.NewInt("discovery_runs_completed_total")
	RunsAborted         = expvar.NewInt("discovery_runs_aborted_total")
)

// Inc increments the given counter by 1.
func Inc(counter *expvar.Int) { counter.Add(1) }
