// Package metrics exposes pland's Prometheus collectors. Collectors are
// registered on the default registry and served by the HTTP server's
// /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts finished runs by terminal outcome.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pland_runs_total",
		Help: "Finished analysis runs by terminal outcome (completed, rejected, halted, failed, already_running).",
	}, []string{"outcome"})

	// ConflictsTotal counts recorded merge conflicts by resolution.
	ConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pland_conflicts_total",
		Help: "Context merge conflicts by resolution (auto_merged, auto_overridden, escalated).",
	}, []string{"resolution"})

	// GateViolationsTotal counts write-gate violations by rule name.
	GateViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pland_gate_violations_total",
		Help: "Write-gate violations by rule name.",
	}, []string{"rule"})

	// PhaseDuration observes wall-clock phase execution time.
	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pland_phase_duration_seconds",
		Help:    "Phase execution duration in seconds, labeled by phase name.",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	// AgentFailuresTotal counts agent failures by agent ID and reason.
	AgentFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pland_agent_failures_total",
		Help: "Agent failures by agent ID and reason (timeout, error).",
	}, []string{"agent", "reason"})

	// IntegrityScore records the most recent integrity score per work item.
	IntegrityScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pland_integrity_score",
		Help: "Most recent integrity score per work item key.",
	}, []string{"work_item"})
)
