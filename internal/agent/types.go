// Package agent defines the narrow interface between the orchestration
// core and the analysis agents, plus the adapters that implement it
// against external systems (tickets, repositories, documentation, LLMs).
//
// The core does not know how an agent investigates; it only relies on the
// Result shape coming back within the agent's timeout.
package agent

import (
	"time"

	"github.com/fyrsmithlabs/pland/internal/contextstore"
)

// Status is an agent's self-reported completion state.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Failure reason codes carried on failed results.
const (
	ReasonTimeout = "timeout"
	ReasonError   = "error"
)

// Result is the structured outcome of one agent invocation. Immutable
// once emitted.
type Result struct {
	AgentID      string               `json:"agent_id"`
	Status       Status               `json:"status"`
	Reason       string               `json:"reason,omitempty"`
	Payload      string               `json:"payload,omitempty"`
	Entries      []contextstore.Entry `json:"entries,omitempty"`
	EvidenceRefs []string             `json:"evidence_refs,omitempty"`
	Duration     time.Duration        `json:"duration"`
	Err          string               `json:"error,omitempty"`
}

// Completed reports whether the agent produced usable output.
func (r *Result) Completed() bool {
	return r.Status == StatusSuccess || r.Status == StatusPartial
}

// Spec configures how the scheduler treats one agent.
type Spec struct {
	// ID identifies the agent in results, entries and error reports.
	ID string `koanf:"id" json:"id"`

	// Required agents abort the run on failure; non-required failures are
	// tolerated and only depress the integrity score.
	Required bool `koanf:"required" json:"required"`

	// Timeout bounds one invocation. Exceeding it counts as a failure
	// with reason "timeout". Zero means no per-agent bound.
	Timeout time.Duration `koanf:"timeout" json:"timeout"`
}
