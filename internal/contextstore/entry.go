// Package contextstore provides the append-only, versioned record of
// everything learned during one work-item analysis run.
//
// The store is the only shared mutable resource between agents. All writes
// go through the conflict resolver's merge operation; agents themselves only
// ever see immutable snapshots taken at phase boundaries.
package contextstore

import "time"

// Entry is a single fact written into the store by one agent.
//
// (FieldPath, Producer) is unique per write: a later write to the same
// field path by a different producer goes through conflict resolution,
// never silent overwrite.
type Entry struct {
	// Producer is the ID of the agent that emitted this entry.
	Producer string `json:"producer"`

	// FieldPath names the fact, dot-separated (e.g. "component.version").
	FieldPath string `json:"field_path"`

	// Value is the fact itself. Typed fields may register an equivalence
	// function with the resolver.
	Value any `json:"value"`

	// Confidence in [0,1], self-reported by the producer.
	Confidence float64 `json:"confidence"`

	// Phase is the scheduler phase during which the entry was committed.
	Phase string `json:"phase,omitempty"`

	// WrittenAt is the commit time, set by the store on apply.
	WrittenAt time.Time `json:"written_at"`

	// EvidenceRefs point into external evidence (ticket comments, commits,
	// doc anchors) backing the value. Entries without evidence count
	// against the run's integrity score.
	EvidenceRefs []string `json:"evidence_refs,omitempty"`
}

// clone returns a deep-enough copy for handing out of the store. Value is
// shared; callers must treat it as read-only.
func (e Entry) clone() Entry {
	c := e
	if e.EvidenceRefs != nil {
		c.EvidenceRefs = make([]string, len(e.EvidenceRefs))
		copy(c.EvidenceRefs, e.EvidenceRefs)
	}
	return c
}
