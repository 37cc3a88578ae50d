// Package resolve merges agent output into the context store and makes
// disagreements between agents observable instead of silently dropping
// them.
package resolve

import (
	"time"

	"github.com/fyrsmithlabs/pland/internal/contextstore"
)

// Resolution classifies how a conflict was settled.
type Resolution string

const (
	// ResolutionAutoMerged means the values were equivalent under a
	// registered equivalence function and merged without a winner.
	ResolutionAutoMerged Resolution = "auto_merged"

	// ResolutionAutoOverridden means the confidence/evidence tie-break
	// picked a winner deterministically.
	ResolutionAutoOverridden Resolution = "auto_overridden"

	// ResolutionEscalated means the tie-break could not pick a winner.
	// Escalated conflicts depress the run's integrity score.
	ResolutionEscalated Resolution = "escalated"
)

// Conflict records a disagreement between two entries on a field that is
// supposed to be singular.
type Conflict struct {
	FieldPath  string               `json:"field_path"`
	Entries    []contextstore.Entry `json:"entries"`
	Resolution Resolution           `json:"resolution"`
	Rationale  string               `json:"rationale"`
	DetectedAt time.Time            `json:"detected_at"`
}

// Outcome is the tagged result of a merge: either the entry was applied
// (possibly after winning a conflict) or an existing entry held.
type Outcome struct {
	// Applied is true when the incoming entry became the current value.
	Applied bool

	// Conflict is non-nil when the merge disagreed with an existing entry
	// from a different producer.
	Conflict *Conflict
}
