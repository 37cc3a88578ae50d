// Package synthesis turns the committed context of a finished run into
// artifacts: a test plan that carries inline evidence references, and an
// audience-portable summary that carries none. Synthesizers only build
// content; the write gate decides whether it may be persisted.
package synthesis

import (
	"context"

	"github.com/fyrsmithlabs/pland/internal/artifact"
	"github.com/fyrsmithlabs/pland/internal/contextstore"
	"github.com/fyrsmithlabs/pland/internal/integrity"
	"github.com/fyrsmithlabs/pland/internal/resolve"
	"github.com/fyrsmithlabs/pland/internal/writegate"
)

// Input is everything a synthesizer may draw on. Snapshot is the
// authoritative fact source; synthesizers must not invent facts that are
// not in it.
type Input struct {
	// WorkItemKey identifies the work item the artifacts describe.
	WorkItemKey string

	// Snapshot is the final committed context.
	Snapshot *contextstore.Snapshot

	// Conflicts are the resolver's records, surfaced as plan risks.
	Conflicts []resolve.Conflict

	// Evaluation is the last integrity evaluation of the run.
	Evaluation integrity.Evaluation

	// Violations come from a previously rejected attempt. Empty on the
	// first synthesis; on retries the synthesizer must address them.
	Violations []writegate.Violation
}

// Output is one synthesis attempt. Plans holds one artifact normally and
// several when shape limits force a split; Summary is always single.
type Output struct {
	Plans   []artifact.Artifact
	Summary artifact.Artifact
}

// Synthesizer produces artifacts from run context.
type Synthesizer interface {
	Synthesize(ctx context.Context, in Input) (*Output, error)
}
