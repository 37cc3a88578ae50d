package integrity

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/pland/internal/contextstore"
)

func snapshotWith(entries ...contextstore.Entry) *contextstore.Snapshot {
	s := contextstore.New()
	for _, e := range entries {
		s.Apply(e)
	}
	return s.Snapshot()
}

func TestScore_PerfectRun(t *testing.T) {
	m := New(DefaultWeights(), DefaultThreshold, nil, nil)
	snap := snapshotWith(
		contextstore.Entry{Producer: "a", FieldPath: "x", Value: 1, EvidenceRefs: []string{"doc:a.md"}},
		contextstore.Entry{Producer: "b", FieldPath: "y", Value: 2, EvidenceRefs: []string{"commit:abc"}},
	)

	eval := m.Score(context.Background(), RunStats{
		RequiredAgents: 2, RequiredCompleted: 2, Merges: 2, Escalated: 0,
	}, snap)

	assert.InDelta(t, 1.0, eval.Score, 1e-9)
	assert.False(t, eval.Halt)
}

func TestScore_MissingRequiredOutputHalts(t *testing.T) {
	m := New(DefaultWeights(), 0.95, nil, nil)
	snap := snapshotWith(
		contextstore.Entry{Producer: "a", FieldPath: "x", Value: 1, EvidenceRefs: []string{"doc:a.md"}},
	)

	eval := m.Score(context.Background(), RunStats{
		RequiredAgents: 2, RequiredCompleted: 1, Merges: 1,
	}, snap)

	// completeness 0.5 weighted 0.4 drags the score to 0.8.
	assert.InDelta(t, 0.8, eval.Score, 1e-9)
	assert.True(t, eval.Halt)
	assert.Equal(t, 0.5, eval.Completeness)
}

func TestScore_EscalatedConflictsDepressScore(t *testing.T) {
	m := New(DefaultWeights(), 0.95, nil, nil)
	snap := snapshotWith(
		contextstore.Entry{Producer: "a", FieldPath: "x", Value: 1, EvidenceRefs: []string{"doc:a.md"}},
	)

	eval := m.Score(context.Background(), RunStats{
		RequiredAgents: 1, RequiredCompleted: 1, Merges: 10, Escalated: 5,
	}, snap)

	assert.Equal(t, 0.5, eval.ConflictRate)
	assert.InDelta(t, 0.85, eval.Score, 1e-9)
	assert.True(t, eval.Halt)
}

func TestScore_MissingEvidenceCountsAgainst(t *testing.T) {
	m := New(DefaultWeights(), 0.95, nil, nil)
	snap := snapshotWith(
		contextstore.Entry{Producer: "a", FieldPath: "x", Value: 1, EvidenceRefs: []string{"doc:a.md"}},
		contextstore.Entry{Producer: "b", FieldPath: "y", Value: 2}, // no refs
	)

	eval := m.Score(context.Background(), RunStats{
		RequiredAgents: 1, RequiredCompleted: 1, Merges: 2,
	}, snap)

	assert.Equal(t, 0.5, eval.Evidence)
	assert.True(t, eval.Halt)
}

func TestScore_UnresolvableRefCountsAgainst(t *testing.T) {
	resolver := ResolverFunc(func(_ context.Context, ref string) bool {
		return !strings.Contains(ref, "fabricated")
	})
	m := New(DefaultWeights(), 0.95, resolver, nil)
	snap := snapshotWith(
		contextstore.Entry{Producer: "a", FieldPath: "x", Value: 1, EvidenceRefs: []string{"doc:real.md"}},
		contextstore.Entry{Producer: "b", FieldPath: "y", Value: 2, EvidenceRefs: []string{"doc:fabricated.md"}},
	)

	eval := m.Score(context.Background(), RunStats{
		RequiredAgents: 1, RequiredCompleted: 1, Merges: 2,
	}, snap)

	assert.Equal(t, 0.5, eval.Evidence)
}

func TestScore_EmptySnapshotDoesNotDivideByZero(t *testing.T) {
	m := New(DefaultWeights(), 0.95, nil, nil)
	eval := m.Score(context.Background(), RunStats{}, nil)
	assert.Equal(t, 1.0, eval.Score)
	assert.False(t, eval.Halt)
}

func TestNew_Defaults(t *testing.T) {
	m := New(Weights{}, 0, nil, nil)
	assert.Equal(t, DefaultThreshold, m.Threshold())

	snap := snapshotWith(contextstore.Entry{Producer: "a", FieldPath: "x", Value: 1, EvidenceRefs: []string{"r"}})
	eval := m.Score(context.Background(), RunStats{RequiredAgents: 1, RequiredCompleted: 1, Merges: 1}, snap)
	assert.InDelta(t, 1.0, eval.Score, 1e-9)
}

func TestPrefixResolver(t *testing.T) {
	p := PrefixResolver{
		"doc": ResolverFunc(func(_ context.Context, ref string) bool { return ref == "doc:known.md" }),
	}
	ctx := context.Background()

	assert.True(t, p.Resolve(ctx, "doc:known.md"))
	assert.False(t, p.Resolve(ctx, "doc:unknown.md"))
	assert.False(t, p.Resolve(ctx, "commit:abc"), "unregistered scheme")
	assert.False(t, p.Resolve(ctx, "no-scheme"))
}
