package synthesis

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/pland/internal/artifact"
	"github.com/fyrsmithlabs/pland/internal/contextstore"
	"github.com/fyrsmithlabs/pland/internal/resolve"
	"github.com/fyrsmithlabs/pland/internal/writegate"
)

func snapshotWith(t *testing.T, entries ...contextstore.Entry) *contextstore.Snapshot {
	t.Helper()
	store := contextstore.New()
	for _, e := range entries {
		store.Apply(e)
	}
	return store.Snapshot()
}

func defaultInput(t *testing.T) Input {
	return Input{
		WorkItemKey: "repo#42",
		Snapshot: snapshotWith(t,
			contextstore.Entry{Producer: "ticket", FieldPath: "work_item.title", Value: "upgrade path", Confidence: 0.9, EvidenceRefs: []string{"ticket:42"}},
			contextstore.Entry{Producer: "docs", FieldPath: "component.version", Value: "2.14", Confidence: 0.9, EvidenceRefs: []string{"commit:abc123"}},
			contextstore.Entry{Producer: "docs", FieldPath: "docs.count", Value: 3, Confidence: 0.7, EvidenceRefs: []string{"doc:readme.md"}},
		),
	}
}

func TestSynthesize_PlanPassesDefaultGate(t *testing.T) {
	gate := writegate.New(writegate.DefaultRuleSet())
	out, err := NewBuilder().Synthesize(context.Background(), defaultInput(t))
	require.NoError(t, err)
	require.Len(t, out.Plans, 1)

	report := gate.Validate(out.Plans[0])

	assert.True(t, report.Accepted, "violations: %v", report.Violations)
	assert.Equal(t, artifact.KindTestPlan, out.Plans[0].Kind)
	assert.Equal(t, "test-plan.md", out.Plans[0].TargetPath)
	assert.Contains(t, out.Plans[0].Content, "[ref: commit:abc123]")
}

func TestSynthesize_SummaryPassesDefaultGate(t *testing.T) {
	gate := writegate.New(writegate.DefaultRuleSet())
	out, err := NewBuilder().Synthesize(context.Background(), defaultInput(t))
	require.NoError(t, err)

	report := gate.Validate(out.Summary)

	assert.True(t, report.Accepted, "violations: %v", report.Violations)
	assert.Equal(t, artifact.KindSummary, out.Summary.Kind)
	assert.NotContains(t, out.Summary.Content, "[ref:")
	assert.Contains(t, out.Summary.Content, "repo#42")
}

func TestSynthesize_Deterministic(t *testing.T) {
	in := defaultInput(t)
	b := NewBuilder()

	first, err := b.Synthesize(context.Background(), in)
	require.NoError(t, err)
	second, err := b.Synthesize(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSynthesize_SplitsOversizedTables(t *testing.T) {
	var entries []contextstore.Entry
	for i := 0; i < 5; i++ {
		entries = append(entries, contextstore.Entry{
			Producer:     "docs",
			FieldPath:    fmt.Sprintf("fact.%02d", i),
			Value:        i,
			Confidence:   0.8,
			EvidenceRefs: []string{fmt.Sprintf("doc:%d.md", i)},
		})
	}
	in := Input{WorkItemKey: "repo#42", Snapshot: snapshotWith(t, entries...)}
	b := NewBuilder()
	b.MaxTableRows = 2

	out, err := b.Synthesize(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, out.Plans, 3)
	assert.Equal(t, "test-plan-1.md", out.Plans[0].TargetPath)
	assert.Equal(t, "test-plan-3.md", out.Plans[2].TargetPath)

	// Step numbering continues across parts and no part exceeds the cap.
	assert.Contains(t, out.Plans[2].Content, "| 5 |")
	rs := writegate.DefaultRuleSet()
	rs.Shape[0].MaxRows = 2
	gate := writegate.New(rs)
	for _, plan := range out.Plans {
		assert.True(t, gate.Validate(plan).Accepted)
	}
}

func TestSynthesize_EscalatedConflictsBecomeRisks(t *testing.T) {
	in := defaultInput(t)
	in.Conflicts = []resolve.Conflict{{
		FieldPath: "component.version",
		Entries: []contextstore.Entry{
			{Producer: "docs", FieldPath: "component.version", Value: "2.14"},
			{Producer: "history", FieldPath: "component.version", Value: "2.15"},
		},
		Resolution: resolve.ResolutionEscalated,
	}}

	out, err := NewBuilder().Synthesize(context.Background(), in)
	require.NoError(t, err)

	assert.Contains(t, out.Plans[0].Content, "Unresolved disagreement on component.version between docs and history")
	assert.Contains(t, out.Summary.Content, "1 conflicts remain escalated")
}

func TestSynthesize_SanitizesHostileValues(t *testing.T) {
	in := Input{
		WorkItemKey: "repo#42",
		Snapshot: snapshotWith(t, contextstore.Entry{
			Producer:     "docs",
			FieldPath:    "component.notes",
			Value:        "<script>alert(1)</script> | pipe ] bracket",
			Confidence:   0.8,
			EvidenceRefs: []string{"doc:notes.md"},
		}),
	}

	out, err := NewBuilder().Synthesize(context.Background(), in)
	require.NoError(t, err)

	gate := writegate.New(writegate.DefaultRuleSet())
	report := gate.Validate(out.Plans[0])
	assert.True(t, report.Accepted, "violations: %v", report.Violations)
	assert.NotContains(t, out.Plans[0].Content, "<script>")
}

func TestSynthesize_EmptySnapshotStillValid(t *testing.T) {
	in := Input{WorkItemKey: "repo#42", Snapshot: snapshotWith(t)}

	out, err := NewBuilder().Synthesize(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, out.Plans, 1)
	assert.True(t, strings.Contains(out.Plans[0].Content, "manual triage required"))
	gate := writegate.New(writegate.DefaultRuleSet())
	assert.True(t, gate.Validate(out.Plans[0]).Accepted)
}
