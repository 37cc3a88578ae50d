package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/pland/internal/artifact"
	"github.com/fyrsmithlabs/pland/internal/contextstore"
	"github.com/fyrsmithlabs/pland/internal/resolve"
)

const (
	defaultMaxTableRows = 40
	defaultPlanPath     = "test-plan.md"
	defaultSummaryPath  = "summary.md"
)

// Builder is the deterministic synthesizer. It renders artifacts purely
// from the snapshot, so identical context always yields identical
// artifacts. Values are sanitized up front; the builder never emits
// content the default gate rules would reject.
type Builder struct {
	// MaxTableRows caps step rows per plan artifact. When the step count
	// exceeds it, the plan splits into numbered parts rather than
	// truncating.
	MaxTableRows int

	// PlanPath and SummaryPath are the artifact target paths. Split plan
	// parts get a numeric suffix before the extension.
	PlanPath    string
	SummaryPath string
}

// NewBuilder returns a builder with default paths and row limits.
func NewBuilder() *Builder {
	return &Builder{
		MaxTableRows: defaultMaxTableRows,
		PlanPath:     defaultPlanPath,
		SummaryPath:  defaultSummaryPath,
	}
}

// Synthesize implements Synthesizer.
func (b *Builder) Synthesize(_ context.Context, in Input) (*Output, error) {
	if in.Snapshot == nil {
		return nil, fmt.Errorf("synthesize %s: nil snapshot", in.WorkItemKey)
	}

	steps := planSteps(in.Snapshot)
	maxRows := b.MaxTableRows
	if maxRows <= 0 {
		maxRows = defaultMaxTableRows
	}

	var plans []artifact.Artifact
	parts := chunkSteps(steps, maxRows)
	for i, part := range parts {
		plans = append(plans, artifact.Artifact{
			Kind:       artifact.KindTestPlan,
			Content:    b.renderPlan(in, part, i, len(parts)),
			TargetPath: partPath(b.PlanPath, i, len(parts)),
		})
	}

	return &Output{
		Plans: plans,
		Summary: artifact.Artifact{
			Kind:       artifact.KindSummary,
			Content:    b.renderSummary(in),
			TargetPath: b.SummaryPath,
		},
	}, nil
}

// step is one verification row with the evidence backing it.
type step struct {
	number   int
	action   string
	expected string
	ref      string
}

// planSteps derives one verification step per committed fact, in sorted
// field-path order. Work-item identity fields feed the overview instead.
func planSteps(snapshot *contextstore.Snapshot) []step {
	var out []step
	n := 0
	for _, path := range snapshot.FieldPaths() {
		if strings.HasPrefix(path, "work_item.") {
			continue
		}
		entry, _ := snapshot.Get(path)
		n++
		out = append(out, step{
			number:   n,
			action:   fmt.Sprintf("Verify %s", sanitize(path)),
			expected: sanitize(fmt.Sprintf("%v", entry.Value)),
			ref:      entryRef(entry),
		})
	}
	return out
}

func chunkSteps(steps []step, maxRows int) [][]step {
	if len(steps) == 0 {
		return [][]step{nil}
	}
	var parts [][]step
	for len(steps) > maxRows {
		parts = append(parts, steps[:maxRows])
		steps = steps[maxRows:]
	}
	return append(parts, steps)
}

func (b *Builder) renderPlan(in Input, steps []step, part, total int) string {
	var sb strings.Builder

	sb.WriteString("## Overview\n")
	if entry, ok := in.Snapshot.Get("work_item.title"); ok {
		fmt.Fprintf(&sb, "Validates %q for %s. %s\n",
			sanitize(fmt.Sprintf("%v", entry.Value)), sanitize(in.WorkItemKey), entryRef(entry))
	} else {
		fmt.Fprintf(&sb, "Validates work item %s against its recorded context. [ref: context:%s]\n",
			sanitize(in.WorkItemKey), sanitize(in.WorkItemKey))
	}
	if total > 1 {
		fmt.Fprintf(&sb, "Part %d of %d.\n", part+1, total)
	}

	sb.WriteString("\n## Environment\n")
	envLines := 0
	for _, path := range in.Snapshot.FieldPaths() {
		if !strings.HasPrefix(path, "component.") && !strings.HasPrefix(path, "environment.") {
			continue
		}
		entry, _ := in.Snapshot.Get(path)
		fmt.Fprintf(&sb, "- %s: %s %s\n", sanitize(path), sanitize(fmt.Sprintf("%v", entry.Value)), entryRef(entry))
		envLines++
	}
	if envLines == 0 {
		sb.WriteString("No environment facts were recorded for this work item.\n")
	}

	sb.WriteString("\n## Test Steps\n")
	if len(steps) == 0 {
		sb.WriteString("No verifiable facts were recorded; manual triage required.\n")
	} else {
		sb.WriteString("| Step | Action | Expected |\n")
		sb.WriteString("| --- | --- | --- |\n")
		for _, s := range steps {
			fmt.Fprintf(&sb, "| %d | %s | %s %s |\n", s.number, s.action, s.expected, s.ref)
		}
	}

	sb.WriteString("\n## Risks\n")
	risks := 0
	for _, c := range in.Conflicts {
		if c.Resolution != resolve.ResolutionEscalated {
			continue
		}
		fmt.Fprintf(&sb, "- Unresolved disagreement on %s between %s. [ref: context:%s]\n",
			sanitize(c.FieldPath), sanitize(conflictProducers(c)), sanitize(c.FieldPath))
		risks++
	}
	if in.Evaluation.Score > 0 && in.Evaluation.Score < 1 {
		fmt.Fprintf(&sb, "- Integrity score %.2f; review low-confidence facts before executing.\n", in.Evaluation.Score)
		risks++
	}
	if risks == 0 {
		sb.WriteString("No outstanding risks identified.\n")
	}

	return sb.String()
}

func (b *Builder) renderSummary(in Input) string {
	var sb strings.Builder
	sb.WriteString("## Overview\n")
	fmt.Fprintf(&sb, "Analysis of %s completed.\n", sanitize(in.WorkItemKey))
	if title, ok := in.Snapshot.StringValue("work_item.title"); ok {
		fmt.Fprintf(&sb, "Work item: %s.\n", sanitize(title))
	}
	fmt.Fprintf(&sb, "%d facts recorded", in.Snapshot.Len())
	if len(in.Snapshot.Phases()) > 0 {
		fmt.Fprintf(&sb, " across %d phases", len(in.Snapshot.Phases()))
	}
	sb.WriteString(".\n")
	if in.Evaluation.Score > 0 {
		fmt.Fprintf(&sb, "Final integrity score: %.2f.\n", in.Evaluation.Score)
	}
	if escalated := escalatedCount(in.Conflicts); escalated > 0 {
		fmt.Fprintf(&sb, "%d conflicts remain escalated and need reviewer attention.\n", escalated)
	}
	return sb.String()
}

// entryRef renders the inline evidence marker for an entry, preferring
// the entry's own evidence over a generic context pointer.
func entryRef(entry contextstore.Entry) string {
	if len(entry.EvidenceRefs) > 0 {
		return fmt.Sprintf("[ref: %s]", sanitize(entry.EvidenceRefs[0]))
	}
	return fmt.Sprintf("[ref: context:%s]", sanitize(entry.FieldPath))
}

// sanitize strips characters that would trip markup or table rules. Data
// must never be able to make an artifact unparseable.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "<", "(")
	s = strings.ReplaceAll(s, ">", ")")
	s = strings.ReplaceAll(s, "|", "/")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "]", ")")
	return strings.TrimSpace(s)
}

func conflictProducers(c resolve.Conflict) string {
	names := make([]string, 0, len(c.Entries))
	for _, e := range c.Entries {
		names = append(names, e.Producer)
	}
	return strings.Join(names, " and ")
}

func escalatedCount(conflicts []resolve.Conflict) int {
	n := 0
	for _, c := range conflicts {
		if c.Resolution == resolve.ResolutionEscalated {
			n++
		}
	}
	return n
}

func partPath(base string, part, total int) string {
	if total <= 1 {
		return base
	}
	if dot := strings.LastIndex(base, "."); dot > 0 {
		return fmt.Sprintf("%s-%d%s", base[:dot], part+1, base[dot:])
	}
	return fmt.Sprintf("%s-%d", base, part+1)
}
