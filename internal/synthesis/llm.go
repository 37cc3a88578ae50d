package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/pland/internal/artifact"
)

// ModelSynthesizer drafts the test plan with an LLM and delegates the
// summary to the deterministic builder. Gate violations from a rejected
// attempt are fed back into the prompt so the model can fix them; the
// gate remains the only authority on acceptance.
type ModelSynthesizer struct {
	llm      llms.Model
	fallback *Builder
}

// NewModelSynthesizer wraps a model. The builder handles summaries and
// supplies artifact paths.
func NewModelSynthesizer(llm llms.Model, builder *Builder) *ModelSynthesizer {
	if builder == nil {
		builder = NewBuilder()
	}
	return &ModelSynthesizer{llm: llm, fallback: builder}
}

// Synthesize implements Synthesizer.
func (m *ModelSynthesizer) Synthesize(ctx context.Context, in Input) (*Output, error) {
	base, err := m.fallback.Synthesize(ctx, in)
	if err != nil {
		return nil, err
	}

	content, err := llms.GenerateFromSinglePrompt(ctx, m.llm, m.prompt(in), llms.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("plan generation: %w", err)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("plan generation: model returned empty plan")
	}

	return &Output{
		Plans: []artifact.Artifact{{
			Kind:       artifact.KindTestPlan,
			Content:    content + "\n",
			TargetPath: m.fallback.PlanPath,
		}},
		Summary: base.Summary,
	}, nil
}

func (m *ModelSynthesizer) prompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a markdown test plan for work item %s.\n", in.WorkItemKey)
	b.WriteString("Use exactly these second-level sections, in order: Overview, Environment, Test Steps, Risks.\n")
	b.WriteString("Test Steps must be a table with columns Step, Action, Expected.\n")
	b.WriteString("Every claim must cite a fact below with an inline marker of the form [ref: <evidence>].\n")
	b.WriteString("Do not use HTML or any embedded markup.\n")
	b.WriteString("Only use the facts listed; do not invent any.\n\n")

	b.WriteString("Facts:\n")
	for _, e := range in.Snapshot.Entries() {
		ref := "context:" + e.FieldPath
		if len(e.EvidenceRefs) > 0 {
			ref = e.EvidenceRefs[0]
		}
		fmt.Fprintf(&b, "- %s: %v (evidence: %s)\n", e.FieldPath, e.Value, ref)
	}

	if len(in.Violations) > 0 {
		b.WriteString("\nYour previous draft was rejected. Fix all of these problems:\n")
		for _, v := range in.Violations {
			fmt.Fprintf(&b, "- %s\n", v.String())
		}
	}
	return b.String()
}
