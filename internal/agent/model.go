package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/pland/internal/contextstore"
)

// ModelAgent delegates free-form assessment to an LLM through
// langchaingo. The model sees only the snapshot contents; its output is
// recorded with moderate confidence and evidence refs pointing at the
// context fields it was shown, so the integrity monitor can trace what
// the assessment was based on.
type ModelAgent struct {
	agentID   string
	llm       llms.Model
	fieldPath string
	question  string
}

// NewModelAgent creates a model-backed agent. fieldPath names the entry
// the answer is written to; question frames the investigation.
func NewModelAgent(agentID string, llm llms.Model, fieldPath, question string) *ModelAgent {
	return &ModelAgent{agentID: agentID, llm: llm, fieldPath: fieldPath, question: question}
}

// ID implements Runner.
func (m *ModelAgent) ID() string { return m.agentID }

// Run implements Runner.
func (m *ModelAgent) Run(ctx context.Context, snapshot *contextstore.Snapshot) (*Result, error) {
	prompt, refs := m.buildPrompt(snapshot)

	answer, err := llms.GenerateFromSinglePrompt(ctx, m.llm, prompt, llms.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("model generation: %w", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return &Result{Status: StatusPartial, Payload: "model returned empty answer"}, nil
	}

	return &Result{
		Status:  StatusSuccess,
		Payload: answer,
		Entries: []contextstore.Entry{
			{FieldPath: m.fieldPath, Value: answer, Confidence: 0.6, EvidenceRefs: refs},
		},
		EvidenceRefs: refs,
	}, nil
}

// buildPrompt renders the snapshot into a flat fact list. Returns the
// context:<field> refs naming which facts the model saw.
func (m *ModelAgent) buildPrompt(snapshot *contextstore.Snapshot) (string, []string) {
	var b strings.Builder
	b.WriteString(m.question)
	b.WriteString("\n\nKnown facts about the work item:\n")

	refs := make([]string, 0, snapshot.Len())
	for _, e := range snapshot.Entries() {
		fmt.Fprintf(&b, "- %s: %v\n", e.FieldPath, e.Value)
		refs = append(refs, "context:"+e.FieldPath)
	}
	b.WriteString("\nAnswer concisely in plain text without markup.\n")
	return b.String(), refs
}
