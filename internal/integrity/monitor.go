// Package integrity scores a run's internal consistency and signals the
// scheduler to halt before the next phase when the score drops below the
// configured threshold. Halting beats synthesizing an artifact from
// context that cannot be trusted.
package integrity

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pland/internal/contextstore"
)

// EvidenceResolver checks that a cited evidence ref actually exists.
// Refs that fail to resolve count against the integrity score, which is
// how fabricated citations surface.
type EvidenceResolver interface {
	Resolve(ctx context.Context, ref string) bool
}

// ResolverFunc adapts a function into an EvidenceResolver.
type ResolverFunc func(ctx context.Context, ref string) bool

// Resolve implements EvidenceResolver.
func (f ResolverFunc) Resolve(ctx context.Context, ref string) bool { return f(ctx, ref) }

// Weights controls how the three factors combine into one score. They
// are normalized at score time, so they need not sum to one.
type Weights struct {
	Completeness float64 `koanf:"completeness"`
	Conflicts    float64 `koanf:"conflicts"`
	Evidence     float64 `koanf:"evidence"`
}

// DefaultWeights returns the default factor weighting.
func DefaultWeights() Weights {
	return Weights{Completeness: 0.4, Conflicts: 0.3, Evidence: 0.3}
}

// DefaultThreshold is the default halt threshold. Configurable; the
// source material gives no single authoritative value.
const DefaultThreshold = 0.95

// RunStats is the per-run input to scoring, maintained by the scheduler.
type RunStats struct {
	// RequiredAgents is the number of required agents scheduled so far.
	RequiredAgents int

	// RequiredCompleted is how many of those produced verifiable,
	// non-empty output (success or partial with at least one entry).
	RequiredCompleted int

	// Merges is the total number of resolver merges attempted.
	Merges int

	// Escalated is the number of escalated conflicts.
	Escalated int
}

// Evaluation is one scoring result with its contributing factors, kept
// for halt reports.
type Evaluation struct {
	Score        float64 `json:"score"`
	Completeness float64 `json:"completeness"`
	ConflictRate float64 `json:"conflict_rate"`
	Evidence     float64 `json:"evidence"`
	Halt         bool    `json:"halt"`
	Threshold    float64 `json:"threshold"`
}

// String renders the evaluation for halt reports.
func (e Evaluation) String() string {
	return fmt.Sprintf("score=%.3f (completeness=%.3f conflict_rate=%.3f evidence=%.3f threshold=%.3f)",
		e.Score, e.Completeness, e.ConflictRate, e.Evidence, e.Threshold)
}

// Monitor computes integrity scores. It holds no run state of its own;
// the scheduler passes in fresh stats after every phase commit.
type Monitor struct {
	weights   Weights
	threshold float64
	resolver  EvidenceResolver
	logger    *zap.Logger
}

// New creates a monitor. resolver may be nil to skip ref verification
// (refs then count as resolving).
func New(weights Weights, threshold float64, resolver EvidenceResolver, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	return &Monitor{weights: weights, threshold: threshold, resolver: resolver, logger: logger}
}

// Threshold returns the configured halt threshold.
func (m *Monitor) Threshold() float64 { return m.threshold }

// Score evaluates the run after a phase commit. The snapshot provides the
// entries whose evidence coverage is measured.
func (m *Monitor) Score(ctx context.Context, stats RunStats, snapshot *contextstore.Snapshot) Evaluation {
	completeness := 1.0
	if stats.RequiredAgents > 0 {
		completeness = float64(stats.RequiredCompleted) / float64(stats.RequiredAgents)
	}

	conflictRate := 0.0
	if stats.Merges > 0 {
		conflictRate = float64(stats.Escalated) / float64(stats.Merges)
	}

	evidence := m.evidenceCoverage(ctx, snapshot)

	total := m.weights.Completeness + m.weights.Conflicts + m.weights.Evidence
	score := 1.0
	if total > 0 {
		score = (m.weights.Completeness*completeness +
			m.weights.Conflicts*(1-conflictRate) +
			m.weights.Evidence*evidence) / total
	}

	eval := Evaluation{
		Score:        score,
		Completeness: completeness,
		ConflictRate: conflictRate,
		Evidence:     evidence,
		Halt:         score < m.threshold,
		Threshold:    m.threshold,
	}
	if eval.Halt {
		m.logger.Warn("integrity below threshold", zap.String("evaluation", eval.String()))
	}
	return eval
}

// evidenceCoverage is the fraction of entries whose evidence refs are
// present and, when a resolver is configured, actually resolve.
func (m *Monitor) evidenceCoverage(ctx context.Context, snapshot *contextstore.Snapshot) float64 {
	if snapshot == nil || snapshot.Len() == 0 {
		return 1.0
	}
	entries := snapshot.Entries()
	backed := 0
	for _, e := range entries {
		if len(e.EvidenceRefs) == 0 {
			continue
		}
		if m.resolver == nil || m.resolveAll(ctx, e.EvidenceRefs) {
			backed++
		}
	}
	return float64(backed) / float64(len(entries))
}

func (m *Monitor) resolveAll(ctx context.Context, refs []string) bool {
	for _, ref := range refs {
		if !m.resolver.Resolve(ctx, ref) {
			return false
		}
	}
	return true
}

// PrefixResolver routes refs to per-scheme resolvers based on the text
// before the first colon ("commit", "doc", "ticket", "context"). Unknown
// schemes resolve to false.
type PrefixResolver map[string]EvidenceResolver

// Resolve implements EvidenceResolver.
func (p PrefixResolver) Resolve(ctx context.Context, ref string) bool {
	scheme, _, ok := strings.Cut(ref, ":")
	if !ok {
		return false
	}
	r, ok := p[scheme]
	if !ok {
		return false
	}
	return r.Resolve(ctx, ref)
}
