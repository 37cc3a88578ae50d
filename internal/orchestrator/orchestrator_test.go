package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pland/internal/agent"
	"github.com/fyrsmithlabs/pland/internal/artifact"
	"github.com/fyrsmithlabs/pland/internal/contextstore"
	"github.com/fyrsmithlabs/pland/internal/integrity"
	"github.com/fyrsmithlabs/pland/internal/registry"
	"github.com/fyrsmithlabs/pland/internal/scheduler"
	"github.com/fyrsmithlabs/pland/internal/synthesis"
	"github.com/fyrsmithlabs/pland/internal/writegate"
)

type synthFunc func(ctx context.Context, in synthesis.Input) (*synthesis.Output, error)

func (f synthFunc) Synthesize(ctx context.Context, in synthesis.Input) (*synthesis.Output, error) {
	return f(ctx, in)
}

type fixture struct {
	orch *Orchestrator
	reg  *registry.Registry
	dir  string
}

func newFixture(t *testing.T, synth synthesis.Synthesizer, opts Options) *fixture {
	t.Helper()
	reg, err := registry.New("")
	require.NoError(t, err)
	if synth == nil {
		synth = synthesis.NewBuilder()
	}
	dir := t.TempDir()
	monitor := integrity.New(integrity.DefaultWeights(), integrity.DefaultThreshold, nil, zap.NewNop())
	orch, err := New(reg, monitor, writegate.New(writegate.DefaultRuleSet()), synth,
		artifact.NewFSSink(dir), zap.NewNop(), opts)
	require.NoError(t, err)
	return &fixture{orch: orch, reg: reg, dir: dir}
}

func goodPhases() []scheduler.Phase {
	return []scheduler.Phase{
		{Name: "discovery", Agents: []scheduler.AgentRef{
			entryAgent("ticket", "work_item.title", "upgrade path", "ticket:42"),
		}},
		{Name: "analysis", DependsOn: []string{"discovery"}, Agents: []scheduler.AgentRef{
			entryAgent("docs", "component.version", "2.14", "commit:abc123"),
		}},
	}
}

func entryAgent(id, fieldPath string, value any, ref string) scheduler.AgentRef {
	return scheduler.AgentRef{
		Spec: agent.Spec{ID: id, Required: true},
		Runner: agent.Func{AgentID: id, Fn: func(ctx context.Context, snap *contextstore.Snapshot) (*agent.Result, error) {
			return &agent.Result{
				Status: agent.StatusSuccess,
				Entries: []contextstore.Entry{{
					FieldPath:    fieldPath,
					Value:        value,
					Confidence:   0.9,
					EvidenceRefs: []string{ref},
				}},
			}, nil
		}},
	}
}

// requireReleased asserts the work-item lease is free again: a fresh run
// must be able to acquire it.
func requireReleased(t *testing.T, reg *registry.Registry, key string) {
	t.Helper()
	lease, err := reg.Acquire(key)
	require.NoError(t, err, "lease must be released on every terminal path")
	reg.Release(lease)
}

func TestRun_CompletesAndPersistsArtifacts(t *testing.T) {
	f := newFixture(t, nil, Options{})

	outcome, err := f.orch.Run(context.Background(), "repo#42", goodPhases())

	require.NoError(t, err)
	assert.Equal(t, StateCompleted, outcome.State)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Empty(t, outcome.Violations)

	plan, err := os.ReadFile(filepath.Join(f.dir, "test-plan.md"))
	require.NoError(t, err)
	assert.Contains(t, string(plan), "[ref: commit:abc123]")
	_, err = os.Stat(filepath.Join(f.dir, "summary.md"))
	require.NoError(t, err)

	rec, err := f.reg.Get(outcome.RunID)
	require.NoError(t, err)
	assert.Equal(t, registry.RunStatusCompleted, rec.Status)
	assert.False(t, rec.FinishedAt.IsZero())
	requireReleased(t, f.reg, "repo#42")
}

func TestRun_RefusesSecondConcurrentRun(t *testing.T) {
	f := newFixture(t, nil, Options{})
	lease, err := f.reg.Acquire("repo#42")
	require.NoError(t, err)
	defer f.reg.Release(lease)

	_, err = f.orch.Run(context.Background(), "repo#42", goodPhases())

	assert.ErrorIs(t, err, registry.ErrAlreadyRunning)
}

func TestRun_RequiredAgentFailureFailsRun(t *testing.T) {
	f := newFixture(t, nil, Options{})
	phases := []scheduler.Phase{{Name: "discovery", Agents: []scheduler.AgentRef{{
		Spec: agent.Spec{ID: "doomed", Required: true},
		Runner: agent.Func{AgentID: "doomed", Fn: func(ctx context.Context, snap *contextstore.Snapshot) (*agent.Result, error) {
			return nil, errors.New("boom")
		}},
	}}}}

	outcome, err := f.orch.Run(context.Background(), "repo#42", phases)

	require.NoError(t, err)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, []string{"doomed"}, outcome.FailedAgents)
	rec, err := f.reg.Get(outcome.RunID)
	require.NoError(t, err)
	assert.Equal(t, registry.RunStatusFailed, rec.Status)
	requireReleased(t, f.reg, "repo#42")
}

func TestRun_IntegrityHaltEndsRun(t *testing.T) {
	f := newFixture(t, nil, Options{})
	phases := []scheduler.Phase{{Name: "discovery", Agents: []scheduler.AgentRef{
		entryAgent("a", "component.version", "2.14", "doc:a.md"),
		entryAgent("b", "component.version", "2.15", "doc:b.md"),
	}}}

	outcome, err := f.orch.Run(context.Background(), "repo#42", phases)

	require.NoError(t, err)
	assert.Equal(t, StateHalted, outcome.State)
	assert.True(t, outcome.Evaluation.Halt)
	assert.NotEmpty(t, outcome.Conflicts)
	rec, err := f.reg.Get(outcome.RunID)
	require.NoError(t, err)
	assert.Equal(t, registry.RunStatusHalted, rec.Status)
	requireReleased(t, f.reg, "repo#42")
}

func TestRun_RetriesSynthesisOnceThenCompletes(t *testing.T) {
	builder := synthesis.NewBuilder()
	calls := 0
	synth := synthFunc(func(ctx context.Context, in synthesis.Input) (*synthesis.Output, error) {
		calls++
		if calls == 1 {
			// First draft drops the required sections.
			return &synthesis.Output{
				Plans: []artifact.Artifact{{
					Kind:       artifact.KindTestPlan,
					Content:    "## Overview\nincomplete [ref: doc:x.md]\n",
					TargetPath: "test-plan.md",
				}},
				Summary: artifact.Artifact{Kind: artifact.KindSummary, Content: "## Overview\nok\n", TargetPath: "summary.md"},
			}, nil
		}
		// The retry sees what the gate rejected.
		require.NotEmpty(t, in.Violations)
		return builder.Synthesize(ctx, in)
	})
	f := newFixture(t, synth, Options{})

	outcome, err := f.orch.Run(context.Background(), "repo#42", goodPhases())

	require.NoError(t, err)
	assert.Equal(t, StateCompleted, outcome.State)
	assert.Equal(t, 2, outcome.Attempts)
	assert.Equal(t, 2, calls)
	requireReleased(t, f.reg, "repo#42")
}

func TestRun_RejectsAfterRetryBudget(t *testing.T) {
	synth := synthFunc(func(ctx context.Context, in synthesis.Input) (*synthesis.Output, error) {
		return &synthesis.Output{
			Plans: []artifact.Artifact{{
				Kind:       artifact.KindTestPlan,
				Content:    "no sections at all",
				TargetPath: "test-plan.md",
			}},
			Summary: artifact.Artifact{Kind: artifact.KindSummary, Content: "## Overview\nok\n", TargetPath: "summary.md"},
		}, nil
	})
	f := newFixture(t, synth, Options{MaxSynthesisRetries: 1})

	outcome, err := f.orch.Run(context.Background(), "repo#42", goodPhases())

	require.NoError(t, err)
	assert.Equal(t, StateRejected, outcome.State)
	assert.Equal(t, 2, outcome.Attempts)
	assert.NotEmpty(t, outcome.Violations)
	assert.Contains(t, outcome.Detail, "rejected after 2 synthesis attempts")

	// Nothing may reach the sink on rejection.
	_, err = os.Stat(filepath.Join(f.dir, "test-plan.md"))
	assert.True(t, os.IsNotExist(err))
	rec, err := f.reg.Get(outcome.RunID)
	require.NoError(t, err)
	assert.Equal(t, registry.RunStatusRejected, rec.Status)
	requireReleased(t, f.reg, "repo#42")
}

func TestRun_SynthesisErrorFailsRun(t *testing.T) {
	synth := synthFunc(func(ctx context.Context, in synthesis.Input) (*synthesis.Output, error) {
		return nil, errors.New("model unavailable")
	})
	f := newFixture(t, synth, Options{})

	outcome, err := f.orch.Run(context.Background(), "repo#42", goodPhases())

	require.NoError(t, err)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Contains(t, outcome.Detail, "model unavailable")
	requireReleased(t, f.reg, "repo#42")
}

func TestRun_SequentialRunsOnSameKey(t *testing.T) {
	f := newFixture(t, nil, Options{})

	first, err := f.orch.Run(context.Background(), "repo#42", goodPhases())
	require.NoError(t, err)
	second, err := f.orch.Run(context.Background(), "repo#42", goodPhases())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, first.State)
	assert.Equal(t, StateCompleted, second.State)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateCompleted, StateRejected, StateHalted, StateFailed} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []State{StateIdle, StateAcquiring, StateExecuting, StateValidating} {
		assert.False(t, s.Terminal(), s)
	}
}
