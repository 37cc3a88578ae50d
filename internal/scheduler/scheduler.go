package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/pland/internal/agent"
	"github.com/fyrsmithlabs/pland/internal/contextstore"
	"github.com/fyrsmithlabs/pland/internal/integrity"
	"github.com/fyrsmithlabs/pland/internal/metrics"
	"github.com/fyrsmithlabs/pland/internal/registry"
	"github.com/fyrsmithlabs/pland/internal/resolve"
)

var (
	// ErrHalted indicates the integrity monitor stopped the run after a
	// phase commit.
	ErrHalted = errors.New("run halted by integrity monitor")

	// ErrRequiredAgentFailed indicates a required agent failed, aborting
	// the run.
	ErrRequiredAgentFailed = errors.New("required agent failed")
)

// PhaseResult is the outcome of one committed (or aborted) phase.
type PhaseResult struct {
	Name     string          `json:"name"`
	Duration time.Duration   `json:"duration"`
	Results  []*agent.Result `json:"results"`
}

// RunResult aggregates everything the scheduler observed across phases.
type RunResult struct {
	Phases     []PhaseResult        `json:"phases"`
	Evaluation integrity.Evaluation `json:"evaluation"`
}

// FailedAgents returns the IDs of agents that failed, in phase order.
func (r *RunResult) FailedAgents() []string {
	var out []string
	for _, p := range r.Phases {
		for _, res := range p.Results {
			if res != nil && res.Status == agent.StatusFailed {
				out = append(out, res.AgentID)
			}
		}
	}
	return out
}

// Scheduler drives phases to completion. It owns no state of its own;
// all context flows through the store and resolver it is built over.
type Scheduler struct {
	store    *contextstore.Store
	resolver *resolve.Resolver
	monitor  *integrity.Monitor
	registry *registry.Registry
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New creates a scheduler. monitor and reg may be nil, which disables
// integrity checks and phase-history recording respectively.
func New(store *contextstore.Store, resolver *resolve.Resolver, monitor *integrity.Monitor, reg *registry.Registry, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:    store,
		resolver: resolver,
		monitor:  monitor,
		registry: reg,
		logger:   logger,
		tracer:   otel.Tracer("github.com/fyrsmithlabs/pland/internal/scheduler"),
	}
}

// Run executes the phase graph for one work item. It returns the partial
// result alongside the error so callers can report what happened before
// an abort or halt.
func (s *Scheduler) Run(ctx context.Context, runID, workItemKey string, phases []Phase) (*RunResult, error) {
	ordered, err := Order(phases)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "scheduler.run", trace.WithAttributes(
		attribute.String("work_item", workItemKey),
		attribute.String("run_id", runID),
		attribute.Int("phases", len(ordered)),
	))
	defer span.End()

	result := &RunResult{}
	var stats integrity.RunStats

	for _, phase := range ordered {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		pr, err := s.runPhase(ctx, runID, phase, &stats)
		result.Phases = append(result.Phases, pr)
		if err != nil {
			return result, err
		}

		stats.Escalated = int(s.resolver.EscalatedCount())
		if s.monitor == nil {
			continue
		}
		eval := s.monitor.Score(ctx, stats, s.store.Snapshot())
		result.Evaluation = eval
		metrics.IntegrityScore.WithLabelValues(workItemKey).Set(eval.Score)
		if s.registry != nil && runID != "" {
			_ = s.registry.Update(runID, func(rec *registry.RunRecord) {
				rec.IntegrityScore = eval.Score
			})
		}
		if eval.Halt {
			s.logger.Warn("integrity halt",
				zap.String("phase", phase.Name),
				zap.Float64("score", eval.Score),
				zap.Float64("threshold", eval.Threshold),
			)
			return result, fmt.Errorf("after phase %s: %s: %w", phase.Name, eval, ErrHalted)
		}
	}
	return result, nil
}

// runPhase executes one phase's agents concurrently against a snapshot
// taken at phase start, then merges their entries in declaration order.
// Merging after the barrier keeps escalation outcomes independent of
// goroutine scheduling.
func (s *Scheduler) runPhase(ctx context.Context, runID string, phase Phase, stats *integrity.RunStats) (PhaseResult, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.phase", trace.WithAttributes(
		attribute.String("phase", phase.Name),
		attribute.Int("agents", len(phase.Agents)),
	))
	defer span.End()

	start := time.Now()
	snapshot := s.store.Snapshot()
	results := make([]*agent.Result, len(phase.Agents))

	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range phase.Agents {
		g.Go(func() error {
			res := agent.Execute(gctx, ref.Spec, ref.Runner, snapshot)
			results[i] = res
			if res.Status != agent.StatusFailed {
				return nil
			}
			metrics.AgentFailuresTotal.WithLabelValues(res.AgentID, res.Reason).Inc()
			if ref.Spec.Required {
				return fmt.Errorf("agent %s (%s): %w", res.AgentID, res.Reason, ErrRequiredAgentFailed)
			}
			s.logger.Warn("optional agent failed",
				zap.String("phase", phase.Name),
				zap.String("agent", res.AgentID),
				zap.String("reason", res.Reason),
				zap.String("error", res.Err),
			)
			return nil
		})
	}
	waitErr := g.Wait()

	pr := PhaseResult{Name: phase.Name, Results: results}
	for _, ref := range phase.Agents {
		if ref.Spec.Required {
			stats.RequiredAgents++
		}
	}

	if err := ctx.Err(); err != nil {
		pr.Duration = time.Since(start)
		return pr, err
	}
	if waitErr != nil {
		pr.Duration = time.Since(start)
		return pr, waitErr
	}

	for i, res := range results {
		if phase.Agents[i].Spec.Required && res.Completed() && len(res.Entries) > 0 {
			stats.RequiredCompleted++
		}
		for _, e := range res.Entries {
			e.Phase = phase.Name
			s.resolver.Merge(e)
			stats.Merges++
		}
	}

	pr.Duration = time.Since(start)
	metrics.PhaseDuration.WithLabelValues(phase.Name).Observe(pr.Duration.Seconds())
	s.logger.Info("phase committed",
		zap.String("phase", phase.Name),
		zap.Duration("duration", pr.Duration),
		zap.Int("agents", len(phase.Agents)),
	)

	if s.registry != nil && runID != "" {
		ids := make([]string, 0, len(phase.Agents))
		for _, ref := range phase.Agents {
			ids = append(ids, ref.Spec.ID)
		}
		_ = s.registry.Update(runID, func(rec *registry.RunRecord) {
			rec.PhaseHistory = append(rec.PhaseHistory, registry.PhaseRecord{
				Phase:       phase.Name,
				CommittedAt: time.Now().UTC(),
				Duration:    pr.Duration,
				Agents:      ids,
			})
		})
	}
	return pr, nil
}
