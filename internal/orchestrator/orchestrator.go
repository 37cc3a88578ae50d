// Package orchestrator drives one analysis run end to end: acquire the
// work-item lease, execute the phase graph, synthesize artifacts,
// validate them through the write gate, and release the lease on every
// terminal path.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pland/internal/artifact"
	"github.com/fyrsmithlabs/pland/internal/contextstore"
	"github.com/fyrsmithlabs/pland/internal/integrity"
	"github.com/fyrsmithlabs/pland/internal/metrics"
	"github.com/fyrsmithlabs/pland/internal/registry"
	"github.com/fyrsmithlabs/pland/internal/resolve"
	"github.com/fyrsmithlabs/pland/internal/scheduler"
	"github.com/fyrsmithlabs/pland/internal/synthesis"
	"github.com/fyrsmithlabs/pland/internal/writegate"
)

// State is the orchestrator's position in the run lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateAcquiring  State = "acquiring"
	StateExecuting  State = "executing"
	StateValidating State = "validating"
	StateCompleted  State = "completed"
	StateRejected   State = "rejected"
	StateHalted     State = "halted"
	StateFailed     State = "failed"
)

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateRejected, StateHalted, StateFailed:
		return true
	}
	return false
}

// Gate is the validation seam. Both *writegate.Gate and the hot-reload
// wrapper satisfy it.
type Gate interface {
	Validate(a artifact.Artifact) writegate.Report
}

// Options tune one orchestrator instance.
type Options struct {
	// MaxSynthesisRetries bounds regeneration after a gate rejection. The
	// first synthesis does not count as a retry.
	MaxSynthesisRetries int `koanf:"max_synthesis_retries"`

	// Equivalences are field-path equivalence functions registered on each
	// run's resolver.
	Equivalences map[string]resolve.Equivalence `koanf:"-"`
}

// DefaultMaxSynthesisRetries is used when options leave the bound unset.
const DefaultMaxSynthesisRetries = 2

// Outcome describes a finished run in enough detail that a caller never
// needs to dig through logs to learn why it ended the way it did.
type Outcome struct {
	State        State                  `json:"state"`
	WorkItemKey  string                 `json:"work_item_key"`
	RunID        string                 `json:"run_id"`
	Detail       string                 `json:"detail,omitempty"`
	Evaluation   integrity.Evaluation   `json:"evaluation"`
	Conflicts    []resolve.Conflict     `json:"conflicts,omitempty"`
	FailedAgents []string               `json:"failed_agents,omitempty"`
	Violations   []writegate.Violation  `json:"violations,omitempty"`
	Artifacts    []artifact.Artifact    `json:"artifacts,omitempty"`
	Phases       []scheduler.PhaseResult `json:"phases,omitempty"`
	Attempts     int                    `json:"synthesis_attempts"`
}

// Orchestrator coordinates the run lifecycle. Safe for concurrent use;
// per-run state (store, resolver, scheduler) is created per Run call.
type Orchestrator struct {
	registry *registry.Registry
	monitor  *integrity.Monitor
	gate     Gate
	synth    synthesis.Synthesizer
	sink     artifact.Sink
	logger   *zap.Logger
	opts     Options
	tracer   trace.Tracer
}

// New creates an orchestrator. registry, gate, synth and sink are
// required; monitor may be nil to disable integrity halting.
func New(reg *registry.Registry, monitor *integrity.Monitor, gate Gate, synth synthesis.Synthesizer, sink artifact.Sink, logger *zap.Logger, opts Options) (*Orchestrator, error) {
	if reg == nil {
		return nil, errors.New("orchestrator: nil registry")
	}
	if gate == nil {
		return nil, errors.New("orchestrator: nil gate")
	}
	if synth == nil {
		return nil, errors.New("orchestrator: nil synthesizer")
	}
	if sink == nil {
		return nil, errors.New("orchestrator: nil artifact sink")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxSynthesisRetries <= 0 {
		opts.MaxSynthesisRetries = DefaultMaxSynthesisRetries
	}
	return &Orchestrator{
		registry: reg,
		monitor:  monitor,
		gate:     gate,
		synth:    synth,
		sink:     sink,
		logger:   logger,
		opts:     opts,
		tracer:   otel.Tracer("github.com/fyrsmithlabs/pland/internal/orchestrator"),
	}, nil
}

// Run executes one full analysis run for a work item. The lease is
// released exactly once on every terminal path, including panics inside
// agents (normalized by the runner) and synthesis errors.
func (o *Orchestrator) Run(ctx context.Context, workItemKey string, phases []scheduler.Phase) (*Outcome, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(attribute.String("work_item", workItemKey)))
	defer span.End()

	log := o.logger.With(zap.String("work_item", workItemKey))
	log.Info("run starting", zap.String("state", string(StateAcquiring)))

	lease, err := o.registry.Acquire(workItemKey)
	if err != nil {
		if errors.Is(err, registry.ErrAlreadyRunning) {
			metrics.RunsTotal.WithLabelValues("already_running").Inc()
		}
		return nil, fmt.Errorf("acquire %s: %w", workItemKey, err)
	}
	defer o.registry.Release(lease)

	log = log.With(zap.String("run_id", lease.RunID()))
	outcome := &Outcome{WorkItemKey: workItemKey, RunID: lease.RunID()}

	store := contextstore.New()
	resolver := resolve.New(store, log.Named("resolver"))
	for path, fn := range o.opts.Equivalences {
		resolver.RegisterEquivalence(path, fn)
	}
	sched := scheduler.New(store, resolver, o.monitor, o.registry, log.Named("scheduler"))

	log.Info("run executing", zap.String("state", string(StateExecuting)), zap.Int("phases", len(phases)))
	runResult, runErr := sched.Run(ctx, lease.RunID(), workItemKey, phases)
	if runResult != nil {
		outcome.Phases = runResult.Phases
		outcome.Evaluation = runResult.Evaluation
		outcome.FailedAgents = runResult.FailedAgents()
	}
	outcome.Conflicts = resolver.Conflicts()

	if runErr != nil {
		switch {
		case errors.Is(runErr, scheduler.ErrHalted):
			return o.finish(ctx, outcome, lease, StateHalted, runErr.Error()), nil
		default:
			return o.finish(ctx, outcome, lease, StateFailed, runErr.Error()), nil
		}
	}

	log.Info("run validating", zap.String("state", string(StateValidating)))
	accepted, attempts, violations, synthErr := o.validateLoop(ctx, outcome, store, resolver)
	outcome.Attempts = attempts
	outcome.Violations = violations
	if synthErr != nil {
		return o.finish(ctx, outcome, lease, StateFailed, synthErr.Error()), nil
	}
	if !accepted {
		detail := fmt.Sprintf("artifacts rejected after %d synthesis attempts: %s",
			attempts, describeViolations(violations))
		return o.finish(ctx, outcome, lease, StateRejected, detail), nil
	}

	if err := o.persist(ctx, outcome.Artifacts); err != nil {
		return o.finish(ctx, outcome, lease, StateFailed, err.Error()), nil
	}
	return o.finish(ctx, outcome, lease, StateCompleted, ""), nil
}

// validateLoop synthesizes and gate-checks artifacts, feeding violations
// back into the synthesizer up to the retry bound. Returns the last
// attempt's violations when rejected.
func (o *Orchestrator) validateLoop(ctx context.Context, outcome *Outcome, store *contextstore.Store, resolver *resolve.Resolver) (bool, int, []writegate.Violation, error) {
	in := synthesis.Input{
		WorkItemKey: outcome.WorkItemKey,
		Snapshot:    store.Snapshot(),
		Conflicts:   resolver.Conflicts(),
		Evaluation:  outcome.Evaluation,
	}

	maxAttempts := 1 + o.opts.MaxSynthesisRetries
	var violations []writegate.Violation
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, attempt - 1, violations, err
		}
		in.Violations = violations

		out, err := o.synth.Synthesize(ctx, in)
		if err != nil {
			return false, attempt, violations, fmt.Errorf("synthesis attempt %d: %w", attempt, err)
		}

		candidates := append(append([]artifact.Artifact{}, out.Plans...), out.Summary)
		var found []writegate.Violation
		for _, a := range candidates {
			report := o.gate.Validate(a)
			for _, v := range report.Violations {
				metrics.GateViolationsTotal.WithLabelValues(v.Rule).Inc()
			}
			found = append(found, report.Violations...)
		}
		violations = found
		if len(violations) == 0 {
			outcome.Artifacts = candidates
			return true, attempt, nil, nil
		}
		o.logger.Warn("artifacts rejected by write gate",
			zap.String("work_item", outcome.WorkItemKey),
			zap.Int("attempt", attempt),
			zap.Int("violations", len(violations)),
		)
	}
	return false, maxAttempts, violations, nil
}

func (o *Orchestrator) persist(ctx context.Context, artifacts []artifact.Artifact) error {
	for _, a := range artifacts {
		if err := o.sink.Persist(ctx, a); err != nil {
			return fmt.Errorf("persist %s: %w", a.TargetPath, err)
		}
	}
	return nil
}

// finish records the terminal state in the registry and metrics. The
// lease itself is released by Run's deferred call.
func (o *Orchestrator) finish(_ context.Context, outcome *Outcome, lease *registry.Lease, state State, detail string) *Outcome {
	outcome.State = state
	outcome.Detail = detail

	_ = o.registry.Update(lease.RunID(), func(rec *registry.RunRecord) {
		rec.Status = runStatus(state)
		rec.FinishedAt = time.Now().UTC()
		rec.Detail = detail
	})
	metrics.RunsTotal.WithLabelValues(string(state)).Inc()

	o.logger.Info("run finished",
		zap.String("work_item", outcome.WorkItemKey),
		zap.String("run_id", outcome.RunID),
		zap.String("state", string(state)),
		zap.String("detail", detail),
	)
	return outcome
}

func runStatus(s State) registry.RunStatus {
	switch s {
	case StateCompleted:
		return registry.RunStatusCompleted
	case StateRejected:
		return registry.RunStatusRejected
	case StateHalted:
		return registry.RunStatusHalted
	default:
		return registry.RunStatusFailed
	}
}

func describeViolations(violations []writegate.Violation) string {
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, v.String())
	}
	return strings.Join(parts, "; ")
}
