package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/pland/internal/contextstore"
)

// Runner is one analysis agent. Implementations must honor ctx
// cancellation: the scheduler cancels in-flight siblings when a required
// agent fails.
type Runner interface {
	// ID returns the stable agent identifier.
	ID() string

	// Run investigates the work item using the phase snapshot and returns
	// a structured result. The snapshot is read-only.
	Run(ctx context.Context, snapshot *contextstore.Snapshot) (*Result, error)
}

// Execute invokes one runner under its spec's timeout and normalizes
// every outcome into a Result. It never returns a nil result: errors,
// timeouts and panics inside the runner all come back as failed results
// so the scheduler has one shape to reason about.
func Execute(ctx context.Context, spec Spec, r Runner, snapshot *contextstore.Snapshot) *Result {
	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	start := time.Now()
	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("agent panicked: %v", p)}
			}
		}()
		res, err := r.Run(runCtx, snapshot)
		done <- outcome{res: res, err: err}
	}()

	select {
	case <-runCtx.Done():
		reason := ReasonError
		if runCtx.Err() == context.DeadlineExceeded {
			reason = ReasonTimeout
		}
		return &Result{
			AgentID:  spec.ID,
			Status:   StatusFailed,
			Reason:   reason,
			Duration: time.Since(start),
			Err:      runCtx.Err().Error(),
		}
	case out := <-done:
		elapsed := time.Since(start)
		if out.err != nil {
			return &Result{
				AgentID:  spec.ID,
				Status:   StatusFailed,
				Reason:   ReasonError,
				Duration: elapsed,
				Err:      out.err.Error(),
			}
		}
		res := out.res
		if res == nil {
			return &Result{
				AgentID:  spec.ID,
				Status:   StatusFailed,
				Reason:   ReasonError,
				Duration: elapsed,
				Err:      "agent returned no result",
			}
		}
		res.AgentID = spec.ID
		res.Duration = elapsed
		stampProducer(res)
		return res
	}
}

// stampProducer forces every emitted entry to carry the agent's ID so an
// agent cannot write entries on another agent's behalf.
func stampProducer(res *Result) {
	for i := range res.Entries {
		res.Entries[i].Producer = res.AgentID
	}
}

// Func adapts a plain function into a Runner. Used for deterministic
// in-process agents and as the test seam for the scheduler.
type Func struct {
	AgentID string
	Fn      func(ctx context.Context, snapshot *contextstore.Snapshot) (*Result, error)
}

// ID implements Runner.
func (f Func) ID() string { return f.AgentID }

// Run implements Runner.
func (f Func) Run(ctx context.Context, snapshot *contextstore.Snapshot) (*Result, error) {
	return f.Fn(ctx, snapshot)
}
