// Package scheduler executes analysis phases over a shared context
// store. Phases form a dependency DAG and run sequentially in
// topological order; agents inside one phase run concurrently against
// an immutable snapshot taken at phase start. New entries become
// visible only at the phase-commit barrier, never mid-phase.
package scheduler

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/pland/internal/agent"
)

var (
	// ErrCycle indicates the phase graph contains a dependency cycle.
	ErrCycle = errors.New("phase dependency cycle")

	// ErrUnknownPhase indicates a dependency names a phase that does not
	// exist.
	ErrUnknownPhase = errors.New("unknown phase dependency")

	// ErrDuplicatePhase indicates two phases share a name.
	ErrDuplicatePhase = errors.New("duplicate phase name")
)

// AgentRef binds an agent spec to the runner that executes it.
type AgentRef struct {
	Spec   agent.Spec
	Runner agent.Runner
}

// Phase is one stage of the analysis pipeline.
type Phase struct {
	// Name identifies the phase in records, entries and metrics.
	Name string

	// DependsOn lists phases that must commit before this one starts.
	DependsOn []string

	// Agents run concurrently within the phase.
	Agents []AgentRef
}

// Order validates the phase graph and returns it in topological order.
// Ties are broken by declaration order, so the same input always yields
// the same schedule.
func Order(phases []Phase) ([]Phase, error) {
	index := make(map[string]int, len(phases))
	for i, p := range phases {
		if p.Name == "" {
			return nil, fmt.Errorf("phase %d has no name", i)
		}
		if _, ok := index[p.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicatePhase, p.Name)
		}
		index[p.Name] = i
	}

	indegree := make([]int, len(phases))
	for i, p := range phases {
		for _, dep := range p.DependsOn {
			if _, ok := index[dep]; !ok {
				return nil, fmt.Errorf("%w: phase %q depends on %q", ErrUnknownPhase, p.Name, dep)
			}
			if dep == p.Name {
				return nil, fmt.Errorf("%w: phase %q depends on itself", ErrCycle, p.Name)
			}
			indegree[i]++
		}
	}

	ordered := make([]Phase, 0, len(phases))
	done := make([]bool, len(phases))
	for len(ordered) < len(phases) {
		next := -1
		for i := range phases {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next == -1 {
			return nil, fmt.Errorf("%w: %s", ErrCycle, cycleMembers(phases, done))
		}
		done[next] = true
		ordered = append(ordered, phases[next])
		for i, p := range phases {
			if done[i] {
				continue
			}
			for _, dep := range p.DependsOn {
				if dep == phases[next].Name {
					indegree[i]--
				}
			}
		}
	}
	return ordered, nil
}

func cycleMembers(phases []Phase, done []bool) string {
	out := ""
	for i, p := range phases {
		if done[i] {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += p.Name
	}
	return out
}
