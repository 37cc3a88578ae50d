package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/pland/internal/agent"
	"github.com/fyrsmithlabs/pland/internal/artifact"
	"github.com/fyrsmithlabs/pland/internal/config"
	"github.com/fyrsmithlabs/pland/internal/integrity"
	"github.com/fyrsmithlabs/pland/internal/logging"
	"github.com/fyrsmithlabs/pland/internal/orchestrator"
	"github.com/fyrsmithlabs/pland/internal/registry"
	"github.com/fyrsmithlabs/pland/internal/resolve"
	"github.com/fyrsmithlabs/pland/internal/scheduler"
	"github.com/fyrsmithlabs/pland/internal/synthesis"
	"github.com/fyrsmithlabs/pland/internal/writegate"
)

// pipeline is the wired-up application: everything a run needs, built
// once from config.
type pipeline struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *registry.Registry
	gate     *writegate.Swappable
	orch     *orchestrator.Orchestrator
	llm      llms.Model
}

func buildPipeline(cfg *config.Config) (*pipeline, error) {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(cfg.Orchestrator.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open run registry: %w", err)
	}

	rules := writegate.DefaultRuleSet()
	if cfg.WriteGate.RulesPath != "" {
		rules, err = writegate.LoadRules(cfg.WriteGate.RulesPath)
		if err != nil {
			return nil, fmt.Errorf("load gate rules: %w", err)
		}
	}
	gate := writegate.NewSwappable(writegate.New(rules))

	monitor := integrity.New(cfg.Integrity.Weights, cfg.Integrity.Threshold,
		evidenceResolver(cfg), logger.Named("integrity"))

	p := &pipeline{cfg: cfg, logger: logger, registry: reg, gate: gate}

	if needsModel(cfg) {
		llm, err := openai.New(openai.WithModel(cfg.Model.Name))
		if err != nil {
			return nil, fmt.Errorf("init model backend: %w", err)
		}
		p.llm = llm
	}

	var synth synthesis.Synthesizer = synthesis.NewBuilder()
	if p.llm != nil && cfg.Model.Name != "" {
		synth = synthesis.NewModelSynthesizer(p.llm, synthesis.NewBuilder())
	}

	orch, err := orchestrator.New(reg, monitor, gate, synth,
		artifact.NewFSSink(cfg.Orchestrator.ArtifactDir), logger.Named("orchestrator"),
		orchestrator.Options{
			MaxSynthesisRetries: cfg.Orchestrator.MaxSynthesisRetries,
			Equivalences: map[string]resolve.Equivalence{
				"component.version": resolve.VersionEquivalence,
			},
		})
	if err != nil {
		return nil, err
	}
	p.orch = orch
	return p, nil
}

// needsModel reports whether any configured agent or the synthesizer
// requires a model backend.
func needsModel(cfg *config.Config) bool {
	if cfg.Model.Name != "" {
		return true
	}
	for _, a := range cfg.Agents {
		if a.Type == "model" {
			return true
		}
	}
	return false
}

// phasesFor materializes the configured phase graph for one work item.
func (p *pipeline) phasesFor(workItemKey string) ([]scheduler.Phase, error) {
	owner, repo, number, err := parseWorkItem(workItemKey, p.cfg.GitHub.Owner, p.cfg.GitHub.Repo)
	if err != nil {
		return nil, err
	}

	runners := make(map[string]agent.Runner, len(p.cfg.Agents))
	specs := make(map[string]agent.Spec, len(p.cfg.Agents))
	for _, ac := range p.cfg.Agents {
		r, err := p.buildRunner(ac, owner, repo, number)
		if err != nil {
			return nil, err
		}
		runners[ac.ID] = r
		specs[ac.ID] = agent.Spec{ID: ac.ID, Required: ac.Required, Timeout: ac.Timeout}
	}

	phases := make([]scheduler.Phase, 0, len(p.cfg.Phases))
	for _, pc := range p.cfg.Phases {
		phase := scheduler.Phase{Name: pc.Name, DependsOn: pc.DependsOn}
		for _, id := range pc.Agents {
			phase.Agents = append(phase.Agents, scheduler.AgentRef{Spec: specs[id], Runner: runners[id]})
		}
		phases = append(phases, phase)
	}
	return phases, nil
}

func (p *pipeline) buildRunner(ac config.AgentConfig, owner, repo string, number int) (agent.Runner, error) {
	switch ac.Type {
	case "ticket":
		if owner == "" || repo == "" {
			return nil, fmt.Errorf("agent %q: work item gives no owner/repo and github config is empty", ac.ID)
		}
		return agent.NewTicketAgent(p.githubClient(), owner, repo, number), nil
	case "history":
		path := p.cfg.Repo.Path
		if path == "" {
			path = "."
		}
		return agent.NewHistoryAgent(path, 0), nil
	case "docs":
		root := ac.Root
		if root == "" {
			root = p.cfg.Repo.Path
		}
		if root == "" {
			root = "."
		}
		return agent.NewDocAgent(root), nil
	case "model":
		if p.llm == nil {
			return nil, fmt.Errorf("agent %q: model backend not configured", ac.ID)
		}
		return agent.NewModelAgent(ac.ID, p.llm, ac.FieldPath, ac.Question), nil
	default:
		return nil, fmt.Errorf("agent %q: unknown type %q", ac.ID, ac.Type)
	}
}

func (p *pipeline) githubClient() *github.Client {
	if p.cfg.GitHub.Token == "" {
		return github.NewClient(nil)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: p.cfg.GitHub.Token})
	return github.NewClient(oauth2.NewClient(context.Background(), ts))
}

// parseWorkItem splits "owner/repo#42" into its parts. "repo#42" and
// "#42" fall back to the configured owner and repo.
func parseWorkItem(key, defaultOwner, defaultRepo string) (owner, repo string, number int, err error) {
	owner, repo = defaultOwner, defaultRepo

	head, num, found := strings.Cut(key, "#")
	if !found {
		return "", "", 0, fmt.Errorf("work item %q: expected <owner>/<repo>#<number>", key)
	}
	number, err = strconv.Atoi(num)
	if err != nil {
		return "", "", 0, fmt.Errorf("work item %q: issue number %q is not numeric", key, num)
	}

	if head != "" {
		switch parts := strings.Split(head, "/"); len(parts) {
		case 1:
			repo = parts[0]
		case 2:
			owner, repo = parts[0], parts[1]
		default:
			return "", "", 0, fmt.Errorf("work item %q: expected <owner>/<repo>#<number>", key)
		}
	}
	return owner, repo, number, nil
}

// evidenceResolver verifies citable refs. Doc refs must point at a real
// file; remote refs (commits, tickets, URLs) are accepted as-is since
// verifying them needs network access the monitor should not depend on.
func evidenceResolver(cfg *config.Config) integrity.EvidenceResolver {
	accept := integrity.ResolverFunc(func(context.Context, string) bool { return true })
	docRoot := cfg.Repo.Path
	if docRoot == "" {
		docRoot = "."
	}
	docs := integrity.ResolverFunc(func(_ context.Context, ref string) bool {
		_, rel, _ := strings.Cut(ref, ":")
		if rel == "" || filepath.IsAbs(rel) || strings.Contains(rel, "..") {
			return false
		}
		_, err := os.Stat(filepath.Join(docRoot, rel))
		return err == nil
	})
	return integrity.PrefixResolver{
		"doc":     docs,
		"commit":  accept,
		"ticket":  accept,
		"context": accept,
		"http":    accept,
		"https":   accept,
	}
}
