// Package config provides configuration loading for pland.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/pland/internal/integrity"
)

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`
}

// OrchestratorConfig tunes run orchestration.
type OrchestratorConfig struct {
	// MaxSynthesisRetries bounds artifact regeneration after a gate
	// rejection.
	MaxSynthesisRetries int `koanf:"max_synthesis_retries"`

	// ArtifactDir is where accepted artifacts are written.
	ArtifactDir string `koanf:"artifact_dir"`

	// StateDir holds persisted run records. Empty keeps records in
	// memory only.
	StateDir string `koanf:"state_dir"`
}

// IntegrityConfig tunes the integrity monitor.
type IntegrityConfig struct {
	Threshold float64           `koanf:"threshold"`
	Weights   integrity.Weights `koanf:"weights"`
}

// AgentConfig describes one analysis agent.
type AgentConfig struct {
	ID       string        `koanf:"id"`
	Type     string        `koanf:"type"` // ticket, history, docs, model
	Required bool          `koanf:"required"`
	Timeout  time.Duration `koanf:"timeout"`

	// Root is the directory a docs agent scans.
	Root string `koanf:"root"`

	// FieldPath and Question configure a model agent.
	FieldPath string `koanf:"field_path"`
	Question  string `koanf:"question"`
}

// PhaseConfig describes one phase of the pipeline.
type PhaseConfig struct {
	Name      string   `koanf:"name"`
	DependsOn []string `koanf:"depends_on"`
	Agents    []string `koanf:"agents"`
}

// WriteGateConfig points at the gate rule file.
type WriteGateConfig struct {
	// RulesPath is a YAML rule file. Empty uses the built-in rules.
	RulesPath string `koanf:"rules_path"`

	// Watch enables hot reload of the rule file in serve mode.
	Watch bool `koanf:"watch"`
}

// GitHubConfig configures the ticket agent.
type GitHubConfig struct {
	Token string `koanf:"token"`
	Owner string `koanf:"owner"`
	Repo  string `koanf:"repo"`
}

// RepoConfig configures the history agent.
type RepoConfig struct {
	Path string `koanf:"path"`
}

// ModelConfig configures model-backed agents and synthesis.
type ModelConfig struct {
	// Provider selects the backend (openai is the only built-in).
	Provider string `koanf:"provider"`
	Name     string `koanf:"name"`
}

// Config is the root configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Integrity    IntegrityConfig    `koanf:"integrity"`
	Agents       []AgentConfig      `koanf:"agents"`
	Phases       []PhaseConfig      `koanf:"phases"`
	WriteGate    WriteGateConfig    `koanf:"writegate"`
	GitHub       GitHubConfig       `koanf:"github"`
	Repo         RepoConfig         `koanf:"repo"`
	Model        ModelConfig        `koanf:"model"`
}

var agentTypes = map[string]bool{
	"ticket":  true,
	"history": true,
	"docs":    true,
	"model":   true,
}

var logLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks cross-field consistency. Phase graph cycles are caught
// later by the scheduler; this only verifies references resolve.
func (c *Config) Validate() error {
	if !logLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format: must be json or console, got %q", c.Logging.Format)
	}
	if c.Integrity.Threshold <= 0 || c.Integrity.Threshold > 1 {
		return fmt.Errorf("integrity.threshold: must be in (0, 1], got %v", c.Integrity.Threshold)
	}
	if c.Orchestrator.MaxSynthesisRetries < 0 {
		return fmt.Errorf("orchestrator.max_synthesis_retries: must not be negative")
	}

	ids := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agents[%d]: missing id", i)
		}
		if ids[a.ID] {
			return fmt.Errorf("agents: duplicate id %q", a.ID)
		}
		ids[a.ID] = true
		if !agentTypes[a.Type] {
			return fmt.Errorf("agent %q: unknown type %q", a.ID, a.Type)
		}
		if a.Type == "model" && a.FieldPath == "" {
			return fmt.Errorf("agent %q: model agents need a field_path", a.ID)
		}
	}

	names := make(map[string]bool, len(c.Phases))
	for i, p := range c.Phases {
		if p.Name == "" {
			return fmt.Errorf("phases[%d]: missing name", i)
		}
		if names[p.Name] {
			return fmt.Errorf("phases: duplicate name %q", p.Name)
		}
		names[p.Name] = true
		for _, id := range p.Agents {
			if !ids[id] {
				return fmt.Errorf("phase %q: unknown agent %q", p.Name, id)
			}
		}
	}
	for _, p := range c.Phases {
		for _, dep := range p.DependsOn {
			if !names[dep] {
				return fmt.Errorf("phase %q: unknown dependency %q", p.Name, dep)
			}
		}
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8750"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Orchestrator.MaxSynthesisRetries == 0 {
		cfg.Orchestrator.MaxSynthesisRetries = 2
	}
	if cfg.Orchestrator.ArtifactDir == "" {
		cfg.Orchestrator.ArtifactDir = "artifacts"
	}

	if cfg.Integrity.Threshold == 0 {
		cfg.Integrity.Threshold = integrity.DefaultThreshold
	}
	if cfg.Integrity.Weights == (integrity.Weights{}) {
		cfg.Integrity.Weights = integrity.DefaultWeights()
	}

	if cfg.Model.Provider == "" {
		cfg.Model.Provider = "openai"
	}
}
