// Package artifact defines the deliverables produced by the synthesis
// phase and the sink they are persisted through after passing the write
// gate.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Kind classifies an artifact for rule selection in the write gate.
type Kind string

const (
	// KindTestPlan is the evidence-annotated test plan. Every factual
	// claim in it must carry a traceable reference into the context
	// store's evidence.
	KindTestPlan Kind = "test_plan"

	// KindSummary is the audience-portable summary. It must carry no
	// evidence refs at all, so it can leave the team without dragging
	// internal references along.
	KindSummary Kind = "summary"
)

// Artifact is a candidate deliverable before it passes the write gate.
type Artifact struct {
	Kind       Kind   `json:"kind"`
	Content    string `json:"content"`
	TargetPath string `json:"target_path"`
}

// Sink persists accepted artifacts. Invoked only after write-gate
// acceptance; the core does not dictate layout or medium.
type Sink interface {
	Persist(ctx context.Context, a Artifact) error
}

// FSSink writes artifacts under a base directory, atomically.
type FSSink struct {
	baseDir string
}

// NewFSSink creates a filesystem sink rooted at baseDir.
func NewFSSink(baseDir string) *FSSink {
	return &FSSink{baseDir: baseDir}
}

// Persist implements Sink.
func (s *FSSink) Persist(_ context.Context, a Artifact) error {
	if a.TargetPath == "" {
		return fmt.Errorf("artifact has no target path")
	}
	path := filepath.Join(s.baseDir, a.TargetPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(a.Content), 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize artifact: %w", err)
	}
	return nil
}
