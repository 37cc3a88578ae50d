package writegate

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pland/internal/artifact"
)

// Swappable is a gate whose rule set can be replaced at runtime. Reads
// and swaps are lock-free; in-flight validations keep the gate they
// started with, so every single validation stays deterministic.
type Swappable struct {
	gate atomic.Pointer[Gate]
}

// NewSwappable wraps an initial gate.
func NewSwappable(g *Gate) *Swappable {
	s := &Swappable{}
	s.gate.Store(g)
	return s
}

// Validate delegates to the current gate.
func (s *Swappable) Validate(a artifact.Artifact) Report {
	return s.gate.Load().Validate(a)
}

// Swap installs a gate built from the given compiled rule set.
func (s *Swappable) Swap(rules *RuleSet) {
	s.gate.Store(New(rules))
}

// Watch hot-reloads the rule file and hands each successfully compiled
// rule set to onReload. A rule file that fails to parse is logged and
// skipped; the gate keeps running on the previous rules. Blocks until
// ctx is cancelled.
//
// The parent directory is watched rather than the file itself so that
// editors which replace the file (write temp, rename) do not detach the
// watch.
func Watch(ctx context.Context, path string, logger *zap.Logger, onReload func(*RuleSet)) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			rules, err := LoadRules(path)
			if err != nil {
				logger.Warn("rule reload failed, keeping previous rules",
					zap.String("path", path), zap.Error(err))
				continue
			}
			logger.Info("write-gate rules reloaded", zap.String("path", path))
			onReload(rules)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("rule watcher error", zap.Error(err))
		}
	}
}
