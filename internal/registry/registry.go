// Package registry tracks in-flight analysis runs keyed by work-item
// identifier and guarantees at most one active run per key.
//
// Run records are persisted as JSON under the state directory so the
// status API and post-mortem tooling can see finished runs. Writes use a
// temp-file-plus-rename so a crash never leaves a half-written record.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Errors for registry operations.
var (
	// ErrAlreadyRunning is returned by Acquire when an unreleased lease
	// exists for the same work-item key. Callers must be able to tell
	// "already running" apart from "crashed", so this is a sentinel.
	ErrAlreadyRunning = errors.New("a run is already active for this work item")

	// ErrUnknownRun is returned when no record exists for a run ID.
	ErrUnknownRun = errors.New("unknown run")
)

// RunStatus is the lifecycle state of one run record.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusRejected  RunStatus = "rejected"
	RunStatusHalted    RunStatus = "halted"
	RunStatusFailed    RunStatus = "failed"
)

// PhaseRecord is one entry in a run's phase history.
type PhaseRecord struct {
	Phase       string        `json:"phase"`
	CommittedAt time.Time     `json:"committed_at"`
	Duration    time.Duration `json:"duration"`
	Agents      []string      `json:"agents,omitempty"`
}

// RunRecord is the persisted state of one run. Owned by the registry;
// the scheduler and orchestrator mutate it through Update.
type RunRecord struct {
	WorkItemKey    string        `json:"work_item_key"`
	RunID          string        `json:"run_id"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at,omitempty"`
	PhaseHistory   []PhaseRecord `json:"phase_history,omitempty"`
	IntegrityScore float64       `json:"integrity_score"`
	Status         RunStatus     `json:"status"`
	Detail         string        `json:"detail,omitempty"`
}

// Lease is the token returned by Acquire, bound to one run ID. Release it
// exactly once per terminal path; releasing twice is a no-op.
type Lease struct {
	key   string
	runID string
}

// Key returns the leased work-item key.
func (l *Lease) Key() string { return l.key }

// RunID returns the run bound to this lease.
func (l *Lease) RunID() string { return l.runID }

// Registry is the single source of truth for active runs.
type Registry struct {
	mu       sync.Mutex
	active   map[string]*Lease     // work-item key -> held lease
	records  map[string]*RunRecord // run ID -> record
	stateDir string                // empty disables persistence
}

// New creates a registry. stateDir may be empty to keep records purely in
// memory (tests, one-shot CLI use).
func New(stateDir string) (*Registry, error) {
	r := &Registry{
		active:  make(map[string]*Lease),
		records: make(map[string]*RunRecord),
	}
	if stateDir != "" {
		runsDir := filepath.Join(stateDir, "runs")
		if err := os.MkdirAll(runsDir, 0o700); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
		r.stateDir = stateDir
		if err := r.loadRecords(runsDir); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Acquire takes the run lease for a work-item key. Atomic with respect to
// concurrent callers: exactly one succeeds until Release.
func (r *Registry) Acquire(workItemKey string) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.active[workItemKey]; held {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, workItemKey)
	}

	lease := &Lease{key: workItemKey, runID: uuid.New().String()}
	record := &RunRecord{
		WorkItemKey: workItemKey,
		RunID:       lease.runID,
		StartedAt:   time.Now().UTC(),
		Status:      RunStatusRunning,
	}
	r.active[workItemKey] = lease
	r.records[lease.runID] = record
	r.persistLocked(record)
	return lease, nil
}

// Release frees the lease. Idempotent: releasing an already-released
// lease is a no-op so cleanup code stays simple on partial-failure paths.
func (r *Registry) Release(lease *Lease) {
	if lease == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	held, ok := r.active[lease.key]
	if !ok || held.runID != lease.runID {
		return
	}
	delete(r.active, lease.key)

	if rec, ok := r.records[lease.runID]; ok {
		// A release without an explicit terminal status means the caller
		// crashed out; mark the record failed rather than leave it running.
		if rec.Status == RunStatusRunning {
			rec.Status = RunStatusFailed
			rec.Detail = "released without terminal status"
		}
		if rec.FinishedAt.IsZero() {
			rec.FinishedAt = time.Now().UTC()
		}
		r.persistLocked(rec)
	}
}

// Update mutates a run record under the registry lock and persists it.
func (r *Registry) Update(runID string, fn func(*RunRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	fn(rec)
	r.persistLocked(rec)
	return nil
}

// Get returns a copy of the record for a run ID.
func (r *Registry) Get(runID string) (RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[runID]
	if !ok {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return cloneRecord(rec), nil
}

// ByKey returns the most recent record for a work-item key.
func (r *Registry) ByKey(workItemKey string) (RunRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		best  *RunRecord
		found bool
	)
	for _, rec := range r.records {
		if rec.WorkItemKey != workItemKey {
			continue
		}
		if !found || rec.StartedAt.After(best.StartedAt) {
			best = rec
			found = true
		}
	}
	if !found {
		return RunRecord{}, false
	}
	return cloneRecord(best), true
}

// List returns all records, newest first.
func (r *Registry) List() []RunRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RunRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// ActiveCount returns how many leases are currently held.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func cloneRecord(rec *RunRecord) RunRecord {
	c := *rec
	if rec.PhaseHistory != nil {
		c.PhaseHistory = make([]PhaseRecord, len(rec.PhaseHistory))
		copy(c.PhaseHistory, rec.PhaseHistory)
	}
	return c
}

// persistLocked writes one record to disk. Persistence failures are
// deliberately not fatal to the run; the in-memory registry remains the
// source of truth for mutual exclusion.
func (r *Registry) persistLocked(rec *RunRecord) {
	if r.stateDir == "" {
		return
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(r.stateDir, "runs", rec.RunID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
	}
}

// loadRecords restores finished records from a previous process. Records
// stuck in "running" are marked failed: the process that owned them is
// gone, and their leases are intentionally not resurrected.
func (r *Registry) loadRecords(runsDir string) error {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		return fmt.Errorf("read state directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(runsDir, entry.Name()))
		if err != nil {
			continue
		}
		var rec RunRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if rec.Status == RunStatusRunning {
			rec.Status = RunStatusFailed
			rec.Detail = "process exited mid-run"
			if rec.FinishedAt.IsZero() {
				rec.FinishedAt = time.Now().UTC()
			}
		}
		r.records[rec.RunID] = &rec
	}
	return nil
}
