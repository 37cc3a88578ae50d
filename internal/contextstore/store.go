package contextstore

import (
	"sort"
	"sync"
	"time"
)

// Store is the append-only, versioned entry log for one run.
//
// Apply never overwrites history: every write lands in the audit log and
// updates the current view. Version increases by one per applied entry.
type Store struct {
	mu      sync.RWMutex
	current map[string]Entry // field path -> winning entry
	log     []Entry          // full audit trail, append-only
	version int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		current: make(map[string]Entry),
	}
}

// Current returns the winning entry at fieldPath, if any.
func (s *Store) Current(fieldPath string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.current[fieldPath]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Apply appends the entry to the log and makes it the current value for
// its field path. Returns the store version after the write.
//
// Apply is the resolver's commit primitive; callers other than the
// resolver must not use it directly.
func (s *Store) Apply(e Entry) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.WrittenAt.IsZero() {
		e.WrittenAt = time.Now().UTC()
	}
	s.log = append(s.log, e)
	s.current[e.FieldPath] = e
	s.version++
	return s.version
}

// Version returns the number of applied entries so far.
func (s *Store) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Len returns the number of distinct field paths with a current value.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.current)
}

// Log returns a copy of the full audit trail in write order.
func (s *Store) Log() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.log))
	for _, e := range s.log {
		out = append(out, e.clone())
	}
	return out
}

// Snapshot captures an immutable view of the current state, labeled with
// the phases whose entries it contains. Taken at phase boundaries by the
// scheduler; agents read snapshots, never the store.
func (s *Store) Snapshot(phases ...string) *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make(map[string]Entry, len(s.current))
	for k, v := range s.current {
		entries[k] = v.clone()
	}
	sorted := make([]string, 0, len(phases))
	sorted = append(sorted, phases...)
	sort.Strings(sorted)

	return &Snapshot{
		version: s.version,
		phases:  sorted,
		entries: entries,
		takenAt: time.Now().UTC(),
	}
}
