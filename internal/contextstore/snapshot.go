package contextstore

import (
	"sort"
	"time"
)

// Snapshot is an immutable, versioned view of the store at a phase
// boundary. Created once, consumed read-only by agents, retained for the
// life of the run for audit.
type Snapshot struct {
	version int64
	phases  []string
	entries map[string]Entry
	takenAt time.Time
}

// Version is the store version the snapshot was taken at.
func (s *Snapshot) Version() int64 { return s.version }

// TakenAt is when the snapshot was created.
func (s *Snapshot) TakenAt() time.Time { return s.takenAt }

// Phases lists the committed phases visible in this snapshot, sorted.
func (s *Snapshot) Phases() []string {
	out := make([]string, len(s.phases))
	copy(out, s.phases)
	return out
}

// Get returns the entry at fieldPath, if present.
func (s *Snapshot) Get(fieldPath string) (Entry, bool) {
	e, ok := s.entries[fieldPath]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Value returns just the value at fieldPath, if present.
func (s *Snapshot) Value(fieldPath string) (any, bool) {
	e, ok := s.entries[fieldPath]
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// StringValue returns the value at fieldPath if it is a string.
func (s *Snapshot) StringValue(fieldPath string) (string, bool) {
	v, ok := s.Value(fieldPath)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// Len returns the number of field paths in the snapshot.
func (s *Snapshot) Len() int { return len(s.entries) }

// FieldPaths returns all field paths, sorted for deterministic iteration.
func (s *Snapshot) FieldPaths() []string {
	out := make([]string, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Entries returns all entries ordered by field path.
func (s *Snapshot) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, k := range s.FieldPaths() {
		out = append(out, s.entries[k].clone())
	}
	return out
}
