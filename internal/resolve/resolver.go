package resolve

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pland/internal/contextstore"
	"github.com/fyrsmithlabs/pland/internal/metrics"
)

// confidenceEpsilon bounds float comparison when tie-breaking on
// confidence. Two confidences closer than this are considered equal.
const confidenceEpsilon = 1e-9

// stripeCount sizes the per-field-path lock table. Merges on distinct
// field paths proceed concurrently; merges on the same path serialize.
const stripeCount = 64

// Equivalence reports whether two values are semantically equal for a
// typed field (e.g. version strings "v2.14" and "2.14").
type Equivalence func(a, b any) bool

// Resolver merges entries into a store with explicit conflict semantics:
//
//   - no existing entry: apply directly
//   - same producer: self-revision, later value wins
//   - different producer, equivalent value: apply, no winner needed
//   - otherwise: higher confidence wins, then more evidence refs,
//     then the conflict escalates and the existing entry holds
type Resolver struct {
	store   *contextstore.Store
	logger  *zap.Logger
	stripes [stripeCount]sync.Mutex

	equivMu sync.RWMutex
	equiv   map[string]Equivalence // field path -> equivalence fn

	conflictMu sync.Mutex
	conflicts  []Conflict
	escalated  atomic.Int64
}

// New creates a resolver over the given store.
func New(store *contextstore.Store, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:  store,
		logger: logger,
		equiv:  make(map[string]Equivalence),
	}
}

// RegisterEquivalence installs an equivalence function for a field path.
func (r *Resolver) RegisterEquivalence(fieldPath string, fn Equivalence) {
	r.equivMu.Lock()
	defer r.equivMu.Unlock()
	r.equiv[fieldPath] = fn
}

// Merge applies one entry against the current store state. It is safe for
// concurrent use; writes to the same field path serialize, independent
// field paths do not contend.
func (r *Resolver) Merge(entry contextstore.Entry) Outcome {
	lock := &r.stripes[stripeIndex(entry.FieldPath)]
	lock.Lock()
	defer lock.Unlock()

	existing, ok := r.store.Current(entry.FieldPath)
	if !ok {
		r.store.Apply(entry)
		return Outcome{Applied: true}
	}

	// Self-revision: an agent may refine its own earlier partial output.
	if existing.Producer == entry.Producer {
		r.store.Apply(entry)
		return Outcome{Applied: true}
	}

	if r.equal(entry.FieldPath, existing.Value, entry.Value) {
		if fmt.Sprintf("%v", existing.Value) == fmt.Sprintf("%v", entry.Value) {
			// Exact agreement between producers needs no record at all.
			r.store.Apply(entry)
			return Outcome{Applied: true}
		}
		// Equivalent but not identical: apply and record the merge so the
		// audit trail shows both spellings.
		c := r.record(Conflict{
			FieldPath:  entry.FieldPath,
			Entries:    []contextstore.Entry{existing, entry},
			Resolution: ResolutionAutoMerged,
			Rationale:  "values equivalent under registered equivalence function",
		})
		r.store.Apply(entry)
		return Outcome{Applied: true, Conflict: c}
	}

	return r.tieBreak(existing, entry)
}

// tieBreak settles a genuine disagreement: confidence first, evidence
// count second, escalate otherwise. Deterministic for identical inputs.
func (r *Resolver) tieBreak(existing, incoming contextstore.Entry) Outcome {
	diff := incoming.Confidence - existing.Confidence
	switch {
	case diff > confidenceEpsilon:
		c := r.record(Conflict{
			FieldPath:  incoming.FieldPath,
			Entries:    []contextstore.Entry{existing, incoming},
			Resolution: ResolutionAutoOverridden,
			Rationale: fmt.Sprintf("%s wins on confidence (%.3f > %.3f)",
				incoming.Producer, incoming.Confidence, existing.Confidence),
		})
		r.store.Apply(incoming)
		return Outcome{Applied: true, Conflict: c}

	case diff < -confidenceEpsilon:
		c := r.record(Conflict{
			FieldPath:  incoming.FieldPath,
			Entries:    []contextstore.Entry{existing, incoming},
			Resolution: ResolutionAutoOverridden,
			Rationale: fmt.Sprintf("%s holds on confidence (%.3f > %.3f)",
				existing.Producer, existing.Confidence, incoming.Confidence),
		})
		return Outcome{Applied: false, Conflict: c}
	}

	// Equal confidence: more supporting evidence wins.
	if len(incoming.EvidenceRefs) > len(existing.EvidenceRefs) {
		c := r.record(Conflict{
			FieldPath:  incoming.FieldPath,
			Entries:    []contextstore.Entry{existing, incoming},
			Resolution: ResolutionAutoOverridden,
			Rationale: fmt.Sprintf("%s wins on evidence (%d > %d refs)",
				incoming.Producer, len(incoming.EvidenceRefs), len(existing.EvidenceRefs)),
		})
		r.store.Apply(incoming)
		return Outcome{Applied: true, Conflict: c}
	}
	if len(incoming.EvidenceRefs) < len(existing.EvidenceRefs) {
		c := r.record(Conflict{
			FieldPath:  incoming.FieldPath,
			Entries:    []contextstore.Entry{existing, incoming},
			Resolution: ResolutionAutoOverridden,
			Rationale: fmt.Sprintf("%s holds on evidence (%d > %d refs)",
				existing.Producer, len(existing.EvidenceRefs), len(incoming.EvidenceRefs)),
		})
		return Outcome{Applied: false, Conflict: c}
	}

	// Unresolvable: surface to the integrity monitor, keep the existing
	// value so repeated runs stay reproducible.
	r.escalated.Add(1)
	c := r.record(Conflict{
		FieldPath:  incoming.FieldPath,
		Entries:    []contextstore.Entry{existing, incoming},
		Resolution: ResolutionEscalated,
		Rationale: fmt.Sprintf("%s and %s tied on confidence and evidence",
			existing.Producer, incoming.Producer),
	})
	r.logger.Warn("escalated merge conflict",
		zap.String("field_path", incoming.FieldPath),
		zap.String("existing_producer", existing.Producer),
		zap.String("incoming_producer", incoming.Producer),
	)
	return Outcome{Applied: false, Conflict: c}
}

func (r *Resolver) equal(fieldPath string, a, b any) bool {
	if fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b) {
		return true
	}
	r.equivMu.RLock()
	fn, ok := r.equiv[fieldPath]
	r.equivMu.RUnlock()
	return ok && fn(a, b)
}

func (r *Resolver) record(c Conflict) *Conflict {
	c.DetectedAt = time.Now().UTC()
	metrics.ConflictsTotal.WithLabelValues(string(c.Resolution)).Inc()

	r.conflictMu.Lock()
	defer r.conflictMu.Unlock()
	r.conflicts = append(r.conflicts, c)
	return &r.conflicts[len(r.conflicts)-1]
}

// Conflicts returns all recorded conflicts in detection order.
func (r *Resolver) Conflicts() []Conflict {
	r.conflictMu.Lock()
	defer r.conflictMu.Unlock()
	out := make([]Conflict, len(r.conflicts))
	copy(out, r.conflicts)
	return out
}

// EscalatedCount returns how many conflicts escalated so far. Read by the
// integrity monitor after each phase commit.
func (r *Resolver) EscalatedCount() int64 {
	return r.escalated.Load()
}

// MergeCount returns the number of applied store writes.
func (r *Resolver) MergeCount() int64 {
	return r.store.Version()
}

func stripeIndex(fieldPath string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fieldPath))
	return int(h.Sum32() % stripeCount)
}
