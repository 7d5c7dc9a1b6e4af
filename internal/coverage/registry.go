package coverage

import "sync"

// PathEntry is one arena slot in the PathRegistry: the registry owns the
// Path value, and every Seed carries a stable index into this slice rather
// than a pointer, per SPEC_FULL.md's Design Notes on eliminating the
// seed/registry aliasing hazard.
type PathEntry struct {
	Path       Path
	Occurrence uint64
}

// Registry is the PathRegistry: a mapping from CoveragePath to occurrence
// count shared across all seeds. Entries are never removed; counts
// monotonically increase.
type Registry struct {
	mu      sync.Mutex
	entries []PathEntry
	index   map[string]int
}

// NewRegistry creates an empty path registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Upsert records an occurrence of path, returning its stable index and
// whether this path was newly registered.
func (r *Registry) Upsert(path Path) (idx int, isNew bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := path.Key()
	if i, ok := r.index[key]; ok {
		r.entries[i].Occurrence++
		return i, false
	}

	r.entries = append(r.entries, PathEntry{Path: path, Occurrence: 1})
	i := len(r.entries) - 1
	r.index[key] = i
	return i, true
}

// Get returns a copy of the entry at idx.
func (r *Registry) Get(idx int) PathEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[idx]
}

// Occurrence returns the current occurrence count at idx, used by the
// boosted power schedule's lazily-read energy.
func (r *Registry) Occurrence(idx int) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[idx].Occurrence
}

// Len returns the number of distinct paths registered so far; this backs
// the stats document's nb_unique_hash field.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
