package oracle

import "sync"

// Dedup is the UniqueErrorList: an ordered, append-only list of distinct
// DetectedError values, guarded by a single mutex so the compare-and-append
// is atomic (spec §5: "treated as one atomic compare-and-append").
type Dedup struct {
	mu      sync.Mutex
	entries []Error
}

// NewDedup creates an empty unique-error list.
func NewDedup() *Dedup {
	return &Dedup{}
}

// Append adds e if no existing entry equals it. It returns the entry's ID
// (its position in the list) and whether it was newly added.
func (d *Dedup) Append(e Error) (id int, isNew bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, existing := range d.entries {
		if existing.Equals(e) {
			return i, false
		}
	}

	d.entries = append(d.entries, e)
	return len(d.entries) - 1, true
}

// Len returns the current number of unique errors.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Entries returns a snapshot copy of the recorded errors.
func (d *Dedup) Entries() []Error {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Error, len(d.entries))
	copy(out, d.entries)
	return out
}
