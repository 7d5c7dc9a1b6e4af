package queue

import (
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/zjy-dev/cfuzz/internal/coverage"
)

// ErrQueueBorrowed is returned by Add when a borrow is active: while a
// caller holds a borrowed seed, appending would invalidate its slot index,
// per spec §4.5.
var ErrQueueBorrowed = errors.New("boosted queue has an active borrow")

// BoostedSchedule stores seeds in an insertion-ordered vector. Energy is
// read lazily at selection time from the occurrence count of the seed's
// path in the shared registry: e = 1 / occurrence_count^5.
type BoostedSchedule struct {
	mu       sync.Mutex
	seeds    []Seed
	registry *coverage.Registry
	borrowed bool
}

// NewBoostedSchedule creates a boosted-schedule queue backed by registry
// for occurrence-count lookups.
func NewBoostedSchedule(registry *coverage.Registry) *BoostedSchedule {
	return &BoostedSchedule{registry: registry}
}

// Add appends a seed. It fails while a borrow is active.
func (q *BoostedSchedule) Add(s Seed) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.borrowed {
		return ErrQueueBorrowed
	}
	q.seeds = append(q.seeds, s)
	return nil
}

// Len returns the number of seeds currently held.
func (q *BoostedSchedule) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.seeds)
}

func (q *BoostedSchedule) energy(s Seed) float64 {
	occ := q.registry.Occurrence(s.PathIndex)
	if occ == 0 {
		occ = 1
	}
	o := float64(occ)
	return 1 / (o * o * o * o * o)
}

// Select performs fitness-proportional selection over the live energies and
// borrows the winning seed in place: the seed stays in the vector (never
// extracted) and Add is blocked until Release is called.
func (q *BoostedSchedule) Select() (idx int, s Seed, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.seeds) == 0 {
		return 0, Seed{}, ErrEmptyQueue
	}
	if q.borrowed {
		return 0, Seed{}, ErrQueueBorrowed
	}

	weights := make([]float64, len(q.seeds))
	var total float64
	for i, seed := range q.seeds {
		weights[i] = q.energy(seed)
		total += weights[i]
	}

	target := rand.Float64() * total
	var cum float64
	chosen := len(q.seeds) - 1
	for i, w := range weights {
		cum += w
		if target < cum {
			chosen = i
			break
		}
	}

	q.borrowed = true
	return chosen, q.seeds[chosen], nil
}

// Release writes the updated seed back to its borrowed slot and clears the
// borrow, allowing Add to proceed again.
func (q *BoostedSchedule) Release(idx int, updated Seed) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seeds[idx] = updated
	q.borrowed = false
}

// Snapshot returns a copy of all held seeds, for reporting.
func (q *BoostedSchedule) Snapshot() []Seed {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Seed, len(q.seeds))
	copy(out, q.seeds)
	return out
}
