package queue

import (
	"errors"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
)

// ErrEmptyQueue is returned by Select when there is nothing to choose from.
var ErrEmptyQueue = errors.New("seed queue is empty")

// simpleEnergy computes e = 1 / (T * |s| * n_selected / n_improved). A seed
// that has never been selected (n_selected == 0) would make the ratio
// degenerate to zero and the energy infinite; this implementation treats an
// unselected seed's n_selected as 1 for the purpose of this formula only,
// giving every fresh seed a high but finite baseline energy instead of an
// unbounded one. NImproved is always >= 1 per the Seed invariant.
func simpleEnergy(s Seed) float64 {
	t := s.ExecTime.Seconds()
	if t <= 0 {
		t = 1e-6
	}
	length := float64(len(s.Input))
	if length <= 0 {
		length = 1
	}
	nSelected := s.NSelected
	if nSelected <= 0 {
		nSelected = 1
	}
	ratio := float64(nSelected) / float64(s.NImproved)
	return 1 / (t * length * ratio)
}

// SimpleSchedule stores seeds in an unordered slice; Select sorts a copy by
// energy descending. Selection is extraction-based: the chosen seed is removed, and the caller
// must Release it (with updated counters) to put it back.
type SimpleSchedule struct {
	mu    sync.Mutex
	seeds []Seed
}

// NewSimpleSchedule creates an empty simple-schedule queue.
func NewSimpleSchedule() *SimpleSchedule {
	return &SimpleSchedule{}
}

// Add inserts a seed, computing its initial energy.
func (q *SimpleSchedule) Add(s Seed) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	s.Energy = simpleEnergy(s)
	q.seeds = append(q.seeds, s)
	return nil
}

// Len returns the number of seeds currently held.
func (q *SimpleSchedule) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.seeds)
}

// Select draws and extracts one seed. Selection is bimodal: the top 10% of
// seeds by energy share 50% of the selection mass uniformly; the remaining
// 90% share the other 50%.
func (q *SimpleSchedule) Select() (Seed, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.seeds) == 0 {
		return Seed{}, ErrEmptyQueue
	}

	ordered := append([]Seed(nil), q.seeds...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Energy > ordered[j].Energy })

	topCount := int(math.Ceil(float64(len(ordered)) * 0.1))
	if topCount < 1 {
		topCount = 1
	}
	if topCount > len(ordered) {
		topCount = len(ordered)
	}

	var chosen Seed
	if rand.Float64() < 0.5 || topCount == len(ordered) {
		chosen = ordered[rand.IntN(topCount)]
	} else {
		rest := ordered[topCount:]
		chosen = rest[rand.IntN(len(rest))]
	}

	q.removeValue(chosen)
	return chosen, nil
}

// removeValue drops the first seed that sameSeed reports equal to target,
// comparing by content (input bytes, PathIndex and counters), not by
// pointer identity.
func (q *SimpleSchedule) removeValue(target Seed) {
	for i, s := range q.seeds {
		if sameSeed(s, target) {
			q.seeds = append(q.seeds[:i], q.seeds[i+1:]...)
			return
		}
	}
}

func sameSeed(a, b Seed) bool {
	if len(a.Input) != len(b.Input) || a.PathIndex != b.PathIndex {
		return false
	}
	for i := range a.Input {
		if a.Input[i] != b.Input[i] {
			return false
		}
	}
	return a.NSelected == b.NSelected && a.NImproved == b.NImproved
}

// Release re-inserts a seed after its counters have been updated by the
// caller, recomputing its energy from the refreshed exec time and counters.
func (q *SimpleSchedule) Release(s Seed) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s.Energy = simpleEnergy(s)
	q.seeds = append(q.seeds, s)
}

// Snapshot returns a copy of all held seeds, for reporting.
func (q *SimpleSchedule) Snapshot() []Seed {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Seed, len(q.seeds))
	copy(out, q.seeds)
	return out
}
