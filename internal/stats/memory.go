// Package stats implements StatisticsMemory<T> (part of C9): a running
// aggregate exposing count/min/max/avg/median, with lock-free min/max per
// the spec's compare-and-swap requirement.
package stats

import (
	"sync"

	"go.uber.org/atomic"
)

// Snapshot is a point-in-time read of a Memory.
type Snapshot struct {
	Count  uint64
	Min    float64
	Max    float64
	Avg    float64
	Median float64
}

// Memory is StatisticsMemory<T>, specialized to float64 (callers convert
// durations to seconds or milliseconds before recording). Count is
// monotonic; min/max are updated via compare-and-swap loops; avg is an
// incremental running mean; median is the two-heap streaming estimator.
type Memory struct {
	count atomic.Uint64
	min   atomic.Float64
	max   atomic.Float64
	init  atomic.Bool

	mu     sync.Mutex
	avg    float64
	median *Median
}

// NewMemory creates an empty statistics memory.
func NewMemory() *Memory {
	return &Memory{median: NewMedian()}
}

// Record folds a new observation into the aggregate.
func (m *Memory) Record(x float64) {
	n := m.count.Inc()
	m.updateMin(x)
	m.updateMax(x)

	m.mu.Lock()
	m.avg += (x - m.avg) / float64(n)
	m.median.Insert(x)
	m.mu.Unlock()
}

func (m *Memory) updateMin(x float64) {
	for {
		if !m.init.Load() {
			if m.min.CAS(0, x) {
				m.init.CAS(false, true)
				return
			}
			continue
		}
		old := m.min.Load()
		if x >= old {
			return
		}
		if m.min.CAS(old, x) {
			return
		}
	}
}

func (m *Memory) updateMax(x float64) {
	for {
		old := m.max.Load()
		if x <= old {
			return
		}
		if m.max.CAS(old, x) {
			return
		}
	}
}

// Count returns the number of observations recorded so far.
func (m *Memory) Count() uint64 {
	return m.count.Load()
}

// Snapshot returns a consistent read of count/min/max/avg/median. A count
// of zero yields a zeroed Snapshot.
func (m *Memory) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := m.count.Load()
	if count == 0 {
		return Snapshot{}
	}
	return Snapshot{
		Count:  count,
		Min:    m.min.Load(),
		Max:    m.max.Load(),
		Avg:    m.avg,
		Median: m.median.Value(),
	}
}
