package stats

import "container/heap"

// maxHeap and minHeap are float64 heaps used by the streaming median
// estimator: low is a max-heap (largest of the lower half on top), high is
// a min-heap (smallest of the upper half on top).
type maxHeap []float64

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i] > h[j] }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(float64)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

type minHeap []float64

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(float64)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Median is a streaming two-heap exact median estimator (not
// concurrency-safe on its own; Memory guards it with a mutex).
type Median struct {
	low  maxHeap
	high minHeap
}

// NewMedian creates an empty median estimator.
func NewMedian() *Median {
	return &Median{}
}

// Insert adds x to the stream, maintaining the size invariant
// |low| - |high| in {0, 1}.
func (m *Median) Insert(x float64) {
	if m.low.Len() == 0 || x <= m.low[0] {
		heap.Push(&m.low, x)
	} else {
		heap.Push(&m.high, x)
	}

	if m.low.Len() > m.high.Len()+1 {
		heap.Push(&m.high, heap.Pop(&m.low))
	} else if m.high.Len() > m.low.Len() {
		heap.Push(&m.low, heap.Pop(&m.high))
	}
}

// Value returns the exact median of everything inserted so far, or 0 if
// nothing has been inserted.
func (m *Median) Value() float64 {
	if m.low.Len() == 0 {
		return 0
	}
	if m.low.Len() > m.high.Len() {
		return m.low[0]
	}
	return (m.low[0] + m.high[0]) / 2
}
