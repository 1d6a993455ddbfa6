// Package latency tracks operation durations over a fixed-size window.
package latency

import (
	"math"
	"sort"
	"sync"
	"time"
)

const defaultWindowSize = 1024

// Stats summarises the durations retained in a Tracker window.
type Stats struct {
	Count int           `json:"count"`
	Min   time.Duration `json:"min"`
	Mean  time.Duration `json:"mean"`
	P95   time.Duration `json:"p95"`
	Max   time.Duration `json:"max"`
}

// Tracker keeps the most recent durations in a ring buffer. Record is O(1)
// and never allocates after construction, so it is safe on the hot tick path.
type Tracker struct {
	mu      sync.RWMutex
	samples []time.Duration
	next    int
	count   int
}

// NewTracker builds a tracker retaining the last windowSize durations.
// A non-positive windowSize falls back to 1024.
func NewTracker(windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = defaultWindowSize
	}
	return &Tracker{samples: make([]time.Duration, windowSize)}
}

// Record stores one duration, evicting the oldest sample once the window is
// full. Negative durations are clamped to zero.
func (t *Tracker) Record(d time.Duration) {
	if d < 0 {
		d = 0
	}

	t.mu.Lock()
	t.samples[t.next] = d
	t.next = (t.next + 1) % len(t.samples)
	if t.count < len(t.samples) {
		t.count++
	}
	t.mu.Unlock()
}

// Count reports how many samples the window currently holds.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// Stats computes summary statistics over the retained window. An empty window
// yields zero-value stats with Count 0.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	n := t.count
	window := make([]time.Duration, n)
	if n > 0 {
		copy(window, t.samples[:n])
	}
	t.mu.RUnlock()

	if n == 0 {
		return Stats{}
	}

	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })

	var total time.Duration
	for _, d := range window {
		total += d
	}

	// Nearest-rank percentile over the sorted window.
	rank := int(math.Ceil(0.95*float64(n))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= n {
		rank = n - 1
	}

	return Stats{
		Count: n,
		Min:   window[0],
		Mean:  total / time.Duration(n),
		P95:   window[rank],
		Max:   window[n-1],
	}
}
