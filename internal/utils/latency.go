package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps the most recent duration samples in a ring buffer and
// computes percentiles over them.
type LatencyTracker struct {
	mu     sync.RWMutex
	ring   []time.Duration
	next   int
	filled bool
	total  int
}

// NewLatencyTracker creates a tracker keeping up to size samples.
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 256
	}
	return &LatencyTracker{ring: make([]time.Duration, size)}
}

// Observe records a new duration, evicting the oldest when full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring[l.next] = d
	l.next++
	l.total++
	if l.next == len(l.ring) {
		l.next = 0
		l.filled = true
	}
}

// Percentile returns the p-th percentile (0-100) over the retained window.
// It returns zero with no samples.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.RLock()
	samples := l.snapshot()
	l.mu.RUnlock()

	if len(samples) == 0 {
		return 0
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	idx := int(p / 100 * float64(len(samples)-1))
	return samples[idx]
}

// Count returns the total number of samples ever observed.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

func (l *LatencyTracker) snapshot() []time.Duration {
	n := l.next
	if l.filled {
		n = len(l.ring)
	}
	out := make([]time.Duration, n)
	copy(out, l.ring[:n])
	return out
}
