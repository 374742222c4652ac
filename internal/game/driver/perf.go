package driver

import (
	"sort"
	"time"
)

// perfWindowSize is the number of recent ticks kept for statistics.
const perfWindowSize = 300

// PerfStats summarises recent per-tick processing durations. Instrumentation
// only: it detects frame-rate regressions and never alters loop behaviour.
type PerfStats struct {
	Samples int
	Mean    time.Duration
	Max     time.Duration
	P95     time.Duration

	// BudgetExceeded is true when a budget was configured and P95 exceeds it.
	BudgetExceeded bool
}

// perfWindow is a fixed-size ring of tick processing durations. Not
// goroutine-safe; the Driver serialises access under its mutex.
type perfWindow struct {
	samples []time.Duration
	next    int
	full    bool
}

func newPerfWindow(size int) *perfWindow {
	return &perfWindow{samples: make([]time.Duration, size)}
}

func (w *perfWindow) record(d time.Duration) {
	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

func (w *perfWindow) reset() {
	w.next = 0
	w.full = false
}

func (w *perfWindow) stats(budget time.Duration) PerfStats {
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	if n == 0 {
		return PerfStats{}
	}

	sorted := make([]time.Duration, n)
	copy(sorted, w.samples[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	// Nearest-rank 95th percentile.
	idx := (n*95 + 99) / 100
	if idx > 0 {
		idx--
	}

	st := PerfStats{
		Samples: n,
		Mean:    sum / time.Duration(n),
		Max:     sorted[n-1],
		P95:     sorted[idx],
	}
	st.BudgetExceeded = budget > 0 && st.P95 > budget
	return st
}
