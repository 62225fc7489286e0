package queueperf

import (
	"cmp"
	"slices"
	"sync"

	"github.com/riverqueue/riverconsole/consoletype"
)

// WorstJobsFinder is a QueueListener that retains the jobs with the greatest
// execution durations seen so far, up to a fixed capacity.
//
// Once at capacity, an ended job replaces a retained job only if its execution
// duration is strictly greater than the smallest retained one. When several
// retained jobs share the smallest execution duration, which of them is
// evicted is unspecified.
type WorstJobsFinder struct {
	consoletype.QueueListenerDefaults

	capacity int
	mu       sync.Mutex
	worsts   []*consoletype.JobInfo
}

// NewWorstJobsFinder returns a finder retaining at most capacity jobs. A
// capacity of zero retains nothing. Panics on a negative capacity.
func NewWorstJobsFinder(capacity int) *WorstJobsFinder {
	if capacity < 0 {
		panic("WorstJobsFinder capacity must be greater or equal to 0")
	}

	return &WorstJobsFinder{
		capacity: capacity,
		worsts:   make([]*consoletype.JobInfo, 0, capacity),
	}
}

func (f *WorstJobsFinder) OnCompleted(info *consoletype.JobInfo, _ *consoletype.JobOutcome) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.worsts) < f.capacity {
		f.worsts = append(f.worsts, info)
		return
	}

	if f.capacity == 0 {
		return
	}

	minIndex := 0
	for i, worst := range f.worsts {
		if worst.ExecutionDuration < f.worsts[minIndex].ExecutionDuration {
			minIndex = i
		}
	}

	if info.ExecutionDuration > f.worsts[minIndex].ExecutionDuration {
		f.worsts[minIndex] = info
	}
}

// Capacity returns the maximum number of jobs retained.
func (f *WorstJobsFinder) Capacity() int { return f.capacity }

// Worsts returns the retained jobs ranked by execution duration descending,
// with ties broken by wait duration descending.
func (f *WorstJobsFinder) Worsts() []*consoletype.JobInfo {
	f.mu.Lock()
	worsts := slices.Clone(f.worsts)
	f.mu.Unlock()

	slices.SortStableFunc(worsts, compareWorst)
	return worsts
}

// Orders jobs from the worst to the least bad. Only returns 0 if both execution
// and wait durations are equal.
func compareWorst(a, b *consoletype.JobInfo) int {
	return cmp.Or(
		cmp.Compare(b.ExecutionDuration, a.ExecutionDuration),
		cmp.Compare(b.WaitDuration, a.WaitDuration),
	)
}
