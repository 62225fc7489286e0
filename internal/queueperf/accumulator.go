package queueperf

import (
	"sync"
	"time"

	"github.com/riverqueue/riverconsole/consoletype"
)

// Accumulator is a QueueListener that accumulates timing statistics across
// every job it's notified of.
//
// A job is counted when it starts, at which point its wait duration is
// recorded. Its execution duration is recorded when it ends, whether it
// completed or failed. Until every started job has ended, the number of
// execution samples may trail the job count.
type Accumulator struct {
	consoletype.QueueListenerDefaults

	mu      sync.Mutex
	timings *jobTimings
}

// NewAccumulator returns a new, empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{timings: newJobTimings()}
}

func (a *Accumulator) OnStarted(info *consoletype.JobInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.timings.started(info)
}

func (a *Accumulator) OnCompleted(info *consoletype.JobInfo, _ *consoletype.JobOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.timings.ended(info)
}

// NumJobs returns the number of jobs that were started.
func (a *Accumulator) NumJobs() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.timings.numJobs
}

// TotalExecution returns the sum of execution durations of ended jobs.
func (a *Accumulator) TotalExecution() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.timings.execution.total
}

// TotalWait returns the sum of wait durations of started jobs.
func (a *Accumulator) TotalWait() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.timings.wait.total
}

// AverageExecution returns TotalExecution divided by NumJobs, or false if no
// jobs were started.
func (a *Accumulator) AverageExecution() (time.Duration, bool) {
	return derefOK(a.Stats().Execution.Average)
}

// AverageWait returns TotalWait divided by NumJobs, or false if no jobs were
// started.
func (a *Accumulator) AverageWait() (time.Duration, bool) {
	return derefOK(a.Stats().Wait.Average)
}

// MedianExecution returns the Median of execution durations, or false if no
// job has ended.
func (a *Accumulator) MedianExecution() (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Median(a.timings.execution.samples)
}

// MedianWait returns the Median of wait durations, or false if no job was
// started.
func (a *Accumulator) MedianWait() (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Median(a.timings.wait.samples)
}

// Stats returns a snapshot of all statistics at once.
func (a *Accumulator) Stats() TimingStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.timings.stats()
}

func derefOK(d *time.Duration) (time.Duration, bool) {
	if d == nil {
		return 0, false
	}
	return *d, true
}
