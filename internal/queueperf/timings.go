// Package queueperf contains the listeners that aggregate job lifecycle events
// into queue performance statistics: global totals (Accumulator), per job type
// totals (Partitioner), and a ranking of the slowest jobs (WorstJobsFinder).
//
// Every aggregate guards its state with its own mutex so that it can be fed
// from many worker goroutines at once, and every read returns a copy that's
// safe to use after the aggregate has moved on.
package queueperf

import (
	"math"
	"slices"
	"time"

	"github.com/riverqueue/riverconsole/consoletype"
	"github.com/riverqueue/riverconsole/internal/util/ptrutil"
)

// DurationStats are statistics over the samples of one duration dimension,
// either execution or wait. Fields that have no data are nil.
type DurationStats struct {
	// Average is Total divided by the number of started jobs. Nil when no job
	// has been started.
	Average *time.Duration

	// Max is the greatest sample. Nil until the first sample.
	Max *time.Duration

	// Median is the sample at sorted index (n+1)/2. See Median.
	Median *time.Duration

	// Min is the smallest sample. Nil until the first sample.
	Min *time.Duration

	// NumSamples is the number of samples recorded.
	NumSamples int

	// Total is the sum of all samples.
	Total time.Duration
}

// TimingStats are statistics over a set of jobs.
type TimingStats struct {
	// Execution are statistics over execution durations, recorded when a job
	// completes or fails.
	Execution DurationStats

	// NumJobs is the number of jobs that were started.
	NumJobs int

	// Wait are statistics over wait durations, recorded when a job starts.
	Wait DurationStats
}

// Median selects the element at index (n+1)/2 of the ascending sorted samples.
// This is one position past the conventional median for odd n and picks the
// upper middle element for even n. For a single sample, where that index is out
// of range, the only sample is returned. Returns false if there are no samples.
//
// Samples aren't modified.
func Median(samples []time.Duration) (time.Duration, bool) {
	if len(samples) < 1 {
		return 0, false
	}

	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	return sorted[min((len(sorted)+1)/2, len(sorted)-1)], true
}

// Records samples of a single duration dimension. Not safe for concurrent use;
// callers hold their own lock.
type durationRecorder struct {
	max     time.Duration
	min     time.Duration
	samples []time.Duration
	total   time.Duration
}

func newDurationRecorder() durationRecorder {
	return durationRecorder{
		max: math.MinInt64,
		min: math.MaxInt64,
	}
}

func (r *durationRecorder) record(d time.Duration) {
	r.max = max(r.max, d)
	r.min = min(r.min, d)
	r.samples = append(r.samples, d)
	r.total += d
}

func (r *durationRecorder) stats(numJobs int) DurationStats {
	stats := DurationStats{
		Average:    safeDurationAverage(r.total, numJobs),
		NumSamples: len(r.samples),
		Total:      r.total,
	}

	if median, ok := Median(r.samples); ok {
		stats.Max, stats.Median, stats.Min = ptrutil.Ptr(r.max), ptrutil.Ptr(median), ptrutil.Ptr(r.min)
	}

	return stats
}

// Handles a potential divide by zero.
func safeDurationAverage(d time.Duration, n int) *time.Duration {
	if n == 0 {
		return nil
	}
	return ptrutil.Ptr(d / time.Duration(n))
}

// The per-job update logic shared by Accumulator and each partition of
// Partitioner.
type jobTimings struct {
	execution durationRecorder
	numJobs   int
	wait      durationRecorder
}

func newJobTimings() *jobTimings {
	return &jobTimings{
		execution: newDurationRecorder(),
		wait:      newDurationRecorder(),
	}
}

func (t *jobTimings) started(info *consoletype.JobInfo) {
	t.wait.record(info.WaitDuration)
	t.numJobs++
}

func (t *jobTimings) ended(info *consoletype.JobInfo) {
	t.execution.record(info.ExecutionDuration)
}

func (t *jobTimings) stats() TimingStats {
	return TimingStats{
		Execution: t.execution.stats(t.numJobs),
		NumJobs:   t.numJobs,
		Wait:      t.wait.stats(t.numJobs),
	}
}
