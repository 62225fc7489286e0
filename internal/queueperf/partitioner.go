package queueperf

import (
	"maps"
	"slices"
	"sync"

	"github.com/riverqueue/riverconsole/consoletype"
)

// PartitionStats are the statistics of every job of a single job type.
type PartitionStats struct {
	TimingStats

	// JobType is the job type the partition aggregates.
	JobType string
}

// Partitioner is a QueueListener that accumulates timing statistics separately
// for each job type. Partitions are created lazily as job types are first seen
// and job types are compared exactly, without any normalization.
//
// In addition to what Accumulator tracks, each partition maintains the minimum
// and maximum of its execution and wait durations.
type Partitioner struct {
	consoletype.QueueListenerDefaults

	mu         sync.Mutex
	partitions map[string]*jobTimings
}

// NewPartitioner returns a new partitioner with no partitions.
func NewPartitioner() *Partitioner {
	return &Partitioner{partitions: make(map[string]*jobTimings)}
}

func (p *Partitioner) OnStarted(info *consoletype.JobInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.partitionFor(info.JobType).started(info)
}

func (p *Partitioner) OnCompleted(info *consoletype.JobInfo, _ *consoletype.JobOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.partitionFor(info.JobType).ended(info)
}

// JobTypes returns every job type seen so far in ascending order.
func (p *Partitioner) JobTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return slices.Sorted(maps.Keys(p.partitions))
}

// Partition returns statistics for a single job type, or false if no event for
// the job type was seen.
func (p *Partitioner) Partition(jobType string) (*PartitionStats, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	timings, ok := p.partitions[jobType]
	if !ok {
		return nil, false
	}

	return &PartitionStats{TimingStats: timings.stats(), JobType: jobType}, true
}

// Partitions returns statistics for every job type ordered by job type.
func (p *Partitioner) Partitions() []*PartitionStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	partitions := make([]*PartitionStats, 0, len(p.partitions))
	for _, jobType := range slices.Sorted(maps.Keys(p.partitions)) {
		partitions = append(partitions, &PartitionStats{TimingStats: p.partitions[jobType].stats(), JobType: jobType})
	}

	return partitions
}

// MUST be called with p.mu already held.
func (p *Partitioner) partitionFor(jobType string) *jobTimings {
	timings, ok := p.partitions[jobType]
	if !ok {
		timings = newJobTimings()
		p.partitions[jobType] = timings
	}
	return timings
}
