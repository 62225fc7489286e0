package riverbridge

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/riverqueue/riverconsole/consoletype"
	"github.com/riverqueue/riverconsole/internal/baseservice"
)

// QueueServiceListLimit is the maximum number of jobs of each state a queue
// service refresh will list.
const QueueServiceListLimit = 1_000

// JobLister lists jobs. It's implemented by *river.Client.
type JobLister interface {
	JobList(ctx context.Context, params *river.JobListParams) (*river.JobListResult, error)
}

// QueueService provides the counters of a River client's queues. Finished and
// failed counts come from the bridge, while executing and waiting jobs are
// taken from a snapshot of the database that's updated by Refresh.
type QueueService struct {
	baseservice.BaseService

	bridge *Bridge
	lister JobLister

	mu        sync.RWMutex
	executing []*rivertype.JobRow
	waiting   []*rivertype.JobRow
}

// NewQueueService returns a new queue service. Its snapshot is empty until
// Refresh is invoked.
func NewQueueService(archetype *baseservice.Archetype, bridge *Bridge, lister JobLister) *QueueService {
	return baseservice.Init(archetype, &QueueService{
		bridge: bridge,
		lister: lister,
	})
}

// Refresh lists running and available jobs to update the snapshot.
func (s *QueueService) Refresh(ctx context.Context) error {
	executing, err := s.list(ctx, rivertype.JobStateRunning)
	if err != nil {
		return err
	}

	waiting, err := s.list(ctx, rivertype.JobStateAvailable)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.executing = executing
	s.waiting = waiting

	s.Logger.DebugContext(ctx, s.Name+": Refreshed", "num_executing", len(executing), "num_waiting", len(waiting))

	return nil
}

func (s *QueueService) list(ctx context.Context, state rivertype.JobState) ([]*rivertype.JobRow, error) {
	res, err := s.lister.JobList(ctx, river.NewJobListParams().
		States(state).
		First(QueueServiceListLimit))
	if err != nil {
		return nil, fmt.Errorf("error listing %s jobs: %w", state, err)
	}

	return res.Jobs, nil
}

func (s *QueueService) NumExecuting() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.executing)
}

func (s *QueueService) NumFailed() int64   { return s.bridge.NumFailed() }
func (s *QueueService) NumFinished() int64 { return s.bridge.NumBridged() }

func (s *QueueService) NumWaiting() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.waiting)
}

// WaitersInfo returns the waiting jobs of the last snapshot, ordered by the
// time they became available. Wait durations run to the present.
func (s *QueueService) WaitersInfo() []*consoletype.JobInfo {
	s.mu.RLock()
	waiting := slices.Clone(s.waiting)
	s.mu.RUnlock()

	slices.SortStableFunc(waiting, func(a, b *rivertype.JobRow) int {
		return cmp.Or(a.ScheduledAt.Compare(b.ScheduledAt), cmp.Compare(a.ID, b.ID))
	})

	now := s.Clock.NowUTC()

	infos := make([]*consoletype.JobInfo, len(waiting))
	for i, job := range waiting {
		infos[i] = &consoletype.JobInfo{
			Description:    fmt.Sprintf("%s #%d on queue %s", job.Kind, job.ID, job.Queue),
			EnlistmentTime: job.ScheduledAt,
			JobType:        s.bridge.config.JobTypeFunc(job),
			WaitDuration:   max(now.Sub(job.ScheduledAt), 0),
		}
	}

	return infos
}
