// Package memqueue provides an in-memory job queue worked by a pool of
// goroutines. It reports every job's lifecycle to a listener and exposes
// counters through consoletype.QueueService.
package memqueue

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/riverqueue/riverconsole/consoletype"
	"github.com/riverqueue/riverconsole/internal/baseservice"
	"github.com/riverqueue/riverconsole/internal/startstop"
	"github.com/riverqueue/riverconsole/internal/testsignal"
	"github.com/riverqueue/riverconsole/internal/util/valutil"
)

// ErrQueueStopped is returned when enlisting a job into a queue that isn't
// running.
var ErrQueueStopped = errors.New("queue stopped")

const (
	MaxWaitingDefault = 1_000
	MaxWorkersDefault = 10
)

// Job is a unit of work to enlist.
type Job struct {
	// Description is a human readable description of the job.
	Description string

	// JobType is the job's category label.
	JobType string

	// Work runs the job. The context is cancelled when the queue stops.
	Work func(ctx context.Context) (any, error)
}

// Config is configuration for Queue.
type Config struct {
	// Listener is notified of every job's lifecycle transitions. Optional.
	Listener consoletype.QueueListener

	// MaxWaiting is the maximum number of jobs waiting to be worked. Enlist
	// blocks while the queue is full. Defaults to MaxWaitingDefault.
	MaxWaiting int

	// MaxWorkers is the number of goroutines working jobs. Defaults to
	// MaxWorkersDefault.
	MaxWorkers int
}

func (c *Config) validate() error {
	if c.MaxWaiting < 0 {
		return errors.New("MaxWaiting cannot be less than zero")
	}
	if c.MaxWorkers < 0 {
		return errors.New("MaxWorkers cannot be less than zero")
	}

	return nil
}

// Test-only signals.
type queueTestSignals struct {
	JobFinished testsignal.TestSignal[*consoletype.JobInfo] // notifies when a job has ended
}

func (ts *queueTestSignals) Init(tb testsignal.TestingTB) {
	ts.JobFinished.Init(tb)
}

type queuedJob struct {
	enlistedAt time.Time
	id         int64
	job        *Job
}

func (j *queuedJob) info() *consoletype.JobInfo {
	return &consoletype.JobInfo{
		Description:    j.job.Description,
		EnlistmentTime: j.enlistedAt,
		JobType:        j.job.JobType,
	}
}

// Queue is an in-memory job queue. Jobs may be enlisted at any time while the
// queue is running and are worked in roughly the order they were enlisted.
type Queue struct {
	baseservice.BaseService
	startstop.BaseStartStop

	// exported for test purposes
	TestSignals queueTestSignals

	config  *Config
	jobChan chan *queuedJob
	running atomic.Bool

	numExecuting atomic.Int64
	numFailed    atomic.Int64
	numFinished  atomic.Int64

	waitersMu sync.Mutex // protects waiter fields
	waiters   map[int64]*queuedJob
	waiterSeq int64 // used for generating simple IDs
}

var _ startstop.Service = &Queue{}

// New returns a new queue. A nil config uses defaults. The queue doesn't work
// jobs until it's started.
func New(archetype *baseservice.Archetype, config *Config) (*Queue, error) {
	if config == nil {
		config = &Config{}
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	listener := config.Listener
	if listener == nil {
		listener = consoletype.QueueListenerDefaults{}
	}

	config = &Config{
		Listener:   listener,
		MaxWaiting: valutil.ValOrDefault(config.MaxWaiting, MaxWaitingDefault),
		MaxWorkers: valutil.ValOrDefault(config.MaxWorkers, MaxWorkersDefault),
	}

	return baseservice.Init(archetype, &Queue{
		config:  config,
		jobChan: make(chan *queuedJob, config.MaxWaiting),
		waiters: make(map[int64]*queuedJob),
	}), nil
}

func (q *Queue) Start(ctx context.Context) error {
	ctx, shouldStart, started, stopped := q.StartInit(ctx)
	if !shouldStart {
		return nil
	}

	// Accept jobs as soon as Start returns.
	q.running.Store(true)

	go func() {
		started()
		defer stopped()

		q.Logger.DebugContext(ctx, q.Name+": Run loop started", "max_workers", q.config.MaxWorkers)
		defer q.Logger.DebugContext(ctx, q.Name+": Run loop stopped")

		var wg sync.WaitGroup
		wg.Add(q.config.MaxWorkers)
		for range q.config.MaxWorkers {
			go func() {
				defer wg.Done()
				q.workLoop(ctx)
			}()
		}

		<-ctx.Done()
		q.running.Store(false)

		wg.Wait()
	}()

	return nil
}

// Enlist submits a job to the queue. It blocks while the queue is full until
// either there's room or the context is done.
func (q *Queue) Enlist(ctx context.Context, job *Job) error {
	if !q.running.Load() {
		return ErrQueueStopped
	}

	queued := func() *queuedJob {
		q.waitersMu.Lock()
		defer q.waitersMu.Unlock()

		q.waiterSeq++
		queued := &queuedJob{enlistedAt: q.Clock.NowUTC(), id: q.waiterSeq, job: job}
		q.waiters[queued.id] = queued
		return queued
	}()

	// Notify before the job becomes visible to workers so that enlistment is
	// always observed before start.
	q.config.Listener.OnEnlisted(queued.info())

	select {
	case q.jobChan <- queued:
		return nil
	case <-ctx.Done():
		q.removeWaiter(queued.id)
		return ctx.Err()
	}
}

func (q *Queue) NumExecuting() int  { return int(q.numExecuting.Load()) }
func (q *Queue) NumFailed() int64   { return q.numFailed.Load() }
func (q *Queue) NumFinished() int64 { return q.numFinished.Load() }

func (q *Queue) NumWaiting() int {
	q.waitersMu.Lock()
	defer q.waitersMu.Unlock()

	return len(q.waiters)
}

// WaitersInfo returns snapshots of waiting jobs ordered by enlistment.
func (q *Queue) WaitersInfo() []*consoletype.JobInfo {
	q.waitersMu.Lock()
	waiters := make([]*queuedJob, 0, len(q.waiters))
	for _, waiter := range q.waiters {
		waiters = append(waiters, waiter)
	}
	q.waitersMu.Unlock()

	slices.SortFunc(waiters, func(a, b *queuedJob) int { return cmp.Compare(a.id, b.id) })

	now := q.Clock.NowUTC()

	infos := make([]*consoletype.JobInfo, len(waiters))
	for i, waiter := range waiters {
		infos[i] = waiter.info()
		infos[i].WaitDuration = max(now.Sub(waiter.enlistedAt), 0)
	}
	return infos
}

func (q *Queue) removeWaiter(id int64) {
	q.waitersMu.Lock()
	defer q.waitersMu.Unlock()

	delete(q.waiters, id)
}

func (q *Queue) workLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case queued := <-q.jobChan:
			q.execute(ctx, queued)
		}
	}
}

func (q *Queue) execute(ctx context.Context, queued *queuedJob) {
	q.removeWaiter(queued.id)

	startedAt := q.Clock.NowUTC()

	info := queued.info()
	info.WaitDuration = max(startedAt.Sub(queued.enlistedAt), 0)

	q.numExecuting.Add(1)
	q.config.Listener.OnStarted(info)

	result, err := q.work(ctx, queued.job)

	completed := *info
	completed.ExecutionDuration = max(q.Clock.NowUTC().Sub(startedAt), 0)

	q.numExecuting.Add(-1)
	q.numFinished.Add(1)
	if err != nil {
		q.numFailed.Add(1)
		q.Logger.WarnContext(ctx, q.Name+": Job failed",
			"description", completed.Description, "err", err, "job_type", completed.JobType)
	}

	q.config.Listener.OnCompleted(&completed, &consoletype.JobOutcome{Err: err, Result: result})
	q.TestSignals.JobFinished.Signal(&completed)
}

// Runs a job's work function, converting a panic into an error.
func (q *Queue) work(ctx context.Context, job *Job) (result any, err error) {
	defer func() {
		if recovery := recover(); recovery != nil {
			err = fmt.Errorf("job panicked: %v", recovery)
		}
	}()

	if job.Work == nil {
		return nil, nil
	}

	return job.Work(ctx)
}
