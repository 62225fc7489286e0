package consolecli

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/riverqueue/river"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/riverqueue/riverconsole/internal/baseservice"
	"github.com/riverqueue/riverconsole/internal/startstop"
	"github.com/riverqueue/riverconsole/internal/testsignal"
	"github.com/riverqueue/riverconsole/memqueue"
)

var errWorkloadFailure = errors.New("simulated workload failure")

// WorkloadJobType describes the jobs of one type that a workload enlists.
type WorkloadJobType struct {
	// BatchSize is the number of jobs enlisted on every run of the schedule.
	BatchSize int

	// FailRate is the probability in [0, 1] of a job failing.
	FailRate float64

	// JobType is the job type of enlisted jobs.
	JobType string

	// Requires is the name of the extension the job type's declaration needs
	// to bind. An empty value requires the queue backend.
	Requires string

	// Schedule is a cron spec on which batches are enlisted, like
	// `@every 2s`.
	Schedule string

	// WorkMax and WorkMin bound the random time each job takes.
	WorkMax time.Duration
	WorkMin time.Duration
}

// WorkloadJobTypesDefault are the job types a host's workload runs.
var WorkloadJobTypesDefault = []*WorkloadJobType{ //nolint:gochecknoglobals
	{BatchSize: 4, FailRate: 0.05, JobType: "build", Schedule: "@every 1s", WorkMax: 120 * time.Millisecond, WorkMin: 20 * time.Millisecond},
	{BatchSize: 1, FailRate: 0.1, JobType: "deploy", Schedule: "@every 2s", WorkMax: 400 * time.Millisecond, WorkMin: 100 * time.Millisecond},
	{BatchSize: 2, FailRate: 0, JobType: "index", Schedule: "@every 1s", WorkMax: 30 * time.Millisecond, WorkMin: 5 * time.Millisecond},
	{BatchSize: 3, FailRate: 0, JobType: "notify", Requires: "smtp", Schedule: "@every 1s", WorkMax: 10 * time.Millisecond, WorkMin: time.Millisecond},
	{BatchSize: 1, FailRate: 0.02, JobType: "report", Schedule: "@every 5s", WorkMax: time.Second, WorkMin: 250 * time.Millisecond},
}

// workloadArgs are the arguments of a single workload job. They double as River
// job args.
type workloadArgs struct {
	Fail         bool          `json:"fail"`
	JobType      string        `json:"job_type"`
	Seq          int64         `json:"seq"`
	WorkDuration time.Duration `json:"work_duration"`
}

func (workloadArgs) Kind() string { return "console_workload" }

func (a *workloadArgs) description() string {
	return fmt.Sprintf("%s #%d", a.JobType, a.Seq)
}

// Simulates work by sleeping for the job's duration.
func (a *workloadArgs) work(ctx context.Context) error {
	timer := time.NewTimer(a.WorkDuration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if a.Fail {
		return errWorkloadFailure
	}
	return nil
}

// workloadWorker works workload jobs inserted into River.
type workloadWorker struct {
	river.WorkerDefaults[workloadArgs]
}

func (w *workloadWorker) Work(ctx context.Context, job *river.Job[workloadArgs]) error {
	if err := job.Args.work(ctx); err != nil {
		if errors.Is(err, errWorkloadFailure) {
			return river.JobCancel(err)
		}
		return err
	}
	return nil
}

// workloadEnlister enlists batches of workload jobs into a queue backend.
type workloadEnlister interface {
	Enlist(ctx context.Context, batch []*workloadArgs) error
}

type memQueueEnlister struct {
	queue *memqueue.Queue
}

func (e *memQueueEnlister) Enlist(ctx context.Context, batch []*workloadArgs) error {
	for _, args := range batch {
		if err := e.queue.Enlist(ctx, &memqueue.Job{
			Description: args.description(),
			JobType:     args.JobType,
			Work:        func(ctx context.Context) (any, error) { return nil, args.work(ctx) },
		}); err != nil {
			return err
		}
	}

	return nil
}

type riverEnlister[TTx any] struct {
	client *river.Client[TTx]
}

func (e *riverEnlister[TTx]) Enlist(ctx context.Context, batch []*workloadArgs) error {
	insertParams := make([]river.InsertManyParams, len(batch))
	for i, args := range batch {
		insertParams[i] = river.InsertManyParams{Args: *args}
	}

	if _, err := e.client.InsertMany(ctx, insertParams); err != nil {
		return withMigrateHint(fmt.Errorf("error inserting workload jobs: %w", err))
	}

	return nil
}

// WorkloadConfig is configuration for Workload.
type WorkloadConfig struct {
	enlister workloadEnlister

	// JobTypes are the job types to enlist.
	JobTypes []*WorkloadJobType
}

func (c *WorkloadConfig) validate() error {
	if c.enlister == nil {
		return errors.New("enlister is required")
	}

	for _, jobType := range c.JobTypes {
		if jobType.BatchSize < 1 {
			return fmt.Errorf("BatchSize of job type %q must be at least 1", jobType.JobType)
		}
		if jobType.FailRate < 0 || jobType.FailRate > 1 {
			return fmt.Errorf("FailRate of job type %q must be between 0 and 1", jobType.JobType)
		}
		if jobType.WorkMax < jobType.WorkMin {
			return fmt.Errorf("WorkMax of job type %q cannot be less than WorkMin", jobType.JobType)
		}
	}

	return nil
}

// Test-only signals.
type workloadTestSignals struct {
	BatchEnlisted testsignal.TestSignal[string] // notifies with a job type when a batch has been enlisted
}

func (ts *workloadTestSignals) Init(tb testsignal.TestingTB) {
	ts.BatchEnlisted.Init(tb)
}

// Workload keeps a queue busy by enlisting batches of simulated jobs of each
// job type on that type's schedule, so that reports have something to show.
type Workload struct {
	baseservice.BaseService
	startstop.BaseStartStop

	// exported for test purposes
	TestSignals workloadTestSignals

	config    *WorkloadConfig
	schedules []cron.Schedule
	seq       atomic.Int64
}

var _ startstop.Service = &Workload{}

func NewWorkload(archetype *baseservice.Archetype, config *WorkloadConfig) (*Workload, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	schedules := make([]cron.Schedule, len(config.JobTypes))
	for i, jobType := range config.JobTypes {
		schedule, err := cron.ParseStandard(jobType.Schedule)
		if err != nil {
			return nil, fmt.Errorf("error parsing schedule of job type %q: %w", jobType.JobType, err)
		}
		schedules[i] = schedule
	}

	return baseservice.Init(archetype, &Workload{
		config:    config,
		schedules: schedules,
	}), nil
}

// Start seeds a batch of every job type before returning, then keeps
// enlisting on schedule in the background until stopped.
func (w *Workload) Start(ctx context.Context) error {
	ctx, shouldStart, started, stopped := w.StartInit(ctx)
	if !shouldStart {
		return nil
	}

	for _, jobType := range w.config.JobTypes {
		if err := w.enlistBatch(ctx, jobType); err != nil {
			stopped()
			w.Stop() // cancels the run context and allows a later start
			return err
		}
	}

	go func() {
		started()
		defer stopped() // this defer should come first so it's last out

		w.Logger.DebugContext(ctx, w.Name+": Run loop started", "num_job_types", len(w.config.JobTypes))
		defer w.Logger.DebugContext(ctx, w.Name+": Run loop stopped")

		errGroup, ctx := errgroup.WithContext(ctx)

		for i, jobType := range w.config.JobTypes {
			errGroup.Go(func() error {
				w.runSchedule(ctx, jobType, w.schedules[i])
				return nil
			})
		}

		_ = errGroup.Wait()
	}()

	return nil
}

func (w *Workload) runSchedule(ctx context.Context, jobType *WorkloadJobType, schedule cron.Schedule) {
	for {
		now := w.Clock.NowUTC()

		timer := time.NewTimer(schedule.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := w.enlistBatch(ctx, jobType); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, memqueue.ErrQueueStopped) {
				return
			}

			w.Logger.ErrorContext(ctx, w.Name+": Error enlisting batch", "err", err, "job_type", jobType.JobType)
		}
	}
}

func (w *Workload) enlistBatch(ctx context.Context, jobType *WorkloadJobType) error {
	batch := make([]*workloadArgs, jobType.BatchSize)
	for i := range batch {
		workDuration := jobType.WorkMin
		if spread := jobType.WorkMax - jobType.WorkMin; spread > 0 {
			workDuration += rand.N(spread)
		}

		batch[i] = &workloadArgs{
			Fail:         rand.Float64() < jobType.FailRate,
			JobType:      jobType.JobType,
			Seq:          w.seq.Add(1),
			WorkDuration: workDuration,
		}
	}

	if err := w.config.enlister.Enlist(ctx, batch); err != nil {
		return err
	}

	w.Logger.DebugContext(ctx, w.Name+": Enlisted batch", "job_type", jobType.JobType, "num_jobs", len(batch))
	w.TestSignals.BatchEnlisted.Signal(jobType.JobType)

	return nil
}
