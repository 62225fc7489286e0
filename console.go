package riverconsole

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/riverqueue/riverconsole/consoletype"
	"github.com/riverqueue/riverconsole/declregistry"
	"github.com/riverqueue/riverconsole/internal/baseservice"
	"github.com/riverqueue/riverconsole/internal/queueperf"
	"github.com/riverqueue/riverconsole/internal/util/valutil"
)

// WorstDefault is the default number of slowest jobs ranked by a queue
// performance report.
const WorstDefault = 5

// WorstNone can be set as QueuePerformanceParams.Worst to omit the ranking of
// slowest jobs.
const WorstNone = -1

// DeclarationStore is the read side of a declaration registry. It's
// implemented by *declregistry.Registry.
type DeclarationStore interface {
	// Get returns the declaration registered under the given service ID, or
	// false if there's none.
	Get(serviceID int64) (*declregistry.Entry, bool)

	// List returns every registered declaration ordered by service ID.
	List() *declregistry.ListResult
}

// Config is the configuration for a Console. Every source is optional, but an
// operation that needs a source that wasn't configured returns an error.
type Config struct {
	// Declarations is the store that declaration reports read from.
	Declarations DeclarationStore

	// EventSource is the source of job lifecycle events that queue
	// performance reports attach their aggregates to. For reports to include
	// recent history, use an event source that replays it on attach like
	// queueproxy.Proxy.
	EventSource consoletype.QueueEventSource

	// Logger is the structured logger to use for logging purposes. If none is
	// specified, logs will be emitted to STDOUT with messages at warn level
	// or higher.
	Logger *slog.Logger

	// QueueService provides the queue counters that queue info reports read.
	QueueService consoletype.QueueService
}

// Console produces reports over a job processing host.
type Console struct {
	baseservice.BaseService

	config *Config
}

// NewConsole returns a new console. A nil config gets a console with no
// sources, which is only useful in tests.
func NewConsole(config *Config) (*Console, error) {
	if config == nil {
		config = &Config{}
	}

	// Copy so that later changes to the caller's config don't affect us.
	config = &Config{
		Declarations: config.Declarations,
		EventSource:  config.EventSource,
		Logger: valutil.ValOrDefaultFunc(config.Logger, func() *slog.Logger {
			return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
		}),
		QueueService: config.QueueService,
	}

	return baseservice.Init(baseservice.NewArchetype(config.Logger), &Console{
		config: config,
	}), nil
}

//
// QueuePerformance
//

// QueuePerformanceParams are parameters for Console.QueuePerformance.
type QueuePerformanceParams struct {
	// FailOnCancel makes a report whose window is ended early by context
	// cancellation return the context's error along with its partial result.
	// By default cancellation only ends the window early.
	FailOnCancel bool

	// Window is how long aggregates stay attached to observe live events. A
	// zero window reports only on history the event source replays on
	// attach.
	Window time.Duration

	// Worst is the number of slowest jobs to rank. Defaults to WorstDefault.
	// Set to WorstNone to omit the ranking.
	Worst int
}

func (p *QueuePerformanceParams) validate() error {
	if p.Window < 0 {
		return errors.New("Window cannot be less than zero")
	}
	if p.Worst < WorstNone {
		return errors.New("Worst cannot be less than -1")
	}

	return nil
}

// DurationStats are statistics over one dimension of job durations. Fields
// with no data are nil.
type DurationStats struct {
	// Average is Total divided by the number of started jobs.
	Average *time.Duration

	// Max is the greatest sample.
	Max *time.Duration

	// Median is the element at sorted index (n+1)/2. See the package
	// documentation.
	Median *time.Duration

	// Min is the smallest sample.
	Min *time.Duration

	// NumSamples is the number of samples.
	NumSamples int

	// Total is the sum of all samples.
	Total time.Duration
}

// TimingStats are execution and wait statistics over a set of jobs.
type TimingStats struct {
	// Execution is statistics of how long jobs ran.
	Execution DurationStats

	// NumJobs is the number of jobs that started.
	NumJobs int

	// Wait is statistics of how long jobs were queued before starting.
	Wait DurationStats
}

// PartitionReport is statistics over the jobs of one job type.
type PartitionReport struct {
	TimingStats

	// JobType is the job type shared by every job in the partition.
	JobType string
}

// QueuePerformanceReport is the result of Console.QueuePerformance.
type QueuePerformanceReport struct {
	// Partitions is statistics per job type, ordered by job type.
	Partitions []*PartitionReport

	// Summary is statistics accumulated over every job.
	Summary TimingStats

	// Window is how long the report observed live events.
	Window time.Duration

	// Worst are the slowest jobs by execution duration, slowest first. Nil
	// if the ranking was omitted.
	Worst []*consoletype.JobInfo

	// WorstCapacity is the number of slowest jobs requested.
	WorstCapacity int
}

// QueuePerformance produces a report on the performance of the queue.
//
// The report's aggregates are attached to the event source for the length of
// the window and detached before any of them are read, so every event the
// report includes was fully applied. No state carries over between reports.
func (c *Console) QueuePerformance(ctx context.Context, params *QueuePerformanceParams) (*QueuePerformanceReport, error) {
	if c.config.EventSource == nil {
		return nil, ErrNoEventSource
	}

	if params == nil {
		params = &QueuePerformanceParams{}
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	worst := params.Worst
	if worst == 0 {
		worst = WorstDefault
	}

	var (
		accumulator = queueperf.NewAccumulator()
		partitioner = queueperf.NewPartitioner()
		worstFinder = queueperf.NewWorstJobsFinder(max(worst, 0))
	)

	detach := c.attach(accumulator, partitioner, worstFinder)
	defer detach()

	start := c.Clock.NowUTC()

	var windowErr error
	if params.Window > 0 {
		timer := time.NewTimer(params.Window)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			if params.FailOnCancel {
				windowErr = ctx.Err()
			}
		case <-timer.C:
		}
	}

	// Detach before reading so that the aggregates are quiescent.
	detach()

	report := &QueuePerformanceReport{
		Summary:       timingStatsFromInternal(accumulator.Stats()),
		Window:        params.Window,
		WorstCapacity: max(worst, 0),
	}

	for _, partition := range partitioner.Partitions() {
		report.Partitions = append(report.Partitions, &PartitionReport{
			TimingStats: timingStatsFromInternal(partition.TimingStats),
			JobType:     partition.JobType,
		})
	}

	if worst != WorstNone {
		report.Worst = worstFinder.Worsts()
	}

	c.Logger.DebugContext(ctx, c.Name+": Queue performance report produced",
		"elapsed", c.Clock.NowUTC().Sub(start),
		"num_jobs", report.Summary.NumJobs,
		"num_partitions", len(report.Partitions),
		"window", params.Window)

	return report, windowErr
}

// Attaches every listener to the event source as a single listener, so that
// all of them see exactly the same replayed and live events, and returns a
// function that detaches them. The returned function is safe to invoke more
// than once.
func (c *Console) attach(listeners ...consoletype.QueueListener) func() {
	return sync.OnceFunc(c.config.EventSource.AddQueueListener(fanOutListener(listeners)))
}

// Delivers each notification to every listener in order.
type fanOutListener []consoletype.QueueListener

func (l fanOutListener) OnEnlisted(info *consoletype.JobInfo) {
	for _, listener := range l {
		listener.OnEnlisted(info)
	}
}

func (l fanOutListener) OnStarted(info *consoletype.JobInfo) {
	for _, listener := range l {
		listener.OnStarted(info)
	}
}

func (l fanOutListener) OnCompleted(info *consoletype.JobInfo, outcome *consoletype.JobOutcome) {
	for _, listener := range l {
		listener.OnCompleted(info, outcome)
	}
}

func durationStatsFromInternal(stats queueperf.DurationStats) DurationStats {
	return DurationStats{
		Average:    stats.Average,
		Max:        stats.Max,
		Median:     stats.Median,
		Min:        stats.Min,
		NumSamples: stats.NumSamples,
		Total:      stats.Total,
	}
}

func timingStatsFromInternal(stats queueperf.TimingStats) TimingStats {
	return TimingStats{
		Execution: durationStatsFromInternal(stats.Execution),
		NumJobs:   stats.NumJobs,
		Wait:      durationStatsFromInternal(stats.Wait),
	}
}

//
// QueueInfo
//

// QueueInfoParams are parameters for Console.QueueInfo.
type QueueInfoParams struct {
	// Details includes every waiting job in the report.
	Details bool
}

// QueueInfoReport is the result of Console.QueueInfo.
type QueueInfoReport struct {
	NumExecuting int
	NumFailed    int64
	NumFinished  int64
	NumWaiting   int

	// Waiters are the jobs still waiting, ordered by enlistment. Only
	// populated with QueueInfoParams.Details.
	Waiters []*consoletype.JobInfo
}

// QueueInfo produces a report of the queue's current counters.
func (c *Console) QueueInfo(ctx context.Context, params *QueueInfoParams) (*QueueInfoReport, error) {
	if c.config.QueueService == nil {
		return nil, ErrNoQueueService
	}

	if params == nil {
		params = &QueueInfoParams{}
	}

	queue := c.config.QueueService

	report := &QueueInfoReport{
		NumExecuting: queue.NumExecuting(),
		NumFailed:    queue.NumFailed(),
		NumFinished:  queue.NumFinished(),
		NumWaiting:   queue.NumWaiting(),
	}

	if params.Details {
		report.Waiters = queue.WaitersInfo()
	}

	return report, nil
}

//
// Declarations
//

// DeclarationsParams are parameters for Console.Declarations.
type DeclarationsParams struct {
	// All includes bound declarations in the report. By default only unbound
	// declarations are listed since those are the ones that need attention.
	All bool

	// Details reports each declaration's verbose details.
	Details bool
}

// DeclarationsReport is the result of Console.Declarations.
type DeclarationsReport struct {
	// Details is true if entries should be described verbosely.
	Details bool

	// Entries are the listed declarations ordered by service ID.
	Entries []*declregistry.Entry

	NumBound   int
	NumUnbound int
}

// Declarations produces a report of registered declarations.
func (c *Console) Declarations(ctx context.Context, params *DeclarationsParams) (*DeclarationsReport, error) {
	if c.config.Declarations == nil {
		return nil, ErrNoDeclarations
	}

	if params == nil {
		params = &DeclarationsParams{}
	}

	res := c.config.Declarations.List()

	report := &DeclarationsReport{
		Details:    params.Details,
		Entries:    res.Entries,
		NumBound:   res.NumBound,
		NumUnbound: res.NumUnbound,
	}

	if !params.All {
		report.Entries = slices.DeleteFunc(slices.Clone(res.Entries), func(entry *declregistry.Entry) bool {
			return entry.Declaration.Status().Bound
		})
	}

	return report, nil
}

// DeclarationResult is the result of looking up one service ID.
type DeclarationResult struct {
	// Entry is the declaration found, or nil if the service ID doesn't store
	// one.
	Entry *declregistry.Entry

	// ServiceID is the service ID that was looked up.
	ServiceID int64
}

// DeclarationReport is the result of Console.Declaration.
type DeclarationReport struct {
	// Results are in the order the service IDs were requested.
	Results []*DeclarationResult
}

// Declaration looks up the declarations stored by the given service IDs. A
// service ID that doesn't store a declaration produces a result with a nil
// entry rather than an error.
func (c *Console) Declaration(ctx context.Context, serviceIDs []int64) (*DeclarationReport, error) {
	if c.config.Declarations == nil {
		return nil, ErrNoDeclarations
	}

	report := &DeclarationReport{Results: make([]*DeclarationResult, 0, len(serviceIDs))}
	for _, serviceID := range serviceIDs {
		result := &DeclarationResult{ServiceID: serviceID}
		if entry, ok := c.config.Declarations.Get(serviceID); ok {
			result.Entry = entry
		}
		report.Results = append(report.Results, result)
	}

	return report, nil
}
