// Package riverbridge feeds the events of a River client into a queue
// listener, so that the console can report on jobs worked by River.
//
// River only reports on jobs once they've been worked, so for each worked job
// the bridge notifies both a start and a completion back to back. Wait and
// execution durations are taken from River's own job statistics.
package riverbridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/tidwall/gjson"

	"github.com/riverqueue/riverconsole/consoletype"
	"github.com/riverqueue/riverconsole/internal/baseservice"
	"github.com/riverqueue/riverconsole/internal/startstop"
	"github.com/riverqueue/riverconsole/internal/testsignal"
	"github.com/riverqueue/riverconsole/internal/util/valutil"
)

// ChanSizeDefault is the default size of the bridge's subscription channel.
// River drops events that would overflow it.
const ChanSizeDefault = 1_000

// JobTypeArg is the encoded args field that DefaultJobType reads a job type
// from.
const JobTypeArg = "job_type"

// Subscriber is a source of River events. It's implemented by *river.Client.
type Subscriber interface {
	SubscribeConfig(config *river.SubscribeConfig) (<-chan *river.Event, func())
}

// Config is configuration for Bridge.
type Config struct {
	// ChanSize is the size of the subscription channel. Defaults to
	// ChanSizeDefault.
	ChanSize int

	// JobTypeFunc extracts a job type from a job row. Defaults to
	// DefaultJobType.
	JobTypeFunc func(job *rivertype.JobRow) string

	// Listener is notified of every worked job. Required.
	Listener consoletype.QueueListener

	// Subscriber is the source of River events, usually a *river.Client.
	// Required.
	Subscriber Subscriber
}

func (c *Config) validate() error {
	if c.ChanSize < 0 {
		return errors.New("ChanSize cannot be less than zero")
	}
	if c.Listener == nil {
		return errors.New("Listener is required")
	}
	if c.Subscriber == nil {
		return errors.New("Subscriber is required")
	}

	return nil
}

// DefaultJobType is the job type of a job whose args carry a string job_type
// field, and otherwise the job's kind.
func DefaultJobType(job *rivertype.JobRow) string {
	if jobType := gjson.GetBytes(job.EncodedArgs, JobTypeArg); jobType.Type == gjson.String && jobType.Str != "" {
		return jobType.Str
	}

	return job.Kind
}

// Test-only signals.
type bridgeTestSignals struct {
	EventBridged testsignal.TestSignal[*consoletype.JobInfo] // notifies when an event has been passed to the listener
}

func (ts *bridgeTestSignals) Init(tb testsignal.TestingTB) {
	ts.EventBridged.Init(tb)
}

// Bridge subscribes to a River client's job events and passes them on to a
// queue listener. The listener is notified from the bridge's own goroutine.
type Bridge struct {
	baseservice.BaseService
	startstop.BaseStartStop

	// exported for test purposes
	TestSignals bridgeTestSignals

	config *Config

	numBridged atomic.Int64
	numFailed  atomic.Int64
	numSkipped atomic.Int64
}

var _ startstop.Service = &Bridge{}

// New returns a new bridge. It doesn't subscribe until it's started.
func New(archetype *baseservice.Archetype, config *Config) (*Bridge, error) {
	if config == nil {
		config = &Config{}
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	config = &Config{
		ChanSize:    valutil.ValOrDefault(config.ChanSize, ChanSizeDefault),
		JobTypeFunc: config.JobTypeFunc,
		Listener:    config.Listener,
		Subscriber:  config.Subscriber,
	}

	if config.JobTypeFunc == nil {
		config.JobTypeFunc = DefaultJobType
	}

	return baseservice.Init(archetype, &Bridge{
		config: config,
	}), nil
}

func (b *Bridge) Start(ctx context.Context) error {
	ctx, shouldStart, started, stopped := b.StartInit(ctx)
	if !shouldStart {
		return nil
	}

	// Subscribe before returning so that no event after Start is missed.
	subscribeChan, cancelSubscribe := b.config.Subscriber.SubscribeConfig(&river.SubscribeConfig{
		ChanSize: b.config.ChanSize,
		Kinds: []river.EventKind{
			river.EventKindJobCancelled,
			river.EventKindJobCompleted,
			river.EventKindJobFailed,
		},
	})

	go func() {
		started()
		defer stopped() // this defer should come first so it's last out
		defer cancelSubscribe()

		b.Logger.DebugContext(ctx, b.Name+": Run loop started")
		defer func() {
			b.Logger.DebugContext(ctx, b.Name+": Run loop stopped",
				"num_bridged", b.numBridged.Load(), "num_skipped", b.numSkipped.Load())
		}()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-subscribeChan:
				if !ok {
					// The client stopped and closed its subscriptions.
					return
				}

				b.bridgeEvent(ctx, event)
			}
		}
	}()

	return nil
}

// NumBridged returns the number of events passed to the listener.
func (b *Bridge) NumBridged() int64 { return b.numBridged.Load() }

// NumFailed returns the number of bridged events for jobs that didn't
// complete successfully.
func (b *Bridge) NumFailed() int64 { return b.numFailed.Load() }

func (b *Bridge) bridgeEvent(ctx context.Context, event *river.Event) {
	if event.Job == nil || event.JobStats == nil {
		b.numSkipped.Add(1)
		return
	}

	var (
		job  = event.Job
		info = &consoletype.JobInfo{
			Description:    fmt.Sprintf("%s #%d on queue %s", job.Kind, job.ID, job.Queue),
			EnlistmentTime: job.ScheduledAt,
			JobType:        b.config.JobTypeFunc(job),
			WaitDuration:   event.JobStats.QueueWaitDuration,
		}
	)

	b.config.Listener.OnStarted(info)

	completed := *info
	completed.ExecutionDuration = event.JobStats.RunDuration

	outcome := &consoletype.JobOutcome{}
	if event.Kind != river.EventKindJobCompleted {
		outcome.Err = jobError(event.Kind, job)
		b.numFailed.Add(1)

		b.Logger.DebugContext(ctx, b.Name+": Bridged unsuccessful job",
			"err", outcome.Err, "job_id", job.ID, "kind", job.Kind, "state", job.State)
	}

	b.config.Listener.OnCompleted(&completed, outcome)

	b.numBridged.Add(1)
	b.TestSignals.EventBridged.Signal(&completed)
}

// Produces an error describing why a job didn't complete, preferring the
// error recorded by its latest attempt.
func jobError(kind river.EventKind, job *rivertype.JobRow) error {
	if len(job.Errors) > 0 {
		lastErr := job.Errors[len(job.Errors)-1]
		return fmt.Errorf("attempt %d: %s", lastErr.Attempt, lastErr.Error)
	}

	return fmt.Errorf("job %s in state %s", kind, job.State)
}
