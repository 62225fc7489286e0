// Package consoletype stores the primitives shared between the console, the
// job queues it observes, and the declaration registry it reads from. They live
// in their own package so queues and registries can implement the console's
// interfaces without importing the console itself.
package consoletype

import (
	"time"
)

// JobInfo is an immutable, point-in-time snapshot of one unit of queued work.
//
// Queues produce a fresh JobInfo for every lifecycle transition and listeners
// must treat it as read-only. A snapshot delivered when a job is started has
// no ExecutionDuration yet, while one delivered on completion has every field
// populated.
type JobInfo struct {
	// Description is a human readable description of the job, like the name
	// of the function or component it'll invoke.
	Description string

	// EnlistmentTime is when the job was submitted to its queue.
	EnlistmentTime time.Time

	// ExecutionDuration is how long the job spent running. It's zero until
	// the job has either completed or failed.
	ExecutionDuration time.Duration

	// JobType is the category label of the job which reports use to
	// partition statistics. It's compared case-sensitively.
	JobType string

	// WaitDuration is how long the job spent queued before it started
	// running, or how long it's been waiting so far if it hasn't started.
	WaitDuration time.Duration
}

// JobOutcome is the result of a job that has ended.
type JobOutcome struct {
	// Err is the error that made the job fail. Nil for a job that completed
	// successfully.
	Err error

	// Result is the value a successful job returned, if any.
	Result any
}

// Failed returns true if the job ended with an error.
func (o *JobOutcome) Failed() bool { return o != nil && o.Err != nil }

// QueueListener receives job lifecycle transitions from a queue.
//
// Notifications are delivered synchronously on the goroutine that made the
// transition, which will often be one of several concurrent workers, so
// implementations must be safe for concurrent use and should return quickly.
// Implementations must never call back into the event source that's
// notifying them to add or remove listeners.
type QueueListener interface {
	// OnEnlisted is invoked when a job is submitted to the queue.
	OnEnlisted(info *JobInfo)

	// OnStarted is invoked when a job leaves the queue and starts running.
	// WaitDuration is populated.
	OnStarted(info *JobInfo)

	// OnCompleted is invoked when a job ends, whether successfully or not.
	// Both WaitDuration and ExecutionDuration are populated.
	OnCompleted(info *JobInfo, outcome *JobOutcome)
}

// QueueListenerDefaults is an embeddable struct that provides no-op
// implementations for every QueueListener function so that listeners only need
// to implement the transitions they're interested in.
type QueueListenerDefaults struct{}

func (QueueListenerDefaults) OnEnlisted(info *JobInfo)                       {}
func (QueueListenerDefaults) OnStarted(info *JobInfo)                        {}
func (QueueListenerDefaults) OnCompleted(info *JobInfo, outcome *JobOutcome) {}

// QueueEventSource is a source of job lifecycle events that listeners can be
// attached to.
type QueueEventSource interface {
	// AddQueueListener attaches a listener and returns a function that
	// removes it again. The remove function is safe to invoke more than once,
	// and once it returns the listener is guaranteed to receive no further
	// notifications.
	AddQueueListener(listener QueueListener) (remove func())
}

// QueueService exposes point-in-time counters of a job queue.
type QueueService interface {
	// NumExecuting is the number of jobs currently running.
	NumExecuting() int

	// NumFailed is the number of jobs that ended with an error since the
	// queue started.
	NumFailed() int64

	// NumFinished is the number of jobs that ended, successfully or not,
	// since the queue started.
	NumFinished() int64

	// NumWaiting is the number of jobs that are enlisted but not yet started.
	NumWaiting() int

	// WaitersInfo returns snapshots of every job still waiting, ordered by
	// enlistment time. WaitDuration holds how long each has waited so far.
	WaitersInfo() []*JobInfo
}
