// Package startstop provides a base for services that run in the background
// between a Start and a Stop, like the in-memory queue's dispatcher or the
// River event bridge.
package startstop

import (
	"context"
	"errors"
	"sync"
)

// ErrStop is the cause of a service context's cancellation when the service
// is being stopped, as opposed to the caller's context being cancelled.
var ErrStop = errors.New("service stopped")

// Service is a service that runs between Start and Stop.
type Service interface {
	// Start starts the service and returns once it's running in the
	// background. An error is returned if the service couldn't start.
	Start(ctx context.Context) error

	// Started returns a channel closed once the service has started, or has
	// stopped without starting successfully.
	Started() <-chan struct{}

	// Stop stops the service and returns once it's fully stopped. Stopping a
	// service that was never started, or stopping it twice, is a no-op.
	Stop()
}

// BaseStartStop is embedded on a service to implement Service without races.
// The service's Start invokes StartInit and runs its loop in a goroutine which
// defers the returned stopped func. Stop is provided.
type BaseStartStop struct {
	cancelFunc context.CancelCauseFunc
	mu         sync.Mutex
	started    chan struct{}
	stopped    chan struct{}
}

// StartInit is invoked first thing in a service's Start. It returns the
// context the service should run with, whether the service should start (it's
// false when the service is already running), and funcs to signal the service
// as started and as stopped:
//
//	func (s *Service) Start(ctx context.Context) error {
//	    ctx, shouldStart, started, stopped := s.StartInit(ctx)
//	    if !shouldStart {
//	        return nil
//	    }
//
//	    go func() {
//	        started()
//	        defer stopped()
//
//	        <-ctx.Done()
//	    }()
//
//	    return nil
//	}
//
// A Start that fails must invoke stopped before returning its error, or a later
// Stop blocks forever.
func (s *BaseStartStop) StartInit(ctx context.Context) (context.Context, bool, func(), func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started != nil {
		return ctx, false, nil, nil
	}

	s.started = make(chan struct{})
	s.stopped = make(chan struct{})
	ctx, s.cancelFunc = context.WithCancelCause(ctx)

	signalStarted := sync.OnceFunc(func() { close(s.started) })

	return ctx, true, signalStarted, func() {
		// Release anyone waiting on a start that never happened.
		signalStarted()
		close(s.stopped)
	}
}

// Started returns a channel closed once the service has started. It's nil
// before Start is invoked.
func (s *BaseStartStop) Started() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.started
}

// Stop cancels the service's context with ErrStop and waits for its loop to
// signal stopped. Afterwards the service may be started again.
func (s *BaseStartStop) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped == nil {
		return
	}

	s.cancelFunc(ErrStop)
	<-s.stopped

	s.started = nil
	s.stopped = nil
}

// Stopped returns a channel closed once the service has stopped. It's only
// safe to invoke after Start has returned, and a reference must be taken
// before invoking Stop since Stop resets it.
func (s *BaseStartStop) Stopped() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stopped
}
