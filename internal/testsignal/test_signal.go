// Package testsignal lets services announce internal events, like a job
// finishing or an event being bridged, that tests wait on instead of
// sleeping.
package testsignal

import (
	"os"
	"time"
)

// TestingTB is the subset of testing.TB that signals report failures to.
type TestingTB interface {
	Errorf(format string, args ...any)
	Helper()
}

// signalBuffer is how many values an initialized signal holds before sends
// start failing the test.
const signalBuffer = 100

// TestSignal carries values from a service to a test. An uninitialized signal,
// which is what services see outside of tests, drops everything sent to it.
//
// Services group their signals in a struct with an Init method that tests
// invoke before starting the service.
type TestSignal[T any] struct {
	tb     TestingTB
	values chan T
}

// Init makes the signal buffer values for the given test.
func (s *TestSignal[T]) Init(tb TestingTB) {
	s.tb = tb
	s.values = make(chan T, signalBuffer)
}

// Signal sends a value to a waiting test. It never blocks.
func (s *TestSignal[T]) Signal(val T) {
	if s.values == nil {
		return
	}

	select {
	case s.values <- val:
	default:
		s.tb.Errorf("test signal buffer of %d values is full", signalBuffer)
	}
}

// RequireEmpty fails the test if a value was signaled but not waited on.
func (s *TestSignal[T]) RequireEmpty() {
	s.mustBeInitialized()
	s.tb.Helper()

	select {
	case val := <-s.values:
		s.tb.Errorf("expected test signal to be empty, but got value: %v", val)
	default:
	}
}

// WaitOrTimeout returns the next signaled value. If none arrives in time, the
// test fails and the zero value is returned.
func (s *TestSignal[T]) WaitOrTimeout() T {
	s.mustBeInitialized()
	s.tb.Helper()

	timeout := 3 * time.Second
	if os.Getenv("GITHUB_ACTIONS") == "true" {
		timeout = 10 * time.Second
	}

	select {
	case val := <-s.values:
		return val
	case <-time.After(timeout):
		s.tb.Errorf("timed out after %s waiting on test signal", timeout)
	}

	var zero T
	return zero
}

func (s *TestSignal[T]) mustBeInitialized() {
	if s.values == nil {
		panic("test signal wasn't initialized with Init")
	}
}
