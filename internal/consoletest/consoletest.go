// Package consoletest contains shared helpers for tests across packages.
package consoletest

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/riverqueue/riverconsole/internal/baseservice"
	"github.com/riverqueue/riverconsole/internal/slogtest"
)

// BaseServiceArchetype returns an archetype for services under test. Its clock
// can be stubbed, and each call gets its own clock.
func BaseServiceArchetype(tb testing.TB) *baseservice.Archetype {
	tb.Helper()

	return &baseservice.Archetype{
		Clock:  &ClockStub{},
		Logger: Logger(tb),
	}
}

// Logger returns a logger suitable for use in tests.
//
// Defaults to informational verbosity. If env is set with
// `RIVERCONSOLE_DEBUG=true`, debug level verbosity is activated.
func Logger(tb testing.TB) *slog.Logger {
	tb.Helper()

	if os.Getenv("RIVERCONSOLE_DEBUG") == "1" || os.Getenv("RIVERCONSOLE_DEBUG") == "true" {
		return slogtest.NewLogger(tb, &slog.HandlerOptions{Level: slog.LevelDebug})
	}

	return slogtest.NewLogger(tb, nil)
}

// LoggerWarn returns a logger suitable for use in tests which outputs only at
// warn or above. Useful in tests where particularly noisy output is expected.
func LoggerWarn(tb testing.TB) *slog.Logger {
	tb.Helper()
	return slogtest.NewLogger(tb, &slog.HandlerOptions{Level: slog.LevelWarn})
}

// ClockStub is a baseservice.ClockWithStub reading the system's time until a
// test stubs it. Stubbing is safe while services are reading the clock.
type ClockStub struct {
	mu     sync.RWMutex
	nowUTC *time.Time
}

func (c *ClockStub) NowUTC() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.nowUTC == nil {
		return time.Now().UTC()
	}

	return *c.nowUTC
}

func (c *ClockStub) StubNowUTC(nowUTC time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nowUTC = &nowUTC
	return nowUTC
}

// WaitOrTimeout waits for a value on the given channel and returns it, failing
// the test if none arrives within WaitTimeout.
func WaitOrTimeout[T any](tb testing.TB, waitChan <-chan T) T {
	tb.Helper()

	timeout := WaitTimeout()

	select {
	case value := <-waitChan:
		return value
	case <-time.After(timeout):
		require.FailNowf(tb, "WaitOrTimeout timed out",
			"WaitOrTimeout timed out after waiting %s", timeout)
	}
	return *new(T) // unreachable
}

// WaitTimeout returns how long a test should wait on an expected event. CI
// runners get more time.
func WaitTimeout() time.Duration {
	if os.Getenv("GITHUB_ACTIONS") == "true" {
		return 10 * time.Second
	}

	return 3 * time.Second
}

var IgnoredKnownGoroutineLeaks = []goleak.Option{ //nolint:gochecknoglobals
	// Health check goroutines of a pgx pool may still be asleep when a suite
	// finishes.
	goleak.IgnoreTopFunction("github.com/jackc/pgx/v5/pgxpool.(*Pool).backgroundHealthCheck"),
	goleak.IgnoreAnyFunction("github.com/jackc/pgx/v5/pgxpool.(*Pool).triggerHealthCheck.func1"),

	goleak.IgnoreAnyFunction("database/sql.(*DB).connectionOpener"),
}

// WrapTestMain runs a package's tests, then fails the run if any goroutines
// were leaked by an otherwise successful suite.
func WrapTestMain(m *testing.M) {
	status := m.Run()

	if status == 0 {
		if err := goleak.Find(IgnoredKnownGoroutineLeaks...); err != nil {
			fmt.Fprintf(os.Stderr, "goleak: Errors on successful test run: %v\n", err)
			status = 1
		}
	}

	os.Exit(status)
}
