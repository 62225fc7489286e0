// Package slogtest provides loggers that write through a test's log, so that
// output from services under test is attributed to the right test and only
// shown on failure or with `-test.v`.
package slogtest

import (
	"bytes"
	"log/slog"
	"testing"
)

// NewLogger returns a text logger writing each record to tb.Log.
func NewLogger(tb testing.TB, opts *slog.HandlerOptions) *slog.Logger {
	tb.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{tb: tb}, opts))
}

// A text handler emits every record in a single Write and serializes writes
// across the handlers derived from it.
type testLogWriter struct {
	tb testing.TB
}

func (w *testLogWriter) Write(record []byte) (int, error) {
	w.tb.Helper()

	// t.Log adds its own newline.
	w.tb.Log(string(bytes.TrimSuffix(record, []byte("\n"))))

	return len(record), nil
}
