package render

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/riverqueue/riverconsole"
	"github.com/riverqueue/riverconsole/consoletype"
	"github.com/riverqueue/riverconsole/declregistry"
	"github.com/riverqueue/riverconsole/internal/util/ptrutil"
)

func msPtr(n int) *time.Duration { return ptrutil.Ptr(time.Duration(n) * time.Millisecond) }

var enlistedAt = time.Date(2024, 6, 1, 12, 30, 15, 42*int(time.Millisecond), time.UTC)

func sampleQueuePerformanceReport() *riverconsole.QueuePerformanceReport {
	return &riverconsole.QueuePerformanceReport{
		Partitions: []*riverconsole.PartitionReport{
			{
				JobType: "build",
				TimingStats: riverconsole.TimingStats{
					Execution: riverconsole.DurationStats{Average: msPtr(30), Max: msPtr(50), Median: msPtr(50), Min: msPtr(10), NumSamples: 3, Total: 90 * time.Millisecond},
					NumJobs:   3,
					Wait:      riverconsole.DurationStats{Average: msPtr(2), Max: msPtr(3), Median: msPtr(3), Min: msPtr(1), NumSamples: 3, Total: 6 * time.Millisecond},
				},
			},
		},
		Summary: riverconsole.TimingStats{
			Execution: riverconsole.DurationStats{Average: msPtr(1234), Median: msPtr(50), NumSamples: 3, Total: 1_234_567 * time.Millisecond},
			NumJobs:   3,
			Wait:      riverconsole.DurationStats{NumSamples: 0},
		},
		Window: 5 * time.Second,
		Worst: []*consoletype.JobInfo{
			{Description: "build #2", EnlistmentTime: enlistedAt, ExecutionDuration: 50 * time.Millisecond, JobType: "build", WaitDuration: 2 * time.Millisecond},
		},
		WorstCapacity: 1,
	}
}

func sampleDeclarationEntries() []*declregistry.Entry {
	return []*declregistry.Entry{
		{
			Declaration: &consoletype.InstanceDeclaration{
				Binding: consoletype.DeclarationStatus{
					Err:     fmt.Errorf("error resolving type: %w", errors.New("type deploy is not available")),
					Message: "Type not found",
				},
				ComponentName: "deploy",
				Configuration: map[string]any{"queue.name": "default", "workers": 10},
				InstanceName:  "deploy-1",
			},
			Ref: consoletype.ServiceRef{OwnerID: 3, ServiceID: 41},
		},
		{
			Declaration: &consoletype.TypeDeclaration{
				Binding:       consoletype.DeclarationStatus{Bound: true, Message: "Declaration bound"},
				ComponentName: "build",
				Public:        true,
				Requires:      "memqueue",
			},
			Ref: consoletype.ServiceRef{OwnerID: 3, ServiceID: 42},
		},
	}
}

func TestTextQueuePerformance(t *testing.T) {
	t.Parallel()

	t.Run("Report", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		require.NoError(t, NewText(&buf, &TextOptions{Location: time.UTC, NoColor: true}).QueuePerformance(sampleQueuePerformanceReport()))

		require.Equal(t, strings.Join([]string{
			bannerRule,
			" > Summary (globally accumulated times)",
			bannerRule,
			"Executed      3 jobs",
			"Total execution: 1,234,567 ms (avg:1234, med:  50)",
			"Total waiting  :      0 ms (avg:   -, med:   -)",
			"",
			bannerRule,
			" > Per job-type partitions",
			bannerRule,
			"build / 3 jobs",
			"  Total execution:     90 ms (min:  10, max:  50, avg:  30, med:  50)",
			"  Total waiting  :      6 ms (min:   1, max:   3, avg:   2, med:   3)",
			"",
			bannerRule,
			" > 1 worst jobs (most time consumers)",
			bannerRule,
			"  1 [build] build #2",
			"    Executed in 50 ms",
			"    Enlisted at 12:30:15 042 ms",
			"    Waited  for 2 ms",
			"",
		}, "\n"), buf.String())
	})

	t.Run("WorstOmitted", func(t *testing.T) {
		t.Parallel()

		report := sampleQueuePerformanceReport()
		report.Worst = nil

		var buf bytes.Buffer
		require.NoError(t, NewText(&buf, &TextOptions{NoColor: true}).QueuePerformance(report))
		require.NotContains(t, buf.String(), "worst jobs")
	})
}

func TestTextQueueInfo(t *testing.T) {
	t.Parallel()

	t.Run("Counters", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		require.NoError(t, NewText(&buf, &TextOptions{NoColor: true}).QueueInfo(&riverconsole.QueueInfoReport{
			NumExecuting: 2,
			NumFailed:    1,
			NumFinished:  12_345,
			NumWaiting:   0,
		}))

		require.Equal(t, strings.Join([]string{
			"Executing:      2 jobs",
			"Finished : 12,345 jobs (1 failed)",
			"Waiting  :      0 jobs",
			"",
		}, "\n"), buf.String())
	})

	t.Run("Waiters", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		require.NoError(t, NewText(&buf, &TextOptions{Location: time.UTC, NoColor: true}).QueueInfo(&riverconsole.QueueInfoReport{
			NumWaiting: 1,
			Waiters: []*consoletype.JobInfo{
				{Description: "deploy #7", EnlistmentTime: enlistedAt, JobType: "deploy", WaitDuration: 3 * time.Second},
			},
		}))

		require.Contains(t, buf.String(), strings.Join([]string{
			"1 jobs queued",
			"  1 deploy #7",
			"    Enlisted at 12:30:15 042 ms (3 seconds ago)",
			"    Waiting for 3000 ms",
			"",
		}, "\n"))
	})
}

func TestTextDeclarations(t *testing.T) {
	t.Parallel()

	t.Run("Table", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		require.NoError(t, NewText(&buf, &TextOptions{NoColor: true}).Declarations(&riverconsole.DeclarationsReport{
			Entries:    sampleDeclarationEntries()[:1],
			NumBound:   1,
			NumUnbound: 1,
		}))

		require.Equal(t, strings.Join([]string{
			"1 Declaration(s) are bound",
			"1 Declaration(s) are unbound",
			"Bnd |   ID |                 Type |  Status | Message",
			"3   | 41   |  InstanceDeclaration | UNBOUND | Type not found",
			"  *fmt.wrapError: error resolving type: type deploy is not available",
			"  Name            deploy-1",
			"  Component       deploy",
			"",
		}, "\n"), buf.String())
	})

	t.Run("NothingListed", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		require.NoError(t, NewText(&buf, &TextOptions{NoColor: true}).Declarations(&riverconsole.DeclarationsReport{NumBound: 4}))

		require.Equal(t, "4 Declaration(s) are bound\n0 Declaration(s) are unbound\n", buf.String())
	})

	t.Run("Details", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		require.NoError(t, NewText(&buf, &TextOptions{NoColor: true}).Declarations(&riverconsole.DeclarationsReport{
			Details:    true,
			Entries:    sampleDeclarationEntries(),
			NumBound:   1,
			NumUnbound: 1,
		}))

		out := buf.String()
		require.Contains(t, out, "Caused by  *errors.errorString: type deploy is not available\n")
		require.Contains(t, out, "  Configuration properties\n  * queue.name      default\n  * workers         10\n")
		require.Contains(t, out, "3   | 42   |      TypeDeclaration | BOUND | Declaration bound\n")
		require.Contains(t, out, "  Public          true\n  Requires        memqueue\n")
	})
}

func TestTextDeclaration(t *testing.T) {
	t.Parallel()

	entries := sampleDeclarationEntries()

	var buf bytes.Buffer
	require.NoError(t, NewText(&buf, &TextOptions{NoColor: true}).Declaration(&riverconsole.DeclarationReport{
		Results: []*riverconsole.DeclarationResult{
			{Entry: entries[1], ServiceID: 42},
			{ServiceID: 99},
		},
	}))

	require.Equal(t, strings.Join([]string{
		"Declaration 42 is BOUND",
		"  Implementation  TypeDeclaration",
		"  Message         Declaration bound",
		"  Status          BOUND",
		"  Name            build",
		"  Public          true",
		"  Requires        memqueue",
		"service ID 99 does not store a declaration",
		"",
	}, "\n"), buf.String())
}

func TestJSONQueuePerformance(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, NewJSON(&buf).QueuePerformance(sampleQueuePerformanceReport()))

	doc := buf.String()
	require.True(t, gjson.Valid(doc))

	require.Equal(t, int64(3), gjson.Get(doc, "summary.num_jobs").Int())
	require.Equal(t, int64(1_234_567), gjson.Get(doc, "summary.execution.total_ms").Int())
	require.Equal(t, int64(50), gjson.Get(doc, "summary.execution.median_ms").Int())
	require.Equal(t, gjson.Null, gjson.Get(doc, "summary.wait.average_ms").Type)
	require.Equal(t, int64(5000), gjson.Get(doc, "window_ms").Int())

	require.Equal(t, int64(1), gjson.Get(doc, "partitions.#").Int())
	require.Equal(t, "build", gjson.Get(doc, "partitions.0.job_type").String())
	require.Equal(t, int64(10), gjson.Get(doc, "partitions.0.execution.min_ms").Int())
	require.Equal(t, int64(3), gjson.Get(doc, "partitions.0.wait.max_ms").Int())

	require.Equal(t, int64(1), gjson.Get(doc, "worst_capacity").Int())
	require.Equal(t, int64(50), gjson.Get(doc, "worst.0.execution_ms").Int())
	require.Equal(t, "2024-06-01T12:30:15.042Z", gjson.Get(doc, "worst.0.enlisted_at").String())
}

func TestJSONQueueInfo(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, NewJSON(&buf).QueueInfo(&riverconsole.QueueInfoReport{
		NumExecuting: 1,
		NumFailed:    2,
		NumFinished:  3,
		NumWaiting:   1,
		Waiters: []*consoletype.JobInfo{
			{Description: "deploy #7", EnlistmentTime: enlistedAt, JobType: "deploy", WaitDuration: time.Second},
		},
	}))

	doc := buf.String()
	require.Equal(t, int64(2), gjson.Get(doc, "num_failed").Int())
	require.Equal(t, "deploy #7", gjson.Get(doc, "waiters.0.description").String())
	require.Equal(t, int64(1000), gjson.Get(doc, "waiters.0.wait_ms").Int())
	require.False(t, gjson.Get(doc, "waiters.0.execution_ms").Exists())
}

func TestJSONDeclarations(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, NewJSON(&buf).Declarations(&riverconsole.DeclarationsReport{
		Details:    true,
		Entries:    sampleDeclarationEntries(),
		NumBound:   1,
		NumUnbound: 1,
	}))

	doc := buf.String()
	require.Equal(t, int64(2), gjson.Get(doc, "declarations.#").Int())
	require.Equal(t, "InstanceDeclaration", gjson.Get(doc, "declarations.0.kind").String())
	require.False(t, gjson.Get(doc, "declarations.0.bound").Bool())
	require.Equal(t, []string{
		"error resolving type: type deploy is not available",
		"type deploy is not available",
	}, gjsonStrings(gjson.Get(doc, "declarations.0.errors")))
	require.Equal(t, "default", gjson.Get(doc, `declarations.0.configuration.queue\.name`).String())
	require.Equal(t, int64(10), gjson.Get(doc, "declarations.0.configuration.workers").Int())
	require.Equal(t, "deploy-1", gjson.Get(doc, "declarations.0.details.Name").String())
	require.True(t, gjson.Get(doc, "declarations.1.details.Public").Bool())
}

func TestJSONDeclaration(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, NewJSON(&buf).Declaration(&riverconsole.DeclarationReport{
		Results: []*riverconsole.DeclarationResult{
			{ServiceID: 7},
			{Entry: sampleDeclarationEntries()[1], ServiceID: 42},
			{ServiceID: 8},
		},
	}))

	doc := buf.String()
	require.Equal(t, int64(1), gjson.Get(doc, "declarations.#").Int())
	require.Equal(t, int64(42), gjson.Get(doc, "declarations.0.service_id").Int())
	require.Equal(t, "[7,8]", gjson.Get(doc, "missing_service_ids").Raw)
}

func TestJSONValue(t *testing.T) {
	t.Parallel()

	require.Equal(t, "x", jsonValue("x"))
	require.Equal(t, 3, jsonValue(3))
	require.Equal(t, "1s", jsonValue(time.Second))
	require.Equal(t, []int{1, 2}, jsonValue([]int{1, 2}))

	fn := func() {}
	require.IsType(t, "", jsonValue(fn))
}

func gjsonStrings(res gjson.Result) []string {
	var strs []string
	for _, item := range res.Array() {
		strs = append(strs, item.String())
	}
	return strs
}
