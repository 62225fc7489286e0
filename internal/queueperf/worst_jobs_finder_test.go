package queueperf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riverqueue/riverconsole/consoletype"
)

func executionDurations(infos []*consoletype.JobInfo) []int {
	durations := make([]int, len(infos))
	for i, info := range infos {
		durations[i] = int(info.ExecutionDuration.Milliseconds())
	}
	return durations
}

func TestWorstJobsFinder(t *testing.T) {
	t.Parallel()

	complete := func(finder *WorstJobsFinder, jobType string, execution, wait int) {
		finder.OnCompleted(jobInfo(jobType, execution, wait), &consoletype.JobOutcome{})
	}

	t.Run("NegativeCapacityPanics", func(t *testing.T) {
		t.Parallel()

		require.PanicsWithValue(t, "WorstJobsFinder capacity must be greater or equal to 0", func() {
			NewWorstJobsFinder(-1)
		})
	})

	t.Run("ZeroCapacityRetainsNothing", func(t *testing.T) {
		t.Parallel()

		finder := NewWorstJobsFinder(0)
		for _, execution := range []int{10, 20, 30} {
			complete(finder, "build", execution, 0)
		}

		require.Empty(t, finder.Worsts())
		require.Zero(t, finder.Capacity())
	})

	t.Run("FewerThanCapacity", func(t *testing.T) {
		t.Parallel()

		finder := NewWorstJobsFinder(5)
		complete(finder, "build", 10, 0)
		complete(finder, "build", 30, 0)

		require.Equal(t, []int{30, 10}, executionDurations(finder.Worsts()))
	})

	t.Run("RetainsGreatest", func(t *testing.T) {
		t.Parallel()

		finder := NewWorstJobsFinder(3)
		executions := []int{5, 80, 12, 7, 99, 1, 40, 80, 3}
		for _, execution := range executions {
			complete(finder, "build", execution, 0)
		}

		worsts := finder.Worsts()
		require.Len(t, worsts, 3)
		require.Equal(t, []int{99, 80, 80}, executionDurations(worsts))

		// Every retained job dominates every rejected one.
		for _, execution := range []int{5, 12, 7, 1, 40, 3} {
			for _, worst := range worsts {
				require.GreaterOrEqual(t, worst.ExecutionDuration, ms(execution))
			}
		}
	})

	t.Run("EqualToMinimumIsRejected", func(t *testing.T) {
		t.Parallel()

		finder := NewWorstJobsFinder(2)
		complete(finder, "build", 10, 0)
		complete(finder, "build", 20, 0)
		complete(finder, "deploy", 10, 50)

		worsts := finder.Worsts()
		require.Equal(t, []int{20, 10}, executionDurations(worsts))
		require.Equal(t, "build", worsts[1].JobType)
	})

	t.Run("EvictsExactlyOneMinimum", func(t *testing.T) {
		t.Parallel()

		finder := NewWorstJobsFinder(3)
		complete(finder, "build", 10, 0)
		complete(finder, "build", 10, 0)
		complete(finder, "build", 30, 0)
		complete(finder, "deploy", 20, 0)

		require.Equal(t, []int{30, 20, 10}, executionDurations(finder.Worsts()))
	})

	t.Run("RankTieBrokenByWait", func(t *testing.T) {
		t.Parallel()

		finder := NewWorstJobsFinder(3)
		complete(finder, "a", 50, 1)
		complete(finder, "b", 50, 9)
		complete(finder, "c", 70, 0)

		worsts := finder.Worsts()
		require.Equal(t, []string{"c", "b", "a"}, []string{worsts[0].JobType, worsts[1].JobType, worsts[2].JobType})
	})

	t.Run("IgnoresOtherTransitions", func(t *testing.T) {
		t.Parallel()

		finder := NewWorstJobsFinder(3)
		finder.OnEnlisted(jobInfo("build", 10, 0))
		finder.OnStarted(jobInfo("build", 10, 0))

		require.Empty(t, finder.Worsts())
	})

	t.Run("WorstsReturnsCopy", func(t *testing.T) {
		t.Parallel()

		finder := NewWorstJobsFinder(2)
		complete(finder, "build", 10, 0)

		worsts := finder.Worsts()
		worsts[0] = nil

		require.NotNil(t, finder.Worsts()[0])
	})
}

func TestCompareWorst(t *testing.T) {
	t.Parallel()

	require.Negative(t, compareWorst(jobInfo("a", 20, 0), jobInfo("b", 10, 0)))
	require.Positive(t, compareWorst(jobInfo("a", 10, 0), jobInfo("b", 20, 0)))
	require.Negative(t, compareWorst(jobInfo("a", 10, 5), jobInfo("b", 10, 1)))
	require.Zero(t, compareWorst(jobInfo("a", 10, 5), jobInfo("b", 10, 5)))
}
