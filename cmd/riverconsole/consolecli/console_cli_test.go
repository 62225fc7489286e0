package consolecli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/riverqueue/riverconsole"
	"github.com/riverqueue/riverconsole/internal/consoletest"
)

func TestMain(m *testing.M) {
	consoletest.WrapTestMain(m)
}

func TestCLI(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	type testBundle struct {
		env map[string]string
		in  *strings.Reader
		out *bytes.Buffer
	}

	setup := func(t *testing.T) (*CLI, *testBundle) {
		t.Helper()

		bundle := &testBundle{
			env: map[string]string{"NO_COLOR": "1"},
			in:  strings.NewReader(""),
			out: &bytes.Buffer{},
		}

		return &CLI{
			getenv: func(key string) string { return bundle.env[key] },
			in:     bundle.in,
			out:    bundle.out,
		}, bundle
	}

	execute := func(t *testing.T, cli *CLI, args ...string) error {
		t.Helper()

		rootCmd := cli.BaseCommandSet()
		rootCmd.SetArgs(args)
		return rootCmd.ExecuteContext(ctx)
	}

	t.Run("QueuePerformanceJSON", func(t *testing.T) {
		t.Parallel()

		cli, bundle := setup(t)

		// Seeded build and index jobs take at most 120 ms, so they've all
		// finished by the end of the warmup.
		require.NoError(t, execute(t, cli, "queue-performance", "--json", "--warmup", "500ms", "--worst", "3"))

		report := gjson.Parse(bundle.out.String())
		require.GreaterOrEqual(t, report.Get("summary.num_jobs").Int(), int64(6))
		require.Equal(t, "build", report.Get("partitions.0.job_type").String())
		require.Equal(t, int64(3), report.Get("worst_capacity").Int())
		require.LessOrEqual(t, len(report.Get("worst").Array()), 3)

		for _, partition := range report.Get("partitions").Array() {
			require.NotEqual(t, "notify", partition.Get("job_type").String())
		}
	})

	t.Run("QueuePerformanceText", func(t *testing.T) {
		t.Parallel()

		cli, bundle := setup(t)

		require.NoError(t, execute(t, cli, "queue-performance", "--warmup", "200ms", "-w", "0"))

		out := bundle.out.String()
		require.Contains(t, out, "Executed")
		require.NotContains(t, out, "\x1b[")
	})

	t.Run("QueuePerformanceInvalidOpts", func(t *testing.T) {
		t.Parallel()

		cli, _ := setup(t)

		require.EqualError(t, execute(t, cli, "queue-performance", "--warmup", "0s", "--window=-1s"), "window cannot be less than zero")
		require.EqualError(t, execute(t, cli, "queue-performance", "--warmup=-1s"), "warmup cannot be less than zero")
	})

	t.Run("QueueInfoJSON", func(t *testing.T) {
		t.Parallel()

		cli, bundle := setup(t)

		require.NoError(t, execute(t, cli, "queue-info", "--json", "--details", "--warmup", "0s"))

		report := gjson.Parse(bundle.out.String())
		require.True(t, report.Get("num_executing").Exists())
		require.True(t, report.Get("num_finished").Exists())
		require.True(t, report.Get("waiters").IsArray())
	})

	t.Run("DeclarationsAllJSON", func(t *testing.T) {
		t.Parallel()

		cli, bundle := setup(t)

		require.NoError(t, execute(t, cli, "declarations", "--all", "--json", "--warmup", "0s"))

		report := gjson.Parse(bundle.out.String())
		require.Equal(t, int64(10), report.Get("num_bound").Int())
		require.Equal(t, int64(2), report.Get("num_unbound").Int())
		require.Len(t, report.Get("declarations").Array(), 12)
	})

	t.Run("DeclarationsUnboundText", func(t *testing.T) {
		t.Parallel()

		cli, bundle := setup(t)

		require.NoError(t, execute(t, cli, "declarations", "--warmup", "0s"))

		out := bundle.out.String()
		require.Contains(t, out, "10 Declaration(s) are bound\n")
		require.Contains(t, out, "2 Declaration(s) are unbound\n")
		require.Contains(t, out, "Missing extension smtp")
	})

	t.Run("Declaration", func(t *testing.T) {
		t.Parallel()

		cli, bundle := setup(t)

		require.NoError(t, execute(t, cli, "declaration", "9", "--warmup", "0s"))

		out := bundle.out.String()
		require.Contains(t, out, "Declaration 9 is UNBOUND\n")
		require.Contains(t, out, `*consolecli.MissingExtensionError: extension "smtp" is not registered`)
	})

	t.Run("DeclarationMissing", func(t *testing.T) {
		t.Parallel()

		cli, bundle := setup(t)

		require.ErrorIs(t, execute(t, cli, "declaration", "1", "999", "--warmup", "0s"), ErrUnsuccessful)

		out := bundle.out.String()
		require.Contains(t, out, "Declaration 1 is BOUND\n")
		require.Contains(t, out, "service ID 999 does not store a declaration\n")
	})

	t.Run("DeclarationInvalidServiceID", func(t *testing.T) {
		t.Parallel()

		cli, _ := setup(t)

		err := execute(t, cli, "declaration", "abc", "--warmup", "0s")
		require.ErrorContains(t, err, `invalid service ID "abc"`)
	})

	t.Run("UnsupportedDatabaseURL", func(t *testing.T) {
		t.Parallel()

		cli, _ := setup(t)

		err := execute(t, cli, "queue-info", "--database-url", "mysql://localhost/db")
		require.ErrorContains(t, err, "unsupported database URL")
	})

	t.Run("Shell", func(t *testing.T) {
		t.Parallel()

		cli, bundle := setup(t)

		cli.in = strings.NewReader(strings.Join([]string{
			"declarations --all",
			"",
			"bogus",
			"declaration 999",
			"queue-info",
			"exit",
			"declarations",
		}, "\n"))

		require.NoError(t, execute(t, cli, "shell", "--warmup", "0s"))

		out := bundle.out.String()
		require.Equal(t, 6, strings.Count(out, shellPrompt))
		require.Contains(t, out, "10 Declaration(s) are bound\n")
		require.Contains(t, out, `failed: unknown command "bogus"`)
		require.Contains(t, out, "service ID 999 does not store a declaration\n")
		require.NotContains(t, out, "failed: command unsuccessful")
		require.Contains(t, out, "Executing:")

		// Lines after exit aren't run, so unbound declarations are only listed
		// by the first command.
		require.Equal(t, 1, strings.Count(out, "Declaration(s) are unbound"))
	})

	t.Run("ShellEndOfInput", func(t *testing.T) {
		t.Parallel()

		cli, bundle := setup(t)

		cli.in = strings.NewReader("declarations")

		require.NoError(t, execute(t, cli, "shell", "--warmup", "0s"))
		require.Equal(t, 2, strings.Count(bundle.out.String(), shellPrompt))
	})

	t.Run("ShellFlagsDontCarryOver", func(t *testing.T) {
		t.Parallel()

		cli, bundle := setup(t)

		cli.in = strings.NewReader("declarations --all --json\ndeclarations --json\n")

		require.NoError(t, execute(t, cli, "shell", "--warmup", "0s"))

		var reports []gjson.Result
		for _, line := range strings.Split(bundle.out.String(), "\n") {
			line = strings.TrimPrefix(line, shellPrompt)
			if strings.HasPrefix(line, "{") {
				reports = append(reports, gjson.Parse(line))
			}
		}

		require.Len(t, reports, 2)
		require.Len(t, reports[0].Get("declarations").Array(), 12)
		require.Len(t, reports[1].Get("declarations").Array(), 2)
	})
}

func TestDeclarationOpts(t *testing.T) {
	t.Parallel()

	require.EqualError(t, (&declarationOpts{}).Validate(), "at least one service ID is required")
	require.NoError(t, (&declarationOpts{ServiceIDs: []int64{1}}).Validate())
}

func TestQueuePerformanceOpts(t *testing.T) {
	t.Parallel()

	require.NoError(t, (&queuePerformanceOpts{Worst: riverconsole.WorstDefault}).Validate())
	require.NoError(t, (&queuePerformanceOpts{Window: time.Second}).Validate())
	require.EqualError(t, (&queuePerformanceOpts{Window: -time.Second}).Validate(), "window cannot be less than zero")
	require.EqualError(t, (&queuePerformanceOpts{Worst: -1}).Validate(), "worst cannot be less than zero")
}
