// Package consolecli provides an implementation for the console CLI.
//
// This package is largely for internal use and doesn't provide the same API
// guarantees as the main console modules. Breaking API changes will be made
// without warning.
package consolecli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/riverqueue/riverconsole"
)

// Renderer renders console reports.
type Renderer interface {
	Declaration(report *riverconsole.DeclarationReport) error
	Declarations(report *riverconsole.DeclarationsReport) error
	QueueInfo(report *riverconsole.QueueInfoReport) error
	QueuePerformance(report *riverconsole.QueuePerformanceReport) error
}

// CLI provides a common base of commands for the console CLI.
type CLI struct {
	getenv func(key string) string
	in     io.Reader
	out    io.Writer
}

func NewCLI() *CLI {
	return &CLI{
		getenv: os.Getenv,
		in:     os.Stdin,
		out:    os.Stdout,
	}
}

// BaseCommandSet provides the console CLI command set.
func (c *CLI) BaseCommandSet() *cobra.Command {
	var (
		hostOpts HostOpts
		rootOpts struct {
			Debug   bool
			Verbose bool
		}
	)

	rootCmd := &cobra.Command{
		Use:   "riverconsole",
		Short: "Provides an administrative console over a job queue",
		Long: strings.TrimSpace(`
Provides an administrative console over a job queue. A host is started with a
queue and a simulated workload, then inspected with report commands.

The queue is in memory by default. Pass --database-url to run it on River
instead, with a Postgres or SQLite database.
		`),
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Usage()
		},
	}
	rootCmd.PersistentFlags().BoolVar(&rootOpts.Debug, "debug", false, "output maximum logging verbosity (debug level)")
	rootCmd.PersistentFlags().BoolVarP(&rootOpts.Verbose, "verbose", "v", false, "output additional logging verbosity (info level)")
	rootCmd.MarkFlagsMutuallyExclusive("debug", "verbose")

	rootCmd.PersistentFlags().StringVar(&hostOpts.DatabaseURL, "database-url", "", "URL of a River database (should look like `postgres://...` or `sqlite://...`); defaults to an in-memory queue")
	rootCmd.PersistentFlags().IntVar(&hostOpts.History, "history", 0, "number of job events kept for replay to reports (-1 to disable)")
	rootCmd.PersistentFlags().DurationVar(&hostOpts.Warmup, "warmup", WarmupDefault, "time the workload runs before a command, accepting Go-style durations like 500ms, 5s")
	rootCmd.PersistentFlags().IntVar(&hostOpts.Workers, "workers", 0, "number of concurrent job workers")

	// Logs go to stderr so they never interleave with reports, which may be
	// JSON.
	makeLogger := func() *slog.Logger {
		switch {
		case rootOpts.Debug:
			return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelDebug}))
		case rootOpts.Verbose:
			return slog.New(tint.NewHandler(os.Stderr, nil))
		default:
			return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelWarn}))
		}
	}

	makeCommandBundle := func() *RunCommandBundle {
		return &RunCommandBundle{
			HostOpts:        &hostOpts,
			Logger:          makeLogger(),
			NoColor:         c.getenv("NO_COLOR") != "",
			OutStd:          c.out,
			PGEnvConfigured: c.pgEnvConfigured(),
		}
	}

	addReportCommands(rootCmd, makeCommandBundle)

	// shell
	{
		var opts shellOpts

		cmd := &cobra.Command{
			Use:   "shell",
			Short: "Run console commands interactively",
			Long: strings.TrimSpace(`
Start a host and keep it running while reading console commands from stdin, one
per line. Every report command is available, with the same flags as on the
command line:

    riverconsole> queue-performance --worst 3
    riverconsole> declarations --all

Reports of the shell see the workload's jobs accumulate between commands. Exit
with "exit", "quit", or end of input (Ctrl^D).
	`),
			RunE: func(cmd *cobra.Command, args []string) error {
				bundle := makeCommandBundle()
				return RunCommand(cmd.Context(), bundle, &shell{in: c.in, makeCommandBundle: makeCommandBundle}, &opts)
			},
		}
		rootCmd.AddCommand(cmd)
	}

	return rootCmd
}

// Determines if there's a minimum number of `PG*` env vars configured to
// consider that configurable path viable. A `--database-url` parameter will
// take precedence.
func (c *CLI) pgEnvConfigured() bool {
	return c.getenv("PGDATABASE") != ""
}

// Adds every report command to rootCmd. It's used both for the command line
// and for each line of the shell, so that a shell line accepts the same
// commands and flags.
func addReportCommands(rootCmd *cobra.Command, makeCommandBundle func() *RunCommandBundle) {
	// declaration
	{
		var opts declarationOpts

		cmd := &cobra.Command{
			Use:   "declaration <service-id>...",
			Short: "Show declarations by service ID",
			Long: strings.TrimSpace(`
Show everything known about the declarations with the given service IDs,
including configuration properties of instances and the full chain of causes of
any binding failure.

Exits with a non-zero status if any service ID doesn't store a declaration.
	`),
			Args: cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				opts.ServiceIDs = nil
				for _, arg := range args {
					serviceID, err := strconv.ParseInt(arg, 10, 64)
					if err != nil {
						return fmt.Errorf("invalid service ID %q: %w", arg, err)
					}
					opts.ServiceIDs = append(opts.ServiceIDs, serviceID)
				}

				return RunCommand(cmd.Context(), makeCommandBundle(), &declaration{}, &opts)
			},
		}
		cmd.Flags().BoolVar(&opts.JSON, "json", false, "output the report as JSON")
		rootCmd.AddCommand(cmd)
	}

	// declarations
	{
		var opts declarationsOpts

		cmd := &cobra.Command{
			Use:   "declarations",
			Short: "List declarations",
			Long: strings.TrimSpace(`
Show the number of bound and unbound declarations and list unbound ones, which
are those that can't currently serve. Use --all to list bound declarations as
well, and --details to include the details of each.
	`),
			RunE: func(cmd *cobra.Command, args []string) error {
				return RunCommand(cmd.Context(), makeCommandBundle(), &declarations{}, &opts)
			},
		}
		cmd.Flags().BoolVarP(&opts.All, "all", "a", false, "list bound declarations as well as unbound ones")
		cmd.Flags().BoolVarP(&opts.Details, "details", "d", false, "include the details of each declaration")
		cmd.Flags().BoolVar(&opts.JSON, "json", false, "output the report as JSON")
		rootCmd.AddCommand(cmd)
	}

	// queue-info
	{
		var opts queueInfoOpts

		cmd := &cobra.Command{
			Use:   "queue-info",
			Short: "Show job queue counters",
			Long: strings.TrimSpace(`
Show the number of jobs executing, finished, and waiting in the job queue. With
--details, every waiting job is listed along with how long it's been waiting.
	`),
			RunE: func(cmd *cobra.Command, args []string) error {
				return RunCommand(cmd.Context(), makeCommandBundle(), &queueInfo{}, &opts)
			},
		}
		cmd.Flags().BoolVarP(&opts.Details, "details", "d", false, "list waiting jobs")
		cmd.Flags().BoolVar(&opts.JSON, "json", false, "output the report as JSON")
		rootCmd.AddCommand(cmd)
	}

	// queue-performance
	{
		var opts queuePerformanceOpts

		cmd := &cobra.Command{
			Use:   "queue-performance",
			Short: "Show job queue performance statistics",
			Long: strings.TrimSpace(`
Show execution and wait time statistics of the jobs that went through the job
queue, in total and for each job type, along with the slowest jobs.

Statistics cover the queue's recent history. Use --window to also observe live
jobs for a time, which takes a Go-style duration string like 5s. --worst sets
how many of the slowest jobs are listed, with 0 to list none.
	`),
			RunE: func(cmd *cobra.Command, args []string) error {
				return RunCommand(cmd.Context(), makeCommandBundle(), &queuePerformance{}, &opts)
			},
		}
		cmd.Flags().BoolVar(&opts.JSON, "json", false, "output the report as JSON")
		cmd.Flags().DurationVar(&opts.Window, "window", 0, "time to observe live jobs in addition to history")
		cmd.Flags().IntVarP(&opts.Worst, "worst", "w", riverconsole.WorstDefault, "number of slowest jobs to list")
		rootCmd.AddCommand(cmd)
	}
}

type declarationOpts struct {
	JSON       bool
	ServiceIDs []int64
}

func (o *declarationOpts) Validate() error {
	if len(o.ServiceIDs) < 1 {
		return errors.New("at least one service ID is required")
	}

	return nil
}

type declaration struct {
	CommandBase
}

func (c *declaration) Run(ctx context.Context, opts *declarationOpts) (bool, error) {
	report, err := c.Host.Console.Declaration(ctx, opts.ServiceIDs)
	if err != nil {
		return false, err
	}

	if err := c.Renderer(opts.JSON).Declaration(report); err != nil {
		return false, err
	}

	for _, result := range report.Results {
		if result.Entry == nil {
			return false, nil
		}
	}

	return true, nil
}

type declarationsOpts struct {
	All     bool
	Details bool
	JSON    bool
}

func (o *declarationsOpts) Validate() error { return nil }

type declarations struct {
	CommandBase
}

func (c *declarations) Run(ctx context.Context, opts *declarationsOpts) (bool, error) {
	report, err := c.Host.Console.Declarations(ctx, &riverconsole.DeclarationsParams{
		All:     opts.All,
		Details: opts.Details,
	})
	if err != nil {
		return false, err
	}

	if err := c.Renderer(opts.JSON).Declarations(report); err != nil {
		return false, err
	}

	return true, nil
}

type queueInfoOpts struct {
	Details bool
	JSON    bool
}

func (o *queueInfoOpts) Validate() error { return nil }

type queueInfo struct {
	CommandBase
}

func (c *queueInfo) Run(ctx context.Context, opts *queueInfoOpts) (bool, error) {
	if err := c.Host.Refresh(ctx); err != nil {
		return false, err
	}

	report, err := c.Host.Console.QueueInfo(ctx, &riverconsole.QueueInfoParams{
		Details: opts.Details,
	})
	if err != nil {
		return false, err
	}

	if err := c.Renderer(opts.JSON).QueueInfo(report); err != nil {
		return false, err
	}

	return true, nil
}

type queuePerformanceOpts struct {
	JSON   bool
	Window time.Duration
	Worst  int
}

func (o *queuePerformanceOpts) Validate() error {
	if o.Window < 0 {
		return errors.New("window cannot be less than zero")
	}
	if o.Worst < 0 {
		return errors.New("worst cannot be less than zero")
	}

	return nil
}

type queuePerformance struct {
	CommandBase
}

func (c *queuePerformance) Run(ctx context.Context, opts *queuePerformanceOpts) (bool, error) {
	// On the command line, zero means no ranking rather than the default.
	worst := opts.Worst
	if worst == 0 {
		worst = riverconsole.WorstNone
	}

	report, err := c.Host.Console.QueuePerformance(ctx, &riverconsole.QueuePerformanceParams{
		Window: opts.Window,
		Worst:  worst,
	})
	if err != nil {
		return false, err
	}

	if err := c.Renderer(opts.JSON).QueuePerformance(report); err != nil {
		return false, err
	}

	return true, nil
}

const shellPrompt = "riverconsole> "

type shellOpts struct{}

func (o *shellOpts) Validate() error { return nil }

type shell struct {
	CommandBase

	in                io.Reader
	makeCommandBundle func() *RunCommandBundle
}

func (c *shell) Run(ctx context.Context, opts *shellOpts) (bool, error) {
	scanner := bufio.NewScanner(c.in)

	for {
		fmt.Fprint(c.Out, shellPrompt)

		if !scanner.Scan() {
			fmt.Fprintln(c.Out)
			return true, scanner.Err()
		}

		args := strings.Fields(scanner.Text())
		if len(args) < 1 {
			continue
		}

		switch args[0] {
		case "exit", "quit":
			return true, nil
		}

		if err := c.runLine(ctx, args); err != nil && !errors.Is(err, ErrUnsuccessful) {
			fmt.Fprintf(c.Out, "failed: %s\n", err)
		}

		if ctx.Err() != nil {
			return true, nil
		}
	}
}

// Runs a single shell line as a report command against the shell's host.
// Every line gets a fresh command set so that flags don't carry over from one
// line to the next.
func (c *shell) runLine(ctx context.Context, args []string) error {
	lineCmd := &cobra.Command{
		Use:           "",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	lineCmd.SetArgs(args)
	lineCmd.SetErr(c.Out)
	lineCmd.SetIn(c.in)
	lineCmd.SetOut(c.Out)

	addReportCommands(lineCmd, func() *RunCommandBundle {
		bundle := c.makeCommandBundle()
		bundle.Host = c.Host
		bundle.OutStd = c.Out
		return bundle
	})

	return lineCmd.ExecuteContext(ctx)
}
