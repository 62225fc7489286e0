// Package render renders console reports for people, as styled text, and for
// programs, as JSON.
package render

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/riverqueue/riverconsole"
	"github.com/riverqueue/riverconsole/consoletype"
	"github.com/riverqueue/riverconsole/declregistry"
)

const bannerRule = "------------------------------------------------------"

// TextOptions are options for NewText.
type TextOptions struct {
	// Location is the time zone enlistment times are shown in. Defaults to
	// time.Local.
	Location *time.Location

	// NoColor disables all styling. Styling is also disabled automatically
	// when the output isn't a terminal.
	NoColor bool
}

// Text renders reports as styled, human readable text.
type Text struct {
	location *time.Location
	out      io.Writer
	printer  *message.Printer

	bold    lipgloss.Style
	boldRed lipgloss.Style
	faint   lipgloss.Style
	green   lipgloss.Style
	red     lipgloss.Style
	yellow  lipgloss.Style
}

// NewText returns a text renderer writing to out.
func NewText(out io.Writer, opts *TextOptions) *Text {
	if opts == nil {
		opts = &TextOptions{}
	}

	var (
		renderer = lipgloss.NewRenderer(out)
		plain    = renderer.NewStyle()
	)

	text := &Text{
		location: opts.Location,
		out:      out,
		printer:  message.NewPrinter(language.English),

		bold:    plain,
		boldRed: plain,
		faint:   plain,
		green:   plain,
		red:     plain,
		yellow:  plain,
	}

	if text.location == nil {
		text.location = time.Local
	}

	if !opts.NoColor {
		text.bold = renderer.NewStyle().Bold(true)
		text.boldRed = renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
		text.faint = renderer.NewStyle().Faint(true)
		text.green = renderer.NewStyle().Foreground(lipgloss.Color("10"))
		text.red = renderer.NewStyle().Foreground(lipgloss.Color("9"))
		text.yellow = renderer.NewStyle().Foreground(lipgloss.Color("11"))
	}

	return text
}

// QueuePerformance renders a queue performance report.
func (t *Text) QueuePerformance(report *riverconsole.QueuePerformanceReport) error {
	var sb strings.Builder

	t.banner(&sb, "Summary (globally accumulated times)")

	summary := report.Summary
	t.printf(&sb, "Executed %s jobs\n", t.bold.Render(t.printer.Sprintf("%6d", summary.NumJobs)))
	t.printf(&sb, "Total execution: %s ms (avg:%4s, med:%4s)\n",
		t.bold.Render(t.printer.Sprintf("%6d", summary.Execution.Total.Milliseconds())),
		formatMillis(summary.Execution.Average),
		formatMillis(summary.Execution.Median))
	t.printf(&sb, "Total waiting  : %s ms (avg:%4s, med:%4s)\n",
		t.bold.Render(t.printer.Sprintf("%6d", summary.Wait.Total.Milliseconds())),
		formatMillis(summary.Wait.Average),
		formatMillis(summary.Wait.Median))
	sb.WriteString("\n")

	t.banner(&sb, "Per job-type partitions")

	for _, partition := range report.Partitions {
		t.printf(&sb, "%s / %d jobs\n", t.bold.Render(partition.JobType), partition.NumJobs)
		t.partitionLine(&sb, "Total execution", &partition.Execution)
		t.partitionLine(&sb, "Total waiting  ", &partition.Wait)
	}

	if report.Worst != nil {
		sb.WriteString("\n")

		t.banner(&sb, fmt.Sprintf("%d worst jobs (most time consumers)", report.WorstCapacity))

		for i, info := range report.Worst {
			t.printf(&sb, "%3d [%s] %s\n", i+1, t.bold.Render(info.JobType), info.Description)
			t.printf(&sb, "    Executed in %s ms\n", t.boldRed.Render(fmt.Sprint(info.ExecutionDuration.Milliseconds())))
			t.printf(&sb, "    Enlisted at %s\n", t.formatTime(info.EnlistmentTime))
			t.printf(&sb, "    Waited  for %d ms\n", info.WaitDuration.Milliseconds())
		}
	}

	return t.flush(&sb)
}

func (t *Text) partitionLine(sb *strings.Builder, label string, stats *riverconsole.DurationStats) {
	t.printf(sb, "  %s: %s ms (min:%4s, max:%4s, avg:%4s, med:%4s)\n",
		label,
		t.bold.Render(t.printer.Sprintf("%6d", stats.Total.Milliseconds())),
		formatMillis(stats.Min),
		formatMillis(stats.Max),
		formatMillis(stats.Average),
		formatMillis(stats.Median))
}

// QueueInfo renders a queue info report.
func (t *Text) QueueInfo(report *riverconsole.QueueInfoReport) error {
	var sb strings.Builder

	t.printf(&sb, "Executing: %s jobs\n", t.bold.Render(t.printer.Sprintf("%6d", report.NumExecuting)))
	t.printf(&sb, "Finished : %s jobs (%s failed)\n",
		t.bold.Render(t.printer.Sprintf("%6d", report.NumFinished)),
		t.printer.Sprintf("%d", report.NumFailed))
	t.printf(&sb, "Waiting  : %s jobs\n", t.bold.Render(t.printer.Sprintf("%6d", report.NumWaiting)))

	if len(report.Waiters) > 0 {
		t.printf(&sb, "%d jobs queued\n", len(report.Waiters))

		for i, info := range report.Waiters {
			t.printf(&sb, "%s %s\n", t.bold.Render(fmt.Sprintf("%3d", i+1)), info.Description)
			t.printf(&sb, "    Enlisted at %s (%s)\n",
				t.formatTime(info.EnlistmentTime),
				humanize.RelTime(info.EnlistmentTime, info.EnlistmentTime.Add(info.WaitDuration), "ago", "from now"))
			t.printf(&sb, "    Waiting for %d ms\n", info.WaitDuration.Milliseconds())
		}
	}

	return t.flush(&sb)
}

// Declarations renders a declarations report.
func (t *Text) Declarations(report *riverconsole.DeclarationsReport) error {
	var sb strings.Builder

	t.printf(&sb, "%s Declaration(s) are bound\n", t.green.Render(fmt.Sprint(report.NumBound)))
	t.printf(&sb, "%s Declaration(s) are unbound\n", t.yellow.Render(fmt.Sprint(report.NumUnbound)))

	if len(report.Entries) > 0 {
		sb.WriteString(t.bold.Render("Bnd |   ID |                 Type |  Status | Message"))
		sb.WriteString("\n")

		for _, entry := range report.Entries {
			status := entry.Declaration.Status()

			t.printf(&sb, "%-3d | %-4d | %20.20s | %s | %s\n",
				entry.Ref.OwnerID,
				entry.Ref.ServiceID,
				string(entry.Declaration.Kind()),
				t.status(status),
				status.Message)

			if status.Err != nil {
				t.errorLines(&sb, status.Err, report.Details)
			}
			t.details(&sb, entry.Declaration, report.Details)
		}
	}

	return t.flush(&sb)
}

// Declaration renders a report of declarations looked up by service ID. Every
// declaration is described verbosely.
func (t *Text) Declaration(report *riverconsole.DeclarationReport) error {
	var sb strings.Builder

	for _, result := range report.Results {
		if result.Entry == nil {
			sb.WriteString(t.boldRed.Render(fmt.Sprintf("service ID %d does not store a declaration", result.ServiceID)))
			sb.WriteString("\n")
			continue
		}

		t.declaration(&sb, result.Entry)
	}

	return t.flush(&sb)
}

func (t *Text) declaration(sb *strings.Builder, entry *declregistry.Entry) {
	status := entry.Declaration.Status()

	t.printf(sb, "Declaration %d is %s\n", entry.Ref.ServiceID, t.status(status))
	t.printf(sb, "  %-15s %s\n", "Implementation", entry.Declaration.Kind())
	t.printf(sb, "  %-15s %s\n", "Message", status.Message)
	t.printf(sb, "  %-15s %s\n", "Status", t.status(status))

	t.details(sb, entry.Declaration, true)

	if status.Err != nil {
		t.errorLines(sb, status.Err, true)
	}
}

func (t *Text) details(sb *strings.Builder, decl consoletype.Declaration, verbose bool) {
	var printedPropertiesHeader bool

	for _, field := range decl.Details(verbose) {
		if field.Property {
			if !printedPropertiesHeader {
				sb.WriteString("  Configuration properties\n")
				printedPropertiesHeader = true
			}

			t.printf(sb, "  * %-15s %s\n", field.Name, t.faint.Render(spew.Sprint(field.Value)))
			continue
		}

		t.printf(sb, "  %-15s %s\n", field.Name, t.faint.Render(fmt.Sprint(field.Value)))
	}
}

// Prints an error, and when verbose, every error it wraps.
func (t *Text) errorLines(sb *strings.Builder, err error, verbose bool) {
	t.printf(sb, "  %s: %s\n", t.boldRed.Render(fmt.Sprintf("%T", err)), err.Error())

	if !verbose {
		return
	}

	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		t.printf(sb, "%s  %s: %s\n", t.bold.Render("Caused by"), t.boldRed.Render(fmt.Sprintf("%T", cause)), cause.Error())
	}
}

func (t *Text) banner(sb *strings.Builder, title string) {
	sb.WriteString(t.bold.Render(bannerRule))
	sb.WriteString("\n")
	sb.WriteString(t.bold.Render(" > " + title))
	sb.WriteString("\n")
	sb.WriteString(t.bold.Render(bannerRule))
	sb.WriteString("\n")
}

func (t *Text) status(status consoletype.DeclarationStatus) string {
	if status.Bound {
		return t.green.Render("BOUND")
	}
	return t.red.Render("UNBOUND")
}

// Formats an enlistment time as wall clock time followed by milliseconds.
func (t *Text) formatTime(tm time.Time) string {
	tm = tm.In(t.location)
	return fmt.Sprintf("%s %03d ms", tm.Format(time.TimeOnly), tm.Nanosecond()/int(time.Millisecond))
}

func (t *Text) printf(sb *strings.Builder, format string, args ...any) {
	fmt.Fprintf(sb, format, args...)
}

func (t *Text) flush(sb *strings.Builder) error {
	if _, err := io.WriteString(t.out, sb.String()); err != nil {
		return fmt.Errorf("error writing report: %w", err)
	}
	return nil
}

// Formats a duration as whole milliseconds, or a dash if there's no data.
func formatMillis(d *time.Duration) string {
	if d == nil {
		return "-"
	}
	return fmt.Sprint(d.Milliseconds())
}
