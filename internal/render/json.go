package render

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tidwall/sjson"

	"github.com/riverqueue/riverconsole"
	"github.com/riverqueue/riverconsole/consoletype"
	"github.com/riverqueue/riverconsole/declregistry"
)

// JSON renders reports as JSON documents, one per line. Durations are whole
// milliseconds and statistics without data are null.
type JSON struct {
	out io.Writer
}

// NewJSON returns a JSON renderer writing to out.
func NewJSON(out io.Writer) *JSON {
	return &JSON{out: out}
}

// QueuePerformance renders a queue performance report.
func (j *JSON) QueuePerformance(report *riverconsole.QueuePerformanceReport) error {
	doc := newJSONDoc()

	doc.setTimingStats("summary", &report.Summary)
	doc.set("window_ms", report.Window.Milliseconds())
	doc.set("partitions", []any{})

	for i, partition := range report.Partitions {
		path := fmt.Sprintf("partitions.%d", i)
		doc.set(path+".job_type", partition.JobType)
		doc.setTimingStats(path, &partition.TimingStats)
	}

	if report.Worst != nil {
		doc.set("worst_capacity", report.WorstCapacity)
		doc.set("worst", []any{})
		for i, info := range report.Worst {
			doc.setJobInfo(fmt.Sprintf("worst.%d", i), info, true)
		}
	}

	return j.write(doc)
}

// QueueInfo renders a queue info report.
func (j *JSON) QueueInfo(report *riverconsole.QueueInfoReport) error {
	doc := newJSONDoc()

	doc.set("num_executing", report.NumExecuting)
	doc.set("num_failed", report.NumFailed)
	doc.set("num_finished", report.NumFinished)
	doc.set("num_waiting", report.NumWaiting)

	if report.Waiters != nil {
		doc.set("waiters", []any{})
		for i, info := range report.Waiters {
			doc.setJobInfo(fmt.Sprintf("waiters.%d", i), info, false)
		}
	}

	return j.write(doc)
}

// Declarations renders a declarations report.
func (j *JSON) Declarations(report *riverconsole.DeclarationsReport) error {
	doc := newJSONDoc()

	doc.set("num_bound", report.NumBound)
	doc.set("num_unbound", report.NumUnbound)
	doc.set("declarations", []any{})

	for i, entry := range report.Entries {
		doc.setDeclaration(fmt.Sprintf("declarations.%d", i), entry, report.Details)
	}

	return j.write(doc)
}

// Declaration renders a report of declarations looked up by service ID.
func (j *JSON) Declaration(report *riverconsole.DeclarationReport) error {
	doc := newJSONDoc()

	doc.set("declarations", []any{})
	doc.set("missing_service_ids", []any{})

	var numFound int
	for _, result := range report.Results {
		if result.Entry == nil {
			doc.set("missing_service_ids.-1", result.ServiceID)
			continue
		}

		doc.setDeclaration(fmt.Sprintf("declarations.%d", numFound), result.Entry, true)
		numFound++
	}

	return j.write(doc)
}

func (j *JSON) write(doc *jsonDoc) error {
	if doc.err != nil {
		return fmt.Errorf("error building JSON report: %w", doc.err)
	}

	if _, err := j.out.Write(append(doc.data, '\n')); err != nil {
		return fmt.Errorf("error writing report: %w", err)
	}
	return nil
}

// Accumulates a JSON document through successive sets, retaining the first
// error so that callers only check once at the end.
type jsonDoc struct {
	data []byte
	err  error
}

func newJSONDoc() *jsonDoc {
	return &jsonDoc{data: []byte("{}")}
}

func (d *jsonDoc) set(path string, value any) {
	if d.err != nil {
		return
	}
	d.data, d.err = sjson.SetBytes(d.data, path, value)
}

// Sets a duration as milliseconds, or null for no data.
func (d *jsonDoc) setMillis(path string, duration *time.Duration) {
	if duration == nil {
		d.set(path, nil)
		return
	}
	d.set(path, duration.Milliseconds())
}

func (d *jsonDoc) setDurationStats(path string, stats *riverconsole.DurationStats) {
	d.setMillis(path+".average_ms", stats.Average)
	d.setMillis(path+".max_ms", stats.Max)
	d.setMillis(path+".median_ms", stats.Median)
	d.setMillis(path+".min_ms", stats.Min)
	d.set(path+".num_samples", stats.NumSamples)
	d.set(path+".total_ms", stats.Total.Milliseconds())
}

func (d *jsonDoc) setTimingStats(path string, stats *riverconsole.TimingStats) {
	d.setDurationStats(path+".execution", &stats.Execution)
	d.set(path+".num_jobs", stats.NumJobs)
	d.setDurationStats(path+".wait", &stats.Wait)
}

func (d *jsonDoc) setJobInfo(path string, info *consoletype.JobInfo, executed bool) {
	d.set(path+".description", info.Description)
	d.set(path+".enlisted_at", info.EnlistmentTime.UTC().Format(time.RFC3339Nano))
	if executed {
		d.set(path+".execution_ms", info.ExecutionDuration.Milliseconds())
	}
	d.set(path+".job_type", info.JobType)
	d.set(path+".wait_ms", info.WaitDuration.Milliseconds())
}

func (d *jsonDoc) setDeclaration(path string, entry *declregistry.Entry, verbose bool) {
	status := entry.Declaration.Status()

	d.set(path+".bound", status.Bound)
	d.set(path+".kind", string(entry.Declaration.Kind()))
	d.set(path+".message", status.Message)
	d.set(path+".owner_id", entry.Ref.OwnerID)
	d.set(path+".service_id", entry.Ref.ServiceID)

	if status.Err != nil {
		d.set(path+".errors", []any{})
		for err := status.Err; err != nil; err = errors.Unwrap(err) {
			d.set(path+".errors.-1", err.Error())
		}
	}

	d.set(path+".details", map[string]any{})
	for _, field := range entry.Declaration.Details(verbose) {
		fieldPath := path + ".details." + sjsonEscape(field.Name)
		if field.Property {
			fieldPath = path + ".configuration." + sjsonEscape(field.Name)
		}
		d.set(fieldPath, jsonValue(field.Value))
	}
}

// Falls back to a value's string representation for types that don't
// serialize, like functions and channels.
func jsonValue(value any) any {
	switch value.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return value
	case fmt.Stringer:
		return fmt.Sprint(value)
	}

	if _, err := sjson.Set("{}", "v", value); err != nil {
		return fmt.Sprint(value)
	}
	return value
}

// Escapes characters that sjson treats as path syntax.
func sjsonEscape(key string) string {
	escaped := make([]rune, 0, len(key))
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', ':', '!', '=', '<', '>', '%', '\\':
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, r)
	}
	return string(escaped)
}
