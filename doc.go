/*
Package riverconsole is an administrative console over a job processing host.
It reports on the host's job queue and on the declarations the host has
registered.

# Queue performance

The centerpiece is the queue performance report. A Console attaches a fresh
set of aggregating listeners to a queue's event source, lets them observe the
event stream for the duration of a report, detaches them, and only then reads
their final state:

	console, err := riverconsole.NewConsole(&riverconsole.Config{
		EventSource:  proxy,
		QueueService: queue,
	})
	if err != nil {
		// handle error
	}

	report, err := console.QueuePerformance(ctx, &riverconsole.QueuePerformanceParams{
		Window: 5 * time.Second,
		Worst:  3,
	})
	if err != nil {
		// handle error
	}

	fmt.Printf("executed %d jobs\n", report.Summary.NumJobs)

A report contains three views of the same events:

  - A summary of execution and wait durations accumulated across every job.
  - The same statistics partitioned by job type.
  - The slowest jobs, ranked by execution duration.

No state persists between reports. An event source like queueproxy.Proxy,
which replays its recent history to newly attached listeners, lets a report
cover recent activity in addition to its live window.

# Medians

Medians are taken as the element at index (n+1)/2 of the ascending sorted
samples. For an even number of samples this is the upper middle element, and
for an odd number it's the element just past the middle. The selection is
kept stable so reports stay comparable over time.

# Queue info and declarations

QueueInfo reports point-in-time counters of the queue and the jobs still
waiting in it. Declarations and Declaration report on the components,
instances, and extensions registered with a declregistry.Registry.
*/
package riverconsole
