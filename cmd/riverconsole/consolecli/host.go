package consolecli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/riverdriver/riversqlite"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/riverqueue/riverconsole"
	"github.com/riverqueue/riverconsole/consoletype"
	"github.com/riverqueue/riverconsole/declregistry"
	"github.com/riverqueue/riverconsole/internal/baseservice"
	"github.com/riverqueue/riverconsole/internal/util/valutil"
	"github.com/riverqueue/riverconsole/memqueue"
	"github.com/riverqueue/riverconsole/queueproxy"
	"github.com/riverqueue/riverconsole/riverbridge"
)

const (
	BackendMemory   = "memqueue"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// WarmupDefault is the default time a host runs its workload before the first
// command.
const WarmupDefault = 2 * time.Second

const clientStopTimeout = 10 * time.Second

// HostOpts are options for starting a host.
type HostOpts struct {
	// DatabaseURL selects a River backend, like `postgres://...` or
	// `sqlite://:memory:`. An in-memory queue is used if empty.
	DatabaseURL string

	// History is the number of events kept for replay to reports. Zero is the
	// proxy's default and -1 disables history.
	History int

	// Warmup is how long the workload runs before a command is executed.
	Warmup time.Duration

	// Workers is the number of concurrent workers.
	Workers int
}

func (o *HostOpts) Validate() error {
	if o.History < queueproxy.HistoryDisabled {
		return errors.New("history cannot be less than -1")
	}
	if o.Warmup < 0 {
		return errors.New("warmup cannot be less than zero")
	}
	if o.Workers < 0 {
		return errors.New("workers cannot be less than zero")
	}

	return nil
}

// Host is a running queue with a workload, a declaration registry, and a
// console reporting on both.
type Host struct {
	Backend  string
	Console  *riverconsole.Console
	Proxy    *queueproxy.Proxy
	Registry *declregistry.Registry

	archetype    *baseservice.Archetype
	queueService consoletype.QueueService
	refreshFunc  func(ctx context.Context) error
	stopFuncs    []func()
	workload     *Workload
}

// Parses a database URL into a backend and the part of the URL a driver
// should be opened with. Postgres drivers take the full URL.
func backendFromURL(databaseURL string, pgEnvConfigured bool) (string, string, error) {
	if databaseURL == "" {
		if pgEnvConfigured {
			return BackendPostgres, "", nil
		}
		return BackendMemory, "", nil
	}

	protocol, urlWithoutProtocol, ok := strings.Cut(databaseURL, "://")
	if !ok {
		return "", "", fmt.Errorf("expected database URL (`%s`) to be formatted like `postgres://...`", databaseURL)
	}

	switch protocol {
	case "postgres", "postgresql":
		return BackendPostgres, databaseURL, nil
	case "sqlite":
		return BackendSQLite, urlWithoutProtocol, nil
	}

	return "", "", fmt.Errorf("unsupported database URL (`%s`); try one with a `postgres://`, `postgresql://`, or `sqlite://` scheme/prefix", databaseURL)
}

// StartHost starts a host with the backend selected by opts, starts its
// workload, and waits out the warmup. The returned host must be stopped.
func StartHost(ctx context.Context, logger *slog.Logger, opts *HostOpts, pgEnvConfigured bool) (*Host, error) {
	backend, driverURL, err := backendFromURL(opts.DatabaseURL, pgEnvConfigured)
	if err != nil {
		return nil, err
	}

	archetype := baseservice.NewArchetype(logger)

	proxy, err := queueproxy.New(archetype, &queueproxy.Config{HistorySize: opts.History})
	if err != nil {
		return nil, err
	}

	host := &Host{
		Backend:   backend,
		Proxy:     proxy,
		Registry:  declregistry.New(archetype),
		archetype: archetype,
	}

	if err := host.start(ctx, opts, driverURL); err != nil {
		host.Stop()
		return nil, err
	}

	return host, nil
}

func (h *Host) start(ctx context.Context, opts *HostOpts, driverURL string) error {
	var (
		enlister workloadEnlister
		err      error
	)

	switch h.Backend {
	case BackendMemory:
		enlister, err = h.startMemQueue(ctx, opts)

	case BackendPostgres:
		dbPool, err := openPgxV5DBPool(ctx, driverURL)
		if err != nil {
			return err
		}
		h.stopFuncs = append(h.stopFuncs, dbPool.Close)

		enlister, err = startRiver(ctx, h, riverpgxv5.New(dbPool), opts)
		if err != nil {
			return err
		}

	case BackendSQLite:
		dbPool, err := openSQLitePool(BackendSQLite, driverURL)
		if err != nil {
			return err
		}
		h.stopFuncs = append(h.stopFuncs, func() { _ = dbPool.Close() })

		driver := riversqlite.New(dbPool)

		migrator, err := rivermigrate.New(driver, &rivermigrate.Config{Logger: h.archetype.Logger})
		if err != nil {
			return err
		}
		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			return fmt.Errorf("error migrating SQLite database: %w", err)
		}

		enlister, err = startRiver(ctx, h, driver, opts)
		if err != nil {
			return err
		}
	}
	if err != nil {
		return err
	}

	jobTypes := bindDeclarations(h.Registry, h.Backend, WorkloadJobTypesDefault)

	h.Console, err = riverconsole.NewConsole(&riverconsole.Config{
		Declarations: h.Registry,
		EventSource:  h.Proxy,
		Logger:       h.archetype.Logger,
		QueueService: h.queueService,
	})
	if err != nil {
		return err
	}

	h.workload, err = NewWorkload(h.archetype, &WorkloadConfig{
		enlister: enlister,
		JobTypes: jobTypes,
	})
	if err != nil {
		return err
	}
	if err := h.workload.Start(ctx); err != nil {
		return err
	}
	h.stopFuncs = append(h.stopFuncs, h.workload.Stop)

	h.archetype.Logger.InfoContext(ctx, "Host started",
		"backend", h.Backend, "num_job_types", len(jobTypes), "warmup", opts.Warmup)

	if opts.Warmup > 0 {
		timer := time.NewTimer(opts.Warmup)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return nil
}

func (h *Host) startMemQueue(ctx context.Context, opts *HostOpts) (workloadEnlister, error) {
	queue, err := memqueue.New(h.archetype, &memqueue.Config{
		Listener:   h.Proxy,
		MaxWorkers: opts.Workers,
	})
	if err != nil {
		return nil, err
	}

	if err := queue.Start(ctx); err != nil {
		return nil, err
	}
	h.stopFuncs = append(h.stopFuncs, queue.Stop)

	h.queueService = queue

	return &memQueueEnlister{queue: queue}, nil
}

// Starts a River client on driver, bridging its events into the host's proxy.
func startRiver[TTx any](ctx context.Context, h *Host, driver riverdriver.Driver[TTx], opts *HostOpts) (workloadEnlister, error) {
	workers := river.NewWorkers()
	river.AddWorker(workers, &workloadWorker{})

	client, err := river.NewClient(driver, &river.Config{
		FetchCooldown:     20 * time.Millisecond,
		FetchPollInterval: 50 * time.Millisecond,
		Logger:            h.archetype.Logger,
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: valutil.ValOrDefault(opts.Workers, memqueue.MaxWorkersDefault)},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, err
	}

	bridge, err := riverbridge.New(h.archetype, &riverbridge.Config{
		Listener:   h.Proxy,
		Subscriber: client,
	})
	if err != nil {
		return nil, err
	}

	// Subscribe before the client starts working jobs.
	if err := bridge.Start(ctx); err != nil {
		return nil, err
	}
	h.stopFuncs = append(h.stopFuncs, bridge.Stop)

	if err := client.Start(ctx); err != nil {
		return nil, withMigrateHint(fmt.Errorf("error starting River client: %w", err))
	}
	h.stopFuncs = append(h.stopFuncs, func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clientStopTimeout)
		defer cancel()

		if err := client.Stop(ctx); err != nil {
			h.archetype.Logger.WarnContext(ctx, "Error stopping River client", "err", err)
		}
	})

	queueService := riverbridge.NewQueueService(h.archetype, bridge, client)
	h.queueService = queueService
	h.refreshFunc = queueService.Refresh

	return &riverEnlister[TTx]{client: client}, nil
}

// Refresh brings the host's queue counters up to date ahead of a report. It's
// a no-op for backends whose counters are always current.
func (h *Host) Refresh(ctx context.Context) error {
	if h.refreshFunc == nil {
		return nil
	}

	return withMigrateHint(h.refreshFunc(ctx))
}

// Stop stops everything the host started in reverse order. It's safe to call
// more than once.
func (h *Host) Stop() {
	for _, stop := range slices.Backward(h.stopFuncs) {
		stop()
	}
	h.stopFuncs = nil
}

// Adds a hint to run River's migrations to errors caused by its tables not
// existing.
func withMigrateHint(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return fmt.Errorf("%w (River's schema may need to be raised with `river migrate-up`)", err)
	}

	return err
}
