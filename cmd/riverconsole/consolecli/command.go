package consolecli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"

	"github.com/riverqueue/riverconsole/internal/render"
)

// ErrUnsuccessful is returned by RunCommand when a command ran to completion
// but reported an unsuccessful result. Its output has already been written,
// so callers should exit non-zero without printing it again.
var ErrUnsuccessful = errors.New("command unsuccessful")

// Command is an interface to a console CLI subcommand. Commands generally only
// implement a Run function, and get the rest of the implementation by embedding
// CommandBase.
type Command[TOpts CommandOpts] interface {
	Run(ctx context.Context, opts TOpts) (bool, error)
	GetCommandBase() *CommandBase
	SetCommandBase(b *CommandBase)
}

// CommandBase provides common facilities for a console CLI command. It's
// generally embedded on the struct of a command.
type CommandBase struct {
	Host    *Host
	Logger  *slog.Logger
	NoColor bool
	Out     io.Writer
}

func (b *CommandBase) GetCommandBase() *CommandBase     { return b }
func (b *CommandBase) SetCommandBase(base *CommandBase) { *b = *base }

// Renderer returns a renderer for reports, producing JSON if asJSON is set and
// styled text otherwise.
func (b *CommandBase) Renderer(asJSON bool) Renderer {
	if asJSON {
		return render.NewJSON(b.Out)
	}

	return render.NewText(b.Out, &render.TextOptions{NoColor: b.NoColor})
}

// CommandOpts are a command's options, validated before the command's host is
// started.
type CommandOpts interface {
	Validate() error
}

// RunCommandBundle is a bundle of utilities for RunCommand.
type RunCommandBundle struct {
	// Host is a running host to run the command against. If nil, a host is
	// started from HostOpts for the command and stopped after it.
	Host *Host

	HostOpts *HostOpts
	Logger   *slog.Logger
	NoColor  bool
	OutStd   io.Writer

	// PGEnvConfigured is true if `PG*` env vars select a Postgres database
	// when HostOpts carries no database URL.
	PGEnvConfigured bool
}

// RunCommand bootstraps and runs a console CLI subcommand.
func RunCommand[TOpts CommandOpts](ctx context.Context, bundle *RunCommandBundle, command Command[TOpts], opts TOpts) error {
	startAndRun := func() (bool, error) {
		if err := opts.Validate(); err != nil {
			return false, err
		}

		host := bundle.Host
		if host == nil {
			if err := bundle.HostOpts.Validate(); err != nil {
				return false, err
			}

			var err error
			host, err = StartHost(ctx, bundle.Logger, bundle.HostOpts, bundle.PGEnvConfigured)
			if err != nil {
				return false, err
			}
			defer host.Stop()
		}

		command.SetCommandBase(&CommandBase{
			Host:    host,
			Logger:  bundle.Logger,
			NoColor: bundle.NoColor,
			Out:     bundle.OutStd,
		})

		return command.Run(ctx, opts)
	}

	ok, err := startAndRun()
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnsuccessful
	}
	return nil
}

// Runtime parameters set on console connections to Postgres unless the database
// URL sets them. The console only reads, so its statements are kept short.
var pgRuntimeParamDefaults = map[string]string{ //nolint:gochecknoglobals
	"application_name": "riverconsole",

	// Greater than the statement timeout, which counts towards it.
	"idle_in_transaction_session_timeout": strconv.FormatInt((11 * time.Second).Milliseconds(), 10),
	"statement_timeout":                   strconv.FormatInt((10 * time.Second).Milliseconds(), 10),
}

func openPgxV5DBPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pgxConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing database URL: %w", err)
	}

	runtimeParams := pgxConfig.ConnConfig.RuntimeParams
	for name, val := range pgRuntimeParamDefaults {
		if runtimeParams[name] == "" {
			runtimeParams[name] = val
		}
	}

	dbPool, err := pgxpool.NewWithConfig(ctx, pgxConfig)
	if err != nil {
		return nil, fmt.Errorf("error connecting to Postgres database: %w", err)
	}

	return dbPool, nil
}

func openSQLitePool(protocol, urlWithoutProtocol string) (*sql.DB, error) {
	dbPool, err := sql.Open(protocol, urlWithoutProtocol)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite database: %w", err)
	}

	// SQLite allows only one writer at a time.
	dbPool.SetMaxOpenConns(1)

	return dbPool, nil
}
