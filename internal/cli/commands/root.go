// Package commands implements the seqctl command tree.
package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"portalid/internal/bootstrap"
	"portalid/internal/config"
	"portalid/internal/core/apperror"
	domainseq "portalid/internal/domain/sequence"
	"portalid/pkg/logger"
)

// Exit codes from sysexits.h.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUsage       = 64
	ExitUnavailable = 69
	ExitTempFail    = 75
)

// Options injects dependencies; zero values select the production ones.
type Options struct {
	// Open connects the counter store.
	Open func(ctx context.Context, cfg config.Config) (*bootstrap.Backend, error)
	// ServiceOptions are applied to every allocator the CLI builds.
	ServiceOptions []domainseq.Option
}

type app struct {
	opts Options
	cfg  config.Config
	log  *logger.Logger

	store      string
	dsn        string
	sqlitePath string
	timezone   string
	logLevel   string
}

// NewRootCommand builds the seqctl command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Open == nil {
		opts.Open = bootstrap.Open
	}
	a := &app{opts: opts}

	root := &cobra.Command{
		Use:   "seqctl",
		Short: "Allocate and administer year-scoped identifiers",
		Long: `seqctl talks to the same counter store as the ID service.

Store selection follows SEQUENCE_STORE, DATABASE_URL and SQLITE_PATH unless
overridden by flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.configure(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.store, "store", "", "counter store: postgres, sqlite or memory")
	flags.StringVar(&a.dsn, "dsn", "", "PostgreSQL connection string")
	flags.StringVar(&a.sqlitePath, "sqlite-path", "", "SQLite database file")
	flags.StringVar(&a.timezone, "timezone", "", "time zone the year is derived in")
	flags.StringVar(&a.logLevel, "log-level", "warn", "log level for diagnostics on stderr")

	root.AddCommand(
		a.newNextCommand(),
		a.newBuiltinCommand("task", "Allocate the next task ID (Task-YYNNN)", "task"),
		a.newBuiltinCommand("incident", "Allocate the next incident report ID (IR-YYNNN)", "incident"),
		a.newShowCommand(),
		a.newListCommand(),
		a.newSetCommand(),
		a.newHistoryCommand(),
		a.newTokenCommand(),
	)
	return root
}

func (a *app) configure(cmd *cobra.Command) error {
	var cfg config.Config
	if err := config.ParseEnv(&cfg); err != nil {
		return err
	}
	if a.store != "" {
		cfg.Store = a.store
	}
	if a.dsn != "" {
		cfg.DatabaseURL = a.dsn
	}
	if a.sqlitePath != "" {
		cfg.SQLitePath = a.sqlitePath
	}
	if a.timezone != "" {
		cfg.Timezone = a.timezone
	}
	cfg.Normalize()
	a.cfg = cfg

	log, err := logger.New(logger.Config{Level: a.logLevel, OutputPaths: []string{"stderr"}})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.log = log
	cmd.SetContext(logger.WithLogger(cmd.Context(), log))
	return nil
}

// withService opens the store, runs fn and closes the store.
func (a *app) withService(cmd *cobra.Command, fn func(ctx context.Context, b *bootstrap.Backend, svc *domainseq.Service) error) error {
	if err := a.cfg.ValidateStore(); err != nil {
		return err
	}
	ctx := cmd.Context()

	b, err := a.opts.Open(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			a.log.Warnw("close store", "error", cerr)
		}
	}()

	svc, err := b.Service(a.cfg, a.log, a.opts.ServiceOptions...)
	if err != nil {
		return err
	}
	return fn(ctx, b, svc)
}

// ExitCode maps an error returned by the command tree to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case apperror.IsTransactionConflict(err):
		return ExitTempFail
	case apperror.IsStoreUnavailable(err):
		return ExitUnavailable
	case apperror.HasCode(err, apperror.CodeValidation):
		return ExitUsage
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.HTTPStatus < 500 {
		return ExitUsage
	}
	return ExitFailure
}
