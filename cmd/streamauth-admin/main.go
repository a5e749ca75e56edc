package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/target/streamauth/config"
	"github.com/target/streamauth/internal/bootstrap"
	"github.com/target/streamauth/internal/data"
	"github.com/target/streamauth/internal/service"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultCommandTimeout   = time.Minute
)

func main() {
	logger := bootstrap.InitLogger(os.Getenv("LOG_LEVEL"))

	if len(os.Args) < 2 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrations,
		},
		"migrate-status": {
			name:        "migrate-status",
			description: "List migrations that have not been applied yet",
			run:         runMigrateStatus,
		},
		"import-legacy-admins": {
			name:        "import-legacy-admins",
			description: "Merge the legacy admins table into principals (safe to rerun)",
			run:         runImportLegacyAdmins,
		},
		"create-admin": {
			name:        "create-admin",
			description: "Create a staff principal; the password is read from stdin",
			run:         runCreateAdmin,
		},
		"list-principals": {
			name:        "list-principals",
			description: "List principals filtered by role and status",
			run:         runListPrincipals,
		},
		"set-role": {
			name:        "set-role",
			description: "Change a principal's role",
			run:         runSetRole,
		},
		"set-status": {
			name:        "set-status",
			description: "Enable or disable a principal (disabling revokes its sessions)",
			run:         runSetStatus,
		},
		"revoke-sessions": {
			name:        "revoke-sessions",
			description: "Delete every session of a principal",
			run:         runRevokeSessions,
		},
		"prune-sessions": {
			name:        "prune-sessions",
			description: "Delete expired sessions",
			run:         runPruneSessions,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stdout, "Usage: streamauth-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Available commands:\n"); err != nil {
		return err
	}
	names := make([]string, 0, len(commands()))
	for name := range commands() {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writef(os.Stdout, "  %-24s %s\n", name, commands()[name].description); err != nil {
			return err
		}
	}
	return nil
}

type migrateOptions struct {
	Timeout time.Duration
}

func parseMigrateFlags(name string, args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{}
	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for the command to complete",
	)

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}
	if fs.NArg() > 0 {
		return migrateOptions{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags("migrate", args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.InfoContext(ctx, "running database migrations")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return migrateErr
		}
		cmdCtx.Logger.InfoContext(ctx, "migrations completed successfully")
		return nil
	})
}

func runMigrateStatus(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags("migrate-status", args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		pending, pendErr := data.PendingMigrations(ctx, db)
		if pendErr != nil {
			return fmt.Errorf("list pending migrations: %w", pendErr)
		}
		if len(pending) == 0 {
			return writeln(os.Stdout, "Schema is up to date.")
		}
		if werr := writef(os.Stdout, "%d pending migration(s):\n", len(pending)); werr != nil {
			return werr
		}
		for _, v := range pending {
			if werr := writef(os.Stdout, "  %s\n", v); werr != nil {
				return werr
			}
		}
		return nil
	})
}

func runImportLegacyAdmins(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags("import-legacy-admins", args)
	if err != nil {
		return err
	}

	return withAuthService(cmdCtx, opts.Timeout, func(ctx context.Context, svc *service.AuthService) error {
		res, importErr := svc.ImportLegacyAdmins(ctx)
		if importErr != nil {
			return importErr
		}
		return writef(os.Stdout, "Legacy admins: %d imported, %d promoted, %d skipped\n",
			res.Imported, res.Promoted, res.Skipped)
	})
}

func runPruneSessions(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags("prune-sessions", args)
	if err != nil {
		return err
	}

	return withAuthService(cmdCtx, opts.Timeout, func(ctx context.Context, svc *service.AuthService) error {
		n, pruneErr := svc.PruneExpiredSessions(ctx)
		if pruneErr != nil {
			return pruneErr
		}
		return writef(os.Stdout, "Deleted %d expired session(s)\n", n)
	})
}

func withDatabase(
	cmdCtx *commandContext,
	timeout time.Duration,
	f func(context.Context, *sql.DB) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if host := cmdCtx.Config.Postgres.Host; isLikelyRemoteHost(host) {
		cmdCtx.Logger.WarnContext(ctx, "targeting a database host that does not look local", "host", host)
	}

	db, err := bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", cerr)
		}
	}()

	return f(ctx, db)
}

// withAuthService runs f against an AuthService over the configured database.
// The CLI never consults the login throttle, so no Redis connection is made.
func withAuthService(
	cmdCtx *commandContext,
	timeout time.Duration,
	f func(context.Context, *service.AuthService) error,
) error {
	return withDatabase(cmdCtx, timeout, func(ctx context.Context, db *sql.DB) error {
		svc, err := bootstrap.BuildAuthService(bootstrap.AuthConfig{
			Auth:   cmdCtx.Config.Auth,
			DB:     db,
			Logger: cmdCtx.Logger,
		})
		if err != nil {
			return err
		}
		return f(ctx, svc)
	})
}

func isLikelyRemoteHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" || h == "localhost" || strings.HasSuffix(h, ".local") {
		return false
	}
	if ip := net.ParseIP(h); ip != nil {
		return !ip.IsLoopback()
	}
	return true
}
