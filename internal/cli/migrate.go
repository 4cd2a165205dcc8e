package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tabernacleorm/tabernacle/internal/conn"
	"github.com/tabernacleorm/tabernacle/internal/migrate"
)

// MigrateResult is the JSON payload of migrate and rollback.
type MigrateResult struct {
	Applied    []string `json:"applied,omitempty"`
	RolledBack string   `json:"rolled_back,omitempty"`
}

// StatusEntry is one line of status output.
type StatusEntry struct {
	ID        string     `json:"id"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
	Unknown   bool       `json:"unknown,omitempty"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		Long: `Apply every registered migration that has not been applied yet, in id
order, against the write engine. The first failure stops the run; units
applied before it stay applied.

Exit codes:
  0 - All pending migrations applied
  1 - A migration failed
  2 - Configuration or connection error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExecutor(rootOpts, cmd, func(ctx context.Context, x *migrate.Executor) error {
				applied, err := x.Migrate(ctx)
				out := rootOpts.output(cmd)
				if err != nil {
					for _, id := range applied {
						out.VerboseLog("applied %s", id)
					}
					return WrapExitError(ExitFailure, "migrate", err)
				}
				if rootOpts.Format == "json" {
					return out.Success(MigrateResult{Applied: applied})
				}
				if len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations.")
					return nil
				}
				for _, id := range applied {
					fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", id)
				}
				return nil
			})
		},
	}
}

// NewRollbackCommand creates the rollback command.
func NewRollbackCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Revert the most recently applied migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExecutor(rootOpts, cmd, func(ctx context.Context, x *migrate.Executor) error {
				id, err := x.Rollback(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "rollback", err)
				}
				if rootOpts.Format == "json" {
					return rootOpts.output(cmd).Success(MigrateResult{RolledBack: id})
				}
				if id == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing to roll back.")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", id)
				return nil
			})
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withExecutor(rootOpts, cmd, func(ctx context.Context, x *migrate.Executor) error {
				st, err := x.Status(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "status", err)
				}
				entries := make([]StatusEntry, len(st))
				for i, s := range st {
					entries[i] = StatusEntry{ID: s.ID, Applied: s.Applied, Unknown: s.Unknown}
					if s.Applied {
						at := s.AppliedAt.UTC()
						entries[i].AppliedAt = &at
					}
				}
				if rootOpts.Format == "json" {
					return rootOpts.output(cmd).Success(entries)
				}
				writeStatus(cmd, entries)
				return nil
			})
		},
	}
}

func writeStatus(cmd *cobra.Command, entries []StatusEntry) {
	w := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(w, "No migrations registered.")
		return
	}
	for _, e := range entries {
		switch {
		case e.Unknown:
			fmt.Fprintf(w, "[?] %s  applied %s, not registered\n", e.ID, e.AppliedAt.Format(time.RFC3339))
		case e.Applied:
			fmt.Fprintf(w, "[X] %s  applied %s\n", e.ID, e.AppliedAt.Format(time.RFC3339))
		default:
			fmt.Fprintf(w, "[ ] %s\n", e.ID)
		}
	}
}

// withExecutor opens the configured connection and runs fn with an
// executor over its write engine. SIGINT and SIGTERM cancel the context.
func withExecutor(opts *RootOptions, cmd *cobra.Command, fn func(context.Context, *migrate.Executor) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "load configuration", err)
	}
	logger, err := opts.logger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "configure logging", err)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := conn.Open(ctx, cfg, conn.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "connect", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("error closing connection", "error", err)
		}
	}()

	x := migrate.NewExecutor(c.Write(), opts.migrations, migrate.WithClock(opts.clock), migrate.WithLogger(logger))
	return fn(ctx, x)
}
