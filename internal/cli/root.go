// Package cli implements the tabernacle command line: project setup,
// migration scaffolding and the migration executor.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tabernacleorm/tabernacle/internal/config"
	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/logging"
	"github.com/tabernacleorm/tabernacle/internal/migrate"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // path to the configuration file
	URL     string // overrides the configuration file

	migrations *migrate.Registry
	clock      engine.Clock
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Option configures the root command.
type Option func(*RootOptions)

// WithMigrations sets the registry the migrate, rollback and status
// commands run. Programs embedding the CLI pass the registry their
// migration files register into.
func WithMigrations(reg *migrate.Registry) Option {
	return func(o *RootOptions) {
		if reg != nil {
			o.migrations = reg
		}
	}
}

// WithClock sets the clock used for migration ids and applied_at.
func WithClock(c engine.Clock) Option {
	return func(o *RootOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// NewRootCommand creates the root command for the tabernacle CLI.
func NewRootCommand(opts ...Option) *cobra.Command {
	cmd, _ := newRootCommand(opts...)
	return cmd
}

// Execute runs the command line with args and returns the exit code. A
// failure is reported as a JSON envelope on stdout under --format json and
// as text on stderr otherwise.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer, opts ...Option) int {
	cmd, ro := newRootCommand(opts...)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	out := &OutputFormatter{Format: "text", Writer: stderr, ErrWriter: stderr, Verbose: ro.Verbose}
	if ro.Format == "json" {
		out = &OutputFormatter{Format: "json", Writer: stdout, ErrWriter: stderr}
	}
	_ = out.Report(err)
	return GetExitCode(err)
}

func newRootCommand(opts ...Option) (*cobra.Command, *RootOptions) {
	ro := &RootOptions{migrations: migrate.NewRegistry(), clock: engine.SystemClock{}}
	for _, opt := range opts {
		opt(ro)
	}

	cmd := &cobra.Command{
		Use:   "tabernacle",
		Short: "tabernacle - models, queries and migrations over SQL and document engines",
		Long: `tabernacle manages the migrations of applications built on the tabernacle
object mapper. Connection settings come from tabernacle.yaml, the
TABERNACLE_URL environment variable or the --url flag.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(ro.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", ro.Format, ValidFormats))
			}
			ro.Format = strings.ToLower(ro.Format)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&ro.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&ro.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&ro.Config, "config", "c", config.DefaultFile, "configuration file")
	cmd.PersistentFlags().StringVar(&ro.URL, "url", "", "connection url (overrides the configuration file)")

	cmd.AddCommand(NewInitCommand(ro))
	cmd.AddCommand(NewMakeMigrationsCommand(ro))
	cmd.AddCommand(NewMigrateCommand(ro))
	cmd.AddCommand(NewRollbackCommand(ro))
	cmd.AddCommand(NewStatusCommand(ro))
	cmd.AddCommand(NewTestCommand(ro))

	return cmd, ro
}

// loadConfig reads the configuration, letting --url win over the file.
func (o *RootOptions) loadConfig() (config.Config, error) {
	if o.URL != "" {
		cfg := config.FromURL(o.URL)
		return cfg, cfg.Validate()
	}
	return config.Load(o.Config)
}

// logger builds the command logger. --verbose forces debug.
func (o *RootOptions) logger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	level := cfg.LogLevel
	if o.Verbose {
		level = "debug"
	} else if level == "" {
		level = "warn"
	}
	return logging.New(level, cfg.LogFormat, w)
}

func (o *RootOptions) output(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, strings.ToLower(format))
}
