package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/tabernacleorm/tabernacle/internal/config"
	"github.com/tabernacleorm/tabernacle/internal/migrate"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	DatabaseURL string
	Migrations  string
	Force       bool
}

// InitResult is the JSON payload of init.
type InitResult struct {
	Config     string   `json:"config"`
	Migrations string   `json:"migrations"`
	Created    []string `json:"created"`
}

var configTemplate = template.Must(template.New("config").Parse(`# tabernacle connection settings.
# TABERNACLE_URL, TABERNACLE_LOG_LEVEL and TABERNACLE_POOL_SIZE override them.
url: {{ .DatabaseURL }}
auto_create: false
migrations: {{ .Migrations }}
# pool_size: 10
# read:
#   - url: postgres://app@replica/app
`))

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file and a migrations package",
		Long: `Create tabernacle.yaml and a migrations directory holding a Go package
that migration files are generated into.

Examples:
  tabernacle init
  tabernacle init --db-url postgres://app@localhost/app --migrations db/migrations`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DatabaseURL, "db-url", "sqlite:///app.db", "connection url written to the configuration")
	cmd.Flags().StringVar(&opts.Migrations, "migrations", config.DefaultMigrations, "migrations directory")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing configuration file")

	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	out := opts.output(cmd)
	pkg, err := migrationsPackage(opts.Migrations)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid migrations directory", err)
	}
	res := InitResult{Config: opts.Config, Migrations: opts.Migrations, Created: []string{}}

	if _, err := os.Stat(opts.Config); err == nil && !opts.Force {
		return NewExitError(ExitCommandError, fmt.Sprintf("%s already exists (use --force to overwrite)", opts.Config))
	}
	var buf strings.Builder
	if err := configTemplate.Execute(&buf, opts); err != nil {
		return err
	}
	cfg, err := config.Parse([]byte(buf.String()))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --db-url", err)
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid --db-url", err)
	}
	if err := os.WriteFile(opts.Config, []byte(buf.String()), 0o644); err != nil {
		return WrapExitError(ExitCommandError, "write configuration", err)
	}
	res.Created = append(res.Created, opts.Config)

	if err := os.MkdirAll(opts.Migrations, 0o755); err != nil {
		return WrapExitError(ExitCommandError, "create migrations directory", err)
	}
	docPath := filepath.Join(opts.Migrations, "doc.go")
	if _, err := os.Stat(docPath); errors.Is(err, fs.ErrNotExist) {
		src, err := PackageSource(pkg)
		if err != nil {
			return err
		}
		if err := os.WriteFile(docPath, src, 0o644); err != nil {
			return WrapExitError(ExitCommandError, "write migrations package", err)
		}
		res.Created = append(res.Created, docPath)
	}

	if opts.Format == "json" {
		return out.Success(res)
	}
	for _, p := range res.Created {
		fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", p)
	}
	return nil
}

// MakeMigrationsOptions holds flags for the makemigrations command.
type MakeMigrationsOptions struct {
	*RootOptions
	Dir string
}

// NewMakeMigrationsCommand creates the makemigrations command.
func NewMakeMigrationsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MakeMigrationsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "makemigrations <name>",
		Short: "Generate a timestamped migration file",
		Long: `Generate a Go file holding an empty migration unit named
<timestamp>_<name>. The file registers the unit when its package is
imported.

Examples:
  tabernacle makemigrations create_users
  tabernacle makemigrations add_rating --dir db/migrations`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMakeMigrations(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Dir, "dir", "", "migrations directory (default from the configuration)")

	return cmd
}

func runMakeMigrations(opts *MakeMigrationsOptions, name string, cmd *cobra.Command) error {
	if !migrationName.MatchString(name) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid migration name %q: use letters, digits and underscores", name))
	}
	dir := opts.Dir
	if dir == "" {
		dir = config.DefaultMigrations
		if cfg, err := opts.loadConfig(); err == nil {
			dir = cfg.MigrationsDir()
		}
	}
	pkg, err := migrationsPackage(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid migrations directory", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WrapExitError(ExitCommandError, "create migrations directory", err)
	}

	id := migrate.NewID(opts.clock.Now(), name)
	src, err := MigrationSource(pkg, id, name)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, id+".go")
	if err := os.WriteFile(path, src, 0o644); err != nil {
		return WrapExitError(ExitCommandError, "write migration", err)
	}

	if opts.Format == "json" {
		return opts.output(cmd).Success(map[string]string{"id": id, "path": path})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", path)
	return nil
}

// migrationsPackage derives the Go package name from the directory name.
func migrationsPackage(dir string) (string, error) {
	pkg := strings.ReplaceAll(strings.ToLower(filepath.Base(filepath.Clean(dir))), "-", "_")
	if !packageName.MatchString(pkg) {
		return "", fmt.Errorf("%q is not usable as a Go package name", pkg)
	}
	return pkg, nil
}
