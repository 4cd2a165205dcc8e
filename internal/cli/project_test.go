package cli

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	g := newGoldie(t)
	t.Chdir(t.TempDir())

	out, err := execute(t, []string{"init"})
	require.NoError(t, err)
	assert.Contains(t, out, "created tabernacle.yaml")
	assert.Contains(t, out, "created "+filepath.Join("migrations", "doc.go"))

	data, err := os.ReadFile("tabernacle.yaml")
	require.NoError(t, err)
	g.Assert(t, "init_config", data)

	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filepath.Join("migrations", "doc.go"), nil, parser.ParseComments)
	require.NoError(t, err)
	assert.Equal(t, "migrations", f.Name.Name)
	require.NotNil(t, f.Doc)
	assert.Contains(t, f.Doc.Text(), "Package migrations holds the migration units")

	// A second init refuses to overwrite the configuration.
	_, err = execute(t, []string{"init"})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, []string{"init", "--force", "--db-url", "document:///data.msgpack"})
	require.NoError(t, err)
	data, err = os.ReadFile("tabernacle.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "url: document:///data.msgpack")
}

func TestInit_BadURL(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := execute(t, []string{"init", "--db-url", "app.db"})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.NoFileExists(t, "tabernacle.yaml")
}

func TestMakeMigrations(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "migrations")

	out, err := execute(t, []string{"makemigrations", "create_users", "--dir", dir})
	require.NoError(t, err)
	path := filepath.Join(dir, "20240105093000_create_users.go")
	assert.Contains(t, out, path)

	src, err := os.ReadFile(path)
	require.NoError(t, err)
	f, err := parser.ParseFile(token.NewFileSet(), path, src, parser.ParseComments)
	require.NoError(t, err, string(src))
	assert.Equal(t, "migrations", f.Name.Name)

	code := string(src)
	assert.Contains(t, code, `"github.com/tabernacleorm/tabernacle"`)
	assert.Contains(t, code, `tabernacle.RegisterMigration("20240105093000_create_users", up20240105093000CreateUsers, down20240105093000CreateUsers)`)
	assert.Contains(t, code, "func up20240105093000CreateUsers(ctx context.Context, s *tabernacle.Schema) error")
	assert.Contains(t, code, "func down20240105093000CreateUsers(ctx context.Context, s *tabernacle.Schema) error")
}

func TestMakeMigrations_InvalidName(t *testing.T) {
	for _, name := range []string{"1st", "add-rating", "drop users"} {
		_, err := execute(t, []string{"makemigrations", name, "--dir", t.TempDir()})
		require.Error(t, err, name)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	}
}

func TestMakeMigrations_JSON(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db_migrations")
	out, err := execute(t, []string{"makemigrations", "add_rating", "--dir", dir, "--format", "json"})
	require.NoError(t, err)
	assert.Contains(t, out, `"id":"20240105093000_add_rating"`)

	src, err := os.ReadFile(filepath.Join(dir, "20240105093000_add_rating.go"))
	require.NoError(t, err)
	assert.Contains(t, string(src), "package db_migrations")
}

func TestMigrationsPackage(t *testing.T) {
	tests := []struct {
		dir  string
		want string
		ok   bool
	}{
		{"migrations", "migrations", true},
		{"db/Migrations/", "migrations", true},
		{"schema-changes", "schema_changes", true},
		{"2024", "", false},
	}
	for _, tt := range tests {
		got, err := migrationsPackage(tt.dir)
		if !tt.ok {
			assert.Error(t, err, tt.dir)
			continue
		}
		require.NoError(t, err, tt.dir)
		assert.Equal(t, tt.want, got)
	}
}
