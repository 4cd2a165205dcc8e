package cli

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabernacleorm/tabernacle/internal/migrate"
	"github.com/tabernacleorm/tabernacle/internal/schema"
)

const (
	unitUsers  = "20240101090000_create_users"
	unitPosts  = "20240102090000_create_posts"
	unitRating = "20240103090000_add_rating"
)

func testRegistry() *migrate.Registry {
	reg := migrate.NewRegistry()
	reg.MustAdd(unitUsers,
		func(ctx context.Context, s *migrate.Schema) error {
			return s.CreateCollection(ctx, "users", schema.String("name", schema.Required()))
		},
		func(ctx context.Context, s *migrate.Schema) error { return s.DropCollection(ctx, "users") })
	reg.MustAdd(unitPosts,
		func(ctx context.Context, s *migrate.Schema) error {
			return s.CreateCollection(ctx, "posts", schema.String("title"))
		},
		func(ctx context.Context, s *migrate.Schema) error { return s.DropCollection(ctx, "posts") })
	reg.MustAdd(unitRating,
		func(ctx context.Context, s *migrate.Schema) error {
			return s.AddFields(ctx, "posts", schema.Integer("rating", schema.Nullable()))
		},
		func(ctx context.Context, s *migrate.Schema) error { return nil })
	return reg
}

func TestMigrate_DocumentSnapshot(t *testing.T) {
	g := newGoldie(t)
	t.Chdir(t.TempDir())
	reg := testRegistry()
	url := []string{"--url", "document:///data.msgpack"}

	out, err := execute(t, append([]string{"migrate"}, url...), WithMigrations(reg))
	require.NoError(t, err)
	assert.Equal(t, "applied "+unitUsers+"\napplied "+unitPosts+"\napplied "+unitRating+"\n", out)

	// The snapshot keeps the bookkeeping between invocations.
	out, err = execute(t, append([]string{"migrate"}, url...), WithMigrations(reg))
	require.NoError(t, err)
	assert.Equal(t, "No pending migrations.\n", out)

	out, err = execute(t, append([]string{"rollback"}, url...), WithMigrations(reg))
	require.NoError(t, err)
	assert.Equal(t, "rolled back "+unitRating+"\n", out)

	out, err = execute(t, append([]string{"status"}, url...), WithMigrations(reg))
	require.NoError(t, err)
	g.Assert(t, "status", []byte(out))
}

func TestStatus_JSON(t *testing.T) {
	t.Chdir(t.TempDir())
	reg := testRegistry()
	url := []string{"--url", "document:///data.msgpack"}

	_, err := execute(t, append([]string{"migrate"}, url...), WithMigrations(reg))
	require.NoError(t, err)

	out, err := execute(t, append([]string{"status", "--format", "json"}, url...), WithMigrations(reg))
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   []StatusEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 3)
	for _, e := range resp.Data {
		assert.True(t, e.Applied, e.ID)
		require.NotNil(t, e.AppliedAt)
		assert.True(t, e.AppliedAt.Equal(fixedNow))
	}
}

func TestStatus_Unregistered(t *testing.T) {
	t.Chdir(t.TempDir())
	url := []string{"--url", "document:///data.msgpack"}

	_, err := execute(t, append([]string{"migrate"}, url...), WithMigrations(testRegistry()))
	require.NoError(t, err)

	partial := migrate.NewRegistry()
	partial.MustAdd(unitUsers, func(context.Context, *migrate.Schema) error { return nil }, nil)
	out, err := execute(t, append([]string{"status"}, url...), WithMigrations(partial))
	require.NoError(t, err)
	assert.Contains(t, out, "[X] "+unitUsers)
	assert.Contains(t, out, "[?] "+unitRating+"  applied 2024-01-05T09:30:00Z, not registered")

	// The newest applied unit is not registered, so rollback cannot revert it.
	_, err = execute(t, append([]string{"rollback"}, url...), WithMigrations(partial))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestMigrate_SQLite(t *testing.T) {
	t.Chdir(t.TempDir())
	reg := testRegistry()
	url := []string{"--url", "sqlite:///app.db"}

	out, err := execute(t, append([]string{"migrate", "--format", "json"}, url...), WithMigrations(reg))
	require.NoError(t, err)
	var resp struct {
		Data MigrateResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, []string{unitUsers, unitPosts, unitRating}, resp.Data.Applied)

	out, err = execute(t, append([]string{"migrate"}, url...), WithMigrations(reg))
	require.NoError(t, err)
	assert.Equal(t, "No pending migrations.\n", out)
}

func TestRollback_NothingApplied(t *testing.T) {
	out, err := execute(t, []string{"rollback", "--url", "document://"}, WithMigrations(testRegistry()))
	require.NoError(t, err)
	assert.Equal(t, "Nothing to roll back.\n", out)
}

func TestStatus_NoMigrations(t *testing.T) {
	out, err := execute(t, []string{"status", "--url", "document://"})
	require.NoError(t, err)
	assert.Equal(t, "No migrations registered.\n", out)
}

func TestMigrate_ConnectionError(t *testing.T) {
	_, err := execute(t, []string{"migrate", "--url", "redis://cache"}, WithMigrations(testRegistry()))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMigrate_MissingConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TABERNACLE_URL", "")
	_, err := execute(t, []string{"migrate"}, WithMigrations(testRegistry()))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
