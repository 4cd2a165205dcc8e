package sqlengine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/query"
	"github.com/tabernacleorm/tabernacle/internal/schema"
)

var usersHint = engine.SchemaHint{Fields: []engine.ColumnHint{
	{Name: "name", Type: schema.TypeString, Required: true},
	{Name: "email", Type: schema.TypeString, Unique: true, Nullable: true},
	{Name: "rating", Type: schema.TypeInteger},
	{Name: "active", Type: schema.TypeBoolean},
	{Name: "joined", Type: schema.TypeDateTime},
}}

func openTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	e, err := OpenSQLite(context.Background(), path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	require.NoError(t, e.EnsureCollection(context.Background(), "users", usersHint))
	return e
}

func seedUsers(t *testing.T, e *Engine) []engine.Row {
	t.Helper()
	rows, err := e.InsertMany(context.Background(), "users", []engine.Doc{
		{"name": "Alice", "rating": int64(5), "active": true},
		{"name": "Bob", "rating": int64(4)},
		{"name": "Carol", "rating": int64(2), "email": "carol@example.com"},
		{"name": "Dave"},
	})
	require.NoError(t, err)
	return rows
}

func names(rows []engine.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i], _ = r.Fields["name"].(string)
	}
	return out
}

func TestOpenSQLite_Memory(t *testing.T) {
	ctx := context.Background()
	e, err := OpenSQLite(ctx, MemoryPath, WithPoolSize(4))
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, 1, e.DB().Stats().MaxOpenConnections)
	require.NoError(t, e.EnsureCollection(ctx, "users", usersHint))

	_, err = e.Create(ctx, "users", engine.Doc{"name": "Alice"})
	require.NoError(t, err)
	n, err := e.Count(ctx, "users", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCreate_AssignsIncreasingIDs(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	a, err := e.Create(ctx, "users", engine.Doc{"name": "Alice"})
	require.NoError(t, err)
	b, err := e.Create(ctx, "users", engine.Doc{"name": "Bob"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, int64(2), b.ID)
	assert.Equal(t, "Alice", a.Fields["name"])
}

func TestCreate_UniqueViolation(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, "users", engine.Doc{"name": "A", "email": "x@example.com"})
	require.NoError(t, err)
	_, err = e.Create(ctx, "users", engine.Doc{"name": "B", "email": "x@example.com"})

	assert.True(t, dberr.IsConstraintViolation(err), "got %v", err)
}

func TestCreate_MissingCollection(t *testing.T) {
	e := openTestEngine(t)

	_, err := e.Create(context.Background(), "ghosts", engine.Doc{"name": "Boo"})
	assert.True(t, dberr.IsNotFound(err), "got %v", err)
}

func TestFind_UnknownField(t *testing.T) {
	e := openTestEngine(t)

	_, err := e.Find(context.Background(), "users", engine.FindQuery{Where: query.Eq("nickname", "x")})
	assert.True(t, dberr.IsInvalidQuery(err), "got %v", err)
}

func TestInsertMany_ReturnsRowsInInputOrder(t *testing.T) {
	e := openTestEngine(t)
	rows := seedUsers(t, e)

	require.Len(t, rows, 4)
	assert.Equal(t, []string{"Alice", "Bob", "Carol", "Dave"}, names(rows))
	for i, r := range rows {
		assert.Equal(t, int64(i+1), r.ID)
	}

	empty, err := e.InsertMany(context.Background(), "users", nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestFind_FilterSortPaginate(t *testing.T) {
	e := openTestEngine(t)
	seedUsers(t, e)
	ctx := context.Background()

	rows, err := e.Find(ctx, "users", engine.FindQuery{
		Where: query.Gt("rating", 3),
		Sort:  []query.SortKey{{Field: "rating", Desc: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob"}, names(rows))
	assert.Equal(t, int64(5), rows[0].Fields["rating"])
	assert.Equal(t, true, rows[0].Fields["active"])

	rows, err = e.Find(ctx, "users", engine.FindQuery{Skip: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob", "Carol"}, names(rows))

	rows, err = e.Find(ctx, "users", engine.FindQuery{Skip: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"Dave"}, names(rows))
}

func TestFind_NullsSortFirstAscendingLastDescending(t *testing.T) {
	e := openTestEngine(t)
	seedUsers(t, e)
	ctx := context.Background()

	rows, err := e.Find(ctx, "users", engine.FindQuery{Sort: []query.SortKey{{Field: "rating"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Dave", "Carol", "Bob", "Alice"}, names(rows))

	rows, err = e.Find(ctx, "users", engine.FindQuery{Sort: []query.SortKey{{Field: "rating", Desc: true}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "Bob", "Carol", "Dave"}, names(rows))
}

func TestFind_NullSemantics(t *testing.T) {
	e := openTestEngine(t)
	seedUsers(t, e)
	ctx := context.Background()

	tests := []struct {
		name  string
		where query.Predicate
		want  []string
	}{
		{"ne includes null", query.Ne("rating", 4), []string{"Alice", "Carol", "Dave"}},
		{"eq nil", query.Eq("rating", nil), []string{"Dave"}},
		{"ne nil", query.Ne("email", nil), []string{"Carol"}},
		{"in skips null", query.In("rating", 2, nil), []string{"Carol"}},
		{"empty in", query.In("rating"), []string{}},
		{"ordering skips null", query.Lt("rating", 5), []string{"Bob", "Carol"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := e.Find(ctx, "users", engine.FindQuery{Where: tt.where})
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(rows))
		})
	}
}

func TestUpdateMany(t *testing.T) {
	e := openTestEngine(t)
	seedUsers(t, e)
	ctx := context.Background()

	n, err := e.UpdateMany(ctx, "users", query.Lt("rating", 5), engine.Doc{"active": false})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = e.UpdateMany(ctx, "users", query.Eq("name", "Nobody"), engine.Doc{"active": true})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = e.UpdateMany(ctx, "users", nil, engine.Doc{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, err = e.UpdateMany(ctx, "users", nil, engine.Doc{"id": 9})
	assert.True(t, dberr.IsInvalidQuery(err))

	rows, err := e.Find(ctx, "users", engine.FindQuery{Where: query.Eq("active", false)})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob", "Carol"}, names(rows))
}

func TestDeleteManyAndCount(t *testing.T) {
	e := openTestEngine(t)
	seedUsers(t, e)
	ctx := context.Background()

	n, err := e.DeleteMany(ctx, "users", query.Gte("rating", 4))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := e.Count(ctx, "users", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestDateTime_RoundTripsInUTC(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	joined := time.Date(2024, 3, 1, 9, 30, 0, 123456000, time.UTC)

	_, err := e.Create(ctx, "users", engine.Doc{"name": "Alice", "joined": joined})
	require.NoError(t, err)

	rows, err := e.Find(ctx, "users", engine.FindQuery{Where: query.Lte("joined", joined)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	got, ok := rows[0].Fields["joined"].(time.Time)
	require.True(t, ok, "got %T", rows[0].Fields["joined"])
	assert.True(t, joined.Equal(got))
	assert.Equal(t, time.UTC, got.Location())
}

func TestEnsureCollection_IdempotentAndAdditive(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	seedUsers(t, e)

	require.NoError(t, e.EnsureCollection(ctx, "users", usersHint))

	evolved := usersHint
	evolved.Fields = append(append([]engine.ColumnHint{}, usersHint.Fields...),
		engine.ColumnHint{Name: "slug", Type: schema.TypeString, Unique: true})
	require.NoError(t, e.EnsureCollection(ctx, "users", evolved))
	require.NoError(t, e.EnsureCollection(ctx, "users", evolved))

	n, err := e.UpdateMany(ctx, "users", query.Eq("name", "Alice"), engine.Doc{"slug": "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = e.UpdateMany(ctx, "users", query.Eq("name", "Bob"), engine.Doc{"slug": "alice"})
	assert.True(t, dberr.IsConstraintViolation(err), "got %v", err)

	count, err := e.Count(ctx, "users", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestDropCollection(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.DropCollection(ctx, "users"))
	require.NoError(t, e.DropCollection(ctx, "users"))

	_, err := e.Count(ctx, "users", nil)
	assert.True(t, dberr.IsNotFound(err), "got %v", err)
}

func TestForeignKey_Cascade(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	seedUsers(t, e)

	require.NoError(t, e.EnsureCollection(ctx, "posts", engine.SchemaHint{Fields: []engine.ColumnHint{
		{Name: "title", Type: schema.TypeString},
		{Name: "author_id", Type: schema.TypeReference, Ref: &engine.RefHint{
			Collection: "users", KeyKind: engine.KeyInteger, OnDelete: schema.OnDeleteCascade, SameEngine: true,
		}},
	}}))
	_, err := e.InsertMany(ctx, "posts", []engine.Doc{
		{"title": "p1", "author_id": int64(1)},
		{"title": "p2", "author_id": int64(1)},
		{"title": "p3", "author_id": int64(2)},
	})
	require.NoError(t, err)

	_, err = e.Create(ctx, "posts", engine.Doc{"title": "orphan", "author_id": int64(99)})
	assert.True(t, dberr.IsConstraintViolation(err), "got %v", err)

	_, err = e.DeleteMany(ctx, "users", query.Eq("id", int64(1)))
	require.NoError(t, err)

	n, err := e.Count(ctx, "posts", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestExec(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Exec(ctx, `CREATE INDEX IF NOT EXISTS users_rating ON users (rating)`))
	assert.Error(t, e.Exec(ctx, `NOT SQL`))
}

func TestOpenSQLite_Modernc(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pure.db")
	e, err := OpenSQLite(ctx, path, WithDriver(DriverModernc))
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.EnsureCollection(ctx, "users", usersHint))
	seedUsers(t, e)

	_, err = e.Create(ctx, "users", engine.Doc{"name": "X", "email": "carol@example.com"})
	assert.True(t, dberr.IsConstraintViolation(err), "got %v", err)

	rows, err := e.Find(ctx, "users", engine.FindQuery{Where: query.Eq("active", true)})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, names(rows))
	assert.Equal(t, true, rows[0].Fields["active"])
}

func TestOpenSQLite_UnknownDriver(t *testing.T) {
	_, err := OpenSQLite(context.Background(), MemoryPath, WithDriver("nope"))
	assert.True(t, dberr.IsConnection(err))
}
