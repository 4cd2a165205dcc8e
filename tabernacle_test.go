package tabernacle

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const notesUnit = "20240101000000_create_notes"

var (
	testBook = MustDefine("Book", []Field{
		String("title", Required()),
		ForeignKey("author_id", "Author", Nullable(), Cascade(OnDeleteCascade)),
	})
	testAuthor = MustDefine("Author", []Field{
		String("name", Required(), Unique()),
		OneToMany("books", "Book", "author_id"),
	})
	testGhost = MustDefine("Ghost", []Field{String("name")}, WithCollection("spirits"))
)

func init() {
	RegisterMigration(notesUnit,
		func(ctx context.Context, s *Schema) error {
			return s.CreateCollection(ctx, "notes", Text("body"))
		},
		func(ctx context.Context, s *Schema) error { return s.DropCollection(ctx, "notes") })
}

func connect(t *testing.T, cfg Config) {
	t.Helper()
	require.NoError(t, Connect(context.Background(), cfg))
	t.Cleanup(func() { require.NoError(t, Disconnect()) })
}

func TestNotConnected(t *testing.T) {
	_, err := Current()
	assert.True(t, IsConnection(err))

	_, err = testGhost.Count(context.Background())
	assert.True(t, IsConnection(err), "got %v", err)
	assert.NoError(t, Disconnect())
}

func TestConnect_Twice(t *testing.T) {
	connect(t, Config{URL: "document://"})
	err := ConnectURL(context.Background(), "document://")
	assert.True(t, IsConnection(err))
}

func TestConnect_BadURL(t *testing.T) {
	err := ConnectURL(context.Background(), "redis://cache")
	assert.True(t, IsConnection(err))
	_, err = Current()
	assert.Error(t, err)
}

func TestDefineAndQuery(t *testing.T) {
	for _, url := range []string{"document://", "sqlite:///:memory:"} {
		t.Run(url, func(t *testing.T) {
			ctx := context.Background()
			connect(t, Config{URL: url, AutoCreate: true})

			ann, err := testAuthor.Create(ctx, map[string]any{"name": "Ann"})
			require.NoError(t, err)
			_, err = testBook.InsertMany(ctx, []map[string]any{
				{"title": "Dune", "author_id": ann},
				{"title": "Emma", "author_id": ann.ID()},
				{"title": "Solo"},
			})
			require.NoError(t, err)

			_, err = testAuthor.Create(ctx, map[string]any{"name": "Ann"})
			assert.True(t, IsConstraintViolation(err), "got %v", err)

			books, err := testBook.Where(In("title", "Dune", "Emma")).Sort("-title").Populate("author_id").Exec(ctx)
			require.NoError(t, err)
			require.Len(t, books, 2)
			title, _ := books[0].Get("title")
			assert.Equal(t, "Emma", title)
			author, ok := books[0].Related("author_id")
			require.True(t, ok)
			name, _ := author.Get("name")
			assert.Equal(t, "Ann", name)

			a, err := testAuthor.All().Populate("books").First(ctx)
			require.NoError(t, err)
			members, ok := a.Collection("books")
			require.True(t, ok)
			assert.Len(t, members, 2)

			n, err := testBook.Filter(map[string]any{"title__ne": "Solo"}).Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			_, err = testAuthor.Get(ctx, map[string]any{"name": "Zed"})
			assert.True(t, IsNotFound(err))
		})
	}
}

func TestNewRegistry_IsolatedFromDefault(t *testing.T) {
	connect(t, Config{URL: "document://"})
	c, err := Current()
	require.NoError(t, err)

	reg := NewRegistry(c)
	desc, err := NewDescriptor("Tag", []Field{String("label")})
	require.NoError(t, err)
	_, err = reg.Register(desc)
	require.NoError(t, err)

	_, ok := Lookup("Tag")
	assert.False(t, ok)
	_, ok = Lookup("Book")
	assert.True(t, ok)
	assert.Len(t, Models().Models(), 3)
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	connect(t, Config{URL: "document://"})

	applied, err := Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{notesUnit}, applied)

	applied, err = Migrate(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)

	assert.Panics(t, func() { RegisterMigration(notesUnit, func(context.Context, *Schema) error { return nil }, nil) })
}

func TestRollbackAndStatus(t *testing.T) {
	ctx := context.Background()

	_, err := Rollback(ctx)
	assert.True(t, IsConnection(err))
	_, err = MigrationsStatus(ctx)
	assert.True(t, IsConnection(err))

	connect(t, Config{URL: "document://"})

	id, err := Rollback(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = Migrate(ctx)
	require.NoError(t, err)
	st, err := MigrationsStatus(ctx)
	require.NoError(t, err)
	require.Len(t, st, 1)
	assert.Equal(t, notesUnit, st[0].ID)
	assert.True(t, st[0].Applied)

	id, err = Rollback(ctx)
	require.NoError(t, err)
	assert.Equal(t, notesUnit, id)
	st, err = MigrationsStatus(ctx)
	require.NoError(t, err)
	assert.False(t, st[0].Applied)
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	var out, errOut bytes.Buffer

	code := Execute(ctx, []string{"status", "--url", "document://"}, &out, &errOut)
	assert.Equal(t, 0, code, errOut.String())
	assert.Equal(t, "[ ] "+notesUnit+"\n", out.String())

	out.Reset()
	errOut.Reset()
	code = Execute(ctx, []string{"migrate", "--url", "redis://cache", "--format", "json"}, &out, &errOut)
	assert.Equal(t, 2, code)
	assert.Contains(t, out.String(), `"status":"error"`)
	assert.Contains(t, out.String(), `"code":"CONNECTION"`)

	out.Reset()
	errOut.Reset()
	code = Execute(ctx, []string{"rollback", "--url", "redis://cache"}, &out, &errOut)
	assert.Equal(t, 2, code)
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Error [CONNECTION]")
}
