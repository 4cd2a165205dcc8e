package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
)

func userDescriptor(t *testing.T) *Descriptor {
	t.Helper()
	d, err := New("User", []Field{
		String("name", MaxLength(5), Required()),
		String("email", Unique(), Nullable()),
		Integer("rating", Default(0)),
		DateTime("created_at", AutoNowAdd()),
		OneToMany("posts", "Post", "author_id"),
	})
	require.NoError(t, err)
	return d
}

func postDescriptor(t *testing.T) *Descriptor {
	t.Helper()
	d, err := New("Post", []Field{
		String("title"),
		ForeignKey("author_id", "User", Cascade(OnDeleteCascade)),
	})
	require.NoError(t, err)
	return d
}

func TestNew_DefaultCollectionName(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"User", "users"},
		{"Post", "posts"},
		{"LogEntry", "log_entries"},
		{"Category", "categories"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			d, err := New(tt.model, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Collection())
		})
	}
}

func TestNew_WithCollection(t *testing.T) {
	d, err := New("User", nil, WithCollection("people"))
	require.NoError(t, err)
	assert.Equal(t, "people", d.Collection())
}

func TestNew_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		model  string
		fields []Field
	}{
		{"reserved id", "User", []Field{Integer("id")}},
		{"reserved id case-insensitive", "User", []Field{Integer("ID")}},
		{"duplicate", "User", []Field{String("name"), Text("name")}},
		{"case-insensitive duplicate", "User", []Field{String("name"), String("Name")}},
		{"bad identifier", "User", []Field{String("first name")}},
		{"bad model name", "User Model", nil},
		{"reference without model", "Post", []Field{{Name: "author_id", Type: TypeReference}}},
		{"collection without back field", "User", []Field{{Name: "posts", Type: TypeCollection, Ref: "Post"}}},
		{"on-delete on plain field", "User", []Field{String("name", Cascade(OnDeleteCascade))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.model, tt.fields)
			assert.True(t, dberr.IsRelationshipDeclaration(err), "got %v", err)
		})
	}
}

func TestDescriptor_Accessors(t *testing.T) {
	d := userDescriptor(t)

	assert.Equal(t, "User", d.Name())
	assert.Len(t, d.Fields(), 5)
	assert.Len(t, d.Stored(), 4)
	assert.Len(t, d.Collections(), 1)
	assert.Empty(t, d.References())

	assert.True(t, d.Queryable("id"))
	assert.True(t, d.Queryable("rating"))
	assert.False(t, d.Queryable("posts"))
	assert.False(t, d.Queryable("missing"))

	fields := d.Fields()
	fields[0].Name = "mutated"
	f, ok := d.Field("name")
	require.True(t, ok)
	assert.Equal(t, "name", f.Name)
}

func TestDescriptor_Coerce(t *testing.T) {
	d := userDescriptor(t)
	local := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.FixedZone("X", 3600))

	v, err := d.Coerce("rating", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = d.Coerce("rating", 4.0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)

	v, err = d.Coerce("created_at", local)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 11, 0, 0, 123456000, time.UTC), v)

	v, err = d.Coerce("email", nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = d.Coerce("rating", "three")
	assert.True(t, dberr.IsInvalidQuery(err))

	_, err = d.Coerce("rating", 4.5)
	assert.True(t, dberr.IsInvalidQuery(err))

	_, err = d.Coerce("posts", nil)
	assert.True(t, dberr.IsInvalidQuery(err))

	_, err = d.Coerce("name", "Alexander")
	assert.True(t, dberr.IsConstraintViolation(err))
}

func TestField_DefaultValue(t *testing.T) {
	calls := 0
	f := Integer("n", Default(func() any { calls++; return calls }))

	v, ok := f.DefaultValue()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	v, _ = f.DefaultValue()
	assert.Equal(t, 2, v)

	_, ok = Integer("m").DefaultValue()
	assert.False(t, ok)
}

func TestRegistry_ChecksCollectionsInEitherOrder(t *testing.T) {
	t.Run("owner first", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Add(userDescriptor(t)))
		require.NoError(t, r.Add(postDescriptor(t)))
		assert.NoError(t, r.Validate())
	})

	t.Run("target first", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Add(postDescriptor(t)))
		require.NoError(t, r.Add(userDescriptor(t)))
		assert.NoError(t, r.Validate())
	})
}

func TestRegistry_RejectsMissingBackField(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(MustNew("Post", []Field{String("title")})))

	err := r.Add(userDescriptor(t))
	require.Error(t, err)
	assert.True(t, dberr.IsRelationshipDeclaration(err))
	assert.Contains(t, err.Error(), "Post.author_id does not exist")

	_, ok := r.Get("User")
	assert.False(t, ok)
}

func TestRegistry_RejectsLateTargetMismatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(userDescriptor(t)))

	err := r.Add(MustNew("Post", []Field{ForeignKey("author_id", "Account")}))
	assert.True(t, dberr.IsRelationshipDeclaration(err))
}

func TestRegistry_RejectsNonReferenceBackField(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(MustNew("Post", []Field{Integer("author_id")})))

	err := r.Add(userDescriptor(t))
	assert.True(t, dberr.IsRelationshipDeclaration(err))
}

func TestRegistry_SelfReference(t *testing.T) {
	r := NewRegistry()
	d := MustNew("Category", []Field{
		ForeignKey("parent_id", "Category", Nullable()),
		OneToMany("children", "Category", "parent_id"),
	})
	require.NoError(t, r.Add(d))
	assert.NoError(t, r.Validate())
}

func TestRegistry_Duplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(MustNew("User", nil)))

	assert.True(t, dberr.IsRelationshipDeclaration(r.Add(MustNew("User", nil))))
	assert.True(t, dberr.IsRelationshipDeclaration(r.Add(MustNew("Person", nil, WithCollection("users")))))
}

func TestRegistry_ValidateReportsUnregisteredTargets(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(postDescriptor(t)))

	err := r.Validate()
	assert.True(t, dberr.IsRelationshipDeclaration(err))
	assert.Equal(t, []string{"Post"}, r.Names())
}

func TestParseFieldType(t *testing.T) {
	for ft, name := range fieldTypeNames {
		got, ok := ParseFieldType(name)
		require.True(t, ok, name)
		assert.Equal(t, ft, got)
	}
	_, ok := ParseFieldType("blob")
	assert.False(t, ok)
}
