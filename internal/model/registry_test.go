package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
	"github.com/tabernacleorm/tabernacle/internal/docengine"
	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/schema"
)

func TestRegister(t *testing.T) {
	reg := NewRegistry()
	posts, err := reg.Register(postDesc())
	require.NoError(t, err)
	assert.Equal(t, "Post", posts.Name())

	// The forward target is not registered yet.
	assert.True(t, dberr.IsRelationshipDeclaration(reg.Validate()))

	users := reg.MustRegister(userDesc())
	require.NoError(t, reg.Validate())

	got, ok := reg.Model("User")
	require.True(t, ok)
	assert.Same(t, users, got)
	assert.Equal(t, []*Model{posts, users}, reg.Models())

	_, err = reg.Register(userDesc())
	assert.True(t, dberr.IsRelationshipDeclaration(err))
}

func TestRegister_BadBackReference(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(postDesc())

	broken := schema.MustNew("Author", []schema.Field{
		schema.String("name"),
		schema.OneToMany("posts", "Post", "writer_id"),
	})
	_, err := reg.Register(broken)
	assert.True(t, dberr.IsRelationshipDeclaration(err), "got %v", err)
}

func TestFetcher(t *testing.T) {
	reg := NewRegistry()
	users := reg.MustRegister(userDesc())

	f, err := reg.Fetcher("User")
	require.NoError(t, err)
	assert.Same(t, users, f)

	_, err = reg.Fetcher("Ghost")
	assert.True(t, dberr.IsRelationshipDeclaration(err))
}

func TestBinding(t *testing.T) {
	shared := engine.Single(docengine.New())
	own := engine.Single(docengine.New())
	reg := NewRegistry(WithBinding(shared))
	users := reg.MustRegister(userDesc())
	posts := reg.MustRegister(postDesc(), Bind(own))

	b, err := users.Binding()
	require.NoError(t, err)
	assert.Equal(t, shared, b)
	b, err = posts.Binding()
	require.NoError(t, err)
	assert.Equal(t, own, b)

	posts.Bind(nil)
	b, err = posts.Binding()
	require.NoError(t, err)
	assert.Equal(t, shared, b)
}

func TestBindingResolver(t *testing.T) {
	var current engine.Binding
	reg := NewRegistry(WithBindingResolver(func() (engine.Binding, error) {
		if current == nil {
			return nil, dberr.Connection(nil, "not connected")
		}
		return current, nil
	}))
	users := reg.MustRegister(userDesc())

	_, err := users.Binding()
	assert.True(t, dberr.IsConnection(err))

	current = engine.Single(docengine.New())
	b, err := users.Binding()
	require.NoError(t, err)
	assert.Equal(t, current, b)
}
