package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabernacleorm/tabernacle/internal/docengine"
	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/query"
)

func TestCountingEngine_RecordsCalls(t *testing.T) {
	ctx := context.Background()
	c := NewCountingEngine(docengine.New(docengine.WithAutoCreate(true)))
	defer c.Close()

	_, err := c.Create(ctx, "users", engine.Doc{"name": "Alice"})
	require.NoError(t, err)
	_, err = c.InsertMany(ctx, "users", []engine.Doc{{"name": "Bob"}, {"name": "Carol"}})
	require.NoError(t, err)

	rows, err := c.Find(ctx, "users", engine.FindQuery{Where: query.Ne("name", "Bob"), Limit: 5})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	assert.Equal(t, 1, c.Calls("create"))
	assert.Equal(t, 1, c.Calls("insert_many"))
	assert.Equal(t, 1, c.Calls("find"))
	assert.Equal(t, []int{2}, c.FetchedRows())
	assert.Equal(t, 5, c.Finds()[0].Limit)

	c.Reset()
	assert.Zero(t, c.Calls("find"))
	assert.Empty(t, c.Finds())
}
