package testutil

import (
	"context"
	"sync"

	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/query"
)

// CountingEngine wraps an engine and records every call made through it,
// so tests can assert on round trips.
//
// Thread-safety: CountingEngine is safe for concurrent use if the wrapped
// engine is.
type CountingEngine struct {
	engine.Engine

	mu    sync.Mutex
	calls map[string]int
	finds []engine.FindQuery
	rows  []int
}

// NewCountingEngine wraps e.
func NewCountingEngine(e engine.Engine) *CountingEngine {
	return &CountingEngine{Engine: e, calls: map[string]int{}}
}

func (c *CountingEngine) record(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[op]++
}

// Calls returns how many times op ("find", "count", "create", ...) was
// called.
func (c *CountingEngine) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Finds returns the Find queries seen so far.
func (c *CountingEngine) Finds() []engine.FindQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]engine.FindQuery(nil), c.finds...)
}

// FetchedRows returns the number of rows returned by each Find.
func (c *CountingEngine) FetchedRows() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.rows...)
}

// Reset clears the recorded calls.
func (c *CountingEngine) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = map[string]int{}
	c.finds = nil
	c.rows = nil
}

func (c *CountingEngine) Create(ctx context.Context, collection string, fields engine.Doc) (engine.Row, error) {
	c.record("create")
	return c.Engine.Create(ctx, collection, fields)
}

func (c *CountingEngine) InsertMany(ctx context.Context, collection string, docs []engine.Doc) ([]engine.Row, error) {
	c.record("insert_many")
	return c.Engine.InsertMany(ctx, collection, docs)
}

func (c *CountingEngine) Find(ctx context.Context, collection string, q engine.FindQuery) ([]engine.Row, error) {
	c.record("find")
	rows, err := c.Engine.Find(ctx, collection, q)
	c.mu.Lock()
	c.finds = append(c.finds, q)
	c.rows = append(c.rows, len(rows))
	c.mu.Unlock()
	return rows, err
}

func (c *CountingEngine) Count(ctx context.Context, collection string, where query.Predicate) (int64, error) {
	c.record("count")
	return c.Engine.Count(ctx, collection, where)
}

func (c *CountingEngine) UpdateMany(ctx context.Context, collection string, where query.Predicate, patch engine.Doc) (int64, error) {
	c.record("update_many")
	return c.Engine.UpdateMany(ctx, collection, where, patch)
}

func (c *CountingEngine) DeleteMany(ctx context.Context, collection string, where query.Predicate) (int64, error) {
	c.record("delete_many")
	return c.Engine.DeleteMany(ctx, collection, where)
}

func (c *CountingEngine) EnsureCollection(ctx context.Context, collection string, hint engine.SchemaHint) error {
	c.record("ensure")
	return c.Engine.EnsureCollection(ctx, collection, hint)
}

func (c *CountingEngine) DropCollection(ctx context.Context, collection string) error {
	c.record("drop")
	return c.Engine.DropCollection(ctx, collection)
}
