package docengine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/query"
	"github.com/tabernacleorm/tabernacle/internal/schema"
)

// Engine is an in-process document store implementing engine.Engine.
//
// Documents carry a string UUIDv7 id and an insertion sequence that breaks
// sort ties. Field values are normalized through a msgpack round trip on
// write, so stored documents never alias caller memory.
//
// Thread-safety: a sync.RWMutex guards every collection. Writes are
// exclusive and reads are shared, so a write never interleaves with a
// read in progress.
type Engine struct {
	mu          sync.RWMutex
	collections map[string]*collection
	closed      bool

	ids        engine.IDGenerator
	seq        *engine.Sequence
	autoCreate bool
	path       string
	logger     *slog.Logger
}

var _ engine.Engine = (*Engine)(nil)

// collection holds documents in insertion order.
type collection struct {
	docs   []*storedDoc
	fields map[string]engine.ColumnHint

	// absent marks the empty stand-in read for a collection that does not
	// exist yet under auto-create. It accepts every field.
	absent bool
}

type storedDoc struct {
	ID     string
	Seq    int64
	Fields engine.Doc
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for filter tracing and persistence events.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithIDGenerator replaces the UUIDv7 id generator. Used by tests for
// deterministic ids.
func WithIDGenerator(g engine.IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithAutoCreate makes writes to an absent collection create it instead of
// failing with NotFound.
func WithAutoCreate(on bool) Option {
	return func(e *Engine) { e.autoCreate = on }
}

// New returns an empty in-memory engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		collections: make(map[string]*collection),
		ids:         engine.UUIDv7Generator{},
		seq:         engine.NewSequenceAt(0),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns "document".
func (e *Engine) Name() string { return "document" }

// KeyKind reports string ids.
func (e *Engine) KeyKind() engine.KeyKind { return engine.KeyString }

// Close persists the snapshot, if any, and releases the engine. Later
// calls fail with a connection error.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.persistLocked()
}

// begin checks the context and engine state. Callers hold the lock.
func (e *Engine) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.closed {
		return dberr.Connection(nil, "document engine is closed")
	}
	return nil
}

// writable returns the named collection, creating it when auto-create is
// on. Callers hold the write lock.
func (e *Engine) writable(name string) (*collection, error) {
	if c, ok := e.collections[name]; ok {
		return c, nil
	}
	if !e.autoCreate {
		return nil, dberr.NotFound(name, "collection does not exist")
	}
	c := &collection{fields: map[string]engine.ColumnHint{}}
	e.collections[name] = c
	e.logger.Debug("collection created", "collection", name)
	return c, nil
}

// readable returns the named collection. A missing collection is NotFound
// unless auto-create is on, in which case it reads as empty.
func (e *Engine) readable(name string) (*collection, error) {
	if c, ok := e.collections[name]; ok {
		return c, nil
	}
	if e.autoCreate {
		return &collection{fields: map[string]engine.ColumnHint{}, absent: true}, nil
	}
	return nil, dberr.NotFound(name, "collection does not exist")
}

// Create stores one document and returns it with its generated id.
func (e *Engine) Create(ctx context.Context, name string, fields engine.Doc) (engine.Row, error) {
	rows, err := e.insert(ctx, name, []engine.Doc{fields})
	if err != nil {
		return engine.Row{}, err
	}
	return rows[0], nil
}

// InsertMany stores docs under one write lock. Either every document is
// stored or none is.
func (e *Engine) InsertMany(ctx context.Context, name string, docs []engine.Doc) ([]engine.Row, error) {
	if len(docs) == 0 {
		return []engine.Row{}, nil
	}
	return e.insert(ctx, name, docs)
}

func (e *Engine) insert(ctx context.Context, name string, docs []engine.Doc) ([]engine.Row, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	c, err := e.writable(name)
	if err != nil {
		return nil, err
	}

	pending := make([]*storedDoc, 0, len(docs))
	for _, d := range docs {
		if _, ok := d[schema.IDField]; ok {
			return nil, dberr.InvalidQuery(schema.IDField, "id is assigned by the engine")
		}
		fields, err := normalize(d)
		if err != nil {
			return nil, err
		}
		pending = append(pending, &storedDoc{Fields: fields})
	}
	for i, d := range pending {
		if err := c.checkRequired(name, d.Fields); err != nil {
			return nil, err
		}
		if err := c.checkUnique(name, d, pending[:i]); err != nil {
			return nil, err
		}
	}

	rows := make([]engine.Row, len(pending))
	for i, d := range pending {
		d.ID = e.ids.Generate()
		d.Seq = e.seq.Next()
		c.docs = append(c.docs, d)
		c.learn(d.Fields)
		rows[i] = d.row()
	}
	if err := e.persistLocked(); err != nil {
		return nil, err
	}
	return rows, nil
}

// Find returns matching documents: filter, then sort, then skip and limit.
func (e *Engine) Find(ctx context.Context, name string, q engine.FindQuery) ([]engine.Row, error) {
	if q.Skip < 0 || q.Limit < 0 {
		return nil, dberr.InvalidQuery("", "negative skip or limit")
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	c, err := e.readable(name)
	if err != nil {
		return nil, err
	}
	if err := c.checkSort(q.Sort); err != nil {
		return nil, err
	}
	hits, err := e.match(c, name, q.Where)
	if err != nil {
		return nil, err
	}

	if len(q.Sort) > 0 {
		sort.SliceStable(hits, func(i, j int) bool {
			return lessBySort(hits[i], hits[j], q.Sort)
		})
	}
	hits = window(hits, q.Skip, q.Limit)

	out := make([]engine.Row, len(hits))
	for i, d := range hits {
		out[i] = d.row()
	}
	return out, nil
}

// Count returns the number of matching documents.
func (e *Engine) Count(ctx context.Context, name string, where query.Predicate) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.begin(ctx); err != nil {
		return 0, err
	}
	c, err := e.readable(name)
	if err != nil {
		return 0, err
	}
	hits, err := e.match(c, name, where)
	if err != nil {
		return 0, err
	}
	return int64(len(hits)), nil
}

// UpdateMany overwrites the patched fields of matching documents.
func (e *Engine) UpdateMany(ctx context.Context, name string, where query.Predicate, patch engine.Doc) (int64, error) {
	if _, ok := patch[schema.IDField]; ok {
		return 0, dberr.InvalidQuery(schema.IDField, "id cannot be updated")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin(ctx); err != nil {
		return 0, err
	}
	c, err := e.readable(name)
	if err != nil {
		return 0, err
	}
	hits, err := e.match(c, name, where)
	if err != nil || len(hits) == 0 || len(patch) == 0 {
		return 0, err
	}
	norm, err := normalize(patch)
	if err != nil {
		return 0, err
	}

	// Validate every updated document before applying any change.
	updated := make([]*storedDoc, len(hits))
	for i, d := range hits {
		next := &storedDoc{ID: d.ID, Seq: d.Seq, Fields: d.Fields.Clone()}
		for k, v := range norm {
			next.Fields[k] = v
		}
		if err := c.checkRequired(name, next.Fields); err != nil {
			return 0, err
		}
		updated[i] = next
	}
	if err := c.checkUniqueUpdate(name, updated, norm); err != nil {
		return 0, err
	}
	for i, d := range hits {
		d.Fields = updated[i].Fields
	}
	c.learn(norm)
	if err := e.persistLocked(); err != nil {
		return 0, err
	}
	return int64(len(hits)), nil
}

// DeleteMany removes matching documents.
func (e *Engine) DeleteMany(ctx context.Context, name string, where query.Predicate) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin(ctx); err != nil {
		return 0, err
	}
	c, err := e.readable(name)
	if err != nil {
		return 0, err
	}
	hits, err := e.match(c, name, where)
	if err != nil || len(hits) == 0 {
		return 0, err
	}
	gone := make(map[*storedDoc]bool, len(hits))
	for _, d := range hits {
		gone[d] = true
	}
	kept := c.docs[:0]
	for _, d := range c.docs {
		if !gone[d] {
			kept = append(kept, d)
		}
	}
	clear(c.docs[len(kept):])
	c.docs = kept
	if err := e.persistLocked(); err != nil {
		return 0, err
	}
	return int64(len(hits)), nil
}

// EnsureCollection creates the collection when absent and records hinted
// fields. Adding a unique field to a collection whose documents already
// hold duplicate values fails with a constraint violation.
func (e *Engine) EnsureCollection(ctx context.Context, name string, hint engine.SchemaHint) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin(ctx); err != nil {
		return err
	}
	c, ok := e.collections[name]
	if !ok {
		c = &collection{fields: map[string]engine.ColumnHint{}}
	}
	for _, h := range hint.Fields {
		prev, known := c.fields[h.Name]
		if h.Unique && !prev.Unique {
			if err := c.checkUniqueColumn(name, h.Name); err != nil {
				return err
			}
		}
		c.fields[h.Name] = h
		if ok && !known {
			e.logger.Info("field added", "collection", name, "field", h.Name)
		}
	}
	if !ok {
		e.collections[name] = c
		e.logger.Debug("collection created", "collection", name)
	}
	return e.persistLocked()
}

// DropCollection removes the collection and its documents. Dropping an
// absent collection is a no-op.
func (e *Engine) DropCollection(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin(ctx); err != nil {
		return err
	}
	if _, ok := e.collections[name]; !ok {
		return nil
	}
	delete(e.collections, name)
	return e.persistLocked()
}

// Collections returns the names of existing collections, sorted.
func (e *Engine) Collections() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.collections))
	for name := range e.collections {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// match compiles the predicate and returns the matching documents in
// insertion order.
func (e *Engine) match(c *collection, name string, where query.Predicate) ([]*storedDoc, error) {
	f, err := compileFilter(where)
	if err != nil {
		return nil, err
	}
	for _, field := range filterFields(f) {
		if !c.knows(field) {
			return nil, dberr.InvalidQuery(field, "unknown field on collection %s", name)
		}
	}
	e.logger.Debug("filter", "engine", "document", "collection", name, "filter", f)

	out := []*storedDoc{}
	for _, d := range c.docs {
		if matches(f, d) {
			out = append(out, d)
		}
	}
	return out, nil
}

func lessBySort(a, b *storedDoc, keys []query.SortKey) bool {
	for _, k := range keys {
		av, _ := a.lookup(k.Field)
		bv, _ := b.lookup(k.Field)
		c := compareForSort(av, bv)
		if k.Desc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
	}
	return a.Seq < b.Seq
}

func window(docs []*storedDoc, skip, limit int) []*storedDoc {
	if skip >= len(docs) {
		return docs[:0]
	}
	docs = docs[skip:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}

func (d *storedDoc) row() engine.Row {
	return engine.Row{ID: d.ID, Fields: d.Fields.Clone()}
}

// knows reports whether field can be queried on the collection: the id,
// hinted fields, and fields any stored document has carried.
func (c *collection) knows(field string) bool {
	if field == schema.IDField || c.absent {
		return true
	}
	_, ok := c.fields[field]
	return ok
}

// learn records field names seen on writes so collections created without
// a hint remain queryable.
func (c *collection) learn(fields engine.Doc) {
	for k := range fields {
		if _, ok := c.fields[k]; !ok {
			c.fields[k] = engine.ColumnHint{Name: k, Nullable: true}
		}
	}
}

func (c *collection) checkSort(keys []query.SortKey) error {
	for _, k := range keys {
		if !c.knows(k.Field) {
			return dberr.InvalidQuery(k.Field, "unknown sort field")
		}
	}
	return nil
}

// checkRequired enforces non-null required fields, mirroring NOT NULL
// columns on the relational engine.
func (c *collection) checkRequired(name string, fields engine.Doc) error {
	for _, h := range c.fields {
		if !h.Required || h.Nullable {
			continue
		}
		if fields[h.Name] == nil {
			return dberr.ConstraintViolation(name, h.Name, "required field is null")
		}
	}
	return nil
}

// checkUnique rejects d when a unique field collides with a stored
// document or an earlier document of the same batch. Null never collides.
func (c *collection) checkUnique(name string, d *storedDoc, batch []*storedDoc) error {
	for _, h := range c.fields {
		if !h.Unique {
			continue
		}
		v := d.Fields[h.Name]
		if v == nil {
			continue
		}
		for _, other := range c.docs {
			if query.Equal(other.Fields[h.Name], v) {
				return dberr.ConstraintViolation(name, h.Name, "duplicate value %v", v)
			}
		}
		for _, other := range batch {
			if query.Equal(other.Fields[h.Name], v) {
				return dberr.ConstraintViolation(name, h.Name, "duplicate value %v", v)
			}
		}
	}
	return nil
}

// checkUniqueUpdate verifies that applying patch keeps unique fields
// distinct across the whole collection.
func (c *collection) checkUniqueUpdate(name string, updated []*storedDoc, patch engine.Doc) error {
	next := make(map[string]*storedDoc, len(updated))
	for _, d := range updated {
		next[d.ID] = d
	}
	for field := range patch {
		if h, ok := c.fields[field]; !ok || !h.Unique {
			continue
		}
		seen := []any{}
		for _, d := range c.docs {
			if u, ok := next[d.ID]; ok {
				d = u
			}
			v := d.Fields[field]
			if v == nil {
				continue
			}
			for _, s := range seen {
				if query.Equal(s, v) {
					return dberr.ConstraintViolation(name, field, "duplicate value %v", v)
				}
			}
			seen = append(seen, v)
		}
	}
	return nil
}

func (c *collection) checkUniqueColumn(name, field string) error {
	seen := []any{}
	for _, d := range c.docs {
		v := d.Fields[field]
		if v == nil {
			continue
		}
		for _, s := range seen {
			if query.Equal(s, v) {
				return dberr.ConstraintViolation(name, field, "existing documents hold duplicate value %v", v)
			}
		}
		seen = append(seen, v)
	}
	return nil
}

// canonicalValue converts filter operands to stored forms.
func canonicalValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UTC()
	case []byte:
		return string(x)
	}
	return v
}
