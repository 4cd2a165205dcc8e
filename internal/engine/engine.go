package engine

import (
	"context"

	"github.com/tabernacleorm/tabernacle/internal/query"
	"github.com/tabernacleorm/tabernacle/internal/schema"
)

// Engine is the capability contract every storage backend implements.
//
// Collections are addressed by name. Field values crossing the contract use
// the canonical forms produced by schema.Coerce: int64, float64, string,
// bool, time.Time (UTC) and nil.
//
// Shared semantics:
//   - Create fails with a constraint violation on a unique breach and with
//     not-found when the collection does not exist and auto-creation is off.
//   - Find applies the predicate, then sort, then skip and limit. A nil
//     predicate matches everything. Ascending sorts place null and missing
//     values first, descending sorts place them last, and ties keep
//     insertion order.
//   - UpdateMany returns 0 without error when nothing matches. Patching the
//     id is an invalid query.
//   - EnsureCollection is idempotent and adds fields missing from an
//     existing collection.
type Engine interface {
	// Name identifies the backend ("sqlite", "postgres", "mysql", "document").
	Name() string

	// KeyKind reports the representation of ids assigned by the engine.
	KeyKind() KeyKind

	Create(ctx context.Context, collection string, fields Doc) (Row, error)
	Find(ctx context.Context, collection string, q FindQuery) ([]Row, error)
	UpdateMany(ctx context.Context, collection string, where query.Predicate, patch Doc) (int64, error)
	DeleteMany(ctx context.Context, collection string, where query.Predicate) (int64, error)

	// InsertMany stores docs in one round trip and returns the rows in input
	// order.
	InsertMany(ctx context.Context, collection string, docs []Doc) ([]Row, error)

	Count(ctx context.Context, collection string, where query.Predicate) (int64, error)
	EnsureCollection(ctx context.Context, collection string, hint SchemaHint) error
	DropCollection(ctx context.Context, collection string) error
	Close() error
}

// Execer is implemented by engines that accept raw statements, for use in
// hand-written migrations.
type Execer interface {
	Exec(ctx context.Context, stmt string, args ...any) error
}

// KeyKind is the representation of engine-assigned ids.
type KeyKind int

const (
	// KeyInteger ids are int64 (relational auto-increment keys).
	KeyInteger KeyKind = iota + 1
	// KeyString ids are strings (document engine UUIDs).
	KeyString
)

// String returns the key kind name.
func (k KeyKind) String() string {
	switch k {
	case KeyInteger:
		return "integer"
	case KeyString:
		return "string"
	}
	return "unknown"
}

// Doc is a set of field values keyed by field name.
type Doc map[string]any

// Clone returns a shallow copy of d.
func (d Doc) Clone() Doc {
	if d == nil {
		return nil
	}
	out := make(Doc, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Row is one stored record as returned by an engine.
type Row struct {
	ID     any
	Fields Doc
}

// FindQuery carries the filter, order and window of a Find.
// Limit 0 means unbounded.
type FindQuery struct {
	Where query.Predicate
	Sort  []query.SortKey
	Skip  int
	Limit int
}

// SchemaHint describes the persisted fields of a collection so engines can
// create and evolve it.
type SchemaHint struct {
	Fields []ColumnHint
}

// ColumnHint describes one persisted field.
type ColumnHint struct {
	Name      string
	Type      schema.FieldType
	Nullable  bool
	Unique    bool
	Required  bool
	MaxLength int

	// Ref is set for reference fields.
	Ref *RefHint
}

// ColumnFor returns the hint for a stored field. Reference targets are
// left for the caller to describe.
func ColumnFor(f schema.Field) ColumnHint {
	return ColumnHint{
		Name:      f.Name,
		Type:      f.Type,
		Nullable:  f.Nullable,
		Unique:    f.Unique,
		Required:  f.Required,
		MaxLength: f.MaxLength,
	}
}

// RefHint describes the target of a reference column.
type RefHint struct {
	Collection string
	KeyKind    KeyKind
	OnDelete   schema.OnDelete

	// SameEngine is true when the target lives on the same engine, which
	// allows a database-level foreign key.
	SameEngine bool
}

// Binding routes writes and reads to engines.
type Binding interface {
	Write() Engine
	Read() Engine
}

// Single binds one engine for both reads and writes.
func Single(e Engine) Binding { return single{e} }

type single struct{ e Engine }

func (s single) Write() Engine { return s.e }
func (s single) Read() Engine  { return s.e }

// AutoCreator is implemented by bindings that create collections on first
// use.
type AutoCreator interface {
	AutoCreate() bool
}
