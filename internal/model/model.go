package model

import (
	"context"
	"sort"
	"sync"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/query"
	"github.com/tabernacleorm/tabernacle/internal/record"
	"github.com/tabernacleorm/tabernacle/internal/schema"
)

// Model is a registered descriptor bound to engines. It is the entry point
// for creating, querying and persisting records of one kind.
//
// Thread-safety: Model is safe for concurrent use.
type Model struct {
	reg  *Registry
	desc *schema.Descriptor

	mu      sync.Mutex
	binding engine.Binding
	ensured map[engine.Engine]bool
}

// Name returns the model name.
func (m *Model) Name() string { return m.desc.Name() }

// Descriptor returns the model descriptor.
func (m *Model) Descriptor() *schema.Descriptor { return m.desc }

// Bind replaces the model's binding. A nil binding reverts to the registry
// default.
func (m *Model) Bind(b engine.Binding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.binding = b
}

// Binding returns the engines the model currently routes to.
func (m *Model) Binding() (engine.Binding, error) {
	m.mu.Lock()
	b := m.binding
	m.mu.Unlock()
	if b != nil {
		return b, nil
	}
	b, err := m.reg.defaultBinding()
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, dberr.Connection(nil, "model %s is not bound to a connection", m.Name())
	}
	return b, nil
}

// New returns an unsaved record. Values are coerced to their stored form;
// defaults and timestamps are applied when the record is saved.
func (m *Model) New(fields map[string]any) (*record.Record, error) {
	r := record.New(m.desc, m, nil)
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.Set(name, fields[name]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Create validates fields, applies defaults and timestamps, and stores a
// new record.
func (m *Model) Create(ctx context.Context, fields map[string]any) (*record.Record, error) {
	doc, err := m.prepareInsert(fields)
	if err != nil {
		return nil, err
	}
	w, err := m.writer(ctx)
	if err != nil {
		return nil, err
	}
	row, err := w.Create(ctx, m.desc.Collection(), doc)
	if err != nil {
		return nil, err
	}
	return record.FromRow(m.desc, m, row), nil
}

// InsertMany creates records in one engine round trip. Either every
// document is stored or none is.
func (m *Model) InsertMany(ctx context.Context, docs []map[string]any) ([]*record.Record, error) {
	prepared := make([]engine.Doc, len(docs))
	for i, fields := range docs {
		doc, err := m.prepareInsert(fields)
		if err != nil {
			return nil, err
		}
		prepared[i] = doc
	}
	if len(prepared) == 0 {
		return []*record.Record{}, nil
	}
	w, err := m.writer(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := w.InsertMany(ctx, m.desc.Collection(), prepared)
	if err != nil {
		return nil, err
	}
	return m.wrap(rows), nil
}

// Find starts a query from an operator document such as
// {"rating": {"$gt": 3}}.
func (m *Model) Find(filter map[string]any) *Query {
	return m.All().Match(filter)
}

// Filter starts a query from keyword filters such as {"rating__gt": 3}.
func (m *Model) Filter(keywords map[string]any) *Query {
	return m.All().Filter(keywords)
}

// Where starts a query from predicates.
func (m *Model) Where(preds ...query.Predicate) *Query {
	return m.All().Where(preds...)
}

// All starts a query matching every record.
func (m *Model) All() *Query {
	return &Query{model: m}
}

// Get returns the single record matching keywords, or a not-found error.
func (m *Model) Get(ctx context.Context, keywords map[string]any) (*record.Record, error) {
	r, err := m.Filter(keywords).First(ctx)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, dberr.NotFound(m.desc.Collection(), "no %s matches %v", m.Name(), keywords)
	}
	return r, nil
}

// FindByID returns the record with id, or nil when there is none.
func (m *Model) FindByID(ctx context.Context, id any) (*record.Record, error) {
	if id == nil {
		return nil, nil
	}
	return m.Where(query.Eq(schema.IDField, id)).First(ctx)
}

// Count returns the number of stored records.
func (m *Model) Count(ctx context.Context) (int64, error) {
	return m.All().Count(ctx)
}

// Fetch loads records matching where from the read engine. Population uses
// it to resolve relationships.
func (m *Model) Fetch(ctx context.Context, where query.Predicate) ([]*record.Record, error) {
	r, err := m.reader(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.Find(ctx, m.desc.Collection(), engine.FindQuery{Where: where})
	if err != nil {
		return nil, err
	}
	return m.wrap(rows), nil
}

func (m *Model) wrap(rows []engine.Row) []*record.Record {
	out := make([]*record.Record, len(rows))
	for i, row := range rows {
		out[i] = record.FromRow(m.desc, m, row)
	}
	return out
}

func (m *Model) writer(ctx context.Context) (engine.Engine, error) {
	b, err := m.Binding()
	if err != nil {
		return nil, err
	}
	if err := m.ensure(ctx, b); err != nil {
		return nil, err
	}
	return b.Write(), nil
}

func (m *Model) reader(ctx context.Context) (engine.Engine, error) {
	b, err := m.Binding()
	if err != nil {
		return nil, err
	}
	if err := m.ensure(ctx, b); err != nil {
		return nil, err
	}
	return b.Read(), nil
}

// prepareInsert turns caller-supplied fields into the document stored on
// creation. Unknown fields are rejected, records assigned to references
// become their ids, defaults fill absent fields and timestamp fields are
// stamped.
func (m *Model) prepareInsert(fields map[string]any) (engine.Doc, error) {
	doc := engine.Doc{}
	for name, v := range fields {
		f, ok := m.desc.Field(name)
		if !ok || !f.Stored() {
			return nil, dberr.InvalidQuery(name, "unknown field on %s", m.Name())
		}
		v, err := m.storedValue(f, v)
		if err != nil {
			return nil, err
		}
		doc[name] = v
	}

	now := schema.NormalizeTime(m.reg.clock.Now())
	for _, f := range m.desc.Stored() {
		if f.AutoNow || f.AutoNowAdd {
			doc[f.Name] = now
			continue
		}
		v, present := doc[f.Name]
		if !present {
			if def, ok := f.DefaultValue(); ok {
				stored, err := m.desc.Coerce(f.Name, def)
				if err != nil {
					return nil, err
				}
				doc[f.Name] = stored
				continue
			}
		}
		switch {
		case !present && f.Required:
			return nil, dberr.ConstraintViolation(m.desc.Collection(), f.Name, "required field is missing")
		case present && v == nil && !f.Nullable:
			return nil, dberr.ConstraintViolation(m.desc.Collection(), f.Name, "field is not nullable")
		case !present:
			// Absent fields are stored as null on every engine.
			doc[f.Name] = nil
		}
	}
	return doc, nil
}

// storedValue coerces one caller value, replacing a record assigned to a
// reference with its id.
func (m *Model) storedValue(f schema.Field, v any) (any, error) {
	if rec, ok := v.(*record.Record); ok {
		if f.Type != schema.TypeReference {
			return nil, dberr.InvalidQuery(f.Name, "only reference fields accept records")
		}
		if rec.Model() != f.Ref {
			return nil, dberr.InvalidQuery(f.Name, "expects a %s record, got %s", f.Ref, rec.Model())
		}
		if v = rec.ID(); v == nil {
			return nil, dberr.InvalidQuery(f.Name, "referenced %s record is not saved", rec.Model())
		}
	}
	return m.desc.Coerce(f.Name, v)
}
