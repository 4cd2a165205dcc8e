package model

import (
	"context"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/populate"
	"github.com/tabernacleorm/tabernacle/internal/query"
	"github.com/tabernacleorm/tabernacle/internal/record"
	"github.com/tabernacleorm/tabernacle/internal/schema"
)

// Query is an immutable, chainable query over one model. Every builder
// method returns a new Query and leaves the receiver untouched, so a
// partially built query can be shared and extended independently.
//
// Invalid input is detected by the builder call that introduced it. The
// error sticks to the query and every later terminal operation returns it
// without touching an engine.
type Query struct {
	model  *Model
	intent query.Intent
	err    error
}

func (q *Query) derive(fn func(*Query) error) *Query {
	if q.err != nil {
		return q
	}
	next := &Query{model: q.model, intent: q.intent.Clone()}
	if err := fn(next); err != nil {
		return &Query{model: q.model, intent: q.intent, err: err}
	}
	return next
}

// Err returns the sticky builder error, if any.
func (q *Query) Err() error { return q.err }

// Intent returns a copy of the accumulated query description.
func (q *Query) Intent() query.Intent { return q.intent.Clone() }

// Where narrows the query with predicates, conjoined with any existing
// filter.
func (q *Query) Where(preds ...query.Predicate) *Query {
	return q.derive(func(next *Query) error {
		p, err := q.model.preparePredicate(query.AllOf(preds...))
		if err != nil {
			return err
		}
		next.intent.Where = query.AllOf(next.intent.Where, p)
		return nil
	})
}

// Match narrows the query with an operator document.
func (q *Query) Match(filter map[string]any) *Query {
	p, err := query.FromOperatorMap(filter)
	if err != nil {
		return q.fail(err)
	}
	return q.Where(p)
}

// Filter narrows the query with keyword filters.
func (q *Query) Filter(keywords map[string]any) *Query {
	p, err := query.FromKeywords(keywords)
	if err != nil {
		return q.fail(err)
	}
	return q.Where(p)
}

// Sort appends sort keys in "-field" notation. A field already sorted on
// keeps its first position.
func (q *Query) Sort(specs ...string) *Query {
	return q.derive(func(next *Query) error {
		keys, err := query.ParseSort(specs...)
		if err != nil {
			return err
		}
		if err := query.ValidateSort(keys, q.model.desc.Queryable); err != nil {
			return err
		}
		seen := map[string]bool{}
		for _, k := range next.intent.Sort {
			seen[k.Field] = true
		}
		for _, k := range keys {
			if !seen[k.Field] {
				seen[k.Field] = true
				next.intent.Sort = append(next.intent.Sort, k)
			}
		}
		return nil
	})
}

// Skip skips the first n matches.
func (q *Query) Skip(n int) *Query {
	return q.derive(func(next *Query) error {
		if n < 0 {
			return dberr.InvalidQuery("", "negative skip %d", n)
		}
		next.intent.Skip = n
		return nil
	})
}

// Limit caps the number of results. 0 removes the cap.
func (q *Query) Limit(n int) *Query {
	return q.derive(func(next *Query) error {
		if n < 0 {
			return dberr.InvalidQuery("", "negative limit %d", n)
		}
		next.intent.Limit = n
		return nil
	})
}

// Populate requests relationship resolution on the results. Paths are
// dotted for nested population ("posts.comments").
func (q *Query) Populate(paths ...string) *Query {
	return q.derive(func(next *Query) error {
		reqs, err := query.ParsePopulate(next.intent.Populate, paths...)
		if err != nil {
			return err
		}
		if err := populate.Validate(q.model.desc, reqs, q.model.reg.lookup); err != nil {
			return err
		}
		next.intent.Populate = reqs
		return nil
	})
}

func (q *Query) fail(err error) *Query {
	if q.err != nil {
		return q
	}
	return &Query{model: q.model, intent: q.intent, err: err}
}

// Exec runs the query and returns the matching records, populated as
// requested.
func (q *Query) Exec(ctx context.Context) ([]*record.Record, error) {
	if q.err != nil {
		return nil, q.err
	}
	return q.run(ctx, q.intent)
}

// All is an alias for Exec.
func (q *Query) All(ctx context.Context) ([]*record.Record, error) {
	return q.Exec(ctx)
}

// First returns the first match, or nil when there is none. At most one
// record is fetched.
func (q *Query) First(ctx context.Context) (*record.Record, error) {
	if q.err != nil {
		return nil, q.err
	}
	intent := q.intent.Clone()
	intent.Limit = 1
	recs, err := q.run(ctx, intent)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// Count returns the number of records Exec would return.
func (q *Query) Count(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	r, err := q.model.reader(ctx)
	if err != nil {
		return 0, err
	}
	n, err := r.Count(ctx, q.model.desc.Collection(), q.intent.Where)
	if err != nil {
		return 0, err
	}
	n -= int64(q.intent.Skip)
	if n < 0 {
		n = 0
	}
	if q.intent.Limit > 0 && n > int64(q.intent.Limit) {
		n = int64(q.intent.Limit)
	}
	return n, nil
}

// Delete removes the matching records and returns how many were removed.
func (q *Query) Delete(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	w, err := q.model.writer(ctx)
	if err != nil {
		return 0, err
	}
	where, empty, err := q.mutationTarget(ctx, w)
	if err != nil || empty {
		return 0, err
	}
	return w.DeleteMany(ctx, q.model.desc.Collection(), where)
}

// Update applies patch to the matching records and returns how many were
// updated. auto_now fields are restamped.
func (q *Query) Update(ctx context.Context, patch map[string]any) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	doc, err := q.model.preparePatch(patch)
	if err != nil {
		return 0, err
	}
	if len(doc) == 0 {
		return 0, nil
	}
	w, err := q.model.writer(ctx)
	if err != nil {
		return 0, err
	}
	where, empty, err := q.mutationTarget(ctx, w)
	if err != nil || empty {
		return 0, err
	}
	return w.UpdateMany(ctx, q.model.desc.Collection(), where, doc)
}

// mutationTarget returns the predicate a bulk mutation applies to. A sorted
// or paged query is first resolved to the ids it selects.
func (q *Query) mutationTarget(ctx context.Context, w engine.Engine) (query.Predicate, bool, error) {
	if !q.intent.Paged() && len(q.intent.Sort) == 0 {
		return q.intent.Where, false, nil
	}
	rows, err := w.Find(ctx, q.model.desc.Collection(), q.findQuery(q.intent))
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, true, nil
	}
	ids := make([]any, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	return query.In(schema.IDField, ids...), false, nil
}

func (q *Query) run(ctx context.Context, intent query.Intent) ([]*record.Record, error) {
	m := q.model
	r, err := m.reader(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.Find(ctx, m.desc.Collection(), q.findQuery(intent))
	if err != nil {
		return nil, err
	}
	recs := m.wrap(rows)
	if len(intent.Populate) > 0 {
		if err := m.reg.resolver.Resolve(ctx, recs, intent.Populate); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

func (q *Query) findQuery(intent query.Intent) engine.FindQuery {
	return engine.FindQuery{
		Where: intent.Where,
		Sort:  intent.Sort,
		Skip:  intent.Skip,
		Limit: intent.Limit,
	}
}

// preparePredicate validates p against the model and converts comparison
// operands to their stored form.
func (m *Model) preparePredicate(p query.Predicate) (query.Predicate, error) {
	if err := query.Validate(p, m.desc.Queryable); err != nil {
		return nil, err
	}
	return m.convertPredicate(p)
}

func (m *Model) convertPredicate(p query.Predicate) (query.Predicate, error) {
	switch p := p.(type) {
	case nil:
		return nil, nil
	case query.Cmp:
		return m.convertCmp(p)
	case query.And:
		out := make([]query.Predicate, len(p.Predicates))
		for i, c := range p.Predicates {
			conv, err := m.convertPredicate(c)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return query.And{Predicates: out}, nil
	case query.Or:
		out := make([]query.Predicate, len(p.Predicates))
		for i, c := range p.Predicates {
			conv, err := m.convertPredicate(c)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return query.Or{Predicates: out}, nil
	}
	return nil, dberr.InvalidQuery("", "unsupported predicate type %T", p)
}

func (m *Model) convertCmp(c query.Cmp) (query.Cmp, error) {
	if c.Op != query.OpIn {
		v, err := m.operand(c.Field, c.Value)
		if err != nil {
			return query.Cmp{}, err
		}
		c.Value = v
		return c, nil
	}
	set := c.Value.([]any)
	out := make([]any, len(set))
	for i, v := range set {
		conv, err := m.operand(c.Field, v)
		if err != nil {
			return query.Cmp{}, err
		}
		out[i] = conv
	}
	c.Value = out
	return c, nil
}

// operand converts one comparison value. Records compare by id.
func (m *Model) operand(field string, v any) (any, error) {
	if rec, ok := v.(*record.Record); ok {
		v = rec.ID()
	}
	if field == schema.IDField {
		return query.NormalizeKey(v), nil
	}
	return m.desc.Convert(field, v)
}

// preparePatch validates a bulk update patch and stamps auto_now fields.
func (m *Model) preparePatch(patch map[string]any) (engine.Doc, error) {
	doc := engine.Doc{}
	for name, v := range patch {
		if name == schema.IDField {
			return nil, dberr.InvalidQuery(name, "id cannot be updated")
		}
		f, ok := m.desc.Field(name)
		if !ok || !f.Stored() {
			return nil, dberr.InvalidQuery(name, "unknown field on %s", m.Name())
		}
		if f.AutoNowAdd {
			continue
		}
		stored, err := m.storedValue(f, v)
		if err != nil {
			return nil, err
		}
		if stored == nil && !f.Nullable {
			return nil, dberr.ConstraintViolation(m.desc.Collection(), name, "field is not nullable")
		}
		doc[name] = stored
	}
	if len(doc) == 0 {
		return doc, nil
	}
	now := schema.NormalizeTime(m.reg.clock.Now())
	for _, f := range m.desc.Stored() {
		if f.AutoNow {
			doc[f.Name] = now
		}
	}
	return doc, nil
}
