// Package populate resolves relationship fields on fetched records.
//
// A forward reference is resolved with one Find on the referenced model
// over the distinct keys of the batch; a reverse collection with one Find
// on the child model over the batch's ids. Either way the cost is one
// extra round trip per relationship and nesting level, independent of the
// batch size.
package populate

import (
	"context"
	"log/slog"
	"sort"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
	"github.com/tabernacleorm/tabernacle/internal/query"
	"github.com/tabernacleorm/tabernacle/internal/record"
	"github.com/tabernacleorm/tabernacle/internal/schema"
)

// Fetcher loads records of one model.
type Fetcher interface {
	Descriptor() *schema.Descriptor
	Fetch(ctx context.Context, where query.Predicate) ([]*record.Record, error)
}

// Models looks up the fetcher of a related model by name.
type Models interface {
	Fetcher(model string) (Fetcher, error)
}

// Resolver populates relationship fields.
type Resolver struct {
	models Models
	logger *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger for round trips and population misses.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// New returns a resolver over models.
func New(models Models, opts ...Option) *Resolver {
	r := &Resolver{models: models, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Validate checks population requests against desc: every requested field
// must be a relationship, and nested requests must be valid on the related
// model.
func Validate(desc *schema.Descriptor, reqs []query.Population, lookup func(model string) (*schema.Descriptor, bool)) error {
	for _, req := range reqs {
		f, ok := desc.Field(req.Field)
		if !ok {
			return dberr.InvalidQuery(req.Field, "unknown field on %s", desc.Name())
		}
		if !f.IsRelation() {
			return dberr.InvalidQuery(req.Field, "%s.%s is not a relationship", desc.Name(), req.Field)
		}
		if len(req.Nested) == 0 {
			continue
		}
		target, ok := lookup(f.Ref)
		if !ok {
			return dberr.InvalidQuery(req.Field, "related model %s is not registered", f.Ref)
		}
		if err := Validate(target, req.Nested, lookup); err != nil {
			return err
		}
	}
	return nil
}

// Resolve populates reqs on recs, which must all belong to one model.
// Requests on the same field are merged so each relationship is fetched
// once. A reference whose target is not found stays unresolved; that is a
// population miss, not an error.
func (r *Resolver) Resolve(ctx context.Context, recs []*record.Record, reqs []query.Population) error {
	if len(recs) == 0 || len(reqs) == 0 {
		return nil
	}
	desc := recs[0].Descriptor()
	for _, req := range merge(reqs) {
		f, ok := desc.Field(req.Field)
		if !ok || !f.IsRelation() {
			return dberr.InvalidQuery(req.Field, "%s.%s is not a relationship", desc.Name(), req.Field)
		}
		var (
			fetched []*record.Record
			err     error
		)
		if f.Type == schema.TypeReference {
			fetched, err = r.forward(ctx, recs, f)
		} else {
			fetched, err = r.reverse(ctx, recs, f)
		}
		if err != nil {
			return err
		}
		if len(req.Nested) > 0 {
			if err := r.Resolve(ctx, fetched, req.Nested); err != nil {
				return err
			}
		}
	}
	return nil
}

// forward resolves a reference field and returns the distinct targets now
// attached to recs.
func (r *Resolver) forward(ctx context.Context, recs []*record.Record, f schema.Field) ([]*record.Record, error) {
	var (
		keys    []any
		seen    = map[any]bool{}
		targets []*record.Record
		known   = map[*record.Record]bool{}
	)
	for _, rec := range recs {
		switch ref, _ := rec.Ref(f.Name); ref := ref.(type) {
		case record.Resolved:
			if !known[ref.Record] {
				known[ref.Record] = true
				targets = append(targets, ref.Record)
			}
		case record.Unresolved:
			k := query.NormalizeKey(ref.Key)
			if k != nil && !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	if len(keys) == 0 {
		return targets, nil
	}

	fetcher, err := r.models.Fetcher(f.Ref)
	if err != nil {
		return nil, err
	}
	found, err := fetcher.Fetch(ctx, query.In(schema.IDField, keys...))
	if err != nil {
		return nil, err
	}
	r.logger.Debug("populate", "field", f.Name, "model", f.Ref, "keys", len(keys), "fetched", len(found))

	byID := make(map[any]*record.Record, len(found))
	for _, t := range found {
		byID[query.NormalizeKey(t.ID())] = t
	}
	for _, rec := range recs {
		ref, _ := rec.Ref(f.Name)
		u, ok := ref.(record.Unresolved)
		if !ok || u.Key == nil {
			continue
		}
		t, ok := byID[query.NormalizeKey(u.Key)]
		if !ok {
			r.logger.Debug("population miss", "model", rec.Model(), "id", rec.ID(), "field", f.Name, "key", u.Key)
			continue
		}
		rec.Resolve(f.Name, t)
		if !known[t] {
			known[t] = true
			targets = append(targets, t)
		}
	}
	return targets, nil
}

// reverse attaches a collection field and returns every fetched child.
func (r *Resolver) reverse(ctx context.Context, recs []*record.Record, f schema.Field) ([]*record.Record, error) {
	var ids []any
	seen := map[any]bool{}
	for _, rec := range recs {
		k := query.NormalizeKey(rec.ID())
		if k != nil && !seen[k] {
			seen[k] = true
			ids = append(ids, k)
		}
	}

	groups := map[any][]*record.Record{}
	var children []*record.Record
	if len(ids) > 0 {
		fetcher, err := r.models.Fetcher(f.Ref)
		if err != nil {
			return nil, err
		}
		children, err = fetcher.Fetch(ctx, query.In(f.BackPopulates, ids...))
		if err != nil {
			return nil, err
		}
		r.logger.Debug("populate", "field", f.Name, "model", f.Ref, "keys", len(ids), "fetched", len(children))
		for _, c := range children {
			k, _ := c.Get(f.BackPopulates)
			k = query.NormalizeKey(k)
			groups[k] = append(groups[k], c)
		}
	}
	for _, rec := range recs {
		members := groups[query.NormalizeKey(rec.ID())]
		if members == nil {
			members = []*record.Record{}
		}
		rec.Attach(f.Name, members)
	}
	return children, nil
}

// merge combines requests on the same field and orders them by field so
// resolution does not depend on request order.
func merge(reqs []query.Population) []query.Population {
	byField := map[string]*query.Population{}
	var order []string
	for _, req := range reqs {
		p, ok := byField[req.Field]
		if !ok {
			p = &query.Population{Field: req.Field}
			byField[req.Field] = p
			order = append(order, req.Field)
		}
		p.Nested = append(p.Nested, req.Nested...)
	}
	sort.Strings(order)
	out := make([]query.Population, len(order))
	for i, name := range order {
		p := byField[name]
		if len(p.Nested) > 0 {
			p.Nested = merge(p.Nested)
		}
		out[i] = *p
	}
	return out
}
