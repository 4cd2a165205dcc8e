package model

import (
	"context"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/query"
	"github.com/tabernacleorm/tabernacle/internal/record"
	"github.com/tabernacleorm/tabernacle/internal/schema"
)

// Insert stores an unsaved record. It implements record.Persister.
func (m *Model) Insert(ctx context.Context, r *record.Record) error {
	doc, err := m.prepareInsert(r.Values())
	if err != nil {
		return err
	}
	w, err := m.writer(ctx)
	if err != nil {
		return err
	}
	row, err := w.Create(ctx, m.desc.Collection(), doc)
	if err != nil {
		return err
	}
	r.MarkPersisted(row.ID, row.Fields)
	m.reg.logger.Debug("record inserted", "model", m.Name(), "id", row.ID)
	return nil
}

// Update writes a persisted record back by id. auto_now fields are
// restamped; the id and auto_now_add fields are never written. Assigning
// nil to a non-nullable field is a constraint violation; nulls stored for
// fields absent on creation are written back unchanged.
func (m *Model) Update(ctx context.Context, r *record.Record) error {
	values := r.Values()
	now := schema.NormalizeTime(m.reg.clock.Now())
	patch := engine.Doc{}
	var stamped []string
	for _, f := range m.desc.Stored() {
		switch {
		case f.AutoNowAdd:
			continue
		case f.AutoNow:
			patch[f.Name] = now
			stamped = append(stamped, f.Name)
			continue
		}
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		if v == nil && !f.Nullable && r.Changed(f.Name) {
			return dberr.ConstraintViolation(m.desc.Collection(), f.Name, "field is not nullable")
		}
		patch[f.Name] = v
	}
	if len(patch) == 0 {
		return nil
	}

	w, err := m.writer(ctx)
	if err != nil {
		return err
	}
	n, err := w.UpdateMany(ctx, m.desc.Collection(), query.Eq(schema.IDField, r.ID()), patch)
	if err != nil {
		return err
	}
	if n == 0 {
		return dberr.NotFound(m.desc.Collection(), "%s %v no longer exists", m.Name(), r.ID())
	}
	for _, name := range stamped {
		r.SetStored(name, now)
	}
	r.ClearChanges()
	return nil
}

// Remove deletes a persisted record by id.
func (m *Model) Remove(ctx context.Context, r *record.Record) error {
	w, err := m.writer(ctx)
	if err != nil {
		return err
	}
	n, err := w.DeleteMany(ctx, m.desc.Collection(), query.Eq(schema.IDField, r.ID()))
	if err != nil {
		return err
	}
	if n == 0 {
		return dberr.NotFound(m.desc.Collection(), "%s %v no longer exists", m.Name(), r.ID())
	}
	return nil
}

// ensure creates or evolves the model's collection on the write engine of
// b when auto-creation is on. It runs once per engine; a failure is retried
// on the next operation. Referenced models are ensured first so relational
// engines can declare foreign keys.
func (m *Model) ensure(ctx context.Context, b engine.Binding) error {
	if !m.reg.autoCreate {
		ac, ok := b.(engine.AutoCreator)
		if !ok || !ac.AutoCreate() {
			return nil
		}
	}
	return m.ensureOn(ctx, b.Write(), map[*Model]bool{})
}

func (m *Model) ensureOn(ctx context.Context, w engine.Engine, visiting map[*Model]bool) error {
	m.mu.Lock()
	done := m.ensured[w]
	m.mu.Unlock()
	if done || visiting[m] {
		return nil
	}
	visiting[m] = true

	hint := engine.SchemaHint{}
	for _, f := range m.desc.Stored() {
		h := engine.ColumnFor(f)
		if f.Type == schema.TypeReference {
			ref, err := m.refHint(ctx, f, w, visiting)
			if err != nil {
				return err
			}
			h.Ref = ref
		}
		hint.Fields = append(hint.Fields, h)
	}

	if err := w.EnsureCollection(ctx, m.desc.Collection(), hint); err != nil {
		return err
	}
	m.mu.Lock()
	m.ensured[w] = true
	m.mu.Unlock()
	m.reg.logger.Debug("collection ensured", "model", m.Name(), "collection", m.desc.Collection(), "engine", w.Name())
	return nil
}

// refHint describes the target of reference f. The column adopts the key
// kind of the engine the target model writes to.
func (m *Model) refHint(ctx context.Context, f schema.Field, w engine.Engine, visiting map[*Model]bool) (*engine.RefHint, error) {
	hint := &engine.RefHint{KeyKind: w.KeyKind(), OnDelete: f.OnDelete, SameEngine: true}
	target, ok := m.reg.Model(f.Ref)
	if !ok {
		hint.Collection = schema.DefaultCollection(f.Ref)
		hint.SameEngine = false
		return hint, nil
	}
	hint.Collection = target.desc.Collection()
	if target == m {
		return hint, nil
	}
	tb, err := target.Binding()
	if err != nil {
		return nil, err
	}
	tw := tb.Write()
	hint.KeyKind = tw.KeyKind()
	hint.SameEngine = tw == w
	if hint.SameEngine {
		if err := target.ensureOn(ctx, tw, visiting); err != nil {
			return nil, err
		}
	}
	return hint, nil
}
