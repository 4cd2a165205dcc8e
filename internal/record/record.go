// Package record holds materialized model instances.
//
// A Record carries its descriptor, the engine-assigned id once persisted,
// stored field values, the resolution state of its forward references and
// any populated reverse collections. Persistence is delegated to a
// Persister supplied by the model runtime.
package record

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/schema"
)

// State is the lifecycle position of a record.
type State int

const (
	// StateNew records exist only in memory and have no id.
	StateNew State = iota
	// StatePersisted records are backed by a stored row or document.
	StatePersisted
	// StateDeleted records are inert: every mutation and persistence call
	// fails with an inert-record error.
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StatePersisted:
		return "persisted"
	case StateDeleted:
		return "deleted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Persister stores records on behalf of Save and Delete.
type Persister interface {
	// Insert creates the backing row for a new record and marks it
	// persisted.
	Insert(ctx context.Context, r *Record) error
	// Update writes the record's stored fields back by id.
	Update(ctx context.Context, r *Record) error
	// Remove deletes the backing row by id.
	Remove(ctx context.Context, r *Record) error
}

// Record is one materialized model instance.
//
// Thread-safety: a Record may be read concurrently, but mutations must not
// race with other use of the same Record.
type Record struct {
	mu sync.RWMutex

	desc      *schema.Descriptor
	persister Persister
	state     State
	id        any

	values      engine.Doc
	changed     map[string]bool
	resolved    map[string]*Record
	collections map[string][]*Record
}

// New returns an unsaved record holding values, which must already be in
// stored form.
func New(desc *schema.Descriptor, p Persister, values engine.Doc) *Record {
	if values == nil {
		values = engine.Doc{}
	}
	return &Record{
		desc:        desc,
		persister:   p,
		state:       StateNew,
		values:      values.Clone(),
		changed:     map[string]bool{},
		resolved:    map[string]*Record{},
		collections: map[string][]*Record{},
	}
}

// FromRow wraps a row returned by an engine as a persisted record.
func FromRow(desc *schema.Descriptor, p Persister, row engine.Row) *Record {
	r := New(desc, p, row.Fields)
	r.state = StatePersisted
	r.id = row.ID
	return r
}

// Descriptor returns the record's model descriptor.
func (r *Record) Descriptor() *schema.Descriptor { return r.desc }

// Model returns the model name.
func (r *Record) Model() string { return r.desc.Name() }

// ID returns the engine-assigned id, nil for unsaved records.
func (r *Record) ID() any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.id
}

// State returns the lifecycle state.
func (r *Record) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Get returns a stored field value. Reference fields return the raw key
// whether or not the reference has been populated; "id" returns the id.
func (r *Record) Get(field string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if field == schema.IDField {
		return r.id, r.id != nil
	}
	v, ok := r.values[field]
	return v, ok
}

// Values returns a copy of the stored field values.
func (r *Record) Values() engine.Doc {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.values.Clone()
}

// Set assigns a field after coercing v to the field's stored form. A
// *Record assigned to a reference field stores its id and marks the
// reference resolved.
func (r *Record) Set(field string, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateDeleted {
		return dberr.Inert(r.desc.Collection())
	}
	if field == schema.IDField {
		return dberr.InvalidQuery(field, "id is assigned by the engine")
	}

	var target *Record
	if rec, ok := v.(*Record); ok {
		f, _ := r.desc.Field(field)
		if f.Type != schema.TypeReference {
			return dberr.InvalidQuery(field, "only reference fields accept records")
		}
		if rec.Model() != f.Ref {
			return dberr.InvalidQuery(field, "expects a %s record, got %s", f.Ref, rec.Model())
		}
		target = rec
		if rec == r {
			v = r.id
		} else {
			v = rec.ID()
		}
		if v == nil {
			return dberr.InvalidQuery(field, "referenced %s record is not saved", rec.Model())
		}
	}
	stored, err := r.desc.Coerce(field, v)
	if err != nil {
		return err
	}
	r.values[field] = stored
	r.changed[field] = true
	delete(r.resolved, field)
	if target != nil {
		r.resolved[field] = target
	}
	return nil
}

// Ref returns the resolution state of a forward reference. ok is false
// when field is not a reference field.
func (r *Record) Ref(field string) (Ref, bool) {
	f, ok := r.desc.Field(field)
	if !ok || f.Type != schema.TypeReference {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if target, ok := r.resolved[field]; ok {
		return Resolved{Record: target}, true
	}
	return Unresolved{Key: r.values[field]}, true
}

// Related returns the populated target of a forward reference.
func (r *Record) Related(field string) (*Record, bool) {
	ref, ok := r.Ref(field)
	if !ok {
		return nil, false
	}
	res, ok := ref.(Resolved)
	return res.Record, ok
}

// Resolve marks a forward reference as populated with target.
func (r *Record) Resolve(field string, target *Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved[field] = target
}

// Collection returns a populated reverse collection. ok is false until the
// collection has been populated; a populated collection without members is
// an empty, non-nil slice.
func (r *Record) Collection(field string) ([]*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, ok := r.collections[field]
	if !ok {
		return nil, false
	}
	out := make([]*Record, len(members))
	copy(out, members)
	return out, true
}

// Attach sets a populated reverse collection.
func (r *Record) Attach(field string, members []*Record) {
	if members == nil {
		members = []*Record{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collections[field] = members
}

// MarkPersisted records the outcome of an insert: the assigned id and the
// values as stored.
func (r *Record) MarkPersisted(id any, values engine.Doc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.id = id
	r.values = values.Clone()
	r.changed = map[string]bool{}
	r.state = StatePersisted
}

// Changed reports whether field was assigned with Set since the record was
// loaded or last saved.
func (r *Record) Changed(field string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.changed[field]
}

// ClearChanges forgets assignments once they have been written.
func (r *Record) ClearChanges() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = map[string]bool{}
}

// SetStored overwrites stored values without coercion. Persisters use it to
// apply stamped timestamps after an update.
func (r *Record) SetStored(field string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[field] = v
}

// Save creates an unsaved record or writes a persisted one back.
func (r *Record) Save(ctx context.Context) error {
	if r.persister == nil {
		return dberr.Connection(nil, "%s record is not bound to a model", r.desc.Name())
	}
	switch r.State() {
	case StateDeleted:
		return dberr.Inert(r.desc.Collection())
	case StateNew:
		return r.persister.Insert(ctx, r)
	default:
		return r.persister.Update(ctx, r)
	}
}

// Delete removes the backing row and makes the record inert. Deleting an
// unsaved record only makes it inert.
func (r *Record) Delete(ctx context.Context) error {
	switch r.State() {
	case StateDeleted:
		return dberr.Inert(r.desc.Collection())
	case StatePersisted:
		if r.persister == nil {
			return dberr.Connection(nil, "%s record is not bound to a model", r.desc.Name())
		}
		if err := r.persister.Remove(ctx, r); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.state = StateDeleted
	r.mu.Unlock()
	return nil
}

// String renders the record for logs and debugging.
func (r *Record) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.values))
	for k := range r.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := r.desc.Name() + "{id=" + fmt.Sprint(r.id)
	for _, k := range keys {
		s += fmt.Sprintf(" %s=%v", k, r.values[k])
	}
	return s + "}"
}
