// Package migrate applies and reverts ordered migration units against one
// engine.
//
// A unit is a plain pair of operations identified by a timestamp-prefixed
// id ("20240105093000_create_users"). Units are collected in a Registry,
// normally from init functions of generated migration files, and executed
// in id order by an Executor. The ids of applied units are stored in the
// engine itself, in the tabernacle_migrations collection.
package migrate

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
)

// IDLayout is the time layout of a unit id's prefix.
const IDLayout = "20060102150405"

var idPattern = regexp.MustCompile(`^([0-9]{14})_([A-Za-z0-9_]+)$`)

// Func is one direction of a migration unit.
type Func func(ctx context.Context, s *Schema) error

// Unit is one named, ordered, reversible schema-mutation step.
type Unit struct {
	ID   string
	Up   Func
	Down Func
}

// Name returns the part of the id after the timestamp.
func (u Unit) Name() string {
	m := idPattern.FindStringSubmatch(u.ID)
	if m == nil {
		return u.ID
	}
	return m[2]
}

// ParseID validates a unit id and returns its timestamp.
func ParseID(id string) (time.Time, error) {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return time.Time{}, dberr.InvalidQuery("", "migration id %q must look like YYYYMMDDHHMMSS_name", id)
	}
	ts, err := time.Parse(IDLayout, m[1])
	if err != nil {
		return time.Time{}, dberr.InvalidQuery("", "migration id %q has an invalid timestamp", id)
	}
	return ts, nil
}

// NewID builds a unit id from a creation time and a name.
func NewID(at time.Time, name string) string {
	return at.UTC().Format(IDLayout) + "_" + name
}

// Registry collects migration units.
//
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	units map[string]Unit
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{units: map[string]Unit{}}
}

// Add registers a unit. up is required; a nil down makes the unit
// irreversible.
func (r *Registry) Add(id string, up, down Func) error {
	if _, err := ParseID(id); err != nil {
		return err
	}
	if up == nil {
		return dberr.InvalidQuery("", "migration %s has no up operation", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.units[id]; ok {
		return dberr.InvalidQuery("", "migration %s is already registered", id)
	}
	r.units[id] = Unit{ID: id, Up: up, Down: down}
	return nil
}

// MustAdd is Add that panics on error, for use in init functions.
func (r *Registry) MustAdd(id string, up, down Func) {
	if err := r.Add(id, up, down); err != nil {
		panic(err)
	}
}

// Units returns the registered units in execution order.
func (r *Registry) Units() []Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Unit, 0, len(r.units))
	for _, u := range r.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the unit registered under id.
func (r *Registry) Get(id string) (Unit, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[id]
	return u, ok
}
