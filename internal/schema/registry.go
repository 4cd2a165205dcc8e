package schema

import (
	"sort"
	"sync"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
)

// Registry holds the descriptors of every registered model and checks
// relationship declarations across them.
//
// A reverse collection is checked as soon as both its owner and the model
// it names are registered, in whichever order they arrive. Validate reports
// relationships whose target never registered.
type Registry struct {
	mu          sync.RWMutex
	byName      map[string]*Descriptor
	collections map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:      map[string]*Descriptor{},
		collections: map[string]string{},
	}
}

// Add registers d. It fails when the model name or collection is taken or
// when a reverse collection on either side of d is inconsistent.
func (r *Registry) Add(d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[d.name]; ok {
		return dberr.RelationshipDeclaration(d.name, "", "model already registered")
	}
	if owner, ok := r.collections[d.collection]; ok {
		return dberr.RelationshipDeclaration(d.name, "", "collection %q already used by %s", d.collection, owner)
	}

	// d's own collections against already registered targets (or itself).
	for _, f := range d.Collections() {
		target := r.byName[f.Ref]
		if f.Ref == d.name {
			target = d
		}
		if target == nil {
			continue
		}
		if err := checkCollection(d, f, target); err != nil {
			return err
		}
	}
	// Collections of registered models that point at d.
	for _, other := range r.byName {
		for _, f := range other.Collections() {
			if f.Ref != d.name {
				continue
			}
			if err := checkCollection(other, f, d); err != nil {
				return err
			}
		}
	}

	r.byName[d.name] = d
	r.collections[d.collection] = d.name
	return nil
}

func checkCollection(owner *Descriptor, f Field, target *Descriptor) error {
	fwd, ok := target.Field(f.BackPopulates)
	if !ok {
		return dberr.RelationshipDeclaration(owner.name, f.Name,
			"back-populating field %s.%s does not exist", target.name, f.BackPopulates)
	}
	if fwd.Type != TypeReference {
		return dberr.RelationshipDeclaration(owner.name, f.Name,
			"back-populating field %s.%s is not a reference", target.name, f.BackPopulates)
	}
	if fwd.Ref != owner.name {
		return dberr.RelationshipDeclaration(owner.name, f.Name,
			"back-populating field %s.%s references %s", target.name, f.BackPopulates, fwd.Ref)
	}
	return nil
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Names returns the registered model names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Validate reports the first relationship, in model-name order, whose
// target model is not registered.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		d := r.byName[n]
		for _, f := range d.fields {
			if !f.IsRelation() {
				continue
			}
			if _, ok := r.byName[f.Ref]; !ok {
				return dberr.RelationshipDeclaration(d.name, f.Name, "related model %s is not registered", f.Ref)
			}
		}
	}
	return nil
}
