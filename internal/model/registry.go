// Package model is the model runtime: registered models bound to engines,
// the chainable query builder and record persistence.
//
// A Registry is the explicit, lifecycle-scoped home of models. Nothing in
// this package keeps process-wide state; the root package layers a current
// connection on top for application convenience.
package model

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/populate"
	"github.com/tabernacleorm/tabernacle/internal/schema"
)

// Registry holds registered models and the default binding they use.
//
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas *schema.Registry
	models  map[string]*Model

	binding    func() (engine.Binding, error)
	clock      engine.Clock
	logger     *slog.Logger
	autoCreate bool

	resolver *populate.Resolver
}

// Option configures a Registry.
type Option func(*Registry)

// WithBinding sets a fixed default binding for models registered without
// their own.
func WithBinding(b engine.Binding) Option {
	return func(r *Registry) {
		r.binding = func() (engine.Binding, error) { return b, nil }
	}
}

// WithBindingResolver sets a function consulted on every operation of a
// model without its own binding. It lets a registry follow a connection
// that is replaced after registration.
func WithBindingResolver(fn func() (engine.Binding, error)) Option {
	return func(r *Registry) { r.binding = fn }
}

// WithClock sets the clock used for auto_now and auto_now_add stamping.
func WithClock(c engine.Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLogger sets the logger for the registry, its models and population.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithAutoCreate makes models ensure their collection before first use
// regardless of the binding.
func WithAutoCreate(on bool) Option {
	return func(r *Registry) { r.autoCreate = on }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		schemas: schema.NewRegistry(),
		models:  map[string]*Model{},
		clock:   engine.SystemClock{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.resolver = populate.New(r, populate.WithLogger(r.logger))
	return r
}

// ModelOption configures a registered model.
type ModelOption func(*Model)

// Bind gives the model its own binding instead of the registry default.
func Bind(b engine.Binding) ModelOption {
	return func(m *Model) { m.binding = b }
}

// Register adds desc and returns its model. Relationship declarations are
// checked against the models already registered.
func (r *Registry) Register(desc *schema.Descriptor, opts ...ModelOption) (*Model, error) {
	if err := r.schemas.Add(desc); err != nil {
		return nil, err
	}
	m := &Model{
		reg:     r,
		desc:    desc,
		ensured: map[engine.Engine]bool{},
	}
	for _, opt := range opts {
		opt(m)
	}

	r.mu.Lock()
	r.models[desc.Name()] = m
	r.mu.Unlock()

	r.logger.Debug("model registered", "model", desc.Name(), "collection", desc.Collection())
	return m, nil
}

// MustRegister is Register that panics on error, for package-level model
// declarations.
func (r *Registry) MustRegister(desc *schema.Descriptor, opts ...ModelOption) *Model {
	m, err := r.Register(desc, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// Model returns the model registered under name.
func (r *Registry) Model(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// Models returns every registered model ordered by name.
func (r *Registry) Models() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Validate reports relationships whose target model never registered.
func (r *Registry) Validate() error {
	return r.schemas.Validate()
}

// Fetcher returns the model registered under name for population.
func (r *Registry) Fetcher(name string) (populate.Fetcher, error) {
	m, ok := r.Model(name)
	if !ok {
		return nil, dberr.RelationshipDeclaration(name, "", "related model is not registered")
	}
	return m, nil
}

func (r *Registry) lookup(name string) (*schema.Descriptor, bool) {
	return r.schemas.Get(name)
}

func (r *Registry) defaultBinding() (engine.Binding, error) {
	if r.binding == nil {
		return nil, nil
	}
	return r.binding()
}
