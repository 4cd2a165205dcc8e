package schema

import (
	"regexp"

	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
)

// IDField is the implicit, engine-assigned primary key of every model.
const IDField = "id"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Descriptor is the immutable schema of one model: its name, the
// collection that stores it and its ordered fields.
type Descriptor struct {
	name       string
	collection string
	fields     []Field
	index      map[string]int
}

// Option configures a Descriptor.
type Option func(*Descriptor)

// WithCollection overrides the default collection name.
func WithCollection(name string) Option {
	return func(d *Descriptor) { d.collection = name }
}

// DefaultCollection returns the collection a model stores in unless
// WithCollection overrides it.
func DefaultCollection(model string) string {
	return inflect.Pluralize(inflect.Underscore(model))
}

// New validates and builds a descriptor.
//
// The collection name defaults to the pluralized snake case of the model
// name ("LogEntry" stores in "log_entries"). Field names must be
// identifiers, unique even when compared case-insensitively, and may not
// be "id".
func New(name string, fields []Field, opts ...Option) (*Descriptor, error) {
	if !identifierPattern.MatchString(name) {
		return nil, dberr.RelationshipDeclaration(name, "", "invalid model name %q", name)
	}

	d := &Descriptor{
		name:       name,
		collection: DefaultCollection(name),
		fields:     make([]Field, len(fields)),
		index:      make(map[string]int, len(fields)),
	}
	copy(d.fields, fields)
	for _, opt := range opts {
		opt(d)
	}
	if !identifierPattern.MatchString(d.collection) {
		return nil, dberr.RelationshipDeclaration(name, "", "invalid collection name %q", d.collection)
	}

	fold := cases.Fold()
	folded := map[string]string{fold.String(IDField): IDField}
	for i, f := range d.fields {
		if err := checkField(name, f); err != nil {
			return nil, err
		}
		key := fold.String(f.Name)
		if prev, ok := folded[key]; ok {
			if prev == IDField {
				return nil, dberr.RelationshipDeclaration(name, f.Name, "field name %q is reserved", f.Name)
			}
			return nil, dberr.RelationshipDeclaration(name, f.Name, "field %q collides with %q", f.Name, prev)
		}
		folded[key] = f.Name
		d.index[f.Name] = i
	}
	return d, nil
}

// MustNew is like New but panics on error. Intended for package-level model
// declarations.
func MustNew(name string, fields []Field, opts ...Option) *Descriptor {
	d, err := New(name, fields, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

func checkField(model string, f Field) error {
	if !identifierPattern.MatchString(f.Name) {
		return dberr.RelationshipDeclaration(model, f.Name, "invalid field name %q", f.Name)
	}
	if _, ok := fieldTypeNames[f.Type]; !ok {
		return dberr.RelationshipDeclaration(model, f.Name, "unknown field type %d", int(f.Type))
	}
	switch f.Type {
	case TypeReference:
		if f.Ref == "" {
			return dberr.RelationshipDeclaration(model, f.Name, "reference names no model")
		}
	case TypeCollection:
		if f.Ref == "" || f.BackPopulates == "" {
			return dberr.RelationshipDeclaration(model, f.Name, "collection must name a model and a back-populating field")
		}
	default:
		if f.OnDelete != OnDeleteNoAction {
			return dberr.RelationshipDeclaration(model, f.Name, "on-delete action on a non-reference field")
		}
	}
	if f.MaxLength < 0 {
		return dberr.RelationshipDeclaration(model, f.Name, "negative max length")
	}
	return nil
}

// Name returns the model name.
func (d *Descriptor) Name() string { return d.name }

// Collection returns the storage collection (table) name.
func (d *Descriptor) Collection() string { return d.collection }

// Fields returns a copy of the declared fields in declaration order.
func (d *Descriptor) Fields() []Field {
	out := make([]Field, len(d.fields))
	copy(out, d.fields)
	return out
}

// Field looks up a declared field by name.
func (d *Descriptor) Field(name string) (Field, bool) {
	i, ok := d.index[name]
	if !ok {
		return Field{}, false
	}
	return d.fields[i], true
}

// Stored returns the persisted fields in declaration order.
func (d *Descriptor) Stored() []Field {
	return d.filter(Field.Stored)
}

// References returns the forward reference fields.
func (d *Descriptor) References() []Field {
	return d.filter(func(f Field) bool { return f.Type == TypeReference })
}

// Collections returns the reverse collection fields.
func (d *Descriptor) Collections() []Field {
	return d.filter(func(f Field) bool { return f.Type == TypeCollection })
}

// Queryable reports whether name can appear in filters and sort keys:
// the id or any persisted field.
func (d *Descriptor) Queryable(name string) bool {
	if name == IDField {
		return true
	}
	f, ok := d.Field(name)
	return ok && f.Stored()
}

func (d *Descriptor) filter(keep func(Field) bool) []Field {
	var out []Field
	for _, f := range d.fields {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}
