package schema

import "fmt"

// FieldType is the declared kind of a model field.
type FieldType int

const (
	TypeString FieldType = iota + 1
	TypeText
	TypeInteger
	TypeFloat
	TypeBoolean
	TypeDateTime
	// TypeReference is a persisted forward reference holding the id of a
	// record of another model.
	TypeReference
	// TypeCollection is a virtual reverse collection. It is never stored;
	// population fills it with the records whose forward reference points
	// back at the owner.
	TypeCollection
)

var fieldTypeNames = map[FieldType]string{
	TypeString:     "string",
	TypeText:       "text",
	TypeInteger:    "integer",
	TypeFloat:      "float",
	TypeBoolean:    "boolean",
	TypeDateTime:   "datetime",
	TypeReference:  "reference",
	TypeCollection: "collection",
}

// String returns the lowercase type name.
func (t FieldType) String() string {
	if s, ok := fieldTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// ParseFieldType maps a lowercase type name back to its FieldType.
func ParseFieldType(name string) (FieldType, bool) {
	for t, s := range fieldTypeNames {
		if s == name {
			return t, true
		}
	}
	return 0, false
}

// OnDelete is the referential action of a forward reference.
type OnDelete string

const (
	OnDeleteNoAction OnDelete = ""
	OnDeleteCascade  OnDelete = "CASCADE"
	OnDeleteSetNull  OnDelete = "SET NULL"
	OnDeleteRestrict OnDelete = "RESTRICT"
)

// Field describes one model field.
type Field struct {
	Name       string
	Type       FieldType
	Nullable   bool
	Unique     bool
	Required   bool
	Default    any
	AutoNow    bool
	AutoNowAdd bool
	MaxLength  int

	// Ref names the related model for references and collections.
	Ref string

	// BackPopulates names the forward reference on Ref that a collection
	// mirrors.
	BackPopulates string

	OnDelete OnDelete
}

// Stored reports whether the field is persisted by engines.
func (f Field) Stored() bool { return f.Type != TypeCollection }

// IsRelation reports whether the field can be populated.
func (f Field) IsRelation() bool { return f.Type == TypeReference || f.Type == TypeCollection }

// DefaultValue returns the declared default. A func() any default is
// called on every use.
func (f Field) DefaultValue() (any, bool) {
	switch d := f.Default.(type) {
	case nil:
		return nil, false
	case func() any:
		return d(), true
	default:
		return d, true
	}
}

// FieldOption configures a Field.
type FieldOption func(*Field)

// Nullable allows explicit null values.
func Nullable() FieldOption { return func(f *Field) { f.Nullable = true } }

// Unique requires distinct values across the collection.
func Unique() FieldOption { return func(f *Field) { f.Unique = true } }

// Required rejects creation when the field is absent and has no default.
func Required() FieldOption { return func(f *Field) { f.Required = true } }

// Default sets the value used when the field is absent on creation.
// A func() any is evaluated on each creation.
func Default(v any) FieldOption { return func(f *Field) { f.Default = v } }

// MaxLength bounds string length in characters.
func MaxLength(n int) FieldOption { return func(f *Field) { f.MaxLength = n } }

// AutoNow stamps the current time on every save.
func AutoNow() FieldOption { return func(f *Field) { f.AutoNow = true } }

// AutoNowAdd stamps the current time on creation only.
func AutoNowAdd() FieldOption { return func(f *Field) { f.AutoNowAdd = true } }

// Cascade sets the referential action of a forward reference.
func Cascade(action OnDelete) FieldOption { return func(f *Field) { f.OnDelete = action } }

func newField(name string, t FieldType, opts []FieldOption) Field {
	f := Field{Name: name, Type: t}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// String declares a bounded string field.
func String(name string, opts ...FieldOption) Field { return newField(name, TypeString, opts) }

// Text declares an unbounded string field.
func Text(name string, opts ...FieldOption) Field { return newField(name, TypeText, opts) }

// Integer declares a 64-bit integer field.
func Integer(name string, opts ...FieldOption) Field { return newField(name, TypeInteger, opts) }

// Float declares a double-precision field.
func Float(name string, opts ...FieldOption) Field { return newField(name, TypeFloat, opts) }

// Boolean declares a boolean field.
func Boolean(name string, opts ...FieldOption) Field { return newField(name, TypeBoolean, opts) }

// DateTime declares a timestamp field. Values are stored in UTC with
// microsecond precision.
func DateTime(name string, opts ...FieldOption) Field { return newField(name, TypeDateTime, opts) }

// ForeignKey declares a forward reference to model.
func ForeignKey(name, model string, opts ...FieldOption) Field {
	f := newField(name, TypeReference, opts)
	f.Ref = model
	return f
}

// OneToMany declares a reverse collection of model records whose
// backPopulates reference points at the owner.
func OneToMany(name, model, backPopulates string) Field {
	return Field{Name: name, Type: TypeCollection, Ref: model, BackPopulates: backPopulates}
}
