package query

import (
	"fmt"
	"reflect"
	"sort"
)

// Op is a comparison operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpIn  Op = "in"
)

// Valid reports whether op is a known operator.
func (op Op) Valid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn:
		return true
	}
	return false
}

// Ordering reports whether op compares by order rather than equality.
func (op Op) Ordering() bool {
	switch op {
	case OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Predicate is a node of the filter tree.
//
// This is a sealed interface: only Cmp, And and Or implement it.
type Predicate interface {
	predicateNode()
}

// Cmp compares one field against a literal value.
//
// For OpIn, Value is a []any holding the candidate set.
type Cmp struct {
	Field string
	Op    Op
	Value any
}

func (Cmp) predicateNode() {}

// And is satisfied when every child predicate is.
// An empty And matches everything.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or is satisfied when any child predicate is.
// An empty Or matches nothing.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Eq returns field = v.
func Eq(field string, v any) Cmp { return Cmp{Field: field, Op: OpEq, Value: v} }

// Ne returns field != v.
func Ne(field string, v any) Cmp { return Cmp{Field: field, Op: OpNe, Value: v} }

// Gt returns field > v.
func Gt(field string, v any) Cmp { return Cmp{Field: field, Op: OpGt, Value: v} }

// Gte returns field >= v.
func Gte(field string, v any) Cmp { return Cmp{Field: field, Op: OpGte, Value: v} }

// Lt returns field < v.
func Lt(field string, v any) Cmp { return Cmp{Field: field, Op: OpLt, Value: v} }

// Lte returns field <= v.
func Lte(field string, v any) Cmp { return Cmp{Field: field, Op: OpLte, Value: v} }

// In returns field IN (vs...).
func In(field string, vs ...any) Cmp {
	set := make([]any, len(vs))
	copy(set, vs)
	return Cmp{Field: field, Op: OpIn, Value: set}
}

// AllOf conjoins predicates. Nil entries are dropped, nested And nodes are
// flattened and a single survivor is returned bare. No survivors yields nil,
// which matches everything.
func AllOf(preds ...Predicate) Predicate {
	var out []Predicate
	for _, p := range preds {
		switch p := p.(type) {
		case nil:
		case And:
			out = append(out, p.Predicates...)
		default:
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return And{Predicates: out}
}

// AnyOf disjoins predicates, flattening nested Or nodes.
func AnyOf(preds ...Predicate) Predicate {
	var out []Predicate
	for _, p := range preds {
		switch p := p.(type) {
		case nil:
		case Or:
			out = append(out, p.Predicates...)
		default:
			out = append(out, p)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return Or{Predicates: out}
}

// Walk calls fn for every comparison in p, depth first.
func Walk(p Predicate, fn func(Cmp)) {
	switch p := p.(type) {
	case Cmp:
		fn(p)
	case And:
		for _, c := range p.Predicates {
			Walk(c, fn)
		}
	case Or:
		for _, c := range p.Predicates {
			Walk(c, fn)
		}
	}
}

// Fields returns the distinct field names referenced by p, sorted.
func Fields(p Predicate) []string {
	seen := map[string]bool{}
	Walk(p, func(c Cmp) { seen[c.Field] = true })
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// SortKey orders results by one field.
type SortKey struct {
	Field string
	Desc  bool
}

// String renders the key in "-field" notation.
func (k SortKey) String() string {
	if k.Desc {
		return "-" + k.Field
	}
	return k.Field
}

// Population requests resolution of one relationship field, optionally
// followed by nested requests on the fetched records.
type Population struct {
	Field  string
	Nested []Population
}

// Intent is the accumulated, engine-independent description of a query.
//
// Limit 0 means unbounded.
type Intent struct {
	Where    Predicate
	Sort     []SortKey
	Skip     int
	Limit    int
	Populate []Population
}

// Clone returns a copy whose slices can be appended to without affecting i.
// The predicate tree is immutable and is shared.
func (i Intent) Clone() Intent {
	out := i
	out.Sort = append([]SortKey(nil), i.Sort...)
	out.Populate = clonePopulations(i.Populate)
	return out
}

// Paged reports whether skip or limit restrict the result window.
func (i Intent) Paged() bool {
	return i.Skip > 0 || i.Limit > 0
}

func clonePopulations(ps []Population) []Population {
	if ps == nil {
		return nil
	}
	out := make([]Population, len(ps))
	for n, p := range ps {
		out[n] = Population{Field: p.Field, Nested: clonePopulations(p.Nested)}
	}
	return out
}

// toSet converts a slice or array of any element type to []any.
func toSet(v any) ([]any, error) {
	if s, ok := v.([]any); ok {
		out := make([]any, len(s))
		copy(out, s)
		return out, nil
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]any, rv.Len())
	for n := range out {
		out[n] = rv.Index(n).Interface()
	}
	return out, nil
}
