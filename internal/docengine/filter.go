package docengine

import (
	"fmt"
	"sort"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
	"github.com/tabernacleorm/tabernacle/internal/query"
	"github.com/tabernacleorm/tabernacle/internal/schema"
)

// M is a filter document in the engine's native operator syntax:
//
//	{"rating": {"$gt": 3}}
//	{"$or": [{"name": {"$eq": "Alice"}}, {"age": {"$lt": 30}}]}
//
// Every comparison is spelled with an explicit operator; bare values are
// not part of the native form.
type M map[string]any

const (
	opAnd = "$and"
	opOr  = "$or"
)

var nativeOps = map[query.Op]string{
	query.OpEq:  "$eq",
	query.OpNe:  "$ne",
	query.OpGt:  "$gt",
	query.OpGte: "$gte",
	query.OpLt:  "$lt",
	query.OpLte: "$lte",
	query.OpIn:  "$in",
}

// compileFilter translates a predicate tree into a filter document. A nil
// predicate compiles to the empty document, which matches everything.
// Values are canonicalized so integers of any width compare equal.
func compileFilter(p query.Predicate) (M, error) {
	switch p := p.(type) {
	case nil:
		return M{}, nil
	case query.Cmp:
		return compileCmp(p)
	case query.And:
		parts, err := compileAll(p.Predicates)
		if err != nil {
			return nil, err
		}
		return M{opAnd: parts}, nil
	case query.Or:
		parts, err := compileAll(p.Predicates)
		if err != nil {
			return nil, err
		}
		return M{opOr: parts}, nil
	default:
		return nil, dberr.InvalidQuery("", "unsupported predicate type %T", p)
	}
}

func compileAll(preds []query.Predicate) ([]M, error) {
	out := make([]M, 0, len(preds))
	for _, p := range preds {
		m, err := compileFilter(p)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func compileCmp(c query.Cmp) (M, error) {
	op, ok := nativeOps[c.Op]
	if !ok {
		return nil, dberr.InvalidQuery(c.Field, "unknown operator %q", c.Op)
	}
	if c.Op.Ordering() && c.Value == nil {
		return nil, dberr.InvalidQuery(c.Field, "%s comparison against null", c.Op)
	}
	if c.Op == query.OpIn {
		set, ok := c.Value.([]any)
		if !ok {
			return nil, dberr.InvalidQuery(c.Field, "in expects a list, got %T", c.Value)
		}
		vals := make([]any, 0, len(set))
		for _, v := range set {
			if v != nil {
				vals = append(vals, canonicalValue(v))
			}
		}
		return M{c.Field: M{op: vals}}, nil
	}
	return M{c.Field: M{op: canonicalValue(c.Value)}}, nil
}

// filterFields returns the distinct field names a filter document
// references.
func filterFields(f M) []string {
	seen := map[string]bool{}
	var walk func(M)
	walk = func(m M) {
		for k, v := range m {
			switch k {
			case opAnd, opOr:
				for _, sub := range v.([]M) {
					walk(sub)
				}
			default:
				seen[k] = true
			}
		}
	}
	walk(f)
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// matches evaluates a filter document against a stored document.
//
// A missing field is distinct from an explicit null: {"f": {"$eq": nil}}
// matches only documents holding null. A missing or null field never
// satisfies an equality, ordering or set comparison against a non-null
// value, while $ne matches it.
func matches(f M, d *storedDoc) bool {
	for k, v := range f {
		switch k {
		case opAnd:
			for _, sub := range v.([]M) {
				if !matches(sub, d) {
					return false
				}
			}
		case opOr:
			hit := false
			for _, sub := range v.([]M) {
				if matches(sub, d) {
					hit = true
					break
				}
			}
			if !hit {
				return false
			}
		default:
			val, present := d.lookup(k)
			for op, want := range v.(M) {
				if !matchOp(op, val, present, want) {
					return false
				}
			}
		}
	}
	return true
}

func matchOp(op string, val any, present bool, want any) bool {
	isNull := !present || val == nil
	switch op {
	case "$eq":
		if want == nil {
			return present && val == nil
		}
		return !isNull && query.Equal(val, want)
	case "$ne":
		if want == nil {
			return present && val != nil
		}
		return isNull || !query.Equal(val, want)
	case "$in":
		if isNull {
			return false
		}
		for _, w := range want.([]any) {
			if query.Equal(val, w) {
				return true
			}
		}
		return false
	}
	if isNull {
		return false
	}
	c, ok := query.Compare(val, want)
	if !ok {
		return false
	}
	switch op {
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	case "$lte":
		return c <= 0
	}
	return false
}

// compareForSort orders two field values for sorting. Null and missing
// sort before every value; values of unrelated kinds order by kind name.
func compareForSort(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if c, ok := query.Compare(a, b); ok {
		return c
	}
	ta, tb := fmt.Sprintf("%T", a), fmt.Sprintf("%T", b)
	switch {
	case ta < tb:
		return -1
	case ta > tb:
		return 1
	}
	return 0
}

// lookup returns a field of the document. The id is addressable as a
// field.
func (d *storedDoc) lookup(field string) (any, bool) {
	if field == schema.IDField {
		return d.ID, true
	}
	v, ok := d.Fields[field]
	return v, ok
}
