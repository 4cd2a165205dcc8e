package query

import (
	"github.com/tabernacleorm/tabernacle/internal/dberr"
)

// Validate checks a predicate tree against the set of queryable fields.
//
// It rejects unknown fields, unknown operators, ordering comparisons
// against nil and set membership with a non-list value. known may be nil
// to skip the field check. Validate is a pure function.
func Validate(p Predicate, known func(field string) bool) error {
	switch p := p.(type) {
	case nil:
		return nil
	case Cmp:
		return validateCmp(p, known)
	case And:
		for _, c := range p.Predicates {
			if err := Validate(c, known); err != nil {
				return err
			}
		}
		return nil
	case Or:
		for _, c := range p.Predicates {
			if err := Validate(c, known); err != nil {
				return err
			}
		}
		return nil
	default:
		return dberr.InvalidQuery("", "unsupported predicate type %T", p)
	}
}

func validateCmp(c Cmp, known func(string) bool) error {
	if c.Field == "" {
		return dberr.InvalidQuery("", "empty field name")
	}
	if known != nil && !known(c.Field) {
		return dberr.InvalidQuery(c.Field, "unknown field")
	}
	if !c.Op.Valid() {
		return dberr.InvalidQuery(c.Field, "unknown operator %q", c.Op)
	}
	if c.Op.Ordering() && c.Value == nil {
		return dberr.InvalidQuery(c.Field, "%s comparison against null", c.Op)
	}
	if c.Op == OpIn {
		if _, ok := c.Value.([]any); !ok {
			return dberr.InvalidQuery(c.Field, "in expects a list, got %T", c.Value)
		}
	}
	return nil
}

// ValidateSort checks sort keys against the set of sortable fields.
func ValidateSort(keys []SortKey, known func(field string) bool) error {
	for _, k := range keys {
		if k.Field == "" {
			return dberr.InvalidQuery("", "empty sort field")
		}
		if known != nil && !known(k.Field) {
			return dberr.InvalidQuery(k.Field, "unknown sort field")
		}
	}
	return nil
}
