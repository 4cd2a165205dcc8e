package schema

import (
	"math"
	"reflect"
	"time"
	"unicode/utf8"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
)

// Coerce converts a value supplied by application code into the canonical
// representation stored for field: int64 for integers, float64 for floats,
// string for strings, UTC time truncated to microseconds for timestamps and
// int64 or string for references. nil passes through unchanged.
func (d *Descriptor) Coerce(field string, v any) (any, error) {
	out, err := d.Convert(field, v)
	if err != nil || out == nil {
		return out, err
	}
	f, _ := d.Field(field)
	if f.MaxLength > 0 {
		if s, isString := out.(string); isString && utf8.RuneCountInString(s) > f.MaxLength {
			return nil, dberr.ConstraintViolation(d.collection, field, "value exceeds max length %d", f.MaxLength)
		}
	}
	return out, nil
}

// Convert is Coerce without write constraints. Filters use it to compare
// operands in stored form.
func (d *Descriptor) Convert(field string, v any) (any, error) {
	f, ok := d.Field(field)
	if !ok || !f.Stored() {
		return nil, dberr.InvalidQuery(field, "unknown field on %s", d.name)
	}
	if v == nil {
		return nil, nil
	}
	out, ok := coerceValue(f.Type, v)
	if !ok {
		return nil, dberr.InvalidQuery(field, "cannot store %T in %s field", v, f.Type)
	}
	return out, nil
}

// NormalizeTime converts t to the stored timestamp form.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func coerceValue(t FieldType, v any) (any, bool) {
	switch t {
	case TypeString, TypeText:
		switch s := v.(type) {
		case string:
			return s, true
		case []byte:
			return string(s), true
		}
	case TypeInteger:
		return toInt64(v)
	case TypeFloat:
		return toFloat64(v)
	case TypeBoolean:
		b, ok := v.(bool)
		return b, ok
	case TypeDateTime:
		switch x := v.(type) {
		case time.Time:
			return NormalizeTime(x), true
		case *time.Time:
			if x == nil {
				return nil, true
			}
			return NormalizeTime(*x), true
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, x)
			if err != nil {
				return nil, false
			}
			return NormalizeTime(parsed), true
		}
	case TypeReference:
		if s, ok := v.(string); ok {
			return s, true
		}
		return toInt64(v)
	}
	return nil, false
}

func toInt64(v any) (any, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, false
		}
		return int64(u), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || math.Abs(f) >= 1<<63 {
			return nil, false
		}
		return int64(f), true
	}
	return nil, false
}

func toFloat64(v any) (any, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return nil, false
}
