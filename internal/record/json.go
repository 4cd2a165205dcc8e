package record

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/tabernacleorm/tabernacle/internal/schema"
)

// MarshalJSON encodes the record as an object: "id" first, then fields in
// declaration order. Populated references are embedded as objects, unresolved
// ones as raw keys, and populated collections as arrays. Unpopulated
// collections are omitted.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := writeMember(&buf, schema.IDField, r.ID()); err != nil {
		return nil, err
	}
	for _, f := range r.desc.Fields() {
		var v any
		switch f.Type {
		case schema.TypeCollection:
			members, ok := r.Collection(f.Name)
			if !ok {
				continue
			}
			v = members
		case schema.TypeReference:
			if target, ok := r.Related(f.Name); ok {
				v = target
			} else {
				v, _ = r.Get(f.Name)
			}
		default:
			v, _ = r.Get(f.Name)
		}
		buf.WriteByte(',')
		if err := writeMember(&buf, f.Name, v); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeMember(buf *bytes.Buffer, name string, v any) error {
	key, _ := json.Marshal(name)
	if t, ok := v.(time.Time); ok {
		v = t.UTC().Format(time.RFC3339Nano)
	}
	val, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(key)
	buf.WriteByte(':')
	buf.Write(val)
	return nil
}
