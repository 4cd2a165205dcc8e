package migrate

import (
	"context"

	"github.com/tabernacleorm/tabernacle/internal/dberr"
	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/schema"
)

// Schema is the schema-mutation surface handed to migration units.
type Schema struct {
	eng engine.Engine
}

// NewSchema wraps eng.
func NewSchema(eng engine.Engine) *Schema {
	return &Schema{eng: eng}
}

// Engine returns the engine migrations run against.
func (s *Schema) Engine() engine.Engine { return s.eng }

// CreateCollection creates a collection with fields. Existing collections
// gain any missing fields. References are assumed to target collections
// on the same engine under their default names.
func (s *Schema) CreateCollection(ctx context.Context, name string, fields ...schema.Field) error {
	hint := engine.SchemaHint{}
	for _, f := range fields {
		if !f.Stored() {
			continue
		}
		h := engine.ColumnFor(f)
		if f.Type == schema.TypeReference {
			h.Ref = &engine.RefHint{
				Collection: schema.DefaultCollection(f.Ref),
				KeyKind:    s.eng.KeyKind(),
				OnDelete:   f.OnDelete,
				SameEngine: true,
			}
		}
		hint.Fields = append(hint.Fields, h)
	}
	return s.eng.EnsureCollection(ctx, name, hint)
}

// CreateModel creates the collection of a model descriptor.
func (s *Schema) CreateModel(ctx context.Context, desc *schema.Descriptor) error {
	return s.CreateCollection(ctx, desc.Collection(), desc.Stored()...)
}

// AddFields adds fields to an existing collection.
func (s *Schema) AddFields(ctx context.Context, name string, fields ...schema.Field) error {
	return s.CreateCollection(ctx, name, fields...)
}

// DropCollection removes a collection and its data.
func (s *Schema) DropCollection(ctx context.Context, name string) error {
	return s.eng.DropCollection(ctx, name)
}

// Exec runs a raw statement on engines that accept them.
func (s *Schema) Exec(ctx context.Context, stmt string, args ...any) error {
	ex, ok := s.eng.(engine.Execer)
	if !ok {
		return dberr.InvalidQuery("", "the %s engine does not accept raw statements", s.eng.Name())
	}
	return ex.Exec(ctx, stmt, args...)
}
