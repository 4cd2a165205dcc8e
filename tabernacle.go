// Package tabernacle is an object mapper over relational and document
// engines. Models are declared once as descriptors, bound to a connection
// and queried through a chainable, immutable query builder that translates
// to SQL on SQLite, PostgreSQL and MySQL, or evaluates in memory on the
// document engine.
//
// Typical use:
//
//	ctx := context.Background()
//	if err := tabernacle.ConnectURL(ctx, "sqlite:///app.db"); err != nil {
//		return err
//	}
//	defer tabernacle.Disconnect()
//
//	User := tabernacle.MustDefine("User", []tabernacle.Field{
//		tabernacle.String("name", tabernacle.Required()),
//		tabernacle.Integer("age", tabernacle.Nullable()),
//	})
//	alice, err := User.Create(ctx, map[string]any{"name": "Alice", "age": 30})
//	adults, err := User.Filter(map[string]any{"age__gte": 18}).Sort("-age").Exec(ctx)
//
// The process-wide connection kept by Connect is a convenience for
// applications. Libraries and tests should build a Registry bound to an
// explicit Connection instead.
package tabernacle

import (
	"github.com/tabernacleorm/tabernacle/internal/config"
	"github.com/tabernacleorm/tabernacle/internal/conn"
	"github.com/tabernacleorm/tabernacle/internal/dberr"
	"github.com/tabernacleorm/tabernacle/internal/migrate"
	"github.com/tabernacleorm/tabernacle/internal/model"
	"github.com/tabernacleorm/tabernacle/internal/query"
	"github.com/tabernacleorm/tabernacle/internal/record"
	"github.com/tabernacleorm/tabernacle/internal/schema"
)

type (
	// Config is the connection configuration.
	Config = config.Config
	// Endpoint is one engine URL with its pool size.
	Endpoint = config.Endpoint
	// Connection is an open write engine and its read engines.
	Connection = conn.Connection

	Registry   = model.Registry
	Model      = model.Model
	Query      = model.Query
	Record     = record.Record
	Descriptor = schema.Descriptor

	Field       = schema.Field
	FieldOption = schema.FieldOption
	OnDelete    = schema.OnDelete
	Predicate   = query.Predicate

	// Schema is the handle migration units change collections through.
	Schema = migrate.Schema
	// MigrationFunc is the up or down operation of a migration unit.
	MigrationFunc = migrate.Func

	// Error is the typed failure every operation returns.
	Error = dberr.Error
)

// Field constructors.
var (
	String     = schema.String
	Text       = schema.Text
	Integer    = schema.Integer
	Float      = schema.Float
	Boolean    = schema.Boolean
	DateTime   = schema.DateTime
	ForeignKey = schema.ForeignKey
	OneToMany  = schema.OneToMany
)

// Field options.
var (
	Nullable   = schema.Nullable
	Unique     = schema.Unique
	Required   = schema.Required
	Default    = schema.Default
	MaxLength  = schema.MaxLength
	AutoNow    = schema.AutoNow
	AutoNowAdd = schema.AutoNowAdd
	Cascade    = schema.Cascade
)

// Referential actions for Cascade.
const (
	OnDeleteCascade  = schema.OnDeleteCascade
	OnDeleteSetNull  = schema.OnDeleteSetNull
	OnDeleteRestrict = schema.OnDeleteRestrict
)

// Predicate constructors for Model.Where.
var (
	Eq    = query.Eq
	Ne    = query.Ne
	Gt    = query.Gt
	Gte   = query.Gte
	Lt    = query.Lt
	Lte   = query.Lte
	In    = query.In
	AllOf = query.AllOf
	AnyOf = query.AnyOf
)

// Error classification.
var (
	IsNotFound                = dberr.IsNotFound
	IsConstraintViolation     = dberr.IsConstraintViolation
	IsInvalidQuery            = dberr.IsInvalidQuery
	IsRelationshipDeclaration = dberr.IsRelationshipDeclaration
	IsConnection              = dberr.IsConnection
	IsInert                   = dberr.IsInert
)

// NewDescriptor builds a model descriptor for use with a Registry.
func NewDescriptor(name string, fields []Field, opts ...schema.Option) (*Descriptor, error) {
	return schema.New(name, fields, opts...)
}

// LoadConfig reads a YAML configuration file and applies the TABERNACLE_*
// environment overrides.
func LoadConfig(path string) (Config, error) { return config.Load(path) }
