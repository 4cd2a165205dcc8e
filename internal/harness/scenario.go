package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tabernacleorm/tabernacle/internal/schema"
)

// Scenario is a sequence of model operations with expected outcomes, run
// against a fresh engine.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Models declares the models registered before the first step.
	Models []ModelSpec `yaml:"models"`

	// Steps run in order. A step whose expectation fails is reported and
	// the run continues.
	Steps []Step `yaml:"steps"`

	// Assertions check the final state after every step ran.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ModelSpec declares one model.
type ModelSpec struct {
	Name       string      `yaml:"name"`
	Collection string      `yaml:"collection,omitempty"`
	Fields     []FieldSpec `yaml:"fields"`
}

// FieldSpec declares one field. Type is a schema type name ("string",
// "integer", "reference", "collection", ...).
type FieldSpec struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Ref        string `yaml:"ref,omitempty"`
	Back       string `yaml:"back,omitempty"`
	Nullable   bool   `yaml:"nullable,omitempty"`
	Unique     bool   `yaml:"unique,omitempty"`
	Required   bool   `yaml:"required,omitempty"`
	Default    any    `yaml:"default,omitempty"`
	MaxLength  int    `yaml:"max_length,omitempty"`
	AutoNow    bool   `yaml:"auto_now,omitempty"`
	AutoNowAdd bool   `yaml:"auto_now_add,omitempty"`
	OnDelete   string `yaml:"on_delete,omitempty"`
}

// Step operations.
const (
	OpCreate     = "create"
	OpInsertMany = "insert_many"
	OpFind       = "find"
	OpFirst      = "first"
	OpGet        = "get"
	OpFindByID   = "find_by_id"
	OpCount      = "count"
	OpUpdate     = "update"
	OpDelete     = "delete"
)

var validOps = map[string]bool{
	OpCreate: true, OpInsertMany: true, OpFind: true, OpFirst: true, OpGet: true,
	OpFindByID: true, OpCount: true, OpUpdate: true, OpDelete: true,
}

// Step is one operation on a model.
//
// String values of the form "$alias" anywhere in Fields, Docs, Filter,
// Match, Set or ID are replaced by the id of the record bound to alias.
type Step struct {
	Do    string `yaml:"do"`
	Model string `yaml:"model"`

	// As binds the created or first returned record to an alias.
	As string `yaml:"as,omitempty"`
	// Aliases binds insert_many results in order.
	Aliases []string `yaml:"aliases,omitempty"`

	Fields map[string]any   `yaml:"fields,omitempty"`
	Docs   []map[string]any `yaml:"docs,omitempty"`
	ID     any              `yaml:"id,omitempty"`

	// Filter holds keyword filters ("rating__gt: 3"); Match holds an
	// operator document ("rating: {$gt: 3}").
	Filter   map[string]any `yaml:"filter,omitempty"`
	Match    map[string]any `yaml:"match,omitempty"`
	Sort     string         `yaml:"sort,omitempty"`
	Skip     int            `yaml:"skip,omitempty"`
	Limit    int            `yaml:"limit,omitempty"`
	Populate string         `yaml:"populate,omitempty"`

	Set map[string]any `yaml:"set,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is the expected outcome of a step.
type Expect struct {
	// Count is the number of records returned, counted or affected.
	Count *int `yaml:"count,omitempty"`

	// Records are matched in order against the returned records. Each is a
	// subset match; nested maps match populated references and lists match
	// populated collections.
	Records []map[string]any `yaml:"records,omitempty"`

	// Error is the expected error code (e.g. CONSTRAINT_VIOLATION). Empty
	// means the step must succeed.
	Error string `yaml:"error,omitempty"`

	// Nil expects find_by_id or first to return no record.
	Nil bool `yaml:"nil,omitempty"`
}

// Assertion checks final state.
type Assertion struct {
	// Type is AssertFinalCount or AssertFinalState.
	Type string `yaml:"type"`

	Model  string         `yaml:"model"`
	Where  map[string]any `yaml:"where,omitempty"`
	Count  int            `yaml:"count,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalCount = "final_count"
	AssertFinalState = "final_state"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Models) == 0 {
		return fmt.Errorf("models list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	models := map[string]bool{}
	for i, m := range s.Models {
		if m.Name == "" {
			return fmt.Errorf("models[%d]: name is required", i)
		}
		models[m.Name] = true
		for j, f := range m.Fields {
			if _, err := f.Field(); err != nil {
				return fmt.Errorf("models[%d].fields[%d]: %w", i, j, err)
			}
		}
	}
	for i, step := range s.Steps {
		if !validOps[step.Do] {
			return fmt.Errorf("steps[%d]: unknown operation %q", i, step.Do)
		}
		if !models[step.Model] {
			return fmt.Errorf("steps[%d]: unknown model %q", i, step.Model)
		}
	}
	for i, a := range s.Assertions {
		if a.Type != AssertFinalCount && a.Type != AssertFinalState {
			return fmt.Errorf("assertions[%d]: unknown type %q", i, a.Type)
		}
		if !models[a.Model] {
			return fmt.Errorf("assertions[%d]: unknown model %q", i, a.Model)
		}
	}
	return nil
}

// Field converts the declaration into a schema field.
func (f FieldSpec) Field() (schema.Field, error) {
	if f.Name == "" {
		return schema.Field{}, fmt.Errorf("name is required")
	}
	t, ok := schema.ParseFieldType(f.Type)
	if !ok {
		return schema.Field{}, fmt.Errorf("field %s: unknown type %q", f.Name, f.Type)
	}
	if t == schema.TypeCollection {
		return schema.OneToMany(f.Name, f.Ref, f.Back), nil
	}

	var opts []schema.FieldOption
	if f.Nullable {
		opts = append(opts, schema.Nullable())
	}
	if f.Unique {
		opts = append(opts, schema.Unique())
	}
	if f.Required {
		opts = append(opts, schema.Required())
	}
	if f.Default != nil {
		opts = append(opts, schema.Default(f.Default))
	}
	if f.MaxLength > 0 {
		opts = append(opts, schema.MaxLength(f.MaxLength))
	}
	if f.AutoNow {
		opts = append(opts, schema.AutoNow())
	}
	if f.AutoNowAdd {
		opts = append(opts, schema.AutoNowAdd())
	}
	if f.OnDelete != "" {
		opts = append(opts, schema.Cascade(schema.OnDelete(f.OnDelete)))
	}

	switch t {
	case schema.TypeString:
		return schema.String(f.Name, opts...), nil
	case schema.TypeText:
		return schema.Text(f.Name, opts...), nil
	case schema.TypeInteger:
		return schema.Integer(f.Name, opts...), nil
	case schema.TypeFloat:
		return schema.Float(f.Name, opts...), nil
	case schema.TypeBoolean:
		return schema.Boolean(f.Name, opts...), nil
	case schema.TypeDateTime:
		return schema.DateTime(f.Name, opts...), nil
	}
	return schema.ForeignKey(f.Name, f.Ref, opts...), nil
}

// Descriptor builds the model descriptor.
func (m ModelSpec) Descriptor() (*schema.Descriptor, error) {
	fields := make([]schema.Field, 0, len(m.Fields))
	for _, fs := range m.Fields {
		f, err := fs.Field()
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	var opts []schema.Option
	if m.Collection != "" {
		opts = append(opts, schema.WithCollection(m.Collection))
	}
	return schema.New(m.Name, fields, opts...)
}
