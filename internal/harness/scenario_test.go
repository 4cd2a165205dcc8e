package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabernacleorm/tabernacle/internal/schema"
)

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/user_posts.yaml")
	require.NoError(t, err)
	assert.Equal(t, "user_posts", s.Name)
	require.Len(t, s.Models, 2)
	assert.Len(t, s.Steps, 14)

	desc, err := s.Models[0].Descriptor()
	require.NoError(t, err)
	assert.Equal(t, "users", desc.Collection())
	f, ok := desc.Field("posts")
	require.True(t, ok)
	assert.Equal(t, schema.TypeCollection, f.Type)
	assert.Equal(t, "author_id", f.BackPopulates)
}

func TestLoadScenario_Missing(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestParseScenario_Invalid(t *testing.T) {
	base := "name: x\ndescription: y\nmodels:\n  - name: Tag\n    fields:\n      - {name: label, type: string}\n"
	tests := []struct {
		name string
		doc  string
		msg  string
	}{
		{"unknown key", base + "steps:\n  - do: count\n    model: Tag\n    frobnicate: 1\n", "failed to parse YAML"},
		{"no name", "description: y\n", "name is required"},
		{"no steps", base, "steps list is required"},
		{"unknown op", base + "steps:\n  - do: upsert\n    model: Tag\n", "unknown operation"},
		{"unknown model", base + "steps:\n  - do: count\n    model: Post\n", "unknown model"},
		{"unknown type", "name: x\ndescription: y\nmodels:\n  - name: Tag\n    fields:\n      - {name: label, type: blob}\nsteps:\n  - do: count\n    model: Tag\n", "unknown type"},
		{"unknown assertion", base + "steps:\n  - do: count\n    model: Tag\nassertions:\n  - type: trace_order\n    model: Tag\n", "unknown type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestFieldSpec_Options(t *testing.T) {
	f, err := FieldSpec{
		Name: "author_id", Type: "reference", Ref: "User",
		Nullable: true, OnDelete: "CASCADE",
	}.Field()
	require.NoError(t, err)
	assert.Equal(t, schema.TypeReference, f.Type)
	assert.Equal(t, "User", f.Ref)
	assert.True(t, f.Nullable)
	assert.Equal(t, schema.OnDeleteCascade, f.OnDelete)

	f, err = FieldSpec{Name: "rating", Type: "integer", Default: 0, Required: true}.Field()
	require.NoError(t, err)
	assert.True(t, f.Required)
	assert.Equal(t, 0, f.Default)
}

func TestScenarioFilesParse(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, path := range files {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		_, err = ParseScenario(data)
		assert.NoError(t, err, path)
	}
}
