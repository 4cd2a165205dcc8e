package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabernacleorm/tabernacle/internal/engine"
	"github.com/tabernacleorm/tabernacle/internal/logging"
)

func backends(t *testing.T, run func(t *testing.T, eng engine.Engine)) {
	for _, name := range Backends {
		t.Run(name, func(t *testing.T) {
			eng, err := OpenBackend(context.Background(), name, logging.Discard())
			require.NoError(t, err)
			defer eng.Close()
			run(t, eng)
		})
	}
}

func TestUserPostsScenario_Golden(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/user_posts.yaml")
	require.NoError(t, err)

	backends(t, func(t *testing.T, eng engine.Engine) {
		result, err := RunWithGolden(t, scenario, eng, WithLogger(logging.Discard()))
		require.NoError(t, err)
		assert.True(t, result.Pass, "errors: %v", result.Errors)
		assert.Empty(t, result.Errors)
	})
}

const failing = `
name: failing
description: "Expectations that do not hold"
models:
  - name: Tag
    fields:
      - {name: label, type: string, unique: true}
steps:
  - do: create
    model: Tag
    fields: {label: go}
  - do: create
    model: Tag
    fields: {label: go}
  - do: count
    model: Tag
    expect: {count: 3}
  - do: find
    model: Tag
    expect:
      records: [{label: rust}]
  - do: create
    model: Tag
    fields: {label: sql}
    expect: {error: NOT_FOUND}
assertions:
  - type: final_count
    model: Tag
    count: 5
`

func TestRun_ReportsFailures(t *testing.T) {
	scenario, err := ParseScenario([]byte(failing))
	require.NoError(t, err)

	backends(t, func(t *testing.T, eng engine.Engine) {
		result, err := Run(context.Background(), scenario, eng, WithLogger(logging.Discard()))
		require.NoError(t, err)
		assert.False(t, result.Pass)
		require.Len(t, result.Errors, 5, "%v", result.Errors)

		assert.Contains(t, result.Errors[0], "step 2 (create Tag)")
		assert.Equal(t, "CONSTRAINT_VIOLATION", result.Trace[1].Error)
		assert.Contains(t, result.Errors[1], "count 3")
		assert.Contains(t, result.Errors[2], "rust")
		assert.Contains(t, result.Errors[3], "error NOT_FOUND")
		assert.Contains(t, result.Errors[4], "final_count Tag")
	})
}

func TestRun_UnknownAlias(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: alias
description: "Unknown alias"
models:
  - name: Tag
    fields:
      - {name: label, type: string}
steps:
  - do: count
    model: Tag
    filter: {label: $missing}
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario, mustOpen(t, "document"), WithLogger(logging.Discard()))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, "ERROR", result.Trace[0].Error)
	assert.Contains(t, result.Errors[0], "unknown alias $missing")
}

func TestRun_BadModel(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: bad
description: "Collection without back reference"
models:
  - name: User
    fields:
      - {name: posts, type: collection, ref: Post, back: author_id}
  - name: Post
    fields:
      - {name: title, type: string}
steps:
  - do: count
    model: User
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), scenario, mustOpen(t, "document"), WithLogger(logging.Discard()))
	assert.Error(t, err)
}

func TestOpenBackend_Unknown(t *testing.T) {
	_, err := OpenBackend(context.Background(), "redis", nil)
	assert.Error(t, err)
}

func mustOpen(t *testing.T, name string) engine.Engine {
	t.Helper()
	eng, err := OpenBackend(context.Background(), name, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestMatchSubset(t *testing.T) {
	got := map[string]any{
		"name":   "Alice",
		"rating": int64(5),
		"score":  4.5,
		"email":  nil,
		"posts":  []any{map[string]any{"title": "Hello", "id": "$hello"}},
	}
	tests := []struct {
		name string
		want map[string]any
		ok   bool
	}{
		{"empty", map[string]any{}, true},
		{"yaml int vs int64", map[string]any{"rating": 5}, true},
		{"float", map[string]any{"score": 4.5}, true},
		{"null", map[string]any{"email": nil}, true},
		{"nested subset", map[string]any{"posts": []any{map[string]any{"title": "Hello"}}}, true},
		{"wrong value", map[string]any{"rating": 4}, false},
		{"missing key", map[string]any{"age": 3}, false},
		{"list length", map[string]any{"posts": []any{}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, matchSubset(tt.want, got))
		})
	}
}
