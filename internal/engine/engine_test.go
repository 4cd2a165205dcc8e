package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator_Format(t *testing.T) {
	gen := UUIDv7Generator{}

	id := gen.Generate()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Len(t, id, 36)
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	gen := UUIDv7Generator{}
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := gen.Generate()
		assert.False(t, seen[id], "duplicate id: %s", id)
		seen[id] = true
	}
}

func TestFixedGenerator_Order(t *testing.T) {
	gen := NewFixedGenerator("u1", "u2")

	assert.Equal(t, "u1", gen.Generate())
	assert.Equal(t, "u2", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}

func TestSequence_Monotonic(t *testing.T) {
	s := NewSequenceAt(10)
	assert.Equal(t, int64(10), s.Current())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Next()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(60), s.Current())
	assert.Equal(t, int64(61), s.Next())
}

func TestClockFunc(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var c Clock = ClockFunc(func() time.Time { return fixed })

	assert.Equal(t, fixed, c.Now())
	assert.False(t, SystemClock{}.Now().IsZero())
}

func TestDoc_Clone(t *testing.T) {
	d := Doc{"a": 1}
	c := d.Clone()
	c["a"] = 2

	assert.Equal(t, 1, d["a"])
	assert.Nil(t, Doc(nil).Clone())
}

func TestSingle_BindsBothSides(t *testing.T) {
	var e Engine
	b := Single(e)
	assert.Equal(t, e, b.Write())
	assert.Equal(t, e, b.Read())
	assert.Equal(t, "integer", KeyInteger.String())
	assert.Equal(t, "string", KeyString.String())
}
