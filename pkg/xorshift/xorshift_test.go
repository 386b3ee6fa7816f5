package xorshift

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextDeterministic(t *testing.T) {
	a := New(37)
	b := New(37)
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Next(), b.Next(), "draw %d diverged", i)
	}
}

func TestZeroSeedIsUsable(t *testing.T) {
	s := New(0)
	seen := map[uint32]bool{}
	for i := 0; i < 10; i++ {
		v := s.Next()
		assert.NotZero(t, v)
		seen[v] = true
	}
	assert.Greater(t, len(seen), 1, "generator must not be stuck")
}

func TestDeriveIndependentStreams(t *testing.T) {
	a := Derive(2024, "unit-1|#/properties/id")
	b := Derive(2024, "unit-2|#/properties/id")
	assert.NotEqual(t, a.Next(), b.Next(), "distinct labels must give distinct streams")

	c := Derive(2024, "unit-1|#/properties/id")
	d := Derive(2024, "unit-1|#/properties/id")
	for i := 0; i < 10; i++ {
		require.Equal(t, c.Next(), d.Next(), "same label must replay the same stream")
	}
}

func TestIntNBounds(t *testing.T) {
	s := New(777)
	for i := 0; i < 1000; i++ {
		v := s.IntN(7)
		assert.GreaterOrEqual(t, v, 0)
		assert.Less(t, v, 7)
	}
}

func TestIntNCoversAllResidues(t *testing.T) {
	s := New(99)
	hits := make([]int, 5)
	for i := 0; i < 5000; i++ {
		hits[s.IntN(5)]++
	}
	for r, n := range hits {
		assert.Greater(t, n, 0, "residue %d never drawn", r)
	}
}

func TestIntRange(t *testing.T) {
	s := New(5)
	for i := 0; i < 1000; i++ {
		v := s.IntRange(-3, 3)
		assert.GreaterOrEqual(t, v, int64(-3))
		assert.LessOrEqual(t, v, int64(3))
	}
	assert.Equal(t, int64(42), s.IntRange(42, 42))
}

func TestFloat64HalfOpen(t *testing.T) {
	s := New(123456)
	for i := 0; i < 1000; i++ {
		f := s.Float64()
		assert.GreaterOrEqual(t, f, 0.0)
		assert.Less(t, f, 1.0)
	}
}
