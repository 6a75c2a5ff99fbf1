package graph

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDegreeCountsDistinctNeighbors(t *testing.T) {
	g := New([][2]string{{"a", "b"}, {"a", "c"}, {"b", "c"}})
	assert.Equal(t, 2, g.Degree("a"))
	assert.Equal(t, 2, g.Degree("b"))
	assert.Equal(t, 0, g.Degree("z"))
}

func TestAdamicAdarSharedNeighborContributes(t *testing.T) {
	// a-c, b-c, c-d, c-e: a and b share only c, which has degree 4.
	g := New([][2]string{{"a", "c"}, {"b", "c"}, {"c", "d"}, {"c", "e"}})
	want := 1 / math.Log(1+4)
	assert.InDelta(t, want, g.AdamicAdar("a", "b"), 1e-9)
}

func TestAdamicAdarNoCommonNeighborsIsZero(t *testing.T) {
	g := New([][2]string{{"a", "b"}, {"c", "d"}})
	assert.Equal(t, float64(0), g.AdamicAdar("a", "c"))
}

func TestAdamicAdarUnknownNodeIsZero(t *testing.T) {
	g := New([][2]string{{"a", "b"}})
	assert.Equal(t, float64(0), g.AdamicAdar("a", "ghost"))
}

func TestAdamicAdarIsSymmetric(t *testing.T) {
	g := New([][2]string{{"a", "c"}, {"b", "c"}, {"c", "d"}})
	assert.InDelta(t, g.AdamicAdar("a", "b"), g.AdamicAdar("b", "a"), 1e-12)
}
