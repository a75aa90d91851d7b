package pyramid

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHilbertOrder(t *testing.T) {
	rng := TileRange{MinCol: 3, MinRow: 5, MaxCol: 7, MaxRow: 9}
	got, err := hilbertOrder(rng)
	require.NoError(t, err)
	assert.ElementsMatch(t, rng.Positions(), got)

	// on a power of two square consecutive jobs are neighbours
	for i := 1; i < len(got); i++ {
		d := abs(got[i].Col-got[i-1].Col) + abs(got[i].Row-got[i-1].Row)
		assert.Equal(t, 1, d, "jump between %v and %v", got[i-1], got[i])
	}

	// ragged ranges keep every tile exactly once
	rng = TileRange{MaxCol: 5, MaxRow: 3}
	got, err = hilbertOrder(rng)
	require.NoError(t, err)
	assert.ElementsMatch(t, rng.Positions(), got)

	got, err = hilbertOrder(TileRange{MaxCol: 1, MaxRow: 1})
	require.NoError(t, err)
	assert.Equal(t, []TilePos{{0, 0}}, got)
}

func TestIntersect(t *testing.T) {
	a := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}
	got, ok := intersect(a, orb.Bound{Min: orb.Point{5, -5}, Max: orb.Point{20, 5}})
	assert.True(t, ok)
	assert.Equal(t, orb.Bound{Min: orb.Point{5, 0}, Max: orb.Point{10, 5}}, got)

	_, ok = intersect(a, orb.Bound{Min: orb.Point{10, 0}, Max: orb.Point{20, 10}})
	assert.False(t, ok, "touching bounds do not intersect")
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
