package pyramid_test

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tingold/pyramid"
)

// levels builds a pyramid with scales 8, 4, 2, 1 of 10x10 pixel tiles.
func levels(t *testing.T) []*pyramid.GridMosaic {
	t.Helper()
	p := pyramid.NewPyramid("p", pyramid.EPSG3857)
	for _, s := range []float64{1, 2, 4, 8} {
		require.NoError(t, p.AddMosaic(pyramid.NewGridMosaic(pyramid.NewID(), p.ID, gridDef(s, 64, 10), nil)))
	}
	return p.Mosaics()
}

func TestFindMosaic_Resolution(t *testing.T) {
	mosaics := levels(t)
	env := orb.Bound{Min: orb.Point{0, -80}, Max: orb.Point{80, 0}}

	tests := []struct {
		name      string
		wanted    float64
		tolerance float64
		want      float64
	}{
		{"exact", 2, 0.1, 2},
		{"between levels refines", 3, 0.1, 2},
		{"finer than finest", 0.1, 0.1, 1},
		{"coarser than coarsest", 100, 0.1, 8},
		{"any resolution", pyramid.AnyResolution, 0.1, 8},
		{"nan is any resolution", math.NaN(), 0.1, 8},
		{"tolerance keeps coarser level", 3.7, 0.1, 4},
		{"tolerance exceeded refines", 3.5, 0.1, 2},
		{"no tolerance", 4.5, 0, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := pyramid.FindMosaic(mosaics, tt.wanted, tt.tolerance, env, 0)
			require.NotNil(t, m)
			assert.Equal(t, tt.want, m.Scale)
		})
	}
}

func TestFindMosaic_Budget(t *testing.T) {
	mosaics := levels(t)
	// 160x160 world units: 4 tiles at scale 8, 16 at 4, 64 at 2, 256 at 1
	env := orb.Bound{Min: orb.Point{0, -160}, Max: orb.Point{160, 0}}

	for _, budget := range []int{1, 4, 5, 16, 63, 64, 100, 1000} {
		m := pyramid.FindMosaic(mosaics, 0, 0, env, budget)
		require.NotNil(t, m)
		count := m.EstimateTileCount(env)
		if m != mosaics[0] {
			assert.LessOrEqual(t, count, float64(budget), "budget %d exceeded at scale %v", budget, m.Scale)
		}
		// the next finer level would have broken the budget
		for i, o := range mosaics {
			if o == m && i+1 < len(mosaics) {
				assert.Greater(t, mosaics[i+1].EstimateTileCount(env), float64(budget))
			}
		}
	}

	// only the coarsest level exists and it is over budget
	m := pyramid.FindMosaic(mosaics[:1], 0, 0, env, 1)
	assert.Same(t, mosaics[0], m)
	// coarsest over budget among several levels
	m = pyramid.FindMosaic(mosaics, 0, 0, env, 2)
	assert.Same(t, mosaics[0], m)

	assert.Nil(t, pyramid.FindMosaic(nil, 1, 0, env, 10))
}

func TestFindMosaic_DegenerateEnvelope(t *testing.T) {
	mosaics := levels(t)
	env := orb.Bound{Min: orb.Point{0, math.Inf(-1)}, Max: orb.Point{320, math.Inf(1)}}
	// x needs 4 tiles at scale 8, 8 at 4, so y is assumed to need as many
	m := pyramid.FindMosaic(mosaics, 0, 0, env, 16)
	require.NotNil(t, m)
	assert.Equal(t, 8.0, m.Scale)
	m = pyramid.FindMosaic(mosaics, 0, 0, env, 64)
	require.NotNil(t, m)
	assert.Equal(t, 4.0, m.Scale)
}

func TestFindPyramid(t *testing.T) {
	log, hook := testLogger()
	set := pyramid.NewPyramidSet("set")
	assert.Nil(t, pyramid.FindPyramid(set, pyramid.EPSG4326, log))

	merc := pyramid.NewPyramid("merc", pyramid.EPSG3857)
	geo := pyramid.NewPyramid("geo", pyramid.EPSG4326)
	require.NoError(t, set.AddPyramid(merc))
	require.NoError(t, set.AddPyramid(geo))

	assert.Same(t, geo, pyramid.FindPyramid(set, pyramid.MustParseCRS("urn:ogc:def:crs:EPSG::4326"), log))
	assert.Empty(t, warnings(hook))

	// no pyramid of the crs: fallback to the first one, flagged in the log
	assert.Same(t, merc, pyramid.FindPyramid(set, pyramid.MustParseCRS("EPSG:32633"), log))
	require.Len(t, warnings(hook), 1)
	assert.Equal(t, "EPSG:3857", warnings(hook)[0].Data["fallback"])
}
