package tms

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tingold/pyramid"
)

const quadJSON = `{
  "id": "WebMercatorQuad",
  "uri": "http://www.opengis.net/def/tilematrixset/OGC/1.0/WebMercatorQuad",
  "crs": "http://www.opengis.net/def/crs/EPSG/0/3857",
  "orderedAxes": ["X", "Y"],
  "tileMatrices": [
    {
      "id": "0",
      "scaleDenominator": 559082264.0287178,
      "cellSize": 156543.03392804097,
      "pointOfOrigin": [-20037508.3427892, 20037508.3427892],
      "tileWidth": 256,
      "tileHeight": 256,
      "matrixWidth": 1,
      "matrixHeight": 1
    },
    {
      "id": "1",
      "scaleDenominator": 279541132.0143589,
      "cellSize": 78271.51696402048,
      "cornerOfOrigin": "topLeft",
      "pointOfOrigin": [-20037508.3427892, 20037508.3427892],
      "tileWidth": 256,
      "tileHeight": 256,
      "matrixWidth": 2,
      "matrixHeight": 2
    }
  ]
}`

func TestParse(t *testing.T) {
	got, err := Parse([]byte(quadJSON))
	require.NoError(t, err)
	assert.Equal(t, "WebMercatorQuad", got.ID)
	assert.Equal(t, pyramid.EPSG3857, got.CRS)
	assert.Equal(t, []int{0, 1}, got.Zooms())
	assert.Equal(t, TopLeft, got.TileMatrices[0].CornerOfOrigin)
	assert.Equal(t, 2, got.TileMatrices[1].MatrixWidth)

	b, ok := got.Bound(1)
	require.True(t, ok)
	assert.InDelta(t, -20037508.3427892, b.Min[0], 1e-6)
	assert.InDelta(t, 20037508.3427892, b.Max[1], 1e-6)
	assert.InDelta(t, 20037508.3427892, b.Max[0], 1e-3)
	_, ok = got.Bound(2)
	assert.False(t, ok)
}

func TestParse_CRSForms(t *testing.T) {
	tests := []struct {
		crs  string
		want pyramid.CRS
	}{
		{`"urn:ogc:def:crs:EPSG::3857"`, pyramid.EPSG3857},
		{`{"uri": "http://www.opengis.net/def/crs/EPSG/0/4326", "description": "wgs84"}`, pyramid.EPSG4326},
		{`{"wkt": {"type": "ProjectedCRS", "name": "RD New", "id": {"authority": "EPSG", "code": 28992}}}`, pyramid.CRS{Code: "EPSG:28992"}},
		{`"http://www.opengis.net/def/crs/OGC/1.3/CRS84"`, pyramid.EPSG4326},
	}
	for _, tt := range tests {
		t.Run(tt.want.Code, func(t *testing.T) {
			doc := strings.Replace(quadJSON, `"http://www.opengis.net/def/crs/EPSG/0/3857"`, tt.crs, 1)
			got, err := Parse([]byte(doc))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.CRS)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]struct{ old, new string }{
		"missing crs":         {`"crs": "http://www.opengis.net/def/crs/EPSG/0/3857",`, ``},
		"crs without code":    {`"http://www.opengis.net/def/crs/EPSG/0/3857"`, `{"description": "nothing"}`},
		"crs of wrong type":   {`"http://www.opengis.net/def/crs/EPSG/0/3857"`, `42`},
		"missing matrices":    {`"tileMatrices"`, `"matrices"`},
		"non integer id":      {`"id": "1"`, `"id": "one"`},
		"duplicate id":        {`"id": "1"`, `"id": "0"`},
		"zero tile width":     {`"tileWidth": 256,
      "tileHeight": 256,
      "matrixWidth": 2`, `"tileWidth": 0,
      "tileHeight": 256,
      "matrixWidth": 2`},
		"bad corner":          {`"topLeft"`, `"middle"`},
		"numeric corner":      {`"topLeft"`, `3`},
		"variable widths":     {`"matrixHeight": 2`, `"matrixHeight": 2, "variableMatrixWidths": [{"coalesce": 2, "minTileRow": 0, "maxTileRow": 0}]`},
		"three ordered axes":  {`["X", "Y"]`, `["X", "Y", "Z"]`},
		"negative cell size":  {`"cellSize": 78271.51696402048`, `"cellSize": -1`},
		"not a json document": {`{`, `[`},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			doc := strings.Replace(quadJSON, tt.old, tt.new, 1)
			require.NotEqual(t, quadJSON, doc)
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_NorthingFirstBottomLeft(t *testing.T) {
	got, err := Load(filepath.Join("testdata", "LatLonBottomLeft.json"))
	require.NoError(t, err)
	assert.Equal(t, pyramid.EPSG4326, got.CRS)
	assert.Equal(t, BottomLeft, got.TileMatrices[0].CornerOfOrigin)

	// the document lists latitude first
	want := orb.Bound{Min: orb.Point{-10, 30}, Max: orb.Point{22, 62}}
	for _, z := range got.Zooms() {
		b, ok := got.Bound(z)
		require.True(t, ok)
		assert.Equal(t, want, b, "zoom %d", z)
	}

	target, err := got.Target(orb.Bound{}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, pyramid.WriteTarget{
		CRS:       pyramid.EPSG4326,
		Envelope:  want,
		Scales:    []float64{0.5, 0.25},
		TileWidth: 64, TileHeight: 64,
	}, target)

	_, err = Load(filepath.Join("testdata", "missing.json"))
	assert.Error(t, err)
}

func TestWebMercatorQuad(t *testing.T) {
	got, err := WebMercatorQuad(18)
	require.NoError(t, err)
	assert.Len(t, got.Zooms(), 19)
	assert.Equal(t, pyramid.EPSG3857, got.CRS)

	z0 := got.TileMatrices[0]
	assert.InDelta(t, 156543.03392804097, z0.CellSize, 1e-8)
	assert.InDelta(t, 559082264.0287178, z0.ScaleDenominator, 1e-4)
	z18 := got.TileMatrices[18]
	assert.Equal(t, 1<<18, z18.MatrixWidth)
	assert.InDelta(t, 0.5971642834779395, z18.CellSize, 1e-12)

	b, _ := got.Bound(18)
	assert.InDelta(t, pyramid.EPSG3857.Domain.Min[0], b.Min[0], 1e-6)
	assert.InDelta(t, pyramid.EPSG3857.Domain.Max[1], b.Max[1], 1e-6)
	assert.InDelta(t, pyramid.EPSG3857.Domain.Min[1], b.Min[1], 1e-6)

	for _, z := range []int{-1, 31} {
		_, err := WebMercatorQuad(z)
		assert.Error(t, err, fmt.Sprint(z))
	}

	b1, err := Builtin("WebMercatorQuad", 3)
	require.NoError(t, err)
	assert.Len(t, b1.TileMatrices, 4)
	_, err = Builtin("NetherlandsRDNewQuad", 3)
	assert.Error(t, err)
}

func TestWebMercatorQuad_MatchesMapTiles(t *testing.T) {
	set, err := WebMercatorQuad(12)
	require.NoError(t, err)
	for _, tile := range []maptile.Tile{maptile.New(0, 0, 0), maptile.New(5, 2, 3), maptile.New(2047, 1360, 12)} {
		tm := set.TileMatrices[int(tile.Z)]
		span := tm.CellSize * float64(tm.TileWidth)
		want := tile.Bound()
		lo := project.WGS84.ToMercator(want.Min)
		hi := project.WGS84.ToMercator(want.Max)
		assert.InDelta(t, lo[0], tm.PointOfOrigin[0]+float64(tile.X)*span, 1e-3, "tile %v", tile)
		assert.InDelta(t, hi[1], tm.PointOfOrigin[1]-float64(tile.Y)*span, 1e-3, "tile %v", tile)
		assert.InDelta(t, hi[0], tm.PointOfOrigin[0]+float64(tile.X+1)*span, 1e-3, "tile %v", tile)
	}
}

func TestTarget(t *testing.T) {
	quad, err := WebMercatorQuad(4)
	require.NoError(t, err)
	half := webMercatorHalfWorld

	target, err := quad.Target(orb.Bound{}, 3, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, pyramid.EPSG3857, target.CRS)
	assert.Equal(t, 256, target.TileWidth)
	require.Len(t, target.Scales, 2)
	assert.InDelta(t, 2*half/512, target.Scales[0], 1e-9)
	assert.InDelta(t, 2*half/2048, target.Scales[1], 1e-9)
	assert.InDelta(t, -half, target.Envelope.Min[0], 1e-6)
	assert.InDelta(t, half, target.Envelope.Max[1], 1e-6)

	// snapped to the zoom 1 tile holding the clip
	target, err = quad.Target(orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{2, 2}}, 1, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0, target.Envelope.Min[0], 1e-6)
	assert.InDelta(t, 0, target.Envelope.Min[1], 1e-6)
	assert.InDelta(t, half, target.Envelope.Max[0], 1e-6)
	assert.InDelta(t, half, target.Envelope.Max[1], 1e-6)

	_, err = quad.Target(orb.Bound{})
	assert.Error(t, err)
	_, err = quad.Target(orb.Bound{}, 2, 9)
	assert.Error(t, err)
	_, err = quad.Target(orb.Bound{Min: orb.Point{3e7, 3e7}, Max: orb.Point{4e7, 4e7}}, 1)
	assert.Error(t, err)

	odd := quad.TileMatrices[2]
	odd.TileWidth = 512
	quad.TileMatrices[2] = odd
	_, err = quad.Target(orb.Bound{}, 1, 2)
	assert.Error(t, err)
}

func TestTarget_DrivesWriter(t *testing.T) {
	quad, err := WebMercatorQuad(2)
	require.NoError(t, err)
	target, err := quad.Target(orb.Bound{}, 0, 2)
	require.NoError(t, err)

	store := pyramid.NewMemoryStore()
	w, err := pyramid.NewWriter(store, pyramid.WriterConfig{})
	require.NoError(t, err)
	cell := webMercatorHalfWorld / 4
	src := &pyramid.Coverage{
		Raster:    pyramid.NewRaster(2, 2, pyramid.SampleModel{Bands: 1, Type: pyramid.Uint8}),
		CRS:       pyramid.EPSG3857,
		GridToCRS: pyramid.Affine{A: cell, E: -cell, C: 0, F: cell * 2},
	}
	require.NoError(t, w.Write(t.Context(), pyramid.WriteRequest{Source: src, Targets: []pyramid.WriteTarget{target}}))

	set, _ := store.PyramidSet(t.Context())
	mosaics := set.Pyramids()[0].Mosaics()
	require.Len(t, mosaics, 2)
	assert.Equal(t, [2]int{1, 1}, [2]int{mosaics[0].GridWidth, mosaics[0].GridHeight})
	assert.Equal(t, [2]int{4, 4}, [2]int{mosaics[1].GridWidth, mosaics[1].GridHeight})
	// the source covers exactly the zoom 2 tile at column 2, row 1
	assert.False(t, mosaics[1].IsMissing(2, 1))
	assert.True(t, mosaics[1].IsMissing(2, 0))
	assert.True(t, mosaics[1].IsMissing(1, 1))
	assert.True(t, mosaics[1].IsMissing(3, 3))
}
