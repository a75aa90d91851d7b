package gpkg

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tingold/pyramid"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path)
	skipWithoutSpatialite(t, err)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func skipWithoutSpatialite(t *testing.T, err error) {
	t.Helper()
	if errors.Is(err, ErrNoSpatialite) {
		t.Skip(err)
	}
}

func tempPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "tiles.gpkg")
}

func testDef(scale float64, model pyramid.SampleModel) pyramid.MosaicDef {
	return pyramid.MosaicDef{
		UpperLeft: orb.Point{0, 640},
		GridWidth: 4, GridHeight: 4,
		TileWidth: 16, TileHeight: 16,
		Scale: scale,
		Model: &model,
	}
}

func TestStore_CreateAndReopen(t *testing.T) {
	ctx := context.Background()
	path := tempPath(t)

	s, err := Open(path)
	require.NoError(t, err)
	p, err := s.CreatePyramid(ctx, pyramid.EPSG3857)
	require.NoError(t, err)
	model := pyramid.DefaultSampleModel(1, pyramid.Float32)
	coarse, err := s.CreateMosaic(ctx, p.ID, testDef(20, model))
	require.NoError(t, err)
	sliced := testDef(10, model)
	sliced.Slice = "time=2021"
	fine, err := s.CreateMosaic(ctx, p.ID, sliced)
	require.NoError(t, err)

	tile := filled(16, 16, model, func(_, x, y int) float64 { return float64(x*y) / 4 })
	require.NoError(t, s.WriteTile(ctx, fine, 2, 3, tile))
	require.NoError(t, s.Close())

	s = openStore(t, path)
	set, err := s.PyramidSet(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tiles", set.ID)
	require.Equal(t, 1, set.Len())
	got := set.Pyramids()[0]
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, pyramid.EPSG3857, got.CRS)

	mosaics := got.Mosaics()
	require.Len(t, mosaics, 2)
	assert.Equal(t, coarse.ID, mosaics[0].ID)
	assert.Equal(t, fine.ID, mosaics[1].ID)
	assert.Empty(t, cmp.Diff(sliced, mosaics[1].MosaicDef, cmpopts.EquateNaNs()))

	m := mosaics[1]
	assert.False(t, m.IsMissing(2, 3))
	assert.True(t, m.IsMissing(3, 2))
	r, err := m.Tile(ctx, 2, 3)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(tile.Data, r.Data, cmpopts.EquateNaNs()))
	env, _ := set.Envelope()
	assert.Equal(t, env, got.Bound())
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, tempPath(t))

	_, err := s.CreatePyramid(ctx, pyramid.CRS{Code: "IAU:30100"})
	assert.Error(t, err)

	p, err := s.CreatePyramid(ctx, pyramid.EPSG4326)
	require.NoError(t, err)
	_, err = s.CreatePyramid(ctx, pyramid.MustParseCRS("urn:ogc:def:crs:EPSG::4326"))
	assert.ErrorIs(t, err, pyramid.ErrDuplicateCRS)

	_, err = s.CreateMosaic(ctx, "nope", testDef(1, pyramid.SampleModel{Bands: 1, Type: pyramid.Uint8}))
	assert.Error(t, err)
	_, err = s.CreateMosaic(ctx, p.ID, pyramid.MosaicDef{})
	assert.Error(t, err)

	model := pyramid.SampleModel{Bands: 1, Type: pyramid.Uint8}
	m, err := s.CreateMosaic(ctx, p.ID, testDef(1, model))
	require.NoError(t, err)
	_, err = s.CreateMosaic(ctx, p.ID, testDef(1, model))
	assert.ErrorIs(t, err, pyramid.ErrDuplicateScale)

	assert.Error(t, s.WriteTile(ctx, m, 4, 0, pyramid.NewRaster(16, 16, model)))
	assert.Error(t, s.WriteTile(ctx, m, 0, 0, pyramid.NewRaster(8, 16, model)))

	_, err = m.TileReference(ctx, 0, 0)
	assert.ErrorIs(t, err, pyramid.ErrTileMissing)
	_, err = s.TileReference(ctx, m, 1, 1)
	assert.ErrorIs(t, err, pyramid.ErrTileMissing)
}

func TestStore_WriteUpdateDeleteEvents(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, tempPath(t))

	var events []pyramid.Event
	s.AddListener(pyramid.ListenerFunc(func(e pyramid.Event) { events = append(events, e) }))

	p, err := s.CreatePyramid(ctx, pyramid.EPSG3857)
	require.NoError(t, err)
	model := pyramid.SampleModel{Bands: 3, Type: pyramid.Uint8}
	m, err := s.CreateMosaic(ctx, p.ID, testDef(10, model))
	require.NoError(t, err)

	first := filled(16, 16, model, func(b, x, y int) float64 { return float64(b*50 + x + y) })
	second := filled(16, 16, model, func(b, x, y int) float64 { return 200 })
	require.NoError(t, s.WriteTile(ctx, m, 1, 1, first))
	require.NoError(t, s.WriteTile(ctx, m, 1, 1, second))

	r, err := m.Tile(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, second.Data, r.Data)
	assert.True(t, model.Equal(r.Model))

	ref, err := m.TileReference(ctx, 1, 1)
	require.NoError(t, err)
	require.NoError(t, s.DeleteTile(ctx, m, 1, 1))
	assert.True(t, m.IsMissing(1, 1))
	// a reference taken before the delete no longer resolves
	_, err = ref.Resolve(ctx, s.log)
	assert.ErrorIs(t, err, pyramid.ErrTileMissing)

	kinds := make([]pyramid.EventKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	assert.Equal(t, []pyramid.EventKind{
		pyramid.PyramidAdded, pyramid.MosaicAdded,
		pyramid.TilesAdded, pyramid.TilesUpdated, pyramid.TilesDeleted,
	}, kinds)
	assert.Equal(t, []pyramid.TilePos{{Col: 1, Row: 1}}, events[4].Tiles)
}

func TestStore_TileMatrixTables(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, tempPath(t))
	p, err := s.CreatePyramid(ctx, pyramid.EPSG3857)
	require.NoError(t, err)
	model := pyramid.SampleModel{Bands: 1, Type: pyramid.Uint8}
	_, err = s.CreateMosaic(ctx, p.ID, testDef(40, model))
	require.NoError(t, err)
	_, err = s.CreateMosaic(ctx, p.ID, testDef(10, model))
	require.NoError(t, err)

	table := s.tables[p.ID]
	var minX, minY, maxX, maxY float64
	err = s.h.QueryRow(`SELECT min_x, min_y, max_x, max_y FROM gpkg_tile_matrix_set WHERE table_name = ?`, table).
		Scan(&minX, &minY, &maxX, &maxY)
	require.NoError(t, err)
	// the coarse mosaic spans 4 tiles of 640 units
	assert.Equal(t, []float64{0, 640 - 2560, 2560, 640}, []float64{minX, minY, maxX, maxY})

	var zooms, dataType string
	err = s.h.QueryRow(`SELECT group_concat(zoom_level || ':' || pixel_x_size, ',') FROM gpkg_tile_matrix WHERE table_name = ?`, table).
		Scan(&zooms)
	require.NoError(t, err)
	assert.Equal(t, "0:40.0,1:10.0", zooms)

	err = s.h.QueryRow(`SELECT data_type FROM gpkg_contents WHERE table_name = ?`, table).Scan(&dataType)
	require.NoError(t, err)
	assert.Equal(t, "tiles", dataType)

	var srs int
	err = s.h.QueryRow(`SELECT COUNT(*) FROM gpkg_spatial_ref_sys WHERE srs_id = 3857`).Scan(&srs)
	require.NoError(t, err)
	assert.Equal(t, 1, srs)
}

func TestStore_ServesWriterAndReader(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, tempPath(t))

	model := pyramid.SampleModel{Bands: 1, Type: pyramid.Uint16}
	src := &pyramid.Coverage{
		Raster:    filled(64, 64, model, func(_, x, y int) float64 { return float64(y*64 + x) }),
		CRS:       pyramid.EPSG3857,
		GridToCRS: pyramid.Affine{A: 10, E: -10, F: 640},
	}
	w, err := pyramid.NewWriter(s, pyramid.WriterConfig{Workers: 4})
	require.NoError(t, err)
	err = w.Write(ctx, pyramid.WriteRequest{
		Source: src,
		Targets: []pyramid.WriteTarget{{
			CRS:       pyramid.EPSG3857,
			Envelope:  orb.Bound{Max: orb.Point{640, 640}},
			Scales:    []float64{10, 20},
			TileWidth: 16, TileHeight: 16,
		}},
	})
	require.NoError(t, err)

	set, _ := s.PyramidSet(ctx)
	r, err := pyramid.NewReader(set, pyramid.ReaderConfig{})
	require.NoError(t, err)
	cov, err := r.Read(ctx, pyramid.ReadRequest{
		Envelope:    orb.Bound{Max: orb.Point{640, 640}},
		EnvelopeCRS: pyramid.EPSG3857,
		Resolution:  10,
	})
	require.NoError(t, err)
	assert.Equal(t, 64, cov.Width)
	assert.Equal(t, src.Data, cov.Data)
}

func TestSkipWithoutSpatialite(t *testing.T) {
	var skipped bool
	t.Run("missing extension", func(t *testing.T) {
		defer func() { skipped = t.Skipped() }()
		skipWithoutSpatialite(t, fmt.Errorf("failed to open GeoPackage x.gpkg: %w", ErrNoSpatialite))
	})
	assert.True(t, skipped)

	t.Run("other errors", func(t *testing.T) {
		skipWithoutSpatialite(t, errors.New("disk I/O error"))
		assert.False(t, t.Skipped())
	})
}
