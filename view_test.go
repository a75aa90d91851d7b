package pyramid_test

import (
	"context"
	"image/color"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tingold/pyramid"
)

func newCache(t *testing.T, cfg pyramid.CacheConfig) *pyramid.TileCache {
	t.Helper()
	c, err := pyramid.NewTileCache(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	return c
}

func TestTileCache_FetchLoadsOnce(t *testing.T) {
	c := newCache(t, pyramid.CacheConfig{})
	var mu sync.Mutex
	loads := 0
	load := func() (*pyramid.Raster, error) {
		mu.Lock()
		loads++
		mu.Unlock()
		return gradient(2, 2), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := c.Fetch("p/m/0/0", load)
			assert.NoError(t, err)
			assert.NotNil(t, r)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, loads)
	first := c.Get("p/m/0/0")
	require.NotNil(t, first)

	r, err := c.Fetch("p/m/0/0", load)
	require.NoError(t, err)
	assert.Same(t, first, r, "hits do not reload")
	assert.Nil(t, c.Get("p/m/1/0"))
}

func TestTileCache_OnEvent(t *testing.T) {
	c := newCache(t, pyramid.CacheConfig{})
	for _, k := range []string{"p/m/0/0", "p/m/1/0", "p/m2/0/0", "q/m/0/0"} {
		c.Set(k, gradient(1, 1))
	}

	c.OnEvent(pyramid.Event{Kind: pyramid.TilesUpdated, PyramidID: "p", MosaicID: "m", Tiles: []pyramid.TilePos{{Col: 1, Row: 0}}})
	assert.Nil(t, c.Get("p/m/1/0"))
	assert.NotNil(t, c.Get("p/m/0/0"))

	c.OnEvent(pyramid.Event{Kind: pyramid.MosaicDeleted, PyramidID: "p", MosaicID: "m"})
	assert.Nil(t, c.Get("p/m/0/0"))
	assert.NotNil(t, c.Get("p/m2/0/0"))

	c.OnEvent(pyramid.Event{Kind: pyramid.PyramidUpdated, PyramidID: "p"})
	assert.Nil(t, c.Get("p/m2/0/0"))
	assert.NotNil(t, c.Get("q/m/0/0"))

	c.OnEvent(pyramid.Event{Kind: pyramid.DataUpdated})
	assert.Equal(t, 0, c.Len())
}

func TestView_PlaceholderForMissingAndBrokenTiles(t *testing.T) {
	ctx := context.Background()
	log, hook := testLogger()
	model := pyramid.DefaultSampleModel(3, pyramid.Float32)
	src := newTileSource(model).
		add(pyramid.TilePos{Col: 1, Row: 1}).
		breakTile(pyramid.TilePos{Col: 0, Row: 1})
	m := newMosaic(t, src, gridDef(1, 2, 4))
	cache := newCache(t, pyramid.CacheConfig{})

	v, err := pyramid.NewView(ctx, m, cache, pyramid.WithLogger(log))
	require.NoError(t, err)
	assert.True(t, model.Equal(v.Model()), "model comes from the first stored tile")
	assert.Equal(t, m.Key(), v.ID())

	ph := v.Placeholder()
	assert.Equal(t, 4, ph.Width)
	assert.Equal(t, 3, ph.Bands())
	for _, s := range ph.Data {
		assert.True(t, math.IsNaN(s))
	}

	assert.Same(t, ph, v.Tile(ctx, 0, 0), "missing")
	assert.Same(t, ph, v.Tile(ctx, 0, 1), "broken")
	assert.Same(t, ph, v.Tile(ctx, 9, 9), "outside grid")
	assert.Equal(t, 12.0, v.Tile(ctx, 1, 1).At(0, 0, 0))

	// one warning from sampling the model, one from serving; the placeholder is
	// then cached under the tile key
	assert.Same(t, ph, v.Tile(ctx, 0, 1))
	assert.Len(t, warnings(hook), 2)
}

func TestView_SharesCacheAndFollowsEvents(t *testing.T) {
	ctx := context.Background()
	store := pyramid.NewMemoryStore()
	writeSource(t, store, 10)
	cache := newCache(t, pyramid.CacheConfig{MaxTiles: 8})
	store.AddListener(cache)

	set, _ := store.PyramidSet(ctx)
	m := set.Pyramids()[0].Mosaics()[0]
	a, err := pyramid.NewView(ctx, m, cache)
	require.NoError(t, err)
	b, err := pyramid.NewView(ctx, m, cache)
	require.NoError(t, err)
	assert.Equal(t, a.ID(), b.ID())
	assert.Same(t, a.Tile(ctx, 1, 1), b.Tile(ctx, 1, 1))

	// rewrite the tile; the cached copy is dropped
	updated := pyramid.NewRaster(16, 16, a.Model())
	updated.Fill(42)
	require.NoError(t, store.WriteTile(ctx, m, 1, 1, updated))
	assert.Equal(t, 42.0, b.Tile(ctx, 1, 1).At(0, 0, 0))

	// a placeholder cached for a missing tile gives way to written data
	store.DeleteTile(m, 3, 3)
	assert.Same(t, a.Placeholder(), a.Tile(ctx, 3, 3))
	require.NoError(t, store.WriteTile(ctx, m, 3, 3, updated))
	assert.Same(t, updated, a.Tile(ctx, 3, 3))
}

func TestView_EmptyMosaicUsesDeclaredModel(t *testing.T) {
	model := pyramid.SampleModel{Bands: 1, Type: pyramid.Int16, NoData: -1}
	def := gridDef(1, 2, 4)
	def.Model = &model
	m := newMosaic(t, newTileSource(model), def)
	v, err := pyramid.NewView(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Equal(t, model, v.Model())
	assert.Equal(t, -1.0, v.Tile(context.Background(), 0, 0).At(0, 1, 1))
}

func TestView_Image(t *testing.T) {
	ctx := context.Background()
	store := pyramid.NewMemoryStore()
	p, err := store.CreatePyramid(ctx, pyramid.EPSG3857)
	require.NoError(t, err)
	model := pyramid.DefaultSampleModel(3, pyramid.Uint8)
	def := gridDef(1, 2, 4)
	def.Model = &model
	m, err := store.CreateMosaic(ctx, p.ID, def)
	require.NoError(t, err)

	tile := pyramid.NewRaster(4, 4, model)
	tile.FillPixels([]float64{255, 128, 0})
	require.NoError(t, store.WriteTile(ctx, m, 1, 0, tile))

	v, err := pyramid.NewView(ctx, m, nil)
	require.NoError(t, err)
	img, err := v.Image(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, color.NRGBA{R: 255, G: 128, A: 255}, img.At(5, 1))
	assert.Equal(t, color.Transparent, img.At(1, 1))

	floats := newMosaic(t, newTileSource(pyramid.DefaultSampleModel(1, pyramid.Float32)), gridDef(1, 1, 4))
	fv, err := pyramid.NewView(ctx, floats, nil)
	require.NoError(t, err)
	_, err = fv.Image(ctx)
	assert.ErrorIs(t, err, pyramid.ErrUnsupportedParameter)
}
