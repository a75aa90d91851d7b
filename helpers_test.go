package pyramid_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/tingold/pyramid"
)

var errBroken = errors.New("broken tile")

// tileSource serves generated tiles through external decoders so tests can
// inject slow or failing decodes.
type tileSource struct {
	mu      sync.Mutex
	present map[pyramid.TilePos]bool
	broken  map[pyramid.TilePos]bool
	delay   time.Duration
	model   pyramid.SampleModel

	closeErr error
	opened   atomic.Int32
	closed   atomic.Int32
	decoded  atomic.Int32
}

func newTileSource(model pyramid.SampleModel) *tileSource {
	return &tileSource{
		present: make(map[pyramid.TilePos]bool),
		broken:  make(map[pyramid.TilePos]bool),
		model:   model,
	}
}

func (s *tileSource) add(positions ...pyramid.TilePos) *tileSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range positions {
		s.present[p] = true
	}
	return s
}

func (s *tileSource) breakTile(p pyramid.TilePos) *tileSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present[p] = true
	s.broken[p] = true
	return s
}

func (s *tileSource) IsMissing(_ *pyramid.GridMosaic, col, row int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.present[pyramid.TilePos{Col: col, Row: row}]
}

func (s *tileSource) TileReference(_ context.Context, m *pyramid.GridMosaic, col, row int) (pyramid.TileReference, error) {
	h := &tileHandle{src: s, mosaic: m, pos: pyramid.TilePos{Col: col, Row: row}}
	return pyramid.NewExternalReference(col, row, h, 0), nil
}

type tileHandle struct {
	src    *tileSource
	mosaic *pyramid.GridMosaic
	pos    pyramid.TilePos
}

func (h *tileHandle) Open(context.Context) (pyramid.TileDecoder, error) {
	h.src.opened.Add(1)
	return &tileDecoder{h: h}, nil
}

type tileDecoder struct {
	h *tileHandle
}

func (d *tileDecoder) Decode(ctx context.Context, _ int) (*pyramid.Raster, error) {
	s := d.h.src
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	broken := s.broken[d.h.pos]
	s.mu.Unlock()
	if broken {
		return nil, errBroken
	}
	s.decoded.Add(1)
	return tileValue(d.h.mosaic, d.h.pos, s.model), nil
}

func (d *tileDecoder) Close() error {
	d.h.src.closed.Add(1)
	return d.h.src.closeErr
}

// tileValue fills a tile with col*10+row+1 so composites can be checked by
// position.
func tileValue(m *pyramid.GridMosaic, pos pyramid.TilePos, model pyramid.SampleModel) *pyramid.Raster {
	r := pyramid.NewRaster(m.TileWidth, m.TileHeight, model)
	r.Fill(float64(pos.Col*10 + pos.Row + 1))
	return r
}

func newMosaic(t *testing.T, src pyramid.TileSource, def pyramid.MosaicDef, opts ...pyramid.Option) *pyramid.GridMosaic {
	t.Helper()
	m := pyramid.NewGridMosaic(pyramid.NewID(), "p", def, src, opts...)
	require.NoError(t, def.Validate())
	return m
}

func gridDef(scale float64, grid, tile int) pyramid.MosaicDef {
	return pyramid.MosaicDef{
		UpperLeft:  orb.Point{0, 0},
		GridWidth:  grid,
		GridHeight: grid,
		TileWidth:  tile,
		TileHeight: tile,
		Scale:      scale,
	}
}

func testLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return log, hook
}

func warnings(hook *test.Hook) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			out = append(out, e)
		}
	}
	return out
}

// gradient returns a single band float raster whose pixel x, y holds
// y*width+x.
func gradient(width, height int) *pyramid.Raster {
	r := pyramid.NewRaster(width, height, pyramid.DefaultSampleModel(1, pyramid.Float64))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r.Set(0, x, y, float64(y*width+x))
		}
	}
	return r
}
