package pyramid

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/sirupsen/logrus"
)

// View presents a mosaic as a tiled image whose tiles never fail: missing or
// unreadable tiles come back as a no-data placeholder.
type View struct {
	mosaic      *GridMosaic
	cache       *TileCache
	model       SampleModel
	placeholder *Raster
	log         logrus.FieldLogger
}

// NewView scans the mosaic for its first stored tile to learn the sample
// model. A mosaic without stored tiles uses its declared model, or a single
// float64 band. cache may be shared between views; nil disables caching.
func NewView(ctx context.Context, m *GridMosaic, cache *TileCache, opts ...Option) (*View, error) {
	v := &View{
		mosaic: m,
		cache:  cache,
		log:    newSettings(opts).log.WithFields(logrus.Fields{"pyramid": m.PyramidID, "mosaic": m.ID}),
	}
	model, err := v.sampleModel(ctx)
	if err != nil {
		return nil, err
	}
	v.model = model
	v.placeholder = NewRaster(m.TileWidth, m.TileHeight, model)
	return v, nil
}

func (v *View) sampleModel(ctx context.Context) (SampleModel, error) {
	m := v.mosaic
	for row := 0; row < m.GridHeight; row++ {
		for col := 0; col < m.GridWidth; col++ {
			if err := ctx.Err(); err != nil {
				return SampleModel{}, err
			}
			if m.IsMissing(col, row) {
				continue
			}
			r, err := v.load(ctx, col, row)
			if err != nil {
				v.log.WithError(err).WithFields(logrus.Fields{"col": col, "row": row}).Warn("failed to read tile for its sample model")
				continue
			}
			return r.Model, nil
		}
	}
	if m.Model != nil {
		return *m.Model, nil
	}
	return DefaultSampleModel(1, Float64), nil
}

// ID is shared by all views of one mosaic so they share cache entries.
func (v *View) ID() string {
	return v.mosaic.Key()
}

// Mosaic returns the viewed mosaic.
func (v *View) Mosaic() *GridMosaic {
	return v.mosaic
}

// Model is the sample model of every tile of the view.
func (v *View) Model() SampleModel {
	return v.model
}

// Placeholder is the no-data tile standing in for missing tiles. It is
// shared and must not be modified.
func (v *View) Placeholder() *Raster {
	return v.placeholder
}

// Tile returns the tile at col, row. Missing tiles and tiles failing to
// decode yield the placeholder, which is cached in their place until the
// store reports a change; decode failures are logged.
func (v *View) Tile(ctx context.Context, col, row int) *Raster {
	if v.cache == nil {
		r, _ := v.resolve(ctx, col, row)
		return r
	}
	r, err := v.cache.Fetch(v.mosaic.TileKey(col, row), func() (*Raster, error) {
		return v.resolve(ctx, col, row)
	})
	if err != nil {
		return v.placeholder
	}
	return r
}

// resolve only fails when ctx is done, so cancelled reads never cache the
// placeholder.
func (v *View) resolve(ctx context.Context, col, row int) (*Raster, error) {
	if v.mosaic.IsMissing(col, row) {
		return v.placeholder, nil
	}
	r, err := v.mosaic.Tile(ctx, col, row)
	if err == nil {
		return r, nil
	}
	if ctx.Err() != nil {
		return v.placeholder, ctx.Err()
	}
	if !errors.Is(err, ErrTileMissing) {
		v.log.WithError(err).WithFields(logrus.Fields{"col": col, "row": row}).Warn("serving placeholder for unreadable tile")
	}
	return v.placeholder, nil
}

func (v *View) load(ctx context.Context, col, row int) (*Raster, error) {
	r, err := v.mosaic.Tile(ctx, col, row)
	if err != nil {
		return nil, err
	}
	if v.cache != nil {
		v.cache.Set(v.mosaic.TileKey(col, row), r)
	}
	return r, nil
}

// Image adapts a view of 8-bit data with 1, 3 or 4 bands into an
// image.Image spanning the whole grid. Tiles load lazily on pixel access.
func (v *View) Image(ctx context.Context) (image.Image, error) {
	if v.model.Type != Uint8 {
		return nil, fmt.Errorf("image of %s samples: %w", v.model.Type, ErrUnsupportedParameter)
	}
	var cm color.Model
	switch v.model.Bands {
	case 1:
		cm = color.GrayModel
	case 3, 4:
		cm = color.NRGBAModel
	default:
		return nil, fmt.Errorf("image of %d bands: %w", v.model.Bands, ErrUnsupportedParameter)
	}
	return &viewImage{ctx: ctx, view: v, model: cm}, nil
}

type viewImage struct {
	ctx   context.Context
	view  *View
	model color.Model
}

func (im *viewImage) ColorModel() color.Model {
	return im.model
}

func (im *viewImage) Bounds() image.Rectangle {
	m := im.view.mosaic
	return image.Rect(0, 0, m.GridWidth*m.TileWidth, m.GridHeight*m.TileHeight)
}

func (im *viewImage) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(im.Bounds())) {
		return color.Transparent
	}
	m := im.view.mosaic
	t := im.view.Tile(im.ctx, x/m.TileWidth, y/m.TileHeight)
	px := t.Pixel(x%m.TileWidth, y%m.TileHeight)
	noData := im.view.model.NoData
	if len(px) == 0 || allNoData(px, noData) {
		return color.Transparent
	}
	switch len(px) {
	case 1:
		return color.Gray{Y: uint8(px[0])}
	case 3:
		return color.NRGBA{R: uint8(px[0]), G: uint8(px[1]), B: uint8(px[2]), A: 0xff}
	default:
		return color.NRGBA{R: uint8(px[0]), G: uint8(px[1]), B: uint8(px[2]), A: uint8(px[3])}
	}
}

func isNoData(v, noData float64) bool {
	return v == noData || math.IsNaN(v) && math.IsNaN(noData)
}

func allNoData(px []float64, noData float64) bool {
	for _, v := range px {
		if !isNoData(v, noData) {
			return false
		}
	}
	return true
}
