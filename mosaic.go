package pyramid

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
)

// TileSource is the part of a backing store serving tiles of its mosaics.
type TileSource interface {
	// IsMissing reports whether the cell holds no stored data.
	IsMissing(m *GridMosaic, col, row int) bool
	// TileReference describes how to materialize a tile without loading it.
	TileReference(ctx context.Context, m *GridMosaic, col, row int) (TileReference, error)
}

// MosaicDef holds the geometry of a mosaic.
type MosaicDef struct {
	// Slice groups mosaics of one slice of a higher-dimensional source. Empty
	// for plain 2D data.
	Slice      string
	UpperLeft  orb.Point
	GridWidth  int
	GridHeight int
	TileWidth  int
	TileHeight int
	// Scale is in CRS units per pixel.
	Scale float64
	// Model is the sample model of the stored tiles when the store knows it.
	Model *SampleModel
}

// Validate checks the geometry.
func (d MosaicDef) Validate() error {
	switch {
	case d.GridWidth <= 0 || d.GridHeight <= 0:
		return fmt.Errorf("invalid grid size %dx%d", d.GridWidth, d.GridHeight)
	case d.TileWidth <= 0 || d.TileHeight <= 0:
		return fmt.Errorf("invalid tile size %dx%d", d.TileWidth, d.TileHeight)
	case !(d.Scale > 0) || !isFinite(d.Scale):
		return fmt.Errorf("invalid scale %v", d.Scale)
	}
	return nil
}

// GridMosaic is one resolution level of a pyramid: a regular grid of fixed
// size tiles. PyramidID refers to the owning pyramid by key only.
type GridMosaic struct {
	ID        string
	PyramidID string
	MosaicDef

	source TileSource
	log    logrus.FieldLogger
}

// NewGridMosaic binds a mosaic definition to the store serving its tiles.
func NewGridMosaic(id, pyramidID string, def MosaicDef, source TileSource, opts ...Option) *GridMosaic {
	s := newSettings(opts)
	return &GridMosaic{
		ID:        id,
		PyramidID: pyramidID,
		MosaicDef: def,
		source:    source,
		log:       s.log.WithFields(logrus.Fields{"pyramid": pyramidID, "mosaic": id}),
	}
}

// Key identifies the mosaic across stores and views.
func (m *GridMosaic) Key() string {
	return m.PyramidID + "/" + m.ID
}

// TileKey identifies one tile across stores and views.
func (m *GridMosaic) TileKey(col, row int) string {
	return fmt.Sprintf("%s/%d/%d", m.Key(), col, row)
}

// InGrid reports whether col, row addresses a cell of the grid.
func (m *GridMosaic) InGrid(col, row int) bool {
	return col >= 0 && col < m.GridWidth && row >= 0 && row < m.GridHeight
}

// IsMissing reports whether the tile holds no data. Cells outside the grid
// are missing.
func (m *GridMosaic) IsMissing(col, row int) bool {
	if !m.InGrid(col, row) || m.source == nil {
		return true
	}
	return m.source.IsMissing(m, col, row)
}

// TileReference returns the lazy descriptor of a tile.
func (m *GridMosaic) TileReference(ctx context.Context, col, row int) (TileReference, error) {
	if m.IsMissing(col, row) {
		return TileReference{}, fmt.Errorf("tile %d/%d of mosaic %s: %w", col, row, m.ID, ErrTileMissing)
	}
	return m.source.TileReference(ctx, m, col, row)
}

// Tile decodes a single tile. Missing tiles yield ErrTileMissing, failures
// while decoding are wrapped with ErrTileDecode.
func (m *GridMosaic) Tile(ctx context.Context, col, row int) (*Raster, error) {
	ref, err := m.TileReference(ctx, col, row)
	if err != nil {
		return nil, err
	}
	return ref.Resolve(ctx, m.log)
}
