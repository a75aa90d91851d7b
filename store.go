package pyramid

import "context"

// Store is a backing store holding one pyramid set. Read-only stores return
// ErrWriteUnsupported from the mutating methods.
type Store interface {
	TileSource

	// PyramidSet enumerates the pyramids and mosaics of the store.
	PyramidSet(ctx context.Context) (*PyramidSet, error)
	// CreatePyramid adds an empty pyramid for crs.
	CreatePyramid(ctx context.Context, crs CRS) (*Pyramid, error)
	// CreateMosaic adds a mosaic to a pyramid; all cells start missing.
	CreateMosaic(ctx context.Context, pyramidID string, def MosaicDef) (*GridMosaic, error)
	// WriteTile stores the pixels of one tile.
	WriteTile(ctx context.Context, m *GridMosaic, col, row int, r *Raster) error

	AddListener(l Listener)
	RemoveListener(l Listener)
}
