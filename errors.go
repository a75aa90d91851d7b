package pyramid

import "errors"

// Errors returned by the engine. Callers check them with errors.Is; most are
// wrapped with additional context.
var (
	// ErrNoPyramid is returned when a pyramid set holds no pyramid at all.
	ErrNoPyramid = errors.New("no pyramid available")
	// ErrNoMosaic is returned when no mosaic level can serve a request.
	ErrNoMosaic = errors.New("no mosaic available")
	// ErrUnsupportedParameter is returned for source/destination band subsetting.
	ErrUnsupportedParameter = errors.New("unsupported parameter")
	// ErrInvalidParameters is returned when an explicit CRS conflicts with the envelope CRS.
	ErrInvalidParameters = errors.New("invalid parameter combination")
	// ErrTransform is returned when no transform exists between two CRS or it cannot be inverted.
	ErrTransform = errors.New("coordinate transform failure")
	// ErrTileDecode marks an I/O or format failure while materializing one tile.
	ErrTileDecode = errors.New("tile decode failure")
	// ErrWriteUnsupported is returned when writing to a read-only backing store.
	ErrWriteUnsupported = errors.New("write unsupported")
	// ErrTileMissing is returned by single-tile access on a cell flagged missing.
	ErrTileMissing = errors.New("tile missing")
	// ErrDuplicateScale is returned when a mosaic would share a scale with an existing one.
	ErrDuplicateScale = errors.New("duplicate mosaic scale")
	// ErrDuplicateCRS is returned when a pyramid set already holds a pyramid for a CRS.
	ErrDuplicateCRS = errors.New("duplicate pyramid crs")
)
