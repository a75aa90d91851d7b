package tms

import (
	"fmt"
	"math"
	"strconv"

	"github.com/tingold/pyramid"
)

const (
	// webMercatorHalfWorld is half the equatorial circumference of the
	// spherical mercator projection, in meters.
	webMercatorHalfWorld = math.Pi * 6378137
	// standardPixelSize of the scale denominators, 0.28 mm.
	standardPixelSize = 0.00028
	maxQuadZoom       = 30
)

// WebMercatorQuad is the OGC WebMercatorQuad tile matrix set with zoom
// levels 0 to maxZoom.
func WebMercatorQuad(maxZoom int) (*TileMatrixSet, error) {
	if maxZoom < 0 || maxZoom > maxQuadZoom {
		return nil, fmt.Errorf("zoom %d outside 0..%d", maxZoom, maxQuadZoom)
	}
	tms := &TileMatrixSet{
		ID:                "WebMercatorQuad",
		Title:             "Google Maps Compatible for the World",
		URI:               "http://www.opengis.net/def/tilematrixset/OGC/1.0/WebMercatorQuad",
		WellKnownScaleSet: "http://www.opengis.net/def/wkss/OGC/1.0/GoogleMapsCompatible",
		OrderedAxes:       []string{"X", "Y"},
		CRS:               pyramid.EPSG3857,
		TileMatrices:      make(map[int]TileMatrix, maxZoom+1),
	}
	for z := 0; z <= maxZoom; z++ {
		n := 1 << z
		cell := 2 * webMercatorHalfWorld / float64(256*n)
		tms.TileMatrices[z] = TileMatrix{
			ID:               strconv.Itoa(z),
			ScaleDenominator: cell / standardPixelSize,
			CellSize:         cell,
			CornerOfOrigin:   TopLeft,
			PointOfOrigin:    [2]float64{-webMercatorHalfWorld, webMercatorHalfWorld},
			TileWidth:        256,
			TileHeight:       256,
			MatrixWidth:      n,
			MatrixHeight:     n,
		}
	}
	return tms, validate.Struct(tms)
}

// Builtin returns the built-in tile matrix set named id.
func Builtin(id string, maxZoom int) (*TileMatrixSet, error) {
	switch id {
	case "WebMercatorQuad":
		return WebMercatorQuad(maxZoom)
	}
	return nil, fmt.Errorf("unknown tile matrix set %q", id)
}
