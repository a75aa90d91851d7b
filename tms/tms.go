// Package tms reads OGC Tile Matrix Set 2.0 documents and turns them into
// pyramid layouts for the writer.
// See https://www.ogc.org/standard/tms/
package tms

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"
	"github.com/perimeterx/marshmallow"
	"github.com/tingold/pyramid"
	"golang.org/x/exp/maps"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// TileMatrixSet is a tiling scheme: one tile matrix per zoom level, all in
// the same CRS.
type TileMatrixSet struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	URI         string   `validate:"omitempty,uri" json:"uri,omitempty"`
	OrderedAxes []string `validate:"omitempty,len=2" json:"orderedAxes,omitempty"`
	// WellKnownScaleSet is a reference to a well-known scale set.
	WellKnownScaleSet string `validate:"omitempty,uri" json:"wellKnownScaleSet,omitempty"`

	CRS pyramid.CRS `validate:"required" json:"-"`
	// TileMatrices by zoom level. Only integer-like matrix ids are supported.
	TileMatrices map[int]TileMatrix `validate:"required,min=1,dive" json:"-"`
}

// CornerOfOrigin is the corner of tile (0, 0).
type CornerOfOrigin string

const (
	TopLeft    CornerOfOrigin = "topLeft"
	BottomLeft CornerOfOrigin = "bottomLeft"
)

// TileMatrix is one zoom level of a TileMatrixSet.
type TileMatrix struct {
	ID               string  `validate:"required" json:"id"`
	Title            string  `json:"title,omitempty"`
	ScaleDenominator float64 `validate:"required,gt=0" json:"scaleDenominator"`
	// CellSize in CRS units per pixel.
	CellSize       float64        `validate:"required,gt=0" json:"cellSize"`
	CornerOfOrigin CornerOfOrigin `default:"topLeft" validate:"oneof=topLeft bottomLeft" json:"cornerOfOrigin,omitempty"`
	// PointOfOrigin in the axis order of the CRS.
	PointOfOrigin [2]float64 `json:"pointOfOrigin"`
	TileWidth     int        `validate:"required,min=1" json:"tileWidth"`
	TileHeight    int        `validate:"required,min=1" json:"tileHeight"`
	MatrixWidth   int        `validate:"required,min=1" json:"matrixWidth"`
	MatrixHeight  int        `validate:"required,min=1" json:"matrixHeight"`

	// VariableMatrixWidths coalesce tiles of some rows; not supported.
	VariableMatrixWidths []map[string]any `validate:"max=0" json:"variableMatrixWidths,omitempty"`
}

// projJSON is the part of a PROJJSON crs definition naming its authority.
type projJSON struct {
	ID struct {
		Authority string `json:"authority"`
		Code      any    `json:"code"`
	} `json:"id"`
}

// Load reads a tile matrix set document from path.
func Load(path string) (*TileMatrixSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tms, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("tile matrix set %s: %w", path, err)
	}
	return tms, nil
}

// Parse decodes and validates a tile matrix set document.
func Parse(data []byte) (*TileMatrixSet, error) {
	var tms TileMatrixSet
	if err := json.Unmarshal(data, &tms); err != nil {
		return nil, err
	}
	return &tms, nil
}

func (tms *TileMatrixSet) UnmarshalJSON(data []byte) error {
	if err := defaults.Set(tms); err != nil {
		return err
	}
	specials, err := marshmallow.Unmarshal(data, tms, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return err
	}

	rawCRS, ok := specials["crs"]
	if !ok {
		return fmt.Errorf(`missing key "crs"`)
	}
	if tms.CRS, err = parseCRS(rawCRS); err != nil {
		return err
	}

	rawMatrices, ok := specials["tileMatrices"]
	if !ok {
		return fmt.Errorf(`missing key "tileMatrices"`)
	}
	if tms.TileMatrices, err = parseTileMatrices(rawMatrices); err != nil {
		return err
	}
	return validate.Struct(tms)
}

// parseCRS accepts the uri and wkt forms of the crs property, as a plain
// string or an object.
func parseCRS(raw any) (pyramid.CRS, error) {
	switch raw := raw.(type) {
	case string:
		return pyramid.ParseCRS(raw)
	case map[string]any:
		if uri, ok := raw["uri"].(string); ok {
			return pyramid.ParseCRS(uri)
		}
		if wkt, ok := raw["wkt"].(map[string]any); ok {
			var p projJSON
			if _, err := marshmallow.UnmarshalFromJSONMap(wkt, &p); err != nil {
				return pyramid.CRS{}, fmt.Errorf("could not parse wkt crs: %w", err)
			}
			if p.ID.Authority == "" || p.ID.Code == nil {
				return pyramid.CRS{}, fmt.Errorf("wkt crs without authority id")
			}
			return pyramid.ParseCRS(fmt.Sprintf("%s:%v", p.ID.Authority, p.ID.Code))
		}
		return pyramid.CRS{}, fmt.Errorf("crs object has neither uri nor wkt")
	}
	return pyramid.CRS{}, fmt.Errorf(`wrong type of key "crs": %T`, raw)
}

func parseTileMatrices(raw any) (map[int]TileMatrix, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf(`"tileMatrices" should be an array`)
	}
	matrices := make(map[int]TileMatrix, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf(`"tileMatrices" should be objects`)
		}
		var tm TileMatrix
		if err := defaults.Set(&tm); err != nil {
			return nil, err
		}
		if _, err := marshmallow.UnmarshalFromJSONMap(m, &tm); err != nil {
			return nil, err
		}
		// marshmallow leaves named string types alone
		if corner, ok := m["cornerOfOrigin"]; ok {
			s, ok := corner.(string)
			if !ok {
				return nil, fmt.Errorf(`"cornerOfOrigin" should be a string`)
			}
			tm.CornerOfOrigin = CornerOfOrigin(s)
		}
		if err := validate.Struct(&tm); err != nil {
			return nil, fmt.Errorf("tile matrix %q: %w", tm.ID, err)
		}
		zoom, err := strconv.Atoi(tm.ID)
		if err != nil {
			return nil, fmt.Errorf("only integer-like ids are supported for tile matrices: %w", err)
		}
		if _, dup := matrices[zoom]; dup {
			return nil, fmt.Errorf("duplicate tile matrix %q", tm.ID)
		}
		matrices[zoom] = tm
	}
	return matrices, nil
}

// Zooms lists the zoom levels in ascending order.
func (tms *TileMatrixSet) Zooms() []int {
	zooms := maps.Keys(tms.TileMatrices)
	slices.Sort(zooms)
	return zooms
}

// northingFirst reports whether points of the set list the northing first,
// as EPSG:4326 documents do.
func (tms *TileMatrixSet) northingFirst() bool {
	if len(tms.OrderedAxes) == 0 {
		return false
	}
	switch strings.ToLower(tms.OrderedAxes[0]) {
	case "lat", "n", "y", "northing", "north":
		return true
	}
	return false
}

// Bound is the extent covered by the tile matrix at zoom, x first.
func (tms *TileMatrixSet) Bound(zoom int) (orb.Bound, bool) {
	tm, ok := tms.TileMatrices[zoom]
	if !ok {
		return orb.Bound{}, false
	}
	x, y := tm.PointOfOrigin[0], tm.PointOfOrigin[1]
	if tms.northingFirst() {
		x, y = y, x
	}
	w := float64(tm.MatrixWidth*tm.TileWidth) * tm.CellSize
	h := float64(tm.MatrixHeight*tm.TileHeight) * tm.CellSize
	if tm.CornerOfOrigin == BottomLeft {
		return orb.Bound{Min: orb.Point{x, y}, Max: orb.Point{x + w, y + h}}, true
	}
	return orb.Bound{Min: orb.Point{x, y - h}, Max: orb.Point{x + w, y}}, true
}

// Target lays out one mosaic per zoom, aligned on the tile matrices. The
// matrices must share their origin and tile size. A non-zero clip restricts
// the pyramid envelope; it is snapped outwards to the tiles of the coarsest
// zoom so the finer grids stay aligned.
func (tms *TileMatrixSet) Target(clip orb.Bound, zooms ...int) (pyramid.WriteTarget, error) {
	if len(zooms) == 0 {
		return pyramid.WriteTarget{}, fmt.Errorf("no zoom levels selected")
	}
	zooms = slices.Clone(zooms)
	slices.Sort(zooms)
	zooms = slices.Compact(zooms)

	first, ok := tms.TileMatrices[zooms[0]]
	if !ok {
		return pyramid.WriteTarget{}, fmt.Errorf("tile matrix set %s has no zoom %d", tms.ID, zooms[0])
	}
	envelope, _ := tms.Bound(zooms[0])
	target := pyramid.WriteTarget{
		CRS:        tms.CRS,
		TileWidth:  first.TileWidth,
		TileHeight: first.TileHeight,
	}
	for _, z := range zooms {
		tm, ok := tms.TileMatrices[z]
		if !ok {
			return pyramid.WriteTarget{}, fmt.Errorf("tile matrix set %s has no zoom %d", tms.ID, z)
		}
		if tm.TileWidth != first.TileWidth || tm.TileHeight != first.TileHeight {
			return pyramid.WriteTarget{}, fmt.Errorf("zoom %d has tile size %dx%d, zoom %d %dx%d",
				z, tm.TileWidth, tm.TileHeight, zooms[0], first.TileWidth, first.TileHeight)
		}
		if tm.PointOfOrigin != first.PointOfOrigin || tm.CornerOfOrigin != first.CornerOfOrigin {
			return pyramid.WriteTarget{}, fmt.Errorf("zoom %d does not share the origin of zoom %d", z, zooms[0])
		}
		target.Scales = append(target.Scales, tm.CellSize)
	}

	if clip != (orb.Bound{}) {
		spanX := float64(first.TileWidth) * first.CellSize
		spanY := float64(first.TileHeight) * first.CellSize
		snapped := orb.Bound{
			Min: orb.Point{
				envelope.Min[0] + math.Floor((clip.Min[0]-envelope.Min[0])/spanX)*spanX,
				envelope.Max[1] - math.Ceil((envelope.Max[1]-clip.Min[1])/spanY)*spanY,
			},
			Max: orb.Point{
				envelope.Min[0] + math.Ceil((clip.Max[0]-envelope.Min[0])/spanX)*spanX,
				envelope.Max[1] - math.Floor((envelope.Max[1]-clip.Max[1])/spanY)*spanY,
			},
		}
		var ok bool
		if envelope, ok = intersect(envelope, snapped); !ok {
			return pyramid.WriteTarget{}, fmt.Errorf("clip %v is outside tile matrix set %s", clip, tms.ID)
		}
	}
	target.Envelope = envelope
	return target, nil
}

func intersect(a, b orb.Bound) (orb.Bound, bool) {
	out := orb.Bound{
		Min: orb.Point{math.Max(a.Min[0], b.Min[0]), math.Max(a.Min[1], b.Min[1])},
		Max: orb.Point{math.Min(a.Max[0], b.Max[0]), math.Min(a.Max[1], b.Max[1])},
	}
	return out, out.Min[0] < out.Max[0] && out.Min[1] < out.Max[1]
}
