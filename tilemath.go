package pyramid

import (
	"math"

	"github.com/paulmach/orb"
)

// TileEpsilon keeps envelopes lying exactly on a tile edge from spilling into
// the neighbouring tile because of floating point rounding.
const TileEpsilon = 1e-6

// TilePos addresses one tile of a mosaic.
type TilePos struct {
	Col, Row int
}

// TileRange is a rectangular block of tiles. Max values are exclusive.
type TileRange struct {
	MinCol, MinRow int
	MaxCol, MaxRow int
}

// Empty reports whether the range holds no tile.
func (r TileRange) Empty() bool {
	return r.MaxCol <= r.MinCol || r.MaxRow <= r.MinRow
}

// Cols is the number of columns in the range.
func (r TileRange) Cols() int {
	return max(r.MaxCol-r.MinCol, 0)
}

// Rows is the number of rows in the range.
func (r TileRange) Rows() int {
	return max(r.MaxRow-r.MinRow, 0)
}

// Count is the number of tiles in the range.
func (r TileRange) Count() int {
	return r.Cols() * r.Rows()
}

// Contains reports whether the tile lies inside the range.
func (r TileRange) Contains(col, row int) bool {
	return col >= r.MinCol && col < r.MaxCol && row >= r.MinRow && row < r.MaxRow
}

// Positions lists the tiles of the range in row-major order.
func (r TileRange) Positions() []TilePos {
	if r.Empty() {
		return nil
	}
	out := make([]TilePos, 0, r.Count())
	for row := r.MinRow; row < r.MaxRow; row++ {
		for col := r.MinCol; col < r.MaxCol; col++ {
			out = append(out, TilePos{Col: col, Row: row})
		}
	}
	return out
}

// TileSpan is the world size of one tile.
func (m *GridMosaic) TileSpan() (float64, float64) {
	return float64(m.TileWidth) * m.Scale, float64(m.TileHeight) * m.Scale
}

// Bound is the world envelope covered by the whole grid.
func (m *GridMosaic) Bound() orb.Bound {
	tw, th := m.TileSpan()
	return orb.Bound{
		Min: orb.Point{m.UpperLeft[0], m.UpperLeft[1] - float64(m.GridHeight)*th},
		Max: orb.Point{m.UpperLeft[0] + float64(m.GridWidth)*tw, m.UpperLeft[1]},
	}
}

// TileBound is the world envelope of one tile.
func (m *GridMosaic) TileBound(col, row int) orb.Bound {
	tw, th := m.TileSpan()
	ox, oy := m.UpperLeft[0], m.UpperLeft[1]
	// shared edges of neighbours come from the same expression
	return orb.Bound{
		Min: orb.Point{ox + float64(col)*tw, oy - float64(row+1)*th},
		Max: orb.Point{ox + float64(col+1)*tw, oy - float64(row)*th},
	}
}

// GridToCRS maps mosaic pixel coordinates (origin at the upper left corner of
// tile 0,0) to world coordinates.
func (m *GridMosaic) GridToCRS() Affine {
	return Affine{
		A: m.Scale, C: m.UpperLeft[0],
		E: -m.Scale, F: m.UpperLeft[1],
	}
}

// TileGridToCRS maps pixel coordinates inside one tile to world coordinates.
func (m *GridMosaic) TileGridToCRS(col, row int) Affine {
	tw, th := m.TileSpan()
	return Affine{
		A: m.Scale, C: m.UpperLeft[0] + float64(col)*tw,
		E: -m.Scale, F: m.UpperLeft[1] - float64(row)*th,
	}
}

// TileRange returns the tiles intersecting b, clamped to the grid. Edges of b
// lying within TileEpsilon of a tile boundary do not pull in the neighbour.
// Non-finite edges extend to the grid border.
func (m *GridMosaic) TileRange(b orb.Bound) TileRange {
	tw, th := m.TileSpan()
	ox, oy := m.UpperLeft[0], m.UpperLeft[1]
	return TileRange{
		MinCol: clampIndex((b.Min[0]-ox)/tw+TileEpsilon, 0, m.GridWidth, 0),
		MaxCol: clampIndex((b.Max[0]-ox)/tw-TileEpsilon, -1, m.GridWidth-1, m.GridWidth-1) + 1,
		MinRow: clampIndex((oy-b.Max[1])/th+TileEpsilon, 0, m.GridHeight, 0),
		MaxRow: clampIndex((oy-b.Min[1])/th-TileEpsilon, -1, m.GridHeight-1, m.GridHeight-1) + 1,
	}
}

// clampIndex floors f and clamps it to [lo, hi]; NaN maps to nan.
func clampIndex(f float64, lo, hi, nan int) int {
	if math.IsNaN(f) {
		return nan
	}
	f = math.Floor(f)
	if f < float64(lo) {
		return lo
	}
	if f > float64(hi) {
		return hi
	}
	return int(f)
}

// EstimateTileCount estimates how many tiles of m cover b. A non-finite
// estimate on one axis is replaced by the estimate of the other axis.
func (m *GridMosaic) EstimateTileCount(b orb.Bound) float64 {
	tw, th := m.TileSpan()
	nx := (b.Max[0] - b.Min[0]) / tw
	ny := (b.Max[1] - b.Min[1]) / th
	if !isFinite(nx) {
		nx = ny
	}
	if !isFinite(ny) {
		ny = nx
	}
	if !isFinite(nx) || !isFinite(ny) {
		return math.Inf(1)
	}
	return math.Max(math.Ceil(nx), 1) * math.Max(math.Ceil(ny), 1)
}
