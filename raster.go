package pyramid

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// SampleType is the storage type of one sample.
type SampleType uint8

const (
	Uint8 SampleType = iota + 1
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Float32
	Float64
)

var sampleTypeNames = map[SampleType]string{
	Uint8:   "uint8",
	Int8:    "int8",
	Uint16:  "uint16",
	Int16:   "int16",
	Uint32:  "uint32",
	Int32:   "int32",
	Float32: "float32",
	Float64: "float64",
}

func (t SampleType) String() string {
	if n, ok := sampleTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("SampleType(%d)", t)
}

// ParseSampleType is the inverse of SampleType.String.
func ParseSampleType(s string) (SampleType, error) {
	for t, n := range sampleTypeNames {
		if n == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown sample type %q", s)
}

// IsFloat reports whether the type holds IEEE floating point samples.
func (t SampleType) IsFloat() bool {
	return t == Float32 || t == Float64
}

// Size is the size of one sample in bytes.
func (t SampleType) Size() int {
	switch t {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	default:
		return 8
	}
}

// SampleModel describes the pixel layout shared by every tile of a mosaic.
type SampleModel struct {
	Bands  int
	Type   SampleType
	NoData float64
}

// DefaultSampleModel returns a model with NaN no-data for floating point
// types and zero otherwise.
func DefaultSampleModel(bands int, t SampleType) SampleModel {
	m := SampleModel{Bands: bands, Type: t}
	if t.IsFloat() {
		m.NoData = math.NaN()
	}
	return m
}

// Equal compares two models; NaN no-data values are equal.
func (m SampleModel) Equal(o SampleModel) bool {
	if m.Bands != o.Bands || m.Type != o.Type {
		return false
	}
	return m.NoData == o.NoData || (math.IsNaN(m.NoData) && math.IsNaN(o.NoData))
}

// Raster holds pixel data in band-interleaved-by-pixel order:
// index = y * Width * Bands + x * Bands + band
type Raster struct {
	Data   []float64
	Width  int
	Height int
	Model  SampleModel
}

// NewRaster allocates a raster filled with the model's no-data value.
func NewRaster(width, height int, model SampleModel) *Raster {
	if model.Bands <= 0 {
		model.Bands = 1
	}
	r := &Raster{
		Data:   make([]float64, width*height*model.Bands),
		Width:  width,
		Height: height,
		Model:  model,
	}
	if model.NoData != 0 {
		r.Fill(model.NoData)
	}
	return r
}

// Bands is the number of samples per pixel.
func (r *Raster) Bands() int {
	return r.Model.Bands
}

// Index returns the flat array index for the given band, x, y coordinates.
func (r *Raster) Index(band, x, y int) int {
	return y*r.Width*r.Model.Bands + x*r.Model.Bands + band
}

// At returns the sample at band, x, y or the no-data value when out of range.
func (r *Raster) At(band, x, y int) float64 {
	if band < 0 || band >= r.Model.Bands || x < 0 || x >= r.Width || y < 0 || y >= r.Height {
		return r.Model.NoData
	}
	return r.Data[r.Index(band, x, y)]
}

// Set stores a sample; out of range coordinates are ignored.
func (r *Raster) Set(band, x, y int, v float64) {
	if band < 0 || band >= r.Model.Bands || x < 0 || x >= r.Width || y < 0 || y >= r.Height {
		return
	}
	r.Data[r.Index(band, x, y)] = v
}

// Pixel returns all band values for a single pixel.
func (r *Raster) Pixel(x, y int) []float64 {
	if x < 0 || x >= r.Width || y < 0 || y >= r.Height {
		return nil
	}
	i := r.Index(0, x, y)
	out := make([]float64, r.Model.Bands)
	copy(out, r.Data[i:i+r.Model.Bands])
	return out
}

// Band returns a newly allocated row-major copy of one band.
func (r *Raster) Band(band int) []float64 {
	if band < 0 || band >= r.Model.Bands {
		return nil
	}
	out := make([]float64, r.Width*r.Height)
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			out[y*r.Width+x] = r.Data[r.Index(band, x, y)]
		}
	}
	return out
}

// Fill sets every sample to v.
func (r *Raster) Fill(v float64) {
	for i := range r.Data {
		r.Data[i] = v
	}
}

// FillPixels sets every pixel to the given per-band values.
func (r *Raster) FillPixels(values []float64) {
	b := r.Model.Bands
	for i := 0; i < len(r.Data); i += b {
		for j := 0; j < b; j++ {
			if j < len(values) {
				r.Data[i+j] = values[j]
			} else {
				r.Data[i+j] = 0
			}
		}
	}
}

// SameModel reports whether o shares the sample model of r.
func (r *Raster) SameModel(o *Raster) bool {
	return o != nil && r.Model.Equal(o.Model)
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	c := *r
	c.Data = make([]float64, len(r.Data))
	copy(c.Data, r.Data)
	return &c
}

// Paste copies src into r with its top-left corner at (x, y), clipping to
// both rasters. Bands beyond the smaller band count are left untouched.
func (r *Raster) Paste(src *Raster, x, y int) {
	x0, y0 := max(x, 0), max(y, 0)
	x1, y1 := min(x+src.Width, r.Width), min(y+src.Height, r.Height)
	if x0 >= x1 || y0 >= y1 {
		return
	}
	bands := min(r.Model.Bands, src.Model.Bands)
	if bands == r.Model.Bands && bands == src.Model.Bands {
		n := (x1 - x0) * bands
		for row := y0; row < y1; row++ {
			d := r.Index(0, x0, row)
			s := src.Index(0, x0-x, row-y)
			copy(r.Data[d:d+n], src.Data[s:s+n])
		}
		return
	}
	for row := y0; row < y1; row++ {
		for col := x0; col < x1; col++ {
			d := r.Index(0, col, row)
			s := src.Index(0, col-x, row-y)
			copy(r.Data[d:d+bands], src.Data[s:s+bands])
		}
	}
}

// Coverage is a raster placed in world space.
type Coverage struct {
	*Raster
	CRS CRS
	// GridToCRS maps pixel corner coordinates to world coordinates.
	GridToCRS Affine
}

// Bounds is the world envelope of the coverage.
func (c *Coverage) Bounds() orb.Bound {
	return transformBoundCorners(c.GridToCRS, orb.Bound{
		Max: orb.Point{float64(c.Width), float64(c.Height)},
	})
}

// Crop returns the part of the coverage intersecting b, snapped outward to
// whole pixels. It returns nil if nothing intersects.
func (c *Coverage) Crop(b orb.Bound) (*Coverage, error) {
	inv, err := c.GridToCRS.Invert()
	if err != nil {
		return nil, err
	}
	px := transformBoundCorners(inv, b)
	x0 := max(int(math.Floor(px.Min[0]+TileEpsilon)), 0)
	y0 := max(int(math.Floor(px.Min[1]+TileEpsilon)), 0)
	x1 := min(int(math.Ceil(px.Max[0]-TileEpsilon)), c.Width)
	y1 := min(int(math.Ceil(px.Max[1]-TileEpsilon)), c.Height)
	if x0 >= x1 || y0 >= y1 {
		return nil, nil
	}
	out := NewRaster(x1-x0, y1-y0, c.Model)
	out.Paste(c.Raster, -x0, -y0)
	return &Coverage{
		Raster:    out,
		CRS:       c.CRS,
		GridToCRS: Affine{A: 1, C: float64(x0), E: 1, F: float64(y0)}.Then(c.GridToCRS),
	}, nil
}
