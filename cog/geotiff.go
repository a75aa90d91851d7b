package cog

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tingold/pyramid"
)

// GeoTIFF tag IDs
const (
	TagModelPixelScale     = 33550
	TagModelTiepoint       = 33922
	TagModelTransformation = 34264
	TagGeoKeyDirectory     = 34735
	TagGeoDoubleParams     = 34736
	TagGeoAsciiParams      = 34737
)

// GeoKeys
const (
	GTModelTypeGeoKey        = 1024
	GTRasterTypeGeoKey       = 1025
	GTRasterTypePixelIsArea  = 1
	GTRasterTypePixelIsPoint = 2

	GeographicTypeGeoKey  = 2048
	ProjectedCSTypeGeoKey = 3072

	userDefinedCode = 32767
)

// Compression schemes
const (
	CompressionNone     = 1
	CompressionLZW      = 5
	CompressionOldJPEG  = 6
	CompressionJPEG     = 7
	CompressionDeflate  = 8
	CompressionDeflate2 = 32946
	CompressionZSTD     = 50000
)

// Predictors
const (
	PredictorNone          = 1
	PredictorHorizontal    = 2
	PredictorFloatingPoint = 3
)

const (
	photometricWhiteIsZero = 0
	planarContiguous       = 1
	planarSeparate         = 2
	subfileMask            = 4
)

// ifdImage is the layout of one IFD: size, sample model and block (tile or
// strip) addressing.
type ifdImage struct {
	Index       int
	Width       int
	Height      int
	Bands       int
	Type        pyramid.SampleType
	NoData      float64
	Compression uint16
	Predictor   uint16
	Photometric uint16
	Planar      uint16
	Mask        bool

	Tiled       bool
	BlockWidth  int
	BlockHeight int
	Offsets     []uint64
	ByteCounts  []uint64
	JPEGTables  []byte

	order binary.ByteOrder
}

// BlocksAcross is the number of block columns.
func (im *ifdImage) BlocksAcross() int {
	return (im.Width + im.BlockWidth - 1) / im.BlockWidth
}

// BlocksDown is the number of block rows.
func (im *ifdImage) BlocksDown() int {
	return (im.Height + im.BlockHeight - 1) / im.BlockHeight
}

// Model is the sample model of the decoded image.
func (im *ifdImage) Model() pyramid.SampleModel {
	return pyramid.SampleModel{Bands: im.Bands, Type: im.Type, NoData: im.NoData}
}

// blockIndex returns the index into Offsets of the block at col, row for
// the given band. Contiguous images store all bands in one block.
func (im *ifdImage) blockIndex(col, row, band int) int {
	idx := row*im.BlocksAcross() + col
	if im.Planar == planarSeparate {
		idx += band * im.BlocksAcross() * im.BlocksDown()
	}
	return idx
}

// present reports whether the block at col, row holds data. Blocks with a
// zero byte count are sparse.
func (im *ifdImage) present(col, row int) bool {
	if col < 0 || row < 0 || col >= im.BlocksAcross() || row >= im.BlocksDown() {
		return false
	}
	idx := im.blockIndex(col, row, 0)
	return idx < len(im.ByteCounts) && idx < len(im.Offsets) && im.ByteCounts[idx] > 0 && im.Offsets[idx] > 0
}

func readImage(tf *tiffFile, index int) (*ifdImage, error) {
	ifd := tf.ifds[index]
	im := &ifdImage{
		Index:       index,
		Width:       int(ifd.Uint(TagImageWidth, 0)),
		Height:      int(ifd.Uint(TagImageLength, 0)),
		Bands:       int(ifd.Uint(TagSamplesPerPixel, 1)),
		Compression: uint16(ifd.Uint(TagCompression, CompressionNone)),
		Predictor:   uint16(ifd.Uint(TagPredictor, PredictorNone)),
		Photometric: uint16(ifd.Uint(TagPhotometricInterpretation, 1)),
		Planar:      uint16(ifd.Uint(TagPlanarConfiguration, planarContiguous)),
		Mask:        ifd.Uint(TagNewSubfileType, 0)&subfileMask != 0,
		order:       tf.order,
	}
	if im.Width <= 0 || im.Height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", im.Width, im.Height)
	}
	if im.Bands <= 0 {
		return nil, fmt.Errorf("invalid samples per pixel %d", im.Bands)
	}

	t, err := sampleType(ifd)
	if err != nil {
		return nil, err
	}
	im.Type = t

	if _, ok := ifd.Tags[TagTileWidth]; ok {
		im.Tiled = true
		im.BlockWidth = int(ifd.Uint(TagTileWidth, 0))
		im.BlockHeight = int(ifd.Uint(TagTileLength, 0))
		im.Offsets = ifd.Uints(TagTileOffsets)
		im.ByteCounts = ifd.Uints(TagTileByteCounts)
	} else {
		im.BlockWidth = im.Width
		im.BlockHeight = int(min(ifd.Uint(TagRowsPerStrip, uint64(im.Height)), uint64(im.Height)))
		im.Offsets = ifd.Uints(TagStripOffsets)
		im.ByteCounts = ifd.Uints(TagStripByteCounts)
	}
	if im.BlockWidth <= 0 || im.BlockHeight <= 0 {
		return nil, fmt.Errorf("invalid block size %dx%d", im.BlockWidth, im.BlockHeight)
	}
	if im.Offsets == nil || im.ByteCounts == nil {
		return nil, fmt.Errorf("image is neither tiled nor stripped")
	}

	if tag := ifd.Tags[TagJPEGTables]; tag != nil {
		im.JPEGTables = tag.Bytes()
	}

	if t.IsFloat() {
		im.NoData = math.NaN()
	}
	if tag := ifd.Tags[TagGDALNoData]; tag != nil {
		s := strings.TrimSpace(tag.ASCII())
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid nodata %q: %w", s, err)
		}
		im.NoData = v
	}
	return im, nil
}

// sampleType maps BitsPerSample and SampleFormat to a sample type.
func sampleType(ifd *IFD) (pyramid.SampleType, error) {
	bits := ifd.Uint(TagBitsPerSample, 1)
	format := ifd.Uint(TagSampleFormat, 1)
	// SampleFormat: 1 = unsigned integer, 2 = signed integer, 3 = IEEE floating point
	switch {
	case bits == 8 && format == 1:
		return pyramid.Uint8, nil
	case bits == 8 && format == 2:
		return pyramid.Int8, nil
	case bits == 16 && format == 1:
		return pyramid.Uint16, nil
	case bits == 16 && format == 2:
		return pyramid.Int16, nil
	case bits == 32 && format == 1:
		return pyramid.Uint32, nil
	case bits == 32 && format == 2:
		return pyramid.Int32, nil
	case bits == 32 && format == 3:
		return pyramid.Float32, nil
	case bits == 64 && format == 3:
		return pyramid.Float64, nil
	}
	return 0, fmt.Errorf("unsupported sample layout: %d bits, format %d", bits, format)
}

// georef is the georeferencing of the full resolution image.
type georef struct {
	CRS       pyramid.CRS
	GridToCRS pyramid.Affine
}

// readGeoref derives the CRS from the GeoKey directory and the pixel to
// model transform from ModelTransformation or ModelTiepoint plus
// ModelPixelScale.
func readGeoref(ifd *IFD) (georef, error) {
	keys, err := readGeoKeys(ifd)
	if err != nil {
		return georef{}, err
	}

	var g georef
	for _, key := range []uint16{ProjectedCSTypeGeoKey, GeographicTypeGeoKey} {
		if code, ok := keys[key]; ok && code != 0 && code != userDefinedCode {
			crs, err := pyramid.ParseCRS(fmt.Sprintf("EPSG:%d", code))
			if err != nil {
				return georef{}, err
			}
			g.CRS = crs
			break
		}
	}

	switch {
	case ifd.Tags[TagModelTransformation] != nil:
		t := ifd.Tags[TagModelTransformation].Floats()
		if len(t) < 16 {
			return georef{}, fmt.Errorf("ModelTransformation has %d values", len(t))
		}
		g.GridToCRS = pyramid.Affine{A: t[0], B: t[1], C: t[3], D: t[4], E: t[5], F: t[7]}
	case ifd.Tags[TagModelTiepoint] != nil && ifd.Tags[TagModelPixelScale] != nil:
		tp := ifd.Tags[TagModelTiepoint].Floats()
		scale := ifd.Tags[TagModelPixelScale].Floats()
		if len(tp) < 6 || len(scale) < 2 {
			return georef{}, fmt.Errorf("incomplete tie point or pixel scale")
		}
		// pixel (I, J) maps to model (X, Y); Y is inverted
		g.GridToCRS = pyramid.Affine{
			A: scale[0], C: tp[3] - tp[0]*scale[0],
			E: -scale[1], F: tp[4] + tp[1]*scale[1],
		}
	default:
		return georef{}, fmt.Errorf("image is not georeferenced")
	}

	if keys[GTRasterTypeGeoKey] == GTRasterTypePixelIsPoint {
		g.GridToCRS = pyramid.Affine{A: 1, C: -0.5, E: 1, F: -0.5}.Then(g.GridToCRS)
	}
	return g, nil
}

// readGeoKeys returns the short valued keys of the GeoKey directory. Keys
// stored in the double or ASCII parameter tags are not needed to name the
// CRS and are skipped.
func readGeoKeys(ifd *IFD) (map[uint16]uint64, error) {
	keys := make(map[uint16]uint64)
	tag := ifd.Tags[TagGeoKeyDirectory]
	if tag == nil {
		return keys, nil
	}
	v := tag.Uints()
	if len(v) < 4 {
		return nil, fmt.Errorf("GeoKeyDirectory too short")
	}
	// header: version, revision, minor revision, number of keys
	n := int(v[3])
	for i := 0; i < n && 4+i*4+3 < len(v); i++ {
		e := v[4+i*4 : 8+i*4]
		id, location, count, value := uint16(e[0]), e[1], e[2], e[3]
		if location == 0 && count == 1 {
			keys[id] = value
		}
	}
	return keys, nil
}
