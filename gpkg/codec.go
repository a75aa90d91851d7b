package gpkg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/klauspost/compress/zstd"
	"github.com/tingold/pyramid"
)

// Tile payloads are PNG for 8-bit rasters with 1, 3 or 4 bands. Everything
// else is a raw payload: a fixed header followed by the little endian
// samples of the declared type, zstd compressed.
//
//	magic   [4]byte "PYRT"
//	version uint8
//	type    uint8   pyramid.SampleType
//	bands   uint16
//	width   uint32
//	height  uint32
//	nodata  float64
const (
	rawMagic      = "PYRT"
	rawVersion    = 1
	rawHeaderSize = 4 + 1 + 1 + 2 + 4 + 4 + 8
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

var errPayload = errors.New("invalid tile payload")

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// usesPNG reports whether rasters of model m are stored as PNG.
func usesPNG(m pyramid.SampleModel) bool {
	return m.Type == pyramid.Uint8 && (m.Bands == 1 || m.Bands == 3 || m.Bands == 4)
}

// encodeTile serializes a raster into a tile payload.
func encodeTile(r *pyramid.Raster) ([]byte, error) {
	if usesPNG(r.Model) {
		return encodePNG(r)
	}
	return encodeRaw(r)
}

// decodeTile restores a raster. model supplies the no-data value of PNG
// payloads, which do not carry one; it may be nil.
func decodeTile(data []byte, model *pyramid.SampleModel) (*pyramid.Raster, error) {
	switch {
	case bytes.HasPrefix(data, pngSignature):
		return decodePNG(data, model)
	case bytes.HasPrefix(data, []byte(rawMagic)):
		return decodeRaw(data)
	}
	return nil, errPayload
}

func encodePNG(r *pyramid.Raster) ([]byte, error) {
	rect := image.Rect(0, 0, r.Width, r.Height)
	var img image.Image
	switch r.Bands() {
	case 1:
		g := image.NewGray(rect)
		for y := 0; y < r.Height; y++ {
			for x := 0; x < r.Width; x++ {
				g.SetGray(x, y, color.Gray{Y: clampByte(r.At(0, x, y))})
			}
		}
		img = g
	case 3:
		// opaque RGBA is written as 8-bit RGB
		c := image.NewRGBA(rect)
		for y := 0; y < r.Height; y++ {
			for x := 0; x < r.Width; x++ {
				c.SetRGBA(x, y, color.RGBA{
					R: clampByte(r.At(0, x, y)), G: clampByte(r.At(1, x, y)), B: clampByte(r.At(2, x, y)), A: 0xff,
				})
			}
		}
		img = c
	case 4:
		c := image.NewNRGBA(rect)
		for y := 0; y < r.Height; y++ {
			for x := 0; x < r.Width; x++ {
				c.SetNRGBA(x, y, color.NRGBA{
					R: clampByte(r.At(0, x, y)), G: clampByte(r.At(1, x, y)), B: clampByte(r.At(2, x, y)), A: clampByte(r.At(3, x, y)),
				})
			}
		}
		img = c
	default:
		return nil, fmt.Errorf("no PNG layout for %d bands", r.Bands())
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG tile: %w", err)
	}
	return buf.Bytes(), nil
}

func clampByte(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(math.Round(v))
}

func decodePNG(data []byte, model *pyramid.SampleModel) (*pyramid.Raster, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errPayload, err)
	}
	b := img.Bounds()
	m := pyramid.SampleModel{Type: pyramid.Uint8}
	if model != nil {
		m.NoData = model.NoData
	}

	switch img := img.(type) {
	case *image.Gray:
		m.Bands = 1
		r := pyramid.NewRaster(b.Dx(), b.Dy(), m)
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				r.Set(0, x, y, float64(img.GrayAt(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
		return r, nil
	case *image.RGBA:
		// the encoder drops the alpha channel of opaque images
		m.Bands = 3
		if model != nil && model.Bands == 4 {
			m.Bands = 4
		}
		r := pyramid.NewRaster(b.Dx(), b.Dy(), m)
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				c := img.RGBAAt(b.Min.X+x, b.Min.Y+y)
				i := r.Index(0, x, y)
				r.Data[i], r.Data[i+1], r.Data[i+2] = float64(c.R), float64(c.G), float64(c.B)
				if m.Bands == 4 {
					r.Data[i+3] = float64(c.A)
				}
			}
		}
		return r, nil
	case *image.NRGBA:
		m.Bands = 4
		r := pyramid.NewRaster(b.Dx(), b.Dy(), m)
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				c := img.NRGBAAt(b.Min.X+x, b.Min.Y+y)
				i := r.Index(0, x, y)
				r.Data[i], r.Data[i+1], r.Data[i+2], r.Data[i+3] = float64(c.R), float64(c.G), float64(c.B), float64(c.A)
			}
		}
		return r, nil
	}
	return nil, fmt.Errorf("%w: unexpected PNG color model %T", errPayload, img)
}

func encodeRaw(r *pyramid.Raster) ([]byte, error) {
	t := r.Model.Type
	if !validType(t) {
		return nil, fmt.Errorf("unsupported sample type %s", t)
	}
	size := t.Size()
	samples := make([]byte, len(r.Data)*size)
	for i, v := range r.Data {
		putSample(samples[i*size:], t, v)
	}

	header := make([]byte, rawHeaderSize)
	copy(header, rawMagic)
	header[4] = rawVersion
	header[5] = byte(t)
	binary.LittleEndian.PutUint16(header[6:], uint16(r.Bands()))
	binary.LittleEndian.PutUint32(header[8:], uint32(r.Width))
	binary.LittleEndian.PutUint32(header[12:], uint32(r.Height))
	binary.LittleEndian.PutUint64(header[16:], math.Float64bits(r.Model.NoData))
	return zstdEncoder.EncodeAll(samples, header), nil
}

func decodeRaw(data []byte) (*pyramid.Raster, error) {
	if len(data) < rawHeaderSize {
		return nil, fmt.Errorf("%w: short header", errPayload)
	}
	if data[4] != rawVersion {
		return nil, fmt.Errorf("%w: version %d", errPayload, data[4])
	}
	m := pyramid.SampleModel{
		Type:   pyramid.SampleType(data[5]),
		Bands:  int(binary.LittleEndian.Uint16(data[6:])),
		NoData: math.Float64frombits(binary.LittleEndian.Uint64(data[16:])),
	}
	width := int(binary.LittleEndian.Uint32(data[8:]))
	height := int(binary.LittleEndian.Uint32(data[12:]))
	size := m.Type.Size()
	if !validType(m.Type) || m.Bands <= 0 {
		return nil, fmt.Errorf("%w: sample layout %d x %d", errPayload, m.Bands, data[5])
	}

	samples, err := zstdDecoder.DecodeAll(data[rawHeaderSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errPayload, err)
	}
	r := pyramid.NewRaster(width, height, m)
	if len(samples) != len(r.Data)*size {
		return nil, fmt.Errorf("%w: %d sample bytes for %dx%dx%d", errPayload, len(samples), width, height, m.Bands)
	}
	for i := range r.Data {
		r.Data[i] = sample(samples[i*size:], m.Type)
	}
	return r, nil
}

func validType(t pyramid.SampleType) bool {
	return t >= pyramid.Uint8 && t <= pyramid.Float64
}

func putSample(b []byte, t pyramid.SampleType, v float64) {
	le := binary.LittleEndian
	switch t {
	case pyramid.Uint8:
		b[0] = uint8(v)
	case pyramid.Int8:
		b[0] = uint8(int8(v))
	case pyramid.Uint16:
		le.PutUint16(b, uint16(v))
	case pyramid.Int16:
		le.PutUint16(b, uint16(int16(v)))
	case pyramid.Uint32:
		le.PutUint32(b, uint32(v))
	case pyramid.Int32:
		le.PutUint32(b, uint32(int32(v)))
	case pyramid.Float32:
		le.PutUint32(b, math.Float32bits(float32(v)))
	case pyramid.Float64:
		le.PutUint64(b, math.Float64bits(v))
	}
}

func sample(b []byte, t pyramid.SampleType) float64 {
	le := binary.LittleEndian
	switch t {
	case pyramid.Uint8:
		return float64(b[0])
	case pyramid.Int8:
		return float64(int8(b[0]))
	case pyramid.Uint16:
		return float64(le.Uint16(b))
	case pyramid.Int16:
		return float64(int16(le.Uint16(b)))
	case pyramid.Uint32:
		return float64(le.Uint32(b))
	case pyramid.Int32:
		return float64(int32(le.Uint32(b)))
	case pyramid.Float32:
		return float64(math.Float32frombits(le.Uint32(b)))
	case pyramid.Float64:
		return math.Float64frombits(le.Uint64(b))
	}
	return math.NaN()
}
