package cog

import (
	"bytes"
	"fmt"
	stdimage "image"
	"image/jpeg"
	"io"
	"math"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/tingold/pyramid"
	"golang.org/x/image/tiff/lzw"
)

// zstdDecoder is safe for concurrent DecodeAll calls.
var zstdDecoder, _ = zstd.NewReader(nil)

// decodeSamples decompresses one block holding width x rows pixels of spp
// samples each and converts it to float64 samples.
func (im *ifdImage) decodeSamples(raw []byte, width, rows, spp int) ([]float64, error) {
	buf := getBytesBuffer()
	defer putBytesBuffer(buf)

	data, err := im.decompress(raw, buf, width, rows, spp)
	if err != nil {
		return nil, err
	}
	if err := im.undoPredictor(data, width, rows, spp); err != nil {
		return nil, err
	}
	return im.samples(data, width*rows*spp), nil
}

func (im *ifdImage) decompress(raw []byte, buf *bytes.Buffer, width, rows, spp int) ([]byte, error) {
	expected := width * rows * spp * im.Type.Size()
	var data []byte
	switch im.Compression {
	case CompressionNone:
		data = raw
	case CompressionLZW:
		r := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer r.Close()
		if err := readInto(buf, r, expected); err != nil {
			return nil, fmt.Errorf("failed to decompress LZW block: %w", err)
		}
		data = buf.Bytes()
	case CompressionDeflate, CompressionDeflate2:
		r, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			// some writers omit the zlib wrapper
			r = flate.NewReader(bytes.NewReader(raw))
		}
		defer r.Close()
		if err := readInto(buf, r, expected); err != nil {
			return nil, fmt.Errorf("failed to decompress Deflate block: %w", err)
		}
		data = buf.Bytes()
	case CompressionZSTD:
		out, err := zstdDecoder.DecodeAll(raw, buf.Bytes()[:0])
		if err != nil {
			return nil, fmt.Errorf("failed to decompress ZSTD block: %w", err)
		}
		data = out
	case CompressionJPEG, CompressionOldJPEG:
		return im.decodeJPEG(raw, buf, width, rows, spp)
	default:
		return nil, fmt.Errorf("unsupported compression type %d", im.Compression)
	}
	if len(data) < expected {
		return nil, fmt.Errorf("block holds %d bytes, expected %d", len(data), expected)
	}
	return data[:expected], nil
}

// readInto tolerates a trailing error once enough bytes arrived; some
// writers truncate the end of code streams.
func readInto(buf *bytes.Buffer, r io.Reader, expected int) error {
	buf.Grow(expected)
	_, err := buf.ReadFrom(r)
	if err != nil && buf.Len() < expected {
		return err
	}
	return nil
}

// decodeJPEG decodes an 8-bit JPEG block, prefixing the shared tables of
// abbreviated streams.
func (im *ifdImage) decodeJPEG(raw []byte, buf *bytes.Buffer, width, rows, spp int) ([]byte, error) {
	if im.Type != pyramid.Uint8 {
		return nil, fmt.Errorf("JPEG block with %s samples", im.Type)
	}
	stream := raw
	if len(im.JPEGTables) > 4 && len(raw) > 2 {
		// tables end with EOI, the block starts with SOI
		buf.Write(im.JPEGTables[:len(im.JPEGTables)-2])
		buf.Write(raw[2:])
		stream = buf.Bytes()
	}
	img, err := jpeg.Decode(bytes.NewReader(stream))
	if err != nil {
		return nil, fmt.Errorf("failed to decode JPEG block: %w", err)
	}

	out := make([]byte, width*rows*spp)
	b := img.Bounds()
	for y := 0; y < min(rows, b.Dy()); y++ {
		for x := 0; x < min(width, b.Dx()); x++ {
			o := (y*width + x) * spp
			if g, ok := img.(*stdimage.Gray); ok {
				v := g.GrayAt(b.Min.X+x, b.Min.Y+y).Y
				for s := 0; s < spp; s++ {
					out[o+s] = v
				}
				continue
			}
			r, g, bl, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			px := [4]byte{uint8(r >> 8), uint8(g >> 8), uint8(bl >> 8), uint8(a >> 8)}
			if spp < 3 {
				out[o] = px[0]
				continue
			}
			copy(out[o:o+spp], px[:min(spp, 4)])
		}
	}
	return out, nil
}

// undoPredictor reverses horizontal differencing in place, row by row.
func (im *ifdImage) undoPredictor(data []byte, width, rows, spp int) error {
	size := im.Type.Size()
	rowBytes := width * spp * size
	switch im.Predictor {
	case PredictorNone:
		return nil
	case PredictorHorizontal:
		for y := 0; y < rows; y++ {
			row := data[y*rowBytes : (y+1)*rowBytes]
			stride := spp * size
			for i := stride; i < len(row); i += size {
				cur, prev := row[i:i+size], row[i-stride:i-stride+size]
				switch size {
				case 1:
					cur[0] += prev[0]
				case 2:
					im.order.PutUint16(cur, im.order.Uint16(cur)+im.order.Uint16(prev))
				case 4:
					im.order.PutUint32(cur, im.order.Uint32(cur)+im.order.Uint32(prev))
				case 8:
					im.order.PutUint64(cur, im.order.Uint64(cur)+im.order.Uint64(prev))
				}
			}
		}
		return nil
	case PredictorFloatingPoint:
		if !im.Type.IsFloat() {
			return fmt.Errorf("floating point predictor on %s samples", im.Type)
		}
		tmp := make([]byte, rowBytes)
		count := width * spp
		bigEndian := im.order.Uint16([]byte{0, 1}) == 1
		for y := 0; y < rows; y++ {
			row := data[y*rowBytes : (y+1)*rowBytes]
			for i := spp; i < len(row); i++ {
				row[i] += row[i-spp]
			}
			copy(tmp, row)
			// bytes are stored as planes, most significant first
			for i := 0; i < count; i++ {
				for b := 0; b < size; b++ {
					plane := b
					if !bigEndian {
						plane = size - b - 1
					}
					row[size*i+b] = tmp[plane*count+i]
				}
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported predictor %d", im.Predictor)
	}
}

// samples converts n samples in file byte order to float64.
func (im *ifdImage) samples(data []byte, n int) []float64 {
	out := make([]float64, n)
	size := im.Type.Size()
	o := im.order
	for i := range out {
		b := data[i*size : (i+1)*size]
		switch im.Type {
		case pyramid.Uint8:
			out[i] = float64(b[0])
		case pyramid.Int8:
			out[i] = float64(int8(b[0]))
		case pyramid.Uint16:
			out[i] = float64(o.Uint16(b))
		case pyramid.Int16:
			out[i] = float64(int16(o.Uint16(b)))
		case pyramid.Uint32:
			out[i] = float64(o.Uint32(b))
		case pyramid.Int32:
			out[i] = float64(int32(o.Uint32(b)))
		case pyramid.Float32:
			out[i] = float64(math.Float32frombits(o.Uint32(b)))
		case pyramid.Float64:
			out[i] = math.Float64frombits(o.Uint64(b))
		}
	}

	// WhiteIsZero grayscale is stored inverted
	if im.Photometric == photometricWhiteIsZero && im.Bands == 1 && !im.Type.IsFloat() {
		maxValue := math.Exp2(float64(size*8)) - 1
		switch im.Type {
		case pyramid.Int8, pyramid.Int16, pyramid.Int32:
			maxValue = math.Exp2(float64(size*8-1)) - 1
		}
		for i := range out {
			out[i] = maxValue - out[i]
		}
	}
	return out
}
