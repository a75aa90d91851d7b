package cog

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/jpeg"
	"math"
	"slices"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"github.com/tingold/pyramid"
)

// testImage describes one IFD written by buildTIFF.
type testImage struct {
	width, height, bands int
	typ                  pyramid.SampleType
	blockW, blockH       int
	stripped             bool
	compression          uint16
	predictor            uint16
	planar               uint16
	mask                 bool
	overview             bool
	noData               string
	// sparse lists block indexes written with a zero byte count.
	sparse []int
	value  func(band, x, y int) float64
}

// testTIFF describes a whole file.
type testTIFF struct {
	big          bool
	order        binary.ByteOrder
	epsg         int
	geographic   bool
	pixelIsPoint bool
	// transform writes ModelTransformation instead of tie point and scale.
	transform bool
	ulx, uly  float64
	scale     float64
	images    []testImage
}

type testEntry struct {
	id   uint16
	typ  DataType
	n    uint64
	data []byte
}

// gradient is the default pixel function: distinct per band and position.
func gradient(band, x, y int) float64 {
	return float64(band*1000 + y*10 + x)
}

func (tt testTIFF) bytes(t *testing.T) []byte {
	t.Helper()
	if tt.order == nil {
		tt.order = binary.LittleEndian
	}
	o := tt.order

	var buf bytes.Buffer
	if o == binary.ByteOrder(binary.LittleEndian) {
		buf.WriteString("II")
	} else {
		buf.WriteString("MM")
	}
	nextPos := 4
	if tt.big {
		binary.Write(&buf, o, uint16(bigTIFFVersion))
		binary.Write(&buf, o, uint16(8))
		binary.Write(&buf, o, uint16(0))
		nextPos = 8
		binary.Write(&buf, o, uint64(0))
	} else {
		binary.Write(&buf, o, uint16(tiffVersion))
		binary.Write(&buf, o, uint32(0))
	}

	for i, im := range tt.images {
		offsets, counts := tt.writeBlocks(t, &buf, im)
		entries := tt.imageEntries(im, offsets, counts)
		if i == 0 {
			entries = append(entries, tt.geoEntries()...)
		}
		if buf.Len()%2 == 1 {
			buf.WriteByte(0)
		}
		ifdOffset := buf.Len()
		tt.patchOffset(buf.Bytes(), nextPos, uint64(ifdOffset))
		nextPos = tt.writeIFD(&buf, entries)
	}
	return buf.Bytes()
}

func (tt testTIFF) patchOffset(b []byte, pos int, v uint64) {
	if tt.big {
		tt.order.PutUint64(b[pos:], v)
		return
	}
	tt.order.PutUint32(b[pos:], uint32(v))
}

// writeIFD appends the directory followed by its out of line values and
// returns the position of its next-IFD pointer.
func (tt testTIFF) writeIFD(buf *bytes.Buffer, entries []testEntry) int {
	o := tt.order
	slices.SortFunc(entries, func(a, b testEntry) int { return int(a.id) - int(b.id) })

	countSize, entrySize, fieldSize, nextSize := 2, 12, 4, 4
	if tt.big {
		countSize, entrySize, fieldSize, nextSize = 8, 20, 8, 8
	}
	start := buf.Len()
	extraAt := start + countSize + len(entries)*entrySize + nextSize
	var extra bytes.Buffer

	if tt.big {
		binary.Write(buf, o, uint64(len(entries)))
	} else {
		binary.Write(buf, o, uint16(len(entries)))
	}
	for _, e := range entries {
		binary.Write(buf, o, e.id)
		binary.Write(buf, o, uint16(e.typ))
		if tt.big {
			binary.Write(buf, o, e.n)
		} else {
			binary.Write(buf, o, uint32(e.n))
		}
		field := make([]byte, fieldSize)
		if len(e.data) <= fieldSize {
			copy(field, e.data)
		} else {
			tt.patchOffset(field, 0, uint64(extraAt+extra.Len()))
			extra.Write(e.data)
			if extra.Len()%2 == 1 {
				extra.WriteByte(0)
			}
		}
		buf.Write(field)
	}
	nextPos := buf.Len()
	buf.Write(make([]byte, nextSize))
	buf.Write(extra.Bytes())
	return nextPos
}

func (tt testTIFF) shorts(id uint16, v ...uint64) testEntry {
	b := make([]byte, 2*len(v))
	for i, x := range v {
		tt.order.PutUint16(b[2*i:], uint16(x))
	}
	return testEntry{id: id, typ: DTShort, n: uint64(len(v)), data: b}
}

func (tt testTIFF) longs(id uint16, v ...uint64) testEntry {
	if tt.big {
		b := make([]byte, 8*len(v))
		for i, x := range v {
			tt.order.PutUint64(b[8*i:], x)
		}
		return testEntry{id: id, typ: DTLong8, n: uint64(len(v)), data: b}
	}
	b := make([]byte, 4*len(v))
	for i, x := range v {
		tt.order.PutUint32(b[4*i:], uint32(x))
	}
	return testEntry{id: id, typ: DTLong, n: uint64(len(v)), data: b}
}

func (tt testTIFF) doubles(id uint16, v ...float64) testEntry {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		tt.order.PutUint64(b[8*i:], math.Float64bits(x))
	}
	return testEntry{id: id, typ: DTDouble, n: uint64(len(v)), data: b}
}

func ascii(id uint16, s string) testEntry {
	b := append([]byte(s), 0)
	return testEntry{id: id, typ: DTASCII, n: uint64(len(b)), data: b}
}

func (tt testTIFF) imageEntries(im testImage, offsets, counts []uint64) []testEntry {
	bits, format := uint64(im.typ.Size()*8), uint64(1)
	switch {
	case im.typ.IsFloat():
		format = 3
	case im.typ == pyramid.Int8 || im.typ == pyramid.Int16 || im.typ == pyramid.Int32:
		format = 2
	}
	var subfile uint64
	if im.overview {
		subfile |= 1
	}
	if im.mask {
		subfile |= subfileMask
	}
	photometric := uint64(1)
	if im.bands == 3 {
		photometric = 2
	}
	if im.mask {
		photometric = 4
	}

	entries := []testEntry{
		tt.longs(TagNewSubfileType, subfile),
		tt.longs(TagImageWidth, uint64(im.width)),
		tt.longs(TagImageLength, uint64(im.height)),
		tt.shorts(TagBitsPerSample, repeat(bits, im.bands)...),
		tt.shorts(TagCompression, uint64(max(im.compression, CompressionNone))),
		tt.shorts(TagPhotometricInterpretation, photometric),
		tt.shorts(TagSamplesPerPixel, uint64(im.bands)),
		tt.shorts(TagPlanarConfiguration, uint64(max(im.planar, planarContiguous))),
		tt.shorts(TagSampleFormat, repeat(format, im.bands)...),
	}
	if im.predictor != 0 {
		entries = append(entries, tt.shorts(TagPredictor, uint64(im.predictor)))
	}
	if im.stripped {
		entries = append(entries,
			tt.longs(TagRowsPerStrip, uint64(im.blockH)),
			tt.longs(TagStripOffsets, offsets...),
			tt.longs(TagStripByteCounts, counts...))
	} else {
		entries = append(entries,
			tt.shorts(TagTileWidth, uint64(im.blockW)),
			tt.shorts(TagTileLength, uint64(im.blockH)),
			tt.longs(TagTileOffsets, offsets...),
			tt.longs(TagTileByteCounts, counts...))
	}
	if im.noData != "" {
		entries = append(entries, ascii(TagGDALNoData, im.noData))
	}
	return entries
}

func (tt testTIFF) geoEntries() []testEntry {
	if tt.epsg == 0 && tt.scale == 0 {
		return nil
	}
	raster := uint64(GTRasterTypePixelIsArea)
	if tt.pixelIsPoint {
		raster = GTRasterTypePixelIsPoint
	}
	model, crsKey := uint64(1), uint64(ProjectedCSTypeGeoKey)
	if tt.geographic {
		model, crsKey = 2, GeographicTypeGeoKey
	}
	keys := []uint64{1, 1, 0, 3,
		GTModelTypeGeoKey, 0, 1, model,
		GTRasterTypeGeoKey, 0, 1, raster,
		crsKey, 0, 1, uint64(tt.epsg),
	}
	entries := []testEntry{tt.shorts(TagGeoKeyDirectory, keys...)}
	if tt.transform {
		entries = append(entries, tt.doubles(TagModelTransformation,
			tt.scale, 0, 0, tt.ulx,
			0, -tt.scale, 0, tt.uly,
			0, 0, 0, 0,
			0, 0, 0, 1))
		return entries
	}
	return append(entries,
		tt.doubles(TagModelPixelScale, tt.scale, tt.scale, 0),
		tt.doubles(TagModelTiepoint, 0, 0, 0, tt.ulx, tt.uly, 0))
}

func repeat(v uint64, n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// writeBlocks appends every block of im and returns their offsets and
// byte counts in TIFF order.
func (tt testTIFF) writeBlocks(t *testing.T, buf *bytes.Buffer, im testImage) ([]uint64, []uint64) {
	t.Helper()
	if im.value == nil {
		im.value = gradient
	}
	if im.stripped {
		im.blockW = im.width
	}
	across := (im.width + im.blockW - 1) / im.blockW
	down := (im.height + im.blockH - 1) / im.blockH
	planes, spp := 1, im.bands
	if im.planar == planarSeparate {
		planes, spp = im.bands, 1
	}

	var offsets, counts []uint64
	for plane := 0; plane < planes; plane++ {
		for row := 0; row < down; row++ {
			for col := 0; col < across; col++ {
				if slices.Contains(im.sparse, row*across+col) {
					offsets = append(offsets, 0)
					counts = append(counts, 0)
					continue
				}
				rows := im.blockH
				if im.stripped {
					rows = min(im.blockH, im.height-row*im.blockH)
				}
				data := tt.encodeBlock(t, im, col, row, rows, plane, spp)
				if buf.Len()%2 == 1 {
					buf.WriteByte(0)
				}
				offsets = append(offsets, uint64(buf.Len()))
				counts = append(counts, uint64(len(data)))
				buf.Write(data)
			}
		}
	}
	return offsets, counts
}

func (tt testTIFF) encodeBlock(t *testing.T, im testImage, col, row, rows, plane, spp int) []byte {
	t.Helper()
	size := im.typ.Size()
	w := im.blockW

	if im.compression == CompressionJPEG {
		gray := image.NewGray(image.Rect(0, 0, w, rows))
		for y := 0; y < rows; y++ {
			for x := 0; x < w; x++ {
				gray.Pix[y*gray.Stride+x] = uint8(im.value(0, col*w+x, row*im.blockH+y))
			}
		}
		var out bytes.Buffer
		require.NoError(t, jpeg.Encode(&out, gray, &jpeg.Options{Quality: 100}))
		return out.Bytes()
	}

	raw := make([]byte, w*rows*spp*size)
	for y := 0; y < rows; y++ {
		for x := 0; x < w; x++ {
			px, py := col*w+x, row*im.blockH+y
			for s := 0; s < spp; s++ {
				band := s
				if spp == 1 {
					band = plane
				}
				v := 0.0
				if px < im.width && py < im.height {
					v = im.value(band, px, py)
				}
				tt.putSample(raw[((y*w+x)*spp+s)*size:], im.typ, v)
			}
		}
	}

	switch im.predictor {
	case PredictorHorizontal:
		tt.diffHorizontal(raw, w, rows, spp, size)
	case PredictorFloatingPoint:
		tt.diffFloatingPoint(raw, w, rows, spp, size)
	}

	switch im.compression {
	case CompressionDeflate, CompressionDeflate2:
		var out bytes.Buffer
		zw := zlib.NewWriter(&out)
		_, err := zw.Write(raw)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		return out.Bytes()
	case CompressionZSTD:
		enc, err := zstd.NewWriter(nil)
		require.NoError(t, err)
		defer enc.Close()
		return enc.EncodeAll(raw, nil)
	}
	return raw
}

func (tt testTIFF) putSample(b []byte, typ pyramid.SampleType, v float64) {
	o := tt.order
	switch typ {
	case pyramid.Uint8:
		b[0] = uint8(v)
	case pyramid.Int8:
		b[0] = uint8(int8(v))
	case pyramid.Uint16:
		o.PutUint16(b, uint16(v))
	case pyramid.Int16:
		o.PutUint16(b, uint16(int16(v)))
	case pyramid.Uint32:
		o.PutUint32(b, uint32(v))
	case pyramid.Int32:
		o.PutUint32(b, uint32(int32(v)))
	case pyramid.Float32:
		o.PutUint32(b, math.Float32bits(float32(v)))
	case pyramid.Float64:
		o.PutUint64(b, math.Float64bits(v))
	}
}

func (tt testTIFF) diffHorizontal(raw []byte, w, rows, spp, size int) {
	o := tt.order
	rowBytes := w * spp * size
	stride := spp * size
	for y := 0; y < rows; y++ {
		row := raw[y*rowBytes : (y+1)*rowBytes]
		for i := len(row) - size; i >= stride; i -= size {
			cur, prev := row[i:i+size], row[i-stride:i-stride+size]
			switch size {
			case 1:
				cur[0] -= prev[0]
			case 2:
				o.PutUint16(cur, o.Uint16(cur)-o.Uint16(prev))
			case 4:
				o.PutUint32(cur, o.Uint32(cur)-o.Uint32(prev))
			case 8:
				o.PutUint64(cur, o.Uint64(cur)-o.Uint64(prev))
			}
		}
	}
}

func (tt testTIFF) diffFloatingPoint(raw []byte, w, rows, spp, size int) {
	rowBytes := w * spp * size
	count := w * spp
	bigEndian := tt.order == binary.ByteOrder(binary.BigEndian)
	tmp := make([]byte, rowBytes)
	for y := 0; y < rows; y++ {
		row := raw[y*rowBytes : (y+1)*rowBytes]
		copy(tmp, row)
		for i := 0; i < count; i++ {
			for b := 0; b < size; b++ {
				plane := b
				if !bigEndian {
					plane = size - b - 1
				}
				row[plane*count+i] = tmp[size*i+b]
			}
		}
		for i := len(row) - 1; i >= spp; i-- {
			row[i] -= row[i-spp]
		}
	}
}

// openTest builds the file and opens it as a store.
func openTest(t *testing.T, tt testTIFF, opts ...Option) *Store {
	t.Helper()
	s, err := OpenReader("test.tif", bytes.NewReader(tt.bytes(t)), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// basicTIFF is a 100x60 single band uint16 image in 32x32 tiles with one
// overview, in EPSG:3857 at 10 units per pixel.
func basicTIFF() testTIFF {
	return testTIFF{
		epsg:  3857,
		ulx:   1000,
		uly:   2000,
		scale: 10,
		images: []testImage{
			{width: 100, height: 60, bands: 1, typ: pyramid.Uint16, blockW: 32, blockH: 32},
			{width: 50, height: 30, bands: 1, typ: pyramid.Uint16, blockW: 32, blockH: 32, overview: true,
				value: func(_, x, y int) float64 { return float64(y*10+x) * 2 }},
		},
	}
}
