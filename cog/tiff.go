package cog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

// TIFF constants
const (
	tiffMagicLE    = 0x4949 // "II" little-endian
	tiffMagicBE    = 0x4D4D // "MM" big-endian
	tiffVersion    = 42
	bigTIFFVersion = 43

	// headerBufferSize is read in one go when opening a file so the IFDs
	// of a well formed COG parse without further range requests.
	headerBufferSize = 16 * 1024
	maxIFDs          = 256
)

// DataType is the field type of a TIFF tag.
type DataType uint16

const (
	DTByte      DataType = 1  // 8-bit unsigned integer
	DTASCII     DataType = 2  // 8-bit ASCII
	DTShort     DataType = 3  // 16-bit unsigned integer
	DTLong      DataType = 4  // 32-bit unsigned integer
	DTRational  DataType = 5  // Two longs: numerator, denominator
	DTSByte     DataType = 6  // 8-bit signed integer
	DTUndefined DataType = 7  // 8-bit undefined
	DTSShort    DataType = 8  // 16-bit signed integer
	DTSLong     DataType = 9  // 32-bit signed integer
	DTSRational DataType = 10 // Two signed longs
	DTFloat     DataType = 11 // 32-bit IEEE floating point
	DTDouble    DataType = 12 // 64-bit IEEE floating point
	DTIFD       DataType = 13 // 32-bit IFD offset
	DTLong8     DataType = 16 // BigTIFF 64-bit unsigned integer
	DTSLong8    DataType = 17 // BigTIFF 64-bit signed integer
	DTIFD8      DataType = 18 // BigTIFF 64-bit IFD offset
)

// Size is the size in bytes of one value of the type.
func (dt DataType) Size() int {
	switch dt {
	case DTByte, DTASCII, DTSByte, DTUndefined:
		return 1
	case DTShort, DTSShort:
		return 2
	case DTLong, DTSLong, DTFloat, DTIFD:
		return 4
	case DTRational, DTSRational, DTDouble, DTLong8, DTSLong8, DTIFD8:
		return 8
	default:
		return 0
	}
}

// Baseline and extension tag IDs.
const (
	TagNewSubfileType            = 254
	TagImageWidth                = 256
	TagImageLength               = 257
	TagBitsPerSample             = 258
	TagCompression               = 259
	TagPhotometricInterpretation = 262
	TagStripOffsets              = 273
	TagSamplesPerPixel           = 277
	TagRowsPerStrip              = 278
	TagStripByteCounts           = 279
	TagPlanarConfiguration       = 284
	TagPredictor                 = 317
	TagTileWidth                 = 322
	TagTileLength                = 323
	TagTileOffsets               = 324
	TagTileByteCounts            = 325
	TagSampleFormat              = 339
	TagJPEGTables                = 347
	TagGDALNoData                = 42113
)

// Tag is one decoded IFD entry. Values are kept raw and converted on access.
type Tag struct {
	ID    uint16
	Type  DataType
	Count uint64

	raw   []byte
	order binary.ByteOrder
}

// Uints returns the values as unsigned integers. Signed values are
// converted, floating point values truncated.
func (t *Tag) Uints() []uint64 {
	size := t.Type.Size()
	out := make([]uint64, 0, t.Count)
	for i := 0; i < int(t.Count) && (i+1)*size <= len(t.raw); i++ {
		b := t.raw[i*size : (i+1)*size]
		switch t.Type {
		case DTByte, DTUndefined:
			out = append(out, uint64(b[0]))
		case DTSByte:
			out = append(out, uint64(int8(b[0])))
		case DTShort:
			out = append(out, uint64(t.order.Uint16(b)))
		case DTSShort:
			out = append(out, uint64(int16(t.order.Uint16(b))))
		case DTLong, DTIFD:
			out = append(out, uint64(t.order.Uint32(b)))
		case DTSLong:
			out = append(out, uint64(int32(t.order.Uint32(b))))
		case DTLong8, DTSLong8, DTIFD8:
			out = append(out, t.order.Uint64(b))
		default:
			out = append(out, uint64(t.floatAt(b)))
		}
	}
	return out
}

// Uint returns the first value.
func (t *Tag) Uint() (uint64, bool) {
	v := t.Uints()
	if len(v) == 0 {
		return 0, false
	}
	return v[0], true
}

// Floats returns the values as float64.
func (t *Tag) Floats() []float64 {
	size := t.Type.Size()
	out := make([]float64, 0, t.Count)
	for i := 0; i < int(t.Count) && (i+1)*size <= len(t.raw); i++ {
		b := t.raw[i*size : (i+1)*size]
		switch t.Type {
		case DTFloat, DTDouble, DTRational, DTSRational:
			out = append(out, t.floatAt(b))
		case DTSByte:
			out = append(out, float64(int8(b[0])))
		case DTSShort:
			out = append(out, float64(int16(t.order.Uint16(b))))
		case DTSLong:
			out = append(out, float64(int32(t.order.Uint32(b))))
		case DTSLong8:
			out = append(out, float64(int64(t.order.Uint64(b))))
		default:
			out = append(out, float64(t.uintAt(b)))
		}
	}
	return out
}

func (t *Tag) uintAt(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(t.order.Uint16(b))
	case 4:
		return uint64(t.order.Uint32(b))
	default:
		return t.order.Uint64(b)
	}
}

func (t *Tag) floatAt(b []byte) float64 {
	switch t.Type {
	case DTFloat:
		return float64(math.Float32frombits(t.order.Uint32(b)))
	case DTDouble:
		return math.Float64frombits(t.order.Uint64(b))
	case DTRational:
		num, den := t.order.Uint32(b[:4]), t.order.Uint32(b[4:])
		if den == 0 {
			return math.NaN()
		}
		return float64(num) / float64(den)
	case DTSRational:
		num, den := int32(t.order.Uint32(b[:4])), int32(t.order.Uint32(b[4:]))
		if den == 0 {
			return math.NaN()
		}
		return float64(num) / float64(den)
	default:
		return float64(t.uintAt(b))
	}
}

// ASCII returns the value as a string without trailing NULs.
func (t *Tag) ASCII() string {
	return strings.TrimRight(string(t.raw), "\x00")
}

// Bytes returns the raw value bytes.
func (t *Tag) Bytes() []byte {
	return t.raw
}

// IFD represents an Image File Directory.
type IFD struct {
	Offset int64
	Tags   map[uint16]*Tag
}

// Uint returns the first value of a tag or def when absent.
func (d *IFD) Uint(id uint16, def uint64) uint64 {
	if tag := d.Tags[id]; tag != nil {
		if v, ok := tag.Uint(); ok {
			return v
		}
	}
	return def
}

// Uints returns all values of a tag, nil when absent.
func (d *IFD) Uints(id uint16) []uint64 {
	if tag := d.Tags[id]; tag != nil {
		return tag.Uints()
	}
	return nil
}

// tiffFile is the parsed structure of a TIFF or BigTIFF file.
type tiffFile struct {
	r     io.ReaderAt
	order binary.ByteOrder
	big   bool
	ifds  []*IFD

	// head holds the first bytes of the file.
	head []byte
}

var errNotTIFF = errors.New("not a tiff file")

// parseTIFF reads the header and every IFD. Tag values come from the header
// buffer when they lie inside it and from individual reads otherwise.
func parseTIFF(r io.ReaderAt) (*tiffFile, error) {
	head := make([]byte, headerBufferSize)
	n, err := r.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read TIFF header: %w", err)
	}
	head = head[:n]
	if len(head) < 8 {
		return nil, fmt.Errorf("file too short: %w", errNotTIFF)
	}

	tf := &tiffFile{r: r, head: head}
	switch binary.LittleEndian.Uint16(head[0:2]) {
	case tiffMagicLE:
		tf.order = binary.LittleEndian
	case tiffMagicBE:
		tf.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("invalid TIFF magic 0x%04x: %w", binary.LittleEndian.Uint16(head[0:2]), errNotTIFF)
	}

	var first uint64
	switch version := tf.order.Uint16(head[2:4]); version {
	case tiffVersion:
		first = uint64(tf.order.Uint32(head[4:8]))
	case bigTIFFVersion:
		if len(head) < 16 {
			return nil, fmt.Errorf("bigtiff header too short: %w", errNotTIFF)
		}
		if size := tf.order.Uint16(head[4:6]); size != 8 {
			return nil, fmt.Errorf("unsupported bigtiff offset size %d", size)
		}
		tf.big = true
		first = tf.order.Uint64(head[8:16])
	default:
		return nil, fmt.Errorf("invalid TIFF version %d: %w", version, errNotTIFF)
	}

	seen := make(map[uint64]bool)
	for offset := first; offset != 0; {
		if seen[offset] || len(tf.ifds) >= maxIFDs {
			return nil, fmt.Errorf("IFD chain loops at offset %d", offset)
		}
		seen[offset] = true
		ifd, next, err := tf.readIFD(int64(offset))
		if err != nil {
			return nil, fmt.Errorf("failed to read IFD %d: %w", len(tf.ifds), err)
		}
		tf.ifds = append(tf.ifds, ifd)
		offset = next
	}
	if len(tf.ifds) == 0 {
		return nil, fmt.Errorf("no IFD: %w", errNotTIFF)
	}
	return tf, nil
}

// readAt returns n bytes at off, from the header buffer when possible.
func (tf *tiffFile) readAt(off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 {
		return nil, fmt.Errorf("invalid range %d+%d", off, n)
	}
	if off+int64(n) <= int64(len(tf.head)) {
		return tf.head[off : off+int64(n)], nil
	}
	buf := make([]byte, n)
	m, err := tf.r.ReadAt(buf, off)
	if m < n {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

func (tf *tiffFile) readIFD(offset int64) (*IFD, uint64, error) {
	countSize, entrySize, nextSize := 2, 12, 4
	if tf.big {
		countSize, entrySize, nextSize = 8, 20, 8
	}
	b, err := tf.readAt(offset, countSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read tag count: %w", err)
	}
	var count uint64
	if tf.big {
		count = tf.order.Uint64(b)
	} else {
		count = uint64(tf.order.Uint16(b))
	}
	if count > 4096 {
		return nil, 0, fmt.Errorf("implausible tag count %d", count)
	}

	// tag entries and the next IFD offset in one read
	buf, err := tf.readAt(offset+int64(countSize), int(count)*entrySize+nextSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read IFD structure: %w", err)
	}

	ifd := &IFD{Offset: offset, Tags: make(map[uint16]*Tag, count)}
	for i := 0; i < int(count); i++ {
		tag, err := tf.readTag(buf[i*entrySize : (i+1)*entrySize])
		if err != nil {
			return nil, 0, err
		}
		ifd.Tags[tag.ID] = tag
	}

	nb := buf[int(count)*entrySize:]
	var next uint64
	if tf.big {
		next = tf.order.Uint64(nb)
	} else {
		next = uint64(tf.order.Uint32(nb))
	}
	return ifd, next, nil
}

func (tf *tiffFile) readTag(entry []byte) (*Tag, error) {
	tag := &Tag{
		ID:    tf.order.Uint16(entry[0:2]),
		Type:  DataType(tf.order.Uint16(entry[2:4])),
		order: tf.order,
	}
	var field []byte
	if tf.big {
		tag.Count = tf.order.Uint64(entry[4:12])
		field = entry[12:20]
	} else {
		tag.Count = uint64(tf.order.Uint32(entry[4:8]))
		field = entry[8:12]
	}

	size := tag.Type.Size()
	if size == 0 {
		// unknown types are kept without value
		return tag, nil
	}
	total := uint64(size) * tag.Count
	if total > 1<<30 {
		return nil, fmt.Errorf("tag %d too large: %d bytes", tag.ID, total)
	}
	if total <= uint64(len(field)) {
		tag.raw = append([]byte(nil), field[:total]...)
		return tag, nil
	}

	var off uint64
	if tf.big {
		off = tf.order.Uint64(field)
	} else {
		off = uint64(tf.order.Uint32(field))
	}
	raw, err := tf.readAt(int64(off), int(total))
	if err != nil {
		return nil, fmt.Errorf("failed to read value of tag %d: %w", tag.ID, err)
	}
	tag.raw = raw
	return tag, nil
}
