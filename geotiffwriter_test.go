package slope

import (
	"bytes"
	"compress/lzw"
	"encoding/binary"
	"math"
	"slices"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/klauspost/compress/zlib"
)

const (
	tiffTypeASCII  = 2
	tiffTypeShort  = 3
	tiffTypeLong   = 4
	tiffTypeDouble = 12
)

type testByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// A testGeoTIFF is a single band GeoTIFF for tests.
type testGeoTIFF struct {
	order           testByteOrder
	width           int
	height          int
	rowsPerStrip    int
	tileWidth       int
	tileLength      int
	samplesPerPixel int
	bitsPerSample   int
	sampleFormat    int
	compression     int
	predictor       int
	samples         []float64
	tiepoint        []float64
	scale           []float64
	transformation  []float64
	geoKeys         []uint16
	noData          string
	extraByteCount  int
	corruptChunks   bool
}

type testTIFFEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value []byte
}

func (g *testGeoTIFF) encode(t *testing.T) []byte {
	t.Helper()
	order := g.order
	if order == nil {
		order = binary.LittleEndian
	}
	bytesPerSample := g.bitsPerSample / 8
	tiled := g.tileWidth != 0

	chunkWidth, chunkLength := g.width, g.height
	switch {
	case tiled:
		chunkWidth, chunkLength = g.tileWidth, g.tileLength
	case g.rowsPerStrip != 0:
		chunkLength = g.rowsPerStrip
	}
	chunksAcross := (g.width + chunkWidth - 1) / chunkWidth
	chunksDown := (g.height + chunkLength - 1) / chunkLength

	var chunks [][]byte
	for chunkRow := range chunksDown {
		for chunkCol := range chunksAcross {
			rows := chunkLength
			if !tiled {
				rows = min(chunkLength, g.height-chunkRow*chunkLength)
			}
			sampleOrder := order
			if g.predictor == predictorFloatingPoint {
				sampleOrder = binary.BigEndian
			}
			raw := make([]byte, chunkWidth*rows*bytesPerSample)
			for r := range rows {
				for c := range chunkWidth {
					row, col := chunkRow*chunkLength+r, chunkCol*chunkWidth+c
					if row >= g.height || col >= g.width {
						continue
					}
					i := (r*chunkWidth + c) * bytesPerSample
					g.putSample(raw[i:i+bytesPerSample], sampleOrder, g.samples[row*g.width+col])
				}
			}
			rowBytes := chunkWidth * bytesPerSample
			for start := 0; start < len(raw); start += rowBytes {
				switch g.predictor {
				case predictorHorizontal:
					applyHorizontalDifferencing(raw[start:start+rowBytes], bytesPerSample, order)
				case predictorFloatingPoint:
					applyFloatingPointPredictor(raw[start:start+rowBytes], chunkWidth, bytesPerSample)
				}
			}
			chunk := g.compress(t, raw)
			if g.corruptChunks {
				for i := range chunk {
					chunk[i] ^= 0x5a
				}
			}
			chunks = append(chunks, chunk)
		}
	}

	offsets := make([]uint32, len(chunks))
	byteCounts := make([]uint32, len(chunks))
	for i, chunk := range chunks {
		byteCounts[i] = uint32(len(chunk))
	}
	byteCounts[len(byteCounts)-1] += uint32(g.extraByteCount)

	entries := []*testTIFFEntry{
		longEntry(order, 256, uint32(g.width)),
		longEntry(order, 257, uint32(g.height)),
		shortEntry(order, 258, uint16(g.bitsPerSample)),
		shortEntry(order, 259, uint16(max(g.compression, compressionNone))),
		shortEntry(order, 262, 1),
		shortEntry(order, 277, uint16(max(g.samplesPerPixel, 1))),
		shortEntry(order, 284, 1),
		shortEntry(order, 317, uint16(max(g.predictor, predictorNone))),
		shortEntry(order, 339, uint16(g.sampleFormat)),
	}
	var offsetsEntry *testTIFFEntry
	if tiled {
		offsetsEntry = longEntry(order, 324, offsets...)
		entries = append(entries,
			longEntry(order, 322, uint32(g.tileWidth)),
			longEntry(order, 323, uint32(g.tileLength)),
			offsetsEntry,
			longEntry(order, 325, byteCounts...),
		)
	} else {
		offsetsEntry = longEntry(order, 273, offsets...)
		entries = append(entries,
			offsetsEntry,
			longEntry(order, 278, uint32(chunkLength)),
			longEntry(order, 279, byteCounts...),
		)
	}
	if g.scale != nil {
		entries = append(entries, doubleEntry(order, 33550, g.scale...))
	}
	if g.tiepoint != nil {
		entries = append(entries, doubleEntry(order, 33922, g.tiepoint...))
	}
	if g.transformation != nil {
		entries = append(entries, doubleEntry(order, 34264, g.transformation...))
	}
	if g.geoKeys != nil {
		entries = append(entries, shortEntry(order, 34735, g.geoKeys...))
	}
	if g.noData != "" {
		entries = append(entries, asciiEntry(42113, g.noData))
	}
	slices.SortFunc(entries, func(a, b *testTIFFEntry) int {
		return int(a.tag) - int(b.tag)
	})

	// Lay out the out of line values and then the chunks after the IFD.
	pos := 8 + 2 + 12*len(entries) + 4
	valueOffsets := make([]int, len(entries))
	for i, entry := range entries {
		if len(entry.value) > 4 {
			valueOffsets[i] = pos
			pos += len(entry.value) + len(entry.value)%2
		}
	}
	for i, chunk := range chunks {
		order.PutUint32(offsetsEntry.value[4*i:], uint32(pos))
		pos += len(chunk)
	}

	var buf bytes.Buffer
	if order.String() == binary.BigEndian.String() {
		buf.WriteString("MM")
	} else {
		buf.WriteString("II")
	}
	buf.Write(order.AppendUint16(nil, 42))
	buf.Write(order.AppendUint32(nil, 8))
	buf.Write(order.AppendUint16(nil, uint16(len(entries))))
	for i, entry := range entries {
		buf.Write(order.AppendUint16(nil, entry.tag))
		buf.Write(order.AppendUint16(nil, entry.typ))
		buf.Write(order.AppendUint32(nil, entry.count))
		if len(entry.value) > 4 {
			buf.Write(order.AppendUint32(nil, uint32(valueOffsets[i])))
		} else {
			var value [4]byte
			copy(value[:], entry.value)
			buf.Write(value[:])
		}
	}
	buf.Write(order.AppendUint32(nil, 0))
	for _, entry := range entries {
		if len(entry.value) > 4 {
			buf.Write(entry.value)
			if len(entry.value)%2 != 0 {
				buf.WriteByte(0)
			}
		}
	}
	for _, chunk := range chunks {
		buf.Write(chunk)
	}
	return buf.Bytes()
}

func (g *testGeoTIFF) putSample(b []byte, order binary.ByteOrder, value float64) {
	switch g.sampleFormat<<8 | g.bitsPerSample {
	case sampleFormatUint<<8 | 8:
		b[0] = uint8(value)
	case sampleFormatInt<<8 | 8:
		b[0] = byte(int8(value))
	case sampleFormatUint<<8 | 16:
		order.PutUint16(b, uint16(value))
	case sampleFormatInt<<8 | 16:
		order.PutUint16(b, uint16(int16(value)))
	case sampleFormatUint<<8 | 32:
		order.PutUint32(b, uint32(value))
	case sampleFormatInt<<8 | 32:
		order.PutUint32(b, uint32(int32(value)))
	case sampleFormatFloat<<8 | 32:
		order.PutUint32(b, math.Float32bits(float32(value)))
	case sampleFormatFloat<<8 | 64:
		order.PutUint64(b, math.Float64bits(value))
	}
}

// compress compresses data. compress/lzw output is valid TIFF LZW while the
// code width stays at 9 bits, which holds for small chunks.
func (g *testGeoTIFF) compress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	switch g.compression {
	case compressionLZW:
		w := lzw.NewWriter(&buf, lzw.MSB, 8)
		_, err := w.Write(data)
		assert.NoError(t, err)
		assert.NoError(t, w.Close())
	case compressionDeflate, compressionAdobeDeflate:
		w := zlib.NewWriter(&buf)
		_, err := w.Write(data)
		assert.NoError(t, err)
		assert.NoError(t, w.Close())
	default:
		buf.Write(data)
	}
	return buf.Bytes()
}

func applyHorizontalDifferencing(row []byte, bytesPerSample int, order binary.ByteOrder) {
	for i := len(row) - bytesPerSample; i > 0; i -= bytesPerSample {
		switch bytesPerSample {
		case 1:
			row[i] -= row[i-1]
		case 2:
			order.PutUint16(row[i:], order.Uint16(row[i:])-order.Uint16(row[i-2:]))
		case 4:
			order.PutUint32(row[i:], order.Uint32(row[i:])-order.Uint32(row[i-4:]))
		}
	}
}

func applyFloatingPointPredictor(row []byte, rowWidth, bytesPerSample int) {
	shuffled := make([]byte, len(row))
	for i := range rowWidth {
		for b := range bytesPerSample {
			shuffled[b*rowWidth+i] = row[i*bytesPerSample+b]
		}
	}
	for i := len(shuffled) - 1; i > 0; i-- {
		shuffled[i] -= shuffled[i-1]
	}
	copy(row, shuffled)
}

func shortEntry(order testByteOrder, tag uint16, values ...uint16) *testTIFFEntry {
	var value []byte
	for _, v := range values {
		value = order.AppendUint16(value, v)
	}
	return &testTIFFEntry{tag: tag, typ: tiffTypeShort, count: uint32(len(values)), value: value}
}

func longEntry(order testByteOrder, tag uint16, values ...uint32) *testTIFFEntry {
	var value []byte
	for _, v := range values {
		value = order.AppendUint32(value, v)
	}
	return &testTIFFEntry{tag: tag, typ: tiffTypeLong, count: uint32(len(values)), value: value}
}

func doubleEntry(order testByteOrder, tag uint16, values ...float64) *testTIFFEntry {
	var value []byte
	for _, v := range values {
		value = order.AppendUint64(value, math.Float64bits(v))
	}
	return &testTIFFEntry{tag: tag, typ: tiffTypeDouble, count: uint32(len(values)), value: value}
}

func asciiEntry(tag uint16, s string) *testTIFFEntry {
	value := append([]byte(s), 0)
	return &testTIFFEntry{tag: tag, typ: tiffTypeASCII, count: uint32(len(value)), value: value}
}
