package slope

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/osm"
	"google.golang.org/protobuf/encoding/protowire"
)

// A testPBFWriter writes OSM PBF extracts for tests.
type testPBFWriter struct {
	bytes.Buffer
}

func (w *testPBFWriter) writeBlob(t *testing.T, blobType string, data []byte, compression string) {
	t.Helper()
	var blob []byte
	switch compression {
	case "raw":
		blob = appendBytesField(blob, 1, data)
	case "zlib":
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		_, err := zw.Write(data)
		assert.NoError(t, err)
		assert.NoError(t, zw.Close())
		blob = appendVarintField(blob, 2, uint64(len(data)))
		blob = appendBytesField(blob, 3, buf.Bytes())
	case "zstd":
		zw, err := zstd.NewWriter(nil)
		assert.NoError(t, err)
		blob = appendVarintField(blob, 2, uint64(len(data)))
		blob = appendBytesField(blob, 7, zw.EncodeAll(data, nil))
		assert.NoError(t, zw.Close())
	default:
		t.Fatalf("%s: unknown compression", compression)
	}
	w.writeRawBlob(blobType, blob)
}

func (w *testPBFWriter) writeRawBlob(blobType string, blob []byte) {
	var header []byte
	header = appendBytesField(header, 1, []byte(blobType))
	header = appendVarintField(header, 3, uint64(len(blob)))
	_ = binary.Write(&w.Buffer, binary.BigEndian, uint32(len(header)))
	w.Write(header)
	w.Write(blob)
}

func encodeTestHeaderBlock(requiredFeatures ...string) []byte {
	var b []byte
	for _, feature := range requiredFeatures {
		b = appendBytesField(b, 4, []byte(feature))
	}
	b = appendBytesField(b, 16, []byte("go-slope-test"))
	return b
}

// A testPrimitiveBlock builds a PrimitiveBlock message.
type testPrimitiveBlock struct {
	strings     []string
	stringIndex map[string]uint32
	granularity int64
	groups      [][]byte
}

func newTestPrimitiveBlock() *testPrimitiveBlock {
	return &testPrimitiveBlock{
		strings:     []string{""},
		stringIndex: map[string]uint32{"": 0},
		granularity: 100,
	}
}

func (b *testPrimitiveBlock) string(s string) uint32 {
	if index, ok := b.stringIndex[s]; ok {
		return index
	}
	index := uint32(len(b.strings))
	b.strings = append(b.strings, s)
	b.stringIndex[s] = index
	return index
}

func (b *testPrimitiveBlock) coord(deg float64) int64 {
	return int64(math.Round(deg * 1e9 / float64(b.granularity)))
}

func (b *testPrimitiveBlock) addDenseNodes(nodes ...Node) {
	var ids, lats, lons []int64
	var keysVals []uint64
	var lastID, lastLat, lastLon int64
	for _, node := range nodes {
		id, lat, lon := int64(node.ID), b.coord(node.Point[1]), b.coord(node.Point[0])
		ids = append(ids, id-lastID)
		lats = append(lats, lat-lastLat)
		lons = append(lons, lon-lastLon)
		lastID, lastLat, lastLon = id, lat, lon
		keysVals = append(keysVals, uint64(b.string("created_by")), uint64(b.string("test")), 0)
	}
	var dense []byte
	dense = appendPackedSint64s(dense, 1, ids)
	dense = appendPackedSint64s(dense, 8, lats)
	dense = appendPackedSint64s(dense, 9, lons)
	dense = appendPackedVarints(dense, 10, keysVals)
	b.addGroup(appendBytesField(nil, 2, dense))
}

func (b *testPrimitiveBlock) addNodes(nodes ...Node) {
	var group []byte
	for _, node := range nodes {
		var n []byte
		n = appendVarintField(n, 1, protowire.EncodeZigZag(int64(node.ID)))
		n = appendVarintField(n, 8, protowire.EncodeZigZag(b.coord(node.Point[1])))
		n = appendVarintField(n, 9, protowire.EncodeZigZag(b.coord(node.Point[0])))
		group = appendBytesField(group, 1, n)
	}
	b.addGroup(group)
}

func (b *testPrimitiveBlock) addWays(ways ...*RawWay) {
	var group []byte
	for _, way := range ways {
		var w []byte
		w = appendVarintField(w, 1, uint64(way.ID))
		var keys, vals []uint64
		for _, tag := range way.Tags {
			keys = append(keys, uint64(b.string(tag.Key)))
			vals = append(vals, uint64(b.string(tag.Value)))
		}
		w = appendPackedVarints(w, 2, keys)
		w = appendPackedVarints(w, 3, vals)
		refs := make([]int64, len(way.NodeIDs))
		var last osm.NodeID
		for i, nodeID := range way.NodeIDs {
			refs[i] = int64(nodeID - last)
			last = nodeID
		}
		w = appendPackedSint64s(w, 8, refs)
		group = appendBytesField(group, 3, w)
	}
	b.addGroup(group)
}

func (b *testPrimitiveBlock) addRelation() {
	var r []byte
	r = appendVarintField(r, 1, 1)
	b.addGroup(appendBytesField(nil, 4, r))
}

func (b *testPrimitiveBlock) addGroup(group []byte) {
	b.groups = append(b.groups, group)
}

func (b *testPrimitiveBlock) encode() []byte {
	var stringTable []byte
	for _, s := range b.strings {
		stringTable = appendBytesField(stringTable, 1, []byte(s))
	}
	var pb []byte
	pb = appendBytesField(pb, 1, stringTable)
	for _, group := range b.groups {
		pb = appendBytesField(pb, 2, group)
	}
	if b.granularity != 100 {
		pb = appendVarintField(pb, 17, uint64(b.granularity))
	}
	return pb
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendPackedVarints(b []byte, num protowire.Number, vs []uint64) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, v)
	}
	return appendBytesField(b, num, packed)
}

func appendPackedSint64s(b []byte, num protowire.Number, vs []int64) []byte {
	varints := make([]uint64, len(vs))
	for i, v := range vs {
		varints[i] = protowire.EncodeZigZag(v)
	}
	return appendPackedVarints(b, num, varints)
}
