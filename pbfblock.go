package slope

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"google.golang.org/protobuf/encoding/protowire"
)

var (
	errDeltaOverflow      = errors.New("delta overflow")
	errInvalidGranularity = errors.New("invalid granularity")
)

// A protoField is a single decoded protobuf field.
type protoField struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

// walkFields calls fn for each field in the protobuf message b.
func walkFields(b []byte, fn func(protoField) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		f := protoField{
			num: num,
			typ: typ,
		}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func errWireType(f protoField) error {
	return fmt.Errorf("field %d: unexpected wire type %d", f.num, f.typ)
}

// appendVarints appends the varints in f to dst. f may be packed or a single
// unpacked value.
func appendVarints(dst []uint64, f protoField) ([]uint64, error) {
	switch f.typ {
	case protowire.VarintType:
		return append(dst, f.varint), nil
	case protowire.BytesType:
		for b := f.bytes; len(b) > 0; {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("field %d: %w", f.num, protowire.ParseError(n))
			}
			dst = append(dst, v)
			b = b[n:]
		}
		return dst, nil
	default:
		return nil, errWireType(f)
	}
}

func appendSint64s(dst []int64, f protoField) ([]int64, error) {
	varints, err := appendVarints(nil, f)
	if err != nil {
		return nil, err
	}
	for _, v := range varints {
		dst = append(dst, protowire.DecodeZigZag(v))
	}
	return dst, nil
}

func appendUint32s(dst []uint32, f protoField) ([]uint32, error) {
	varints, err := appendVarints(nil, f)
	if err != nil {
		return nil, err
	}
	for _, v := range varints {
		if v > math.MaxUint32 {
			return nil, fmt.Errorf("field %d: value %d overflows uint32", f.num, v)
		}
		dst = append(dst, uint32(v))
	}
	return dst, nil
}

// addDelta returns acc+delta and whether the addition did not overflow.
func addDelta(acc, delta int64) (int64, bool) {
	sum := acc + delta
	if (delta > 0 && sum < acc) || (delta < 0 && sum > acc) {
		return 0, false
	}
	return sum, true
}

func decodeHeaderBlock(b []byte) (*Header, error) {
	header := &Header{}
	if err := walkFields(b, func(f protoField) error {
		if f.typ != protowire.BytesType {
			return nil
		}
		switch f.num {
		case 4:
			header.RequiredFeatures = append(header.RequiredFeatures, string(f.bytes))
		case 5:
			header.OptionalFeatures = append(header.OptionalFeatures, string(f.bytes))
		case 16:
			header.WritingProgram = string(f.bytes)
		case 17:
			header.Source = string(f.bytes)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	for _, feature := range header.RequiredFeatures {
		if !supportedRequiredFeatures[feature] {
			return nil, fmt.Errorf("required feature %q: %w", feature, errors.ErrUnsupported)
		}
	}
	return header, nil
}

// A primitiveBlock holds the block-level state needed to decode entities.
type primitiveBlock struct {
	strings     []string
	granularity int64
	latOffset   int64
	lonOffset   int64
	filter      *Filter
}

// point returns the coordinate of the encoded lat and lon.
func (pb *primitiveBlock) point(lat, lon int64) (orb.Point, error) {
	latDeg := (float64(pb.latOffset) + float64(pb.granularity)*float64(lat)) / 1e9
	lonDeg := (float64(pb.lonOffset) + float64(pb.granularity)*float64(lon)) / 1e9
	if latDeg < -90 || 90 < latDeg || lonDeg < -180 || 180 < lonDeg {
		return orb.Point{}, fmt.Errorf("coordinate lat=%f lon=%f out of range", latDeg, lonDeg)
	}
	return orb.Point{lonDeg, latDeg}, nil
}

func (pb *primitiveBlock) string(index uint32) (string, error) {
	if int(index) >= len(pb.strings) {
		return "", fmt.Errorf("string index %d out of range (%d strings)", index, len(pb.strings))
	}
	return pb.strings[index], nil
}

// tags decodes parallel key and value string indexes. Duplicate keys keep
// their first value.
func (pb *primitiveBlock) tags(keys, vals []uint32) (osm.Tags, error) {
	if len(keys) != len(vals) {
		return nil, fmt.Errorf("%d keys but %d values", len(keys), len(vals))
	}
	if len(keys) == 0 {
		return nil, nil
	}
	tags := make(osm.Tags, 0, len(keys))
	for i := range keys {
		key, err := pb.string(keys[i])
		if err != nil {
			return nil, err
		}
		value, err := pb.string(vals[i])
		if err != nil {
			return nil, err
		}
		if tags.HasTag(key) {
			continue
		}
		tags = append(tags, osm.Tag{Key: key, Value: value})
	}
	return tags, nil
}

// decodePrimitiveBlock decodes the PrimitiveBlock message in b into block.
// The string table and block parameters may follow the groups, so groups are
// decoded once the whole message has been scanned.
func decodePrimitiveBlock(b []byte, block *Block, filter *Filter) error {
	pb := &primitiveBlock{
		granularity: 100,
		filter:      filter,
	}
	var groups [][]byte
	if err := walkFields(b, func(f protoField) error {
		switch f.num {
		case 1:
			if f.typ != protowire.BytesType {
				return errWireType(f)
			}
			return walkFields(f.bytes, func(sf protoField) error {
				if sf.num == 1 && sf.typ == protowire.BytesType {
					pb.strings = append(pb.strings, string(sf.bytes))
				}
				return nil
			})
		case 2:
			if f.typ != protowire.BytesType {
				return errWireType(f)
			}
			groups = append(groups, f.bytes)
		case 17:
			if f.typ != protowire.VarintType {
				return errWireType(f)
			}
			pb.granularity = int64(int32(f.varint))
		case 19:
			if f.typ != protowire.VarintType {
				return errWireType(f)
			}
			pb.latOffset = int64(f.varint)
		case 20:
			if f.typ != protowire.VarintType {
				return errWireType(f)
			}
			pb.lonOffset = int64(f.varint)
		}
		return nil
	}); err != nil {
		return err
	}
	if pb.granularity <= 0 {
		return fmt.Errorf("%d: %w", pb.granularity, errInvalidGranularity)
	}

	for i, group := range groups {
		if err := pb.decodeGroup(group, block); err != nil {
			return fmt.Errorf("group %d: %w", i, err)
		}
	}
	return nil
}

func (pb *primitiveBlock) decodeGroup(b []byte, block *Block) error {
	return walkFields(b, func(f protoField) error {
		if f.typ != protowire.BytesType {
			return errWireType(f)
		}
		switch f.num {
		case 1:
			node, err := pb.decodeNode(f.bytes)
			if err != nil {
				return err
			}
			block.Nodes = append(block.Nodes, node)
		case 2:
			nodes, err := pb.decodeDenseNodes(f.bytes, block.Nodes)
			if err != nil {
				return err
			}
			block.Nodes = nodes
		case 3:
			way, err := pb.decodeWay(f.bytes)
			if err != nil {
				return err
			}
			block.WayCount++
			if way != nil {
				block.Ways = append(block.Ways, way)
			}
		case 4:
			block.RelationCount++
			relationsSkipped.Inc()
		}
		return nil
	})
}

func (pb *primitiveBlock) decodeNode(b []byte) (Node, error) {
	var (
		id, lat, lon int64
		keys, vals   []uint32
		err          error
	)
	if err := walkFields(b, func(f protoField) error {
		switch f.num {
		case 1:
			if f.typ != protowire.VarintType {
				return errWireType(f)
			}
			id = protowire.DecodeZigZag(f.varint)
		case 2:
			keys, err = appendUint32s(keys, f)
		case 3:
			vals, err = appendUint32s(vals, f)
		case 8:
			if f.typ != protowire.VarintType {
				return errWireType(f)
			}
			lat = protowire.DecodeZigZag(f.varint)
		case 9:
			if f.typ != protowire.VarintType {
				return errWireType(f)
			}
			lon = protowire.DecodeZigZag(f.varint)
		}
		return err
	}); err != nil {
		return Node{}, fmt.Errorf("node: %w", err)
	}
	if _, err := pb.tags(keys, vals); err != nil {
		return Node{}, fmt.Errorf("node %d: %w", id, err)
	}
	p, err := pb.point(lat, lon)
	if err != nil {
		return Node{}, fmt.Errorf("node %d: %w", id, err)
	}
	return Node{ID: osm.NodeID(id), Point: p}, nil
}

// decodeDenseNodes decodes the DenseNodes message in b and appends the nodes
// to nodes. Ids and coordinates are delta-encoded.
func (pb *primitiveBlock) decodeDenseNodes(b []byte, nodes []Node) ([]Node, error) {
	var (
		idDeltas, latDeltas, lonDeltas []int64
		keysVals                       []uint32
		err                            error
	)
	if err := walkFields(b, func(f protoField) error {
		switch f.num {
		case 1:
			idDeltas, err = appendSint64s(idDeltas, f)
		case 8:
			latDeltas, err = appendSint64s(latDeltas, f)
		case 9:
			lonDeltas, err = appendSint64s(lonDeltas, f)
		case 10:
			keysVals, err = appendUint32s(keysVals, f)
		}
		return err
	}); err != nil {
		return nil, fmt.Errorf("dense nodes: %w", err)
	}
	if len(latDeltas) != len(idDeltas) || len(lonDeltas) != len(idDeltas) {
		return nil, fmt.Errorf("dense nodes: %d ids, %d lats, %d lons", len(idDeltas), len(latDeltas), len(lonDeltas))
	}

	var id, lat, lon int64
	var ok bool
	keysValsIndex := 0
	for i := range idDeltas {
		if id, ok = addDelta(id, idDeltas[i]); !ok {
			return nil, fmt.Errorf("dense node %d id: %w", i, errDeltaOverflow)
		}
		if lat, ok = addDelta(lat, latDeltas[i]); !ok {
			return nil, fmt.Errorf("dense node %d lat: %w", id, errDeltaOverflow)
		}
		if lon, ok = addDelta(lon, lonDeltas[i]); !ok {
			return nil, fmt.Errorf("dense node %d lon: %w", id, errDeltaOverflow)
		}
		p, err := pb.point(lat, lon)
		if err != nil {
			return nil, fmt.Errorf("dense node %d: %w", id, err)
		}
		if len(keysVals) > 0 {
			if keysValsIndex, err = pb.skipDenseTags(keysVals, keysValsIndex); err != nil {
				return nil, fmt.Errorf("dense node %d: %w", id, err)
			}
		}
		nodes = append(nodes, Node{ID: osm.NodeID(id), Point: p})
	}
	if len(keysVals) > 0 && keysValsIndex != len(keysVals) {
		return nil, fmt.Errorf("dense nodes: %d trailing keys_vals", len(keysVals)-keysValsIndex)
	}
	return nodes, nil
}

// skipDenseTags validates one node's 0-terminated run of key/value string
// indexes in keysVals starting at i and returns the index after it.
func (pb *primitiveBlock) skipDenseTags(keysVals []uint32, i int) (int, error) {
	for {
		if i >= len(keysVals) {
			return 0, errors.New("unterminated keys_vals")
		}
		key := keysVals[i]
		i++
		if key == 0 {
			return i, nil
		}
		if i >= len(keysVals) {
			return 0, errors.New("keys_vals key without value")
		}
		if _, err := pb.string(key); err != nil {
			return 0, err
		}
		if _, err := pb.string(keysVals[i]); err != nil {
			return 0, err
		}
		i++
	}
}

// decodeWay decodes the Way message in b. It returns nil if the way does not
// match pb's filter.
func (pb *primitiveBlock) decodeWay(b []byte) (*RawWay, error) {
	var (
		id         int64
		keys, vals []uint32
		refField   []protoField
		err        error
	)
	if err := walkFields(b, func(f protoField) error {
		switch f.num {
		case 1:
			if f.typ != protowire.VarintType {
				return errWireType(f)
			}
			id = int64(f.varint)
		case 2:
			keys, err = appendUint32s(keys, f)
		case 3:
			vals, err = appendUint32s(vals, f)
		case 8:
			refField = append(refField, f)
		}
		return err
	}); err != nil {
		return nil, fmt.Errorf("way: %w", err)
	}
	tags, err := pb.tags(keys, vals)
	if err != nil {
		return nil, fmt.Errorf("way %d: %w", id, err)
	}
	if !pb.filter.Match(tags) {
		waysSkipped.Inc()
		return nil, nil
	}

	var refDeltas []int64
	for _, f := range refField {
		if refDeltas, err = appendSint64s(refDeltas, f); err != nil {
			return nil, fmt.Errorf("way %d: %w", id, err)
		}
	}
	nodeIDs := make([]osm.NodeID, len(refDeltas))
	var ref int64
	var ok bool
	for i, delta := range refDeltas {
		if ref, ok = addDelta(ref, delta); !ok {
			return nil, fmt.Errorf("way %d ref %d: %w", id, i, errDeltaOverflow)
		}
		nodeIDs[i] = osm.NodeID(ref)
	}
	waysBuffered.Inc()
	return &RawWay{
		ID:      osm.WayID(id),
		NodeIDs: nodeIDs,
		Tags:    tags,
	}, nil
}
