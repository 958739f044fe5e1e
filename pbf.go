package slope

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"google.golang.org/protobuf/encoding/protowire"
)

// Limits from the OSM PBF format definition.
const (
	maxBlobHeaderSize = 64 << 10
	maxBlobSize       = 32 << 20
)

// Blob types.
const (
	BlobTypeOSMHeader = "OSMHeader"
	BlobTypeOSMData   = "OSMData"
)

var supportedRequiredFeatures = map[string]bool{
	"OsmSchema-V0.6": true,
	"DenseNodes":     true,
}

// A Node is a node id and its coordinate.
type Node struct {
	ID    osm.NodeID
	Point orb.Point
}

// A RawWay is a way whose nodes have not been resolved to coordinates.
type RawWay struct {
	ID      osm.WayID
	NodeIDs []osm.NodeID
	Tags    osm.Tags
}

// A Block is the decoded content of a single blob.
type Block struct {
	Index         int
	Offset        int64
	Type          string
	Nodes         []Node
	Ways          []*RawWay
	WayCount      int // including ways discarded by the way filter
	RelationCount int
}

// A Header is the content of an OSMHeader block.
type Header struct {
	RequiredFeatures []string
	OptionalFeatures []string
	WritingProgram   string
	Source           string
}

// An ExtractReader reads blocks from an OSM PBF extract in file order. It is
// not safe for concurrent use.
type ExtractReader struct {
	r           *bufio.Reader
	filename    string
	filter      *Filter
	offset      int64
	index       int
	header      *Header
	zstdDecoder *zstd.Decoder
	err         error
}

// An ExtractReaderOption sets an option on an ExtractReader.
type ExtractReaderOption func(*ExtractReader)

// WithFilename sets the filename reported in errors.
func WithFilename(filename string) ExtractReaderOption {
	return func(r *ExtractReader) {
		r.filename = filename
	}
}

// WithWayFilter discards ways that do not match filter while decoding, so
// that they are never buffered.
func WithWayFilter(filter *Filter) ExtractReaderOption {
	return func(r *ExtractReader) {
		r.filter = filter
	}
}

// NewExtractReader returns a new ExtractReader that reads from r.
func NewExtractReader(r io.Reader, options ...ExtractReaderOption) *ExtractReader {
	er := &ExtractReader{
		r: bufio.NewReaderSize(r, 1<<20),
	}
	for _, option := range options {
		option(er)
	}
	return er
}

// Header returns the extract's header, or nil if no header block has been
// read yet.
func (r *ExtractReader) Header() *Header {
	return r.header
}

// Close releases r's resources. It does not close the underlying reader.
func (r *ExtractReader) Close() error {
	if r.zstdDecoder != nil {
		r.zstdDecoder.Close()
		r.zstdDecoder = nil
	}
	return nil
}

// Next returns the next block. It returns io.EOF when there are no more
// blocks. Any other error is an *ExtractDecodeError and is sticky.
func (r *ExtractReader) Next() (*Block, error) {
	if r.err != nil {
		return nil, r.err
	}
	offset := r.offset
	block, err := r.next()
	switch {
	case err == io.EOF:
		r.err = io.EOF
		return nil, io.EOF
	case err != nil:
		r.err = &ExtractDecodeError{
			Filename: r.filename,
			Block:    r.index,
			Offset:   offset,
			Err:      err,
		}
		return nil, r.err
	default:
		block.Index = r.index
		block.Offset = offset
		r.index++
		blocksDecoded.WithLabelValues(block.Type).Inc()
		return block, nil
	}
}

func (r *ExtractReader) next() (*Block, error) {
	var sizeBytes [4]byte
	switch n, err := io.ReadFull(r.r, sizeBytes[:]); {
	case n == 0 && errors.Is(err, io.EOF):
		return nil, io.EOF
	case err != nil:
		return nil, fmt.Errorf("blob header size: %w", unexpectedEOF(err))
	}
	r.offset += 4

	headerSize := binary.BigEndian.Uint32(sizeBytes[:])
	if headerSize > maxBlobHeaderSize {
		return nil, fmt.Errorf("blob header size %d exceeds %d", headerSize, maxBlobHeaderSize)
	}
	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r.r, headerBytes); err != nil {
		return nil, fmt.Errorf("blob header: %w", unexpectedEOF(err))
	}
	r.offset += int64(headerSize)

	blobType, dataSize, err := decodeBlobHeader(headerBytes)
	if err != nil {
		return nil, fmt.Errorf("blob header: %w", err)
	}
	if dataSize < 0 || dataSize > maxBlobSize {
		return nil, fmt.Errorf("blob size %d out of range", dataSize)
	}
	blobBytes := make([]byte, dataSize)
	if _, err := io.ReadFull(r.r, blobBytes); err != nil {
		return nil, fmt.Errorf("blob: %w", unexpectedEOF(err))
	}
	r.offset += int64(dataSize)

	block := &Block{
		Type: blobType,
	}
	switch blobType {
	case BlobTypeOSMHeader:
		data, err := r.decompressBlob(blobBytes)
		if err != nil {
			return nil, err
		}
		header, err := decodeHeaderBlock(data)
		if err != nil {
			return nil, fmt.Errorf("header block: %w", err)
		}
		r.header = header
	case BlobTypeOSMData:
		data, err := r.decompressBlob(blobBytes)
		if err != nil {
			return nil, err
		}
		if err := decodePrimitiveBlock(data, block, r.filter); err != nil {
			return nil, fmt.Errorf("data block: %w", err)
		}
	}
	return block, nil
}

func decodeBlobHeader(b []byte) (string, int64, error) {
	var blobType string
	dataSize := int64(-1)
	if err := walkFields(b, func(f protoField) error {
		switch f.num {
		case 1:
			if f.typ != protowire.BytesType {
				return errWireType(f)
			}
			blobType = string(f.bytes)
		case 3:
			if f.typ != protowire.VarintType {
				return errWireType(f)
			}
			dataSize = int64(int32(f.varint))
		}
		return nil
	}); err != nil {
		return "", 0, err
	}
	if blobType == "" {
		return "", 0, errors.New("missing type")
	}
	if dataSize < 0 {
		return "", 0, errors.New("missing datasize")
	}
	return blobType, dataSize, nil
}

// decompressBlob returns the uncompressed payload of the Blob message in b.
func (r *ExtractReader) decompressBlob(b []byte) ([]byte, error) {
	var (
		raw         []byte
		rawSize     = -1
		zlibData    []byte
		zstdData    []byte
		compression string
	)
	if err := walkFields(b, func(f protoField) error {
		switch f.num {
		case 1:
			if f.typ != protowire.BytesType {
				return errWireType(f)
			}
			raw, compression = f.bytes, "raw"
		case 2:
			if f.typ != protowire.VarintType {
				return errWireType(f)
			}
			rawSize = int(int32(f.varint))
		case 3:
			if f.typ != protowire.BytesType {
				return errWireType(f)
			}
			zlibData, compression = f.bytes, "zlib"
		case 4:
			compression = "lzma"
		case 5:
			compression = "bzip2"
		case 6:
			compression = "lz4"
		case 7:
			if f.typ != protowire.BytesType {
				return errWireType(f)
			}
			zstdData, compression = f.bytes, "zstd"
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("blob: %w", err)
	}

	switch compression {
	case "raw":
		return raw, nil
	case "zlib":
		if rawSize < 0 || rawSize > maxBlobSize {
			return nil, fmt.Errorf("zlib blob: raw size %d out of range", rawSize)
		}
		zr, err := zlib.NewReader(bytes.NewReader(zlibData))
		if err != nil {
			return nil, fmt.Errorf("zlib blob: %w", err)
		}
		defer zr.Close()
		data := make([]byte, rawSize)
		if _, err := io.ReadFull(zr, data); err != nil {
			return nil, fmt.Errorf("zlib blob: %w", unexpectedEOF(err))
		}
		if n, _ := zr.Read(make([]byte, 1)); n != 0 {
			return nil, fmt.Errorf("zlib blob: more than %d bytes", rawSize)
		}
		return data, nil
	case "zstd":
		if rawSize < 0 || rawSize > maxBlobSize {
			return nil, fmt.Errorf("zstd blob: raw size %d out of range", rawSize)
		}
		if r.zstdDecoder == nil {
			var err error
			r.zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
			if err != nil {
				return nil, err
			}
		}
		data, err := r.zstdDecoder.DecodeAll(zstdData, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("zstd blob: %w", err)
		}
		if len(data) != rawSize {
			return nil, fmt.Errorf("zstd blob: got %d bytes, expected %d", len(data), rawSize)
		}
		return data, nil
	case "":
		return nil, errors.New("blob: no data")
	default:
		return nil, fmt.Errorf("blob: %s compression: %w", compression, errors.ErrUnsupported)
	}
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
