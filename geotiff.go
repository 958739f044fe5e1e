package slope

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"github.com/klauspost/compress/zlib"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/image/tiff/lzw"
)

const (
	compressionNone         = 1
	compressionLZW          = 5
	compressionDeflate      = 8
	compressionAdobeDeflate = 32946

	predictorNone          = 1
	predictorHorizontal    = 2
	predictorFloatingPoint = 3

	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

var errShortRead = errors.New("short read")

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal an
// IFD.
type geoTIFFIFD struct {
	ImageWidth             uint32    `tiff:"field,tag=256"`
	ImageLength            uint32    `tiff:"field,tag=257"`
	BitsPerSample          uint16    `tiff:"field,tag=258"`
	Compression            uint16    `tiff:"field,tag=259"`
	StripOffsets           []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel        uint16    `tiff:"field,tag=277"`
	RowsPerStrip           uint32    `tiff:"field,tag=278"`
	StripByteCounts        []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration    uint16    `tiff:"field,tag=284"`
	Predictor              uint16    `tiff:"field,tag=317"`
	TileWidth              uint32    `tiff:"field,tag=322"`
	TileLength             uint32    `tiff:"field,tag=323"`
	TileOffsets            []uint64  `tiff:"field,tag=324"`
	TileByteCounts         []uint64  `tiff:"field,tag=325"`
	SampleFormat           uint16    `tiff:"field,tag=339"`
	ModelPixelScaleTag     []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag       []float64 `tiff:"field,tag=33922"`
	ModelTransformationTag []float64 `tiff:"field,tag=34264"`
	GeoKeyDirectoryTag     []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag     []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag      string    `tiff:"field,tag=34737"`
	GDALNoData             string    `tiff:"field,tag=42113"`
}

// A rasterLayout describes how the samples of a raster are stored.
type rasterLayout struct {
	order          binary.ByteOrder
	tiled          bool
	width          int
	height         int
	chunkWidth     int
	chunkLength    int
	chunksAcross   int
	offsets        []uint64
	byteCounts     []uint64
	bytesPerSample int
	compression    int
	predictor      int
	sampleFormat   int
	noData         OptionalFloat64
}

// LoadGeoTIFF loads the first image of the GeoTIFF file name in fsys into
// memory. Any error is returned as a *RasterLoadError.
func LoadGeoTIFF(fsys fs.FS, name string, options ...GridOption) (*Grid, error) {
	grid, err := loadGeoTIFF(fsys, name, options...)
	if err != nil {
		return nil, &RasterLoadError{
			Filename: name,
			Err:      err,
		}
	}
	return grid, nil
}

func loadGeoTIFF(fsys fs.FS, name string, options ...GridOption) (*Grid, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, err
	}

	var order binary.ByteOrder
	switch {
	case bytes.HasPrefix(data, []byte("II")):
		order = binary.LittleEndian
	case bytes.HasPrefix(data, []byte("MM")):
		order = binary.BigEndian
	default:
		return nil, errors.New("not a TIFF file")
	}

	tiffTIFF, err := tiff.Parse(bytes.NewReader(data), tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, err
	}
	if len(tiffTIFF.IFDs()) == 0 {
		return nil, errors.New("no IFDs")
	}

	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, err
	}

	layout, err := newRasterLayout(&ifd, order)
	if err != nil {
		return nil, err
	}

	geoTransform, crs, err := ifd.georeference()
	if err != nil {
		return nil, err
	}

	samples, err := layout.decode(data)
	if err != nil {
		return nil, err
	}

	options = append([]GridOption{
		WithCRS(crs),
		WithNoData(layout.noData),
	}, options...)
	return NewGrid(geoTransform, layout.width, layout.height, samples, options...)
}

func newRasterLayout(ifd *geoTIFFIFD, order binary.ByteOrder) (*rasterLayout, error) {
	l := &rasterLayout{
		order:        order,
		width:        int(ifd.ImageWidth),
		height:       int(ifd.ImageLength),
		compression:  int(cmp.Or(ifd.Compression, compressionNone)),
		predictor:    int(cmp.Or(ifd.Predictor, predictorNone)),
		sampleFormat: int(cmp.Or(ifd.SampleFormat, sampleFormatUint)),
	}
	if l.width == 0 || l.height == 0 {
		return nil, errors.New("empty image")
	}

	if samplesPerPixel := cmp.Or(ifd.SamplesPerPixel, 1); samplesPerPixel != 1 {
		return nil, &UnsupportedRasterError{Reason: fmt.Sprintf("%d samples per pixel", samplesPerPixel)}
	}
	if planarConfiguration := cmp.Or(ifd.PlanarConfiguration, 1); planarConfiguration != 1 {
		return nil, &UnsupportedRasterError{Reason: fmt.Sprintf("planar configuration %d", planarConfiguration)}
	}

	switch l.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionAdobeDeflate:
	default:
		return nil, &UnsupportedRasterError{Reason: fmt.Sprintf("compression %d", l.compression)}
	}

	switch bitsPerSample := int(ifd.BitsPerSample); {
	case l.sampleFormat == sampleFormatFloat && (bitsPerSample == 32 || bitsPerSample == 64):
		l.bytesPerSample = bitsPerSample / 8
	case (l.sampleFormat == sampleFormatUint || l.sampleFormat == sampleFormatInt) &&
		(bitsPerSample == 8 || bitsPerSample == 16 || bitsPerSample == 32):
		l.bytesPerSample = bitsPerSample / 8
	default:
		return nil, &UnsupportedRasterError{Reason: fmt.Sprintf("%d bit samples in format %d", bitsPerSample, l.sampleFormat)}
	}

	switch {
	case l.predictor == predictorNone:
	case l.predictor == predictorHorizontal && l.sampleFormat != sampleFormatFloat:
	case l.predictor == predictorFloatingPoint && l.sampleFormat == sampleFormatFloat:
	default:
		return nil, &UnsupportedRasterError{Reason: fmt.Sprintf("predictor %d with sample format %d", l.predictor, l.sampleFormat)}
	}

	if ifd.TileWidth != 0 {
		if ifd.TileLength == 0 {
			return nil, errors.New("missing tile length")
		}
		l.tiled = true
		l.chunkWidth = int(ifd.TileWidth)
		l.chunkLength = int(ifd.TileLength)
		l.offsets = ifd.TileOffsets
		l.byteCounts = ifd.TileByteCounts
	} else {
		l.chunkWidth = l.width
		l.chunkLength = l.height
		if ifd.RowsPerStrip != 0 && int(ifd.RowsPerStrip) < l.height {
			l.chunkLength = int(ifd.RowsPerStrip)
		}
		l.offsets = ifd.StripOffsets
		l.byteCounts = ifd.StripByteCounts
	}
	l.chunksAcross = (l.width + l.chunkWidth - 1) / l.chunkWidth
	chunksDown := (l.height + l.chunkLength - 1) / l.chunkLength
	chunks := l.chunksAcross * chunksDown
	if len(l.offsets) != chunks || len(l.byteCounts) != chunks {
		return nil, fmt.Errorf("found %d offsets and %d byte counts, expected %d", len(l.offsets), len(l.byteCounts), chunks)
	}

	if noData := strings.TrimSpace(strings.TrimRight(ifd.GDALNoData, "\x00")); noData != "" {
		value, err := strconv.ParseFloat(noData, 64)
		if err != nil {
			return nil, fmt.Errorf("GDAL_NODATA: %w", err)
		}
		if l.sampleFormat == sampleFormatFloat && l.bytesPerSample == 4 {
			value = float64(float32(value))
		}
		l.noData = Some(value)
	}

	return l, nil
}

// georeference returns the geotransform and CRS of ifd.
func (ifd *geoTIFFIFD) georeference() (GeoTransform, CRS, error) {
	crs := WGS84
	rasterType := RasterPixelIsArea
	if ifd.GeoKeyDirectoryTag != nil {
		geoKeys, err := ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag))
		if err != nil {
			return GeoTransform{}, CRS{}, err
		}
		if crs, err = geoKeys.CRS(); err != nil {
			return GeoTransform{}, CRS{}, err
		}
		rasterType = geoKeys.RasterType()
	}

	var geoTransform GeoTransform
	var err error
	switch {
	case ifd.ModelTransformationTag != nil:
		geoTransform, err = GeoTransformFromMatrix(ifd.ModelTransformationTag)
	case ifd.ModelTiepointTag != nil:
		geoTransform, err = GeoTransformFromTiepoint(ifd.ModelTiepointTag, ifd.ModelPixelScaleTag)
	default:
		err = errors.New("no georeferencing")
	}
	if err != nil {
		return GeoTransform{}, CRS{}, err
	}

	if rasterType == RasterPixelIsPoint {
		geoTransform = geoTransform.pixelIsPoint()
	}
	return geoTransform, crs, nil
}

// decode decodes every chunk of data concurrently and returns the image's
// samples in row-major order with no data samples replaced by NaN.
func (l *rasterLayout) decode(data []byte) ([]float64, error) {
	samples := make([]float64, l.width*l.height)
	p := pool.New().WithMaxGoroutines(runtime.GOMAXPROCS(0)).WithErrors()
	for chunkIndex := range l.offsets {
		p.Go(func() error {
			if err := l.decodeChunk(data, chunkIndex, samples); err != nil {
				return fmt.Errorf("chunk %d: %w", chunkIndex, err)
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return samples, nil
}

// decodeChunk decodes the chunk at chunkIndex into its region of samples.
func (l *rasterLayout) decodeChunk(data []byte, chunkIndex int, samples []float64) error {
	offset, byteCount := l.offsets[chunkIndex], l.byteCounts[chunkIndex]
	if offset > uint64(len(data)) || byteCount > uint64(len(data))-offset {
		return errShortRead
	}
	compressedData := data[offset : offset+byteCount]

	col0 := (chunkIndex % l.chunksAcross) * l.chunkWidth
	row0 := (chunkIndex / l.chunksAcross) * l.chunkLength
	chunkLength := l.chunkLength
	if !l.tiled {
		// The last strip may be short.
		chunkLength = min(chunkLength, l.height-row0)
	}

	chunkData, err := l.decompress(compressedData, l.chunkWidth*chunkLength*l.bytesPerSample)
	if err != nil {
		return err
	}

	order := l.order
	switch l.predictor {
	case predictorHorizontal:
		undoHorizontalDifferencing(chunkData, l.chunkWidth, l.bytesPerSample, order)
	case predictorFloatingPoint:
		undoFloatingPointPredictor(chunkData, l.chunkWidth, l.bytesPerSample)
		order = binary.BigEndian
	}

	decodeSample := l.sampleDecoder(order)
	noData, hasNoData := l.noData.Get()
	rows := min(chunkLength, l.height-row0)
	cols := min(l.chunkWidth, l.width-col0)
	for r := range rows {
		for c := range cols {
			i := (r*l.chunkWidth + c) * l.bytesPerSample
			value := decodeSample(chunkData[i : i+l.bytesPerSample])
			if hasNoData && value == noData {
				value = math.NaN()
			}
			samples[(row0+r)*l.width+col0+c] = value
		}
	}
	return nil
}

// decompress decompresses compressedData, which must decompress to exactly
// size bytes.
func (l *rasterLayout) decompress(compressedData []byte, size int) ([]byte, error) {
	var r io.ReadCloser
	switch l.compression {
	case compressionNone:
		if len(compressedData) < size {
			return nil, errShortRead
		}
		return bytes.Clone(compressedData[:size]), nil
	case compressionLZW:
		r = lzw.NewReader(bytes.NewReader(compressedData), lzw.MSB, 8)
	case compressionDeflate, compressionAdobeDeflate:
		zr, err := zlib.NewReader(bytes.NewReader(compressedData))
		if err != nil {
			return nil, err
		}
		r = zr
	}
	defer r.Close()
	chunkData := make([]byte, size)
	if _, err := io.ReadFull(r, chunkData); err != nil {
		return nil, err
	}
	return chunkData, nil
}

// sampleDecoder returns a function that decodes a single sample in order.
func (l *rasterLayout) sampleDecoder(order binary.ByteOrder) func([]byte) float64 {
	switch l.sampleFormat<<8 | l.bytesPerSample {
	case sampleFormatUint<<8 | 1:
		return func(b []byte) float64 { return float64(b[0]) }
	case sampleFormatInt<<8 | 1:
		return func(b []byte) float64 { return float64(int8(b[0])) }
	case sampleFormatUint<<8 | 2:
		return func(b []byte) float64 { return float64(order.Uint16(b)) }
	case sampleFormatInt<<8 | 2:
		return func(b []byte) float64 { return float64(int16(order.Uint16(b))) }
	case sampleFormatUint<<8 | 4:
		return func(b []byte) float64 { return float64(order.Uint32(b)) }
	case sampleFormatInt<<8 | 4:
		return func(b []byte) float64 { return float64(int32(order.Uint32(b))) }
	case sampleFormatFloat<<8 | 4:
		return func(b []byte) float64 { return float64(math.Float32frombits(order.Uint32(b))) }
	default:
		return func(b []byte) float64 { return math.Float64frombits(order.Uint64(b)) }
	}
}

// undoHorizontalDifferencing reverses TIFF predictor 2 on rows of rowWidth
// samples.
func undoHorizontalDifferencing(chunkData []byte, rowWidth, bytesPerSample int, order binary.ByteOrder) {
	rowBytes := rowWidth * bytesPerSample
	for start := 0; start+rowBytes <= len(chunkData); start += rowBytes {
		row := chunkData[start : start+rowBytes]
		for i := bytesPerSample; i < len(row); i += bytesPerSample {
			switch bytesPerSample {
			case 1:
				row[i] += row[i-1]
			case 2:
				order.PutUint16(row[i:], order.Uint16(row[i:])+order.Uint16(row[i-2:]))
			case 4:
				order.PutUint32(row[i:], order.Uint32(row[i:])+order.Uint32(row[i-4:]))
			}
		}
	}
}

// undoFloatingPointPredictor reverses TIFF predictor 3 on rows of rowWidth
// samples. The result is big endian.
func undoFloatingPointPredictor(chunkData []byte, rowWidth, bytesPerSample int) {
	rowBytes := rowWidth * bytesPerSample
	shuffled := make([]byte, rowBytes)
	for start := 0; start+rowBytes <= len(chunkData); start += rowBytes {
		row := chunkData[start : start+rowBytes]
		for i := 1; i < len(row); i++ {
			row[i] += row[i-1]
		}
		copy(shuffled, row)
		for i := range rowWidth {
			for b := range bytesPerSample {
				row[i*bytesPerSample+b] = shuffled[b*rowWidth+i]
			}
		}
	}
}
