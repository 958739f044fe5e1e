package slope

import (
	"errors"
	"fmt"
)

var errParse = errors.New("parse error")

type GeoKey uint16

// GeoKeys used to classify a raster.
const (
	GeoKeyGTModelType  GeoKey = 1024
	GeoKeyGTRasterType GeoKey = 1025
	GeoKeyGeodeticCRS  GeoKey = 2048
	GeoKeyProjectedCRS GeoKey = 3072
)

const (
	geoTIFFDoubleParamsTag = 34736
	geoTIFFASCIIParamsTag  = 34737

	userDefined = 32767
)

// A ModelType is the value of GTModelTypeGeoKey.
type ModelType int

const (
	ModelTypeProjected  ModelType = 1
	ModelTypeGeographic ModelType = 2
	ModelTypeGeocentric ModelType = 3
)

// A RasterType is the value of GTRasterTypeGeoKey.
type RasterType int

const (
	RasterPixelIsArea  RasterType = 1
	RasterPixelIsPoint RasterType = 2
)

// A CRS is the coordinate reference system of a raster.
type CRS struct {
	ModelType ModelType
	EPSG      int
}

// WGS84 is the CRS of OSM coordinates.
var WGS84 = CRS{ModelType: ModelTypeGeographic, EPSG: 4326}

// Geographic returns whether c has longitude/latitude axes.
func (c CRS) Geographic() bool {
	return c.ModelType == ModelTypeGeographic
}

func (c CRS) String() string {
	return fmt.Sprintf("EPSG:%d", c.EPSG)
}

type ParsedGeoKeys struct {
	Params       map[GeoKey]int
	DoubleParams map[GeoKey]float64
	ASCIIParams  map[GeoKey]string
}

func ParseGeoKeys(directory []uint16, doubleParams []float64, asciiParams []byte) (*ParsedGeoKeys, error) {
	if len(directory) < 4 {
		return nil, errParse
	}

	if keyDirectoryVersion := int(directory[0]); keyDirectoryVersion != 1 {
		return nil, fmt.Errorf("key directory version %d: %w", keyDirectoryVersion, errParse)
	}
	if keyRevision := int(directory[1]); keyRevision != 1 {
		return nil, fmt.Errorf("key revision %d: %w", keyRevision, errParse)
	}
	if minorRevision := int(directory[2]); minorRevision != 0 && minorRevision != 1 {
		return nil, fmt.Errorf("minor revision %d: %w", minorRevision, errParse)
	}
	numberOfKeys := int(directory[3])
	if len(directory) != 4+4*numberOfKeys {
		return nil, fmt.Errorf("%d keys in %d values: %w", numberOfKeys, len(directory), errParse)
	}

	parsedGeoKeys := &ParsedGeoKeys{
		Params:       make(map[GeoKey]int),
		DoubleParams: make(map[GeoKey]float64),
		ASCIIParams:  make(map[GeoKey]string),
	}
	for i := range numberOfKeys {
		keyValues := directory[4+4*i : 4+4*(i+1)]
		key := GeoKey(keyValues[0])
		tiffTagLocation := int(keyValues[1])
		numberOfValues := int(keyValues[2])
		index := int(keyValues[3])
		switch tiffTagLocation {
		case 0:
			if numberOfValues != 1 {
				return nil, fmt.Errorf("key %d: %w", key, errParse)
			}
			parsedGeoKeys.Params[key] = index
		case geoTIFFDoubleParamsTag:
			if numberOfValues != 1 || index >= len(doubleParams) {
				return nil, fmt.Errorf("key %d: %w", key, errParse)
			}
			parsedGeoKeys.DoubleParams[key] = doubleParams[index]
		case geoTIFFASCIIParamsTag:
			if index+numberOfValues > len(asciiParams) {
				return nil, fmt.Errorf("key %d: %w", key, errParse)
			}
			parsedGeoKeys.ASCIIParams[key] = string(asciiParams[index : index+numberOfValues])
		default:
			return nil, fmt.Errorf("key %d: tag %d: %w", key, tiffTagLocation, errors.ErrUnsupported)
		}
	}
	return parsedGeoKeys, nil
}

// RasterType returns the raster type, defaulting to RasterPixelIsArea.
func (k *ParsedGeoKeys) RasterType() RasterType {
	if rasterType, ok := k.Params[GeoKeyGTRasterType]; ok {
		return RasterType(rasterType)
	}
	return RasterPixelIsArea
}

// CRS returns the horizontal CRS described by k. Projected CRSs must be
// identified by an EPSG code.
func (k *ParsedGeoKeys) CRS() (CRS, error) {
	modelType := ModelType(k.Params[GeoKeyGTModelType])
	if modelType == 0 {
		if _, ok := k.Params[GeoKeyProjectedCRS]; ok {
			modelType = ModelTypeProjected
		} else {
			modelType = ModelTypeGeographic
		}
	}
	switch modelType {
	case ModelTypeGeographic:
		epsg, ok := k.Params[GeoKeyGeodeticCRS]
		if !ok || epsg == userDefined {
			epsg = WGS84.EPSG
		}
		return CRS{ModelType: modelType, EPSG: epsg}, nil
	case ModelTypeProjected:
		switch epsg, ok := k.Params[GeoKeyProjectedCRS]; {
		case !ok:
			return CRS{}, &UnsupportedRasterError{Reason: "projected raster without ProjectedCRSGeoKey"}
		case epsg == userDefined:
			return CRS{}, &UnsupportedRasterError{Reason: "user-defined projected CRS"}
		default:
			return CRS{ModelType: modelType, EPSG: epsg}, nil
		}
	case ModelTypeGeocentric:
		return CRS{}, &UnsupportedRasterError{Reason: "geocentric model"}
	default:
		return CRS{}, &UnsupportedRasterError{Reason: fmt.Sprintf("model type %d", modelType)}
	}
}
