package slope

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// An ExtractDecodeError is returned when a block of an extract cannot be
// decoded. It is fatal.
type ExtractDecodeError struct {
	Filename string
	Block    int
	Offset   int64
	Err      error
}

func (e *ExtractDecodeError) Error() string {
	if e.Filename != "" {
		return fmt.Sprintf("%s: block %d at offset %d: %v", e.Filename, e.Block, e.Offset, e.Err)
	}
	return fmt.Sprintf("block %d at offset %d: %v", e.Block, e.Offset, e.Err)
}

func (e *ExtractDecodeError) Unwrap() error {
	return e.Err
}

// A RasterLoadError is returned when an elevation raster cannot be loaded. It
// is fatal.
type RasterLoadError struct {
	Filename string
	Err      error
}

func (e *RasterLoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Filename, e.Err)
}

func (e *RasterLoadError) Unwrap() error {
	return e.Err
}

// An UnsupportedRasterError is returned for rasters that are valid but that
// cannot be sampled, for example rotated rasters.
type UnsupportedRasterError struct {
	Reason string
}

func (e *UnsupportedRasterError) Error() string {
	return "unsupported raster: " + e.Reason
}

// A FilterParseError is returned when a filter expression is malformed.
type FilterParseError struct {
	Expr   string
	Term   string
	Reason string
}

func (e *FilterParseError) Error() string {
	return fmt.Sprintf("filter %q: term %q: %s", e.Expr, e.Term, e.Reason)
}

// A DuplicateNodeIDError records a rejected duplicate node. The first
// coordinate is kept.
type DuplicateNodeIDError struct {
	NodeID   osm.NodeID
	Kept     orb.Point
	Rejected orb.Point
}

func (e *DuplicateNodeIDError) Error() string {
	return fmt.Sprintf("duplicate node %d: kept %v, rejected %v", e.NodeID, e.Kept, e.Rejected)
}

// An UnresolvedNodeError records a way that references a node that is not in
// the extract.
type UnresolvedNodeError struct {
	WayID  osm.WayID
	NodeID osm.NodeID
}

func (e *UnresolvedNodeError) Error() string {
	return fmt.Sprintf("way %d references missing node %d", e.WayID, e.NodeID)
}

// A DegenerateGeometryError records a way with fewer than two points.
type DegenerateGeometryError struct {
	WayID osm.WayID
	Count int
}

func (e *DegenerateGeometryError) Error() string {
	return fmt.Sprintf("way %d has %d points, need at least 2", e.WayID, e.Count)
}
