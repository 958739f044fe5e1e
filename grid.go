package slope

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// A Grid is an in-memory, single band elevation raster.
type Grid struct {
	geoTransform  GeoTransform
	width         int
	height        int
	samples       []float64
	noData        OptionalFloat64
	crs           CRS
	interpolation Interpolation
}

// A GridOption sets an option on a Grid.
type GridOption func(*Grid)

// WithCRS sets the CRS of the grid's model coordinates.
func WithCRS(crs CRS) GridOption {
	return func(g *Grid) {
		g.crs = crs
	}
}

// WithInterpolation sets the interpolation used by Sample.
func WithInterpolation(interpolation Interpolation) GridOption {
	return func(g *Grid) {
		g.interpolation = interpolation
	}
}

// WithNoData sets the no data value. Samples equal to it are absent.
func WithNoData(noData OptionalFloat64) GridOption {
	return func(g *Grid) {
		g.noData = noData
	}
}

// NewGrid returns a new Grid of width by height samples in row-major order.
// NaN samples are absent.
func NewGrid(geoTransform GeoTransform, width, height int, samples []float64, options ...GridOption) (*Grid, error) {
	if err := geoTransform.validate(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 || len(samples) != width*height {
		return nil, fmt.Errorf("%d samples for %dx%d grid", len(samples), width, height)
	}
	g := &Grid{
		geoTransform: geoTransform,
		width:        width,
		height:       height,
		samples:      samples,
		crs:          WGS84,
	}
	for _, option := range options {
		option(g)
	}
	if noData, ok := g.noData.Get(); ok {
		for i, sample := range g.samples {
			if sample == noData {
				g.samples[i] = math.NaN()
			}
		}
	}
	return g, nil
}

func (g *Grid) CRS() CRS                     { return g.crs }
func (g *Grid) GeoTransform() GeoTransform   { return g.geoTransform }
func (g *Grid) Interpolation() Interpolation { return g.interpolation }
func (g *Grid) NoData() OptionalFloat64      { return g.noData }
func (g *Grid) Size() (int, int)             { return g.width, g.height }

// Bounds returns the extent of g in model coordinates.
func (g *Grid) Bounds() orb.Bound {
	x0, y0 := g.geoTransform.Apply(0, 0)
	x1, y1 := g.geoTransform.Apply(float64(g.width), float64(g.height))
	return orb.MultiPoint{{x0, y0}, {x1, y1}}.Bound()
}

// Pixel returns the sample at col, row.
func (g *Grid) Pixel(col, row int) OptionalFloat64 {
	if col < 0 || g.width <= col || row < 0 || g.height <= row {
		return None
	}
	return optionalFromSample(g.samples[row*g.width+col])
}

// Sample returns the elevation at p, which is in g's CRS. Points outside g
// and points on no data samples are absent.
func (g *Grid) Sample(p orb.Point) OptionalFloat64 {
	col, row := g.geoTransform.Invert(p[0], p[1])
	if !(0 <= col && col < float64(g.width) && 0 <= row && row < float64(g.height)) {
		return None
	}
	switch g.interpolation {
	case Bilinear:
		return g.sampleBilinear(col, row)
	default:
		return g.Pixel(int(col), int(row))
	}
}

// sampleBilinear interpolates between the centers of the four pixels nearest
// to col, row. Pixels beyond the edge are clamped to the edge. The result is
// absent if any of the four pixels has no data.
func (g *Grid) sampleBilinear(col, row float64) OptionalFloat64 {
	x, y := col-0.5, row-0.5
	x0, y0 := math.Floor(x), math.Floor(y)
	dx, dy := x-x0, y-y0
	c0 := min(max(int(x0), 0), g.width-1)
	c1 := min(max(int(x0)+1, 0), g.width-1)
	r0 := min(max(int(y0), 0), g.height-1)
	r1 := min(max(int(y0)+1, 0), g.height-1)
	s00 := g.samples[r0*g.width+c0]
	s10 := g.samples[r0*g.width+c1]
	s01 := g.samples[r1*g.width+c0]
	s11 := g.samples[r1*g.width+c1]
	// NaN samples propagate regardless of their weight.
	return optionalFromSample(0 +
		s00*(1-dx)*(1-dy) +
		s10*dx*(1-dy) +
		s01*(1-dx)*dy +
		s11*dx*dy)
}
