// Package projection transforms WGS84 longitude/latitude coordinates into the
// CRS of a raster.
package projection

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-proj/v10"
)

// A Projector transforms WGS84 coordinates into a target CRS. It is safe for
// concurrent use.
type Projector struct {
	target string
	pj     *proj.PJ
}

// New returns a new Projector from EPSG:4326 to the CRS identified by target,
// for example "EPSG:3035". Both input and output coordinates are in
// easting, northing order.
func New(target string) (*Projector, error) {
	pj, err := proj.NewCRSToCRS("EPSG:4326", target, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", target, err)
	}
	normalizedPJ, err := pj.NormalizeForVisualization()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", target, err)
	}
	return &Projector{
		target: target,
		pj:     normalizedPJ,
	}, nil
}

// NewEPSG returns a new Projector to EPSG:code.
func NewEPSG(code int) (*Projector, error) {
	return New(fmt.Sprintf("EPSG:%d", code))
}

// Forward transforms point, a longitude/latitude pair, into the target CRS.
func (p *Projector) Forward(point orb.Point) (orb.Point, error) {
	coord, err := p.pj.Forward(proj.NewCoord(point[0], point[1], 0, 0))
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{coord[0], coord[1]}, nil
}

func (p *Projector) String() string {
	return "EPSG:4326 -> " + p.target
}
