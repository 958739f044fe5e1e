package slope

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// An OptionalFloat64 is a float64 that may be absent.
type OptionalFloat64 struct {
	Value float64
	Valid bool
}

// None is the absent OptionalFloat64.
var None = OptionalFloat64{}

// Some returns a present OptionalFloat64 with value v.
func Some(v float64) OptionalFloat64 {
	return OptionalFloat64{Value: v, Valid: true}
}

// Get returns o's value and whether it is present.
func (o OptionalFloat64) Get() (float64, bool) {
	return o.Value, o.Valid
}

// MarshalJSON implements encoding/json.Marshaler. Absent values are encoded
// as null.
func (o OptionalFloat64) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// UnmarshalJSON implements encoding/json.Unmarshaler.
func (o *OptionalFloat64) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = None
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

func (o OptionalFloat64) String() string {
	if !o.Valid {
		return "absent"
	}
	return fmt.Sprint(o.Value)
}

// optionalFromSample converts a raster sample, where NaN means missing.
func optionalFromSample(sample float64) OptionalFloat64 {
	if math.IsNaN(sample) {
		return None
	}
	return Some(sample)
}

// A Sampler returns the elevation at a point.
type Sampler interface {
	Sample(p orb.Point) OptionalFloat64
}

// A SamplerFunc is a func that implements Sampler.
type SamplerFunc func(orb.Point) OptionalFloat64

// Sample implements Sampler.
func (f SamplerFunc) Sample(p orb.Point) OptionalFloat64 {
	return f(p)
}

// An Interpolation is a raster sampling policy.
type Interpolation int

const (
	// Nearest returns the value of the cell containing the point.
	Nearest Interpolation = iota
	// Bilinear interpolates between the four nearest cell centers.
	Bilinear
)

// ParseInterpolation parses s.
func ParseInterpolation(s string) (Interpolation, error) {
	switch s {
	case "", "nearest":
		return Nearest, nil
	case "bilinear":
		return Bilinear, nil
	default:
		return 0, fmt.Errorf("%s: unknown interpolation", s)
	}
}

func (i Interpolation) String() string {
	switch i {
	case Nearest:
		return "nearest"
	case Bilinear:
		return "bilinear"
	default:
		return fmt.Sprintf("Interpolation(%d)", int(i))
	}
}

// A Projector transforms longitude/latitude points into another CRS.
type Projector interface {
	Forward(p orb.Point) (orb.Point, error)
}

// A ProjectedSampler samples a Sampler whose points are in a projected CRS.
// Points that cannot be projected are absent.
type ProjectedSampler struct {
	Projector Projector
	Sampler   Sampler
}

// Sample implements Sampler.
func (s *ProjectedSampler) Sample(p orb.Point) OptionalFloat64 {
	q, err := s.Projector.Forward(p)
	if err != nil {
		return None
	}
	return s.Sampler.Sample(q)
}
