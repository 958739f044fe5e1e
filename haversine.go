package slope

import (
	"math"

	"github.com/paulmach/orb"
)

// EarthRadius is the mean radius of the Earth in meters.
const EarthRadius = 6371008.8

// A DistanceFunc returns the horizontal distance between two longitude,
// latitude points in meters.
type DistanceFunc func(a, b orb.Point) float64

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b orb.Point) float64 {
	lat1 := a[1] * math.Pi / 180
	lat2 := b[1] * math.Pi / 180
	sinDLat := math.Sin((lat2 - lat1) / 2)
	sinDLon := math.Sin((b[0] - a[0]) * math.Pi / 180 / 2)
	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLon*sinDLon
	return 2 * EarthRadius * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
