package slope

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// A Segment is the part of a way between two consecutive nodes.
type Segment struct {
	Start          orb.Point       `json:"start"`
	End            orb.Point       `json:"end"`
	Distance       float64         `json:"distance"`
	ElevationDelta OptionalFloat64 `json:"elevationDelta"`
	Slope          OptionalFloat64 `json:"slope"`
}

// An Aggregate summarizes the slopes of a way's segments. The min, max, and
// mean are absent if no segment has a slope.
type Aggregate struct {
	MinSlope         OptionalFloat64 `json:"minSlope"`
	MaxSlope         OptionalFloat64 `json:"maxSlope"`
	MeanSlope        OptionalFloat64 `json:"meanSlope"`
	AbsentSlopeCount int             `json:"absentSlopeCount"`
}

// Totals are the cumulative distances and elevation changes along a way.
// Climb and Descent are both non-negative. Segments without an elevation
// delta contribute only to Distance.
type Totals struct {
	Distance        float64 `json:"distance"`
	Climb           float64 `json:"climb"`
	Descent         float64 `json:"descent"`
	ClimbDistance   float64 `json:"climbDistance"`
	DescentDistance float64 `json:"descentDistance"`
}

// A WayResult is the elevation profile and slope of a way.
type WayResult struct {
	ID         osm.WayID         `json:"id"`
	Tags       osm.Tags          `json:"tags"`
	Geometry   orb.LineString    `json:"geometry"`
	Elevations []OptionalFloat64 `json:"elevations"`
	Segments   []Segment         `json:"segments"`
	Aggregate  Aggregate         `json:"aggregate"`
	Totals     Totals            `json:"totals"`
}

// An Engine computes WayResults. It is safe for concurrent use.
type Engine struct {
	sampler            Sampler
	distanceFunc       DistanceFunc
	elevationCacheSize int
	elevationCache     *lru.Cache[osm.NodeID, OptionalFloat64]
}

// An EngineOption sets an option on an Engine.
type EngineOption func(*Engine)

// WithDistanceFunc sets the function used to compute segment distances.
func WithDistanceFunc(distanceFunc DistanceFunc) EngineOption {
	return func(e *Engine) {
		e.distanceFunc = distanceFunc
	}
}

// WithElevationCacheSize sets the number of node elevations to cache. Zero
// disables the cache.
func WithElevationCacheSize(elevationCacheSize int) EngineOption {
	return func(e *Engine) {
		e.elevationCacheSize = elevationCacheSize
	}
}

// NewEngine returns a new Engine that samples elevations from sampler.
func NewEngine(sampler Sampler, options ...EngineOption) (*Engine, error) {
	e := &Engine{
		sampler:            sampler,
		distanceFunc:       Haversine,
		elevationCacheSize: 1 << 20,
	}
	for _, option := range options {
		option(e)
	}
	if e.elevationCacheSize > 0 {
		var err error
		e.elevationCache, err = lru.New[osm.NodeID, OptionalFloat64](e.elevationCacheSize)
		if err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Compute returns the WayResult of way.
func (e *Engine) Compute(way *ResolvedWay) *WayResult {
	elevations := make([]OptionalFloat64, len(way.Geometry))
	for i, p := range way.Geometry {
		elevations[i] = e.elevation(way.NodeIDs[i], p)
	}

	var segments []Segment
	if len(way.Geometry) > 1 {
		segments = make([]Segment, len(way.Geometry)-1)
	}
	var aggregate Aggregate
	var totals Totals
	var slopeSum float64
	var slopeCount int
	for i := range segments {
		segment := Segment{
			Start:    way.Geometry[i],
			End:      way.Geometry[i+1],
			Distance: e.distanceFunc(way.Geometry[i], way.Geometry[i+1]),
		}
		start, startOK := elevations[i].Get()
		end, endOK := elevations[i+1].Get()
		if startOK && endOK {
			delta := end - start
			segment.ElevationDelta = Some(delta)
			if segment.Distance > 0 {
				segment.Slope = Some(delta / segment.Distance)
			}
			switch {
			case delta > 0:
				totals.Climb += delta
				totals.ClimbDistance += segment.Distance
			case delta < 0:
				totals.Descent -= delta
				totals.DescentDistance += segment.Distance
			}
		}
		totals.Distance += segment.Distance

		if slope, ok := segment.Slope.Get(); ok {
			if !aggregate.MinSlope.Valid || slope < aggregate.MinSlope.Value {
				aggregate.MinSlope = Some(slope)
			}
			if !aggregate.MaxSlope.Valid || slope > aggregate.MaxSlope.Value {
				aggregate.MaxSlope = Some(slope)
			}
			slopeSum += slope
			slopeCount++
		} else {
			aggregate.AbsentSlopeCount++
		}
		segments[i] = segment
	}
	if slopeCount > 0 {
		aggregate.MeanSlope = Some(slopeSum / float64(slopeCount))
	}

	return &WayResult{
		ID:         way.ID,
		Tags:       way.Tags,
		Geometry:   way.Geometry,
		Elevations: elevations,
		Segments:   segments,
		Aggregate:  aggregate,
		Totals:     totals,
	}
}

// elevation returns the elevation of the node nodeID at p.
func (e *Engine) elevation(nodeID osm.NodeID, p orb.Point) OptionalFloat64 {
	if e.elevationCache != nil {
		if elevation, ok := e.elevationCache.Get(nodeID); ok {
			elevationCacheHits.Inc()
			return elevation
		}
		elevationCacheMisses.Inc()
	}
	elevation := e.sampler.Sample(p)
	if !elevation.Valid {
		absentSamples.Inc()
	}
	if e.elevationCache != nil {
		e.elevationCache.Add(nodeID, elevation)
	}
	return elevation
}
