package slope

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// A ResolvedWay is a way whose nodes have been resolved to coordinates.
// Geometry[i] is the coordinate of NodeIDs[i].
type ResolvedWay struct {
	ID       osm.WayID
	NodeIDs  []osm.NodeID
	Geometry orb.LineString
	Tags     osm.Tags
}

// A NodeLookuper returns the coordinate of a node.
type NodeLookuper interface {
	Lookup(id osm.NodeID) (orb.Point, bool)
}

// A Resolver resolves RawWays against a frozen node index.
type Resolver struct {
	nodes  NodeLookuper
	filter *Filter
}

// NewResolver returns a new Resolver. A nil filter matches every way.
func NewResolver(nodes NodeLookuper, filter *Filter) *Resolver {
	return &Resolver{
		nodes:  nodes,
		filter: filter,
	}
}

// Resolve resolves way. It returns nil, nil if way does not match r's filter.
// Ways with unresolvable nodes return an *UnresolvedNodeError and ways with
// fewer than two points return a *DegenerateGeometryError.
func (r *Resolver) Resolve(way *RawWay) (*ResolvedWay, error) {
	if !r.filter.Match(way.Tags) {
		return nil, nil
	}
	geometry := make(orb.LineString, len(way.NodeIDs))
	for i, nodeID := range way.NodeIDs {
		p, ok := r.nodes.Lookup(nodeID)
		if !ok {
			waysDropped.WithLabelValues("unresolved").Inc()
			return nil, &UnresolvedNodeError{
				WayID:  way.ID,
				NodeID: nodeID,
			}
		}
		geometry[i] = p
	}
	if len(geometry) < 2 {
		waysDropped.WithLabelValues("degenerate").Inc()
		return nil, &DegenerateGeometryError{
			WayID: way.ID,
			Count: len(geometry),
		}
	}
	waysResolved.Inc()
	return &ResolvedWay{
		ID:       way.ID,
		NodeIDs:  way.NodeIDs,
		Geometry: geometry,
		Tags:     way.Tags,
	}, nil
}
