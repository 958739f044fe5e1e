package slope

import (
	"errors"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// Coordinates are stored with the native OSM resolution of 1e-7 degrees.
const coordScale = 1e7

var errIndexFrozen = errors.New("node index is frozen")

// A NodeIndexBuilder builds a NodeIndex. It is not safe for concurrent use.
type NodeIndexBuilder struct {
	ids    []osm.NodeID
	lats   []int32
	lons   []int32
	sorted bool
	frozen bool
}

// A NodeIndex maps node ids to coordinates. It is immutable and safe for
// concurrent use.
type NodeIndex struct {
	ids  []osm.NodeID
	lats []int32
	lons []int32
}

// NewNodeIndexBuilder returns a new NodeIndexBuilder with capacity for
// sizeHint nodes.
func NewNodeIndexBuilder(sizeHint int) *NodeIndexBuilder {
	return &NodeIndexBuilder{
		ids:    make([]osm.NodeID, 0, sizeHint),
		lats:   make([]int32, 0, sizeHint),
		lons:   make([]int32, 0, sizeHint),
		sorted: true,
	}
}

// Insert inserts a node. If the duplicate can be detected immediately, Insert
// returns a *DuplicateNodeIDError and the first coordinate is kept.
// Duplicates that arrive out of order are reported by Freeze.
func (b *NodeIndexBuilder) Insert(id osm.NodeID, p orb.Point) error {
	if b.frozen {
		return errIndexFrozen
	}
	lat, lon := toFixed(p[1]), toFixed(p[0])
	if n := len(b.ids); n > 0 && b.sorted {
		switch last := b.ids[n-1]; {
		case id == last:
			duplicateNodes.Inc()
			return &DuplicateNodeIDError{
				NodeID:   id,
				Kept:     fromFixed(b.lats[n-1], b.lons[n-1]),
				Rejected: fromFixed(lat, lon),
			}
		case id < last:
			b.sorted = false
		}
	}
	b.ids = append(b.ids, id)
	b.lats = append(b.lats, lat)
	b.lons = append(b.lons, lon)
	nodesIndexed.Inc()
	return nil
}

// Len returns the number of nodes inserted so far.
func (b *NodeIndexBuilder) Len() int {
	return len(b.ids)
}

// Freeze sorts the inserted nodes and returns the read-only NodeIndex, and any
// duplicates that were not detected by Insert. b cannot be used after Freeze.
func (b *NodeIndexBuilder) Freeze() (*NodeIndex, []error) {
	b.frozen = true
	var errs []error
	if !b.sorted {
		sort.Stable(byNodeID{b})
		n := 0
		for i := range b.ids {
			if n > 0 && b.ids[i] == b.ids[n-1] {
				duplicateNodes.Inc()
				errs = append(errs, &DuplicateNodeIDError{
					NodeID:   b.ids[i],
					Kept:     fromFixed(b.lats[n-1], b.lons[n-1]),
					Rejected: fromFixed(b.lats[i], b.lons[i]),
				})
				continue
			}
			b.ids[n], b.lats[n], b.lons[n] = b.ids[i], b.lats[i], b.lons[i]
			n++
		}
		b.ids, b.lats, b.lons = b.ids[:n], b.lats[:n], b.lons[:n]
	}
	index := &NodeIndex{
		ids:  b.ids,
		lats: b.lats,
		lons: b.lons,
	}
	b.ids, b.lats, b.lons = nil, nil, nil
	return index, errs
}

// Lookup returns the coordinate of node id.
func (x *NodeIndex) Lookup(id osm.NodeID) (orb.Point, bool) {
	i := sort.Search(len(x.ids), func(i int) bool {
		return x.ids[i] >= id
	})
	if i == len(x.ids) || x.ids[i] != id {
		return orb.Point{}, false
	}
	return fromFixed(x.lats[i], x.lons[i]), true
}

// Len returns the number of nodes in x.
func (x *NodeIndex) Len() int {
	return len(x.ids)
}

// byNodeID sorts the builder's parallel slices by id.
type byNodeID struct {
	b *NodeIndexBuilder
}

func (s byNodeID) Len() int           { return len(s.b.ids) }
func (s byNodeID) Less(i, j int) bool { return s.b.ids[i] < s.b.ids[j] }
func (s byNodeID) Swap(i, j int) {
	s.b.ids[i], s.b.ids[j] = s.b.ids[j], s.b.ids[i]
	s.b.lats[i], s.b.lats[j] = s.b.lats[j], s.b.lats[i]
	s.b.lons[i], s.b.lons[j] = s.b.lons[j], s.b.lons[i]
}

func toFixed(deg float64) int32 {
	return int32(math.Round(deg * coordScale))
}

func fromFixed(lat, lon int32) orb.Point {
	return orb.Point{float64(lon) / coordScale, float64(lat) / coordScale}
}
