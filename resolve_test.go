package slope

import (
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

func newTestNodeIndex(t *testing.T, nodes ...Node) *NodeIndex {
	t.Helper()
	builder := NewNodeIndexBuilder(len(nodes))
	for _, node := range nodes {
		assert.NoError(t, builder.Insert(node.ID, node.Point))
	}
	index, errs := builder.Freeze()
	assert.Equal(t, 0, len(errs))
	return index
}

func TestResolver(t *testing.T) {
	index := newTestNodeIndex(t, testNodes...)
	filter, err := ParseFilter("highway=primary,highway=secondary,cycleway")
	assert.NoError(t, err)
	resolver := NewResolver(index, filter)

	for _, tc := range []struct {
		name        string
		way         *RawWay
		expected    *ResolvedWay
		expectedErr error
	}{
		{
			name: "resolved",
			way:  testWays[0],
			expected: &ResolvedWay{
				ID:       10,
				NodeIDs:  []osm.NodeID{1, 2, 3},
				Geometry: orb.LineString{testNodes[0].Point, testNodes[1].Point, testNodes[2].Point},
				Tags:     testWays[0].Tags,
			},
		},
		{
			name: "closed",
			way:  testWays[2],
			expected: &ResolvedWay{
				ID:       12,
				NodeIDs:  []osm.NodeID{5, 3, 5},
				Geometry: orb.LineString{testNodes[3].Point, testNodes[2].Point, testNodes[3].Point},
				Tags:     testWays[2].Tags,
			},
		},
		{
			name: "filtered",
			way:  testWays[1],
		},
		{
			name: "unresolved",
			way: &RawWay{
				ID:      20,
				NodeIDs: []osm.NodeID{1, 4, 3},
				Tags:    osm.Tags{{Key: "highway", Value: "secondary"}},
			},
			expectedErr: &UnresolvedNodeError{WayID: 20, NodeID: 4},
		},
		{
			name: "degenerate",
			way: &RawWay{
				ID:      21,
				NodeIDs: []osm.NodeID{1},
				Tags:    osm.Tags{{Key: "cycleway", Value: "track"}},
			},
			expectedErr: &DegenerateGeometryError{WayID: 21, Count: 1},
		},
		{
			name: "empty",
			way: &RawWay{
				ID:   22,
				Tags: osm.Tags{{Key: "cycleway", Value: "track"}},
			},
			expectedErr: &DegenerateGeometryError{WayID: 22, Count: 0},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := resolver.Resolve(tc.way)
			if tc.expectedErr != nil {
				assert.Equal(t, tc.expectedErr, err)
				assert.Zero(t, actual)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestResolverRoundTrip(t *testing.T) {
	index := newTestNodeIndex(t, testNodes...)
	resolver := NewResolver(index, nil)
	way := &RawWay{
		ID:      1,
		NodeIDs: []osm.NodeID{5, 1, 3, 2},
	}
	actual, err := resolver.Resolve(way)
	assert.NoError(t, err)
	assert.Equal(t, len(way.NodeIDs), len(actual.Geometry))
	for i, nodeID := range way.NodeIDs {
		p, ok := index.Lookup(nodeID)
		assert.True(t, ok)
		assert.Equal(t, p, actual.Geometry[i])
	}
}
