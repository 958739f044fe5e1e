package slope

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blocksDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slope_extract_blocks_decoded_total",
		Help: "The total number of extract blocks decoded, by blob type",
	}, []string{"type"})
	nodesIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slope_nodes_indexed_total",
		Help: "The total number of nodes inserted into the node index",
	})
	duplicateNodes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slope_duplicate_nodes_total",
		Help: "The total number of rejected duplicate nodes",
	})
	waysBuffered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slope_ways_buffered_total",
		Help: "The total number of ways that matched the filter and were buffered",
	})
	waysSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slope_ways_skipped_total",
		Help: "The total number of ways that did not match the filter",
	})
	relationsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slope_relations_skipped_total",
		Help: "The total number of relations skipped",
	})
	waysResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slope_ways_resolved_total",
		Help: "The total number of ways resolved to geometries",
	})
	waysDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slope_ways_dropped_total",
		Help: "The total number of ways dropped, by reason",
	}, []string{"reason"})
	elevationCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slope_elevation_cache_hits_total",
		Help: "The total number of hits on the node elevation cache",
	})
	elevationCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slope_elevation_cache_misses_total",
		Help: "The total number of misses on the node elevation cache",
	})
	absentSamples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slope_absent_samples_total",
		Help: "The total number of elevation samples that were absent",
	})
)
