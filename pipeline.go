package slope

import (
	"cmp"
	"context"
	"io"
	"log/slog"
	"runtime"
	"slices"

	"github.com/sourcegraph/conc/pool"
)

// A Result is the output of Run.
type Result struct {
	Header      *Header
	Ways        []*WayResult
	Diagnostics *Diagnostics
}

type runConfig struct {
	filename      string
	filter        *Filter
	workers       int
	logger        *slog.Logger
	engineOptions []EngineOption
}

// A RunOption sets an option on Run.
type RunOption func(*runConfig)

// WithExtractFilename sets the extract filename reported in errors and logs.
func WithExtractFilename(filename string) RunOption {
	return func(c *runConfig) {
		c.filename = filename
	}
}

// WithFilter sets the way filter. The default matches all ways.
func WithFilter(filter *Filter) RunOption {
	return func(c *runConfig) {
		c.filter = filter
	}
}

// WithWorkers sets the number of ways processed concurrently.
func WithWorkers(workers int) RunOption {
	return func(c *runConfig) {
		c.workers = workers
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithEngineOptions sets the options of the Engine.
func WithEngineOptions(engineOptions ...EngineOption) RunOption {
	return func(c *runConfig) {
		c.engineOptions = append(c.engineOptions, engineOptions...)
	}
}

// Run reads the OSM PBF extract from extract, resolves the ways that match
// the filter, and computes their slopes by sampling sampler. The returned
// ways are sorted by id. Only extract decode errors and cancellation of ctx
// are fatal; other errors are collected in the Result's Diagnostics.
func Run(ctx context.Context, extract io.Reader, sampler Sampler, options ...RunOption) (*Result, error) {
	c := &runConfig{
		workers: runtime.GOMAXPROCS(0),
		logger:  slog.Default(),
	}
	for _, option := range options {
		option(c)
	}
	logger := c.logger.With(slog.String("extract", c.filename))

	engine, err := NewEngine(sampler, c.engineOptions...)
	if err != nil {
		return nil, err
	}

	diagnostics := &Diagnostics{}
	reader := NewExtractReader(extract, WithFilename(c.filename), WithWayFilter(c.filter))
	defer reader.Close()

	builder := NewNodeIndexBuilder(0)
	ways, err := readExtract(ctx, logger, reader, builder, diagnostics)
	if err != nil {
		return nil, err
	}

	// The index is read-only from here on and is shared by all workers.
	index, errs := builder.Freeze()
	diagnostics.Add(errs...)
	logger.Info("read extract",
		slog.Int("nodes", index.Len()),
		slog.Int("ways", len(ways)),
		slog.Int("duplicateNodes", diagnostics.Summary().DuplicateNodes),
	)

	resolver := NewResolver(index, c.filter)
	p := pool.NewWithResults[*WayResult]().WithMaxGoroutines(max(c.workers, 1)).WithContext(ctx)
	for _, way := range ways {
		p.Go(func(ctx context.Context) (*WayResult, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			resolvedWay, err := resolver.Resolve(way)
			switch {
			case err != nil:
				logger.Debug("dropped way", slog.Int64("way", int64(way.ID)), slog.Any("err", err))
				diagnostics.Add(err)
				return nil, nil
			case resolvedWay == nil:
				return nil, nil
			default:
				return engine.Compute(resolvedWay), nil
			}
		})
	}
	results, err := p.Wait()
	if err != nil {
		return nil, err
	}

	wayResults := slices.DeleteFunc(results, func(wayResult *WayResult) bool {
		return wayResult == nil
	})
	slices.SortFunc(wayResults, func(a, b *WayResult) int {
		return cmp.Compare(a.ID, b.ID)
	})

	summary := diagnostics.Summary()
	logger.Info("computed slopes",
		slog.Int("ways", len(wayResults)),
		slog.Int("unresolvedWays", summary.UnresolvedWays),
		slog.Int("degenerateGeometries", summary.DegenerateGeometries),
	)

	return &Result{
		Header:      reader.Header(),
		Ways:        wayResults,
		Diagnostics: diagnostics,
	}, nil
}

// readExtract reads every block from reader, inserting nodes into builder and
// returning the buffered ways.
func readExtract(ctx context.Context, logger *slog.Logger, reader *ExtractReader, builder *NodeIndexBuilder, diagnostics *Diagnostics) ([]*RawWay, error) {
	var ways []*RawWay
	wayBlockSeen := false
	warnedNodesAfterWays := false
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		block, err := reader.Next()
		switch {
		case err == io.EOF:
			return ways, nil
		case err != nil:
			return nil, err
		}

		if len(block.Nodes) > 0 && wayBlockSeen && !warnedNodesAfterWays {
			logger.Warn("node block after way block",
				slog.Int("block", block.Index),
				slog.Int64("offset", block.Offset),
			)
			warnedNodesAfterWays = true
		}
		for _, node := range block.Nodes {
			if err := builder.Insert(node.ID, node.Point); err != nil {
				diagnostics.Add(err)
			}
		}
		ways = append(ways, block.Ways...)
		if block.WayCount > 0 {
			wayBlockSeen = true
		}
	}
}
