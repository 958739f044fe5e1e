// Command osmslope computes the slope of the ways in an OSM PBF extract from
// a GeoTIFF elevation model.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	slope "github.com/twpayne/go-slope"
	"github.com/twpayne/go-slope/internal/config"
	"github.com/twpayne/go-slope/internal/output"
	"github.com/twpayne/go-slope/internal/projection"
)

func newRootCmd() *cobra.Command {
	v := config.New()
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "osmslope <extract.osm.pbf> <dem.tif> <output>",
		Short: "Compute way slopes from an OSM extract and a DEM",
		Long: `Compute the elevation profile and slope of every way in an OSM PBF extract
that matches a tag filter, sampling elevations from a GeoTIFF DEM.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			logger := cfg.NewLogger(cmd.ErrOrStderr())
			return run(cmd.Context(), logger, cfg, args[0], args[1], args[2])
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&configFile, "config", "", "config file")
	flags.String("filter", "", "comma-separated tag filter, for example highway,cycleway=lane")
	flags.String("format", "json", "output format (json or geojson)")
	flags.String("interpolation", "nearest", "interpolation (nearest or bilinear)")
	flags.Int("workers", 0, "number of ways processed concurrently, 0 for one per CPU")
	flags.Int("elevation-cache-size", 1<<20, "number of node elevations to cache, 0 to disable")
	flags.String("metrics-file", "", "write Prometheus metrics to file")
	flags.String("log-level", "info", "log level (debug, info, warn, or error)")
	flags.String("log-format", "text", "log format (text or json)")
	for key, flag := range map[string]string{
		"filter":               "filter",
		"format":               "format",
		"interpolation":        "interpolation",
		"workers":              "workers",
		"elevation-cache-size": "elevation-cache-size",
		"metrics-file":         "metrics-file",
		"log.level":            "log-level",
		"log.format":           "log-format",
	} {
		mustBindPFlag(v, key, rootCmd, flag)
	}

	return rootCmd
}

func mustBindPFlag(v *viper.Viper, key string, cmd *cobra.Command, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, extractName, demName, outputName string) error {
	start := time.Now()

	filter, err := slope.ParseFilter(cfg.Filter)
	if err != nil {
		return err
	}
	interpolation, err := slope.ParseInterpolation(cfg.Interpolation)
	if err != nil {
		return err
	}
	format, err := output.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}

	grid, err := slope.LoadGeoTIFF(os.DirFS(filepath.Dir(demName)), filepath.Base(demName),
		slope.WithInterpolation(interpolation),
	)
	if err != nil {
		return err
	}
	width, height := grid.Size()
	logger.Info("loaded raster",
		slog.String("dem", demName),
		slog.Int("width", width),
		slog.Int("height", height),
		slog.String("crs", grid.CRS().String()),
		slog.String("interpolation", interpolation.String()),
	)

	var sampler slope.Sampler = grid
	if grid.CRS() != slope.WGS84 {
		projector, err := projection.NewEPSG(grid.CRS().EPSG)
		if err != nil {
			return err
		}
		sampler = &slope.ProjectedSampler{
			Projector: projector,
			Sampler:   grid,
		}
	}

	extract, err := os.Open(extractName)
	if err != nil {
		return err
	}
	defer extract.Close()

	runOptions := []slope.RunOption{
		slope.WithExtractFilename(extractName),
		slope.WithFilter(filter),
		slope.WithLogger(logger),
		slope.WithEngineOptions(slope.WithElevationCacheSize(cfg.ElevationCacheSize)),
	}
	if cfg.Workers > 0 {
		runOptions = append(runOptions, slope.WithWorkers(cfg.Workers))
	}
	result, err := slope.Run(ctx, extract, sampler, runOptions...)
	if err != nil {
		return err
	}

	if err := output.WriteFile(outputName, format, result); err != nil {
		return err
	}

	if cfg.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(cfg.MetricsFile, prometheus.DefaultGatherer); err != nil {
			return err
		}
	}

	summary := result.Diagnostics.Summary()
	logger.Info("wrote output",
		slog.String("output", outputName),
		slog.String("format", string(format)),
		slog.Int("ways", len(result.Ways)),
		slog.Int("duplicateNodes", summary.DuplicateNodes),
		slog.Int("unresolvedWays", summary.UnresolvedWays),
		slog.Int("degenerateGeometries", summary.DegenerateGeometries),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
