package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geosight/geosight/internal/geo"
	"github.com/geosight/geosight/internal/layers"
	"github.com/geosight/geosight/internal/poi"
	"github.com/geosight/geosight/internal/scoring"
)

var (
	scoreGrid       string
	scorePOIDir     string
	scoreCategories string
	scoreOnly       []string
	scoreRadius     float64
	scoreOut        string
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score the grid locally and write a GeoJSON file",
	Long:  "Runs one scoring job in process. POIs come from --poi-dir (<category>.geojson files) or the configured PostGIS database.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if scoreGrid != "" {
			cfg.Grid.Path = scoreGrid
		}
		if scoreCategories != "" {
			cfg.Scoring.CategoriesFile = scoreCategories
		}
		if err := cfg.Validate("score"); err != nil {
			return err
		}
		if cfg.Scoring.CategoriesFile == "" {
			return eris.New("a categories file is required (--categories or scoring.categories_file)")
		}

		params, err := scoreParams(ctx)
		if err != nil {
			return err
		}

		opts, err := gridOptions()
		if err != nil {
			return err
		}
		records, err := geo.LoadGrid(cfg.Grid.Path, opts)
		if err != nil {
			return err
		}
		grid, err := scoring.NewGrid(records)
		if err != nil {
			return err
		}

		var source scoring.POISource
		if scorePOIDir != "" {
			source = poi.DirSource{Dir: scorePOIDir}
		} else {
			src, pool, err := initPOISource(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			source = src
		}

		sink := layers.NewFileSink()
		if err := newEngine().Run(ctx, grid, params, source, sink, logReporter{}, nil); err != nil {
			return err
		}
		if err := sink.WriteFile(scoreOut); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d scored cells to %s\n", sink.Len(), scoreOut)
		return nil
	},
}

func scoreParams(ctx context.Context) (scoring.Params, error) {
	cats, err := poi.FileCatalog{Path: cfg.Scoring.CategoriesFile}.Categories(ctx)
	if err != nil {
		return scoring.Params{}, err
	}
	if len(scoreOnly) > 0 {
		if cats, err = poi.Select(cats, scoreOnly); err != nil {
			return scoring.Params{}, err
		}
	}
	return scoring.Params{Categories: cats, PolygonRadius: scoreRadius}, nil
}

// logReporter logs progress for local runs.
type logReporter struct{}

func (logReporter) ReportCalculate(_ context.Context, pct float64) error {
	zap.L().Info("calculate progress", zap.Float64("pct", pct))
	return nil
}

func (logReporter) ReportImport(_ context.Context, pct float64) error {
	zap.L().Info("import progress", zap.Float64("pct", pct))
	return nil
}

func init() {
	scoreCmd.Flags().StringVar(&scoreGrid, "grid", "", "grid file (default from config)")
	scoreCmd.Flags().StringVar(&scorePOIDir, "poi-dir", "", "directory of <category>.geojson files in EPSG:4326")
	scoreCmd.Flags().StringVar(&scoreCategories, "categories", "", "category preset YAML (default from config)")
	scoreCmd.Flags().StringSliceVar(&scoreOnly, "only", nil, "score only these categories")
	scoreCmd.Flags().Float64Var(&scoreRadius, "radius", 0, "polygon radius in meters")
	scoreCmd.Flags().StringVar(&scoreOut, "out", "scores.geojson", "output GeoJSON file")
	rootCmd.AddCommand(scoreCmd)
}
