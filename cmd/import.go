package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/geosight/geosight/internal/layers"
)

var (
	importLayerID int64
	importName    string
)

var importCmd = &cobra.Command{
	Use:   "import <file.geojson>",
	Short: "Import a GeoJSON FeatureCollection into a map layer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("import"); err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open input")
		}
		defer f.Close() //nolint:errcheck

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		layerID := importLayerID
		if layerID == 0 {
			if importName == "" {
				return eris.New("either --layer or --name is required")
			}
			layer, err := st.CreateLayer(ctx, importName)
			if err != nil {
				return err
			}
			layerID = layer.ID
		}

		notifier, closeNotifier, err := initNotifier(ctx)
		if err != nil {
			return err
		}
		defer closeNotifier()

		n, err := layers.Importer{Store: st, Notifier: notifier, BatchSize: cfg.Scoring.BatchSize}.Import(ctx, f, layerID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d feature(s) into layer %d\n", n, layerID)
		return nil
	},
}

func init() {
	importCmd.Flags().Int64Var(&importLayerID, "layer", 0, "existing layer id")
	importCmd.Flags().StringVar(&importName, "name", "", "create a new layer with this name")
	rootCmd.AddCommand(importCmd)
}
