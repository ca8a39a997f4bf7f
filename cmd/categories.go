package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/geosight/geosight/internal/poi"
	"github.com/geosight/geosight/internal/scoring"
)

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List the POI category catalogue",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("categories"); err != nil {
			return err
		}

		cats, err := listCatalog(cmd.Context())
		if err != nil {
			return err
		}
		return printCategories(cmd.OutOrStdout(), cats)
	},
}

var categoriesSyncCmd = &cobra.Command{
	Use:   "sync <categories.yaml>",
	Short: "Upsert a category preset file into the poi_configs table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		cats, err := scoring.LoadCategories(args[0])
		if err != nil {
			return err
		}
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		for _, c := range cats {
			if err := st.UpsertPOIConfig(cmd.Context(), c); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "synced %d categories\n", len(cats))
		return nil
	},
}

func listCatalog(ctx context.Context) ([]scoring.Category, error) {
	if cfg.Scoring.CategoriesFile != "" {
		return poi.FileCatalog{Path: cfg.Scoring.CategoriesFile}.Categories(ctx)
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	defer st.Close() //nolint:errcheck
	return poi.StoreCatalog{Store: st}.Categories(ctx)
}

func printCategories(w io.Writer, cats []scoring.Category) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMAX SCORE\tMAX DISTANCE (m)\tACTIVE")
	for _, c := range cats {
		fmt.Fprintf(tw, "%s\t%g\t%g\t%t\n", c.Name, c.MaxScore, c.MaxDistance, c.IsActive)
	}
	return tw.Flush()
}

func init() {
	categoriesCmd.AddCommand(categoriesSyncCmd)
	rootCmd.AddCommand(categoriesCmd)
}
