package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geosight/geosight/internal/config"
	"github.com/geosight/geosight/internal/model"
	"github.com/geosight/geosight/internal/scoring"
	"github.com/geosight/geosight/internal/store"
)

const gridFixture = `{"type":"FeatureCollection","features":[
	{"type":"Feature","properties":{"city_name":"moscow"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[100,0],[100,100],[0,100],[0,0]]]}},
	{"type":"Feature","properties":{"city_name":"moscow"},"geometry":{"type":"Polygon","coordinates":[[[200,0],[300,0],[300,100],[200,100],[200,0]]]}},
	{"type":"Feature","properties":{"city_name":"kazan"},"geometry":{"type":"Polygon","coordinates":[[[5000,0],[5100,0],[5100,100],[5000,100],[5000,0]]]}}
]}`

const categoriesFixture = `categories:
  - name: metro
    max_score: 10
    max_distance: 1000
  - name: parks
    max_score: 2
    max_distance: 300
    is_active: false
`

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(dir, "geosight.db")
	c.Grid.SourceCRS = "EPSG:3857"
	c.Grid.RegionField = "city_name"
	c.Scoring.MaxConcurrentJobs = 3
	c.Scoring.BatchSize = 2
	c.Scoring.CategoryWorkers = 1
	return c, dir
}

func runCommand(t *testing.T, cmd *cobra.Command, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())
	t.Cleanup(func() { cmd.SetOut(nil) })
	require.NoError(t, cmd.RunE(cmd, args))
	return out.String()
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScoreCommand_WritesGeoJSON(t *testing.T) {
	c, dir := testConfig(t)
	cfg = c

	gridPath := filepath.Join(dir, "grid.geojson")
	write(t, gridPath, gridFixture)
	catPath := filepath.Join(dir, "categories.yaml")
	write(t, catPath, categoriesFixture)
	poiDir := filepath.Join(dir, "poi")
	require.NoError(t, os.Mkdir(poiDir, 0o755))
	// One station at the origin; the grid is already in EPSG:3857 but the POI
	// files are lon/lat, and lon/lat 0,0 maps to mercator 0,0.
	write(t, filepath.Join(poiDir, "metro.geojson"), `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[0,0]}}
	]}`)

	outPath := filepath.Join(dir, "scores.geojson")
	scoreGrid, scorePOIDir, scoreCategories, scoreOut, scoreOnly, scoreRadius = gridPath, poiDir, catPath, outPath, nil, 0
	t.Cleanup(func() {
		scoreGrid, scorePOIDir, scoreCategories, scoreOut = "", "", "", "scores.geojson"
	})

	out := runCommand(t, scoreCmd)
	assert.Contains(t, out, "wrote 3 scored cells")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	require.Len(t, fc.Features, 3)

	assert.InDelta(t, 100, fc.Features[0].Properties["score"], 1e-9)
	s1 := fc.Features[1].Properties["score"].(float64)
	assert.Greater(t, s1, 0.0)
	assert.Less(t, s1, 100.0)
	// Kazan is out of reach of the only station, so its regional max is 0.
	assert.InDelta(t, 0, fc.Features[2].Properties["score"], 1e-9)
}

func TestScoreCommand_UnknownOnlyCategory(t *testing.T) {
	c, dir := testConfig(t)
	cfg = c
	catPath := filepath.Join(dir, "categories.yaml")
	write(t, catPath, categoriesFixture)
	cfg.Scoring.CategoriesFile = catPath
	scoreOnly = []string{"airports"}
	t.Cleanup(func() { scoreOnly = nil })

	_, err := scoreParams(context.Background())
	require.Error(t, err)
}

func TestMigrateReapImport(t *testing.T) {
	c, dir := testConfig(t)
	cfg = c
	ctx := context.Background()

	runCommand(t, migrateCmd)

	st, err := store.NewSQLite(cfg.Store.DatabaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	layer, err := st.CreateLayer(ctx, "stale")
	require.NoError(t, err)
	job := &model.ScoringJob{LayerID: layer.ID, Categories: []scoring.Category{}}
	require.NoError(t, st.CreateJob(ctx, job))

	reapOlderThan = time.Hour
	out := runCommand(t, reapCmd)
	assert.Contains(t, out, "reaped 0 job(s)")

	reapOlderThan = -time.Hour
	assert.Error(t, reapCmd.RunE(reapCmd, nil))
	reapOlderThan = 6 * time.Hour

	input := filepath.Join(dir, "layer.geojson")
	write(t, input, `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"h3":"8a11"},"geometry":{"type":"Point","coordinates":[37.6,55.7]}},
		{"type":"Feature","properties":{"h3":"8a12"},"geometry":{"type":"Point","coordinates":[37.7,55.7]}},
		{"type":"Feature","properties":{"h3":"8a13"},"geometry":{"type":"Point","coordinates":[37.8,55.7]}}
	]}`)
	importName = "imported"
	t.Cleanup(func() { importName = "" })
	out = runCommand(t, importCmd, input)
	assert.Contains(t, out, "imported 3 feature(s)")

	listed, err := st.ListJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestCategoriesCommand(t *testing.T) {
	c, dir := testConfig(t)
	cfg = c
	runCommand(t, migrateCmd)

	catPath := filepath.Join(dir, "categories.yaml")
	write(t, catPath, categoriesFixture)

	out := runCommand(t, categoriesSyncCmd, catPath)
	assert.Contains(t, out, "synced 2 categories")

	out = runCommand(t, categoriesCmd)
	assert.Contains(t, out, "metro")
	assert.Contains(t, out, "parks")
	assert.Contains(t, out, "false")

	cfg.Scoring.CategoriesFile = catPath
	out = runCommand(t, categoriesCmd)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "metro")
}
