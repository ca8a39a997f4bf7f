// Package scoring computes per-cell location desirability over a fixed
// polygon grid from distance-decayed POI proximity, balances the result per
// region and materializes it as geographic features.
package scoring

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"

	"github.com/geosight/geosight/internal/geo"
)

// Category is a POI category with its weight ceiling and decay horizon.
type Category struct {
	Name        string  `json:"name" yaml:"name"`
	MaxScore    float64 `json:"max_score" yaml:"max_score"`
	MaxDistance float64 `json:"max_distance" yaml:"max_distance"`
	IsActive    bool    `json:"is_active" yaml:"is_active"`
}

// Params are the inputs of one scoring job.
type Params struct {
	Categories    []Category `json:"categories"`
	PolygonRadius float64    `json:"polygon_radius"`
}

// Active returns the active categories in input order.
func (p Params) Active() []Category {
	out := make([]Category, 0, len(p.Categories))
	for _, c := range p.Categories {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out
}

// Validate reports parameter errors wrapped in ErrInvalidInput.
func (p Params) Validate() error {
	if p.PolygonRadius < 0 || !isFinite(p.PolygonRadius) {
		return eris.Wrapf(ErrInvalidInput, "polygon radius must be a non-negative number, got %v", p.PolygonRadius)
	}

	seen := make(map[string]struct{}, len(p.Categories))
	for i, c := range p.Categories {
		if c.Name == "" {
			return eris.Wrapf(ErrInvalidInput, "category %d has no name", i)
		}
		if c.MaxDistance < 0 || !isFinite(c.MaxDistance) {
			return eris.Wrapf(ErrInvalidInput, "category %q: max distance must be non-negative, got %v", c.Name, c.MaxDistance)
		}
		if c.MaxScore < 0 || !isFinite(c.MaxScore) {
			return eris.Wrapf(ErrInvalidInput, "category %q: max score must be non-negative, got %v", c.Name, c.MaxScore)
		}
		if !c.IsActive {
			continue
		}
		if _, dup := seen[c.Name]; dup {
			return eris.Wrapf(ErrInvalidInput, "category %q listed twice", c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// GridCell is one polygon of the analysis grid with its score accumulators.
// The geometry is planar (EPSG:3857) and never modified.
type GridCell struct {
	Geometry    orb.Geometry
	Region      string
	Centroid    orb.Point
	RawScore    float64
	PerCategory map[string]float64
	Score       float64
}

// Grid owns the cells of one job. A cell's identity is its index in Cells.
type Grid struct {
	Cells []GridCell
}

// NewGrid builds a grid from loaded records, precomputing centroids.
func NewGrid(records []geo.Record) (*Grid, error) {
	if len(records) == 0 {
		return nil, eris.Wrap(ErrInvalidInput, "grid has no cells")
	}

	cells := make([]GridCell, len(records))
	for i, r := range records {
		switch r.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			return nil, eris.Wrapf(ErrInvalidInput, "grid cell %d is %T, want polygon", i, r.Geometry)
		}

		centroid, _ := planar.CentroidArea(r.Geometry)
		if !isFinite(centroid[0]) || !isFinite(centroid[1]) {
			return nil, eris.Wrapf(ErrInvalidInput, "grid cell %d has no finite centroid", i)
		}
		cells[i] = GridCell{
			Geometry:    r.Geometry,
			Region:      r.Region,
			Centroid:    centroid,
			PerCategory: make(map[string]float64),
		}
	}
	return &Grid{Cells: cells}, nil
}

// Len returns the number of cells.
func (g *Grid) Len() int {
	return len(g.Cells)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
