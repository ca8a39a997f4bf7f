package scoring

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/geosight/geosight/internal/geo"
)

// compression is the root applied to primary scores before rescaling.
const compression = 1.0 / 8

// CategoryResult holds one category's per-cell scores, indexed like the grid.
type CategoryResult struct {
	Category   Category
	Primary    []float64
	MaxPrimary float64
	Secondary  []float64
}

// ScoreCategory computes the contribution of one category to every cell.
// A point at distance d from a cell centroid contributes 1 when
// d <= radius, decaying linearly to 0 at maxDistance+radius. The per-cell sum
// is compressed by its eighth root and rescaled so the best cell scores
// exactly cat.MaxScore.
func ScoreCategory(grid *Grid, points []orb.Point, cat Category, radius float64) CategoryResult {
	n := grid.Len()
	res := CategoryResult{
		Category:  cat,
		Primary:   make([]float64, n),
		Secondary: make([]float64, n),
	}
	if len(points) == 0 {
		return res
	}

	idx := geo.NewPointIndex(points)
	reach := cat.MaxDistance + radius

	for i := range grid.Cells {
		c := grid.Cells[i].Centroid
		env := orb.Bound{
			Min: orb.Point{c[0] - reach, c[1] - reach},
			Max: orb.Point{c[0] + reach, c[1] + reach},
		}

		var primary float64
		for _, id := range idx.CandidatesIntersecting(env) {
			d := planar.Distance(points[id], c)
			if d > reach {
				continue
			}
			primary += geo.Interpolate(d, radius, reach, 1, 0)
		}
		res.Primary[i] = primary
		if primary > res.MaxPrimary {
			res.MaxPrimary = primary
		}
	}

	if res.MaxPrimary == 0 {
		return res
	}
	top := math.Pow(res.MaxPrimary, compression)
	for i, p := range res.Primary {
		res.Secondary[i] = geo.Interpolate(math.Pow(p, compression), 0, top, 0, cat.MaxScore)
	}
	return res
}

// apply adds a category result to the grid accumulators.
func (g *Grid) apply(res CategoryResult) {
	for i := range g.Cells {
		s := res.Secondary[i]
		g.Cells[i].PerCategory[res.Category.Name] = s
		g.Cells[i].RawScore += s
	}
}
