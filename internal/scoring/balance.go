package scoring

import "github.com/geosight/geosight/internal/geo"

// Balance rescales raw scores to [0, 100] within each region so the best
// cell of a region scores 100. Regions whose best raw score is 0 score 0
// throughout. It returns the per-region maximum raw score.
func Balance(grid *Grid) map[string]float64 {
	maxima := make(map[string]float64)
	for _, c := range grid.Cells {
		if m, ok := maxima[c.Region]; !ok || c.RawScore > m {
			maxima[c.Region] = c.RawScore
		}
	}

	for i := range grid.Cells {
		c := &grid.Cells[i]
		m := maxima[c.Region]
		if m <= 0 {
			c.Score = 0
			continue
		}
		c.Score = geo.Interpolate(c.RawScore, 0, m, 0, 100)
	}
	return maxima
}
