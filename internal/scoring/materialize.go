package scoring

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geosight/geosight/internal/geo"
)

// DefaultBatchSize is the number of features per atomic flush.
const DefaultBatchSize = 5000

// Materializer converts balanced cells to geographic features and flushes
// them in batches.
type Materializer struct {
	BatchSize int
}

// Materialize writes one feature per cell, reprojected to EPSG:4326, with
// properties {"score": cell.Score}. Import progress is reported after every
// flush and the token is checked before every batch. Batches flushed before a
// failure or kill stay persisted.
func (m Materializer) Materialize(ctx context.Context, grid *Grid, sink FeatureSink, progress ProgressReporter, token CancelToken) error {
	if progress == nil {
		progress = nopReporter{}
	}
	if token == nil {
		token = neverKilled{}
	}
	size := m.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	log := zap.L().With(zap.String("component", "materializer"))
	total := grid.Len()
	if total == 0 {
		if err := progress.ReportImport(ctx, 100); err != nil {
			return eris.Wrap(err, "scoring: report import progress")
		}
		return nil
	}

	for start := 0; start < total; start += size {
		if err := checkKilled(ctx, token); err != nil {
			return err
		}

		end := min(start+size, total)
		batch := make([]ScoredFeature, 0, end-start)
		for i := start; i < end; i++ {
			g, err := geo.ToWGS84(grid.Cells[i].Geometry)
			if err != nil {
				return eris.Wrapf(err, "scoring: reproject cell %d", i)
			}
			batch = append(batch, ScoredFeature{
				CellID:     i,
				Geometry:   g,
				Properties: map[string]any{"score": grid.Cells[i].Score},
			})
		}

		if err := sink.InsertBatch(ctx, batch); err != nil {
			return eris.Wrapf(err, "scoring: insert features %d-%d", start, end)
		}

		pct := float64(end) / float64(total) * 100
		if err := progress.ReportImport(ctx, pct); err != nil {
			return eris.Wrap(err, "scoring: report import progress")
		}
		log.Info("materializer: batch flushed",
			zap.Int("from", start),
			zap.Int("to", end),
			zap.Int("total", total),
			zap.Float64("progress", pct),
		)
	}
	return nil
}
