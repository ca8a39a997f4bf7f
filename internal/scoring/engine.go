package scoring

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine runs the scoring pipeline over one grid.
type Engine struct {
	// Workers bounds how many categories are scored concurrently. Values
	// below 2 score categories sequentially.
	Workers      int
	Materializer Materializer
}

// Run scores the grid, balances it per region and materializes it into sink.
func (e *Engine) Run(ctx context.Context, grid *Grid, params Params, source POISource, sink FeatureSink, progress ProgressReporter, token CancelToken) error {
	if err := e.Score(ctx, grid, params, source, progress, token); err != nil {
		return err
	}

	maxima := Balance(grid)
	zap.L().Info("scoring: balanced grid",
		zap.String("component", "scoring"),
		zap.Int("cells", grid.Len()),
		zap.Int("regions", len(maxima)),
	)

	return e.Materializer.Materialize(ctx, grid, sink, progress, token)
}

// Score accumulates every active category into the grid's raw scores.
// Calculate progress is reported after each category; the token is checked
// before each one.
func (e *Engine) Score(ctx context.Context, grid *Grid, params Params, source POISource, progress ProgressReporter, token CancelToken) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if grid == nil || grid.Len() == 0 {
		return eris.Wrap(ErrInvalidInput, "grid has no cells")
	}
	if progress == nil {
		progress = nopReporter{}
	}
	if token == nil {
		token = neverKilled{}
	}

	cats := params.Active()
	if len(cats) == 0 {
		if err := progress.ReportCalculate(ctx, 100); err != nil {
			return eris.Wrap(err, "scoring: report progress")
		}
		return nil
	}

	if e.Workers > 1 && len(cats) > 1 {
		return e.scoreParallel(ctx, grid, cats, params.PolygonRadius, source, progress, token)
	}

	log := zap.L().With(zap.String("component", "scoring"))
	for i, cat := range cats {
		if err := checkKilled(ctx, token); err != nil {
			return err
		}

		res, err := scoreOne(ctx, grid, cat, params.PolygonRadius, source)
		if err != nil {
			return err
		}
		grid.apply(res)

		pct := float64(i+1) / float64(len(cats)) * 100
		if err := progress.ReportCalculate(ctx, pct); err != nil {
			return eris.Wrap(err, "scoring: report progress")
		}
		log.Info("scoring: category done",
			zap.String("category", cat.Name),
			zap.Float64("max_primary", res.MaxPrimary),
			zap.Float64("progress", pct),
		)
	}
	return nil
}

// scoreParallel scores categories concurrently and merges them in input
// order. Progress counts completed categories under a lock, so observers
// still see it increase monotonically.
func (e *Engine) scoreParallel(ctx context.Context, grid *Grid, cats []Category, radius float64, source POISource, progress ProgressReporter, token CancelToken) error {
	log := zap.L().With(zap.String("component", "scoring"))

	results := make([]CategoryResult, len(cats))
	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Workers)
	for i, cat := range cats {
		g.Go(func() error {
			if err := checkKilled(gctx, token); err != nil {
				return err
			}
			res, err := scoreOne(gctx, grid, cat, radius, source)
			if err != nil {
				return err
			}
			results[i] = res

			mu.Lock()
			defer mu.Unlock()
			done++
			pct := float64(done) / float64(len(cats)) * 100
			if err := progress.ReportCalculate(gctx, pct); err != nil {
				return eris.Wrap(err, "scoring: report progress")
			}
			log.Info("scoring: category done",
				zap.String("category", cat.Name),
				zap.Float64("max_primary", res.MaxPrimary),
				zap.Float64("progress", pct),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, res := range results {
		grid.apply(res)
	}
	return nil
}

func scoreOne(ctx context.Context, grid *Grid, cat Category, radius float64, source POISource) (CategoryResult, error) {
	points, err := source.Points(ctx, cat.Name)
	if err != nil {
		return CategoryResult{}, eris.Wrapf(err, "scoring: load poi %q", cat.Name)
	}
	return ScoreCategory(grid, points, cat, radius), nil
}
