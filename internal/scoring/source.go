package scoring

import (
	"context"
	"sync/atomic"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
)

// POISource loads the points of one category, projected to the grid CRS.
type POISource interface {
	Points(ctx context.Context, category string) ([]orb.Point, error)
}

// ProgressReporter persists the two job progress percentages.
type ProgressReporter interface {
	ReportCalculate(ctx context.Context, pct float64) error
	ReportImport(ctx context.Context, pct float64) error
}

// ScoredFeature is a materialized grid cell in geographic coordinates.
type ScoredFeature struct {
	CellID     int
	Geometry   orb.Geometry
	Properties map[string]any
}

// FeatureSink persists features. Each InsertBatch call is atomic.
type FeatureSink interface {
	InsertBatch(ctx context.Context, features []ScoredFeature) error
}

// CancelToken is polled at category and batch boundaries.
type CancelToken interface {
	Killed(ctx context.Context) (bool, error)
}

// Flag is an in-memory CancelToken.
type Flag struct {
	killed atomic.Bool
}

// Kill flags the job for termination.
func (f *Flag) Kill() { f.killed.Store(true) }

// Killed implements CancelToken.
func (f *Flag) Killed(context.Context) (bool, error) { return f.killed.Load(), nil }

type nopReporter struct{}

func (nopReporter) ReportCalculate(context.Context, float64) error { return nil }
func (nopReporter) ReportImport(context.Context, float64) error    { return nil }

type neverKilled struct{}

func (neverKilled) Killed(context.Context) (bool, error) { return false, nil }

func checkKilled(ctx context.Context, token CancelToken) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "scoring: context done")
	}
	killed, err := token.Killed(ctx)
	if err != nil {
		return eris.Wrap(err, "scoring: check kill flag")
	}
	if killed {
		return ErrKilled
	}
	return nil
}
