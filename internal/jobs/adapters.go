package jobs

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/geosight/geosight/internal/model"
	"github.com/geosight/geosight/internal/scoring"
	"github.com/geosight/geosight/internal/store"
)

// storeReporter writes progress to the job row. A job that left in_progress
// (killed or reaped) is reported as killed so the engine stops.
type storeReporter struct {
	store store.Store
	jobID string
}

func (r storeReporter) ReportCalculate(ctx context.Context, pct float64) error {
	return r.mapErr(r.store.UpdateCalculateProgress(ctx, r.jobID, pct))
}

func (r storeReporter) ReportImport(ctx context.Context, pct float64) error {
	return r.mapErr(r.store.UpdateImportProgress(ctx, r.jobID, pct))
}

func (r storeReporter) mapErr(err error) error {
	if eris.Is(err, store.ErrNotRunning) {
		return scoring.ErrKilled
	}
	return err
}

// storeToken polls the job status. Anything other than in_progress stops the run.
type storeToken struct {
	store store.Store
	jobID string
}

func (t storeToken) Killed(ctx context.Context) (bool, error) {
	status, err := t.store.JobStatus(ctx, t.jobID)
	if err != nil {
		return false, err
	}
	return status != model.JobStatusInProgress, nil
}

// layerSink stores scored features on one map layer.
type layerSink struct {
	store   store.Store
	layerID int64
}

func (s layerSink) InsertBatch(ctx context.Context, batch []scoring.ScoredFeature) error {
	features := make([]model.Feature, len(batch))
	for i, f := range batch {
		features[i] = model.Feature{
			LayerID:    s.layerID,
			Geometry:   f.Geometry,
			Properties: f.Properties,
		}
	}
	return s.store.InsertFeatures(ctx, features)
}
