// Package jobs runs scoring jobs against the job store: admission control,
// the per-job lifecycle and the terminal bookkeeping.
package jobs

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geosight/geosight/internal/model"
	"github.com/geosight/geosight/internal/notify"
	"github.com/geosight/geosight/internal/scoring"
	"github.com/geosight/geosight/internal/store"
)

// Runner executes one scoring job end to end.
type Runner struct {
	Store    store.Store
	Source   scoring.POISource
	Grid     GridLoader
	Engine   *scoring.Engine
	Notifier notify.Notifier

	// CleanupOnKill deletes the features a killed job already wrote.
	CleanupOnKill bool
}

// Run drives job from pending to a terminal status. Scoring failures are
// recorded on the job and not returned; the returned error means the
// terminal state itself could not be written.
func (r *Runner) Run(ctx context.Context, job *model.ScoringJob) error {
	log := zap.L().With(
		zap.String("component", "jobs"),
		zap.String("job_id", job.ID),
		zap.Int64("layer_id", job.LayerID),
	)

	params := job.Params()
	if err := params.Validate(); err != nil {
		return r.fail(ctx, log, job, err)
	}
	grid, err := r.Grid.Load(ctx)
	if err != nil {
		return r.fail(ctx, log, job, err)
	}

	if err := r.Store.StartJob(ctx, job.ID, grid.Len()); err != nil {
		if eris.Is(err, store.ErrNotRunning) {
			log.Info("jobs: job left pending before start")
			return nil
		}
		return r.fail(ctx, log, job, err)
	}
	log.Info("jobs: started",
		zap.Int("cells", grid.Len()),
		zap.Int("categories", len(params.Active())),
		zap.Float64("polygon_radius", params.PolygonRadius),
	)

	engine := r.Engine
	if engine == nil {
		engine = &scoring.Engine{}
	}
	err = engine.Run(ctx, grid, params,
		r.Source,
		layerSink{store: r.Store, layerID: job.LayerID},
		storeReporter{store: r.Store, jobID: job.ID},
		storeToken{store: r.Store, jobID: job.ID},
	)
	if eris.Is(err, scoring.ErrKilled) {
		return r.killed(ctx, log, job)
	}
	if err != nil {
		return r.fail(ctx, log, job, err)
	}

	return r.complete(ctx, log, job)
}

func (r *Runner) complete(ctx context.Context, log *zap.Logger, job *model.ScoringJob) error {
	ctx = context.WithoutCancel(ctx)

	if err := r.Store.CompleteJob(ctx, job.ID); err != nil {
		if eris.Is(err, store.ErrNotRunning) {
			return r.killed(ctx, log, job)
		}
		return eris.Wrapf(err, "jobs: complete %s", job.ID)
	}
	if err := r.Store.ActivateLayer(ctx, job.LayerID); err != nil {
		return eris.Wrapf(err, "jobs: activate layer %d", job.LayerID)
	}
	log.Info("jobs: completed")

	if r.Notifier != nil {
		if err := r.Notifier.LayerUpdated(ctx, job.LayerID); err != nil {
			log.Warn("jobs: layer notification failed", zap.Error(err))
		}
	}
	return nil
}

func (r *Runner) killed(ctx context.Context, log *zap.Logger, job *model.ScoringJob) error {
	ctx = context.WithoutCancel(ctx)
	log.Info("jobs: killed")

	if !r.CleanupOnKill {
		return nil
	}
	n, err := r.Store.DeleteFeatures(ctx, job.LayerID)
	if err != nil {
		return eris.Wrapf(err, "jobs: clean up layer %d", job.LayerID)
	}
	log.Info("jobs: removed partial features", zap.Int("features", n))
	return nil
}

func (r *Runner) fail(ctx context.Context, log *zap.Logger, job *model.ScoringJob, cause error) error {
	ctx = context.WithoutCancel(ctx)
	log.Error("jobs: failed", zap.Error(cause))

	err := r.Store.FailJob(ctx, job.ID, cause.Error())
	if eris.Is(err, store.ErrNotRunning) {
		// Killed while failing; the kill wins.
		return nil
	}
	return eris.Wrapf(err, "jobs: record failure of %s", job.ID)
}
