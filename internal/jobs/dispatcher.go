package jobs

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geosight/geosight/internal/model"
	"github.com/geosight/geosight/internal/scoring"
)

// DefaultMaxActive caps pending plus in-progress jobs system wide.
const DefaultMaxActive = 3

// ErrCapacity is returned by Submit when the active job cap is reached.
var ErrCapacity = eris.New("jobs: too many active scoring jobs")

// Request describes a new scoring layer.
type Request struct {
	Name   string
	Params scoring.Params
}

// Dispatcher admits jobs against the active cap and runs each on its own
// goroutine.
type Dispatcher struct {
	runner    *Runner
	maxActive int
	ctx       context.Context

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Jobs run under ctx, so cancelling it
// interrupts every running job.
func NewDispatcher(ctx context.Context, runner *Runner, maxActive int) *Dispatcher {
	if maxActive <= 0 {
		maxActive = DefaultMaxActive
	}
	return &Dispatcher{runner: runner, maxActive: maxActive, ctx: ctx}
}

// Submit validates req, creates its layer and job, and starts the run.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (*model.ScoringJob, error) {
	if err := req.Params.Validate(); err != nil {
		return nil, err
	}

	job, err := d.admit(ctx, req)
	if err != nil {
		return nil, err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.runner.Run(d.ctx, job); err != nil {
			zap.L().Error("jobs: run ended without terminal state",
				zap.String("component", "jobs"),
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
		}
	}()
	return job, nil
}

// admit counts and inserts under one lock so concurrent submissions cannot
// overshoot the cap.
func (d *Dispatcher) admit(ctx context.Context, req Request) (*model.ScoringJob, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.runner.Store
	active, err := s.CountActiveJobs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: count active")
	}
	if active >= d.maxActive {
		return nil, eris.Wrapf(ErrCapacity, "%d of %d slots in use", active, d.maxActive)
	}

	layer, err := s.CreateLayer(ctx, req.Name)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: create layer")
	}
	job := &model.ScoringJob{
		LayerID:       layer.ID,
		PolygonRadius: req.Params.PolygonRadius,
		Categories:    req.Params.Categories,
	}
	if err := s.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "jobs: create job")
	}

	zap.L().Info("jobs: submitted",
		zap.String("component", "jobs"),
		zap.String("job_id", job.ID),
		zap.Int64("layer_id", layer.ID),
		zap.Int("active", active+1),
	)
	return job, nil
}

// Kill flags a pending or running job. The runner stops at its next category
// or batch boundary.
func (d *Dispatcher) Kill(ctx context.Context, id string) error {
	return d.runner.Store.KillJob(ctx, id)
}

// Wait blocks until every submitted job has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
