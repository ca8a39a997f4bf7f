package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/geosight/geosight/internal/model"
	"github.com/geosight/geosight/internal/scoring"
)

var (
	// ErrNotFound is returned when a job or layer does not exist.
	ErrNotFound = eris.New("store: not found")

	// ErrNotRunning is returned when a conditional job transition finds the
	// job in a state that does not allow it (for example, already killed).
	ErrNotRunning = eris.New("store: job not running")
)

// ReapedMessage is the error message written on jobs failed by ReapStaleJobs.
const ReapedMessage = "reaped: worker lost"

// JobFilter specifies criteria for listing scoring jobs.
type JobFilter struct {
	Status  model.JobStatus `json:"status,omitempty"`
	LayerID int64           `json:"layer_id,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Offset  int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for scoring jobs, map layers and
// the POI category catalogue.
type Store interface {
	// Scoring jobs
	CreateJob(ctx context.Context, job *model.ScoringJob) error
	GetJob(ctx context.Context, id string) (*model.ScoringJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.ScoringJob, error)
	CountActiveJobs(ctx context.Context) (int, error)
	JobStatus(ctx context.Context, id string) (model.JobStatus, error)
	StartJob(ctx context.Context, id string, cellCount int) error
	UpdateCalculateProgress(ctx context.Context, id string, pct float64) error
	UpdateImportProgress(ctx context.Context, id string, pct float64) error
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, msg string) error
	KillJob(ctx context.Context, id string) error
	ReapStaleJobs(ctx context.Context, before time.Time) (int, error)

	// Layers and features
	CreateLayer(ctx context.Context, name string) (*model.Layer, error)
	GetLayer(ctx context.Context, id int64) (*model.Layer, error)
	ActivateLayer(ctx context.Context, id int64) error
	InsertFeatures(ctx context.Context, features []model.Feature) error
	DeleteFeatures(ctx context.Context, layerID int64) (int, error)
	ListFeatures(ctx context.Context, layerID int64, limit int) ([]model.Feature, error)

	// POI catalogue
	ListPOIConfigs(ctx context.Context) ([]scoring.Category, error)
	UpsertPOIConfig(ctx context.Context, cat scoring.Category) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// statusMismatch resolves a conditional update that touched no rows into
// ErrNotFound or ErrNotRunning.
func statusMismatch(ctx context.Context, s Store, id string) error {
	status, err := s.JobStatus(ctx, id)
	if err != nil {
		return err
	}
	return eris.Wrapf(ErrNotRunning, "job %s is %s", id, status)
}
