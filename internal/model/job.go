package model

import (
	"time"

	"github.com/paulmach/orb"

	"github.com/geosight/geosight/internal/scoring"
)

// JobStatus represents the lifecycle state of a scoring job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusKilled     JobStatus = "killed"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusKilled:
		return true
	}
	return false
}

// Active reports whether the job counts against the concurrency cap.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusInProgress
}

// ScoringJob tracks one scoring run and the layer it populates.
type ScoringJob struct {
	ID                string             `json:"id"`
	LayerID           int64              `json:"layer_id"`
	GridCellCount     int                `json:"grid_cell_count"`
	PolygonRadius     float64            `json:"polygon_radius"`
	Categories        []scoring.Category `json:"categories"`
	CalculateProgress float64            `json:"calculate_progress"`
	ImportProgress    float64            `json:"import_progress"`
	Status            JobStatus          `json:"status"`
	ErrorMessage      *string            `json:"error_message,omitempty"`
	StartTime         *time.Time         `json:"start_time,omitempty"`
	EndTime           *time.Time         `json:"end_time,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// Params returns the scoring parameters recorded on the job.
func (j *ScoringJob) Params() scoring.Params {
	return scoring.Params{Categories: j.Categories, PolygonRadius: j.PolygonRadius}
}

// Layer is a map layer that receives features.
type Layer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Feature is one stored layer feature in EPSG:4326.
type Feature struct {
	LayerID    int64
	Geometry   orb.Geometry
	Properties map[string]any
}
