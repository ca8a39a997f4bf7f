package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/geosight/geosight/internal/db"
	"github.com/geosight/geosight/internal/geo"
	"github.com/geosight/geosight/internal/model"
	"github.com/geosight/geosight/internal/scoring"
)

// PostgresStore implements Store on PostgreSQL with PostGIS.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pool, err := NewPool(ctx, connString, poolCfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPool opens and pings a pgx pool with the store's sizing defaults.
func NewPool(ctx context.Context, connString string, poolCfg *PoolConfig) (*pgxpool.Pool, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return pool, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS map_layers (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL,
	is_active  BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS features (
	id           BIGSERIAL PRIMARY KEY,
	map_layer_id BIGINT NOT NULL REFERENCES map_layers(id) ON DELETE CASCADE,
	type         TEXT NOT NULL DEFAULT 'Feature',
	properties   JSONB NOT NULL DEFAULT '{}',
	geometry     geometry(Geometry, 4326) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_features_layer ON features(map_layer_id);
CREATE INDEX IF NOT EXISTS idx_features_geometry ON features USING GIST(geometry);

CREATE TABLE IF NOT EXISTS scoring_jobs (
	id                 TEXT PRIMARY KEY,
	layer_id           BIGINT NOT NULL REFERENCES map_layers(id) ON DELETE CASCADE,
	grid_cell_count    INTEGER NOT NULL DEFAULT 0,
	polygon_radius     DOUBLE PRECISION NOT NULL DEFAULT 0,
	categories         JSONB NOT NULL DEFAULT '[]',
	calculate_progress DOUBLE PRECISION NOT NULL DEFAULT 0,
	import_progress    DOUBLE PRECISION NOT NULL DEFAULT 0,
	status             TEXT NOT NULL DEFAULT 'pending',
	error_message      TEXT,
	start_time         TIMESTAMPTZ,
	end_time           TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scoring_jobs_status ON scoring_jobs(status);
CREATE INDEX IF NOT EXISTS idx_scoring_jobs_layer ON scoring_jobs(layer_id);

CREATE TABLE IF NOT EXISTS poi_configs (
	name         TEXT PRIMARY KEY,
	max_score    DOUBLE PRECISION NOT NULL,
	max_distance DOUBLE PRECISION NOT NULL,
	is_active    BOOLEAN NOT NULL DEFAULT true
);
`

const jobColumns = `id, layer_id, grid_cell_count, polygon_radius, categories, calculate_progress, import_progress, status, error_message, start_time, end_time, created_at, updated_at`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.ScoringJob) error {
	cats, err := json.Marshal(job.Categories)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal categories")
	}

	now := time.Now().UTC()
	job.ID = uuid.New().String()
	job.Status = model.JobStatusPending
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err = s.pool.Exec(ctx,
		`INSERT INTO scoring_jobs (id, layer_id, polygon_radius, categories, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.LayerID, job.PolygonRadius, cats, string(job.Status), now, now,
	)
	return eris.Wrap(err, "postgres: insert job")
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.ScoringJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM scoring_jobs WHERE id = $1`, id)
	job, err := scanPostgresJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ScoringJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scoring_jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.LayerID > 0 {
		query += fmt.Sprintf(` AND layer_id = $%d`, argIdx)
		args = append(args, filter.LayerID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.ScoringJob
	for rows.Next() {
		job, err := scanPostgresJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) CountActiveJobs(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM scoring_jobs WHERE status IN ('pending', 'in_progress')`,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count active jobs")
	}
	return n, nil
}

func (s *PostgresStore) JobStatus(ctx context.Context, id string) (model.JobStatus, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM scoring_jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", eris.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return "", eris.Wrapf(err, "postgres: job status %s", id)
	}
	return model.JobStatus(status), nil
}

func (s *PostgresStore) StartJob(ctx context.Context, id string, cellCount int) error {
	now := time.Now().UTC()
	return s.transition(ctx, id, "start job",
		`UPDATE scoring_jobs SET status = 'in_progress', grid_cell_count = $1, start_time = $2, updated_at = $2 WHERE id = $3 AND status = 'pending'`,
		cellCount, now, id,
	)
}

func (s *PostgresStore) UpdateCalculateProgress(ctx context.Context, id string, pct float64) error {
	return s.transition(ctx, id, "update calculate progress",
		`UPDATE scoring_jobs SET calculate_progress = GREATEST(calculate_progress, $1), updated_at = $2 WHERE id = $3 AND status = 'in_progress'`,
		pct, time.Now().UTC(), id,
	)
}

func (s *PostgresStore) UpdateImportProgress(ctx context.Context, id string, pct float64) error {
	return s.transition(ctx, id, "update import progress",
		`UPDATE scoring_jobs SET import_progress = GREATEST(import_progress, $1), updated_at = $2 WHERE id = $3 AND status = 'in_progress'`,
		pct, time.Now().UTC(), id,
	)
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.transition(ctx, id, "complete job",
		`UPDATE scoring_jobs SET status = 'completed', end_time = $1, updated_at = $1 WHERE id = $2 AND status = 'in_progress'`,
		now, id,
	)
}

func (s *PostgresStore) FailJob(ctx context.Context, id string, msg string) error {
	now := time.Now().UTC()
	return s.transition(ctx, id, "fail job",
		`UPDATE scoring_jobs SET status = 'failed', error_message = $1, end_time = $2, updated_at = $2 WHERE id = $3 AND status IN ('pending', 'in_progress')`,
		msg, now, id,
	)
}

func (s *PostgresStore) KillJob(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.transition(ctx, id, "kill job",
		`UPDATE scoring_jobs SET status = 'killed', end_time = $1, updated_at = $1 WHERE id = $2 AND status IN ('pending', 'in_progress')`,
		now, id,
	)
}

func (s *PostgresStore) ReapStaleJobs(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scoring_jobs SET status = 'failed', error_message = $1, end_time = $2, updated_at = $2 WHERE status IN ('pending', 'in_progress') AND updated_at < $3`,
		ReapedMessage, time.Now().UTC(), before.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: reap stale jobs")
	}
	return int(tag.RowsAffected()), nil
}

// transition runs a conditional job update and resolves a zero-row result.
func (s *PostgresStore) transition(ctx context.Context, id, action, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: %s %s", action, id)
	}
	if tag.RowsAffected() == 0 {
		return statusMismatch(ctx, s, id)
	}
	return nil
}

func (s *PostgresStore) CreateLayer(ctx context.Context, name string) (*model.Layer, error) {
	l := &model.Layer{Name: name}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO map_layers (name, is_active, created_at) VALUES ($1, false, $2) RETURNING id, created_at`,
		name, time.Now().UTC(),
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert layer")
	}
	return l, nil
}

func (s *PostgresStore) GetLayer(ctx context.Context, id int64) (*model.Layer, error) {
	var l model.Layer
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, is_active, created_at FROM map_layers WHERE id = $1`, id,
	).Scan(&l.ID, &l.Name, &l.IsActive, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "layer %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get layer %d", id)
	}
	return &l, nil
}

func (s *PostgresStore) ActivateLayer(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE map_layers SET is_active = true WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: activate layer %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "layer %d", id)
	}
	return nil
}

var featureColumns = []string{"map_layer_id", "type", "properties", "geometry"}

// InsertFeatures copies features in one transaction; a failed batch leaves
// no rows behind.
func (s *PostgresStore) InsertFeatures(ctx context.Context, features []model.Feature) error {
	rows := make([][]any, 0, len(features))
	for i, f := range features {
		wkb, err := geo.EncodeEWKB(f.Geometry, geo.SRIDWGS84)
		if err != nil {
			return eris.Wrapf(err, "postgres: encode feature %d", i)
		}
		rows = append(rows, []any{f.LayerID, "Feature", f.Properties, wkb})
	}

	_, err := db.CopyAtomic(ctx, s.pool, "features", featureColumns, rows)
	return eris.Wrap(err, "postgres: insert features")
}

func (s *PostgresStore) DeleteFeatures(ctx context.Context, layerID int64) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM features WHERE map_layer_id = $1`, layerID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete features of layer %d", layerID)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListFeatures(ctx context.Context, layerID int64, limit int) ([]model.Feature, error) {
	if limit <= 0 {
		limit = 10_000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT properties, ST_AsEWKB(geometry) FROM features WHERE map_layer_id = $1 ORDER BY id LIMIT $2`,
		layerID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list features of layer %d", layerID)
	}
	defer rows.Close()

	var out []model.Feature
	for rows.Next() {
		var props, wkb []byte
		if err := rows.Scan(&props, &wkb); err != nil {
			return nil, eris.Wrap(err, "postgres: scan feature")
		}
		f, err := decodeFeature(layerID, props, wkb)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list features iterate")
}

func (s *PostgresStore) ListPOIConfigs(ctx context.Context) ([]scoring.Category, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, max_score, max_distance, is_active FROM poi_configs ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list poi configs")
	}
	defer rows.Close()

	var cats []scoring.Category
	for rows.Next() {
		var c scoring.Category
		if err := rows.Scan(&c.Name, &c.MaxScore, &c.MaxDistance, &c.IsActive); err != nil {
			return nil, eris.Wrap(err, "postgres: scan poi config")
		}
		cats = append(cats, c)
	}
	return cats, eris.Wrap(rows.Err(), "postgres: list poi configs iterate")
}

func (s *PostgresStore) UpsertPOIConfig(ctx context.Context, cat scoring.Category) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO poi_configs (name, max_score, max_distance, is_active) VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET max_score = EXCLUDED.max_score, max_distance = EXCLUDED.max_distance, is_active = EXCLUDED.is_active`,
		cat.Name, cat.MaxScore, cat.MaxDistance, cat.IsActive,
	)
	return eris.Wrapf(err, "postgres: upsert poi config %s", cat.Name)
}

func scanPostgresJob(row pgx.Row) (*model.ScoringJob, error) {
	var (
		j      model.ScoringJob
		cats   []byte
		status string
	)
	err := row.Scan(&j.ID, &j.LayerID, &j.GridCellCount, &j.PolygonRadius, &cats,
		&j.CalculateProgress, &j.ImportProgress, &status, &j.ErrorMessage,
		&j.StartTime, &j.EndTime, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	if len(cats) > 0 {
		if err := json.Unmarshal(cats, &j.Categories); err != nil {
			return nil, eris.Wrap(err, "unmarshal categories")
		}
	}
	return &j, nil
}

func decodeFeature(layerID int64, props, wkb []byte) (model.Feature, error) {
	f := model.Feature{LayerID: layerID}
	if len(props) > 0 {
		if err := json.Unmarshal(props, &f.Properties); err != nil {
			return f, eris.Wrap(err, "store: unmarshal feature properties")
		}
	}
	g, err := geo.DecodeEWKB(wkb)
	if err != nil {
		return f, eris.Wrap(err, "store: decode feature geometry")
	}
	f.Geometry = g
	return f, nil
}
