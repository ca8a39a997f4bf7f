package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/geosight/geosight/internal/geo"
	"github.com/geosight/geosight/internal/model"
	"github.com/geosight/geosight/internal/scoring"
)

// SQLiteStore implements Store using modernc.org/sqlite. Geometries are kept
// as EWKB blobs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection; a single connection keeps them applied and
	// serializes writers from concurrent jobs.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS map_layers (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	is_active  INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS features (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	map_layer_id INTEGER NOT NULL REFERENCES map_layers(id) ON DELETE CASCADE,
	type         TEXT NOT NULL DEFAULT 'Feature',
	properties   TEXT NOT NULL DEFAULT '{}',
	geometry     BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_features_layer ON features(map_layer_id);

CREATE TABLE IF NOT EXISTS scoring_jobs (
	id                 TEXT PRIMARY KEY,
	layer_id           INTEGER NOT NULL REFERENCES map_layers(id) ON DELETE CASCADE,
	grid_cell_count    INTEGER NOT NULL DEFAULT 0,
	polygon_radius     REAL NOT NULL DEFAULT 0,
	categories         TEXT NOT NULL DEFAULT '[]',
	calculate_progress REAL NOT NULL DEFAULT 0,
	import_progress    REAL NOT NULL DEFAULT 0,
	status             TEXT NOT NULL DEFAULT 'pending',
	error_message      TEXT,
	start_time         DATETIME,
	end_time           DATETIME,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_scoring_jobs_status ON scoring_jobs(status);
CREATE INDEX IF NOT EXISTS idx_scoring_jobs_layer ON scoring_jobs(layer_id);

CREATE TABLE IF NOT EXISTS poi_configs (
	name         TEXT PRIMARY KEY,
	max_score    REAL NOT NULL,
	max_distance REAL NOT NULL,
	is_active    INTEGER NOT NULL DEFAULT 1
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.ScoringJob) error {
	cats, err := json.Marshal(job.Categories)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal categories")
	}

	now := time.Now().UTC()
	job.ID = uuid.New().String()
	job.Status = model.JobStatusPending
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scoring_jobs (id, layer_id, polygon_radius, categories, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.LayerID, job.PolygonRadius, string(cats), string(job.Status), now, now,
	)
	return eris.Wrap(err, "sqlite: insert job")
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.ScoringJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scoring_jobs WHERE id = ?`, id)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.ScoringJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scoring_jobs WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.LayerID > 0 {
		query += ` AND layer_id = ?`
		args = append(args, filter.LayerID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT %d`, limit)
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.ScoringJob
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) CountActiveJobs(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM scoring_jobs WHERE status IN ('pending', 'in_progress')`,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count active jobs")
	}
	return n, nil
}

func (s *SQLiteStore) JobStatus(ctx context.Context, id string) (model.JobStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM scoring_jobs WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", eris.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: job status %s", id)
	}
	return model.JobStatus(status), nil
}

func (s *SQLiteStore) StartJob(ctx context.Context, id string, cellCount int) error {
	now := time.Now().UTC()
	return s.transition(ctx, id, "start job",
		`UPDATE scoring_jobs SET status = 'in_progress', grid_cell_count = ?, start_time = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		cellCount, now, now, id,
	)
}

func (s *SQLiteStore) UpdateCalculateProgress(ctx context.Context, id string, pct float64) error {
	return s.transition(ctx, id, "update calculate progress",
		`UPDATE scoring_jobs SET calculate_progress = MAX(calculate_progress, ?), updated_at = ? WHERE id = ? AND status = 'in_progress'`,
		pct, time.Now().UTC(), id,
	)
}

func (s *SQLiteStore) UpdateImportProgress(ctx context.Context, id string, pct float64) error {
	return s.transition(ctx, id, "update import progress",
		`UPDATE scoring_jobs SET import_progress = MAX(import_progress, ?), updated_at = ? WHERE id = ? AND status = 'in_progress'`,
		pct, time.Now().UTC(), id,
	)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.transition(ctx, id, "complete job",
		`UPDATE scoring_jobs SET status = 'completed', end_time = ?, updated_at = ? WHERE id = ? AND status = 'in_progress'`,
		now, now, id,
	)
}

func (s *SQLiteStore) FailJob(ctx context.Context, id string, msg string) error {
	now := time.Now().UTC()
	return s.transition(ctx, id, "fail job",
		`UPDATE scoring_jobs SET status = 'failed', error_message = ?, end_time = ?, updated_at = ? WHERE id = ? AND status IN ('pending', 'in_progress')`,
		msg, now, now, id,
	)
}

func (s *SQLiteStore) KillJob(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.transition(ctx, id, "kill job",
		`UPDATE scoring_jobs SET status = 'killed', end_time = ?, updated_at = ? WHERE id = ? AND status IN ('pending', 'in_progress')`,
		now, now, id,
	)
}

func (s *SQLiteStore) ReapStaleJobs(ctx context.Context, before time.Time) (int, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE scoring_jobs SET status = 'failed', error_message = ?, end_time = ?, updated_at = ? WHERE status IN ('pending', 'in_progress') AND updated_at < ?`,
		ReapedMessage, now, now, before.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: reap stale jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) transition(ctx context.Context, id, action, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s %s", action, id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return statusMismatch(ctx, s, id)
	}
	return nil
}

func (s *SQLiteStore) CreateLayer(ctx context.Context, name string) (*model.Layer, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO map_layers (name, is_active, created_at) VALUES (?, 0, ?)`, name, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert layer")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: layer id")
	}
	return &model.Layer{ID: id, Name: name, CreatedAt: now}, nil
}

func (s *SQLiteStore) GetLayer(ctx context.Context, id int64) (*model.Layer, error) {
	var l model.Layer
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, is_active, created_at FROM map_layers WHERE id = ?`, id,
	).Scan(&l.ID, &l.Name, &l.IsActive, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "layer %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get layer %d", id)
	}
	return &l, nil
}

func (s *SQLiteStore) ActivateLayer(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE map_layers SET is_active = 1 WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: activate layer %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "layer %d", id)
	}
	return nil
}

func (s *SQLiteStore) InsertFeatures(ctx context.Context, features []model.Feature) error {
	if len(features) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO features (map_layer_id, type, properties, geometry) VALUES (?, 'Feature', ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert feature")
	}
	defer stmt.Close()

	for i, f := range features {
		props, err := json.Marshal(f.Properties)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal feature %d", i)
		}
		wkb, err := geo.EncodeEWKB(f.Geometry, geo.SRIDWGS84)
		if err != nil {
			return eris.Wrapf(err, "sqlite: encode feature %d", i)
		}
		if _, err := stmt.ExecContext(ctx, f.LayerID, string(props), wkb); err != nil {
			return eris.Wrapf(err, "sqlite: insert feature %d", i)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit features")
}

func (s *SQLiteStore) DeleteFeatures(ctx context.Context, layerID int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM features WHERE map_layer_id = ?`, layerID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete features of layer %d", layerID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) ListFeatures(ctx context.Context, layerID int64, limit int) ([]model.Feature, error) {
	if limit <= 0 {
		limit = 10_000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT properties, geometry FROM features WHERE map_layer_id = ? ORDER BY id LIMIT ?`,
		layerID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list features of layer %d", layerID)
	}
	defer rows.Close()

	var out []model.Feature
	for rows.Next() {
		var props string
		var wkb []byte
		if err := rows.Scan(&props, &wkb); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feature")
		}
		f, err := decodeFeature(layerID, []byte(props), wkb)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list features iterate")
}

func (s *SQLiteStore) ListPOIConfigs(ctx context.Context) ([]scoring.Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, max_score, max_distance, is_active FROM poi_configs ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list poi configs")
	}
	defer rows.Close()

	var cats []scoring.Category
	for rows.Next() {
		var c scoring.Category
		if err := rows.Scan(&c.Name, &c.MaxScore, &c.MaxDistance, &c.IsActive); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan poi config")
		}
		cats = append(cats, c)
	}
	return cats, eris.Wrap(rows.Err(), "sqlite: list poi configs iterate")
}

func (s *SQLiteStore) UpsertPOIConfig(ctx context.Context, cat scoring.Category) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO poi_configs (name, max_score, max_distance, is_active) VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET max_score = excluded.max_score, max_distance = excluded.max_distance, is_active = excluded.is_active`,
		cat.Name, cat.MaxScore, cat.MaxDistance, cat.IsActive,
	)
	return eris.Wrapf(err, "sqlite: upsert poi config %s", cat.Name)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row scannable) (*model.ScoringJob, error) {
	var (
		j          model.ScoringJob
		cats       string
		status     string
		errMsg     sql.NullString
		start, end sql.NullTime
	)
	err := row.Scan(&j.ID, &j.LayerID, &j.GridCellCount, &j.PolygonRadius, &cats,
		&j.CalculateProgress, &j.ImportProgress, &status, &errMsg,
		&start, &end, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}

	j.Status = model.JobStatus(status)
	if errMsg.Valid {
		j.ErrorMessage = &errMsg.String
	}
	if start.Valid {
		t := start.Time.UTC()
		j.StartTime = &t
	}
	if end.Valid {
		t := end.Time.UTC()
		j.EndTime = &t
	}
	if err := json.Unmarshal([]byte(cats), &j.Categories); err != nil {
		return nil, eris.Wrap(err, "unmarshal categories")
	}
	return &j, nil
}
