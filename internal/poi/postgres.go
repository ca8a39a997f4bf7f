// Package poi loads points of interest for a scoring category from PostGIS
// or from a directory of GeoJSON files.
package poi

import (
	"context"
	"fmt"
	"regexp"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geosight/geosight/internal/db"
	"github.com/geosight/geosight/internal/geo"
	"github.com/geosight/geosight/internal/resilience"
	"github.com/geosight/geosight/internal/scoring"
)

// DefaultGeomColumn is the geometry column of the OSM import tables.
const DefaultGeomColumn = "geom"

// validName restricts category and schema names to plain identifiers. The
// category becomes a table name, so nothing else may reach the query.
var validName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PostgresSource reads one PostGIS table per category.
type PostgresSource struct {
	pool       db.Pool
	schema     string
	geomColumn string
	retry      resilience.RetryConfig
}

// PostgresOption configures a PostgresSource.
type PostgresOption func(*PostgresSource)

// WithSchema reads category tables from schema instead of the search path.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresSource) { s.schema = schema }
}

// WithGeomColumn overrides the geometry column name.
func WithGeomColumn(col string) PostgresOption {
	return func(s *PostgresSource) { s.geomColumn = col }
}

// WithRetry sets the retry policy for transient query failures.
func WithRetry(cfg resilience.RetryConfig) PostgresOption {
	return func(s *PostgresSource) { s.retry = cfg }
}

// NewPostgresSource creates a source over the OSM database pool.
func NewPostgresSource(pool db.Pool, opts ...PostgresOption) (*PostgresSource, error) {
	s := &PostgresSource{
		pool:       pool,
		geomColumn: DefaultGeomColumn,
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.schema != "" && !validName.MatchString(s.schema) {
		return nil, eris.Errorf("poi: invalid schema name %q", s.schema)
	}
	if !validName.MatchString(s.geomColumn) {
		return nil, eris.Errorf("poi: invalid geometry column %q", s.geomColumn)
	}
	s.retry.OnRetry = resilience.RetryLogger("poi", "load")
	return s, nil
}

func (s *PostgresSource) table(category string) (string, error) {
	if !validName.MatchString(category) {
		return "", eris.Wrapf(scoring.ErrInvalidInput, "poi: invalid category name %q", category)
	}
	if s.schema == "" {
		return db.SanitizeTable(category), nil
	}
	return db.SanitizeTable(s.schema + "." + category), nil
}

// Points implements scoring.POISource. Geometries are reduced to their
// centroid in EPSG:4326 and projected to web mercator.
func (s *PostgresSource) Points(ctx context.Context, category string) ([]orb.Point, error) {
	table, err := s.table(category)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(
		`SELECT ST_AsEWKB(ST_Transform(ST_Centroid(%s), 4326)) FROM %s WHERE %s IS NOT NULL`,
		s.geomColumn, table, s.geomColumn,
	)

	pts, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) ([]orb.Point, error) {
		return s.query(ctx, sql)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "poi: load %s", category)
	}

	zap.L().Debug("poi: loaded category",
		zap.String("component", "poi"),
		zap.String("category", category),
		zap.Int("points", len(pts)),
	)
	return pts, nil
}

func (s *PostgresSource) query(ctx context.Context, sql string) ([]orb.Point, error) {
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, eris.Wrap(err, "poi: query")
	}
	defer rows.Close()

	var pts []orb.Point
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "poi: scan geometry")
		}
		p, err := geo.DecodePoint(raw)
		if err != nil {
			return nil, err
		}
		m, err := geo.PointToMercator(p)
		if err != nil {
			return nil, err
		}
		pts = append(pts, m)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "poi: iterate rows")
	}
	return pts, nil
}
