package poi

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geosight/geosight/internal/geo"
	"github.com/geosight/geosight/internal/resilience"
	"github.com/geosight/geosight/internal/scoring"
)

func ewkbPoint(t *testing.T, lon, lat float64) []byte {
	t.Helper()
	data, err := geo.EncodeEWKB(orb.Point{lon, lat}, geo.SRIDWGS84)
	require.NoError(t, err)
	return data
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: 1, MaxBackoff: 1, Multiplier: 1}
}

func TestPostgresSource_Points(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT ST_AsEWKB\(ST_Transform\(ST_Centroid\(geom\), 4326\)\) FROM "osm"\."metro" WHERE geom IS NOT NULL`).
		WillReturnRows(pgxmock.NewRows([]string{"geom"}).
			AddRow(ewkbPoint(t, 37.6173, 55.7558)).
			AddRow(ewkbPoint(t, 30.3141, 59.9386)))

	src, err := NewPostgresSource(mock, WithSchema("osm"))
	require.NoError(t, err)

	pts, err := src.Points(context.Background(), "metro")
	require.NoError(t, err)
	require.Len(t, pts, 2)

	want := project.WGS84.ToMercator(orb.Point{37.6173, 55.7558})
	assert.InDelta(t, want[0], pts[0][0], 1e-6)
	assert.InDelta(t, want[1], pts[0][1], 1e-6)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_NoSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`ST_Centroid\(way\).* FROM "schools" WHERE way IS NOT NULL`).
		WillReturnRows(pgxmock.NewRows([]string{"geom"}))

	src, err := NewPostgresSource(mock, WithGeomColumn("way"))
	require.NoError(t, err)

	pts, err := src.Points(context.Background(), "schools")
	require.NoError(t, err)
	assert.Empty(t, pts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_InvalidCategory(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	src, err := NewPostgresSource(mock)
	require.NoError(t, err)

	for _, name := range []string{"", "Metro", "metro; DROP TABLE features", "osm.metro", "1metro"} {
		_, err := src.Points(context.Background(), name)
		require.Error(t, err, name)
		assert.True(t, eris.Is(err, scoring.ErrInvalidInput), name)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPostgresSource_InvalidOptions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPostgresSource(mock, WithSchema("osm; --"))
	assert.Error(t, err)

	_, err = NewPostgresSource(mock, WithGeomColumn("geom)"))
	assert.Error(t, err)
}

func TestPostgresSource_RetriesTransient(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM "metro"`).WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectQuery(`FROM "metro"`).
		WillReturnRows(pgxmock.NewRows([]string{"geom"}).AddRow(ewkbPoint(t, 0, 0)))

	src, err := NewPostgresSource(mock, WithRetry(fastRetry()))
	require.NoError(t, err)

	pts, err := src.Points(context.Background(), "metro")
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.InDelta(t, 0, pts[0][0], 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_PermanentErrorNotRetried(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM "metro"`).
		WillReturnError(&pgconn.PgError{Code: "42P01", Message: `relation "metro" does not exist`})

	src, err := NewPostgresSource(mock, WithRetry(fastRetry()))
	require.NoError(t, err)

	_, err = src.Points(context.Background(), "metro")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poi: load metro")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_BadGeometry(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`FROM "metro"`).
		WillReturnRows(pgxmock.NewRows([]string{"geom"}).AddRow([]byte{0x01, 0x02}))

	src, err := NewPostgresSource(mock, WithRetry(fastRetry()))
	require.NoError(t, err)

	_, err = src.Points(context.Background(), "metro")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
