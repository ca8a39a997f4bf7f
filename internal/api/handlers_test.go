package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geosight/geosight/internal/jobs"
	"github.com/geosight/geosight/internal/model"
	"github.com/geosight/geosight/internal/scoring"
	"github.com/geosight/geosight/internal/store"
)

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateScoringLayer(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/scoring-layers", `{
		"name": "Moscow desirability",
		"polygon_radius": 50,
		"categories": [
			{"name": "metro", "max_score": 10, "max_distance": 500},
			{"name": "bus", "max_score": 3, "max_distance": 200, "is_active": false}
		]
	}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var job model.ScoringJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.InDelta(t, 50, job.PolygonRadius, 1e-9)

	require.Len(t, ts.jobs.submitted, 1)
	req := ts.jobs.submitted[0]
	assert.Equal(t, "Moscow desirability", req.Name)
	require.Len(t, req.Params.Categories, 2)
	assert.True(t, req.Params.Categories[0].IsActive, "missing is_active means active")
	assert.False(t, req.Params.Categories[1].IsActive)
}

func TestCreateScoringLayer_DefaultName(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/scoring-layers", `{"categories": []}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, ts.jobs.submitted, 1)
	assert.Contains(t, ts.jobs.submitted[0].Name, "Scoring ")
}

func TestCreateScoringLayer_Errors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		submitErr error
		want      int
	}{
		{"malformed", `{"name":`, nil, http.StatusBadRequest},
		{"unknown field", `{"radius": 5}`, nil, http.StatusBadRequest},
		{"negative radius", `{"polygon_radius": -1, "categories": []}`, nil, http.StatusBadRequest},
		{"negative distance", `{"categories": [{"name": "metro", "max_score": 1, "max_distance": -5}]}`, nil, http.StatusBadRequest},
		{"duplicate", `{"categories": [{"name": "metro"}, {"name": "metro"}]}`, nil, http.StatusBadRequest},
		{"capacity", `{"categories": []}`, eris.Wrap(jobs.ErrCapacity, "3 of 3 slots in use"), http.StatusTooManyRequests},
		{"store down", `{"categories": []}`, eris.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.jobs.submitErr = tt.submitErr

			rec := ts.do(http.MethodPost, "/scoring-layers", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
			if tt.want == http.StatusInternalServerError {
				assert.Equal(t, "internal error", body["error"])
			}
		})
	}
}

func TestGetAndKillJob(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/scoring-layers", `{"name":"x","categories":[{"name":"metro","max_score":1,"max_distance":100}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created model.ScoringJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = ts.do(http.MethodGet, "/scoring-layers/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.ScoringJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, created.ID, got.ID)
	require.Len(t, got.Categories, 1)
	assert.Equal(t, "metro", got.Categories[0].Name)

	rec = ts.do(http.MethodPost, "/scoring-layers/"+created.ID+"/kill", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, model.JobStatusKilled, got.Status)

	rec = ts.do(http.MethodPost, "/scoring-layers/"+created.ID+"/kill", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodGet, "/scoring-layers/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodPost, "/scoring-layers/does-not-exist/kill", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t)
	for range 3 {
		rec := ts.do(http.MethodPost, "/scoring-layers", `{"categories":[]}`)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := ts.do(http.MethodGet, "/scoring-layers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []model.ScoringJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 3)

	require.NoError(t, ts.store.KillJob(context.Background(), list[0].ID))

	rec = ts.do(http.MethodGet, "/scoring-layers?status=killed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = ts.do(http.MethodGet, "/scoring-layers?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = ts.do(http.MethodGet, "/scoring-layers?status=completed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = ts.do(http.MethodGet, "/scoring-layers?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPOI(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.store.UpsertPOIConfig(ctx, scoring.Category{Name: "schools", MaxScore: 5, MaxDistance: 800, IsActive: true}))
	require.NoError(t, ts.store.UpsertPOIConfig(ctx, scoring.Category{Name: "metro", MaxScore: 10, MaxDistance: 500, IsActive: true}))

	rec := ts.do(http.MethodGet, "/poi", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var cats []scoring.Category
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cats))
	require.Len(t, cats, 2)
	assert.Equal(t, "metro", cats[0].Name)
	assert.Equal(t, "schools", cats[1].Name)
}

func TestListPOI_Empty(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/poi", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestLayerFeatures(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	layer, err := ts.store.CreateLayer(ctx, "scores")
	require.NoError(t, err)
	require.NoError(t, ts.store.InsertFeatures(ctx, []model.Feature{
		{LayerID: layer.ID, Geometry: orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}, Properties: map[string]any{"score": 100.0}},
		{LayerID: layer.ID, Geometry: orb.Polygon{{{1, 0}, {2, 0}, {2, 1}, {1, 1}, {1, 0}}}, Properties: map[string]any{"score": 40.0}},
	}))

	rec := ts.do(http.MethodGet, "/layers/"+strconv.FormatInt(layer.ID, 10)+"/features", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

	fc, err := geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 2)
	assert.InDelta(t, 40, fc.Features[1].Properties["score"], 1e-9)

	rec = ts.do(http.MethodGet, "/layers/"+strconv.FormatInt(layer.ID, 10)+"/features?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	fc, err = geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, fc.Features, 1)

	rec = ts.do(http.MethodGet, "/layers/999/features", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/layers/abc/features", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/scoring-layers", nil)
	req.Header.Set("Origin", "https://maps.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{eris.Wrap(scoring.ErrInvalidInput, "bad"), http.StatusBadRequest},
		{eris.Wrap(jobs.ErrCapacity, "full"), http.StatusTooManyRequests},
		{eris.Wrap(store.ErrNotFound, "job x"), http.StatusNotFound},
		{eris.Wrap(store.ErrNotRunning, "job x"), http.StatusConflict},
		{eris.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
