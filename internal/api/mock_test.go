package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geosight/geosight/internal/jobs"
	"github.com/geosight/geosight/internal/model"
	"github.com/geosight/geosight/internal/poi"
	"github.com/geosight/geosight/internal/store"
)

// fakeJobs records submissions; it creates the layer and job directly in the
// store without running anything.
type fakeJobs struct {
	store     store.Store
	submitted []jobs.Request
	submitErr error
	killed    []string
}

func (f *fakeJobs) Submit(ctx context.Context, req jobs.Request) (*model.ScoringJob, error) {
	if err := req.Params.Validate(); err != nil {
		return nil, err
	}
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	layer, err := f.store.CreateLayer(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	job := &model.ScoringJob{LayerID: layer.ID, PolygonRadius: req.Params.PolygonRadius, Categories: req.Params.Categories}
	if err := f.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (f *fakeJobs) Kill(ctx context.Context, id string) error {
	f.killed = append(f.killed, id)
	return f.store.KillJob(ctx, id)
}

type testServer struct {
	store  store.Store
	jobs   *fakeJobs
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))

	fj := &fakeJobs{store: s}
	return &testServer{
		store: s,
		jobs:  fj,
		router: NewRouter(RouterConfig{
			Jobs:    fj,
			Store:   s,
			Catalog: poi.StoreCatalog{Store: s},
		}),
	}
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}
