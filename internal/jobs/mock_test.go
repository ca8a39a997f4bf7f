package jobs

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"

	"github.com/geosight/geosight/internal/geo"
	"github.com/geosight/geosight/internal/model"
	"github.com/geosight/geosight/internal/scoring"
	"github.com/geosight/geosight/internal/store"
)

const (
	testTimeout = 5 * time.Second
	testTick    = 10 * time.Millisecond
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// fakeSource serves the same points for every category. onCall runs before
// each load with the 1-based call number; block, when set, holds every load
// until it is closed.
type fakeSource struct {
	mu     sync.Mutex
	points []orb.Point
	err    error
	calls  int
	onCall func(n int)
	block  chan struct{}
}

func (f *fakeSource) Points(ctx context.Context, _ string) ([]orb.Point, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls++
	n := f.calls
	hook := f.onCall
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.points, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeNotifier records layer notifications.
type fakeNotifier struct {
	mu     sync.Mutex
	layers []int64
	err    error
}

func (n *fakeNotifier) LayerUpdated(_ context.Context, layerID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.layers = append(n.layers, layerID)
	return n.err
}

func (n *fakeNotifier) calls() []int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]int64(nil), n.layers...)
}

// hookStore runs afterInsert after every successful feature batch.
type hookStore struct {
	store.Store
	afterInsert func(n int)
	inserts     int
}

func (h *hookStore) InsertFeatures(ctx context.Context, features []model.Feature) error {
	if err := h.Store.InsertFeatures(ctx, features); err != nil {
		return err
	}
	h.inserts++
	if h.afterInsert != nil {
		h.afterInsert(h.inserts)
	}
	return nil
}

// failingGrid always fails to load.
type failingGrid struct{}

func (failingGrid) Load(context.Context) (*scoring.Grid, error) {
	return nil, eris.New("grid file missing")
}

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}}
}

// testGrid is a row of 100m cells in web mercator.
func testGrid(n int) StaticGrid {
	recs := make([]geo.Record, n)
	for i := range recs {
		recs[i] = geo.Record{Geometry: square(float64(i)*200, 0, 100), Region: "moscow"}
	}
	return recs
}

func categories(names ...string) []scoring.Category {
	cats := make([]scoring.Category, len(names))
	for i, n := range names {
		cats[i] = scoring.Category{Name: n, MaxScore: 10, MaxDistance: 1000, IsActive: true}
	}
	return cats
}

// createJob inserts a pending job with its layer.
func createJob(t *testing.T, s store.Store, params scoring.Params) *model.ScoringJob {
	t.Helper()
	ctx := context.Background()
	layer, err := s.CreateLayer(ctx, "test layer")
	require.NoError(t, err)
	job := &model.ScoringJob{LayerID: layer.ID, PolygonRadius: params.PolygonRadius, Categories: params.Categories}
	require.NoError(t, s.CreateJob(ctx, job))
	return job
}
