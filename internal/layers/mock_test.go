package layers

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/geosight/geosight/internal/model"
	"github.com/geosight/geosight/internal/store"
)

// fakeLayerStore keeps features in memory. failOn is the 1-based insert call
// that fails.
type fakeLayerStore struct {
	mu       sync.Mutex
	layers   map[int64]*model.Layer
	batches  [][]model.Feature
	inserts  int
	failOn   int
	activate error
}

func newFakeLayerStore(ids ...int64) *fakeLayerStore {
	s := &fakeLayerStore{layers: map[int64]*model.Layer{}}
	for _, id := range ids {
		s.layers[id] = &model.Layer{ID: id, Name: "layer"}
	}
	return s
}

func (s *fakeLayerStore) GetLayer(_ context.Context, id int64) (*model.Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.layers[id]
	if !ok {
		return nil, eris.Wrapf(store.ErrNotFound, "layer %d", id)
	}
	return l, nil
}

func (s *fakeLayerStore) InsertFeatures(_ context.Context, features []model.Feature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	if s.failOn > 0 && s.inserts == s.failOn {
		return eris.New("copy failed")
	}
	s.batches = append(s.batches, append([]model.Feature(nil), features...))
	return nil
}

func (s *fakeLayerStore) ActivateLayer(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activate != nil {
		return s.activate
	}
	s.layers[id].IsActive = true
	return nil
}

type fakeNotifier struct {
	layers []int64
	err    error
}

func (n *fakeNotifier) LayerUpdated(_ context.Context, layerID int64) error {
	n.layers = append(n.layers, layerID)
	return n.err
}
