package layers

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"

	"github.com/geosight/geosight/internal/model"
	"github.com/geosight/geosight/internal/scoring"
)

// FileSink collects scored features and writes them as one GeoJSON
// FeatureCollection.
type FileSink struct {
	mu sync.Mutex
	fc *geojson.FeatureCollection
}

// NewFileSink creates an empty sink.
func NewFileSink() *FileSink {
	return &FileSink{fc: geojson.NewFeatureCollection()}
}

// InsertBatch implements scoring.FeatureSink.
func (s *FileSink) InsertBatch(ctx context.Context, batch []scoring.ScoredFeature) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "layers: context done")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range batch {
		gf := geojson.NewFeature(f.Geometry)
		gf.ID = f.CellID
		for k, v := range f.Properties {
			gf.Properties[k] = v
		}
		s.fc.Append(gf)
	}
	return nil
}

// Len returns the number of collected features.
func (s *FileSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fc.Features)
}

// Features returns the collected features as layer features.
func (s *FileSink) Features(layerID int64) []model.Feature {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Feature, len(s.fc.Features))
	for i, f := range s.fc.Features {
		out[i] = model.Feature{LayerID: layerID, Geometry: f.Geometry, Properties: f.Properties}
	}
	return out
}

// WriteFile writes the collection to path through a temporary file, so a
// reader never sees a partial document.
func (s *FileSink) WriteFile(path string) error {
	s.mu.Lock()
	data, err := json.Marshal(s.fc)
	s.mu.Unlock()
	if err != nil {
		return eris.Wrap(err, "layers: marshal feature collection")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".geosight-*.geojson")
	if err != nil {
		return eris.Wrap(err, "layers: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return eris.Wrap(err, "layers: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "layers: close temp file")
	}
	return eris.Wrapf(os.Rename(tmp.Name(), path), "layers: rename to %s", path)
}

// FeatureCollection renders layer features as GeoJSON.
func FeatureCollection(features []model.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		gf := geojson.NewFeature(f.Geometry)
		for k, v := range f.Properties {
			gf.Properties[k] = v
		}
		fc.Append(gf)
	}
	return fc
}
