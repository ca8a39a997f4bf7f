// Package layers moves map layer features in and out of GeoJSON.
package layers

import (
	"context"
	"io"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geosight/geosight/internal/model"
	"github.com/geosight/geosight/internal/notify"
	"github.com/geosight/geosight/internal/scoring"
)

// LayerStore is the part of the job store an import needs.
type LayerStore interface {
	GetLayer(ctx context.Context, id int64) (*model.Layer, error)
	InsertFeatures(ctx context.Context, features []model.Feature) error
	ActivateLayer(ctx context.Context, id int64) error
}

// Importer loads a GeoJSON FeatureCollection into an existing layer.
type Importer struct {
	Store     LayerStore
	Notifier  notify.Notifier
	BatchSize int
}

// Import reads a FeatureCollection in EPSG:4326 from r and inserts it into
// the layer in atomic batches. The layer is activated and a notification is
// sent once every batch is stored. Features without geometry are skipped.
func (im Importer) Import(ctx context.Context, r io.Reader, layerID int64) (int, error) {
	log := zap.L().With(zap.String("component", "layers"), zap.Int64("layer_id", layerID))

	if _, err := im.Store.GetLayer(ctx, layerID); err != nil {
		return 0, eris.Wrapf(err, "layers: import into %d", layerID)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return 0, eris.Wrap(err, "layers: read input")
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return 0, eris.Wrapf(scoring.ErrInvalidInput, "layers: input is not a GeoJSON FeatureCollection: %v", err)
	}

	size := im.BatchSize
	if size <= 0 {
		size = scoring.DefaultBatchSize
	}

	features := make([]model.Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		props := map[string]any(f.Properties)
		if props == nil {
			props = map[string]any{}
		}
		features = append(features, model.Feature{LayerID: layerID, Geometry: f.Geometry, Properties: props})
	}
	if skipped := len(fc.Features) - len(features); skipped > 0 {
		log.Debug("layers: skipped features without geometry", zap.Int("skipped", skipped))
	}

	for start := 0; start < len(features); start += size {
		if err := ctx.Err(); err != nil {
			return start, eris.Wrap(err, "layers: import interrupted")
		}
		end := min(start+size, len(features))
		if err := im.Store.InsertFeatures(ctx, features[start:end]); err != nil {
			return start, eris.Wrapf(err, "layers: insert features %d-%d", start, end)
		}
		log.Info("layers: batch imported", zap.Int("to", end), zap.Int("total", len(features)))
	}

	if err := im.Store.ActivateLayer(ctx, layerID); err != nil {
		return len(features), eris.Wrapf(err, "layers: activate %d", layerID)
	}
	if im.Notifier != nil {
		if err := im.Notifier.LayerUpdated(ctx, layerID); err != nil {
			log.Warn("layers: layer notification failed", zap.Error(err))
		}
	}
	return len(features), nil
}
