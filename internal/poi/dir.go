package poi

import (
	"context"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geosight/geosight/internal/geo"
	"github.com/geosight/geosight/internal/scoring"
)

// DirSource reads <Dir>/<category>.geojson FeatureCollections. It backs the
// local score command and tests.
type DirSource struct {
	Dir string
	// SourceSRID is the CRS of the files, EPSG:4326 unless set.
	SourceSRID int
}

// Points implements scoring.POISource. Polygons and lines contribute their
// centroid. Features without geometry are skipped.
func (s DirSource) Points(ctx context.Context, category string) ([]orb.Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "poi: context done")
	}
	if !validName.MatchString(category) {
		return nil, eris.Wrapf(scoring.ErrInvalidInput, "poi: invalid category name %q", category)
	}

	path := filepath.Join(s.Dir, category+".geojson")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "poi: read %s", path)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, eris.Wrapf(err, "poi: parse %s", path)
	}

	srid := s.SourceSRID
	if srid == 0 {
		srid = geo.SRIDWGS84
	}

	pts := make([]orb.Point, 0, len(fc.Features))
	skipped := 0
	for _, f := range fc.Features {
		if f.Geometry == nil {
			skipped++
			continue
		}
		p, err := representative(f.Geometry)
		if err != nil {
			skipped++
			continue
		}
		if srid == geo.SRIDWGS84 {
			if p, err = geo.PointToMercator(p); err != nil {
				return nil, eris.Wrapf(err, "poi: %s", category)
			}
		}
		pts = append(pts, p)
	}

	if skipped > 0 {
		zap.L().Debug("poi: skipped features without usable geometry",
			zap.String("component", "poi"),
			zap.String("category", category),
			zap.Int("skipped", skipped),
		)
	}
	return pts, nil
}

func representative(g orb.Geometry) (orb.Point, error) {
	switch v := g.(type) {
	case orb.Point:
		return v, nil
	case orb.MultiPoint:
		if len(v) == 0 {
			return orb.Point{}, eris.New("poi: empty multipoint")
		}
		return v[0], nil
	case orb.LineString:
		if len(v) == 0 {
			return orb.Point{}, eris.New("poi: empty linestring")
		}
	case orb.Polygon:
		if len(v) == 0 || len(v[0]) == 0 {
			return orb.Point{}, eris.New("poi: empty polygon")
		}
	case orb.MultiPolygon:
		if len(v) == 0 {
			return orb.Point{}, eris.New("poi: empty multipolygon")
		}
	}
	c, _ := planar.CentroidArea(g)
	return c, nil
}
