package geo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultRegionField is the grid attribute that names a cell's city.
const DefaultRegionField = "city_name"

// ErrInvalidInput marks grid files the loader cannot score, such as one
// without the region attribute.
var ErrInvalidInput = eris.New("invalid input")

// Record is one polygonal grid cell read from a file, in EPSG:3857.
type Record struct {
	Geometry orb.Geometry
	Region   string
}

// GridOptions configures grid file loading.
type GridOptions struct {
	RegionField string // attribute holding the region name (default city_name)
	SourceSRID  int    // CRS of the file; 4326 files are reprojected to 3857 (default 3857)
}

// LoadGrid reads a polygon grid from an ESRI shapefile (.shp) or GeoJSON
// (.geojson, .json) file. Non-polygonal records are skipped; a file without
// any polygon is an error.
func LoadGrid(path string, opts GridOptions) ([]Record, error) {
	if opts.RegionField == "" {
		opts.RegionField = DefaultRegionField
	}
	if opts.SourceSRID == 0 {
		opts.SourceSRID = SRIDMercator
	}
	if opts.SourceSRID != SRIDMercator && opts.SourceSRID != SRIDWGS84 {
		return nil, eris.Errorf("geo: unsupported grid srid %d", opts.SourceSRID)
	}

	var (
		records []Record
		err     error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".shp":
		records, err = loadShapefile(path, opts.RegionField)
	case ".geojson", ".json":
		records, err = loadGeoJSON(path, opts.RegionField)
	default:
		return nil, eris.Errorf("geo: unsupported grid file extension %q", ext)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, eris.Errorf("geo: grid %s contains no polygons", path)
	}

	if opts.SourceSRID == SRIDWGS84 {
		for i := range records {
			g, err := ToMercator(records[i].Geometry)
			if err != nil {
				return nil, eris.Wrapf(err, "geo: grid record %d", i)
			}
			records[i].Geometry = g
		}
	}
	return records, nil
}

func loadShapefile(path, regionField string) ([]Record, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	regionIdx := fieldIndex(reader, regionField)
	if regionIdx < 0 {
		return nil, eris.Wrapf(ErrInvalidInput, "grid %s has no %q attribute", path, regionField)
	}

	var records []Record
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		g := shpPolygonToOrb(poly)
		if g == nil {
			skipped++
			continue
		}

		records = append(records, Record{
			Geometry: g,
			Region:   strings.TrimSpace(strings.TrimRight(reader.Attribute(regionIdx), "\x00")),
		})
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "geo: read shapefile %s", path)
	}

	if skipped > 0 {
		zap.L().Debug("geo: skipped shapefile records", zap.String("path", path), zap.Int("skipped", skipped))
	}
	return records, nil
}

// fieldIndex returns the index of a named field in the shapefile, or -1 if not found.
func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}

// shpPolygonToOrb converts shapefile parts to an orb polygon. Shapefile outer
// rings are clockwise; counter-clockwise rings are holes of the preceding
// outer ring.
func shpPolygonToOrb(p *shp.Polygon) orb.Geometry {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var polys orb.MultiPolygon
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			continue
		}

		ring := make(orb.Ring, 0, end-start)
		for j := start; j < end; j++ {
			ring = append(ring, orb.Point{p.Points[j].X, p.Points[j].Y})
		}

		if ring.Orientation() == orb.CW || len(polys) == 0 {
			polys = append(polys, orb.Polygon{ring})
			continue
		}
		last := len(polys) - 1
		polys[last] = append(polys[last], ring)
	}

	switch len(polys) {
	case 0:
		return nil
	case 1:
		return polys[0]
	}
	return polys
}

func loadGeoJSON(path, regionField string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: read grid %s", path)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: parse grid %s", path)
	}

	records := make([]Record, 0, len(fc.Features))
	var skipped int
	var hasField bool
	for _, f := range fc.Features {
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			skipped++
			continue
		}
		rec := Record{Geometry: f.Geometry}
		if v, ok := f.Properties[regionField]; ok {
			hasField = true
			if v != nil {
				rec.Region = strings.TrimSpace(fmt.Sprint(v))
			}
		}
		records = append(records, rec)
	}
	if len(records) > 0 && !hasField {
		return nil, eris.Wrapf(ErrInvalidInput, "grid %s has no %q attribute", path, regionField)
	}

	if skipped > 0 {
		zap.L().Debug("geo: skipped geojson features", zap.String("path", path), zap.Int("skipped", skipped))
	}
	return records, nil
}
