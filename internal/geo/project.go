package geo

import (
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/rotisserie/eris"
)

// Supported spatial reference identifiers.
const (
	SRIDWGS84    = 4326
	SRIDMercator = 3857
)

// ParseSRID parses "EPSG:4326", "4326" or "EPSG:3857" style identifiers.
func ParseSRID(s string) (int, error) {
	v := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "EPSG:")
	switch v {
	case "4326":
		return SRIDWGS84, nil
	case "3857", "900913":
		return SRIDMercator, nil
	}
	return 0, eris.Errorf("geo: unsupported crs %q", s)
}

// ToMercator returns a copy of g reprojected from WGS84 lon/lat to web mercator.
func ToMercator(g orb.Geometry) (orb.Geometry, error) {
	out := project.Geometry(orb.Clone(g), project.WGS84.ToMercator)
	if !finite(out.Bound()) {
		return nil, eris.New("geo: reproject to EPSG:3857 produced non-finite coordinates")
	}
	return out, nil
}

// ToWGS84 returns a copy of g reprojected from web mercator to WGS84 lon/lat.
func ToWGS84(g orb.Geometry) (orb.Geometry, error) {
	out := project.Geometry(orb.Clone(g), project.Mercator.ToWGS84)
	if !finite(out.Bound()) {
		return nil, eris.New("geo: reproject to EPSG:4326 produced non-finite coordinates")
	}
	return out, nil
}

// PointToMercator reprojects a single lon/lat point.
func PointToMercator(p orb.Point) (orb.Point, error) {
	out := project.WGS84.ToMercator(p)
	if !finite(out.Bound()) {
		return orb.Point{}, eris.Errorf("geo: point %v cannot be projected to EPSG:3857", p)
	}
	return out, nil
}

func finite(b orb.Bound) bool {
	for _, v := range []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
