package geo

import (
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// EncodeEWKB converts an orb geometry to little-endian EWKB tagged with srid.
// Points, polygons and multipolygons are supported.
func EncodeEWKB(g orb.Geometry, srid int) ([]byte, error) {
	var t geom.T

	switch v := g.(type) {
	case orb.Point:
		t = geom.NewPointFlat(geom.XY, []float64{v[0], v[1]}).SetSRID(srid)

	case orb.Polygon:
		p, err := geom.NewPolygon(geom.XY).SetCoords(polygonCoords(v))
		if err != nil {
			return nil, eris.Wrap(err, "geo: build polygon")
		}
		t = p.SetSRID(srid)

	case orb.MultiPolygon:
		coords := make([][][]geom.Coord, len(v))
		for i, p := range v {
			coords[i] = polygonCoords(p)
		}
		mp, err := geom.NewMultiPolygon(geom.XY).SetCoords(coords)
		if err != nil {
			return nil, eris.Wrap(err, "geo: build multipolygon")
		}
		t = mp.SetSRID(srid)

	default:
		return nil, eris.Errorf("geo: unsupported geometry type %T", g)
	}

	data, err := ewkb.Marshal(t, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode EWKB")
	}
	return data, nil
}

// DecodePoint decodes a (E)WKB point. A multipoint yields its first member.
func DecodePoint(data []byte) (orb.Point, error) {
	t, err := ewkb.Unmarshal(data)
	if err != nil {
		return orb.Point{}, eris.Wrap(err, "geo: decode EWKB")
	}

	switch v := t.(type) {
	case *geom.Point:
		if v.Empty() {
			return orb.Point{}, eris.New("geo: empty point")
		}
		return orb.Point{v.X(), v.Y()}, nil
	case *geom.MultiPoint:
		if v.NumPoints() == 0 {
			return orb.Point{}, eris.New("geo: empty multipoint")
		}
		p := v.Point(0)
		return orb.Point{p.X(), p.Y()}, nil
	}
	return orb.Point{}, eris.Errorf("geo: expected point geometry, got %T", t)
}

func polygonCoords(p orb.Polygon) [][]geom.Coord {
	rings := make([][]geom.Coord, len(p))
	for i, r := range p {
		coords := make([]geom.Coord, len(r))
		for j, pt := range r {
			coords[j] = geom.Coord{pt[0], pt[1]}
		}
		rings[i] = coords
	}
	return rings
}

// DecodeEWKB decodes a (E)WKB point, polygon or multipolygon.
func DecodeEWKB(data []byte) (orb.Geometry, error) {
	t, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "geo: decode EWKB")
	}

	switch v := t.(type) {
	case *geom.Point:
		return orb.Point{v.X(), v.Y()}, nil
	case *geom.Polygon:
		return toOrbPolygon(v), nil
	case *geom.MultiPolygon:
		mp := make(orb.MultiPolygon, v.NumPolygons())
		for i := range mp {
			mp[i] = toOrbPolygon(v.Polygon(i))
		}
		return mp, nil
	}
	return nil, eris.Errorf("geo: unsupported geometry %T", t)
}

func toOrbPolygon(p *geom.Polygon) orb.Polygon {
	out := make(orb.Polygon, p.NumLinearRings())
	for i := range out {
		coords := p.LinearRing(i).Coords()
		ring := make(orb.Ring, len(coords))
		for j, c := range coords {
			ring[j] = orb.Point{c.X(), c.Y()}
		}
		out[i] = ring
	}
	return out
}
