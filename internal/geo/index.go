// Package geo holds the planar geometry primitives used by the scoring engine:
// a bounding-box index, clamped interpolation, CRS reprojection, EWKB codecs
// and grid file loaders.
package geo

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"
)

// Index is a bounding-box index over a fixed dataset of records. Records are
// keyed by their bbox centre in a quadtree; queries are widened by the largest
// record half-extent so no intersecting record is ever missed.
type Index struct {
	tree   *quadtree.Quadtree
	bounds []orb.Bound
	padX   float64
	padY   float64
}

type indexEntry struct {
	center orb.Point
	id     int
}

func (e indexEntry) Point() orb.Point { return e.center }

// NewIndex builds an index over the given record bounds. The position of a
// bound in the slice is its record index.
func NewIndex(bounds []orb.Bound) *Index {
	idx := &Index{bounds: bounds}
	if len(bounds) == 0 {
		return idx
	}

	extent := bounds[0]
	for _, b := range bounds[1:] {
		extent = extent.Union(b)
	}
	idx.tree = quadtree.New(extent)

	for i, b := range bounds {
		idx.padX = math.Max(idx.padX, (b.Max[0]-b.Min[0])/2)
		idx.padY = math.Max(idx.padY, (b.Max[1]-b.Min[1])/2)
		// The centre of a member bound always lies inside the union extent.
		_ = idx.tree.Add(indexEntry{center: b.Center(), id: i})
	}
	return idx
}

// NewPointIndex builds an index over a point dataset.
func NewPointIndex(points []orb.Point) *Index {
	bounds := make([]orb.Bound, len(points))
	for i, p := range points {
		bounds[i] = p.Bound()
	}
	return NewIndex(bounds)
}

// Len returns the number of indexed records.
func (idx *Index) Len() int {
	return len(idx.bounds)
}

// CandidatesIntersecting returns, in ascending order, the index of every
// record whose bounding box intersects env. Callers must still run exact
// geometric tests on the result.
func (idx *Index) CandidatesIntersecting(env orb.Bound) []int {
	if idx.tree == nil {
		return nil
	}

	query := orb.Bound{
		Min: orb.Point{env.Min[0] - idx.padX, env.Min[1] - idx.padY},
		Max: orb.Point{env.Max[0] + idx.padX, env.Max[1] + idx.padY},
	}

	found := idx.tree.InBound(nil, query)
	ids := make([]int, 0, len(found))
	for _, p := range found {
		id := p.(indexEntry).id
		if idx.bounds[id].Intersects(env) {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}
