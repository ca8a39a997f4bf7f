package scoring

import (
	"context"
	"sync"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
)

// fakeSource serves fixed points per category.
type fakeSource struct {
	mu     sync.Mutex
	points map[string][]orb.Point
	errs   map[string]error
	calls  []string
}

func (f *fakeSource) Points(_ context.Context, category string) ([]orb.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, category)
	if err := f.errs[category]; err != nil {
		return nil, err
	}
	return f.points[category], nil
}

// recordingReporter records every progress update.
type recordingReporter struct {
	mu          sync.Mutex
	calculate   []float64
	imports     []float64
	onCalculate func(pct float64)
	onImport    func(pct float64)
	err         error
}

func (r *recordingReporter) ReportCalculate(_ context.Context, pct float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.calculate = append(r.calculate, pct)
	if r.onCalculate != nil {
		r.onCalculate(pct)
	}
	return nil
}

func (r *recordingReporter) ReportImport(_ context.Context, pct float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.imports = append(r.imports, pct)
	if r.onImport != nil {
		r.onImport(pct)
	}
	return nil
}

// recordingSink keeps every batch; failOn is the 1-based batch that fails.
type recordingSink struct {
	mu      sync.Mutex
	batches [][]ScoredFeature
	calls   int
	failOn  int
}

func (s *recordingSink) InsertBatch(_ context.Context, features []ScoredFeature) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failOn > 0 && s.calls == s.failOn {
		return eris.New("copy failed")
	}
	s.batches = append(s.batches, features)
	return nil
}

func (s *recordingSink) total() int {
	var n int
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

type errToken struct{}

func (errToken) Killed(context.Context) (bool, error) { return false, eris.New("store unavailable") }

// squareCell returns a size x size square cell with its lower-left corner at (x, y).
func squareCell(x, y, size float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}}
}

// cellAt returns a grid cell with an exact centroid, for distance tests.
func cellAt(x, y float64, region string) GridCell {
	return GridCell{
		Geometry:    squareCell(x-1, y-1, 2),
		Region:      region,
		Centroid:    orb.Point{x, y},
		PerCategory: make(map[string]float64),
	}
}
