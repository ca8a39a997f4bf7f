package jobs

import (
	"context"
	"sync"

	"github.com/geosight/geosight/internal/geo"
	"github.com/geosight/geosight/internal/scoring"
)

// GridLoader returns a fresh, unscored grid for one job.
type GridLoader interface {
	Load(ctx context.Context) (*scoring.Grid, error)
}

// GridFile loads the grid dataset once and hands every job its own copy of
// the cells.
type GridFile struct {
	Path    string
	Options geo.GridOptions

	once    sync.Once
	records []geo.Record
	err     error
}

// Load implements GridLoader.
func (g *GridFile) Load(context.Context) (*scoring.Grid, error) {
	g.once.Do(func() {
		g.records, g.err = geo.LoadGrid(g.Path, g.Options)
	})
	if g.err != nil {
		return nil, g.err
	}
	return scoring.NewGrid(g.records)
}

// StaticGrid builds grids from in-memory records.
type StaticGrid []geo.Record

// Load implements GridLoader.
func (s StaticGrid) Load(context.Context) (*scoring.Grid, error) {
	return scoring.NewGrid(s)
}
