package poi

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/geosight/geosight/internal/scoring"
)

// Catalog lists the POI categories available for scoring.
type Catalog interface {
	Categories(ctx context.Context) ([]scoring.Category, error)
}

// ConfigLister is the part of the job store that holds the poi_configs table.
type ConfigLister interface {
	ListPOIConfigs(ctx context.Context) ([]scoring.Category, error)
}

// StoreCatalog reads the catalogue from the poi_configs table.
type StoreCatalog struct {
	Store ConfigLister
}

// Categories implements Catalog.
func (c StoreCatalog) Categories(ctx context.Context) ([]scoring.Category, error) {
	cats, err := c.Store.ListPOIConfigs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "poi: list catalogue")
	}
	return cats, nil
}

// FileCatalog reads the catalogue from a YAML category preset file.
type FileCatalog struct {
	Path string
}

// Categories implements Catalog. The result is sorted by name.
func (c FileCatalog) Categories(context.Context) ([]scoring.Category, error) {
	cats, err := scoring.LoadCategories(c.Path)
	if err != nil {
		return nil, err
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i].Name < cats[j].Name })
	return cats, nil
}

// Select returns the named catalogue entries in the requested order, marked
// active. Unknown names are an input error.
func Select(catalog []scoring.Category, names []string) ([]scoring.Category, error) {
	byName := make(map[string]scoring.Category, len(catalog))
	for _, c := range catalog {
		byName[c.Name] = c
	}
	out := make([]scoring.Category, 0, len(names))
	for _, n := range names {
		c, ok := byName[n]
		if !ok {
			return nil, eris.Wrapf(scoring.ErrInvalidInput, "poi: unknown category %q", n)
		}
		c.IsActive = true
		out = append(out, c)
	}
	return out, nil
}
