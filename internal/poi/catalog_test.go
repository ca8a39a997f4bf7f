package poi

import (
	"context"
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geosight/geosight/internal/scoring"
)

type fakeLister struct {
	cats []scoring.Category
	err  error
}

func (f fakeLister) ListPOIConfigs(context.Context) ([]scoring.Category, error) {
	return f.cats, f.err
}

func TestStoreCatalog(t *testing.T) {
	cats := []scoring.Category{{Name: "metro", MaxScore: 10, MaxDistance: 500, IsActive: true}}
	got, err := StoreCatalog{Store: fakeLister{cats: cats}}.Categories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cats, got)

	_, err = StoreCatalog{Store: fakeLister{err: errors.New("down")}}.Categories(context.Background())
	assert.ErrorContains(t, err, "poi: list catalogue")
}

func TestFileCatalog(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "categories.yaml", `categories:
  - name: schools
    max_score: 5
    max_distance: 800
  - name: metro
    max_score: 10
    max_distance: 500
    is_active: false
`)

	got, err := FileCatalog{Path: dir + "/categories.yaml"}.Categories(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "metro", got[0].Name)
	assert.False(t, got[0].IsActive)
	assert.Equal(t, "schools", got[1].Name)

	_, err = FileCatalog{Path: dir + "/nope.yaml"}.Categories(context.Background())
	assert.Error(t, err)
}

func TestSelect(t *testing.T) {
	catalog := []scoring.Category{
		{Name: "metro", MaxScore: 10, MaxDistance: 500},
		{Name: "schools", MaxScore: 5, MaxDistance: 800, IsActive: true},
	}

	got, err := Select(catalog, []string{"schools", "metro"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "schools", got[0].Name)
	assert.Equal(t, "metro", got[1].Name)
	assert.True(t, got[1].IsActive)

	_, err = Select(catalog, []string{"parks"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, scoring.ErrInvalidInput))
}
