package scoring

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// categoryFile is the on-disk layout of a category preset file.
type categoryFile struct {
	Categories []struct {
		Name        string  `yaml:"name"`
		MaxScore    float64 `yaml:"max_score"`
		MaxDistance float64 `yaml:"max_distance"`
		IsActive    *bool   `yaml:"is_active"`
	} `yaml:"categories"`
}

// LoadCategories reads a YAML category preset file. Categories without an
// is_active key are active.
func LoadCategories(path string) ([]Category, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "scoring: read categories %s", path)
	}
	return ParseCategories(data)
}

// ParseCategories decodes a YAML category preset document.
func ParseCategories(data []byte) ([]Category, error) {
	var f categoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "scoring: parse categories")
	}

	cats := make([]Category, 0, len(f.Categories))
	for _, c := range f.Categories {
		active := true
		if c.IsActive != nil {
			active = *c.IsActive
		}
		cats = append(cats, Category{
			Name:        c.Name,
			MaxScore:    c.MaxScore,
			MaxDistance: c.MaxDistance,
			IsActive:    active,
		})
	}

	if err := (Params{Categories: cats}).Validate(); err != nil {
		return nil, err
	}
	return cats, nil
}
