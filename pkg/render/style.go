package render

import (
	"fmt"
	"os"

	"github.com/ritzau/kg-explorer/pkg/model"
	"gopkg.in/yaml.v3"
)

// CategoryStyle is how nodes of one category are drawn
type CategoryStyle struct {
	Color string  `yaml:"color" json:"color"`
	Size  float64 `yaml:"size" json:"size"` // Default radius
}

// Style maps categories to their drawing style. It is a plain value handed
// to the pipeline, never a package-level table.
type Style struct {
	Categories map[model.Category]CategoryStyle `yaml:"categories" json:"categories"`
	Default    CategoryStyle                    `yaml:"default" json:"default"`
}

// DefaultStyle returns the built-in palette
func DefaultStyle() Style {
	return Style{
		Categories: map[model.Category]CategoryStyle{
			model.CategoryPublication: {Color: "#3498db", Size: 20},
			model.CategoryOrganism:    {Color: "#27ae60", Size: 15},
			model.CategoryPhenomenon:  {Color: "#e74c3c", Size: 15},
			model.CategoryFinding:     {Color: "#f39c12", Size: 10},
			model.CategoryPlatform:    {Color: "#9b59b6", Size: 12},
			model.CategoryStressor:    {Color: "#e67e22", Size: 12},
			model.CategoryAuthor:      {Color: "#34495e", Size: 8},
		},
		Default: CategoryStyle{Color: "#95a5a6", Size: model.DefaultNodeSize},
	}
}

// LoadStyle reads a YAML style file on top of the defaults. Categories and
// fields missing from the file keep their default values.
func LoadStyle(path string) (Style, error) {
	style := DefaultStyle()
	if path == "" {
		return style, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return style, fmt.Errorf("reading style %s: %w", path, err)
	}

	var file Style
	if err := yaml.Unmarshal(data, &file); err != nil {
		return style, fmt.Errorf("parsing style %s: %w", path, err)
	}

	for c, cs := range file.Categories {
		if !c.Valid() {
			return style, fmt.Errorf("style %s: unknown category %q", path, c)
		}
		style.Categories[c] = merge(style.Categories[c], cs)
	}
	style.Default = merge(style.Default, file.Default)
	return style, nil
}

func merge(base, over CategoryStyle) CategoryStyle {
	if over.Color != "" {
		base.Color = over.Color
	}
	if over.Size > 0 {
		base.Size = over.Size
	}
	return base
}

// For returns the style of a category, falling back to the default
func (s Style) For(c model.Category) CategoryStyle {
	cs, ok := s.Categories[c]
	if !ok {
		return s.Default
	}
	return merge(s.Default, cs)
}

// Radius returns the drawn radius of a node: its own size, else the
// category size, else the default
func (s Style) Radius(n *model.Node) float64 {
	if n.Size > 0 {
		return n.Size
	}
	if r := s.For(n.Category).Size; r > 0 {
		return r
	}
	return model.DefaultNodeSize
}
