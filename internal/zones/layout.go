// Package zones loads the site layout: the named polygons tracks are
// counted against.
package zones

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/zonecount/internal/counting"
	"github.com/banshee-data/zonecount/internal/geometry"
)

// Priority modes.
const (
	PriorityAll        = "all"
	PriorityFirstMatch = "first-match"
)

// Zone is one counting region in image coordinates.
type Zone struct {
	Name    string      `yaml:"name" validate:"required"`
	Kind    string      `yaml:"kind" validate:"omitempty,oneof=vehicle pedestrian"`
	Classes []string    `yaml:"classes" validate:"omitempty,dive,required"`
	Points  [][]float64 `yaml:"points" validate:"min=3,dive,len=2"`

	polygon geometry.Polygon
}

// Layout is the set of zones for one camera view. Zones are listed in
// priority order.
type Layout struct {
	Site     string `yaml:"site"`
	Priority string `yaml:"priority" validate:"omitempty,oneof=all first-match"`
	Zones    []Zone `yaml:"zones" validate:"required,min=1,dive"`
}

// Load reads and validates a YAML layout file.
func Load(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layout: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML layout.
func Parse(data []byte) (*Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse layout YAML: %w", err)
	}
	if err := validator.New().Struct(l); err != nil {
		return nil, fmt.Errorf("invalid layout: %w", err)
	}
	if l.Priority == "" {
		l.Priority = PriorityAll
	}

	seen := make(map[string]bool, len(l.Zones))
	for i := range l.Zones {
		z := &l.Zones[i]
		if seen[z.Name] {
			return nil, fmt.Errorf("invalid layout: duplicate zone %q", z.Name)
		}
		seen[z.Name] = true

		if z.Kind == "" {
			z.Kind = string(counting.Vehicle)
		}
		if len(z.Classes) == 0 {
			if z.Kind == string(counting.Pedestrian) {
				z.Classes = []string{"person"}
			} else {
				z.Classes = []string{"car"}
			}
		}
		z.polygon = make(geometry.Polygon, len(z.Points))
		for j, p := range z.Points {
			z.polygon[j] = geometry.Point{X: p[0], Y: p[1]}
		}
	}
	return &l, nil
}

// Polygon returns the zone outline.
func (z *Zone) Polygon() geometry.Polygon { return z.polygon }

// Contains reports whether p lies in the zone.
func (z *Zone) Contains(p geometry.Point) bool {
	return geometry.Contains(p, z.polygon)
}

// Accepts reports whether tracks of class are counted in this zone.
func (z *Zone) Accepts(class string) bool {
	for _, c := range z.Classes {
		if c == class {
			return true
		}
	}
	return false
}

// Kinds maps each zone name to its counting kind.
func (l *Layout) Kinds() map[string]counting.ZoneKind {
	out := make(map[string]counting.ZoneKind, len(l.Zones))
	for _, z := range l.Zones {
		out[z.Name] = counting.ZoneKind(z.Kind)
	}
	return out
}

// Names returns zone names in priority order.
func (l *Layout) Names() []string {
	out := make([]string, len(l.Zones))
	for i, z := range l.Zones {
		out[i] = z.Name
	}
	return out
}

// FirstMatch reports whether only the highest-priority zone may count an
// entry per frame.
func (l *Layout) FirstMatch() bool { return l.Priority == PriorityFirstMatch }
