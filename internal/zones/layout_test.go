package zones

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/zonecount/internal/counting"
	"github.com/banshee-data/zonecount/internal/geometry"
)

const sampleLayout = `
site: calle-principal
zones:
  - name: green
    points: [[0, 0], [100, 0], [100, 100], [0, 100]]
  - name: red
    classes: [car, bus]
    points: [[100, 0], [200, 0], [200, 100], [100, 100]]
  - name: crosswalk
    kind: pedestrian
    points: [[0, 100], [200, 100], [200, 150]]
`

func TestParse(t *testing.T) {
	l, err := Parse([]byte(sampleLayout))
	require.NoError(t, err)

	assert.Equal(t, "calle-principal", l.Site)
	assert.Equal(t, []string{"green", "red", "crosswalk"}, l.Names())
	assert.False(t, l.FirstMatch())
	assert.Equal(t, map[string]counting.ZoneKind{
		"green":     counting.Vehicle,
		"red":       counting.Vehicle,
		"crosswalk": counting.Pedestrian,
	}, l.Kinds())

	green := &l.Zones[0]
	assert.Equal(t, geometry.Polygon{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}}, green.Polygon())
	assert.True(t, green.Contains(geometry.Point{X: 50, Y: 50}))
	assert.False(t, green.Contains(geometry.Point{X: 150, Y: 50}))
	assert.True(t, green.Accepts("car"))
	assert.False(t, green.Accepts("person"))

	assert.True(t, l.Zones[1].Accepts("bus"))
	assert.Equal(t, []string{"person"}, l.Zones[2].Classes)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no zones", "site: x\n"},
		{"missing name", "zones:\n  - points: [[0,0],[1,0],[1,1]]\n"},
		{"too few points", "zones:\n  - name: a\n    points: [[0,0],[1,0]]\n"},
		{"point with three coordinates", "zones:\n  - name: a\n    points: [[0,0,0],[1,0],[1,1]]\n"},
		{"unknown kind", "zones:\n  - name: a\n    kind: bicycle\n    points: [[0,0],[1,0],[1,1]]\n"},
		{"unknown priority", "priority: best\nzones:\n  - name: a\n    points: [[0,0],[1,0],[1,1]]\n"},
		{"duplicate zone", "zones:\n  - name: a\n    points: [[0,0],[1,0],[1,1]]\n  - name: a\n    points: [[0,0],[1,0],[1,1]]\n"},
		{"not yaml", "zones: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "layout.yaml")
	require.NoError(t, os.WriteFile(p, []byte("priority: first-match\n"+sampleLayout), 0o644))

	l, err := Load(p)
	require.NoError(t, err)
	assert.True(t, l.FirstMatch())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadExampleLayout(t *testing.T) {
	l, err := Load("../../config/zones.example.yaml")
	require.NoError(t, err)
	assert.Equal(t, "main-st-junction", l.Site)
	assert.Equal(t, []string{"green", "red", "crosswalk"}, l.Names())
	assert.Equal(t, counting.Pedestrian, l.Kinds()["crosswalk"])
	assert.True(t, l.Zones[2].Accepts("person"))
	assert.False(t, l.FirstMatch())
}
