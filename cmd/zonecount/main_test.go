package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/zonecount/internal/db"
)

const layoutYAML = `site: test-junction
zones:
  - name: green
    points: [[0, 0], [100, 0], [100, 100], [0, 100]]
  - name: crosswalk
    kind: pedestrian
    points: [[0, 200], [100, 200], [100, 300], [0, 300]]
`

// writeFeed writes a car driving right to left through the green zone.
func writeFeed(t *testing.T, dir string) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("not json\n")
	for i := 0; i <= 20; i++ {
		cx := 150 - 10*float64(i)
		fmt.Fprintf(&sb, `{"frame": %d, "ts": %.1f, "detections": [{"label": "car", "confidence": 0.9, "box": [%g, 10, %g, 50]}]}`+"\n",
			i, 1773478800+0.1*float64(i), cx-20, cx+20)
	}
	path := filepath.Join(dir, "feed.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func TestRunCountsCrossing(t *testing.T) {
	dir := t.TempDir()
	layoutPath := filepath.Join(dir, "zones.yaml")
	require.NoError(t, os.WriteFile(layoutPath, []byte(layoutYAML), 0o644))
	dbPath := filepath.Join(dir, "run.db")

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-layout", layoutPath,
		"-db", dbPath,
		"-input", writeFeed(t, dir),
	}, nil, &out)
	require.NoError(t, err)

	got := out.String()
	assert.Contains(t, got, "Zone GREEN: Total: 1")
	assert.Contains(t, got, "Zone CROSSWALK: Total: 0")
	assert.Contains(t, got, "Exits:\n  GREEN ID: 1")
	assert.Contains(t, got, "Headways:\ngreen: no intervals")

	database, err := db.NewDB(dbPath)
	require.NoError(t, err)
	defer database.Close()
	dets, err := database.RecentDetections(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "green", dets[0].Zone)
	assert.Equal(t, "car", dets[0].TrackClass)
	assert.NotNil(t, dets[0].ExitTime)
}

func TestRunBoardEvery(t *testing.T) {
	dir := t.TempDir()
	layoutPath := filepath.Join(dir, "zones.yaml")
	require.NoError(t, os.WriteFile(layoutPath, []byte(layoutYAML), 0o644))

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-layout", layoutPath,
		"-db", "",
		"-board-every", "7",
		"-input", writeFeed(t, dir),
	}, nil, &out)
	require.NoError(t, err)

	// 21 frames: three periodic boards plus the final one.
	assert.Equal(t, 4, strings.Count(out.String(), "Zone GREEN:"))
	assert.NotContains(t, out.String(), "Headways:")
}

func TestRunMigrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "m.db")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-db", dbPath, "migrate", "up"}, nil, &out))
	assert.Contains(t, out.String(), "Current version: 2")
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-version"}, nil, &out))
	assert.True(t, strings.HasPrefix(out.String(), "zonecount dev"))
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	layoutPath := filepath.Join(dir, "zones.yaml")
	require.NoError(t, os.WriteFile(layoutPath, []byte(layoutYAML), 0o644))

	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"frobnicate"}},
		{"migrate without db", []string{"-db", "", "migrate", "up"}},
		{"negative fps", []string{"-fps", "-1"}},
		{"missing layout", []string{"-layout", filepath.Join(dir, "nope.yaml"), "-db", ""}},
		{"bad config extension", []string{"-config", layoutPath, "-layout", layoutPath, "-db", ""}},
		{"missing input", []string{"-layout", layoutPath, "-db", "", "-input", filepath.Join(dir, "nope.jsonl")}},
		{"bad flag", []string{"-no-such-flag"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Error(t, run(context.Background(), tt.args, nil, &out))
		})
	}
}
