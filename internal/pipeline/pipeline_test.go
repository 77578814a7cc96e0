package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/zonecount/internal/config"
	"github.com/banshee-data/zonecount/internal/counting"
	"github.com/banshee-data/zonecount/internal/feed"
	"github.com/banshee-data/zonecount/internal/geometry"
	"github.com/banshee-data/zonecount/internal/interval"
	"github.com/banshee-data/zonecount/internal/monitoring"
	"github.com/banshee-data/zonecount/internal/zones"
)

const testLayout = `
site: test
zones:
  - name: green
    points: [[0, 0], [100, 0], [100, 100], [0, 100]]
  - name: crosswalk
    kind: pedestrian
    points: [[0, 200], [100, 200], [100, 300], [0, 300]]
`

var t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func quiet(t *testing.T) {
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })
}

func newPipeline(t *testing.T, layoutYAML string, tune func(*config.TuningConfig), sink counting.Sink, obs ...counting.Observer) *Pipeline {
	t.Helper()
	layout, err := zones.Parse([]byte(layoutYAML))
	require.NoError(t, err)
	cfg := config.EmptyTuningConfig()
	if tune != nil {
		tune(cfg)
	}
	m := counting.NewMachine(MachineOptionsFromTuning(cfg, layout), sink)
	pc := ConfigFromTuning(cfg, layout, m)
	pc.Observers = obs
	p, err := New(pc)
	require.NoError(t, err)
	return p
}

// car returns a 40px wide car box whose bottom-centre sits at (cx, 50).
func car(cx float64) feed.Detection {
	return feed.Detection{Label: "car", Confidence: 0.9, Box: geometry.Box{X1: cx - 20, Y1: 10, X2: cx + 20, Y2: 50}}
}

func frame(i int, dets ...feed.Detection) feed.Frame {
	return feed.Frame{Index: int64(i), Time: t0.Add(time.Duration(i) * 40 * time.Millisecond), Detections: dets}
}

type recorder struct{ events []counting.Event }

func (r *recorder) Observe(ev counting.Event) { r.events = append(r.events, ev) }

func TestPipeline_CarCrossesZone(t *testing.T) {
	quiet(t)
	rec := &recorder{}
	p := newPipeline(t, testLayout, nil, nil, rec)
	ctx := context.Background()

	person := feed.Detection{Label: "person", Confidence: 0.5, Box: geometry.Box{X1: 40, Y1: 230, X2: 60, Y2: 270}}
	noise := []feed.Detection{
		{Label: "car", Confidence: 0.1, Box: geometry.Box{X1: 300, Y1: 300, X2: 340, Y2: 340}},
		{Label: "dog", Confidence: 0.9, Box: geometry.Box{X1: 10, Y1: 10, X2: 30, Y2: 30}},
	}

	var perFrame [][]counting.Event
	for k := 0; k <= 6; k++ {
		dets := append([]feed.Detection{car(45 + 10*float64(k))}, noise...)
		if k < 2 {
			dets = append(dets, person)
		}
		evs, err := p.ProcessFrame(ctx, frame(k, dets...))
		require.NoError(t, err)
		perFrame = append(perFrame, evs)
	}

	assert.Empty(t, perFrame[0], "nothing is confirmed on the first frame")
	require.Len(t, perFrame[1], 2)
	assert.Equal(t, counting.EventEntry, perFrame[1][0].Kind)
	assert.Equal(t, "green", perFrame[1][0].Zone)
	assert.Equal(t, counting.TrackRef{Class: "car", ID: 0}, perFrame[1][0].Track)
	assert.Equal(t, interval.Interval{}, perFrame[1][0].Interval)
	assert.Equal(t, "crosswalk", perFrame[1][1].Zone)
	assert.Equal(t, counting.Pedestrian, perFrame[1][1].ZoneKind)
	for k := 2; k <= 5; k++ {
		assert.Empty(t, perFrame[k], "frame %d", k)
	}
	require.Len(t, perFrame[6], 1)
	assert.Equal(t, counting.EventExit, perFrame[6][0].Kind)
	assert.Equal(t, perFrame[1][0].DetectionID, perFrame[6][0].DetectionID)
	assert.Equal(t, frame(6).Time, perFrame[6][0].Time)

	assert.Len(t, rec.events, 3, "observers see every event")

	counts := p.Machine().Counts()
	assert.Equal(t, 1, counts.Vehicles)
	assert.Equal(t, 1, counts.Persons)

	s := p.Stats()
	assert.Equal(t, int64(7), s.Frames)
	assert.Equal(t, int64(7*3+2), s.Detections)
	assert.Equal(t, int64(7+2), s.Kept)
	assert.Equal(t, int64(3), s.Events)
	assert.Equal(t, 1, s.Trackers["car"].Created)
	assert.Equal(t, 1, s.Trackers["person"].Confirmed)
}

func TestPipeline_PrunesExpiredTracks(t *testing.T) {
	quiet(t)
	p := newPipeline(t, testLayout, func(c *config.TuningConfig) {
		maxAge := 2
		c.MaxAge = &maxAge
	}, nil)
	ctx := context.Background()

	for k := 0; k < 2; k++ {
		_, err := p.ProcessFrame(ctx, frame(k, car(50)))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, p.Machine().Len())

	for k := 2; k < 6; k++ {
		_, err := p.ProcessFrame(ctx, frame(k))
		require.NoError(t, err)
	}
	assert.Equal(t, 0, p.Machine().Len())
	assert.Equal(t, 1, p.Machine().Counts().Zones["green"])
}

type failingSink struct{ counting.NopSink }

func (failingSink) RecordEntry(context.Context, counting.Entry) (int64, error) {
	return 0, errors.New("database is locked")
}

func TestPipeline_SinkFailureIsRecoverable(t *testing.T) {
	quiet(t)
	p := newPipeline(t, testLayout, nil, failingSink{})
	ctx := context.Background()

	_, err := p.ProcessFrame(ctx, frame(0, car(50)))
	require.NoError(t, err)
	evs, err := p.ProcessFrame(ctx, frame(1, car(52)))
	require.Error(t, err)
	assert.ErrorIs(t, err, counting.ErrSink)
	require.Len(t, evs, 1)
	assert.Equal(t, int64(1), evs[0].DetectionID)

	evs, err = p.ProcessFrame(ctx, frame(2, car(54)))
	assert.NoError(t, err)
	assert.Empty(t, evs)
	assert.Equal(t, int64(1), p.Stats().Warnings)
}

func TestPipeline_FirstMatchPriority(t *testing.T) {
	quiet(t)
	layout := `
priority: first-match
zones:
  - name: inner
    points: [[0, 0], [100, 0], [100, 100], [0, 100]]
  - name: outer
    points: [[0, 0], [200, 0], [200, 200], [0, 200]]
`
	p := newPipeline(t, layout, func(c *config.TuningConfig) {
		exits := false
		c.TrackExits = &exits
	}, nil)
	ctx := context.Background()

	_, _ = p.ProcessFrame(ctx, frame(0, car(50)))
	evs, err := p.ProcessFrame(ctx, frame(1, car(50)))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "inner", evs[0].Zone)

	evs, err = p.ProcessFrame(ctx, frame(2, car(50)))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "outer", evs[0].Zone)
}

func TestNew_Errors(t *testing.T) {
	quiet(t)
	layout, err := zones.Parse([]byte(testLayout))
	require.NoError(t, err)
	m := counting.NewMachine(counting.DefaultOptions(), nil)
	base := ConfigFromTuning(config.EmptyTuningConfig(), layout, m)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no layout", func(c *Config) { c.Layout = nil }},
		{"no machine", func(c *Config) { c.Machine = nil }},
		{"no classes", func(c *Config) { c.Classes = nil }},
		{"bad tracker config", func(c *Config) { c.Tracker.IoUThreshold = 2 }},
		{"bad centroid", func(c *Config) {
			c.Classes = []config.ClassConfig{{Name: "car", Labels: []string{"car"}, Centroid: "top"}}
		}},
		{"label in two classes", func(c *Config) {
			c.Classes = []config.ClassConfig{
				{Name: "car", Labels: []string{"car"}},
				{Name: "vehicle", Labels: []string{"car", "bus"}},
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}
