package feed

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/zonecount/internal/geometry"
	"github.com/banshee-data/zonecount/internal/monitoring"
	"github.com/banshee-data/zonecount/internal/timeutil"
)

func quiet(t *testing.T) {
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })
}

func TestReader_Next(t *testing.T) {
	quiet(t)
	input := strings.Join([]string{
		`{"frame": 3, "ts": 1718000000.25, "detections": [{"label": "car", "confidence": 0.8, "box": [10, 10, 50, 50]}]}`,
		``,
		`{"time": "2024-06-10T06:13:20.5Z", "detections": [{"label": "person", "bbox": [5, 5, 10, 20]}]}`,
		`not json`,
		`{"detections": [{"label": "car", "box": [1, 2, 3]}]}`,
		`{"detections": []}`,
	}, "\n")

	clock := timeutil.NewMockClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	r := NewReader(strings.NewReader(input), clock)
	ctx := context.Background()

	f, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), f.Index)
	assert.Equal(t, time.Unix(1718000000, 250_000_000).UTC(), f.Time)
	assert.Equal(t, []Detection{{Label: "car", Confidence: 0.8, Box: geometry.Box{X1: 10, Y1: 10, X2: 50, Y2: 50}}}, f.Detections)

	f, err = r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), f.Index, "index continues from the last explicit frame number")
	assert.Equal(t, time.Date(2024, 6, 10, 6, 13, 20, 500_000_000, time.UTC), f.Time)
	require.Len(t, f.Detections, 1)
	assert.Equal(t, 1.0, f.Detections[0].Confidence, "missing confidence means certain")
	assert.Equal(t, geometry.Box{X1: 5, Y1: 5, X2: 15, Y2: 25}, f.Detections[0].Box)

	f, err = r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), f.Time, "frames without a timestamp use the clock")
	assert.Empty(t, f.Detections)
	assert.Equal(t, 2, r.Skipped())

	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewReader(strings.NewReader(`{"detections": []}`), nil)
	_, err := r.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun(t *testing.T) {
	quiet(t)
	input := "{\"frame\": 0}\n{\"frame\": 1}\n{\"frame\": 2}\n"

	var seen []int64
	err := Run(context.Background(), NewReader(strings.NewReader(input), nil), func(f Frame) error {
		seen = append(seen, f.Index)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2}, seen)

	stop := errors.New("stop")
	err = Run(context.Background(), NewReader(strings.NewReader(input), nil), func(f Frame) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}
