// Package feed reads detector output: one JSON object per video frame.
//
//	{"frame": 12, "ts": 1718000000.125, "detections": [
//	  {"label": "car", "confidence": 0.81, "box": [x1, y1, x2, y2]}]}
//
// "time" may carry an RFC 3339 timestamp instead of "ts". A detection may
// give "bbox": [x, y, w, h] instead of "box". Frames without a timestamp
// are stamped from the reader's clock.
package feed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/tidwall/gjson"

	"github.com/banshee-data/zonecount/internal/geometry"
	"github.com/banshee-data/zonecount/internal/monitoring"
	"github.com/banshee-data/zonecount/internal/timeutil"
)

// maxLineSize bounds one frame line.
const maxLineSize = 10 << 20

// Detection is one detector box.
type Detection struct {
	Label      string
	Confidence float64
	Box        geometry.Box
}

// Frame is one video frame's detections.
type Frame struct {
	Index      int64
	Time       time.Time
	Detections []Detection
}

// Reader decodes frames from a line-oriented stream.
type Reader struct {
	scanner *bufio.Scanner
	clock   timeutil.Clock
	line    int
	next    int64
	skipped int
}

// NewReader returns a Reader over r. A nil clock uses wall time.
func NewReader(r io.Reader, clock timeutil.Clock) *Reader {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Reader{scanner: s, clock: clock}
}

// Next returns the next frame, io.EOF at end of input, or ctx's error once
// it is cancelled. Malformed lines are logged and skipped.
func (r *Reader) Next(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return Frame{}, fmt.Errorf("read feed: %w", err)
			}
			return Frame{}, io.EOF
		}
		r.line++
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		f, err := r.parse(line)
		if err != nil {
			r.skipped++
			monitoring.Warnf("feed line %d skipped: %v", r.line, err)
			continue
		}
		return f, nil
	}
}

// Skipped returns how many malformed lines have been dropped.
func (r *Reader) Skipped() int { return r.skipped }

func (r *Reader) parse(line []byte) (Frame, error) {
	if !gjson.ValidBytes(line) {
		return Frame{}, errors.New("invalid JSON")
	}
	doc := gjson.ParseBytes(line)
	if !doc.IsObject() {
		return Frame{}, errors.New("frame is not an object")
	}

	f := Frame{Index: r.next}
	if idx := doc.Get("frame"); idx.Exists() {
		f.Index = idx.Int()
	}
	r.next = f.Index + 1

	switch ts, tm := doc.Get("ts"), doc.Get("time"); {
	case ts.Type == gjson.Number:
		sec, frac := math.Modf(ts.Float())
		f.Time = time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
	case tm.Exists():
		t, err := time.Parse(time.RFC3339Nano, tm.String())
		if err != nil {
			return Frame{}, fmt.Errorf("bad time: %w", err)
		}
		f.Time = t
	default:
		f.Time = r.clock.Now()
	}

	var derr error
	doc.Get("detections").ForEach(func(_, d gjson.Result) bool {
		det, err := parseDetection(d)
		if err != nil {
			derr = err
			return false
		}
		f.Detections = append(f.Detections, det)
		return true
	})
	if derr != nil {
		return Frame{}, derr
	}
	return f, nil
}

func parseDetection(d gjson.Result) (Detection, error) {
	det := Detection{
		Label:      d.Get("label").String(),
		Confidence: d.Get("confidence").Float(),
	}
	if !d.Get("confidence").Exists() {
		det.Confidence = 1
	}

	var coords []float64
	xywh := false
	box := d.Get("box")
	if !box.Exists() {
		box = d.Get("bbox")
		xywh = true
	}
	for _, v := range box.Array() {
		if v.Type != gjson.Number {
			return Detection{}, fmt.Errorf("detection %q: non-numeric coordinate", det.Label)
		}
		coords = append(coords, v.Float())
	}
	if len(coords) != 4 {
		return Detection{}, fmt.Errorf("detection %q: want 4 coordinates, got %d", det.Label, len(coords))
	}
	det.Box = geometry.Box{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]}
	if xywh {
		det.Box.X2 = coords[0] + coords[2]
		det.Box.Y2 = coords[1] + coords[3]
	}
	return det, nil
}

// Run calls fn for every frame until the input ends, ctx is cancelled or fn
// returns an error. End of input returns nil.
func Run(ctx context.Context, r *Reader, fn func(Frame) error) error {
	for {
		f, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			return err
		}
	}
}
