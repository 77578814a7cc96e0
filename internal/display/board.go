// Package display keeps the operator-facing summary of recent crossings.
package display

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/zonecount/internal/counting"
	"github.com/banshee-data/zonecount/internal/monitoring"
	"github.com/banshee-data/zonecount/internal/timeutil"
)

// TimeLayout formats crossing times on the board.
const TimeLayout = "2006-01-02 15:04:05"

// Line is one crossing shown on the board.
type Line struct {
	Zone        string
	DetectionID int64
	Time        time.Time
	Interval    float64 // zero when there was no previous crossing
}

// Board holds the last few entries per zone, the last few exits and the
// per-zone totals. It is safe for concurrent use.
type Board struct {
	history int
	order   []string

	mu      sync.Mutex
	entries map[string][]Line
	exits   []Line
	totals  map[string]int
}

var _ counting.Observer = (*Board)(nil)

// NewBoard returns a board listing zones in the given order. Zones first
// seen in an event are appended. history is the number of lines kept per
// list.
func NewBoard(zones []string, history int) *Board {
	if history <= 0 {
		history = 3
	}
	return &Board{
		history: history,
		order:   append([]string(nil), zones...),
		entries: make(map[string][]Line),
		totals:  make(map[string]int),
	}
}

// Observe implements counting.Observer.
func (b *Board) Observe(ev counting.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	line := Line{Zone: ev.Zone, DetectionID: ev.DetectionID, Time: ev.Time}
	switch ev.Kind {
	case counting.EventEntry:
		if !b.known(ev.Zone) {
			b.order = append(b.order, ev.Zone)
		}
		line.Interval = ev.Interval.OrZero()
		b.entries[ev.Zone] = push(b.entries[ev.Zone], line, b.history)
		b.totals[ev.Zone] = ev.Count
	case counting.EventExit:
		b.exits = push(b.exits, line, b.history)
	}
}

func (b *Board) known(zone string) bool {
	for _, z := range b.order {
		if z == zone {
			return true
		}
	}
	return false
}

func push(lines []Line, l Line, limit int) []Line {
	lines = append(lines, l)
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines
}

// Entries returns the recent entries for zone, oldest first.
func (b *Board) Entries(zone string) []Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Line(nil), b.entries[zone]...)
}

// Exits returns the recent exits, oldest first.
func (b *Board) Exits() []Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Line(nil), b.exits...)
}

// Total returns the last count seen for zone.
func (b *Board) Total(zone string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totals[zone]
}

// Render writes the board as plain text.
func (b *Board) Render(w io.Writer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sb strings.Builder
	for _, zone := range b.order {
		fmt.Fprintf(&sb, "Zone %s: Total: %d\n", strings.ToUpper(zone), b.totals[zone])
		for _, l := range b.entries[zone] {
			fmt.Fprintf(&sb, "  ID: %d, Time: %s, Interval: %.2fs\n", l.DetectionID, l.Time.Format(TimeLayout), l.Interval)
		}
	}
	if len(b.exits) > 0 {
		sb.WriteString("Exits:\n")
		for _, l := range b.exits {
			fmt.Fprintf(&sb, "  %s ID: %d, Time: %s\n", strings.ToUpper(l.Zone), l.DetectionID, l.Time.Format(TimeLayout))
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// Refresh renders the board to w every period until ctx is done.
func Refresh(ctx context.Context, clock timeutil.Clock, period time.Duration, b *Board, w io.Writer) {
	ticker := clock.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if err := b.Render(w); err != nil {
				monitoring.Warnf("render board: %v", err)
			}
		}
	}
}

// LogObserver writes one log line per crossing.
type LogObserver struct{}

// Observe implements counting.Observer.
func (LogObserver) Observe(ev counting.Event) {
	switch ev.Kind {
	case counting.EventEntry:
		monitoring.Logf("entry zone=%s track=%s id=%d count=%d interval=%s",
			ev.Zone, ev.Track, ev.DetectionID, ev.Count, ev.Interval)
	case counting.EventExit:
		monitoring.Logf("exit zone=%s track=%s id=%d", ev.Zone, ev.Track, ev.DetectionID)
	}
}
