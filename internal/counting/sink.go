package counting

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/zonecount/internal/interval"
)

// ErrSink wraps every persistence failure reported by the Machine. Such
// failures never change in-memory state.
var ErrSink = errors.New("sink")

// Entry is handed to the persistence sink when a track enters a zone.
type Entry struct {
	DetectionID int64 // identifier allocated by the machine
	Zone        string
	ZoneKind    ZoneKind
	Track       TrackRef
	Time        time.Time
	Interval    interval.Interval
	Count       int // zone counter after this entry

	// AdoptRowID is set when the machine will use the returned identifier
	// as the detection identifier, so the sink should store it as such.
	AdoptRowID bool
}

// Exit is handed to the persistence sink when a track leaves a zone.
type Exit struct {
	RowID       int64 // identifier the sink returned for the entry, 0 if none
	DetectionID int64
	Zone        string
	Track       TrackRef
	EnterTime   time.Time
	Time        time.Time
}

// Sink persists crossings. RecordEntry may return the identifier it stored
// the entry under; a value <= 0 means it has none.
type Sink interface {
	RecordEntry(ctx context.Context, e Entry) (int64, error)
	RecordExit(ctx context.Context, e Exit) error
}

// NopSink discards everything.
type NopSink struct{}

// RecordEntry implements Sink.
func (NopSink) RecordEntry(context.Context, Entry) (int64, error) { return 0, nil }

// RecordExit implements Sink.
func (NopSink) RecordExit(context.Context, Exit) error { return nil }

// Observer receives every event after the machine has applied it. It must
// not call back into the machine.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(ev Event) { f(ev) }
