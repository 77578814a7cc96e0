// Package counting turns per-frame zone membership of confirmed tracks into
// idempotent ENTRY and EXIT events with running counters and inter-arrival
// intervals.
package counting

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/banshee-data/zonecount/internal/interval"
)

// State is the lifecycle position of a track relative to one zone.
type State int

const (
	Absent State = iota
	Inside
	Exited // transient; a record never rests here
	Completed
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Inside:
		return "inside"
	case Exited:
		return "exited"
	case Completed:
		return "completed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ZoneKind selects entry/exit or entry-only counting for a zone.
type ZoneKind string

const (
	Vehicle    ZoneKind = "vehicle"
	Pedestrian ZoneKind = "pedestrian"
)

// EventKind distinguishes entries from exits.
type EventKind string

const (
	EventEntry EventKind = "entry"
	EventExit  EventKind = "exit"
)

// IDSource selects where detection identifiers come from. Pedestrian zones
// fall back to the person counter whatever the source.
type IDSource string

const (
	// IDFromSink uses the identifier returned by the sink, falling back to
	// the zone counter when the sink returns none or fails.
	IDFromSink IDSource = "sink"
	// IDFromZone uses the zone counter value.
	IDFromZone IDSource = "zone"
	// IDFromGlobal uses a counter shared by all vehicle zones.
	IDFromGlobal IDSource = "global"
)

// TrackRef identifies a track. Trackers for different classes have
// separate identity spaces, so the class group is part of the identity.
type TrackRef struct {
	Class string `json:"class"`
	ID    int64  `json:"id"`
}

func (r TrackRef) String() string { return fmt.Sprintf("%s/%d", r.Class, r.ID) }

// Record is the state of one track in one zone. ExitTime is zero until the
// track leaves.
type Record struct {
	State       State
	DetectionID int64
	RowID       int64
	EnterTime   time.Time
	ExitTime    time.Time
	Class       string
	Count       int
}

// Event is one zone crossing.
type Event struct {
	Kind        EventKind         `json:"kind"`
	Zone        string            `json:"zone"`
	ZoneKind    ZoneKind          `json:"zone_kind"`
	Track       TrackRef          `json:"track"`
	DetectionID int64             `json:"detection_id"`
	Time        time.Time         `json:"time"`
	Interval    interval.Interval `json:"-"`
	Count       int               `json:"count"`
}

// Membership is the result of testing a track against one zone.
type Membership struct {
	Zone   string
	Inside bool
}

// Counts is a snapshot of the running counters.
type Counts struct {
	Zones    map[string]int `json:"zones"`
	Vehicles int            `json:"vehicles"`
	Persons  int            `json:"persons"`
}

// Options configures a Machine.
type Options struct {
	IDSource IDSource
	// TrackExits emits EXIT events for vehicle zones. When false vehicle
	// zones behave like pedestrian zones.
	TrackExits bool
	// Kinds maps zone names to their kind; unlisted zones are vehicle zones.
	Kinds        map[string]ZoneKind
	IntervalMode interval.KeyMode
}

// DefaultOptions returns sink-allocated identifiers with exit tracking.
func DefaultOptions() Options {
	return Options{IDSource: IDFromSink, TrackExits: true, IntervalMode: interval.PerKey}
}

type recordKey struct {
	track TrackRef
	zone  string
}

// Machine holds the per-(track, zone) state table and the counters. The
// frame loop is its only writer; readers may query it concurrently.
// Evaluation holds mu across sink calls, so State, Len and Prune wait for
// persistence. Counts only takes countsMu and never does.
type Machine struct {
	opts Options
	sink Sink

	mu                  sync.RWMutex
	records             map[recordKey]*Record
	vehicleIntervals    *interval.Calculator
	pedestrianIntervals *interval.Calculator

	countsMu   sync.RWMutex
	zoneCounts map[string]int
	vehicles   int
	persons    int
}

// NewMachine creates a machine persisting to sink. A nil sink discards.
func NewMachine(opts Options, sink Sink) *Machine {
	if sink == nil {
		sink = NopSink{}
	}
	if opts.IDSource == "" {
		opts.IDSource = IDFromSink
	}
	return &Machine{
		opts:                opts,
		sink:                sink,
		records:             make(map[recordKey]*Record),
		zoneCounts:          make(map[string]int),
		vehicleIntervals:    interval.NewCalculator(opts.IntervalMode),
		pedestrianIntervals: interval.NewCalculator(opts.IntervalMode),
	}
}

// Evaluate applies one membership observation and returns the event it
// produced, if any. A non-nil error wraps ErrSink and may accompany a
// non-nil event; the event and counters stand regardless.
func (m *Machine) Evaluate(ctx context.Context, ref TrackRef, zone string, inside bool, ts time.Time) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evaluateLocked(ctx, ref, zone, inside, ts)
}

// EvaluateFirst applies memberships given in zone priority order. Exits are
// applied for every zone the track has left, but at most one entry is
// produced: for the first zone the track is inside and not already counted
// in.
func (m *Machine) EvaluateFirst(ctx context.Context, ref TrackRef, memberships []Membership, ts time.Time) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []Event
	var errs []error
	for _, ms := range memberships {
		if ms.Inside {
			continue
		}
		ev, err := m.evaluateLocked(ctx, ref, ms.Zone, false, ts)
		if err != nil {
			errs = append(errs, err)
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	for _, ms := range memberships {
		if !ms.Inside {
			continue
		}
		if rec := m.records[recordKey{ref, ms.Zone}]; rec != nil && rec.State == Inside {
			continue
		}
		ev, err := m.evaluateLocked(ctx, ref, ms.Zone, true, ts)
		if err != nil {
			errs = append(errs, err)
		}
		if ev != nil {
			events = append(events, *ev)
		}
		break
	}
	return events, errors.Join(errs...)
}

func (m *Machine) evaluateLocked(ctx context.Context, ref TrackRef, zone string, inside bool, ts time.Time) (*Event, error) {
	key := recordKey{track: ref, zone: zone}
	rec := m.records[key]
	state := Absent
	if rec != nil {
		state = rec.State
	}

	switch {
	case inside && (state == Absent || state == Completed):
		return m.enter(ctx, key, ts)
	case !inside && state == Inside:
		return m.exit(ctx, key, rec, ts)
	}
	return nil, nil
}

func (m *Machine) kind(zone string) ZoneKind {
	if k, ok := m.opts.Kinds[zone]; ok {
		return k
	}
	return Vehicle
}

func (m *Machine) entryOnly(kind ZoneKind) bool {
	return kind == Pedestrian || !m.opts.TrackExits
}

func (m *Machine) enter(ctx context.Context, key recordKey, ts time.Time) (*Event, error) {
	kind := m.kind(key.zone)

	m.countsMu.Lock()
	m.zoneCounts[key.zone]++
	count := m.zoneCounts[key.zone]
	var id int64
	if kind == Pedestrian {
		m.persons++
		id = int64(m.persons)
	} else {
		m.vehicles++
		id = int64(count)
		if m.opts.IDSource == IDFromGlobal {
			id = int64(m.vehicles)
		}
	}
	m.countsMu.Unlock()

	var iv interval.Interval
	if kind == Pedestrian {
		iv = m.pedestrianIntervals.Interval(key.zone, ts)
	} else {
		iv = m.vehicleIntervals.Interval(key.zone, ts)
	}
	adopt := kind != Pedestrian && m.opts.IDSource == IDFromSink

	entry := Entry{
		DetectionID: id,
		Zone:        key.zone,
		ZoneKind:    kind,
		Track:       key.track,
		Time:        ts,
		Interval:    iv,
		Count:       count,
		AdoptRowID:  adopt,
	}
	rowID, err := m.sink.RecordEntry(ctx, entry)
	if err != nil {
		err = fmt.Errorf("%w: record entry of %s in %q: %w", ErrSink, key.track, key.zone, err)
		rowID = 0
	}
	if adopt && rowID > 0 {
		id = rowID
	}

	m.records[key] = &Record{
		State:       Inside,
		DetectionID: id,
		RowID:       rowID,
		EnterTime:   ts,
		Class:       key.track.Class,
		Count:       count,
	}

	return &Event{
		Kind:        EventEntry,
		Zone:        key.zone,
		ZoneKind:    kind,
		Track:       key.track,
		DetectionID: id,
		Time:        ts,
		Interval:    iv,
		Count:       count,
	}, err
}

func (m *Machine) exit(ctx context.Context, key recordKey, rec *Record, ts time.Time) (*Event, error) {
	kind := m.kind(key.zone)
	rec.State = Exited
	rec.ExitTime = ts

	if m.entryOnly(kind) {
		rec.State = Completed
		return nil, nil
	}

	var err error
	if serr := m.sink.RecordExit(ctx, Exit{
		RowID:       rec.RowID,
		DetectionID: rec.DetectionID,
		Zone:        key.zone,
		Track:       key.track,
		EnterTime:   rec.EnterTime,
		Time:        ts,
	}); serr != nil {
		err = fmt.Errorf("%w: record exit of %s from %q: %w", ErrSink, key.track, key.zone, serr)
	}
	rec.State = Completed

	return &Event{
		Kind:        EventExit,
		Zone:        key.zone,
		ZoneKind:    kind,
		Track:       key.track,
		DetectionID: rec.DetectionID,
		Time:        ts,
		Count:       rec.Count,
	}, err
}

// State returns a copy of the record for ref in zone.
func (m *Machine) State(ref TrackRef, zone string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[recordKey{ref, zone}]
	if !ok {
		return Record{State: Absent}, false
	}
	return *rec, true
}

// Counts returns a snapshot of the counters.
func (m *Machine) Counts() Counts {
	m.countsMu.RLock()
	defer m.countsMu.RUnlock()
	return Counts{
		Zones:    maps.Clone(m.zoneCounts),
		Vehicles: m.vehicles,
		Persons:  m.persons,
	}
}

// Prune drops every record of class whose track is no longer alive and
// returns how many were dropped. Track identities are never reused, so a
// pruned track cannot reappear.
func (m *Machine) Prune(class string, alive func(id int64) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.records {
		if key.track.Class == class && !alive(key.track.ID) {
			delete(m.records, key)
			n++
		}
	}
	return n
}

// Len returns the number of records held.
func (m *Machine) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
