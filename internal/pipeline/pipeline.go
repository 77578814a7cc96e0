// Package pipeline runs one frame of detections through the per-class
// trackers and the zone counter.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/zonecount/internal/config"
	"github.com/banshee-data/zonecount/internal/counting"
	"github.com/banshee-data/zonecount/internal/feed"
	"github.com/banshee-data/zonecount/internal/geometry"
	"github.com/banshee-data/zonecount/internal/interval"
	"github.com/banshee-data/zonecount/internal/monitoring"
	"github.com/banshee-data/zonecount/internal/tracking"
	"github.com/banshee-data/zonecount/internal/zones"
)

// Config holds dependencies for a Pipeline.
type Config struct {
	Layout              *zones.Layout
	Classes             []config.ClassConfig
	Tracker             tracking.Config
	ConfidenceThreshold float64
	Machine             *counting.Machine
	Observers           []counting.Observer

	// NewTracker overrides tracker construction, mainly for tests.
	NewTracker func(cfg tracking.Config) tracking.BoxTracker
}

// ConfigFromTuning fills the tracking and filtering parts of a Config.
func ConfigFromTuning(cfg *config.TuningConfig, layout *zones.Layout, m *counting.Machine) Config {
	return Config{
		Layout:              layout,
		Classes:             cfg.GetTrackedClasses(),
		Tracker:             tracking.ConfigFromTuning(cfg),
		ConfidenceThreshold: cfg.GetConfidenceThreshold(),
		Machine:             m,
	}
}

// MachineOptionsFromTuning builds counting options for the layout.
func MachineOptionsFromTuning(cfg *config.TuningConfig, layout *zones.Layout) counting.Options {
	return counting.Options{
		IDSource:     counting.IDSource(cfg.GetIDSource()),
		TrackExits:   cfg.GetTrackExits(),
		Kinds:        layout.Kinds(),
		IntervalMode: intervalMode(cfg.GetIntervalKey()),
	}
}

func intervalMode(key string) interval.KeyMode {
	if key == string(interval.Global) {
		return interval.Global
	}
	return interval.PerKey
}

type group struct {
	name     string
	centroid geometry.CentroidMode
	tracker  tracking.BoxTracker
	zones    []*zones.Zone // accepting this class, priority order
}

// Stats summarises pipeline throughput.
type Stats struct {
	Frames     int64                     `json:"frames"`
	Detections int64                     `json:"detections"`
	Kept       int64                     `json:"kept"`
	Events     int64                     `json:"events"`
	Warnings   int64                     `json:"warnings"`
	Trackers   map[string]tracking.Stats `json:"trackers"`
}

// Pipeline owns one tracker per tracked class. ProcessFrame must be called
// from a single goroutine; Stats may be called from any.
type Pipeline struct {
	groups    []*group
	byLabel   map[string]*group
	threshold float64
	machine   *counting.Machine
	observers []counting.Observer
	first     bool

	frames, detections, kept, events, warnings atomic.Int64
}

// New validates cfg and builds the trackers.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Layout == nil {
		return nil, errors.New("pipeline: layout is required")
	}
	if cfg.Machine == nil {
		return nil, errors.New("pipeline: machine is required")
	}
	if err := cfg.Tracker.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	newTracker := cfg.NewTracker
	if newTracker == nil {
		newTracker = func(tc tracking.Config) tracking.BoxTracker { return tracking.NewTracker(tc, nil) }
	}

	p := &Pipeline{
		byLabel:   make(map[string]*group),
		threshold: cfg.ConfidenceThreshold,
		machine:   cfg.Machine,
		observers: cfg.Observers,
		first:     cfg.Layout.FirstMatch(),
	}
	for _, cc := range cfg.Classes {
		mode, ok := geometry.ParseCentroidMode(cc.Centroid)
		if !ok {
			return nil, fmt.Errorf("pipeline: class %q: unknown centroid %q", cc.Name, cc.Centroid)
		}
		g := &group{name: cc.Name, centroid: mode, tracker: newTracker(cfg.Tracker)}
		for i := range cfg.Layout.Zones {
			if z := &cfg.Layout.Zones[i]; z.Accepts(cc.Name) {
				g.zones = append(g.zones, z)
			}
		}
		if len(g.zones) == 0 {
			monitoring.Warnf("class %q is tracked but no zone accepts it", cc.Name)
		}
		for _, label := range cc.Labels {
			if prev, dup := p.byLabel[label]; dup {
				return nil, fmt.Errorf("pipeline: label %q belongs to both %q and %q", label, prev.name, cc.Name)
			}
			p.byLabel[label] = g
		}
		p.groups = append(p.groups, g)
	}
	if len(p.groups) == 0 {
		return nil, errors.New("pipeline: no tracked classes")
	}
	return p, nil
}

// ProcessFrame tracks one frame and returns the zone events it produced.
// A non-nil error carries recoverable sink warnings; the events stand.
func (p *Pipeline) ProcessFrame(ctx context.Context, f feed.Frame) ([]counting.Event, error) {
	p.frames.Add(1)
	p.detections.Add(int64(len(f.Detections)))

	boxes := make(map[*group][]geometry.Box, len(p.groups))
	for _, d := range f.Detections {
		g, ok := p.byLabel[d.Label]
		if !ok || d.Confidence < p.threshold {
			continue
		}
		boxes[g] = append(boxes[g], d.Box)
		p.kept.Add(1)
	}

	var events []counting.Event
	var errs []error
	for _, g := range p.groups {
		confirmed := g.tracker.Update(boxes[g])
		for _, c := range confirmed {
			ref := counting.TrackRef{Class: g.name, ID: c.ID}
			pt := geometry.Centroid(c.Box, g.centroid)
			evs, err := p.evaluate(ctx, g, ref, pt, f)
			events = append(events, evs...)
			if err != nil {
				errs = append(errs, err)
			}
		}
		p.prune(g)
	}

	for _, ev := range events {
		for _, o := range p.observers {
			o.Observe(ev)
		}
	}
	p.events.Add(int64(len(events)))

	err := errors.Join(errs...)
	if err != nil {
		p.warnings.Add(int64(len(errs)))
		monitoring.Warnf("frame %d: %v", f.Index, err)
	}
	return events, err
}

func (p *Pipeline) evaluate(ctx context.Context, g *group, ref counting.TrackRef, pt geometry.Point, f feed.Frame) ([]counting.Event, error) {
	if p.first {
		ms := make([]counting.Membership, len(g.zones))
		for i, z := range g.zones {
			ms[i] = counting.Membership{Zone: z.Name, Inside: z.Contains(pt)}
		}
		return p.machine.EvaluateFirst(ctx, ref, ms, f.Time)
	}

	var events []counting.Event
	var errs []error
	for _, z := range g.zones {
		ev, err := p.machine.Evaluate(ctx, ref, z.Name, z.Contains(pt), f.Time)
		if err != nil {
			errs = append(errs, err)
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return events, errors.Join(errs...)
}

// prune drops zone records of tracks the tracker has expired.
func (p *Pipeline) prune(g *group) {
	tracks := g.tracker.Tracks()
	alive := make(map[int64]bool, len(tracks))
	for _, t := range tracks {
		alive[t.ID] = true
	}
	p.machine.Prune(g.name, func(id int64) bool { return alive[id] })
}

// Machine returns the zone counter the pipeline feeds.
func (p *Pipeline) Machine() *counting.Machine { return p.machine }

// Counts returns a snapshot of the zone counters.
func (p *Pipeline) Counts() counting.Counts { return p.machine.Counts() }

// Stats returns throughput counters and per-class tracker statistics.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Frames:     p.frames.Load(),
		Detections: p.detections.Load(),
		Kept:       p.kept.Load(),
		Events:     p.events.Load(),
		Warnings:   p.warnings.Load(),
		Trackers:   make(map[string]tracking.Stats, len(p.groups)),
	}
	for _, g := range p.groups {
		s.Trackers[g.name] = g.tracker.Stats()
	}
	return s
}
