// Package tracking associates per-frame detection boxes into persistent
// tracks using box overlap. There is no motion model: a track's box is the
// last box it was matched to.
package tracking

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/zonecount/internal/config"
	"github.com/banshee-data/zonecount/internal/geometry"
)

// Association selects how detections are bound to tracks each frame.
type Association string

const (
	// AssociationGreedy binds each detection, in order, to the first unused
	// track that overlaps it above the threshold.
	AssociationGreedy Association = "greedy"
	// AssociationOptimal solves a minimum-cost assignment over 1-IoU.
	AssociationOptimal Association = "optimal"
)

// Config holds tracker parameters.
type Config struct {
	MaxAge       int         // Frames without a match before a track is removed
	MinHits      int         // Matched frames needed before a track is reported
	IoUThreshold float64     // Overlap must exceed this to match
	Association  Association // greedy (default) or optimal

	// CountSpawnAsHit counts the detection that creates a track as its first
	// hit, so a track seen on MinHits consecutive frames is reported on the
	// last of them. When false a new track starts with zero hits.
	CountSpawnAsHit bool
}

// DefaultConfig returns the standard tracker parameters.
func DefaultConfig() Config {
	return Config{
		MaxAge:          30,
		MinHits:         2,
		IoUThreshold:    0.4,
		Association:     AssociationGreedy,
		CountSpawnAsHit: true,
	}
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		MaxAge:          cfg.GetMaxAge(),
		MinHits:         cfg.GetMinHits(),
		IoUThreshold:    cfg.GetIoUThreshold(),
		Association:     Association(cfg.GetAssociation()),
		CountSpawnAsHit: cfg.GetCountSpawnAsHit(),
	}
}

// IDCounter hands out track identities. Identities are never reused for the
// lifetime of the counter. A counter may be shared by several trackers when
// their identities must not collide.
type IDCounter struct {
	next atomic.Int64
}

// NewIDCounter returns a counter whose first identity is start.
func NewIDCounter(start int64) *IDCounter {
	c := &IDCounter{}
	c.next.Store(start)
	return c
}

// Next returns a fresh identity.
func (c *IDCounter) Next() int64 {
	return c.next.Add(1) - 1
}

// Peek returns the identity the next call to Next will return.
func (c *IDCounter) Peek() int64 {
	return c.next.Load()
}

// Track is one believed-distinct object.
type Track struct {
	ID              int64        `json:"id"`
	Box             geometry.Box `json:"box"`
	Hits            int          `json:"hits"`
	Age             int          `json:"age"`
	TimeSinceUpdate int          `json:"time_since_update"`

	reported bool
}

// Confirmed is a track surfaced to downstream consumers.
type Confirmed struct {
	ID  int64
	Box geometry.Box
}

// Stats summarises tracker lifecycle counters.
type Stats struct {
	Created   int `json:"created"`
	Confirmed int `json:"confirmed"`
	Active    int `json:"active"`
}

// BoxTracker is the contract the frame pipeline depends on.
type BoxTracker interface {
	Update(dets []geometry.Box) []Confirmed
	Tracks() []Track
	Stats() Stats
	Reset()
}

var _ BoxTracker = (*Tracker)(nil)

// Tracker maintains tracks for one class of object. Update must be called
// once per frame; the read accessors may be called from other goroutines.
type Tracker struct {
	Config Config

	tracks []*Track // creation order
	ids    *IDCounter

	tracksCreated   int
	tracksConfirmed int

	mu sync.RWMutex
}

// NewTracker creates a tracker. A nil counter gives the tracker its own
// identity space starting at 0.
func NewTracker(cfg Config, ids *IDCounter) *Tracker {
	if ids == nil {
		ids = NewIDCounter(0)
	}
	return &Tracker{Config: cfg, ids: ids}
}

// Validate reports configuration values the tracker cannot run with.
func (c Config) Validate() error {
	if c.MaxAge < 0 {
		return fmt.Errorf("max_age must be non-negative, got %d", c.MaxAge)
	}
	if c.MinHits < 0 {
		return fmt.Errorf("min_hits must be non-negative, got %d", c.MinHits)
	}
	if c.IoUThreshold < 0 || c.IoUThreshold >= 1 {
		return fmt.Errorf("iou_threshold must be in [0, 1), got %f", c.IoUThreshold)
	}
	switch c.Association {
	case AssociationGreedy, AssociationOptimal, "":
	default:
		return fmt.Errorf("unknown association %q", c.Association)
	}
	return nil
}

// Update advances the tracker by one frame and returns the confirmed tracks
// in creation order.
func (t *Tracker) Update(dets []geometry.Box) []Confirmed {
	t.mu.Lock()
	defer t.mu.Unlock()

	// 1. Predict: boxes are carried forward unchanged.
	for _, trk := range t.tracks {
		trk.Age++
		trk.TimeSinceUpdate++
	}

	// 2. Associate.
	var assigned []int
	if t.Config.Association == AssociationOptimal {
		assigned = t.associateOptimal(dets)
	} else {
		assigned = t.associateGreedy(dets)
	}

	// 3. Update matched tracks, spawn the rest.
	for i, det := range dets {
		if j := assigned[i]; j >= 0 {
			trk := t.tracks[j]
			trk.Box = det
			trk.TimeSinceUpdate = 0
			trk.Hits++
			continue
		}
		t.spawn(det)
	}

	// 4. Expire.
	kept := t.tracks[:0]
	for _, trk := range t.tracks {
		if trk.TimeSinceUpdate <= t.Config.MaxAge {
			kept = append(kept, trk)
		}
	}
	for i := len(kept); i < len(t.tracks); i++ {
		t.tracks[i] = nil
	}
	t.tracks = kept

	// 5. Report.
	var out []Confirmed
	for _, trk := range t.tracks {
		if trk.Hits < t.Config.MinHits {
			continue
		}
		if !trk.reported {
			trk.reported = true
			t.tracksConfirmed++
		}
		out = append(out, Confirmed{ID: trk.ID, Box: trk.Box})
	}
	return out
}

// associateGreedy returns, per detection, the index of the matched track or
// -1. Ties go to the earliest-created track.
func (t *Tracker) associateGreedy(dets []geometry.Box) []int {
	assigned := make([]int, len(dets))
	used := make([]bool, len(t.tracks))
	for i, det := range dets {
		assigned[i] = -1
		for j, trk := range t.tracks {
			if used[j] || trk.TimeSinceUpdate > t.Config.MaxAge {
				continue
			}
			if geometry.Overlap(trk.Box, det) > t.Config.IoUThreshold {
				assigned[i] = j
				used[j] = true
				break
			}
		}
	}
	return assigned
}

// associateOptimal assigns detections to tracks minimising total 1-IoU.
// Pairs at or below the threshold are never matched.
func (t *Tracker) associateOptimal(dets []geometry.Box) []int {
	if len(dets) == 0 {
		return nil
	}
	cost := make([][]float64, len(dets))
	for i, det := range dets {
		cost[i] = make([]float64, len(t.tracks))
		for j, trk := range t.tracks {
			iou := geometry.Overlap(trk.Box, det)
			if trk.TimeSinceUpdate > t.Config.MaxAge || iou <= t.Config.IoUThreshold {
				cost[i][j] = forbidden
				continue
			}
			cost[i][j] = 1 - iou
		}
	}
	return hungarianAssign(cost)
}

func (t *Tracker) spawn(det geometry.Box) {
	trk := &Track{ID: t.ids.Next(), Box: det}
	if t.Config.CountSpawnAsHit {
		trk.Hits = 1
	}
	t.tracks = append(t.tracks, trk)
	t.tracksCreated++
}

// Tracks returns a copy of every internal track, confirmed or not.
func (t *Tracker) Tracks() []Track {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Track, 0, len(t.tracks))
	for _, trk := range t.tracks {
		out = append(out, *trk)
	}
	return out
}

// Stats returns lifecycle counters.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Stats{
		Created:   t.tracksCreated,
		Confirmed: t.tracksConfirmed,
		Active:    len(t.tracks),
	}
}

// Reset drops all tracks and counters. Identities already handed out stay
// spent.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = nil
	t.tracksCreated = 0
	t.tracksConfirmed = 0
}
