package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/zonecount/internal/counting"
)

// ErrNoOpenEntry is returned when an exit has no matching entry row.
var ErrNoOpenEntry = errors.New("no open entry")

// DetectionStore writes crossings for one run. It implements counting.Sink.
type DetectionStore struct {
	db    *DB
	runID string

	// ZeroWhenMissing stores 0 rather than NULL for the interval of the
	// first crossing in a zone.
	ZeroWhenMissing bool
}

var _ counting.Sink = (*DetectionStore)(nil)

// NewDetectionStore registers a new run and returns a store writing to it.
func NewDetectionStore(ctx context.Context, db *DB, site string, zones []string, started time.Time) (*DetectionStore, error) {
	runID := uuid.New().String()
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, site, zones, started_unix) VALUES (?, ?, ?, ?)`,
		runID, site, strings.Join(zones, ","), unixSeconds(started),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &DetectionStore{db: db, runID: runID, ZeroWhenMissing: true}, nil
}

// RunID returns the identifier of the run this store writes to.
func (s *DetectionStore) RunID() string { return s.runID }

// RecordEntry inserts a crossing and returns its row id. When the entry
// adopts the row id, detection_id is rewritten to match it.
func (s *DetectionStore) RecordEntry(ctx context.Context, e counting.Entry) (int64, error) {
	var iv sql.NullFloat64
	switch {
	case e.Interval.Valid:
		iv = sql.NullFloat64{Float64: e.Interval.Seconds, Valid: true}
	case s.ZeroWhenMissing:
		iv = sql.NullFloat64{Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO detections (
			run_id, zone, zone_kind, track_class, track_id, detection_id,
			entry_unix, interval_s, count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, e.Zone, string(e.ZoneKind), e.Track.Class, e.Track.ID, e.DetectionID,
		unixSeconds(e.Time), iv, e.Count,
	)
	if err != nil {
		return 0, fmt.Errorf("insert detection: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("detection row id: %w", err)
	}
	if e.AdoptRowID {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE detections SET detection_id = id WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("adopt detection row id: %w", err)
		}
	}
	return id, nil
}

// RecordExit stamps the exit time on the entry row. Without a row id it
// falls back to the newest open entry of the same track in the same zone
// that entered at EnterTime.
func (s *DetectionStore) RecordExit(ctx context.Context, e counting.Exit) error {
	var res sql.Result
	var err error
	if e.RowID > 0 {
		res, err = s.db.ExecContext(ctx,
			`UPDATE detections SET exit_unix = ? WHERE id = ?`,
			unixSeconds(e.Time), e.RowID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE detections SET exit_unix = ? WHERE id = (
				SELECT id FROM detections
				WHERE run_id = ? AND zone = ? AND track_class = ? AND track_id = ?
					AND entry_unix = ? AND exit_unix IS NULL
				ORDER BY id DESC LIMIT 1
			)`,
			unixSeconds(e.Time), s.runID, e.Zone, e.Track.Class, e.Track.ID,
			unixSeconds(e.EnterTime))
	}
	if err != nil {
		return fmt.Errorf("update exit time: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update exit time of %s in %q: %w", e.Track, e.Zone, ErrNoOpenEntry)
	}
	return nil
}

// Detection is one stored crossing.
type Detection struct {
	ID          int64      `json:"id"`
	RunID       string     `json:"run_id"`
	Zone        string     `json:"zone"`
	ZoneKind    string     `json:"zone_kind"`
	TrackClass  string     `json:"track_class"`
	TrackID     int64      `json:"track_id"`
	DetectionID int64      `json:"detection_id"`
	EntryTime   time.Time  `json:"entry_time"`
	ExitTime    *time.Time `json:"exit_time,omitempty"`
	Interval    *float64   `json:"interval_s,omitempty"`
	Count       int        `json:"count"`
}

// RecentDetections returns up to limit crossings, newest first.
func (db *DB) RecentDetections(ctx context.Context, limit int) ([]Detection, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, run_id, zone, zone_kind, track_class, track_id, detection_id,
			entry_unix, exit_unix, interval_s, count
		FROM detections ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	var out []Detection
	for rows.Next() {
		var d Detection
		var entry float64
		var exit, iv sql.NullFloat64
		if err := rows.Scan(&d.ID, &d.RunID, &d.Zone, &d.ZoneKind, &d.TrackClass, &d.TrackID,
			&d.DetectionID, &entry, &exit, &iv, &d.Count); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		d.EntryTime = fromUnixSeconds(entry)
		if exit.Valid {
			t := fromUnixSeconds(exit.Float64)
			d.ExitTime = &t
		}
		if iv.Valid {
			v := iv.Float64
			d.Interval = &v
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ZoneCounts returns the number of stored entries per zone. An empty runID
// counts every run.
func (db *DB) ZoneCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT zone, COUNT(*) FROM detections
		WHERE ? = '' OR run_id = ?
		GROUP BY zone ORDER BY zone`, runID, runID)
	if err != nil {
		return nil, fmt.Errorf("query zone counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var zone string
		var n int
		if err := rows.Scan(&zone, &n); err != nil {
			return nil, fmt.Errorf("scan zone count: %w", err)
		}
		out[zone] = n
	}
	return out, rows.Err()
}

// Intervals returns the stored inter-arrival intervals of zone for entries
// since the given time, oldest first. Missing intervals are skipped, and so
// are stored zeros, which only stand in for a missing value.
func (db *DB) Intervals(ctx context.Context, zone string, since time.Time) ([]float64, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT interval_s FROM detections
		WHERE zone = ? AND entry_unix >= ? AND interval_s IS NOT NULL AND interval_s > 0
		ORDER BY entry_unix`, zone, unixSeconds(since))
	if err != nil {
		return nil, fmt.Errorf("query intervals: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan interval: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func fromUnixSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*1e3).UTC()
}
