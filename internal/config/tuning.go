package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// ClassConfig groups detector labels that are tracked together. Each group
// gets its own tracker and identity space.
type ClassConfig struct {
	Name     string   `json:"name"`
	Labels   []string `json:"labels"`
	Centroid string   `json:"centroid,omitempty"` // "bottom-center" or "center"
}

// TuningConfig holds counting and tracking parameters. Every field is
// optional; the Get* methods supply defaults for anything left out.
type TuningConfig struct {
	// Detector filter
	ConfidenceThreshold *float64      `json:"confidence_threshold,omitempty"`
	TrackedClasses      []ClassConfig `json:"tracked_classes,omitempty"`

	// Tracker params
	IoUThreshold    *float64 `json:"iou_threshold,omitempty"`
	MaxAge          *int     `json:"max_age,omitempty"`
	MinHits         *int     `json:"min_hits,omitempty"`
	Association     *string  `json:"association,omitempty"` // "greedy" or "optimal"
	CountSpawnAsHit *bool    `json:"count_spawn_as_hit,omitempty"`

	// Zone counting params
	IntervalKey             *string `json:"interval_key,omitempty"` // "zone" or "global"
	IntervalZeroWhenMissing *bool   `json:"interval_zero_when_missing,omitempty"`
	IDSource                *string `json:"id_source,omitempty"` // "sink", "zone" or "global"
	TrackExits              *bool   `json:"track_exits,omitempty"`

	// Display params
	DisplayHistory *int `json:"display_history,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file fall back to their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file cannot
// be loaded; intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.ConfidenceThreshold != nil {
		if *c.ConfidenceThreshold < 0 || *c.ConfidenceThreshold > 1 {
			return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", *c.ConfidenceThreshold)
		}
	}
	if c.IoUThreshold != nil {
		if *c.IoUThreshold < 0 || *c.IoUThreshold >= 1 {
			return fmt.Errorf("iou_threshold must be in [0, 1), got %f", *c.IoUThreshold)
		}
	}
	if c.MaxAge != nil && *c.MaxAge < 0 {
		return fmt.Errorf("max_age must be non-negative, got %d", *c.MaxAge)
	}
	if c.MinHits != nil && *c.MinHits < 0 {
		return fmt.Errorf("min_hits must be non-negative, got %d", *c.MinHits)
	}
	if c.DisplayHistory != nil && *c.DisplayHistory < 0 {
		return fmt.Errorf("display_history must be non-negative, got %d", *c.DisplayHistory)
	}
	if err := oneOf("association", c.Association, "greedy", "optimal"); err != nil {
		return err
	}
	if err := oneOf("interval_key", c.IntervalKey, "zone", "global"); err != nil {
		return err
	}
	if err := oneOf("id_source", c.IDSource, "sink", "zone", "global"); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for i, cls := range c.TrackedClasses {
		if cls.Name == "" {
			return fmt.Errorf("tracked_classes[%d]: name is required", i)
		}
		if len(cls.Labels) == 0 {
			return fmt.Errorf("tracked_classes[%d] %q: at least one label is required", i, cls.Name)
		}
		if seen[cls.Name] {
			return fmt.Errorf("tracked_classes[%d]: duplicate name %q", i, cls.Name)
		}
		seen[cls.Name] = true
		switch cls.Centroid {
		case "", "bottom-center", "center":
		default:
			return fmt.Errorf("tracked_classes[%d] %q: unknown centroid %q", i, cls.Name, cls.Centroid)
		}
	}
	return nil
}

func oneOf(field string, v *string, allowed ...string) error {
	if v == nil {
		return nil
	}
	for _, a := range allowed {
		if *v == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %v, got %q", field, allowed, *v)
}

// GetConfidenceThreshold returns the minimum detector confidence or the default.
func (c *TuningConfig) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.15 // default
	}
	return *c.ConfidenceThreshold
}

// GetTrackedClasses returns the tracked class groups or the default of cars
// counted at their bottom edge and people at their centre.
func (c *TuningConfig) GetTrackedClasses() []ClassConfig {
	if len(c.TrackedClasses) == 0 {
		return []ClassConfig{
			{Name: "car", Labels: []string{"car"}, Centroid: "bottom-center"},
			{Name: "person", Labels: []string{"person"}, Centroid: "center"},
		}
	}
	return c.TrackedClasses
}

// GetIoUThreshold returns the iou_threshold value or the default.
func (c *TuningConfig) GetIoUThreshold() float64 {
	if c.IoUThreshold == nil {
		return 0.4 // default
	}
	return *c.IoUThreshold
}

// GetMaxAge returns the max_age value or the default.
func (c *TuningConfig) GetMaxAge() int {
	if c.MaxAge == nil {
		return 30 // default
	}
	return *c.MaxAge
}

// GetMinHits returns the min_hits value or the default.
func (c *TuningConfig) GetMinHits() int {
	if c.MinHits == nil {
		return 2 // default
	}
	return *c.MinHits
}

// GetAssociation returns the association value or the default.
func (c *TuningConfig) GetAssociation() string {
	if c.Association == nil {
		return "greedy" // default
	}
	return *c.Association
}

// GetCountSpawnAsHit returns the count_spawn_as_hit value or the default.
func (c *TuningConfig) GetCountSpawnAsHit() bool {
	if c.CountSpawnAsHit == nil {
		return true // default
	}
	return *c.CountSpawnAsHit
}

// GetIntervalKey returns the interval_key value or the default.
func (c *TuningConfig) GetIntervalKey() string {
	if c.IntervalKey == nil {
		return "zone" // default
	}
	return *c.IntervalKey
}

// GetIntervalZeroWhenMissing returns the interval_zero_when_missing value or the default.
func (c *TuningConfig) GetIntervalZeroWhenMissing() bool {
	if c.IntervalZeroWhenMissing == nil {
		return true // default
	}
	return *c.IntervalZeroWhenMissing
}

// GetIDSource returns the id_source value or the default.
func (c *TuningConfig) GetIDSource() string {
	if c.IDSource == nil {
		return "sink" // default
	}
	return *c.IDSource
}

// GetTrackExits returns the track_exits value or the default.
func (c *TuningConfig) GetTrackExits() bool {
	if c.TrackExits == nil {
		return true // default
	}
	return *c.TrackExits
}

// GetDisplayHistory returns the display_history value or the default.
func (c *TuningConfig) GetDisplayHistory() int {
	if c.DisplayHistory == nil {
		return 3 // default
	}
	return *c.DisplayHistory
}
