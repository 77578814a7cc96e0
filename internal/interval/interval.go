// Package interval measures the time between consecutive crossings.
package interval

import (
	"fmt"
	"time"
)

// KeyMode selects whether intervals are measured per zone or across all
// zones.
type KeyMode string

const (
	// PerKey keeps one clock per key, normally a zone name.
	PerKey KeyMode = "zone"
	// Global collapses every key into one shared clock.
	Global KeyMode = "global"
)

// globalKey is the single key used in Global mode.
const globalKey = "*"

// Interval is the gap since the previous crossing. Valid is false for the
// first crossing seen for a key.
type Interval struct {
	Seconds float64
	Valid   bool
}

// OrZero returns the interval in seconds, or 0 when there is none.
func (iv Interval) OrZero() float64 {
	if !iv.Valid {
		return 0
	}
	return iv.Seconds
}

// String formats the interval with two decimals, or "-" when missing.
func (iv Interval) String() string {
	if !iv.Valid {
		return "-"
	}
	return fmt.Sprintf("%.2fs", iv.Seconds)
}

// Calculator remembers the last crossing time per key. It is not safe for
// concurrent use; the frame loop owns it.
type Calculator struct {
	mode KeyMode
	last map[string]time.Time
}

// NewCalculator returns an empty calculator. An empty mode means PerKey.
func NewCalculator(mode KeyMode) *Calculator {
	if mode == "" {
		mode = PerKey
	}
	return &Calculator{mode: mode, last: make(map[string]time.Time)}
}

// Mode returns the key mode.
func (c *Calculator) Mode() KeyMode { return c.mode }

// Interval returns the time since the previous call for key and records ts
// as the new previous time. A timestamp earlier than the stored one yields
// a negative interval.
func (c *Calculator) Interval(key string, ts time.Time) Interval {
	if c.mode == Global {
		key = globalKey
	}
	prev, ok := c.last[key]
	c.last[key] = ts
	if !ok {
		return Interval{}
	}
	return Interval{Seconds: ts.Sub(prev).Seconds(), Valid: true}
}

// Reset forgets every stored timestamp.
func (c *Calculator) Reset() {
	clear(c.last)
}
