// Package report summarises the gaps between successive crossings of a zone.
package report

import (
	"fmt"
	"io"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Headway summarises a set of inter-arrival intervals in seconds.
type Headway struct {
	Zone   string  `json:"zone"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean_s"`
	StdDev float64 `json:"stddev_s"`
	Median float64 `json:"median_s"`
	P85    float64 `json:"p85_s"`
	Min    float64 `json:"min_s"`
	Max    float64 `json:"max_s"`
}

// Summarise computes headway statistics. The input is not modified. An empty
// input yields a zero summary with Count 0.
func Summarise(zone string, intervals []float64) Headway {
	h := Headway{Zone: zone, Count: len(intervals)}
	if len(intervals) == 0 {
		return h
	}

	sorted := slices.Clone(intervals)
	slices.Sort(sorted)

	h.Mean = stat.Mean(sorted, nil)
	if len(sorted) > 1 {
		h.StdDev = stat.StdDev(sorted, nil)
	}
	h.Median = stat.Quantile(0.5, stat.LinInterp, sorted, nil)
	h.P85 = stat.Quantile(0.85, stat.LinInterp, sorted, nil)
	h.Min = sorted[0]
	h.Max = sorted[len(sorted)-1]
	return h
}

// WriteText prints one line per summary.
func WriteText(w io.Writer, hs []Headway) error {
	for _, h := range hs {
		if h.Count == 0 {
			if _, err := fmt.Fprintf(w, "%s: no intervals\n", h.Zone); err != nil {
				return err
			}
			continue
		}
		_, err := fmt.Fprintf(w, "%s: n=%d mean=%.2fs sd=%.2fs median=%.2fs p85=%.2fs min=%.2fs max=%.2fs\n",
			h.Zone, h.Count, h.Mean, h.StdDev, h.Median, h.P85, h.Min, h.Max)
		if err != nil {
			return err
		}
	}
	return nil
}
