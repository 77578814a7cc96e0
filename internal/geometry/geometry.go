// Package geometry holds the image-plane primitives used by the tracker and
// the zone counter: axis-aligned boxes, points and polygons.
package geometry

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Box is an axis-aligned bounding box in pixel coordinates. X1,Y1 is the
// top-left corner and X2,Y2 the bottom-right corner.
type Box struct {
	X1, Y1, X2, Y2 float64
}

// Point is a pixel coordinate.
type Point struct {
	X, Y float64
}

// Polygon is an ordered, implicitly closed list of vertices.
type Polygon []Point

// CentroidMode selects which reference point of a box stands for the object.
type CentroidMode int

const (
	// BottomCenter is the midpoint of the bottom edge, where a vehicle meets
	// the road surface.
	BottomCenter CentroidMode = iota
	// Center is the middle of the box.
	Center
)

// String returns the config spelling of the mode.
func (m CentroidMode) String() string {
	switch m {
	case BottomCenter:
		return "bottom-center"
	case Center:
		return "center"
	default:
		return "unknown"
	}
}

// ParseCentroidMode converts a config string into a CentroidMode.
func ParseCentroidMode(s string) (CentroidMode, bool) {
	switch s {
	case "", "bottom-center", "bottom_center":
		return BottomCenter, true
	case "center":
		return Center, true
	}
	return BottomCenter, false
}

// Width returns the inclusive pixel width of the box.
func (b Box) Width() float64 { return b.X2 - b.X1 + 1 }

// Height returns the inclusive pixel height of the box.
func (b Box) Height() float64 { return b.Y2 - b.Y1 + 1 }

// Area returns the inclusive pixel area of the box.
func (b Box) Area() float64 { return b.Width() * b.Height() }

// Overlap returns the intersection over union of two boxes. Widths and
// heights are inclusive so adjacent pixel boxes that share an edge overlap.
// Disjoint boxes and degenerate inputs return 0.
func Overlap(a, b Box) float64 {
	ix1 := max(a.X1, b.X1)
	iy1 := max(a.Y1, b.Y1)
	ix2 := min(a.X2, b.X2)
	iy2 := min(a.Y2, b.Y2)

	w := ix2 - ix1 + 1
	h := iy2 - iy1 + 1
	if w <= 0 || h <= 0 {
		return 0
	}

	inter := w * h
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	iou := inter / union
	if iou > 1 {
		return 1
	}
	return iou
}

// Centroid returns the reference point of the box for the given mode.
func Centroid(b Box, mode CentroidMode) Point {
	cx := (b.X1 + b.X2) / 2
	if mode == Center {
		return Point{X: cx, Y: (b.Y1 + b.Y2) / 2}
	}
	return Point{X: cx, Y: b.Y2}
}

// Contains reports whether p lies inside poly. Polygons with fewer than
// three vertices contain nothing.
func Contains(p Point, poly Polygon) bool {
	if len(poly) < 3 {
		return false
	}
	return planar.RingContains(poly.ring(), orb.Point{p.X, p.Y})
}

// Bounds returns the bounding box of the polygon.
func (poly Polygon) Bounds() Box {
	if len(poly) == 0 {
		return Box{}
	}
	bound := poly.ring().Bound()
	return Box{X1: bound.Min[0], Y1: bound.Min[1], X2: bound.Max[0], Y2: bound.Max[1]}
}

func (poly Polygon) ring() orb.Ring {
	ring := make(orb.Ring, 0, len(poly)+1)
	for _, p := range poly {
		ring = append(ring, orb.Point{p.X, p.Y})
	}
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return ring
}
