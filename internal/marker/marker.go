package marker

import "math"

// Point is a sub-pixel position in image space.
type Point struct {
	X float64 `json:"x" yaml:"x"` // Horizontal position (0 = leftmost)
	Y float64 `json:"y" yaml:"y"` // Vertical position (0 = topmost)
}

// Scale returns the point with both coordinates multiplied by factor.
func (p Point) Scale(factor float64) Point {
	return Point{X: p.X * factor, Y: p.Y * factor}
}

// Distance returns the Euclidean distance to another point.
func (p Point) Distance(other Point) float64 {
	return math.Hypot(p.X-other.X, p.Y-other.Y)
}

// Marker is a single decoded fiducial: its dictionary ID and the four corners
// of its square outline.
//
// Corners are kept in the order the detector produced them (ArUco reports
// top-left, top-right, bottom-right, bottom-left of the marker's own frame,
// clockwise in image space). The order must survive every transformation.
type Marker struct {
	// ID is the decoded marker identifier. Non-negative.
	ID int `json:"id"`

	// Corners is the marker outline in detector winding order.
	Corners [4]Point `json:"corners"`
}

// Center returns the mean of the four corners.
func (m Marker) Center() Point {
	var c Point
	for _, p := range m.Corners {
		c.X += p.X
		c.Y += p.Y
	}
	return Point{X: c.X / 4, Y: c.Y / 4}
}

// Perimeter returns the length of the closed corner polygon.
func (m Marker) Perimeter() float64 {
	total := 0.0
	for i := range m.Corners {
		total += m.Corners[i].Distance(m.Corners[(i+1)%4])
	}
	return total
}

// Total returns the number of markers across all given lists.
func Total(lists ...[]Marker) int {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	return n
}
