package l1geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Point is a world-frame position in meters.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Vec converts the point to a gonum vector.
func (p Point) Vec() r2.Vec { return r2.Vec{X: p.X, Y: p.Y} }

// PointFromVec converts a gonum vector back to a Point.
func PointFromVec(v r2.Vec) Point { return Point{X: v.X, Y: v.Y} }

// DistanceTo returns the Euclidean distance between two points.
func (p Point) DistanceTo(q Point) float64 {
	return r2.Norm(r2.Sub(q.Vec(), p.Vec()))
}

func (p Point) String() string { return fmt.Sprintf("(%.3f, %.3f)", p.X, p.Y) }

// Pose is the vehicle position and heading in the world frame.
// Heading is in radians, counter-clockwise from the +X axis.
type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

// Position drops the heading.
func (p Pose) Position() Point { return Point{X: p.X, Y: p.Y} }

// DistanceTo returns the planar distance from the pose to q.
func (p Pose) DistanceTo(q Point) float64 { return p.Position().DistanceTo(q) }

func (p Pose) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.1f°)", p.X, p.Y, p.Heading*180/math.Pi)
}

// Waypoint is a mission goal. Heading is carried for callers that want a
// final orientation; the navigation pipeline itself only uses the position.
type Waypoint struct {
	Point
	Heading *float64 `json:"heading,omitempty"`
}

// Path is an ordered sequence of points from the current pose to a goal.
// A Path is only valid for the grid snapshot it was planned against.
type Path []Point

// Len returns the sum of segment lengths along the path.
func (p Path) Len() float64 {
	var total float64
	for i := 1; i < len(p); i++ {
		total += p[i-1].DistanceTo(p[i])
	}
	return total
}

// Bounds is an axis-aligned world rectangle.
type Bounds struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
}

// Contains reports whether p lies inside the rectangle, edges included.
func (b Bounds) Contains(p Point) bool {
	return p.X >= b.XMin && p.X <= b.XMax && p.Y >= b.YMin && p.Y <= b.YMax
}

// Valid reports whether the rectangle has positive extent on both axes.
func (b Bounds) Valid() bool {
	return b.XMax > b.XMin && b.YMax > b.YMin
}
