package l3detect

import (
	"math"

	"github.com/banshee-data/navstack/internal/nav/l1geometry"
)

// CameraPoint is one depth-camera return in the optical frame: X to the
// right, Y down, Z forward, all in meters. A NaN Z means no return.
type CameraPoint struct {
	X float64
	Y float64
	Z float64
}

// Valid reports whether the sample carries a finite depth.
func (p CameraPoint) Valid() bool {
	return !math.IsNaN(p.Z) && !math.IsInf(p.Z, 0) && !math.IsNaN(p.X) && !math.IsNaN(p.Y)
}

// NoReturn is the placeholder stored for pixels without depth.
var NoReturn = CameraPoint{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}

// DepthFrame is an organised point cloud stored row-major.
type DepthFrame struct {
	Width  int
	Height int
	Points []CameraPoint // len = Width * Height
}

// NewDepthFrame returns a frame with every pixel set to NoReturn.
func NewDepthFrame(width, height int) *DepthFrame {
	f := &DepthFrame{Width: width, Height: height, Points: make([]CameraPoint, width*height)}
	for i := range f.Points {
		f.Points[i] = NoReturn
	}
	return f
}

// At returns the sample at (col, row); ok is false outside the frame.
func (f *DepthFrame) At(col, row int) (CameraPoint, bool) {
	if f == nil || col < 0 || col >= f.Width || row < 0 || row >= f.Height {
		return NoReturn, false
	}
	return f.Points[row*f.Width+col], true
}

// Set stores a sample, ignoring out-of-frame writes.
func (f *DepthFrame) Set(col, row int, p CameraPoint) {
	if col < 0 || col >= f.Width || row < 0 || row >= f.Height {
		return
	}
	f.Points[row*f.Width+col] = p
}

// SetRow overwrites one row from a slice; extra samples are dropped.
func (f *DepthFrame) SetRow(row int, pts []CameraPoint) {
	if row < 0 || row >= f.Height {
		return
	}
	n := min(len(pts), f.Width)
	copy(f.Points[row*f.Width:row*f.Width+n], pts[:n])
}

// Clone returns a deep copy.
func (f *DepthFrame) Clone() *DepthFrame {
	if f == nil {
		return nil
	}
	return &DepthFrame{Width: f.Width, Height: f.Height, Points: append([]CameraPoint(nil), f.Points...)}
}

// CameraToWorld projects a camera sample into the world frame. The camera
// looks along the vehicle heading: camera Z is vehicle forward and camera X
// is vehicle starboard.
func CameraToWorld(p CameraPoint, pose l1geometry.Pose) l1geometry.Point {
	forward := p.Z
	port := -p.X

	cos, sin := math.Cos(pose.Heading), math.Sin(pose.Heading)
	return l1geometry.Point{
		X: forward*cos - port*sin + pose.X,
		Y: forward*sin + port*cos + pose.Y,
	}
}
