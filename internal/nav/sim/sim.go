// Package sim is a kinematic stand-in for the vehicle: a unicycle driven by
// velocity commands, a depth camera ray-cast against a hidden truth raster,
// and a virtual clock whose Sleep advances the physics.
package sim

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/navstack/internal/monitoring"
	"github.com/banshee-data/navstack/internal/nav/l1geometry"
	"github.com/banshee-data/navstack/internal/nav/l2grid"
	"github.com/banshee-data/navstack/internal/nav/l3detect"
	"github.com/banshee-data/navstack/internal/nav/l5pursuit"
	"github.com/banshee-data/navstack/internal/nav/l6mission"
)

// Config describes the simulated vehicle and camera.
type Config struct {
	CameraWidth    int
	CameraHeight   int
	ScanRow        int     // only this row is rendered
	FieldOfView    float64 // horizontal, radians
	MaxRange       float64 // meters
	GroundHeight   float64 // camera height above the floor (m)
	ObstacleHeight float64 // height of every truth obstacle (m)
	PhysicsStep    time.Duration
}

// DefaultConfig returns a camera matched to the default detector tuning.
func DefaultConfig() Config {
	return Config{
		CameraWidth:    120,
		CameraHeight:   240,
		ScanRow:        229,
		FieldOfView:    math.Pi / 3,
		MaxRange:       4,
		GroundHeight:   0.3099,
		ObstacleHeight: 0.5,
		PhysicsStep:    10 * time.Millisecond,
	}
}

// Sim is safe for concurrent use.
type Sim struct {
	cfg     Config
	truth   *l2grid.Raster
	mapping l1geometry.GridMapping

	mu         sync.Mutex
	now        time.Time
	pose       l1geometry.Pose
	cmd        l5pursuit.Command
	odometer   float64
	collisions int
	trace      []l1geometry.Pose
}

// New returns a simulator at start. truth holds the obstacles the camera
// can see; it need not match the map the navigator plans on.
func New(cfg Config, truth *l2grid.Raster, mapping l1geometry.GridMapping, start l1geometry.Pose) (*Sim, error) {
	if err := mapping.Validate(); err != nil {
		return nil, err
	}
	if truth == nil || truth.Rows != mapping.Rows || truth.Cols != mapping.Cols {
		return nil, fmt.Errorf("truth raster does not match mapping %dx%d", mapping.Rows, mapping.Cols)
	}
	if cfg.CameraWidth < 2 || cfg.ScanRow < 0 || cfg.ScanRow >= cfg.CameraHeight {
		return nil, fmt.Errorf("invalid camera %dx%d with scan row %d", cfg.CameraWidth, cfg.CameraHeight, cfg.ScanRow)
	}
	if cfg.PhysicsStep <= 0 {
		cfg.PhysicsStep = 10 * time.Millisecond
	}
	return &Sim{
		cfg:     cfg,
		truth:   truth.Clone(),
		mapping: mapping,
		now:     time.Unix(0, 0),
		pose:    start,
		trace:   []l1geometry.Pose{start},
	}, nil
}

// Pose implements l6mission.SensorSource. The simulator always has a pose.
func (s *Sim) Pose() (l1geometry.Pose, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pose, true
}

// Send implements l6mission.CommandSink.
func (s *Sim) Send(cmd l5pursuit.Command, _ l6mission.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmd = cmd
	return nil
}

// Place implements l6mission.Placer.
func (s *Sim) Place(pose l1geometry.Pose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.freeAt(pose.Position()) {
		return fmt.Errorf("cannot place vehicle at %v: blocked or off the map", pose)
	}
	s.pose = pose
	s.cmd = l5pursuit.Stop
	s.trace = append(s.trace, pose)
	return nil
}

func (s *Sim) freeAt(p l1geometry.Point) bool {
	c, err := s.mapping.ToGrid(p)
	return err == nil && s.truth.IsFree(c.Row, c.Col)
}

// Now implements timeutil.Clock.
func (s *Sim) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Since implements timeutil.Clock.
func (s *Sim) Since(t time.Time) time.Duration { return s.Now().Sub(t) }

// Sleep advances simulated time by d, integrating the vehicle under the
// last command received.
func (s *Sim) Sleep(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for d > 0 {
		dt := min(d, s.cfg.PhysicsStep)
		s.integrate(dt.Seconds())
		s.now = s.now.Add(dt)
		d -= dt
	}
	s.trace = append(s.trace, s.pose)
}

// integrate moves the unicycle. Angular velocity is clockwise-positive.
func (s *Sim) integrate(dt float64) {
	if s.cmd.IsZero() {
		return
	}
	v, w := s.cmd.Linear, s.cmd.Angular
	next := s.pose
	next.X += v * math.Cos(s.pose.Heading) * dt
	next.Y += v * math.Sin(s.pose.Heading) * dt
	next.Heading = normalizeAngle(s.pose.Heading - w*dt)

	if !s.freeAt(next.Position()) {
		if s.collisions == 0 {
			monitoring.Logf("[sim] vehicle blocked at %v", next)
		}
		s.collisions++
		next.X, next.Y = s.pose.X, s.pose.Y
	}
	s.odometer += math.Hypot(next.X-s.pose.X, next.Y-s.pose.Y)
	s.pose = next
}

func normalizeAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// Depth implements l6mission.SensorSource by ray-casting the scan row.
func (s *Sim) Depth() *l3detect.DepthFrame {
	s.mu.Lock()
	pose := s.pose
	s.mu.Unlock()

	f := l3detect.NewDepthFrame(s.cfg.CameraWidth, s.cfg.CameraHeight)
	y := s.cfg.GroundHeight - s.cfg.ObstacleHeight
	step := s.mapping.Resolution / 2
	for col := 0; col < s.cfg.CameraWidth; col++ {
		// Left edge to right edge; positive bearings are to starboard.
		bearing := -s.cfg.FieldOfView/2 + s.cfg.FieldOfView*float64(col)/float64(s.cfg.CameraWidth-1)
		dir := pose.Heading - bearing
		dx, dy := math.Cos(dir), math.Sin(dir)
		for r := step; r <= s.cfg.MaxRange; r += step {
			c, err := s.mapping.ToGrid(l1geometry.Point{X: pose.X + dx*r, Y: pose.Y + dy*r})
			if err != nil {
				break
			}
			if !s.truth.IsFree(c.Row, c.Col) {
				f.Set(col, s.cfg.ScanRow, l3detect.CameraPoint{
					X: r * math.Sin(bearing),
					Y: y,
					Z: r * math.Cos(bearing),
				})
				break
			}
		}
	}
	return f
}

// Stats summarises the vehicle's motion so far.
type Stats struct {
	Pose       l1geometry.Pose
	Odometer   float64
	Collisions int
	Elapsed    time.Duration
}

// Stats returns a summary.
func (s *Sim) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Pose: s.pose, Odometer: s.odometer, Collisions: s.collisions, Elapsed: s.now.Sub(time.Unix(0, 0))}
}

// Trace returns the pose after every Sleep.
func (s *Sim) Trace() []l1geometry.Pose {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]l1geometry.Pose(nil), s.trace...)
}
