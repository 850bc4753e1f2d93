package l5pursuit

import (
	"fmt"
	"math"

	"github.com/banshee-data/navstack/internal/nav/l1geometry"
)

// Command is a velocity command. Linear is m/s along the heading. Angular
// is rad/s and positive for clockwise (starboard) rotation.
type Command struct {
	Linear  float64 `json:"linear"`
	Angular float64 `json:"angular"`
}

// Stop is the zero command.
var Stop = Command{}

// IsZero reports whether the command stops the vehicle.
func (c Command) IsZero() bool { return c.Linear == 0 && c.Angular == 0 }

func (c Command) String() string { return fmt.Sprintf("{v=%.3f w=%.3f}", c.Linear, c.Angular) }

// Config holds the pursuit limits and the tiered turn gains.
type Config struct {
	MaxLinear       float64 // m/s
	MaxAngular      float64 // rad/s
	CurvatureBudget float64 // v²·κ limit (m/s²)

	// HeadingThresholds are [wide, narrow] heading errors in radians.
	// Errors above wide use Gains[0], above narrow Gains[1], else Gains[2].
	HeadingThresholds [2]float64
	Gains             [3]float64
}

// DefaultConfig returns the reference vehicle limits.
func DefaultConfig() Config {
	return Config{
		MaxLinear:         0.25,
		MaxAngular:        math.Pi / 180 * 300 / 10,
		CurvatureBudget:   0.1,
		HeadingThresholds: [2]float64{math.Pi / 2, math.Pi / 18},
		Gains:             [3]float64{10, 5, 1},
	}
}

// Validate checks the limits are usable.
func (c Config) Validate() error {
	if c.MaxLinear <= 0 || c.MaxAngular <= 0 || c.CurvatureBudget <= 0 {
		return fmt.Errorf("pursuit limits must be positive: linear %v angular %v budget %v",
			c.MaxLinear, c.MaxAngular, c.CurvatureBudget)
	}
	if c.HeadingThresholds[0] < c.HeadingThresholds[1] {
		return fmt.Errorf("heading thresholds must be ordered wide, narrow: %v", c.HeadingThresholds)
	}
	for _, g := range c.Gains {
		if g <= 0 {
			return fmt.Errorf("turn gains must be positive: %v", c.Gains)
		}
	}
	return nil
}

// Arc is the target expressed in the vehicle frame plus the scaled
// curvature toward it. Curvature is a magnitude; Turn carries the side
// (+1 starboard, -1 port, 0 straight).
type Arc struct {
	Forward      float64
	Starboard    float64
	Distance     float64
	HeadingError float64 // radians in [0, π]
	Gain         float64
	Curvature    float64
	Turn         float64
}

// Degenerate reports whether the target sits on the axis where the
// curvature formula breaks down: dead astern or exactly abeam.
func (a Arc) Degenerate() bool {
	return (a.Starboard == 0 && a.Forward < 0) || (a.Forward == 0 && a.Starboard != 0)
}

// Solve expresses target in the frame of pose.
func (c Config) Solve(pose l1geometry.Pose, target l1geometry.Point) Arc {
	dx, dy := target.X-pose.X, target.Y-pose.Y
	cos, sin := math.Cos(pose.Heading), math.Sin(pose.Heading)
	a := Arc{
		Forward:   dx*cos + dy*sin,
		Starboard: dx*sin - dy*cos,
		Distance:  math.Hypot(dx, dy),
	}
	switch {
	case a.Starboard > 0:
		a.Turn = 1
	case a.Starboard < 0:
		a.Turn = -1
	}
	a.HeadingError = math.Atan2(math.Abs(a.Starboard), a.Forward)

	switch {
	case a.HeadingError > c.HeadingThresholds[0]:
		a.Gain = c.Gains[0]
	case a.HeadingError > c.HeadingThresholds[1]:
		a.Gain = c.Gains[1]
	default:
		a.Gain = c.Gains[2]
	}
	if a.Distance > 0 {
		a.Curvature = 2 * math.Abs(a.Starboard) / (a.Distance * a.Distance) * a.Gain
	}
	return a
}

// Steer returns the command that drives pose toward target. It is a pure
// function; both outputs are clamped to the configured limits.
func (c Config) Steer(pose l1geometry.Pose, target l1geometry.Point) Command {
	a := c.Solve(pose, target)
	if a.Distance == 0 {
		return Stop
	}
	if a.Degenerate() {
		turn := a.Turn
		if turn == 0 {
			turn = 1
		}
		return Command{Linear: c.MaxLinear, Angular: turn * c.MaxAngular}
	}
	if a.Curvature == 0 {
		return Command{Linear: c.MaxLinear}
	}

	v := math.Min(c.MaxLinear, math.Sqrt(c.CurvatureBudget/a.Curvature))
	w := v * a.Curvature
	if w > c.MaxAngular {
		w = c.MaxAngular
		v = w / a.Curvature
	}
	return Command{Linear: v, Angular: a.Turn * w}
}
