package l5pursuit

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/navstack/internal/nav/l1geometry"
)

func TestSteer_StraightAhead(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cmd := cfg.Steer(l1geometry.Pose{}, l1geometry.Point{X: 1, Y: 0})
	assert.Equal(t, cfg.MaxLinear, cmd.Linear)
	assert.Zero(t, cmd.Angular)
}

func TestSteer_DegenerateAxis(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	tests := []struct {
		name    string
		target  l1geometry.Point
		angular float64
	}{
		{"abeam to starboard", l1geometry.Point{X: 0, Y: -1}, cfg.MaxAngular},
		{"abeam to port", l1geometry.Point{X: 0, Y: 1}, -cfg.MaxAngular},
		{"dead astern", l1geometry.Point{X: -1, Y: 0}, cfg.MaxAngular},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := cfg.Steer(l1geometry.Pose{}, tt.target)
			assert.Equal(t, cfg.MaxLinear, cmd.Linear)
			assert.Equal(t, tt.angular, cmd.Angular)
		})
	}
}

func TestSteer_TurnSideAndGains(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()

	t.Run("gentle starboard", func(t *testing.T) {
		a := cfg.Solve(l1geometry.Pose{}, l1geometry.Point{X: 10, Y: -0.5})
		assert.Equal(t, 1.0, a.Turn)
		assert.Equal(t, 1.0, a.Gain)
		cmd := cfg.Steer(l1geometry.Pose{}, l1geometry.Point{X: 10, Y: -0.5})
		assert.Equal(t, cfg.MaxLinear, cmd.Linear)
		assert.InDelta(t, 0.25*1/100.25, cmd.Angular, 1e-12)
	})

	t.Run("port at 45 degrees saturates angular", func(t *testing.T) {
		a := cfg.Solve(l1geometry.Pose{}, l1geometry.Point{X: 1, Y: 1})
		assert.Equal(t, -1.0, a.Turn)
		assert.Equal(t, 5.0, a.Gain)
		assert.InDelta(t, 5.0, a.Curvature, 1e-12)

		cmd := cfg.Steer(l1geometry.Pose{}, l1geometry.Point{X: 1, Y: 1})
		assert.InDelta(t, -cfg.MaxAngular, cmd.Angular, 1e-12)
		assert.InDelta(t, cfg.MaxAngular/5, cmd.Linear, 1e-12)
	})

	t.Run("nearly behind uses the wide gain", func(t *testing.T) {
		a := cfg.Solve(l1geometry.Pose{}, l1geometry.Point{X: -1, Y: -0.1})
		assert.Equal(t, 10.0, a.Gain)
		assert.Greater(t, a.HeadingError, math.Pi/2)
	})

	t.Run("heading rotates the frame", func(t *testing.T) {
		// Facing +Y, a target at +X is to starboard.
		a := cfg.Solve(l1geometry.Pose{Heading: math.Pi / 2}, l1geometry.Point{X: 1, Y: 1})
		assert.InDelta(t, 1.0, a.Forward, 1e-12)
		assert.InDelta(t, 1.0, a.Starboard, 1e-12)
		assert.Equal(t, 1.0, a.Turn)
	})
}

func TestSteer_Saturation(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	rng := rand.New(rand.NewPCG(11, 12))
	for i := 0; i < 5000; i++ {
		pose := l1geometry.Pose{X: rng.NormFloat64() * 5, Y: rng.NormFloat64() * 5, Heading: (rng.Float64()*2 - 1) * math.Pi}
		target := l1geometry.Point{X: pose.X + rng.NormFloat64()*3, Y: pose.Y + rng.NormFloat64()*3}
		cmd := cfg.Steer(pose, target)
		if cmd.Linear < 0 || cmd.Linear > cfg.MaxLinear+1e-12 || math.Abs(cmd.Angular) > cfg.MaxAngular+1e-12 {
			t.Fatalf("pose %v target %v: command %v exceeds limits", pose, target, cmd)
		}
		// Pure function of its inputs.
		assert.Equal(t, cmd, cfg.Steer(pose, target))
	}
}

func TestSteer_AtTarget(t *testing.T) {
	t.Parallel()
	cmd := DefaultConfig().Steer(l1geometry.Pose{X: 2, Y: 3, Heading: 1}, l1geometry.Point{X: 2, Y: 3})
	assert.True(t, cmd.IsZero())
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.MaxAngular = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.HeadingThresholds = [2]float64{0.1, 1}
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Gains[1] = 0
	assert.Error(t, bad.Validate())
}
