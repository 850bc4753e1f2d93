package l6mission

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/navstack/internal/nav/l1geometry"
	"github.com/banshee-data/navstack/internal/nav/l2grid"
	"github.com/banshee-data/navstack/internal/nav/l3detect"
	"github.com/banshee-data/navstack/internal/nav/l4planner"
	"github.com/banshee-data/navstack/internal/nav/l5pursuit"
	"github.com/banshee-data/navstack/internal/timeutil"
)

type fakeSensors struct {
	mu    sync.Mutex
	pose  l1geometry.Pose
	ok    bool
	frame *l3detect.DepthFrame
}

func (f *fakeSensors) Pose() (l1geometry.Pose, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pose, f.ok
}

func (f *fakeSensors) Depth() *l3detect.DepthFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame
}

func (f *fakeSensors) set(p l1geometry.Pose) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pose, f.ok = p, true
}

type recordingSink struct {
	cmds   []l5pursuit.Command
	states []State
}

func (r *recordingSink) Send(cmd l5pursuit.Command, state State) error {
	r.cmds = append(r.cmds, cmd)
	r.states = append(r.states, state)
	return nil
}

func (r *recordingSink) last() l5pursuit.Command { return r.cmds[len(r.cmds)-1] }

type fakePlacer struct{ placed []l1geometry.Pose }

func (f *fakePlacer) Place(p l1geometry.Pose) error {
	f.placed = append(f.placed, p)
	return nil
}

type harness struct {
	nav     *Navigator
	grid    *l2grid.OccupancyGrid
	sensors *fakeSensors
	sink    *recordingSink
	clock   *timeutil.MockClock
}

// 10 m x 10 m at 10 cm; world (0,0) is the bottom-left cell.
var testMapping = l1geometry.GridMapping{Resolution: 0.1, OriginRow: 99, OriginCol: 0, Rows: 100, Cols: 100}

type harnessOpts struct {
	base       *l2grid.Raster
	waypoints  []l1geometry.Waypoint
	mutateCfg  func(*Config)
	mutatePlan func(*l4planner.Config)
	placer     Placer
	observer   Observer
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	base := o.base
	if base == nil {
		base = l2grid.NewRaster(100, 100)
	}
	grid, err := l2grid.NewOccupancyGrid(base, testMapping, 0)
	require.NoError(t, err)
	det, err := l3detect.NewDetector(l3detect.DefaultConfig(), grid)
	require.NoError(t, err)

	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	pcfg := l4planner.DefaultConfig()
	pcfg.IterationBudget = 5000
	pcfg.Seed = 1
	if o.mutatePlan != nil {
		o.mutatePlan(&pcfg)
	}
	planner, err := l4planner.New(pcfg, clock)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Waypoints = o.waypoints
	if cfg.Waypoints == nil {
		cfg.Waypoints = []l1geometry.Waypoint{{Point: l1geometry.Point{X: 1, Y: 1}}, {Point: l1geometry.Point{X: 5, Y: 5}}}
	}
	if o.mutateCfg != nil {
		o.mutateCfg(&cfg)
	}

	h := &harness{grid: grid, sensors: &fakeSensors{}, sink: &recordingSink{}, clock: clock}
	h.nav, err = New(cfg, Deps{
		Grid:     grid,
		Detector: det,
		Planner:  planner,
		Pursuit:  l5pursuit.DefaultConfig(),
		Sensors:  h.sensors,
		Sink:     h.sink,
		Placer:   o.placer,
		Clock:    clock,
		Observer: o.observer,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) step(t *testing.T) bool {
	t.Helper()
	done, err := h.nav.Step(context.Background())
	require.NoError(t, err)
	return done
}

func TestState_Names(t *testing.T) {
	t.Parallel()
	for _, s := range []State{StateInit, StateTracking, StatePlanning, StateFinished} {
		parsed, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)

		b, err := json.Marshal(s)
		require.NoError(t, err)
		var back State
		require.NoError(t, json.Unmarshal(b, &back))
		assert.Equal(t, s, back)
	}
	_, err := ParseState("drifting")
	assert.Error(t, err)
	assert.Equal(t, "State(42)", State(42).String())

	parsed, err := ParseState(" tracking ")
	require.NoError(t, err)
	assert.Equal(t, StateTracking, parsed)
}

func TestNew_RejectsEmptyMission(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	_, err := New(cfg, Deps{})
	assert.True(t, errors.Is(err, ErrNoWaypoints))

	cfg.Waypoints = []l1geometry.Waypoint{{}}
	_, err = New(cfg, Deps{})
	assert.Error(t, err, "missing collaborators")
}

func TestInit_PlacesAtFirstWaypoint(t *testing.T) {
	t.Parallel()
	heading := 0.5
	placer := &fakePlacer{}
	h := newHarness(t, harnessOpts{
		placer: placer,
		waypoints: []l1geometry.Waypoint{
			{Point: l1geometry.Point{X: 1, Y: 2}, Heading: &heading},
			{Point: l1geometry.Point{X: 6, Y: 2}},
		},
	})

	assert.False(t, h.step(t))
	require.Len(t, placer.placed, 1)
	assert.Equal(t, l1geometry.Pose{X: 1, Y: 2, Heading: 0.5}, placer.placed[0])

	c := h.nav.Context()
	assert.Equal(t, StateTracking, c.State)
	assert.Equal(t, 1, c.Visited)
	assert.Equal(t, l1geometry.Point{X: 6, Y: 2}, c.Goal)
	assert.True(t, h.sink.last().IsZero())
}

func TestInit_WithoutPlacerTargetsFirstWaypoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{})
	h.step(t)
	c := h.nav.Context()
	assert.Equal(t, 0, c.Visited)
	assert.Equal(t, l1geometry.Point{X: 1, Y: 1}, c.Goal)
}

func TestInit_SingleWaypointMissionFinishes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{
		placer:    &fakePlacer{},
		waypoints: []l1geometry.Waypoint{{Point: l1geometry.Point{X: 1, Y: 1}}},
	})
	h.step(t)
	assert.Equal(t, StateFinished, h.nav.State())
	assert.True(t, h.step(t))
}

func TestTracking_EmptyPathPlansWithoutAdvancing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{})
	h.step(t) // Init
	h.sensors.set(l1geometry.Pose{X: 2, Y: 2})

	h.step(t)
	c := h.nav.Context()
	assert.Equal(t, StatePlanning, c.State)
	assert.Equal(t, 0, c.Visited)
}

func TestTracking_WaitsForPose(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{})
	h.step(t)
	h.step(t)
	assert.Equal(t, StateTracking, h.nav.State())
	assert.True(t, h.sink.last().IsZero())
	assert.False(t, h.nav.Context().HavePose)
}

func TestPlanning_StoresPathAndReturnsToTracking(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{mutateCfg: func(c *Config) { c.SettleDelay = 2 * time.Second }})
	h.sensors.set(l1geometry.Pose{X: 1, Y: 1})
	h.nav.update(func(c *NavigationContext) {
		c.State = StatePlanning
		c.Goal = l1geometry.Point{X: 5, Y: 5}
		c.Iteration = 7
		c.PathIndex = 3
	})

	h.step(t)
	c := h.nav.Context()
	assert.Equal(t, StateTracking, c.State)
	assert.Equal(t, l1geometry.Path{{X: 1, Y: 1}, {X: 5, Y: 5}}, c.Path)
	assert.Zero(t, c.PathIndex)
	assert.Zero(t, c.Iteration)
	assert.Equal(t, 1, c.Plans)
	assert.True(t, h.sink.cmds[0].IsZero(), "planning starts with a stop")
	assert.Contains(t, h.clock.Sleeps(), 2*time.Second)
}

func TestTracking_SteersTowardNextPoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{})
	h.sensors.set(l1geometry.Pose{X: 1, Y: 1})
	h.nav.update(func(c *NavigationContext) {
		c.State = StateTracking
		c.Path = l1geometry.Path{{X: 1, Y: 1}, {X: 3, Y: 1}}
	})

	h.step(t)
	c := h.nav.Context()
	assert.Equal(t, StateTracking, c.State)
	assert.Equal(t, 1, c.PathIndex, "points inside the look-ahead are skipped")
	assert.Equal(t, l5pursuit.Command{Linear: 0.25}, h.sink.last())
	assert.Equal(t, []State{StateTracking}, h.sink.states)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, h.clock.Sleeps())
}

// A single-point path already inside the look-ahead, on the last waypoint.
func TestTracking_LastWaypointFinishes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{
		waypoints: []l1geometry.Waypoint{{Point: l1geometry.Point{X: 0, Y: 0}}, {Point: l1geometry.Point{X: 1, Y: 0}}},
	})
	h.sensors.set(l1geometry.Pose{X: 0.9, Y: 0})
	h.nav.update(func(c *NavigationContext) {
		c.State = StateTracking
		c.Visited = 1
		c.Path = l1geometry.Path{{X: 1, Y: 0}}
	})

	assert.False(t, h.step(t))
	assert.Equal(t, StateFinished, h.nav.State())
	assert.Equal(t, 2, h.nav.Context().Visited)

	assert.True(t, h.step(t))
	assert.Equal(t, l5pursuit.Command{}, h.sink.last())
}

func TestTracking_PathExhaustedPlansNextWaypoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{
		waypoints: []l1geometry.Waypoint{
			{Point: l1geometry.Point{X: 1, Y: 1}},
			{Point: l1geometry.Point{X: 2, Y: 1}},
			{Point: l1geometry.Point{X: 2, Y: 4}},
		},
	})
	h.sensors.set(l1geometry.Pose{X: 2, Y: 1})
	h.nav.update(func(c *NavigationContext) {
		c.State = StateTracking
		c.Visited = 1
		c.Goal = l1geometry.Point{X: 2, Y: 1}
		c.Path = l1geometry.Path{{X: 1.8, Y: 1}, {X: 2, Y: 1}}
	})

	h.step(t)
	c := h.nav.Context()
	assert.Empty(t, h.sink.cmds, "no steering once the path is used up")
	assert.Equal(t, StatePlanning, c.State)
	assert.Equal(t, 2, c.Visited)
	assert.Equal(t, l1geometry.Point{X: 2, Y: 4}, c.Goal)
	assert.Empty(t, c.Path)
}

func TestTracking_NewObstacleTriggersReplan(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{mutateCfg: func(c *Config) { c.CollisionCheckInterval = 2 }})
	frame := l3detect.NewDepthFrame(60, 240)
	for col := 30; col <= 32; col++ {
		frame.Set(col, 229, l3detect.CameraPoint{X: 0, Y: -0.2, Z: 1})
	}
	h.sensors.frame = frame
	h.sensors.set(l1geometry.Pose{X: 2, Y: 5})
	h.nav.update(func(c *NavigationContext) {
		c.State = StateTracking
		c.Goal = l1geometry.Point{X: 8, Y: 5}
		c.Path = l1geometry.Path{{X: 2, Y: 5}, {X: 8, Y: 5}}
	})

	h.step(t) // iteration 1: no scan
	assert.Equal(t, StateTracking, h.nav.State())
	assert.True(t, h.grid.IsFreeAt(l1geometry.Point{X: 3, Y: 5}))

	h.step(t) // iteration 2: scan
	c := h.nav.Context()
	assert.Equal(t, StatePlanning, c.State)
	assert.Equal(t, l1geometry.Point{X: 8, Y: 5}, c.Goal, "goal is kept")
	assert.Zero(t, c.Visited)
	assert.False(t, h.grid.IsFreeAt(l1geometry.Point{X: 3, Y: 5}))
}

type scanLog struct {
	NopObserver
	scans []l3detect.ScanResult
}

func (s *scanLog) OnObstacle(res l3detect.ScanResult, _ l1geometry.Pose) {
	s.scans = append(s.scans, res)
}

func TestTracking_ObserverSeesEveryScan(t *testing.T) {
	t.Parallel()
	log := &scanLog{}
	h := newHarness(t, harnessOpts{
		observer:  log,
		mutateCfg: func(c *Config) { c.CollisionCheckInterval = 1 },
	})
	h.sensors.set(l1geometry.Pose{X: 2, Y: 5})
	h.nav.update(func(c *NavigationContext) {
		c.State = StateTracking
		c.Goal = l1geometry.Point{X: 8, Y: 5}
		c.Path = l1geometry.Path{{X: 8, Y: 5}}
	})

	h.step(t) // no frame yet: nothing scanned
	assert.Empty(t, log.scans)

	h.sensors.frame = l3detect.NewDepthFrame(60, 240)
	h.step(t)
	require.Len(t, log.scans, 1)
	assert.False(t, log.scans[0].Skipped)
	assert.Zero(t, log.scans[0].Candidates)

	self := testMapping.Project(l1geometry.Point{X: 2, Y: 5})
	_, err := h.grid.MarkObstacle(self.Row, self.Col, 0)
	require.NoError(t, err)
	h.step(t)
	require.Len(t, log.scans, 2)
	assert.True(t, log.scans[1].Skipped)
	assert.Equal(t, StateTracking, h.nav.State())
}

func wallAtX5() *l2grid.Raster {
	r := l2grid.NewRaster(100, 100)
	for row := 0; row < 100; row++ {
		_ = r.SetObstacle(row, 50)
	}
	return r
}

func TestPlanning_AttemptsExhaustedFinishes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{
		base:       wallAtX5(),
		mutateCfg:  func(c *Config) { c.SettleDelay = 0 },
		mutatePlan: func(c *l4planner.Config) { c.IterationBudget = 100; c.MaxAttempts = 2 },
	})
	h.sensors.set(l1geometry.Pose{X: 1, Y: 5})
	h.nav.update(func(c *NavigationContext) {
		c.State = StatePlanning
		c.Goal = l1geometry.Point{X: 8, Y: 5}
	})

	done, err := h.nav.Step(context.Background())
	assert.False(t, done)
	require.Error(t, err)
	assert.True(t, errors.Is(err, l4planner.ErrAttemptsExhausted))
	assert.Equal(t, StateFinished, h.nav.State())
	assert.True(t, h.sink.last().IsZero())
}

func TestPlanning_BlockedGoalIsSkipped(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{
		base:      wallAtX5(),
		mutateCfg: func(c *Config) { c.SettleDelay = 0 },
		waypoints: []l1geometry.Waypoint{
			{Point: l1geometry.Point{X: 5, Y: 5}},
			{Point: l1geometry.Point{X: 2, Y: 2}},
		},
	})
	h.sensors.set(l1geometry.Pose{X: 1, Y: 5})
	h.nav.update(func(c *NavigationContext) {
		c.State = StatePlanning
		c.Goal = l1geometry.Point{X: 5, Y: 5}
	})

	h.step(t)
	c := h.nav.Context()
	assert.Equal(t, StatePlanning, c.State)
	assert.Equal(t, 1, c.Visited)
	assert.Equal(t, l1geometry.Point{X: 2, Y: 2}, c.Goal)
}

func TestPlanning_EscapesInflatedStart(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{mutateCfg: func(c *Config) { c.SettleDelay = 0 }})
	pose := l1geometry.Pose{X: 2, Y: 5}
	cell, err := testMapping.ToGrid(pose.Position())
	require.NoError(t, err)
	_, err = h.grid.MarkObstacle(cell.Row, cell.Col, 2)
	require.NoError(t, err)

	h.sensors.set(pose)
	h.nav.update(func(c *NavigationContext) {
		c.State = StatePlanning
		c.Goal = l1geometry.Point{X: 8, Y: 5}
	})

	h.step(t)
	c := h.nav.Context()
	require.Equal(t, StateTracking, c.State)
	require.NotEmpty(t, c.Path)
	assert.True(t, h.grid.IsFreeAt(c.Path[0]))
	assert.Less(t, c.Path[0].DistanceTo(pose.Position()), 0.5)
	assert.Equal(t, l1geometry.Point{X: 8, Y: 5}, c.Path[len(c.Path)-1])
}

func TestRun_CancelledContextStops(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.nav.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotEmpty(t, h.sink.cmds)
	assert.True(t, h.sink.last().IsZero())
	assert.ErrorIs(t, h.nav.Context().Err, context.Canceled)
}

type countingObserver struct {
	NopObserver
	transitions []State
	plans       int
	finished    int
}

func (c *countingObserver) OnStateChange(_, to State) {
	c.transitions = append(c.transitions, to)
}

func (c *countingObserver) OnPlan(PlanEvent) { c.plans++ }

func (c *countingObserver) OnFinish(NavigationContext) { c.finished++ }

func TestRun_ReachesEveryWaypoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t, harnessOpts{
		placer: &fakePlacer{},
		waypoints: []l1geometry.Waypoint{
			{Point: l1geometry.Point{X: 1, Y: 1}},
			{Point: l1geometry.Point{X: 2, Y: 1}},
		},
		mutateCfg: func(c *Config) { c.SettleDelay = 0 },
	})
	obs := &countingObserver{}
	h.nav.deps.Observer = Observers{NopObserver{}, obs}

	// The fake vehicle teleports onto whatever it is steered toward.
	h.sensors.set(l1geometry.Pose{X: 1, Y: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	teleport := &teleportSink{recordingSink: h.sink, sensors: h.sensors, nav: h.nav}
	h.nav.deps.Sink = teleport
	require.NoError(t, h.nav.Run(ctx))

	assert.Equal(t, []State{StateTracking, StatePlanning, StateTracking, StateFinished}, obs.transitions)
	assert.Equal(t, 1, obs.plans)
	assert.Equal(t, 1, obs.finished)
	assert.Equal(t, 2, h.nav.Context().Visited)
	assert.True(t, h.sink.last().IsZero())
}

// teleportSink moves the fake pose onto the current path target whenever a
// non-zero command is sent.
type teleportSink struct {
	*recordingSink
	sensors *fakeSensors
	nav     *Navigator
}

func (s *teleportSink) Send(cmd l5pursuit.Command, state State) error {
	if !cmd.IsZero() {
		c := s.nav.Context()
		if c.PathIndex < len(c.Path) {
			p := c.Path[c.PathIndex]
			s.sensors.set(l1geometry.Pose{X: p.X, Y: p.Y})
		}
	}
	return s.recordingSink.Send(cmd, state)
}
