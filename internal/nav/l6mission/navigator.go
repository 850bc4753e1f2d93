package l6mission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/navstack/internal/monitoring"
	"github.com/banshee-data/navstack/internal/nav/l1geometry"
	"github.com/banshee-data/navstack/internal/nav/l2grid"
	"github.com/banshee-data/navstack/internal/nav/l3detect"
	"github.com/banshee-data/navstack/internal/nav/l4planner"
	"github.com/banshee-data/navstack/internal/nav/l5pursuit"
	"github.com/banshee-data/navstack/internal/timeutil"
)

// ErrNoWaypoints is returned by New for an empty mission.
var ErrNoWaypoints = errors.New("mission has no waypoints")

// Config holds mission-level tuning.
type Config struct {
	Waypoints              []l1geometry.Waypoint
	LookAhead              float64 // meters
	CollisionCheckInterval int     // run the detector every N tracking steps
	ControlRate            float64 // Hz
	SettleDelay            time.Duration

	// PlaceAtFirstWaypoint places the vehicle on waypoint 0 during Init,
	// when a Placer is available, and counts it as visited.
	PlaceAtFirstWaypoint bool

	// EscapeRadius is how many cells Planning searches for free space
	// when the vehicle sits inside an inflated obstacle.
	EscapeRadius int
}

// DefaultConfig returns the reference mission tuning without waypoints.
func DefaultConfig() Config {
	return Config{
		LookAhead:              0.5,
		CollisionCheckInterval: 3,
		ControlRate:            10,
		SettleDelay:            3 * time.Second,
		PlaceAtFirstWaypoint:   true,
		EscapeRadius:           26,
	}
}

// Validate checks the mission is runnable.
func (c Config) Validate() error {
	if len(c.Waypoints) == 0 {
		return ErrNoWaypoints
	}
	if c.LookAhead <= 0 {
		return fmt.Errorf("look-ahead must be positive, got %v", c.LookAhead)
	}
	if c.CollisionCheckInterval <= 0 {
		return fmt.Errorf("collision check interval must be positive, got %d", c.CollisionCheckInterval)
	}
	if c.ControlRate < 0 {
		return fmt.Errorf("control rate must not be negative, got %v", c.ControlRate)
	}
	return nil
}

// NavigationContext is the mutable state owned by the control loop.
type NavigationContext struct {
	RunID       string            `json:"run_id"`
	State       State             `json:"state"`
	Pose        l1geometry.Pose   `json:"pose"`
	HavePose    bool              `json:"have_pose"`
	Goal        l1geometry.Point  `json:"goal"`
	Path        l1geometry.Path   `json:"path"`
	PathIndex   int               `json:"path_index"`
	Visited     int               `json:"visited"`
	Waypoints   int               `json:"waypoints"`
	Iteration   int               `json:"iteration"`
	Plans       int               `json:"plans"`
	Commands    uint64            `json:"commands"`
	LastCommand l5pursuit.Command `json:"last_command"`
	Err         error             `json:"-"`
}

// Deps are the collaborators a Navigator drives.
type Deps struct {
	Grid     *l2grid.OccupancyGrid
	Detector *l3detect.Detector
	Planner  *l4planner.Planner
	Pursuit  l5pursuit.Config
	Sensors  SensorSource
	Sink     CommandSink
	Placer   Placer   // optional
	Observer Observer // optional
	Clock    timeutil.Clock
}

// Navigator runs the Init → Tracking ⇄ Planning → Finished state machine.
type Navigator struct {
	cfg  Config
	deps Deps
	rate *timeutil.Rate

	mu  sync.RWMutex
	nav NavigationContext
}

// New validates the mission and wires the collaborators.
func New(cfg Config, deps Deps) (*Navigator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Grid == nil || deps.Detector == nil || deps.Planner == nil {
		return nil, fmt.Errorf("navigator needs a grid, a detector and a planner")
	}
	if deps.Sensors == nil || deps.Sink == nil {
		return nil, fmt.Errorf("navigator needs a sensor source and a command sink")
	}
	if err := deps.Pursuit.Validate(); err != nil {
		return nil, err
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	n := &Navigator{
		cfg:  cfg,
		deps: deps,
		rate: timeutil.NewRate(deps.Clock, cfg.ControlRate),
	}
	n.nav = NavigationContext{
		RunID:     uuid.NewString(),
		State:     StateInit,
		Waypoints: len(cfg.Waypoints),
	}
	return n, nil
}

// RunID identifies this mission run in logs and rendered artefacts.
func (n *Navigator) RunID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.nav.RunID
}

// Context returns a copy of the navigation context.
func (n *Navigator) Context() NavigationContext {
	n.mu.RLock()
	defer n.mu.RUnlock()
	c := n.nav
	c.Path = append(l1geometry.Path(nil), n.nav.Path...)
	return c
}

// State returns the current state.
func (n *Navigator) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.nav.State
}

// Grid returns the occupancy grid the navigator updates.
func (n *Navigator) Grid() *l2grid.OccupancyGrid { return n.deps.Grid }

func (n *Navigator) update(fn func(c *NavigationContext)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fn(&n.nav)
}

func (n *Navigator) transition(to State) {
	var from State
	n.update(func(c *NavigationContext) {
		from = c.State
		c.State = to
	})
	if from != to {
		monitoring.Logf("[mission] %s -> %s", from, to)
		n.deps.Observer.OnStateChange(from, to)
	}
}

func (n *Navigator) emit(cmd l5pursuit.Command) {
	var (
		state State
		pose  l1geometry.Pose
	)
	n.update(func(c *NavigationContext) {
		c.Commands++
		c.LastCommand = cmd
		state, pose = c.State, c.Pose
	})
	if err := n.deps.Sink.Send(cmd, state); err != nil {
		monitoring.Logf("[mission] send %v: %v", cmd, err)
	}
	n.deps.Observer.OnCommand(cmd, state, pose)
}

func (n *Navigator) samplePose() (l1geometry.Pose, bool) {
	pose, ok := n.deps.Sensors.Pose()
	if ok {
		n.update(func(c *NavigationContext) {
			c.Pose = pose
			c.HavePose = true
		})
	}
	return pose, ok
}

// Step runs one iteration of the state machine. It returns done once the
// Finished state has emitted its final stop command.
func (n *Navigator) Step(ctx context.Context) (done bool, err error) {
	switch n.State() {
	case StateInit:
		n.stepInit()
	case StateTracking:
		n.stepTracking()
	case StatePlanning:
		return false, n.stepPlanning(ctx)
	case StateFinished:
		n.emit(l5pursuit.Stop)
		return true, nil
	default:
		return true, fmt.Errorf("navigator in unknown state %v", n.State())
	}
	return false, nil
}

// Run steps the state machine until it finishes, fails or ctx is done. A
// stop command is always the last thing sent.
func (n *Navigator) Run(ctx context.Context) error {
	monitoring.Logf("[mission] run %s: %d waypoints", n.RunID(), len(n.cfg.Waypoints))
	n.rate.Reset()
	var err error
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			n.emit(l5pursuit.Stop)
			err = ctxErr
			break
		}
		done, stepErr := n.Step(ctx)
		if stepErr != nil {
			// Finished has already been entered; let it emit the final stop.
			err = stepErr
			_, _ = n.Step(ctx)
			break
		}
		if done {
			break
		}
	}
	n.update(func(c *NavigationContext) { c.Err = err })
	final := n.Context()
	n.deps.Observer.OnFinish(final)
	if err != nil {
		monitoring.Logf("[mission] run %s ended: %v", final.RunID, err)
	} else {
		monitoring.Logf("[mission] run %s finished: %d/%d waypoints, %d plans", final.RunID, final.Visited, final.Waypoints, final.Plans)
	}
	return err
}

func (n *Navigator) stepInit() {
	n.emit(l5pursuit.Stop)

	visited := 0
	if n.cfg.PlaceAtFirstWaypoint && n.deps.Placer != nil {
		wp := n.cfg.Waypoints[0]
		start := l1geometry.Pose{X: wp.X, Y: wp.Y}
		if wp.Heading != nil {
			start.Heading = *wp.Heading
		}
		if err := n.deps.Placer.Place(start); err != nil {
			monitoring.Logf("[mission] placement at %v failed: %v", start, err)
		} else {
			visited = 1
		}
	}

	n.update(func(c *NavigationContext) {
		c.Visited = visited
		c.Path = nil
		c.PathIndex = 0
		c.Iteration = 0
		if visited < len(n.cfg.Waypoints) {
			c.Goal = n.cfg.Waypoints[visited].Point
		}
	})
	if visited >= len(n.cfg.Waypoints) {
		n.transition(StateFinished)
		return
	}
	n.transition(StateTracking)
}

func (n *Navigator) stepTracking() {
	pose, ok := n.samplePose()
	if !ok {
		monitoring.Debugf("[mission] waiting for pose")
		n.emit(l5pursuit.Stop)
		n.rate.Sleep()
		return
	}

	cur := n.Context()
	if len(cur.Path) == 0 {
		n.transition(StatePlanning)
		return
	}

	iteration := cur.Iteration + 1
	n.update(func(c *NavigationContext) { c.Iteration = iteration })
	if iteration%n.cfg.CollisionCheckInterval == 0 && n.scan(pose, cur.Goal) {
		n.transition(StatePlanning)
		return
	}

	idx := cur.PathIndex
	for idx < len(cur.Path) && pose.DistanceTo(cur.Path[idx]) < n.cfg.LookAhead {
		idx++
	}
	if idx >= len(cur.Path) {
		n.advanceWaypoint(cur.Visited + 1)
		return
	}
	n.update(func(c *NavigationContext) { c.PathIndex = idx })

	n.emit(n.deps.Pursuit.Steer(pose, cur.Path[idx]))
	n.rate.Sleep()
}

// scan runs the detector on the latest depth frame and reports whether it
// marked a new obstacle. Without a frame nothing is scanned or observed.
func (n *Navigator) scan(pose l1geometry.Pose, goal l1geometry.Point) bool {
	frame := n.deps.Sensors.Depth()
	if frame == nil {
		return false
	}
	res := n.deps.Detector.Scan(pose, frame)
	n.deps.Observer.OnObstacle(res, pose)
	if res.NewObstacle {
		monitoring.Logf("[mission] new obstacle near %v, replanning to %v", pose.Position(), goal)
	}
	return res.NewObstacle
}

func (n *Navigator) advanceWaypoint(visited int) {
	total := len(n.cfg.Waypoints)
	n.update(func(c *NavigationContext) {
		c.Visited = visited
		c.Path = nil
		c.PathIndex = 0
		if visited < total {
			c.Goal = n.cfg.Waypoints[visited].Point
		}
	})
	monitoring.Logf("[mission] waypoint %d/%d done", visited, total)
	if visited >= total {
		n.transition(StateFinished)
		return
	}
	n.transition(StatePlanning)
}

func (n *Navigator) stepPlanning(ctx context.Context) error {
	n.emit(l5pursuit.Stop)
	if n.cfg.SettleDelay > 0 {
		n.deps.Clock.Sleep(n.cfg.SettleDelay)
	}

	pose, ok := n.samplePose()
	if !ok {
		monitoring.Debugf("[mission] waiting for pose before planning")
		n.rate.Sleep()
		return nil
	}

	cur := n.Context()
	snap := n.deps.Grid.Snapshot()
	start := pose.Position()
	if !snap.IsFreeAt(start) {
		if esc, found := snap.NearestFree(start, n.cfg.EscapeRadius); found {
			monitoring.Logf("[mission] vehicle at %v is inside an obstacle margin, planning from %v", start, esc)
			start = esc
		}
	}

	began := n.deps.Clock.Now()
	res, err := n.deps.Planner.PlanWithRetry(ctx, snap, start, cur.Goal)
	ev := PlanEvent{
		RunID:    cur.RunID,
		Start:    start,
		Goal:     cur.Goal,
		Visited:  cur.Visited,
		Result:   res,
		Snapshot: snap,
		Duration: n.deps.Clock.Since(began),
		Err:      err,
	}
	n.deps.Observer.OnPlan(ev)

	switch {
	case err == nil:
		n.update(func(c *NavigationContext) {
			c.Path = res.Path
			c.PathIndex = 0
			c.Iteration = 0
			c.Plans++
		})
		n.rate.Reset()
		n.transition(StateTracking)
		return nil

	case errors.Is(err, l4planner.ErrGoalBlocked):
		// Obstacles are never removed, so this waypoint can not become
		// reachable again.
		monitoring.Logf("[mission] skipping waypoint %d at %v: %v", cur.Visited, cur.Goal, err)
		n.advanceWaypoint(cur.Visited + 1)
		return nil

	default:
		n.emit(l5pursuit.Stop)
		n.transition(StateFinished)
		return fmt.Errorf("planning to waypoint %d at %v: %w", cur.Visited, cur.Goal, err)
	}
}
