package l4planner

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/navstack/internal/monitoring"
	"github.com/banshee-data/navstack/internal/nav/l1geometry"
	"github.com/banshee-data/navstack/internal/nav/l2grid"
	"github.com/banshee-data/navstack/internal/timeutil"
)

var (
	// ErrPlanningFailure means no path was found. It is recoverable: a
	// fresh attempt may succeed.
	ErrPlanningFailure = errors.New("planning failed")

	// ErrStartBlocked and ErrGoalBlocked are reported without growing a
	// tree; retrying against the same snapshot cannot succeed.
	ErrStartBlocked = fmt.Errorf("%w: start is inside an obstacle", ErrPlanningFailure)
	ErrGoalBlocked  = fmt.Errorf("%w: goal is inside an obstacle", ErrPlanningFailure)

	// ErrAttemptsExhausted is returned by PlanWithRetry when the attempt or
	// duration cap is reached.
	ErrAttemptsExhausted = errors.New("planning attempts exhausted")
)

// Config holds planner tuning.
type Config struct {
	// Bounds is the sampling rectangle. The zero value samples the
	// whole grid.
	Bounds          l1geometry.Bounds
	IterationBudget int
	StepSize        float64 // meters
	GoalBias        float64 // probability of sampling the goal itself
	MaxAttempts     int     // 0 = retry until success
	MaxDuration     time.Duration
	Seed            uint64 // 0 = seed randomly
}

// DefaultConfig returns the reference planner tuning.
func DefaultConfig() Config {
	return Config{
		IterationBudget: 50000,
		StepSize:        0.25,
		GoalBias:        0.05,
	}
}

// Result is a successful plan.
type Result struct {
	Path       l1geometry.Path
	Iterations int // growth iterations used by the final attempt
	Nodes      int // tree size of the final attempt, goal included
	Attempts   int
	Tree       *Tree
}

// Planner grows trees over grid snapshots. It is not safe for concurrent
// use: the random source advances across attempts.
type Planner struct {
	cfg   Config
	rng   *rand.Rand
	clock timeutil.Clock
}

// New validates cfg and returns a Planner.
func New(cfg Config, clock timeutil.Clock) (*Planner, error) {
	if cfg.IterationBudget <= 0 {
		return nil, fmt.Errorf("iteration budget must be positive, got %d", cfg.IterationBudget)
	}
	if cfg.StepSize <= 0 {
		return nil, fmt.Errorf("step size must be positive, got %v", cfg.StepSize)
	}
	if cfg.GoalBias < 0 || cfg.GoalBias >= 1 {
		return nil, fmt.Errorf("goal bias must be in [0, 1), got %v", cfg.GoalBias)
	}
	if cfg.MaxAttempts < 0 {
		return nil, fmt.Errorf("max attempts must not be negative, got %d", cfg.MaxAttempts)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Planner{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		clock: clock,
	}, nil
}

// Config returns the planner configuration.
func (p *Planner) Config() Config { return p.cfg }

func (p *Planner) bounds(snap *l2grid.Snapshot) l1geometry.Bounds {
	if p.cfg.Bounds.Valid() {
		return p.cfg.Bounds
	}
	return snap.Mapping.WorldBounds()
}

func (p *Planner) sample(b l1geometry.Bounds, goal r2.Vec) r2.Vec {
	if p.cfg.GoalBias > 0 && p.rng.Float64() < p.cfg.GoalBias {
		return goal
	}
	return r2.Vec{
		X: b.XMin + p.rng.Float64()*(b.XMax-b.XMin),
		Y: b.YMin + p.rng.Float64()*(b.YMax-b.YMin),
	}
}

// Plan runs one attempt: it grows a fresh tree rooted at start until a
// node connects to goal or the iteration budget runs out.
func (p *Planner) Plan(snap *l2grid.Snapshot, start, goal l1geometry.Point) (Result, error) {
	if !snap.IsFreeAt(start) {
		return Result{}, fmt.Errorf("%w: %v", ErrStartBlocked, start)
	}
	if !snap.IsFreeAt(goal) {
		return Result{}, fmt.Errorf("%w: %v", ErrGoalBlocked, goal)
	}

	tree := NewTree(start)
	if snap.SegmentFree(start, goal) {
		g := tree.Add(goal, 0)
		return Result{Path: tree.PathTo(g), Nodes: tree.Len(), Tree: tree}, nil
	}

	b := p.bounds(snap)
	gv := goal.Vec()
	for it := 1; it <= p.cfg.IterationBudget; it++ {
		s := p.sample(b, gv)
		ni := tree.Nearest(l1geometry.PointFromVec(s))
		from := tree.nodes[ni].pos

		d := r2.Sub(s, from)
		dist := r2.Norm(d)
		if dist == 0 {
			continue
		}
		cand := s
		if dist > p.cfg.StepSize {
			cand = r2.Add(from, r2.Scale(p.cfg.StepSize/dist, d))
		}
		cp := l1geometry.PointFromVec(cand)
		if !snap.SegmentFree(l1geometry.PointFromVec(from), cp) {
			continue
		}
		ci := tree.Add(cp, ni)

		if cand == gv {
			return Result{Path: tree.PathTo(ci), Iterations: it, Nodes: tree.Len(), Tree: tree}, nil
		}
		if snap.SegmentFree(cp, goal) {
			g := tree.Add(goal, ci)
			return Result{Path: tree.PathTo(g), Iterations: it, Nodes: tree.Len(), Tree: tree}, nil
		}
	}
	return Result{Iterations: p.cfg.IterationBudget, Nodes: tree.Len(), Tree: tree},
		fmt.Errorf("%w: no connection to %v after %d iterations (%d nodes)", ErrPlanningFailure, goal, p.cfg.IterationBudget, tree.Len())
}

// PlanWithRetry repeats Plan with fresh trees until one succeeds. It stops
// early when the start or goal is blocked, when ctx is done between
// attempts, or when MaxAttempts or MaxDuration is reached.
func (p *Planner) PlanWithRetry(ctx context.Context, snap *l2grid.Snapshot, start, goal l1geometry.Point) (Result, error) {
	began := p.clock.Now()
	for attempt := 1; ; attempt++ {
		res, err := p.Plan(snap, start, goal)
		res.Attempts = attempt
		if err == nil {
			monitoring.Logf("[planner] path to %v: %d points, %.2fm, attempt %d, %d iterations",
				goal, len(res.Path), res.Path.Len(), attempt, res.Iterations)
			return res, nil
		}
		if errors.Is(err, ErrStartBlocked) || errors.Is(err, ErrGoalBlocked) {
			return res, err
		}
		monitoring.Logf("[planner] attempt %d: %v", attempt, err)

		if p.cfg.MaxAttempts > 0 && attempt >= p.cfg.MaxAttempts {
			return res, fmt.Errorf("%w: %d attempts: %w", ErrAttemptsExhausted, attempt, err)
		}
		if p.cfg.MaxDuration > 0 && p.clock.Since(began) >= p.cfg.MaxDuration {
			return res, fmt.Errorf("%w: %v elapsed: %w", ErrAttemptsExhausted, p.cfg.MaxDuration, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
	}
}
