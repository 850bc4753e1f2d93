package l6mission

import (
	"time"

	"github.com/banshee-data/navstack/internal/nav/l1geometry"
	"github.com/banshee-data/navstack/internal/nav/l2grid"
	"github.com/banshee-data/navstack/internal/nav/l3detect"
	"github.com/banshee-data/navstack/internal/nav/l4planner"
	"github.com/banshee-data/navstack/internal/nav/l5pursuit"
)

// SensorSource supplies the latest pose and depth frame. Both are sampled
// once at the start of each control step.
type SensorSource interface {
	// Pose returns the current pose; ok is false until one has arrived.
	Pose() (pose l1geometry.Pose, ok bool)
	// Depth returns the latest depth frame, or nil.
	Depth() *l3detect.DepthFrame
}

// CommandSink receives every command the navigator emits.
type CommandSink interface {
	Send(cmd l5pursuit.Command, state State) error
}

// Placer moves the vehicle to a pose before the mission starts. Only
// simulated or teleoperated vehicles implement it.
type Placer interface {
	Place(pose l1geometry.Pose) error
}

// PlanEvent describes one completed planning phase.
type PlanEvent struct {
	RunID    string
	Start    l1geometry.Point
	Goal     l1geometry.Point
	Visited  int
	Result   l4planner.Result
	Snapshot *l2grid.Snapshot
	Duration time.Duration
	Err      error
}

// Observer is notified of navigator activity. Calls are made from the
// control loop and must not block for long.
type Observer interface {
	OnStateChange(from, to State)
	OnPlan(ev PlanEvent)
	OnCommand(cmd l5pursuit.Command, state State, pose l1geometry.Pose)
	// OnObstacle receives every scan the detector ran, including skipped,
	// discarded and clear ones.
	OnObstacle(res l3detect.ScanResult, pose l1geometry.Pose)
	OnFinish(ctx NavigationContext)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) OnStateChange(State, State)                          {}
func (NopObserver) OnPlan(PlanEvent)                                    {}
func (NopObserver) OnCommand(l5pursuit.Command, State, l1geometry.Pose) {}
func (NopObserver) OnObstacle(l3detect.ScanResult, l1geometry.Pose)     {}
func (NopObserver) OnFinish(NavigationContext)                          {}

// Observers fans every notification out to each member in order.
type Observers []Observer

func (o Observers) OnStateChange(from, to State) {
	for _, ob := range o {
		ob.OnStateChange(from, to)
	}
}

func (o Observers) OnPlan(ev PlanEvent) {
	for _, ob := range o {
		ob.OnPlan(ev)
	}
}

func (o Observers) OnCommand(cmd l5pursuit.Command, state State, pose l1geometry.Pose) {
	for _, ob := range o {
		ob.OnCommand(cmd, state, pose)
	}
}

func (o Observers) OnObstacle(res l3detect.ScanResult, pose l1geometry.Pose) {
	for _, ob := range o {
		ob.OnObstacle(res, pose)
	}
}

func (o Observers) OnFinish(ctx NavigationContext) {
	for _, ob := range o {
		ob.OnFinish(ctx)
	}
}
