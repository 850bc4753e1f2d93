package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/navstack/internal/nav/l1geometry"
	"github.com/banshee-data/navstack/internal/nav/l3detect"
	"github.com/banshee-data/navstack/internal/nav/l5pursuit"
	"github.com/banshee-data/navstack/internal/nav/l6mission"
)

const namespace = "navigator"

// Metrics exports navigator activity to Prometheus. Each instance owns its
// registry so several can coexist in tests.
type Metrics struct {
	reg *prometheus.Registry

	state          prometheus.Gauge
	transitions    *prometheus.CounterVec
	plans          *prometheus.CounterVec
	planDuration   prometheus.Histogram
	planIterations prometheus.Histogram
	pathLength     prometheus.Gauge
	scans          *prometheus.CounterVec
	marked         prometheus.Counter
	linear         prometheus.Gauge
	angular        prometheus.Gauge
	commands       prometheus.Counter
	visited        prometheus.Gauge
}

// NewMetrics registers every navigator metric on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		state: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current navigator state (1=INIT 2=TRACKING 3=PLANNING 4=FINISHED)",
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "State machine transitions",
		}, []string{"from", "to"}),
		plans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_total",
			Help:      "Planning phases by result",
		}, []string{"result"}),
		planDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plan_duration_seconds",
			Help:      "Wall time spent in the planner per phase",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		planIterations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plan_iterations",
			Help:      "Sampling iterations used per successful plan",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
		}),
		pathLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "path_length_meters",
			Help:      "Length of the most recent planned path",
		}),
		scans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "obstacle_scans_total",
			Help:      "Depth scans by outcome",
		}, []string{"outcome"}),
		marked: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "obstacle_cells_marked_total",
			Help:      "Obstacle samples written into the working grid",
		}),
		linear: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "linear_velocity_mps",
			Help:      "Last commanded linear velocity",
		}),
		angular: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "angular_velocity_radps",
			Help:      "Last commanded angular velocity",
		}),
		commands: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Velocity commands emitted",
		}),
		visited: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "waypoints_visited",
			Help:      "Waypoints reached in the current mission",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) OnStateChange(from, to l6mission.State) {
	m.state.Set(float64(to))
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) OnPlan(ev l6mission.PlanEvent) {
	m.planDuration.Observe(ev.Duration.Seconds())
	m.visited.Set(float64(ev.Visited))
	if ev.Err != nil {
		m.plans.WithLabelValues("failed").Inc()
		return
	}
	m.plans.WithLabelValues("ok").Inc()
	m.planIterations.Observe(float64(ev.Result.Iterations))
	m.pathLength.Set(ev.Result.Path.Len())
}

func (m *Metrics) OnCommand(cmd l5pursuit.Command, _ l6mission.State, _ l1geometry.Pose) {
	m.commands.Inc()
	m.linear.Set(cmd.Linear)
	m.angular.Set(cmd.Angular)
}

func (m *Metrics) OnObstacle(res l3detect.ScanResult, _ l1geometry.Pose) {
	switch {
	case res.Skipped:
		m.scans.WithLabelValues("skipped").Inc()
	case res.Discarded:
		m.scans.WithLabelValues("discarded").Inc()
	case res.NewObstacle:
		m.scans.WithLabelValues("obstacle").Inc()
	default:
		m.scans.WithLabelValues("clear").Inc()
	}
	m.marked.Add(float64(res.Marked))
}

func (m *Metrics) OnFinish(final l6mission.NavigationContext) {
	m.state.Set(float64(final.State))
	m.visited.Set(float64(final.Visited))
}
