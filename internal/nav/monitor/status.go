package monitor

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/navstack/internal/httputil"
	"github.com/banshee-data/navstack/internal/mapio"
	"github.com/banshee-data/navstack/internal/nav/l1geometry"
	"github.com/banshee-data/navstack/internal/nav/l2grid"
	"github.com/banshee-data/navstack/internal/nav/l3detect"
	"github.com/banshee-data/navstack/internal/nav/l6mission"
	"github.com/banshee-data/navstack/internal/timeutil"
)

// maxEvents bounds the event log kept for the status page.
const maxEvents = 200

// Event is one line of the status page's activity log.
type Event struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// Navigation is what the status page reads live state from. *l6mission.Navigator
// satisfies it.
type Navigation interface {
	Context() l6mission.NavigationContext
	Grid() *l2grid.OccupancyGrid
}

// Status keeps a short activity log and serves the debug pages.
type Status struct {
	l6mission.NopObserver

	clock timeutil.Clock

	mu     sync.Mutex
	nav    Navigation
	events []Event
	final  *l6mission.NavigationContext
}

// NewStatus creates a status observer. SetNavigation must be called before
// live state is available.
func NewStatus(clock timeutil.Clock) *Status {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Status{clock: clock}
}

// SetNavigation attaches the navigator whose state is reported.
func (s *Status) SetNavigation(n Navigation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nav = n
}

func (s *Status) record(kind, format string, args ...any) {
	ev := Event{At: s.clock.Now(), Kind: kind, Message: fmt.Sprintf(format, args...)}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if len(s.events) > maxEvents {
		s.events = append(s.events[:0:0], s.events[len(s.events)-maxEvents:]...)
	}
}

// Events returns the retained log, oldest first.
func (s *Status) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *Status) OnStateChange(from, to l6mission.State) {
	s.record("state", "%s -> %s", from, to)
}

func (s *Status) OnPlan(ev l6mission.PlanEvent) {
	if ev.Err != nil {
		s.record("plan", "no path to %v after %v: %v", ev.Goal, ev.Duration.Round(time.Millisecond), ev.Err)
		return
	}
	s.record("plan", "%d waypoints to %v (%.2fm, %d iterations, %v)",
		len(ev.Result.Path), ev.Goal, ev.Result.Path.Len(), ev.Result.Iterations, ev.Duration.Round(time.Millisecond))
}

func (s *Status) OnObstacle(res l3detect.ScanResult, pose l1geometry.Pose) {
	if res.NewObstacle {
		s.record("obstacle", "%d cells marked near (%.2f, %.2f)", res.Marked, pose.X, pose.Y)
	}
}

func (s *Status) OnFinish(final l6mission.NavigationContext) {
	s.mu.Lock()
	s.final = &final
	s.mu.Unlock()
	if final.Err != nil {
		s.record("finish", "stopped after %d/%d waypoints: %v", final.Visited, final.Waypoints, final.Err)
		return
	}
	s.record("finish", "visited %d/%d waypoints", final.Visited, final.Waypoints)
}

// StatusReport is the JSON body of the nav-status page.
type StatusReport struct {
	Context  *l6mission.NavigationContext `json:"context,omitempty"`
	Finished bool                         `json:"finished"`
	Error    string                       `json:"error,omitempty"`
	Events   []Event                      `json:"events"`
}

// Report snapshots the current status.
func (s *Status) Report() StatusReport {
	s.mu.Lock()
	nav, final := s.nav, s.final
	s.mu.Unlock()

	rep := StatusReport{Events: s.Events()}
	switch {
	case final != nil:
		c := *final
		rep.Context = &c
		rep.Finished = true
	case nav != nil:
		c := nav.Context()
		rep.Context = &c
	}
	if rep.Context != nil && rep.Context.Err != nil {
		rep.Error = rep.Context.Err.Error()
	}
	return rep
}

func (s *Status) grid() *l2grid.OccupancyGrid {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nav == nil {
		return nil
	}
	return s.nav.Grid()
}

// AttachDebugRoutes registers the navigator pages under /debug/. plots and
// chart may be nil.
func (s *Status) AttachDebugRoutes(mux *http.ServeMux, plots *PlotRenderer, chart *CommandChart) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("nav-status", "navigator state and recent events (JSON)", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodGet) {
			return
		}
		httputil.WriteJSON(w, http.StatusOK, s.Report())
	})

	debug.HandleFunc("nav-grid.pgm", "working occupancy grid (PGM)", func(w http.ResponseWriter, r *http.Request) {
		g := s.grid()
		if g == nil {
			httputil.NotFound(w, "no grid loaded")
			return
		}
		w.Header().Set("Content-Type", "image/x-portable-graymap")
		if err := mapio.EncodePGM(w, g.Snapshot().Raster()); err != nil {
			httputil.InternalServerError(w, "failed to encode grid")
		}
	})

	if plots != nil {
		debug.HandleFunc("nav-plan.png", "most recent plan", func(w http.ResponseWriter, r *http.Request) {
			png := plots.Latest()
			if png == nil {
				httputil.NotFound(w, "no plan yet")
				return
			}
			w.Header().Set("Content-Type", "image/png")
			w.Write(png)
		})
	}

	if chart != nil {
		debug.HandleFunc("nav-commands", "velocity command chart", func(w http.ResponseWriter, r *http.Request) {
			title := ""
			if rep := s.Report(); rep.Context != nil {
				title = rep.Context.RunID
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			if err := chart.Render(w, title); err != nil {
				httputil.InternalServerError(w, "failed to render chart")
			}
		})
	}
}
