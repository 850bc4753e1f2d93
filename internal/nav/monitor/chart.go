package monitor

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/navstack/internal/monitoring"
	"github.com/banshee-data/navstack/internal/nav/l1geometry"
	"github.com/banshee-data/navstack/internal/nav/l5pursuit"
	"github.com/banshee-data/navstack/internal/nav/l6mission"
	"github.com/banshee-data/navstack/internal/timeutil"
)

// EchartsAssetsHost is where rendered pages load the echarts script from.
var EchartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// CommandSample is one emitted command.
type CommandSample struct {
	Elapsed time.Duration
	Command l5pursuit.Command
	State   l6mission.State
	Pose    l1geometry.Pose
}

// CommandChart records the command stream and renders it as an HTML page
// with velocity traces and the driven track.
type CommandChart struct {
	l6mission.NopObserver

	clock     timeutil.Clock
	outputDir string

	mu      sync.Mutex
	started time.Time
	samples []CommandSample
	file    string
}

// NewCommandChart records against clock. When outputDir is set the page is
// written there as the run finishes.
func NewCommandChart(clock timeutil.Clock, outputDir string) *CommandChart {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &CommandChart{clock: clock, outputDir: outputDir}
}

// OnCommand implements l6mission.Observer.
func (c *CommandChart) OnCommand(cmd l5pursuit.Command, state l6mission.State, pose l1geometry.Pose) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started.IsZero() {
		c.started = now
	}
	c.samples = append(c.samples, CommandSample{Elapsed: now.Sub(c.started), Command: cmd, State: state, Pose: pose})
}

// OnFinish implements l6mission.Observer.
func (c *CommandChart) OnFinish(final l6mission.NavigationContext) {
	if c.outputDir == "" {
		return
	}
	var buf bytes.Buffer
	if err := c.Render(&buf, final.RunID); err != nil {
		monitoring.Logf("[monitor] failed to render command chart: %v", err)
		return
	}
	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		monitoring.Logf("[monitor] failed to create output dir: %v", err)
		return
	}
	name := filepath.Join(c.outputDir, shortID(final.RunID)+"-commands.html")
	if err := os.WriteFile(name, buf.Bytes(), 0o644); err != nil {
		monitoring.Logf("[monitor] failed to write %s: %v", name, err)
		return
	}
	c.mu.Lock()
	c.file = name
	c.mu.Unlock()
	monitoring.Logf("[monitor] wrote %s", name)
}

// Samples returns a copy of what has been recorded.
func (c *CommandChart) Samples() []CommandSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CommandSample(nil), c.samples...)
}

// File is the page written by OnFinish, if any.
func (c *CommandChart) File() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file
}

// Render writes the chart page.
func (c *CommandChart) Render(w io.Writer, title string) error {
	samples := c.Samples()

	x := make([]string, len(samples))
	linear := make([]opts.LineData, len(samples))
	angular := make([]opts.LineData, len(samples))
	track := make([]opts.ScatterData, len(samples))
	for i, s := range samples {
		x[i] = fmt.Sprintf("%.1f", s.Elapsed.Seconds())
		linear[i] = opts.LineData{Value: s.Command.Linear, Name: s.State.String()}
		angular[i] = opts.LineData{Value: s.Command.Angular, Name: s.State.String()}
		track[i] = opts.ScatterData{Value: []interface{}{s.Pose.X, s.Pose.Y}}
	}

	velocity := charts.NewLine()
	velocity.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Navigator commands", Width: "1200px", Height: "480px", AssetsHost: EchartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Velocity commands", Subtitle: fmt.Sprintf("run=%s commands=%d", title, len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)
	velocity.SetXAxis(x).
		AddSeries("linear (m/s)", linear).
		AddSeries("angular (rad/s)", angular)

	trackChart := charts.NewScatter()
	trackChart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "720px", Height: "720px", AssetsHost: EchartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Driven track"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	trackChart.AddSeries("pose", track, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))

	page := components.NewPage()
	page.SetAssetsHost(EchartsAssetsHost)
	page.AddCharts(velocity, trackChart)
	return page.Render(w)
}
