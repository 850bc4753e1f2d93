// Package monitor turns navigator activity into things people look at:
// per-plan PNG maps, an HTML command chart, Prometheus metrics and debug
// pages. Every type here implements l6mission.Observer.
package monitor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/navstack/internal/mapio"
	"github.com/banshee-data/navstack/internal/monitoring"
	"github.com/banshee-data/navstack/internal/nav/l1geometry"
	"github.com/banshee-data/navstack/internal/nav/l2grid"
	"github.com/banshee-data/navstack/internal/nav/l6mission"
)

var (
	treeColor = color.RGBA{R: 120, G: 160, B: 220, A: 255}
	pathColor = color.RGBA{R: 220, G: 40, B: 40, A: 255}
	goalColor = color.RGBA{R: 30, G: 160, B: 60, A: 255}
)

// PlotRenderer draws one PNG per planning phase: the working grid, the
// search tree and the chosen path. With SaveGrid set it also writes the
// working grid as a PGM next to the image.
type PlotRenderer struct {
	l6mission.NopObserver

	outputDir string
	saveGrid  bool

	mu    sync.Mutex
	count int
	last  []byte
	files []string
}

// NewPlotRenderer writes into outputDir, which is created on first use.
// An empty outputDir keeps only the latest image in memory.
func NewPlotRenderer(outputDir string, saveGrid bool) *PlotRenderer {
	return &PlotRenderer{outputDir: outputDir, saveGrid: saveGrid}
}

// OnPlan implements l6mission.Observer.
func (r *PlotRenderer) OnPlan(ev l6mission.PlanEvent) {
	if ev.Snapshot == nil {
		return
	}
	png, err := RenderPlan(ev)
	if err != nil {
		monitoring.Logf("[monitor] failed to render plan: %v", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	r.last = png
	if r.outputDir == "" {
		return
	}
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		monitoring.Logf("[monitor] failed to create output dir: %v", err)
		return
	}
	base := filepath.Join(r.outputDir, fmt.Sprintf("%s-plan-%03d", shortID(ev.RunID), r.count))
	if err := os.WriteFile(base+".png", png, 0o644); err != nil {
		monitoring.Logf("[monitor] failed to write %s.png: %v", base, err)
		return
	}
	r.files = append(r.files, base+".png")
	if r.saveGrid {
		if err := mapio.SaveMap(base+".pgm", ev.Snapshot.Raster()); err != nil {
			monitoring.Logf("[monitor] failed to write %s.pgm: %v", base, err)
			return
		}
		r.files = append(r.files, base+".pgm")
	}
}

// Latest returns the most recent PNG, or nil before the first plan.
func (r *PlotRenderer) Latest() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Files lists what has been written so far.
func (r *PlotRenderer) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "run"
	}
	return id
}

// RenderPlan draws a plan event as a PNG.
func RenderPlan(ev l6mission.PlanEvent) ([]byte, error) {
	m := ev.Snapshot.Mapping
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Plan to %v (waypoint %d)", ev.Goal, ev.Visited)
	if ev.Err != nil {
		p.Title.Text = fmt.Sprintf("Plan to %v failed: %v", ev.Goal, ev.Err)
	}
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	wb := m.WorldBounds()
	half := m.Resolution / 2
	p.Add(plotter.NewImage(rasterImage(ev.Snapshot.Raster()), wb.XMin-half, wb.YMin-half, wb.XMax+half, wb.YMax+half))

	if tree := ev.Result.Tree; tree != nil && tree.Len() > 1 {
		p.Add(edgeSet{edges: tree.Edges(), style: draw.LineStyle{Color: treeColor, Width: vg.Points(0.5)}})
	}

	if len(ev.Result.Path) > 1 {
		line, err := plotter.NewLine(pathXYs(ev.Result.Path))
		if err != nil {
			return nil, err
		}
		line.Color = pathColor
		line.Width = vg.Points(2)
		p.Add(line)
		p.Legend.Add("path", line)
	}

	ends, err := plotter.NewScatter(pathXYs(l1geometry.Path{ev.Start, ev.Goal}))
	if err != nil {
		return nil, err
	}
	ends.Color = goalColor
	ends.Shape = draw.CircleGlyph{}
	ends.Radius = vg.Points(4)
	p.Add(ends)

	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func pathXYs(path l1geometry.Path) plotter.XYs {
	xys := make(plotter.XYs, len(path))
	for i, pt := range path {
		xys[i] = plotter.XY{X: pt.X, Y: pt.Y}
	}
	return xys
}

// rasterImage maps obstacles to black and free cells to white. Raster row 0
// is the top of the image, as it is the top of the map.
func rasterImage(r *l2grid.Raster) image.Image {
	img := image.NewGray(image.Rect(0, 0, r.Cols, r.Rows))
	copy(img.Pix, r.Cells)
	return img
}

// edgeSet draws tree edges as independent segments.
type edgeSet struct {
	edges [][2]l1geometry.Point
	style draw.LineStyle
}

func (e edgeSet) Plot(c draw.Canvas, p *plot.Plot) {
	trX, trY := p.Transforms(&c)
	for _, s := range e.edges {
		c.StrokeLine2(e.style, trX(s[0].X), trY(s[0].Y), trX(s[1].X), trY(s[1].Y))
	}
}

func (e edgeSet) DataRange() (xmin, xmax, ymin, ymax float64) {
	return plotter.XYRange(edgeXYs(e.edges))
}

func edgeXYs(edges [][2]l1geometry.Point) plotter.XYs {
	xys := make(plotter.XYs, 0, 2*len(edges))
	for _, s := range edges {
		xys = append(xys, plotter.XY{X: s[0].X, Y: s[0].Y}, plotter.XY{X: s[1].X, Y: s[1].Y})
	}
	return xys
}
