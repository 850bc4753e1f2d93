package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/banshee-data/navstack/internal/config"
	"github.com/banshee-data/navstack/internal/mapio"
	"github.com/banshee-data/navstack/internal/nav/l1geometry"
	"github.com/banshee-data/navstack/internal/nav/l2grid"
	"github.com/banshee-data/navstack/internal/nav/l6mission"
	"github.com/banshee-data/navstack/internal/nav/network"
	"github.com/banshee-data/navstack/internal/nav/sim"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseWaypoint(t *testing.T) {
	t.Parallel()
	ninety := math.Pi / 2
	tests := []struct {
		in      string
		want    l1geometry.Waypoint
		wantErr bool
	}{
		{in: "1,2", want: l1geometry.Waypoint{Point: l1geometry.Point{X: 1, Y: 2}}},
		{in: " -1.5 , 0.25 ", want: l1geometry.Waypoint{Point: l1geometry.Point{X: -1.5, Y: 0.25}}},
		{in: "0,0,90", want: l1geometry.Waypoint{Heading: &ninety}},
		{in: "1", wantErr: true},
		{in: "1,2,3,4", wantErr: true},
		{in: "x,2", wantErr: true},
		{in: "NaN,2", wantErr: true},
		{in: "1,Inf", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseWaypoint(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseWaypoint(%q) = %+v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseWaypoint(%q): %v", tt.in, err)
			}
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
				t.Errorf("parseWaypoint(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}

	if _, err := parsePoint("1,2,90"); err == nil {
		t.Error("parsePoint should reject a heading")
	}
}

func TestLoadMap_Blank(t *testing.T) {
	t.Parallel()
	m, err := loadMap("", 0)
	if err != nil {
		t.Fatal(err)
	}
	if m.Raster.Rows != blankCells || m.Raster.ObstacleCount() != 0 {
		t.Errorf("blank map: %dx%d with %d obstacles", m.Raster.Rows, m.Raster.Cols, m.Raster.ObstacleCount())
	}
	b := m.Mapping.WorldBounds()
	if math.Abs(b.XMin+10) > blankResolution || math.Abs(b.XMax-10) > blankResolution {
		t.Errorf("blank map bounds %+v, want about ±10m", b)
	}
}

func TestPlanCommand(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	png := filepath.Join(dir, "plan.png")

	out, err := execute(t, "plan", "--from", "-5,0", "--to", "5,0", "--seed", "7", "--json", "--out", png)
	if err != nil {
		t.Fatalf("plan: %v\n%s", err, out)
	}
	var rep planReport
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(rep.Path) < 2 {
		t.Fatalf("path too short: %+v", rep.Path)
	}
	if diff := cmp.Diff(l1geometry.Point{X: -5, Y: 0}, rep.Path[0]); diff != "" {
		t.Errorf("path start (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(l1geometry.Point{X: 5, Y: 0}, rep.Path[len(rep.Path)-1]); diff != "" {
		t.Errorf("path end (-want +got):\n%s", diff)
	}
	if rep.Length < 10-1e-9 {
		t.Errorf("path length %.2f is shorter than the straight line", rep.Length)
	}
	b, err := os.ReadFile(png)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(b, []byte("\x89PNG")) {
		t.Error("plan image is not a PNG")
	}
}

func TestPlanCommand_GoalBlocked(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	raster := l2grid.NewRaster(blankCells, blankCells)
	m := l1geometry.CenteredMapping(blankCells, blankCells, blankResolution)
	c := m.Project(l1geometry.Point{X: 5, Y: 0})
	if err := raster.SetObstacle(c.Row, c.Col); err != nil {
		t.Fatal(err)
	}
	mapFile := filepath.Join(dir, "site.pgm")
	if err := mapio.SaveMap(mapFile, raster); err != nil {
		t.Fatal(err)
	}

	_, err := execute(t, "plan", "--map", mapFile, "--from", "-5,0", "--to", "5,0")
	if err == nil || !strings.Contains(err.Error(), "goal is inside an obstacle") {
		t.Fatalf("plan into an obstacle: got %v", err)
	}
}

func TestRunCommand_Sim(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	record := filepath.Join(dir, "logs", "run.json")
	out, err := execute(t, "run", "--sim", "--waypoint", "0,0", "--waypoint", "2,0", "--waypoint", "2,2",
		"--output", dir, "--save-grid", "--record", record)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "FINISHED, 3/3 waypoints") {
		t.Errorf("unexpected summary:\n%s", out)
	}
	if !strings.Contains(out, " 0 collisions") {
		t.Errorf("simulated vehicle collided:\n%s", out)
	}
	for _, pattern := range []string{"*-plan-001.png", "*-plan-001.pgm", "*-commands.html"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil || len(matches) != 1 {
			t.Errorf("%s: got %v (%v)", pattern, matches, err)
		}
	}

	b, err := os.ReadFile(record)
	if err != nil {
		t.Fatal(err)
	}
	var log runLog
	if err := json.Unmarshal(b, &log); err != nil {
		t.Fatalf("decode %s: %v", record, err)
	}
	if log.RunID == "" || !strings.Contains(out, log.RunID) {
		t.Errorf("run id %q missing from summary:\n%s", log.RunID, out)
	}
	if len(log.Commands) == 0 || len(log.Track) < 2 {
		t.Fatalf("record has %d commands and %d poses", len(log.Commands), len(log.Track))
	}
	if last := log.Commands[len(log.Commands)-1]; last.State != l6mission.StateFinished || !last.Command.IsZero() {
		t.Errorf("last recorded command = %+v, want a stop in FINISHED", last)
	}
	end := log.Track[len(log.Track)-1]
	if d := end.Position().DistanceTo(l1geometry.Point{X: 2, Y: 2}); d > 0.5 {
		t.Errorf("track ends at %v, %.2fm from the last waypoint", end, d)
	}
}

func TestRunCommand_Errors(t *testing.T) {
	t.Parallel()
	if _, err := execute(t, "run", "--sim"); !errors.Is(err, l6mission.ErrNoWaypoints) {
		t.Errorf("no waypoints: got %v", err)
	}
	if _, err := execute(t, "run", "--waypoint", "0,0"); err == nil || !strings.Contains(err.Error(), "--udp-sink") {
		t.Errorf("live mode without a sink: got %v", err)
	}
	if _, err := execute(t, "run", "--sim", "--waypoint", "0"); err == nil {
		t.Error("bad waypoint accepted")
	}
	if _, err := execute(t, "--config", "missing.json", "run", "--sim", "--waypoint", "0,0"); err == nil {
		t.Error("missing config accepted")
	}
}

func TestRunCommand_ConfigWaypoints(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "mission.json")
	if err := os.WriteFile(cfgFile, []byte(`{"waypoints": [{"x": 1, "y": 1}, {"x": 2, "y": 1}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "--config", cfgFile, "run", "--sim")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "2/2 waypoints") {
		t.Errorf("unexpected summary:\n%s", out)
	}
}

func TestFrameScanner(t *testing.T) {
	t.Parallel()
	base, err := loadMap("", 0)
	if err != nil {
		t.Fatal(err)
	}
	world, err := buildWorld(config.DefaultTuningConfig(), base)
	if err != nil {
		t.Fatal(err)
	}

	// A wall one meter ahead of a vehicle at the origin.
	truth := l2grid.NewRaster(blankCells, blankCells)
	for y := -1.0; y <= 1.0; y += blankResolution {
		c := base.Mapping.Project(l1geometry.Point{X: 1, Y: y})
		if err := truth.SetObstacle(c.Row, c.Col); err != nil {
			t.Fatal(err)
		}
	}
	vehicle, err := sim.New(sim.DefaultConfig(), truth, base.Mapping, l1geometry.Pose{})
	if err != nil {
		t.Fatal(err)
	}
	frame := vehicle.Depth()
	row := sim.DefaultConfig().ScanRow

	s := &frameScanner{store: network.NewSensorStore(nil, 0), detector: world.detector}
	packets := [][]byte{network.EncodePose(l1geometry.Pose{})}
	for _, id := range []uint32{1, 2} {
		b, err := network.EncodeDepthRow(id, frame, row, 0, frame.Width)
		if err != nil {
			t.Fatal(err)
		}
		packets = append(packets, b)
	}
	for _, b := range packets {
		if err := s.HandlePacket(b); err != nil {
			t.Fatal(err)
		}
	}
	if got := s.store.Seq(); got != uint64(len(packets)) {
		t.Errorf("store accepted %d updates, want %d", got, len(packets))
	}
	if s.frames != 1 || s.scans != 1 {
		t.Fatalf("frame 2 should flush frame 1: frames=%d scans=%d", s.frames, s.scans)
	}
	if s.obstacles != 1 || s.marked == 0 {
		t.Errorf("wall not marked: obstacles=%d marked=%d", s.obstacles, s.marked)
	}
	if world.grid.IsFreeAt(l1geometry.Point{X: 1, Y: 0}) {
		t.Error("wall cell still free")
	}

	if err := s.HandlePacket([]byte("?")); err == nil {
		t.Error("unknown packet accepted")
	}
}
