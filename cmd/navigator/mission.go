package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/navstack/internal/config"
	"github.com/banshee-data/navstack/internal/mapio"
	"github.com/banshee-data/navstack/internal/monitoring"
	"github.com/banshee-data/navstack/internal/nav/l1geometry"
	"github.com/banshee-data/navstack/internal/nav/l2grid"
	"github.com/banshee-data/navstack/internal/nav/l3detect"
)

// Blank site used when no map is given: 20m x 20m at 5cm, centred on the
// origin.
const (
	blankCells      = 400
	blankResolution = 0.05
)

// parsePoint reads "x,y".
func parsePoint(s string) (l1geometry.Point, error) {
	wp, err := parseWaypoint(s)
	if err != nil {
		return l1geometry.Point{}, err
	}
	if wp.Heading != nil {
		return l1geometry.Point{}, fmt.Errorf("point %q takes no heading", s)
	}
	return wp.Point, nil
}

// parseWaypoint reads "x,y" or "x,y,heading_deg".
func parseWaypoint(s string) (l1geometry.Waypoint, error) {
	f := strings.Split(s, ",")
	if len(f) != 2 && len(f) != 3 {
		return l1geometry.Waypoint{}, fmt.Errorf("waypoint %q: want x,y or x,y,heading_deg", s)
	}
	var v [3]float64
	for i, part := range f {
		x, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
			return l1geometry.Waypoint{}, fmt.Errorf("waypoint %q: bad number %q", s, part)
		}
		v[i] = x
	}
	wp := l1geometry.Waypoint{Point: l1geometry.Point{X: v[0], Y: v[1]}}
	if len(f) == 3 {
		h := v[2] * math.Pi / 180
		wp.Heading = &h
	}
	return wp, nil
}

func parseWaypoints(in []string) ([]l1geometry.Waypoint, error) {
	out := make([]l1geometry.Waypoint, 0, len(in))
	for _, s := range in {
		wp, err := parseWaypoint(s)
		if err != nil {
			return nil, err
		}
		out = append(out, wp)
	}
	return out, nil
}

// loadMap reads the base map, or returns a blank site when path is empty.
// resolution is only used for bare PGM files.
func loadMap(path string, resolution float64) (*mapio.Map, error) {
	if path == "" {
		m := l1geometry.CenteredMapping(blankCells, blankCells, blankResolution)
		monitoring.Logf("no map given, using a blank %dx%d site at %.2fm", blankCells, blankCells, blankResolution)
		return &mapio.Map{Raster: l2grid.NewRaster(blankCells, blankCells), Mapping: m}, nil
	}
	return mapio.LoadFile(path, resolution)
}

// worldStack is the map-bound half of a mission: the working grid and the
// detector that writes into it.
type worldStack struct {
	base     *mapio.Map
	grid     *l2grid.OccupancyGrid
	detector *l3detect.Detector
}

func buildWorld(tuning *config.TuningConfig, base *mapio.Map) (*worldStack, error) {
	grid, err := l2grid.NewOccupancyGrid(base.Raster, base.Mapping, tuning.GetObstacleMargin())
	if err != nil {
		return nil, fmt.Errorf("failed to build occupancy grid: %w", err)
	}
	det, err := l3detect.NewDetector(tuning.ToDetector(), grid)
	if err != nil {
		return nil, err
	}
	return &worldStack{base: base, grid: grid, detector: det}, nil
}
