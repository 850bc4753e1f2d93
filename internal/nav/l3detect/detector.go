package l3detect

import (
	"fmt"
	"math"

	"github.com/banshee-data/navstack/internal/monitoring"
	"github.com/banshee-data/navstack/internal/nav/l1geometry"
	"github.com/banshee-data/navstack/internal/nav/l2grid"
)

// Config controls which depth samples count as obstacles.
type Config struct {
	ScanRow           int     // image row examined for obstacles
	SampleStride      int     // pixels skipped between examined samples
	EdgeMargin        int     // pixels ignored at the left and right image edges
	GroundHeight      float64 // camera height above ground (m)
	HeightThreshold   float64 // minimum height above ground for an obstacle (m)
	DetectionRadius   float64 // maximum forward range considered (m)
	LateralHalfWidth  float64 // maximum |lateral offset| considered (m)
	WiggleThreshold   int     // more candidates than this in one scan is treated as noise
	NewObstacleMargin int     // inflation margin for new marks (cells)
	InteriorMargin    int     // cells near the grid border where marks are not made
}

// DefaultConfig returns the detector tuning used on the reference vehicle.
func DefaultConfig() Config {
	return Config{
		ScanRow:           229,
		SampleStride:      3,
		EdgeMargin:        10,
		GroundHeight:      0.3099,
		HeightThreshold:   0.35,
		DetectionRadius:   2.5,
		LateralHalfWidth:  0.7,
		WiggleThreshold:   50,
		NewObstacleMargin: 13,
		InteriorMargin:    13,
	}
}

// ScanResult describes what one scan did to the working grid.
type ScanResult struct {
	Candidates  int                // samples that passed height, neighbour and range checks
	Marked      int                // candidates written as new obstacles
	Discarded   bool               // true when the wiggle threshold rejected the scan
	Skipped     bool               // true when the vehicle's own cell was already blocked
	Points      []l1geometry.Point // world positions of the candidates
	NewObstacle bool
}

// Detector converts depth scans into new working-grid obstacles.
type Detector struct {
	cfg  Config
	grid *l2grid.OccupancyGrid
}

// NewDetector binds a detector to the working grid it updates.
func NewDetector(cfg Config, grid *l2grid.OccupancyGrid) (*Detector, error) {
	if grid == nil {
		return nil, fmt.Errorf("detector needs an occupancy grid")
	}
	if cfg.SampleStride <= 0 {
		return nil, fmt.Errorf("sample stride must be positive, got %d", cfg.SampleStride)
	}
	if cfg.EdgeMargin < 1 {
		// Neighbour checks read col-1 and col+1.
		cfg.EdgeMargin = 1
	}
	return &Detector{cfg: cfg, grid: grid}, nil
}

// Config returns the detector configuration.
func (d *Detector) Config() Config { return d.cfg }

// HeightAboveGround converts a camera sample's Y into height over the floor.
func (d *Detector) HeightAboveGround(p CameraPoint) float64 {
	return -p.Y + d.cfg.GroundHeight
}

func (d *Detector) tall(p CameraPoint, ok bool) bool {
	return ok && p.Valid() && d.HeightAboveGround(p) > d.cfg.HeightThreshold
}

// ScanForObstacles reports whether the scan added at least one obstacle.
func (d *Detector) ScanForObstacles(pose l1geometry.Pose, frame *DepthFrame) bool {
	return d.Scan(pose, frame).NewObstacle
}

// Scan examines the configured scan row of frame, projects qualifying
// samples into the world with pose, and marks the ones that land on free
// interior cells of the working grid.
func (d *Detector) Scan(pose l1geometry.Pose, frame *DepthFrame) ScanResult {
	var res ScanResult
	if frame == nil {
		return res
	}

	// Inside an inflated region every return would look new; skip rather
	// than trigger a replan storm.
	mapping := d.grid.Mapping()
	self, err := mapping.ToGrid(pose.Position())
	if err != nil || !d.grid.IsFree(self.Row, self.Col) {
		res.Skipped = true
		return res
	}

	row := d.cfg.ScanRow
	for col := d.cfg.EdgeMargin; col < frame.Width-d.cfg.EdgeMargin; col += d.cfg.SampleStride {
		p, ok := frame.At(col, row)
		if !d.tall(p, ok) {
			continue
		}
		// Single-pixel spikes are noise: a horizontal neighbour must agree.
		if !d.tall(frame.At(col-1, row)) && !d.tall(frame.At(col+1, row)) {
			continue
		}
		if p.Z >= d.cfg.DetectionRadius || math.Abs(p.X) >= d.cfg.LateralHalfWidth {
			continue
		}
		res.Points = append(res.Points, CameraToWorld(p, pose))
	}
	res.Candidates = len(res.Points)

	if res.Candidates > d.cfg.WiggleThreshold {
		monitoring.Logf("[detect] discarding scan with %d candidates (wiggle threshold %d)", res.Candidates, d.cfg.WiggleThreshold)
		res.Discarded = true
		res.Points = nil
		return res
	}

	for _, wp := range res.Points {
		c := mapping.Project(wp)
		if !d.interior(c, mapping) {
			continue
		}
		if !d.grid.IsFree(c.Row, c.Col) {
			continue
		}
		changed, err := d.grid.MarkObstacle(c.Row, c.Col, d.cfg.NewObstacleMargin)
		if err != nil {
			monitoring.Logf("[detect] mark %v: %v", c, err)
			continue
		}
		if changed {
			res.Marked++
		}
	}
	res.NewObstacle = res.Marked > 0
	if res.NewObstacle {
		monitoring.Logf("[detect] %d new obstacle cells from %d candidates at %v", res.Marked, res.Candidates, pose)
	}
	return res
}

func (d *Detector) interior(c l1geometry.GridCoord, m l1geometry.GridMapping) bool {
	lo := d.cfg.InteriorMargin
	return c.Row >= lo && c.Row < m.Rows-lo && c.Col >= lo && c.Col < m.Cols-lo
}
