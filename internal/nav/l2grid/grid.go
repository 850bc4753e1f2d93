package l2grid

import (
	"fmt"
	"sync"

	"github.com/banshee-data/navstack/internal/nav/l1geometry"
)

// OccupancyGrid holds the two raster layers used for navigation: an
// immutable base grid loaded at startup and a working grid seeded as the
// inflated base and then updated by obstacle detection.
//
// The control loop is the only writer. Readers outside the loop (debug
// pages, renderers) and the planner use Snapshot.
type OccupancyGrid struct {
	mapping l1geometry.GridMapping

	mu      sync.RWMutex
	base    *Raster
	working *Raster
	version uint64 // bumped on every working-grid change
}

// NewOccupancyGrid seeds the working grid by inflating base with margin.
// The raster dimensions must match the mapping.
func NewOccupancyGrid(base *Raster, mapping l1geometry.GridMapping, margin int) (*OccupancyGrid, error) {
	if base == nil {
		return nil, fmt.Errorf("base raster is nil")
	}
	if err := mapping.Validate(); err != nil {
		return nil, err
	}
	if base.Rows != mapping.Rows || base.Cols != mapping.Cols {
		return nil, fmt.Errorf("raster %dx%d does not match mapping %dx%d",
			base.Rows, base.Cols, mapping.Rows, mapping.Cols)
	}
	return &OccupancyGrid{
		mapping: mapping,
		base:    base.Clone(),
		working: Inflate(base, margin),
	}, nil
}

// Mapping returns the world/grid transform for both layers.
func (g *OccupancyGrid) Mapping() l1geometry.GridMapping { return g.mapping }

// Base returns a copy of the base layer.
func (g *OccupancyGrid) Base() *Raster {
	return g.base.Clone()
}

// Version returns a counter that changes whenever the working grid changes.
func (g *OccupancyGrid) Version() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

// IsFree is a bounds-checked read of the working grid.
func (g *OccupancyGrid) IsFree(row, col int) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.working.IsFree(row, col)
}

// IsFreeAt maps p onto the working grid and reports whether that cell is
// free. Points outside the grid are not free.
func (g *OccupancyGrid) IsFreeAt(p l1geometry.Point) bool {
	c, err := g.mapping.ToGrid(p)
	if err != nil {
		return false
	}
	return g.IsFree(c.Row, c.Col)
}

// MarkObstacle blocks (row, col) and its margin neighbourhood in the working
// grid, clamped to the grid. It is a no-op returning false when the target
// cell is already an obstacle.
func (g *OccupancyGrid) MarkObstacle(row, col, margin int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	v, err := g.working.At(row, col)
	if err != nil {
		return false, err
	}
	if v == Obstacle {
		return false, nil
	}
	g.working.sources[g.working.Idx(row, col)] = true
	g.working.blockSquare(row, col, max(margin, 0))
	g.version++
	return true, nil
}

// Snapshot returns an immutable copy of the working grid.
func (g *OccupancyGrid) Snapshot() *Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return &Snapshot{
		Mapping: g.mapping,
		Version: g.version,
		raster:  g.working.Clone(),
	}
}

// Snapshot is a point-in-time copy of the working grid. It is safe for
// concurrent use because nothing mutates it after creation.
type Snapshot struct {
	Mapping l1geometry.GridMapping
	Version uint64

	raster *Raster
}

// NewSnapshot wraps a raster directly, for planning against a grid that is
// not managed by an OccupancyGrid.
func NewSnapshot(r *Raster, mapping l1geometry.GridMapping) (*Snapshot, error) {
	if err := mapping.Validate(); err != nil {
		return nil, err
	}
	if r.Rows != mapping.Rows || r.Cols != mapping.Cols {
		return nil, fmt.Errorf("raster %dx%d does not match mapping %dx%d", r.Rows, r.Cols, mapping.Rows, mapping.Cols)
	}
	return &Snapshot{Mapping: mapping, raster: r.Clone()}, nil
}

// Raster returns a copy of the snapshot cells.
func (s *Snapshot) Raster() *Raster { return s.raster.Clone() }

// IsFree is a bounds-checked cell read.
func (s *Snapshot) IsFree(row, col int) bool { return s.raster.IsFree(row, col) }

// IsFreeAt reports whether the cell containing p is free.
func (s *Snapshot) IsFreeAt(p l1geometry.Point) bool {
	c, err := s.Mapping.ToGrid(p)
	if err != nil {
		return false
	}
	return s.raster.IsFree(c.Row, c.Col)
}

// SegmentFree samples a→b at quarter-cell spacing and reports whether every
// sample lands on a free, in-bounds cell.
func (s *Snapshot) SegmentFree(a, b l1geometry.Point) bool {
	return l1geometry.WalkSegment(a, b, s.Mapping.SegmentSpacing(), s.IsFreeAt)
}

// NearestFree searches square rings of growing Chebyshev radius around the
// cell containing p and returns the centre of the closest free cell on the
// first ring that has one. It gives up after maxCells rings.
func (s *Snapshot) NearestFree(p l1geometry.Point, maxCells int) (l1geometry.Point, bool) {
	c := s.Mapping.Project(p)
	for r := 0; r <= maxCells; r++ {
		best, bestD := l1geometry.GridCoord{}, -1.0
		for row := c.Row - r; row <= c.Row+r; row++ {
			for col := c.Col - r; col <= c.Col+r; col++ {
				if max(abs(row-c.Row), abs(col-c.Col)) != r || !s.raster.IsFree(row, col) {
					continue
				}
				cand := l1geometry.GridCoord{Row: row, Col: col}
				if d := s.Mapping.ToWorld(cand).DistanceTo(p); bestD < 0 || d < bestD {
					best, bestD = cand, d
				}
			}
		}
		if bestD >= 0 {
			return s.Mapping.ToWorld(best), true
		}
	}
	return l1geometry.Point{}, false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
