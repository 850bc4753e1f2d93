package l1geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// ErrOutOfBounds is returned when a computed grid index falls outside the
// raster. Callers skip the sample or clamp the region; they never index with it.
var ErrOutOfBounds = errors.New("grid index out of bounds")

// GridCoord addresses one raster cell. Row 0 is the top of the map (largest Y).
type GridCoord struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (c GridCoord) String() string { return fmt.Sprintf("[%d,%d]", c.Row, c.Col) }

// GridMapping converts between world meters and raster cells.
//
//	row = round(OriginRow - y/Resolution)
//	col = round(OriginCol + x/Resolution)
//
// Rounding is math.Round (half away from zero) everywhere, so cell k covers
// the half-open interval [k-0.5, k+0.5) in fractional index space.
// OriginRow/OriginCol are the fractional indices of world (0, 0).
type GridMapping struct {
	Resolution float64 `json:"resolution"` // meters per cell
	OriginRow  float64 `json:"origin_row"`
	OriginCol  float64 `json:"origin_col"`
	Rows       int     `json:"rows"`
	Cols       int     `json:"cols"`
}

// CenteredMapping returns the convention used for square site maps: world
// (0, 0) sits at the centre of the raster.
func CenteredMapping(rows, cols int, resolution float64) GridMapping {
	return GridMapping{
		Resolution: resolution,
		OriginRow:  float64(rows)/2.0 - 0.5,
		OriginCol:  float64(cols)/2.0 - 0.5,
		Rows:       rows,
		Cols:       cols,
	}
}

// Validate checks the mapping is usable.
func (m GridMapping) Validate() error {
	if m.Resolution <= 0 || math.IsNaN(m.Resolution) {
		return fmt.Errorf("resolution must be positive, got %v", m.Resolution)
	}
	if m.Rows <= 0 || m.Cols <= 0 {
		return fmt.Errorf("grid dimensions must be positive, got %dx%d", m.Rows, m.Cols)
	}
	return nil
}

// Project returns the cell index for p without a bounds check. It is the
// pure transform; use ToGrid when the result will index the raster.
func (m GridMapping) Project(p Point) GridCoord {
	return GridCoord{
		Row: int(math.Round(m.OriginRow - p.Y/m.Resolution)),
		Col: int(math.Round(m.OriginCol + p.X/m.Resolution)),
	}
}

// ToGrid maps p to its cell, failing with ErrOutOfBounds outside the raster.
func (m GridMapping) ToGrid(p Point) (GridCoord, error) {
	if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
		return GridCoord{}, fmt.Errorf("%w: non-finite point %v", ErrOutOfBounds, p)
	}
	c := m.Project(p)
	if !m.InBounds(c) {
		return c, fmt.Errorf("%w: %v maps to %v outside %dx%d", ErrOutOfBounds, p, c, m.Rows, m.Cols)
	}
	return c, nil
}

// ToWorld returns the world position of the centre of cell c.
func (m GridMapping) ToWorld(c GridCoord) Point {
	return Point{
		X: (float64(c.Col) - m.OriginCol) * m.Resolution,
		Y: (m.OriginRow - float64(c.Row)) * m.Resolution,
	}
}

// InBounds reports whether c indexes a cell of the raster.
func (m GridMapping) InBounds(c GridCoord) bool {
	return c.Row >= 0 && c.Row < m.Rows && c.Col >= 0 && c.Col < m.Cols
}

// WorldBounds returns the world rectangle spanned by the cell centres.
func (m GridMapping) WorldBounds() Bounds {
	topLeft := m.ToWorld(GridCoord{Row: 0, Col: 0})
	bottomRight := m.ToWorld(GridCoord{Row: m.Rows - 1, Col: m.Cols - 1})
	return Bounds{XMin: topLeft.X, XMax: bottomRight.X, YMin: bottomRight.Y, YMax: topLeft.Y}
}

// SegmentSpacing is the sampling step used for collision checks: a quarter
// cell, so consecutive samples can never skip over a whole cell.
func (m GridMapping) SegmentSpacing() float64 {
	return m.Resolution / 4
}

// WalkSegment visits points along a→b at most spacing apart, both endpoints
// included. It stops early and returns false as soon as visit returns false.
func WalkSegment(a, b Point, spacing float64, visit func(Point) bool) bool {
	av, bv := a.Vec(), b.Vec()
	delta := r2.Sub(bv, av)
	length := r2.Norm(delta)
	steps := 1
	if spacing > 0 && length > spacing {
		steps = int(math.Ceil(length / spacing))
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		if !visit(PointFromVec(r2.Add(av, r2.Scale(t, delta)))) {
			return false
		}
	}
	return true
}
