package l2grid

import (
	"fmt"

	"github.com/banshee-data/navstack/internal/nav/l1geometry"
)

// Cell values. Zero is an obstacle; any positive value is free space.
const (
	Obstacle uint8 = 0
	Free     uint8 = 255
)

// Raster is a fixed-size grid of occupancy values stored row-major.
//
// Besides the cell values it remembers which obstacles are sources (present
// in the data or marked by a detector) as opposed to cells blocked only by
// inflation. Inflate dilates sources, so inflating twice with the same margin
// produces the same raster as inflating once.
type Raster struct {
	Rows  int
	Cols  int
	Cells []uint8 // len = Rows * Cols

	sources []bool
}

// NewRaster returns a raster with every cell free.
func NewRaster(rows, cols int) *Raster {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("l2grid: negative raster size %dx%d", rows, cols))
	}
	r := &Raster{
		Rows:    rows,
		Cols:    cols,
		Cells:   make([]uint8, rows*cols),
		sources: make([]bool, rows*cols),
	}
	for i := range r.Cells {
		r.Cells[i] = Free
	}
	return r
}

// RasterFromCells wraps existing cell data. Every zero cell becomes a source
// obstacle. The slice is copied.
func RasterFromCells(rows, cols int, cells []uint8) (*Raster, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("raster size must be positive, got %dx%d", rows, cols)
	}
	if len(cells) != rows*cols {
		return nil, fmt.Errorf("raster %dx%d needs %d cells, got %d", rows, cols, rows*cols, len(cells))
	}
	r := &Raster{
		Rows:    rows,
		Cols:    cols,
		Cells:   append([]uint8(nil), cells...),
		sources: make([]bool, len(cells)),
	}
	for i, v := range r.Cells {
		r.sources[i] = v == Obstacle
	}
	return r, nil
}

// Idx returns the flat index of (row, col). It does not check bounds.
func (r *Raster) Idx(row, col int) int { return row*r.Cols + col }

// InBounds reports whether (row, col) addresses a cell.
func (r *Raster) InBounds(row, col int) bool {
	return row >= 0 && row < r.Rows && col >= 0 && col < r.Cols
}

// At returns the cell value, or ErrOutOfBounds.
func (r *Raster) At(row, col int) (uint8, error) {
	if !r.InBounds(row, col) {
		return 0, fmt.Errorf("%w: [%d,%d] outside %dx%d", l1geometry.ErrOutOfBounds, row, col, r.Rows, r.Cols)
	}
	return r.Cells[r.Idx(row, col)], nil
}

// IsFree reports whether the cell is free. Out-of-range cells are not free.
func (r *Raster) IsFree(row, col int) bool {
	v, err := r.At(row, col)
	return err == nil && v != Obstacle
}

// isSource reports whether the cell is an obstacle in its own right rather
// than only through inflation.
func (r *Raster) isSource(row, col int) bool {
	return r.InBounds(row, col) && r.sources[r.Idx(row, col)]
}

// SetObstacle marks a single source obstacle cell.
func (r *Raster) SetObstacle(row, col int) error {
	if !r.InBounds(row, col) {
		return fmt.Errorf("%w: [%d,%d] outside %dx%d", l1geometry.ErrOutOfBounds, row, col, r.Rows, r.Cols)
	}
	i := r.Idx(row, col)
	r.Cells[i] = Obstacle
	r.sources[i] = true
	return nil
}

// Clone returns a deep copy.
func (r *Raster) Clone() *Raster {
	return &Raster{
		Rows:    r.Rows,
		Cols:    r.Cols,
		Cells:   append([]uint8(nil), r.Cells...),
		sources: append([]bool(nil), r.sources...),
	}
}

// ObstacleCount returns the number of blocked cells.
func (r *Raster) ObstacleCount() int {
	n := 0
	for _, v := range r.Cells {
		if v == Obstacle {
			n++
		}
	}
	return n
}

// blockSquare sets every cell within Chebyshev distance margin of (row, col)
// to obstacle, clamped to the raster. Returns the number of cells changed.
func (r *Raster) blockSquare(row, col, margin int) int {
	r0, r1 := max(row-margin, 0), min(row+margin, r.Rows-1)
	c0, c1 := max(col-margin, 0), min(col+margin, r.Cols-1)
	changed := 0
	for i := r0; i <= r1; i++ {
		base := i * r.Cols
		for j := c0; j <= c1; j++ {
			if r.Cells[base+j] != Obstacle {
				r.Cells[base+j] = Obstacle
				changed++
			}
		}
	}
	return changed
}

// Inflate returns a copy of r where every cell within Chebyshev distance
// margin of a source obstacle is blocked. Cells are only ever set to
// obstacle, never cleared, and the input is not modified.
func Inflate(r *Raster, margin int) *Raster {
	out := r.Clone()
	if margin <= 0 {
		return out
	}
	for row := 0; row < r.Rows; row++ {
		for col := 0; col < r.Cols; col++ {
			if r.sources[r.Idx(row, col)] {
				out.blockSquare(row, col, margin)
			}
		}
	}
	return out
}
