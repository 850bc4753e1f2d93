package l2grid

import (
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/navstack/internal/nav/l1geometry"
)

func randomRaster(t *testing.T, rng *rand.Rand, rows, cols int, density float64) *Raster {
	t.Helper()
	r := NewRaster(rows, cols)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			if rng.Float64() < density {
				require.NoError(t, r.SetObstacle(row, col))
			}
		}
	}
	return r
}

func TestInflate_Idempotent(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(1, 2))

	for trial := 0; trial < 40; trial++ {
		g := randomRaster(t, rng, 5+rng.IntN(20), 5+rng.IntN(20), 0.05)
		for margin := 0; margin <= 3; margin++ {
			once := Inflate(g, margin)
			twice := Inflate(once, margin)
			if diff := cmp.Diff(once.Cells, twice.Cells); diff != "" {
				t.Fatalf("trial %d margin %d: inflate not idempotent (-once +twice):\n%s", trial, margin, diff)
			}
		}
	}
}

func TestInflate_ChebyshevSquare(t *testing.T) {
	t.Parallel()
	r := NewRaster(7, 7)
	require.NoError(t, r.SetObstacle(3, 3))

	out := Inflate(r, 1)
	for row := 0; row < 7; row++ {
		for col := 0; col < 7; col++ {
			inside := row >= 2 && row <= 4 && col >= 2 && col <= 4
			assert.Equal(t, !inside, out.IsFree(row, col), "cell [%d,%d]", row, col)
		}
	}
	assert.Equal(t, 9, out.ObstacleCount())
	assert.True(t, out.isSource(3, 3))
	assert.False(t, out.isSource(2, 2), "inflated cells are not sources")

	// Input untouched.
	assert.Equal(t, 1, r.ObstacleCount())
}

func TestInflate_ClampsAtEdges(t *testing.T) {
	t.Parallel()
	r := NewRaster(4, 4)
	require.NoError(t, r.SetObstacle(0, 0))

	out := Inflate(r, 2)
	assert.Equal(t, 9, out.ObstacleCount())
	assert.False(t, out.IsFree(2, 2))
	assert.True(t, out.IsFree(3, 3))
}

func TestInflate_NeverClears(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(3, 4))
	g := randomRaster(t, rng, 12, 12, 0.1)
	wide := Inflate(g, 3)
	narrow := Inflate(wide, 1)
	for i := range wide.Cells {
		if wide.Cells[i] == Obstacle {
			require.Equal(t, Obstacle, narrow.Cells[i], "cell %d cleared", i)
		}
	}
}

func TestRasterFromCells(t *testing.T) {
	t.Parallel()
	r, err := RasterFromCells(2, 3, []uint8{255, 0, 255, 10, 255, 0})
	require.NoError(t, err)
	assert.True(t, r.isSource(0, 1))
	assert.True(t, r.isSource(1, 2))
	assert.True(t, r.IsFree(1, 0), "any positive value is free")

	_, err = RasterFromCells(2, 2, []uint8{1, 2, 3})
	assert.Error(t, err)

	_, err = r.At(5, 0)
	assert.True(t, errors.Is(err, l1geometry.ErrOutOfBounds))
	assert.False(t, r.IsFree(-1, 0))
}

func newTestGrid(t *testing.T, rows, cols, margin int) *OccupancyGrid {
	t.Helper()
	m := l1geometry.GridMapping{Resolution: 1, OriginRow: float64(rows - 1), OriginCol: 0, Rows: rows, Cols: cols}
	g, err := NewOccupancyGrid(NewRaster(rows, cols), m, margin)
	require.NoError(t, err)
	return g
}

func TestOccupancyGrid_MarkObstacle(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, 10, 10, 0)

	changed, err := g.MarkObstacle(5, 5, 1)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, g.IsFree(4, 6))
	assert.True(t, g.IsFree(3, 5))
	assert.Equal(t, uint64(1), g.Version())

	// Already blocked: no-op, even for a neighbourhood cell.
	changed, err = g.MarkObstacle(4, 4, 3)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, g.IsFree(1, 1))
	assert.Equal(t, uint64(1), g.Version())

	// Corner marks clamp to the grid.
	changed, err = g.MarkObstacle(0, 9, 4)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, g.IsFree(4, 5))

	_, err = g.MarkObstacle(10, 0, 1)
	assert.True(t, errors.Is(err, l1geometry.ErrOutOfBounds))

	// The base layer never changes.
	assert.Zero(t, g.Base().ObstacleCount())
}

func TestOccupancyGrid_SeedsInflatedWorkingGrid(t *testing.T) {
	t.Parallel()
	base := NewRaster(6, 6)
	require.NoError(t, base.SetObstacle(2, 2))
	m := l1geometry.GridMapping{Resolution: 0.5, OriginRow: 5, OriginCol: 0, Rows: 6, Cols: 6}

	g, err := NewOccupancyGrid(base, m, 1)
	require.NoError(t, err)
	assert.False(t, g.IsFree(1, 1))
	assert.True(t, g.IsFree(0, 0))
	assert.Equal(t, 1, g.Base().ObstacleCount())

	_, err = NewOccupancyGrid(NewRaster(3, 3), m, 1)
	assert.Error(t, err, "size mismatch must be rejected")
}

func TestSnapshot_Isolation(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, 10, 10, 0)
	snap := g.Snapshot()

	_, err := g.MarkObstacle(5, 5, 2)
	require.NoError(t, err)

	assert.True(t, snap.IsFree(5, 5), "snapshot must not see later marks")
	assert.False(t, g.Snapshot().IsFree(5, 5))
	assert.NotEqual(t, snap.Version, g.Snapshot().Version)
}

func TestSnapshot_SegmentFree(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, 10, 10, 0)
	// Column 5 blocked from row 0 to row 7 (y = 2..9).
	for row := 0; row <= 7; row++ {
		_, err := g.MarkObstacle(row, 5, 0)
		require.NoError(t, err)
	}
	snap := g.Snapshot()

	assert.False(t, snap.SegmentFree(l1geometry.Point{X: 1, Y: 5}, l1geometry.Point{X: 8, Y: 5}))
	assert.True(t, snap.SegmentFree(l1geometry.Point{X: 1, Y: 0}, l1geometry.Point{X: 8, Y: 1}))
	assert.False(t, snap.SegmentFree(l1geometry.Point{X: 1, Y: 1}, l1geometry.Point{X: 12, Y: 1}), "leaving the grid is blocked")
	assert.False(t, snap.IsFreeAt(l1geometry.Point{X: -3, Y: 0}))
}

func TestSnapshot_NearestFree(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, 10, 10, 0)
	// Blocks rows 3..7, cols 3..7 (x 3..7, y 2..6).
	_, err := g.MarkObstacle(5, 5, 2)
	require.NoError(t, err)
	snap := g.Snapshot()

	p, ok := snap.NearestFree(l1geometry.Point{X: 1, Y: 1}, 3)
	require.True(t, ok)
	assert.Equal(t, l1geometry.Point{X: 1, Y: 1}, p, "free cell returns itself")

	p, ok = snap.NearestFree(l1geometry.Point{X: 3.2, Y: 4}, 3)
	require.True(t, ok)
	assert.Equal(t, l1geometry.Point{X: 2, Y: 4}, p)

	_, ok = snap.NearestFree(l1geometry.Point{X: 5, Y: 4}, 1)
	assert.False(t, ok, "centre of the block is two rings from free space")
}

func TestOccupancyGrid_ConcurrentSnapshots(t *testing.T) {
	t.Parallel()
	g := newTestGrid(t, 40, 40, 0)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 40; i++ {
			_, _ = g.MarkObstacle(i, i, 1)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s := g.Snapshot()
			_ = s.IsFree(i%40, i%40)
		}
	}()
	wg.Wait()
	assert.False(t, g.IsFree(39, 39))
}
