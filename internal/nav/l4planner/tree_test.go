package l4planner

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/navstack/internal/nav/l1geometry"
)

func TestTree_NearestMatchesBruteForce(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(7, 8))
	tree := NewTree(l1geometry.Point{})
	for i := 0; i < 300; i++ {
		p := l1geometry.Point{X: rng.Float64() * 20, Y: rng.Float64() * 20}
		tree.Add(p, rng.IntN(tree.Len()))
	}

	for q := 0; q < 100; q++ {
		query := l1geometry.Point{X: rng.Float64()*24 - 2, Y: rng.Float64()*24 - 2}
		best, bestD := -1, 0.0
		for i := 0; i < tree.Len(); i++ {
			if d := tree.Point(i).DistanceTo(query); best < 0 || d < bestD {
				best, bestD = i, d
			}
		}
		got := tree.Nearest(query)
		assert.InDelta(t, bestD, tree.Point(got).DistanceTo(query), 1e-12, "query %v", query)
	}
}

func TestTree_ParentsPrecedeChildren(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(9, 10))
	tree := NewTree(l1geometry.Point{X: 1, Y: 1})
	for i := 0; i < 50; i++ {
		tree.Add(l1geometry.Point{X: float64(i), Y: 2}, rng.IntN(tree.Len()))
	}
	assert.Equal(t, -1, tree.Parent(0))
	for i := 1; i < tree.Len(); i++ {
		assert.Less(t, tree.Parent(i), i)
	}
	assert.Len(t, tree.Edges(), tree.Len()-1)
}

func TestTree_PathTo(t *testing.T) {
	t.Parallel()
	tree := NewTree(l1geometry.Point{X: 0, Y: 0})
	a := tree.Add(l1geometry.Point{X: 1, Y: 0}, 0)
	tree.Add(l1geometry.Point{X: 0, Y: 5}, 0)
	b := tree.Add(l1geometry.Point{X: 2, Y: 0}, a)

	assert.Equal(t, l1geometry.Path{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}}, tree.PathTo(b))
	assert.Equal(t, l1geometry.Path{{X: 0, Y: 0}}, tree.PathTo(0))
}

func TestTree_RejectsUnknownParent(t *testing.T) {
	t.Parallel()
	tree := NewTree(l1geometry.Point{})
	require.Panics(t, func() { tree.Add(l1geometry.Point{X: 1}, 3) })
	require.Panics(t, func() { tree.Add(l1geometry.Point{X: 1}, -1) })
}
