package l4planner

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/navstack/internal/nav/l1geometry"
)

const noParent = -1

type node struct {
	pos    r2.Vec
	parent int
}

// treePoint is the kd-tree element: a node position plus its arena index.
type treePoint struct {
	r2.Vec
	index int
}

func (p treePoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(treePoint)
	if d == 0 {
		return p.X - q.X
	}
	return p.Y - q.Y
}

func (p treePoint) Dims() int { return 2 }

func (p treePoint) Distance(c kdtree.Comparable) float64 {
	return r2.Norm2(r2.Sub(p.Vec, c.(treePoint).Vec))
}

// Tree is an arena of planner nodes. Parents are referenced by index, the
// root has no parent, and every parent index is smaller than its child's,
// so backtracking always terminates at the root.
type Tree struct {
	nodes []node
	index kdtree.Tree
}

// NewTree returns a tree holding only root.
func NewTree(root l1geometry.Point) *Tree {
	t := &Tree{}
	t.add(root.Vec(), noParent)
	return t
}

func (t *Tree) add(v r2.Vec, parent int) int {
	if parent >= len(t.nodes) {
		panic(fmt.Sprintf("l4planner: parent %d not in tree of %d nodes", parent, len(t.nodes)))
	}
	i := len(t.nodes)
	t.nodes = append(t.nodes, node{pos: v, parent: parent})
	t.index.Insert(treePoint{Vec: v, index: i}, false)
	return i
}

// Add inserts p as a child of parent and returns its index.
func (t *Tree) Add(p l1geometry.Point, parent int) int {
	if parent < 0 {
		panic("l4planner: only the root may lack a parent")
	}
	return t.add(p.Vec(), parent)
}

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// Point returns the position of node i.
func (t *Tree) Point(i int) l1geometry.Point { return l1geometry.PointFromVec(t.nodes[i].pos) }

// Parent returns the parent index of node i, or -1 for the root.
func (t *Tree) Parent(i int) int { return t.nodes[i].parent }

// Nearest returns the index of the node closest to p.
func (t *Tree) Nearest(p l1geometry.Point) int {
	c, _ := t.index.Nearest(treePoint{Vec: p.Vec()})
	if c == nil {
		return noParent
	}
	return c.(treePoint).index
}

// PathTo backtracks from node i to the root and returns the nodes in
// root-first order.
func (t *Tree) PathTo(i int) l1geometry.Path {
	var rev l1geometry.Path
	for ; i != noParent; i = t.nodes[i].parent {
		rev = append(rev, l1geometry.PointFromVec(t.nodes[i].pos))
	}
	for a, b := 0, len(rev)-1; a < b; a, b = a+1, b-1 {
		rev[a], rev[b] = rev[b], rev[a]
	}
	return rev
}

// Edges returns every parent→child segment, for rendering.
func (t *Tree) Edges() [][2]l1geometry.Point {
	out := make([][2]l1geometry.Point, 0, len(t.nodes))
	for _, n := range t.nodes {
		if n.parent == noParent {
			continue
		}
		out = append(out, [2]l1geometry.Point{
			l1geometry.PointFromVec(t.nodes[n.parent].pos),
			l1geometry.PointFromVec(n.pos),
		})
	}
	return out
}
