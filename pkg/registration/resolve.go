package registration

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/spatial/r2"

	"tilereg/pkg/tilegraph"
)

// Forest is the minimum spanning forest of a scored tile graph together with
// the corrected tile positions derived from it. All per-tile slices are
// indexed by graph slot.
type Forest struct {
	// Parent is the parent slot in the spanning tree, -1 for roots
	Parent []int

	// ParentEdge is the id of the edge to the parent, -1 for roots
	ParentEdge []int

	// Roots holds one root slot per component, ordered by component id
	Roots []int

	// Component is the component id of every slot. Components are numbered
	// in order of their lowest slot.
	Component []int

	// Depth is the number of tree edges between a slot and its root
	Depth []int

	// Positions are the corrected top-left corners in pixels
	Positions []r2.Vec

	// FallbackEdges lists tree edges that were placed with their nominal
	// offset because no trustworthy measurement existed, ascending
	FallbackEdges []int

	// Components is the number of connected components
	Components int

	graph *tilegraph.Graph
	tree  []int
}

// Position returns the corrected position of the tile with the given index.
func (f *Forest) Position(tileIndex int) (r2.Vec, bool) {
	slot, ok := f.graph.Slot(tileIndex)
	if !ok {
		return r2.Vec{}, false
	}
	return f.Positions[slot], true
}

// TreeEdges returns the ids of the edges in the spanning forest, ascending.
func (f *Forest) TreeEdges() []int {
	out := make([]int, len(f.tree))
	copy(out, f.tree)
	return out
}

// Disconnected reports whether the forest has more than one component.
func (f *Forest) Disconnected() bool {
	return f.Components > 1
}

// disjointSet is a union-find over graph slots with path compression and
// union by rank.
type disjointSet struct {
	parent []int
	rank   []int
}

func newDisjointSet(n int) *disjointSet {
	ds := &disjointSet{parent: make([]int, n), rank: make([]int, n)}
	for i := range ds.parent {
		ds.parent[i] = i
	}
	return ds
}

func (ds *disjointSet) find(u int) int {
	for ds.parent[u] != u {
		ds.parent[u] = ds.parent[ds.parent[u]]
		u = ds.parent[u]
	}
	return u
}

// union merges the sets of u and v and reports whether they were disjoint.
func (ds *disjointSet) union(u, v int) bool {
	ru, rv := ds.find(u), ds.find(v)
	if ru == rv {
		return false
	}
	switch {
	case ds.rank[ru] < ds.rank[rv]:
		ds.parent[ru] = rv
	case ds.rank[ru] > ds.rank[rv]:
		ds.parent[rv] = ru
	default:
		ds.parent[rv] = ru
		ds.rank[ru]++
	}
	return true
}

// kruskalOrder returns the edge ids in the order Kruskal considers them:
// usable edges by ascending error, then every other edge in enumeration
// order. Ties keep enumeration order so the forest is deterministic.
func kruskalOrder(g *tilegraph.Graph) []int {
	usable := make([]int, 0, len(g.Edges))
	var fallback []int
	for id := range g.Edges {
		if g.Edges[id].Usable() {
			usable = append(usable, id)
		} else {
			fallback = append(fallback, id)
		}
	}
	sort.SliceStable(usable, func(a, b int) bool {
		return g.Edges[usable[a]].Error < g.Edges[usable[b]].Error
	})
	return append(usable, fallback...)
}

// Resolve builds the minimum spanning forest of g and derives corrected
// positions from it.
//
// Each component is rooted at its tile with the most overlaps (lowest slot
// on ties) and walked breadth first, children in ascending slot order. A
// child is placed at its parent's corrected position plus the nominal offset
// and the measured correction of the connecting edge; fallback edges
// contribute their nominal offset only. Roots keep their nominal position,
// which stitches disconnected components together by their nominal layout.
//
// Parameters:
//   - g: A scored overlap graph; unscored, failed and invalid edges are
//     used only as nominal fallbacks
//
// Returns:
//   - The spanning forest with a corrected position for every slot
//   - ErrNoTiles when the graph is nil or empty
func Resolve(g *tilegraph.Graph) (*Forest, error) {
	if g == nil || g.Len() == 0 {
		return nil, ErrNoTiles
	}
	n := g.Len()

	ds := newDisjointSet(n)
	adj := make([][]int, n)
	var tree []int
	for _, id := range kruskalOrder(g) {
		e := &g.Edges[id]
		if !ds.union(e.I, e.J) {
			continue
		}
		tree = append(tree, id)
		adj[e.I] = append(adj[e.I], id)
		adj[e.J] = append(adj[e.J], id)
		if len(tree) == n-1 {
			break
		}
	}
	sort.Ints(tree)
	for slot := range adj {
		sort.Slice(adj[slot], func(a, b int) bool {
			return g.Other(adj[slot][a], slot) < g.Other(adj[slot][b], slot)
		})
	}

	f := &Forest{
		Parent:     make([]int, n),
		ParentEdge: make([]int, n),
		Component:  make([]int, n),
		Depth:      make([]int, n),
		Positions:  make([]r2.Vec, n),
		graph:      g,
		tree:       tree,
	}

	// Components numbered by their lowest slot
	compOf := make(map[int]int)
	var members [][]int
	for slot := 0; slot < n; slot++ {
		r := ds.find(slot)
		c, ok := compOf[r]
		if !ok {
			c = len(members)
			compOf[r] = c
			members = append(members, nil)
		}
		f.Component[slot] = c
		members[c] = append(members[c], slot)
	}
	f.Components = len(members)

	f.Roots = make([]int, len(members))
	for c, slots := range members {
		root := slots[0]
		for _, s := range slots[1:] {
			if g.Degree(s) > g.Degree(root) {
				root = s
			}
		}
		f.Roots[c] = root
	}

	var wg sync.WaitGroup
	for _, root := range f.Roots {
		wg.Add(1)
		go func(root int) {
			defer wg.Done()
			f.walk(g, adj, root)
		}(root)
	}
	wg.Wait()

	for _, id := range tree {
		if !g.Edges[id].Usable() {
			f.FallbackEdges = append(f.FallbackEdges, id)
		}
	}
	return f, nil
}

// walk places every slot of root's tree. It writes only slots of that tree.
func (f *Forest) walk(g *tilegraph.Graph, adj [][]int, root int) {
	f.Parent[root] = -1
	f.ParentEdge[root] = -1
	f.Depth[root] = 0
	f.Positions[root] = g.Tiles[root].Nominal

	queue := []int{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		for _, id := range adj[p] {
			c := g.Other(id, p)
			if id == f.ParentEdge[p] {
				continue
			}
			f.Parent[c] = p
			f.ParentEdge[c] = id
			f.Depth[c] = f.Depth[p] + 1
			f.Positions[c] = r2.Add(f.Positions[p], stepOffset(&g.Edges[id], p))
			queue = append(queue, c)
		}
	}
}

// stepOffset is the corrected offset of the far endpoint of e relative to
// from.
func stepOffset(e *tilegraph.Edge, from int) r2.Vec {
	offset := e.Nominal
	if e.Usable() {
		offset = r2.Add(offset, e.Correction)
	}
	if from == e.J {
		return r2.Scale(-1, offset)
	}
	return offset
}
