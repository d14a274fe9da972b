// Package tilegraph builds the overlap graph of a cycle's tiles.
//
// Nodes are the tiles, held in an arena sorted by tile index; edges connect
// every pair of tiles whose nominal bounding boxes intersect with positive
// area. Edges carry the overlap rectangle in each tile's local frame and,
// once scored by the pairwise aligner, the measured shift and error.
package tilegraph

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r2"

	"tilereg/internal/models"
)

var (
	// ErrNoTiles is returned when a graph is built from an empty tile set.
	ErrNoTiles = errors.New("tilegraph: no tiles")

	// ErrDuplicateTile is returned when two tiles share an index.
	ErrDuplicateTile = errors.New("tilegraph: duplicate tile index")

	// ErrInvalidTile is returned for tiles without a positive size.
	ErrInvalidTile = errors.New("tilegraph: tile has non-positive size")
)

// Edge is an overlap constraint between two tiles. I and J are slots in
// Graph.Tiles with I < J, so tile I always has the lower index.
type Edge struct {
	I, J int

	// OverlapI and OverlapJ are the overlapping rectangles in the local frames
	// of tile I and tile J. Both have the same size.
	OverlapI image.Rectangle
	OverlapJ image.Rectangle

	// Nominal is the nominal position of tile J relative to tile I
	Nominal r2.Vec

	// Rounded is Nominal rounded to whole pixels, the offset used for cropping
	Rounded image.Point

	// Shift is the raw correlator shift between the two crops; nil until the
	// edge has been scored
	Shift *r2.Vec

	// Correction is how far the nominal offset of J relative to I is wrong:
	// true offset = Nominal + Correction
	Correction r2.Vec

	// Error is the correlation error score, lower is better. +Inf until
	// scored and when correlation failed.
	Error float64

	// Valid is cleared when the measured correction exceeds the maximum shift
	Valid bool
}

// Scored reports whether a shift has been measured for the edge.
func (e *Edge) Scored() bool {
	return e.Shift != nil
}

// Usable reports whether the edge carries a trustworthy measurement.
func (e *Edge) Usable() bool {
	return e.Valid && e.Scored() && !math.IsInf(e.Error, 0) && !math.IsNaN(e.Error)
}

// Graph is the overlap graph of one cycle.
type Graph struct {
	// Tiles is the node arena, sorted by ascending tile index
	Tiles []models.Tile

	// Edges lists overlap edges in ascending (I, J) order
	Edges []Edge

	// Grid is the detected regular layout, nil when positions are irregular
	Grid *Grid

	lookup   map[int]int
	incident [][]int
}

// Options controls candidate pair generation.
type Options struct {
	// Neighborhood selects 4- or 8-neighbour candidates on regular grids.
	// Zero means 8.
	Neighborhood int

	// AdjacencyRadius limits candidates on irregular layouts to tiles whose
	// origins lie within this many pixels. Zero tests every pair.
	AdjacencyRadius float64
}

// Build creates the overlap graph for tiles. Input order does not matter:
// tiles are sorted by index and edges are enumerated in ascending index
// pairs, so identical tile sets always produce identical graphs.
//
// Parameters:
//   - tiles: The tiles of one cycle with their nominal positions and sizes
//   - opts: Candidate generation settings (grid neighbourhood, search radius)
//
// Returns:
//   - The overlap graph with unscored edges
//   - ErrNoTiles, ErrDuplicateTile or ErrInvalidTile for unusable input
func Build(tiles []models.Tile, opts Options) (*Graph, error) {
	if len(tiles) == 0 {
		return nil, ErrNoTiles
	}

	sorted := make([]models.Tile, len(tiles))
	copy(sorted, tiles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Index < sorted[j].Index
	})

	g := &Graph{
		Tiles:    sorted,
		lookup:   make(map[int]int, len(sorted)),
		incident: make([][]int, len(sorted)),
	}
	for slot, t := range sorted {
		if t.Width <= 0 || t.Height <= 0 {
			return nil, fmt.Errorf("tile %d: %w", t.Index, ErrInvalidTile)
		}
		if _, dup := g.lookup[t.Index]; dup {
			return nil, fmt.Errorf("tile %d: %w", t.Index, ErrDuplicateTile)
		}
		g.lookup[t.Index] = slot
	}

	var candidates [][2]int
	if grid, ok := detectGrid(sorted); ok {
		g.Grid = grid
		candidates = grid.candidates(opts.Neighborhood)
	} else if opts.AdjacencyRadius > 0 {
		candidates = radiusCandidates(sorted, opts.AdjacencyRadius)
	} else {
		candidates = allPairs(len(sorted))
	}

	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a][0] != candidates[b][0] {
			return candidates[a][0] < candidates[b][0]
		}
		return candidates[a][1] < candidates[b][1]
	})

	for _, c := range candidates {
		i, j := c[0], c[1]
		e, ok := newEdge(sorted[i], sorted[j])
		if !ok {
			continue
		}
		e.I, e.J = i, j
		g.Edges = append(g.Edges, e)
		id := len(g.Edges) - 1
		g.incident[i] = append(g.incident[i], id)
		g.incident[j] = append(g.incident[j], id)
	}

	return g, nil
}

// newEdge computes the overlap of two tiles, a having the lower index.
func newEdge(a, b models.Tile) (Edge, bool) {
	boxA, boxB := a.Box(), b.Box()
	ix := math.Min(boxA.Max.X, boxB.Max.X) - math.Max(boxA.Min.X, boxB.Min.X)
	iy := math.Min(boxA.Max.Y, boxB.Max.Y) - math.Max(boxA.Min.Y, boxB.Min.Y)
	if ix <= 0 || iy <= 0 {
		return Edge{}, false
	}

	nominal := r2.Sub(b.Nominal, a.Nominal)
	rounded := image.Pt(int(math.Round(nominal.X)), int(math.Round(nominal.Y)))

	// Tile b expressed in tile a's local frame
	inA := image.Rect(0, 0, a.Width, a.Height).
		Intersect(image.Rect(0, 0, b.Width, b.Height).Add(rounded))
	if inA.Empty() {
		return Edge{}, false
	}

	return Edge{
		OverlapI: inA,
		OverlapJ: inA.Sub(rounded),
		Nominal:  nominal,
		Rounded:  rounded,
		Error:    math.Inf(1),
		Valid:    true,
	}, true
}

func allPairs(n int) [][2]int {
	pairs := make([][2]int, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pairs = append(pairs, [2]int{i, j})
		}
	}
	return pairs
}

// Len returns the number of tiles in the graph.
func (g *Graph) Len() int { return len(g.Tiles) }

// Slot returns the arena slot of the tile with the given index.
func (g *Graph) Slot(index int) (int, bool) {
	s, ok := g.lookup[index]
	return s, ok
}

// Incident returns the ids of the edges touching slot, in ascending order.
func (g *Graph) Incident(slot int) []int {
	return g.incident[slot]
}

// Degree returns the number of overlap edges touching slot.
func (g *Graph) Degree(slot int) int {
	return len(g.incident[slot])
}

// Other returns the endpoint of edge id that is not slot.
func (g *Graph) Other(id, slot int) int {
	e := &g.Edges[id]
	if e.I == slot {
		return e.J
	}
	return e.I
}

// Neighbors returns the slots sharing an edge with slot, ascending.
func (g *Graph) Neighbors(slot int) []int {
	out := make([]int, 0, len(g.incident[slot]))
	for _, id := range g.incident[slot] {
		out = append(out, g.Other(id, slot))
	}
	sort.Ints(out)
	return out
}

// Invalidate marks edge id as untrustworthy. It is the only mutation allowed
// once edges have been scored.
func (g *Graph) Invalidate(id int) {
	g.Edges[id].Valid = false
}

// Pairs returns the edges as tile index pairs, in enumeration order.
func (g *Graph) Pairs() [][2]int {
	out := make([][2]int, len(g.Edges))
	for k, e := range g.Edges {
		out[k] = [2]int{g.Tiles[e.I].Index, g.Tiles[e.J].Index}
	}
	return out
}
