package tilegraph

import (
	"math"
	"sort"

	"tilereg/internal/models"
)

// Grid describes tiles whose nominal positions form a regular layout.
type Grid struct {
	Cols, Rows int

	// Cells maps (row, col) to a slot, Cells[row*Cols+col]
	Cells []int

	// Col and Row give each slot's grid coordinate
	Col []int
	Row []int
}

// gridTolerance is the fraction of the tile size within which positions are
// considered to share a row or column.
const gridTolerance = 0.01

// detectGrid reports whether the tiles form a grid where every (column, row)
// cell holds exactly one tile.
func detectGrid(tiles []models.Tile) (*Grid, bool) {
	minW, minH := tiles[0].Width, tiles[0].Height
	for _, t := range tiles[1:] {
		minW = min(minW, t.Width)
		minH = min(minH, t.Height)
	}

	xs := make([]float64, len(tiles))
	ys := make([]float64, len(tiles))
	for i, t := range tiles {
		xs[i] = t.Nominal.X
		ys[i] = t.Nominal.Y
	}
	colOf, cols := cluster(xs, math.Max(0.5, gridTolerance*float64(minW)))
	rowOf, rows := cluster(ys, math.Max(0.5, gridTolerance*float64(minH)))
	if cols*rows != len(tiles) {
		return nil, false
	}

	g := &Grid{
		Cols:  cols,
		Rows:  rows,
		Cells: make([]int, cols*rows),
		Col:   colOf,
		Row:   rowOf,
	}
	for i := range g.Cells {
		g.Cells[i] = -1
	}
	for slot := range tiles {
		cell := rowOf[slot]*cols + colOf[slot]
		if g.Cells[cell] != -1 {
			return nil, false
		}
		g.Cells[cell] = slot
	}
	return g, true
}

// cluster groups sorted values whose successive gaps are within tol and
// returns the group of every input value plus the number of groups.
func cluster(values []float64, tol float64) ([]int, int) {
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return values[order[a]] < values[order[b]]
	})

	group := make([]int, len(values))
	n := 0
	for k, idx := range order {
		if k > 0 && values[idx]-values[order[k-1]] > tol {
			n++
		}
		group[idx] = n
	}
	return group, n + 1
}

// At returns the slot at (col, row), or -1 outside the grid.
func (g *Grid) At(col, row int) int {
	if col < 0 || row < 0 || col >= g.Cols || row >= g.Rows {
		return -1
	}
	return g.Cells[row*g.Cols+col]
}

// candidates lists the 4- or 8-neighbour pairs of the grid, lower slot first.
func (g *Grid) candidates(neighborhood int) [][2]int {
	offsets := [][2]int{{1, 0}, {0, 1}}
	if neighborhood != 4 {
		offsets = append(offsets, [2]int{1, 1}, [2]int{-1, 1})
	}

	var pairs [][2]int
	for slot := range g.Col {
		for _, off := range offsets {
			other := g.At(g.Col[slot]+off[0], g.Row[slot]+off[1])
			if other < 0 {
				continue
			}
			pairs = append(pairs, [2]int{min(slot, other), max(slot, other)})
		}
	}
	return pairs
}
