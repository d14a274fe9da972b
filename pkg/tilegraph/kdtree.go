package tilegraph

import (
	"gonum.org/v1/gonum/spatial/kdtree"

	"tilereg/internal/models"
)

// origin is a tile's nominal top-left corner, indexed by arena slot.
type origin struct {
	X, Y float64
	Slot int
}

// Compare implements the kdtree.Comparable interface
func (p origin) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(origin)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p origin) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between two origins
func (p origin) Distance(c kdtree.Comparable) float64 {
	q := c.(origin)
	dx := p.X - q.X
	dy := p.Y - q.Y
	return dx*dx + dy*dy
}

// origins is a collection of tile origins that satisfies kdtree.Interface
type origins []origin

func (p origins) Index(i int) kdtree.Comparable         { return p[i] }
func (p origins) Len() int                              { return len(p) }
func (p origins) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p origins) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(originPlane{origins: p, Dim: d}, kdtree.MedianOfMedians(originPlane{origins: p, Dim: d}))
}

// originPlane implements kdtree.SortSlicer for origins
type originPlane struct {
	origins
	kdtree.Dim
}

func (p originPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.origins[i].X < p.origins[j].X
	case 1:
		return p.origins[i].Y < p.origins[j].Y
	default:
		panic("illegal dimension")
	}
}

func (p originPlane) Slice(start, end int) kdtree.SortSlicer {
	return originPlane{origins: p.origins[start:end], Dim: p.Dim}
}

func (p originPlane) Swap(i, j int) {
	p.origins[i], p.origins[j] = p.origins[j], p.origins[i]
}

// radiusCandidates returns the slot pairs whose origins lie within radius
// pixels of each other.
func radiusCandidates(tiles []models.Tile, radius float64) [][2]int {
	pts := make(origins, len(tiles))
	for slot, t := range tiles {
		pts[slot] = origin{X: t.Nominal.X, Y: t.Nominal.Y, Slot: slot}
	}
	query := make(origins, len(pts))
	copy(query, pts)

	// kdtree.New reorders its input, so queries use the untouched copy
	tree := kdtree.New(pts, false)

	var pairs [][2]int
	for _, q := range query {
		keeper := kdtree.NewDistKeeper(radius * radius)
		tree.NearestSet(keeper, q)
		for _, item := range keeper.Heap {
			// Skip the sentinel value
			if item.Comparable == nil {
				continue
			}
			other := item.Comparable.(origin).Slot
			if other > q.Slot {
				pairs = append(pairs, [2]int{q.Slot, other})
			}
		}
	}
	return pairs
}
