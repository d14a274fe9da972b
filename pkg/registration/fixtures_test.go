package registration

import (
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"

	"tilereg/internal/models"
	"tilereg/pkg/tilegraph"
)

const (
	tileSize = 100
	overlap  = 10
	margin   = 24
)

// noiseWorld creates a deterministic noise plane from which tiles are cut.
func noiseWorld(width, height int, seed int64) *models.Plane {
	rng := rand.New(rand.NewSource(seed))
	p := models.NewPlane(width, height)
	for i := range p.Pix {
		p.Pix[i] = rng.Float64()
	}
	return p
}

// cut copies a tile-sized window of world with its top-left corner at at.
func cut(world *models.Plane, at r2.Vec, width, height int) *models.Plane {
	x0, y0 := int(at.X), int(at.Y)
	out := models.NewPlane(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			out.Set(x, y, world.At(x0+x, y0+y))
		}
	}
	return out
}

// scene is a synthetic acquisition of a cols x rows tile grid.
type scene struct {
	world *models.Plane
	cols  int
	rows  int
	truth []r2.Vec
}

func newScene(cols, rows int, seed int64) *scene {
	step := tileSize - overlap
	w := 2*margin + (cols-1)*step + tileSize
	h := 2*margin + (rows-1)*step + tileSize
	s := &scene{world: noiseWorld(w, h, seed), cols: cols, rows: rows}
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			s.truth = append(s.truth, r2.Vec{
				X: float64(margin + col*step),
				Y: float64(margin + row*step),
			})
		}
	}
	return s
}

// cycle builds a cycle whose tile k shows the world at truth[k] + content
// and reports nominal position truth[k] + nominal[k].
func (s *scene) cycle(index int, content r2.Vec, nominal map[int]r2.Vec) models.Cycle {
	src := models.NewMemorySource()
	tiles := make([]models.Tile, len(s.truth))
	for k, p := range s.truth {
		tiles[k] = models.Tile{
			Index:   k,
			Nominal: r2.Add(p, nominal[k]),
			Width:   tileSize,
			Height:  tileSize,
		}
		src.Put(k, 0, cut(s.world, r2.Add(p, content), tileSize, tileSize))
	}
	return models.Cycle{
		Index:     index,
		Name:      "synthetic",
		PixelSize: 1,
		Channels:  1,
		Tiles:     tiles,
		Source:    src,
	}
}

// slotPlanes returns the planes of a cycle indexed by graph slot.
func slotPlanes(t *testing.T, c models.Cycle, g *tilegraph.Graph) []*models.Plane {
	t.Helper()
	planes := make([]*models.Plane, g.Len())
	for slot, tile := range g.Tiles {
		p, err := c.Source.Plane(tile.Index, 0)
		if err != nil {
			t.Fatalf("plane for tile %d: %v", tile.Index, err)
		}
		planes[slot] = p
	}
	return planes
}

// edgeID returns the id of the edge between tile indices i and j.
func edgeID(t *testing.T, g *tilegraph.Graph, i, j int) int {
	t.Helper()
	si, _ := g.Slot(i)
	sj, _ := g.Slot(j)
	if si > sj {
		si, sj = sj, si
	}
	for id, e := range g.Edges {
		if e.I == si && e.J == sj {
			return id
		}
	}
	t.Fatalf("no edge between tiles %d and %d", i, j)
	return -1
}

func testParams() Params {
	p := DefaultParams()
	p.NumWorkers = 4
	p.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return p
}
