// Package preview renders the tile layout and spanning forest of a
// registered cycle using fogleman/gg.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"

	"github.com/fogleman/gg"
	"gonum.org/v1/gonum/spatial/r2"

	"tilereg/pkg/mosaic"
	"tilereg/pkg/registration"
	"tilereg/pkg/tilegraph"
)

// padding around the layout in output pixels
const padding = 8

var (
	background   = color.White
	outlineColor = color.RGBA{0x40, 0x40, 0x40, 0xff}
	rootFill     = color.RGBA{0xff, 0xe0, 0x80, 0xff}
	treeColor    = color.RGBA{0x2e, 0xa0, 0x43, 0xff}
	fallback     = color.RGBA{0xf0, 0x90, 0x20, 0xff}
	unusedColor  = color.RGBA{0xb0, 0xb0, 0xb0, 0xff}
	invalidColor = color.RGBA{0xd0, 0x30, 0x30, 0xff}
	labelColor   = color.Black
)

// Render draws the tiles of g at the forest's corrected positions. Edges
// join tile centres: spanning tree edges in green (orange when placed
// nominally), other usable edges in grey and rejected or failed edges in
// red. Component roots are filled.
func Render(g *tilegraph.Graph, f *registration.Forest, scale float64) image.Image {
	return render(g, f, f.Positions, scale)
}

// RenderCycle is Render with the final positions of a cycle result.
func RenderCycle(cr *registration.CycleResult, scale float64) image.Image {
	return render(cr.Graph, cr.Forest, cr.Positions, scale)
}

// SavePNG writes img to path.
func SavePNG(path string, img image.Image) error {
	if err := gg.SavePNG(path, img); err != nil {
		return fmt.Errorf("failed to save preview: %w", err)
	}
	return nil
}

func render(g *tilegraph.Graph, f *registration.Forest, positions []r2.Vec, scale float64) image.Image {
	if scale <= 0 {
		scale = 1
	}
	canvas := mosaic.Bounds(g.Tiles, positions)
	w := int(math.Ceil(float64(canvas.Width)*scale)) + 2*padding
	h := int(math.Ceil(float64(canvas.Height)*scale)) + 2*padding

	dc := gg.NewContext(w, h)
	dc.SetColor(background)
	dc.Clear()

	toImage := func(p r2.Vec) (float64, float64) {
		return (p.X-float64(canvas.Origin.X))*scale + padding,
			(p.Y-float64(canvas.Origin.Y))*scale + padding
	}
	centre := func(slot int) (float64, float64) {
		t := g.Tiles[slot]
		return toImage(r2.Add(positions[slot], r2.Vec{X: float64(t.Width) / 2, Y: float64(t.Height) / 2}))
	}

	isRoot := make(map[int]bool, len(f.Roots))
	for _, r := range f.Roots {
		isRoot[r] = true
	}
	for slot, t := range g.Tiles {
		x, y := toImage(positions[slot])
		dc.DrawRectangle(x, y, float64(t.Width)*scale, float64(t.Height)*scale)
		if isRoot[slot] {
			dc.SetColor(rootFill)
			dc.FillPreserve()
		}
		dc.SetColor(outlineColor)
		dc.SetLineWidth(1)
		dc.Stroke()
	}

	inTree := make(map[int]bool)
	for _, id := range f.TreeEdges() {
		inTree[id] = true
	}
	for id := range g.Edges {
		e := &g.Edges[id]
		var c color.Color
		switch {
		case inTree[id] && e.Usable():
			c = treeColor
		case inTree[id]:
			c = fallback
		case e.Usable():
			c = unusedColor
		default:
			c = invalidColor
		}
		x1, y1 := centre(e.I)
		x2, y2 := centre(e.J)
		dc.SetColor(c)
		dc.SetLineWidth(3)
		dc.DrawLine(x1, y1, x2, y2)
		dc.Stroke()
	}

	dc.SetColor(labelColor)
	for slot, t := range g.Tiles {
		x, y := centre(slot)
		dc.DrawStringAnchored(strconv.Itoa(t.Index), x, y-8, 0.5, 0.5)
	}
	return dc.Image()
}
