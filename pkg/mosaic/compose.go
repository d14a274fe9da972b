// Package mosaic composites registered tiles into a single raster.
package mosaic

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r2"

	"tilereg/internal/models"
)

// ErrLengthMismatch is returned when tiles, positions and planes disagree in
// length.
var ErrLengthMismatch = errors.New("mosaic: tiles, positions and planes differ in length")

// Blend selects how overlapping tile pixels are combined.
type Blend int

const (
	// BlendMax keeps the brightest sample (maximum intensity projection)
	BlendMax Blend = iota
	// BlendMean averages every sample that lands on a pixel
	BlendMean
	// BlendOverwrite lets later tiles replace earlier ones
	BlendOverwrite
)

func (b Blend) String() string {
	switch b {
	case BlendMax:
		return "max"
	case BlendMean:
		return "mean"
	case BlendOverwrite:
		return "overwrite"
	default:
		return fmt.Sprintf("Blend(%d)", int(b))
	}
}

// ParseBlend converts a configuration string into a Blend.
func ParseBlend(s string) (Blend, error) {
	switch strings.ToLower(s) {
	case "", "max":
		return BlendMax, nil
	case "mean", "average":
		return BlendMean, nil
	case "overwrite", "none":
		return BlendOverwrite, nil
	default:
		return 0, fmt.Errorf("invalid blend mode: %s (must be max, mean or overwrite)", s)
	}
}

// Canvas is an integer pixel window onto the shared coordinate frame.
type Canvas struct {
	Origin image.Point
	Width  int
	Height int
}

// Rect returns the canvas extent in frame coordinates.
func (c Canvas) Rect() image.Rectangle {
	return image.Rectangle{Min: c.Origin, Max: c.Origin.Add(image.Pt(c.Width, c.Height))}
}

// Empty reports whether the canvas covers no pixels.
func (c Canvas) Empty() bool {
	return c.Width <= 0 || c.Height <= 0
}

// Center returns the central crop of the canvas covering fraction of each
// axis. Fractions outside (0, 1] return the canvas unchanged.
func (c Canvas) Center(fraction float64) Canvas {
	if fraction <= 0 || fraction >= 1 {
		return c
	}
	w := max(1, int(math.Round(float64(c.Width)*fraction)))
	h := max(1, int(math.Round(float64(c.Height)*fraction)))
	return Canvas{
		Origin: c.Origin.Add(image.Pt((c.Width-w)/2, (c.Height-h)/2)),
		Width:  w,
		Height: h,
	}
}

// Union returns the smallest canvas covering both c and o.
func (c Canvas) Union(o Canvas) Canvas {
	if c.Empty() {
		return o
	}
	if o.Empty() {
		return c
	}
	r := c.Rect().Union(o.Rect())
	return Canvas{Origin: r.Min, Width: r.Dx(), Height: r.Dy()}
}

// Place rounds a tile position to the pixel grid.
func Place(pos r2.Vec) image.Point {
	return image.Pt(int(math.Round(pos.X)), int(math.Round(pos.Y)))
}

// Bounds returns the smallest canvas holding every tile at its position.
func Bounds(tiles []models.Tile, positions []r2.Vec) Canvas {
	if len(tiles) == 0 || len(tiles) != len(positions) {
		return Canvas{}
	}
	var r image.Rectangle
	for k, t := range tiles {
		p := Place(positions[k])
		tr := image.Rect(p.X, p.Y, p.X+t.Width, p.Y+t.Height)
		if k == 0 {
			r = tr
			continue
		}
		r = r.Union(tr)
	}
	return Canvas{Origin: r.Min, Width: r.Dx(), Height: r.Dy()}
}

// Compose pastes every plane at its rounded position onto a new raster the
// size of the canvas. Pixels falling outside the canvas are clipped and
// pixels no tile covers stay zero.
func Compose(c Canvas, tiles []models.Tile, positions []r2.Vec, planes []*models.Plane, blend Blend) (*models.Plane, error) {
	if len(tiles) != len(positions) || len(tiles) != len(planes) {
		return nil, ErrLengthMismatch
	}
	if c.Empty() {
		return nil, fmt.Errorf("mosaic: empty canvas %dx%d", c.Width, c.Height)
	}

	out := models.NewPlane(c.Width, c.Height)
	var counts []int
	if blend == BlendMean {
		counts = make([]int, len(out.Pix))
	}

	for k, plane := range planes {
		if plane == nil {
			return nil, fmt.Errorf("mosaic: tile %d has no pixel data", tiles[k].Index)
		}
		at := Place(positions[k]).Sub(c.Origin)

		// Clip the tile to the canvas
		dst := plane.Bounds().Add(at).Intersect(out.Bounds())
		if dst.Empty() {
			continue
		}
		for y := dst.Min.Y; y < dst.Max.Y; y++ {
			src := plane.Pix[(y-at.Y)*plane.Width:]
			row := out.Pix[y*out.Width:]
			for x := dst.Min.X; x < dst.Max.X; x++ {
				v := src[x-at.X]
				switch blend {
				case BlendMax:
					if v > row[x] {
						row[x] = v
					}
				case BlendMean:
					row[x] += v
					counts[y*out.Width+x]++
				default:
					row[x] = v
				}
			}
		}
	}

	if blend == BlendMean {
		for i, n := range counts {
			if n > 1 {
				out.Pix[i] /= float64(n)
			}
		}
	}
	return out, nil
}

// ComposeSource is Compose with planes fetched from src for one channel.
func ComposeSource(c Canvas, tiles []models.Tile, positions []r2.Vec, src models.PlaneSource, channel int, blend Blend) (*models.Plane, error) {
	planes := make([]*models.Plane, len(tiles))
	for k, t := range tiles {
		p, err := src.Plane(t.Index, channel)
		if err != nil {
			return nil, fmt.Errorf("failed to read tile %d channel %d: %w", t.Index, channel, err)
		}
		planes[k] = p
	}
	return Compose(c, tiles, positions, planes, blend)
}
