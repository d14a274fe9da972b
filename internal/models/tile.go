package models

import (
	"errors"
	"fmt"
	"image"

	"gonum.org/v1/gonum/spatial/r2"
)

// ErrPlaneNotFound is returned by a PlaneSource that has no data for the
// requested tile/channel pair.
var ErrPlaneNotFound = errors.New("models: plane not found")

// Plane is a single-channel 2D image stored as a 1D array in row-major
// order. Values are normalised intensities, typically in [0, 1].
type Plane struct {
	// Pix holds Width*Height samples, row by row
	Pix []float64

	// Width and Height are the plane dimensions in pixels
	Width  int
	Height int
}

// NewPlane allocates a zeroed plane of the given size.
func NewPlane(width, height int) *Plane {
	return &Plane{
		Pix:    make([]float64, width*height),
		Width:  width,
		Height: height,
	}
}

// Bounds returns the plane rectangle anchored at the origin.
func (p *Plane) Bounds() image.Rectangle {
	return image.Rect(0, 0, p.Width, p.Height)
}

// At returns the sample at (x, y). Coordinates outside the plane read as 0.
func (p *Plane) At(x, y int) float64 {
	if x < 0 || y < 0 || x >= p.Width || y >= p.Height {
		return 0
	}
	return p.Pix[y*p.Width+x]
}

// Set stores v at (x, y); out of range writes are ignored.
func (p *Plane) Set(x, y int, v float64) {
	if x < 0 || y < 0 || x >= p.Width || y >= p.Height {
		return
	}
	p.Pix[y*p.Width+x] = v
}

// Crop copies the samples inside r into a new plane. r must lie within the
// plane bounds.
func (p *Plane) Crop(r image.Rectangle) (*Plane, error) {
	if r.Empty() || !r.In(p.Bounds()) {
		return nil, fmt.Errorf("crop %v outside plane bounds %v", r, p.Bounds())
	}
	out := NewPlane(r.Dx(), r.Dy())
	for y := 0; y < out.Height; y++ {
		src := (r.Min.Y+y)*p.Width + r.Min.X
		copy(out.Pix[y*out.Width:(y+1)*out.Width], p.Pix[src:src+out.Width])
	}
	return out, nil
}

// Clone returns a deep copy of the plane.
func (p *Plane) Clone() *Plane {
	out := NewPlane(p.Width, p.Height)
	copy(out.Pix, p.Pix)
	return out
}

// Tile represents one rectangular sub-image of a stage-scanned acquisition.
type Tile struct {
	// Index identifies the tile within its cycle
	Index int

	// Nominal is the stage-reported position of the tile's top-left corner
	// in pixels. It is input data and never modified by registration.
	Nominal r2.Vec

	// Width and Height are the tile dimensions in pixels
	Width  int
	Height int
}

// Box returns the nominal bounding box of the tile.
func (t Tile) Box() r2.Box {
	return r2.Box{
		Min: t.Nominal,
		Max: r2.Vec{X: t.Nominal.X + float64(t.Width), Y: t.Nominal.Y + float64(t.Height)},
	}
}

// PlaneSource supplies tile pixel data. Implementations own the buffers;
// callers must treat returned planes as read-only.
type PlaneSource interface {
	Plane(tile, channel int) (*Plane, error)
}

// Cycle is one full round of multi-tile imaging.
type Cycle struct {
	// Index is the position of the cycle in the run; cycle 0 is the reference
	Index int

	// Name is a human readable label, usually the input file name
	Name string

	// PixelSize is the physical size of one pixel in microns
	PixelSize float64

	// Channels is the number of channels every tile carries
	Channels int

	// Tiles lists the cycle's tiles in acquisition order
	Tiles []Tile

	// Source provides pixel data for the tiles
	Source PlaneSource
}

type planeKey struct {
	tile, channel int
}

// MemorySource is a PlaneSource backed by a map, used for synthetic data.
type MemorySource struct {
	planes map[planeKey]*Plane
}

// NewMemorySource creates an empty in-memory plane source.
func NewMemorySource() *MemorySource {
	return &MemorySource{planes: make(map[planeKey]*Plane)}
}

// Put registers the plane for the given tile and channel.
func (m *MemorySource) Put(tile, channel int, p *Plane) {
	m.planes[planeKey{tile, channel}] = p
}

// Plane implements PlaneSource.
func (m *MemorySource) Plane(tile, channel int) (*Plane, error) {
	p, ok := m.planes[planeKey{tile, channel}]
	if !ok {
		return nil, fmt.Errorf("tile %d channel %d: %w", tile, channel, ErrPlaneNotFound)
	}
	return p, nil
}
