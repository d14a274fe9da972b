// Package synth generates synthetic multi-cycle tile acquisitions on disk.
//
// Every cycle images the same random specimen on a regular grid. Tiles are
// reported with a random stage error and every later cycle is displaced by a
// random drift, so a registration run has something to correct. The ground
// truth is returned alongside the written manifests.
package synth

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r2"

	"tilereg/internal/models"
	"tilereg/pkg/tileio"
)

// ErrInvalidOptions is returned for a layout that cannot be generated.
var ErrInvalidOptions = errors.New("synth: invalid options")

// Options describes the generated acquisition.
type Options struct {
	Cols, Rows int
	Cycles     int
	Channels   int

	// TileSize is the tile edge length in pixels
	TileSize int

	// Overlap between neighbouring tiles in pixels
	Overlap int

	// PixelSize in microns, used for the manifest stage positions
	PixelSize float64

	// Jitter is the largest stage error per axis in pixels
	Jitter int

	// Drift is the largest cycle displacement per axis in pixels
	Drift int

	Seed int64
}

// DefaultOptions returns a small 3x3, two cycle acquisition.
func DefaultOptions() Options {
	return Options{
		Cols:      3,
		Rows:      3,
		Cycles:    2,
		Channels:  2,
		TileSize:  128,
		Overlap:   16,
		PixelSize: 0.65,
		Jitter:    2,
		Drift:     5,
		Seed:      1,
	}
}

// Dataset is the ground truth of a generated acquisition.
type Dataset struct {
	// Manifests holds one manifest path per cycle
	Manifests []string

	// Truth are the true tile positions of the reference cycle in pixels,
	// indexed by tile
	Truth []r2.Vec

	// Drift is the true displacement of every cycle's content, cycle 0
	// being zero
	Drift []r2.Vec
}

func (o Options) validate() error {
	if o.Cols <= 0 || o.Rows <= 0 || o.Cycles <= 0 || o.Channels <= 0 {
		return fmt.Errorf("%w: grid, cycles and channels must be positive", ErrInvalidOptions)
	}
	if o.TileSize <= 0 || o.Overlap < 0 || o.Overlap >= o.TileSize {
		return fmt.Errorf("%w: overlap %d with tile size %d", ErrInvalidOptions, o.Overlap, o.TileSize)
	}
	if o.PixelSize <= 0 || o.Jitter < 0 || o.Drift < 0 {
		return fmt.Errorf("%w: pixel size, jitter and drift", ErrInvalidOptions)
	}
	return nil
}

// Generate writes the acquisition below dir, one sub-directory per cycle.
func Generate(dir string, opts Options) (*Dataset, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	step := opts.TileSize - opts.Overlap
	margin := opts.Jitter + opts.Drift + 1
	width := 2*margin + (opts.Cols-1)*step + opts.TileSize
	height := 2*margin + (opts.Rows-1)*step + opts.TileSize

	specimen := make([]*models.Plane, opts.Channels)
	for ch := range specimen {
		specimen[ch] = noise(width, height, rng)
	}

	ds := &Dataset{}
	for row := 0; row < opts.Rows; row++ {
		for col := 0; col < opts.Cols; col++ {
			ds.Truth = append(ds.Truth, r2.Vec{X: float64(margin + col*step), Y: float64(margin + row*step)})
		}
	}

	for c := 0; c < opts.Cycles; c++ {
		var drift r2.Vec
		if c > 0 {
			drift = r2.Vec{X: float64(randRange(rng, opts.Drift)), Y: float64(randRange(rng, opts.Drift))}
		}
		ds.Drift = append(ds.Drift, drift)

		path, err := writeCycle(filepath.Join(dir, fmt.Sprintf("cycle%d", c)), c, opts, specimen, ds.Truth, drift, rng)
		if err != nil {
			return nil, err
		}
		ds.Manifests = append(ds.Manifests, path)
	}
	return ds, nil
}

func writeCycle(dir string, cycle int, opts Options, specimen []*models.Plane, truth []r2.Vec, drift r2.Vec, rng *rand.Rand) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cycle directory: %w", err)
	}
	m := &tileio.Manifest{
		Name:      fmt.Sprintf("cycle%d", cycle),
		PixelSize: opts.PixelSize,
		Channels:  opts.Channels,
	}
	for k, p := range truth {
		entry := tileio.TileEntry{
			X: (p.X + float64(randRange(rng, opts.Jitter))) * opts.PixelSize,
			Y: (p.Y + float64(randRange(rng, opts.Jitter))) * opts.PixelSize,
		}
		at := r2.Add(p, drift)
		for ch, world := range specimen {
			name := fmt.Sprintf("tile%03d_ch%d.tif", k, ch)
			if err := tileio.WriteTIFF(filepath.Join(dir, name), window(world, at, opts.TileSize)); err != nil {
				return "", err
			}
			entry.Files = append(entry.Files, name)
		}
		m.Tiles = append(m.Tiles, entry)
	}

	path := filepath.Join(dir, "manifest.yaml")
	if err := m.Save(path); err != nil {
		return "", err
	}
	return path, nil
}

// noise creates a specimen of smoothed random intensities.
func noise(width, height int, rng *rand.Rand) *models.Plane {
	p := models.NewPlane(width, height)
	for i := range p.Pix {
		p.Pix[i] = rng.Float64()
	}
	// 2x2 box average keeps structure at the scale of a few pixels
	out := models.NewPlane(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sum := p.At(x, y) + p.At(min(x+1, width-1), y) + p.At(x, min(y+1, height-1)) + p.At(min(x+1, width-1), min(y+1, height-1))
			out.Pix[y*width+x] = 0.1 + 0.8*sum/4
		}
	}
	return out
}

// window copies the size x size patch of world whose corner is at.
func window(world *models.Plane, at r2.Vec, size int) *models.Plane {
	x0, y0 := int(math.Round(at.X)), int(math.Round(at.Y))
	out := models.NewPlane(size, size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			out.Pix[y*size+x] = world.At(x0+x, y0+y)
		}
	}
	return out
}

// randRange returns an integer in [-n, n].
func randRange(rng *rand.Rand, n int) int {
	if n == 0 {
		return 0
	}
	return rng.Intn(2*n+1) - n
}
