package tileio

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"gonum.org/v1/gonum/spatial/r2"

	"tilereg/internal/models"
)

// DefaultCacheSize is the number of decoded planes a DirReader keeps.
const DefaultCacheSize = 256

type cacheKey struct {
	tile, channel int
}

// DirReader serves the tiles of one manifest. Decoded planes are kept in an
// LRU cache because registration and compositing read the same tiles
// several times. It is safe for concurrent use.
type DirReader struct {
	manifest *Manifest
	files    map[int][]string
	cache    *lru.Cache[cacheKey, *models.Plane]
}

// NewDirReader creates a reader for manifest with room for cacheSize planes.
func NewDirReader(manifest *Manifest, cacheSize int) (*DirReader, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, *models.Plane](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create plane cache: %w", err)
	}

	files := make(map[int][]string, len(manifest.Tiles))
	for i, t := range manifest.Tiles {
		files[manifest.TileIndex(i)] = t.Files
	}
	return &DirReader{manifest: manifest, files: files, cache: cache}, nil
}

// Open loads the manifest at path and returns a reader for it.
func Open(path string, cacheSize int) (*DirReader, error) {
	m, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	return NewDirReader(m, cacheSize)
}

// Manifest returns the manifest the reader serves.
func (r *DirReader) Manifest() *Manifest {
	return r.manifest
}

// Plane implements models.PlaneSource.
func (r *DirReader) Plane(tile, channel int) (*models.Plane, error) {
	key := cacheKey{tile, channel}
	if p, ok := r.cache.Get(key); ok {
		return p, nil
	}

	files, ok := r.files[tile]
	if !ok || channel < 0 || channel >= len(files) {
		return nil, fmt.Errorf("tile %d channel %d: %w", tile, channel, models.ErrPlaneNotFound)
	}
	p, err := ReadPlane(r.manifest.Path(files[channel]))
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, p)
	return p, nil
}

// Cycle builds the models.Cycle described by the manifest. Stage positions
// are converted from microns to pixels. Every tile must share the size of
// the first one.
func (r *DirReader) Cycle(index int) (models.Cycle, error) {
	m := r.manifest
	cycle := models.Cycle{
		Index:     index,
		Name:      m.Name,
		PixelSize: m.PixelSize,
		Channels:  m.Channels,
		Tiles:     make([]models.Tile, 0, len(m.Tiles)),
		Source:    r,
	}

	var w0, h0 int
	for i, entry := range m.Tiles {
		w, h, err := readSize(m.Path(entry.Files[0]))
		if err != nil {
			return models.Cycle{}, err
		}
		if i == 0 {
			w0, h0 = w, h
		} else if w != w0 || h != h0 {
			return models.Cycle{}, fmt.Errorf("tile %d is %dx%d, want %dx%d: %w",
				m.TileIndex(i), w, h, w0, h0, ErrTileSizeMismatch)
		}

		cycle.Tiles = append(cycle.Tiles, models.Tile{
			Index:   m.TileIndex(i),
			Nominal: r2.Vec{X: entry.X / m.PixelSize, Y: entry.Y / m.PixelSize},
			Width:   w,
			Height:  h,
		})
	}
	return cycle, nil
}
