// Package tileio reads cycle tile sets from disk and writes composited
// rasters.
//
// A cycle is described by a YAML manifest listing every tile's stage
// position in microns and one image file per channel. Images are decoded
// with golang.org/x/image/tiff (or image/png) into normalised float planes.
package tileio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var (
	// ErrEmptyManifest is returned for a manifest without tiles.
	ErrEmptyManifest = errors.New("tileio: manifest lists no tiles")

	// ErrInvalidPixelSize is returned when the pixel size is not positive.
	ErrInvalidPixelSize = errors.New("tileio: pixel size must be positive")

	// ErrChannelCount is returned when a tile lists the wrong number of files.
	ErrChannelCount = errors.New("tileio: tile file count does not match channel count")

	// ErrTileSizeMismatch is returned when tiles of a cycle differ in size.
	ErrTileSizeMismatch = errors.New("tileio: image series must all have the same dimensions")
)

// TileEntry describes one tile of a cycle.
type TileEntry struct {
	// Index identifies the tile; it defaults to the entry position
	Index *int `yaml:"index,omitempty"`

	// X and Y are the stage position of the top-left corner in microns
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`

	// Files holds one image per channel, relative to the manifest
	Files []string `yaml:"files"`
}

// Manifest describes one imaging cycle.
type Manifest struct {
	Name      string      `yaml:"name"`
	PixelSize float64     `yaml:"pixelSize"`
	Channels  int         `yaml:"channels"`
	Tiles     []TileEntry `yaml:"tiles"`

	// dir is the directory tile paths are resolved against
	dir string
}

// LoadManifest reads and validates a cycle manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}

	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("error parsing manifest %s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	if m.Name == "" {
		m.Name = filepath.Base(path)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Validate checks the manifest for structural problems.
func (m *Manifest) Validate() error {
	if len(m.Tiles) == 0 {
		return ErrEmptyManifest
	}
	if m.PixelSize <= 0 {
		return ErrInvalidPixelSize
	}
	if m.Channels <= 0 {
		m.Channels = len(m.Tiles[0].Files)
	}
	seen := make(map[int]bool, len(m.Tiles))
	for i, t := range m.Tiles {
		if len(t.Files) != m.Channels {
			return fmt.Errorf("tile %d has %d files, want %d: %w", i, len(t.Files), m.Channels, ErrChannelCount)
		}
		idx := m.TileIndex(i)
		if seen[idx] {
			return fmt.Errorf("duplicate tile index %d", idx)
		}
		seen[idx] = true
	}
	return nil
}

// TileIndex returns the index of the i-th manifest entry.
func (m *Manifest) TileIndex(i int) int {
	if m.Tiles[i].Index != nil {
		return *m.Tiles[i].Index
	}
	return i
}

// Path resolves a tile file relative to the manifest.
func (m *Manifest) Path(file string) string {
	if filepath.IsAbs(file) || m.dir == "" {
		return file
	}
	return filepath.Join(m.dir, file)
}

// Save writes the manifest to path as YAML.
func (m *Manifest) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("error marshaling manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing manifest: %w", err)
	}
	return nil
}
