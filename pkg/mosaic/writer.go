package mosaic

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r2"

	"tilereg/internal/models"
	"tilereg/pkg/tileio"
)

// DefaultTemplate names output files by cycle and channel.
const DefaultTemplate = "cycle{cycle}_channel{channel}.tif"

// FileName expands the {cycle} and {channel} placeholders of template.
func FileName(template string, cycle, channel int) string {
	if template == "" {
		template = DefaultTemplate
	}
	return strings.NewReplacer(
		"{cycle}", strconv.Itoa(cycle),
		"{channel}", strconv.Itoa(channel),
	).Replace(template)
}

// Save writes a composited plane to dir as a 16-bit TIFF and returns the
// file path.
func Save(dir, template string, cycle, channel int, p *models.Plane) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName(template, cycle, channel))
	if err := tileio.WriteTIFF(path, p); err != nil {
		return "", fmt.Errorf("failed to save mosaic: %w", err)
	}
	return path, nil
}

// Writer composites the channels of a registered cycle and saves them.
type Writer struct {
	// Dir is the output directory, created on demand
	Dir string

	// Template names the files; see FileName
	Template string

	Blend Blend

	// Canvas fixes the output extent so that mosaics of different cycles
	// line up pixel for pixel. The zero canvas uses the cycle's own bounds.
	Canvas Canvas
}

// SaveChannels writes one mosaic per channel of cycle c with its tiles at
// positions. A nil channel list saves every channel of the cycle.
func (w *Writer) SaveChannels(c models.Cycle, tiles []models.Tile, positions []r2.Vec, channels []int) ([]string, error) {
	if channels == nil {
		for ch := 0; ch < max(1, c.Channels); ch++ {
			channels = append(channels, ch)
		}
	}
	canvas := w.Canvas
	if canvas.Empty() {
		canvas = Bounds(tiles, positions)
	}

	paths := make([]string, 0, len(channels))
	for _, ch := range channels {
		plane, err := ComposeSource(canvas, tiles, positions, c.Source, ch, w.Blend)
		if err != nil {
			return paths, fmt.Errorf("cycle %d channel %d: %w", c.Index, ch, err)
		}
		path, err := Save(w.Dir, w.Template, c.Index, ch, plane)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
