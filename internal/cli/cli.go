// Package cli wires the tilereg packages into the command line tool.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"tilereg/internal/models"
	"tilereg/pkg/config"
	"tilereg/pkg/logging"
	"tilereg/pkg/mosaic"
	"tilereg/pkg/preview"
	"tilereg/pkg/registration"
	"tilereg/pkg/store"
	"tilereg/pkg/tileio"
)

// Root carries state shared by every subcommand.
type Root struct {
	cfgPath string
	cfg     *config.Config
	log     *slog.Logger
}

// NewRoot creates an unconfigured root; configuration is loaded when a
// command runs.
func NewRoot() *Root {
	return &Root{log: slog.Default()}
}

// setup loads the configuration file and initialises logging.
func (r *Root) setup(logLevel string) error {
	cfg, err := config.LoadConfig(r.cfgPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger, err := logging.Setup(cfg)
	if err != nil {
		return err
	}
	r.cfg = cfg
	r.log = logger
	return nil
}

// alignOptions are the align command overrides of the configuration.
type alignOptions struct {
	cacheSize int
}

// loadCycles opens every manifest; the position in the list is the cycle
// index.
func loadCycles(manifests []string, cacheSize int) ([]models.Cycle, error) {
	cycles := make([]models.Cycle, 0, len(manifests))
	for i, path := range manifests {
		reader, err := tileio.Open(path, cacheSize)
		if err != nil {
			return nil, err
		}
		c, err := reader.Cycle(i)
		if err != nil {
			return nil, fmt.Errorf("cycle %d (%s): %w", i, path, err)
		}
		cycles = append(cycles, c)
	}
	return cycles, nil
}

// runAlign registers the cycles described by manifests and writes every
// configured output.
func (r *Root) runAlign(out io.Writer, manifests []string, opts alignOptions) error {
	params, err := r.cfg.RegistrationParams()
	if err != nil {
		return err
	}
	params.Logger = r.log

	cycles, err := loadCycles(manifests, opts.cacheSize)
	if err != nil {
		return err
	}

	logging.LogRunStart(r.log, manifests, map[string]any{
		"align_channel": params.AlignChannel,
		"max_shift":     params.MaxShift,
		"region":        params.Cycle.Region.String(),
		"shift_policy":  params.Cycle.ShiftPolicy.String(),
		"refine_tiles":  params.Cycle.RefineTiles,
		"workers":       params.NumWorkers,
	})

	start := time.Now()
	result, err := registration.NewRegistrar(params).Process(cycles)
	if err != nil {
		logging.LogRunError(r.log, time.Since(start), err)
		return err
	}
	elapsed := time.Since(start)

	printSummary(out, result, elapsed)

	if r.cfg.Mosaic.Enabled {
		if err := r.writeMosaics(out, result); err != nil {
			logging.LogRunError(r.log, time.Since(start), err)
			return err
		}
	}
	if r.cfg.Preview.Enabled {
		if err := r.writePreviews(out, result); err != nil {
			logging.LogRunError(r.log, time.Since(start), err)
			return err
		}
	}
	if r.cfg.Storage.Database != "" {
		runID, err := r.saveRun(result, manifests)
		if err != nil {
			logging.LogRunError(r.log, time.Since(start), err)
			return err
		}
		fmt.Fprintf(out, "\nRun stored as %s in %s\n", runID, r.cfg.Storage.Database)
	}

	logging.LogRunComplete(r.log, time.Since(start), map[string]any{
		"cycles":   len(result.Cycles),
		"warnings": len(result.Warnings()),
	})
	return nil
}

// printSummary writes the per-cycle outcome of a run.
func printSummary(out io.Writer, result *registration.Result, elapsed time.Duration) {
	fmt.Fprintf(out, "Registration completed in %v\n", elapsed)
	for k := range result.Cycles {
		cr := &result.Cycles[k]
		d := cr.Diagnostics
		fmt.Fprintf(out, "\nCycle %d (%s):\n", cr.Cycle.Index, cr.Cycle.Name)
		fmt.Fprintf(out, "  Tiles: %d\n", len(cr.Cycle.Tiles))
		fmt.Fprintf(out, "  Overlaps: %d (rejected %d, failed %d, nominal %d)\n", d.Edges, d.Rejected, d.Failed, d.Fallback)
		fmt.Fprintf(out, "  Components: %d\n", d.Components)
		fmt.Fprintf(out, "  Alignment: %s\n", cr.Alignment.Status)
		fmt.Fprintf(out, "  Translation: (%.2f, %.2f) px\n", cr.Translation.X, cr.Translation.Y)
		if cr.Alignment.Refined > 0 {
			fmt.Fprintf(out, "  Refined tiles: %d\n", cr.Alignment.Refined)
		}
	}

	warnings := result.Warnings()
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintf(out, "\nWarnings (%d):\n", len(warnings))
	for _, w := range warnings {
		fmt.Fprintf(out, "  - %s\n", w)
	}
}

// sharedCanvas covers every cycle so that all mosaics line up.
func sharedCanvas(result *registration.Result) mosaic.Canvas {
	var canvas mosaic.Canvas
	for k := range result.Cycles {
		cr := &result.Cycles[k]
		canvas = canvas.Union(mosaic.Bounds(cr.Graph.Tiles, cr.Positions))
	}
	return canvas
}

func (r *Root) writeMosaics(out io.Writer, result *registration.Result) error {
	blend, err := mosaic.ParseBlend(r.cfg.Mosaic.Blend)
	if err != nil {
		return err
	}
	w := &mosaic.Writer{
		Dir:      r.cfg.Mosaic.OutputDir,
		Template: r.cfg.Mosaic.FilenameTemplate,
		Blend:    blend,
		Canvas:   sharedCanvas(result),
	}
	var channels []int
	if len(r.cfg.Mosaic.Channels) > 0 {
		channels = r.cfg.Mosaic.Channels
	}

	fmt.Fprintf(out, "\nMosaics (%dx%d):\n", w.Canvas.Width, w.Canvas.Height)
	for k := range result.Cycles {
		cr := &result.Cycles[k]
		paths, err := w.SaveChannels(cr.Cycle, cr.Graph.Tiles, cr.Positions, channels)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Fprintf(out, "  %s\n", p)
		}
		logging.LogStep(r.log, "mosaic", "completed", map[string]any{
			"cycle": cr.Cycle.Index,
			"files": len(paths),
		})
	}
	return nil
}

func (r *Root) writePreviews(out io.Writer, result *registration.Result) error {
	if err := os.MkdirAll(r.cfg.Preview.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create preview directory: %w", err)
	}
	fmt.Fprintf(out, "\nPreviews:\n")
	for k := range result.Cycles {
		cr := &result.Cycles[k]
		path := filepath.Join(r.cfg.Preview.Dir, fmt.Sprintf("cycle%d_layout.png", cr.Cycle.Index))
		if err := preview.SavePNG(path, preview.RenderCycle(cr, r.cfg.Preview.Scale)); err != nil {
			return err
		}
		fmt.Fprintf(out, "  %s\n", path)
		logging.LogStep(r.log, "preview", "completed", map[string]any{"cycle": cr.Cycle.Index, "path": path})
	}
	return nil
}

func (r *Root) saveRun(result *registration.Result, manifests []string) (string, error) {
	s, err := store.New(r.cfg.Storage.Database)
	if err != nil {
		return "", err
	}
	defer s.Close()

	id, err := s.SaveRun(result, manifests)
	if err != nil {
		return "", fmt.Errorf("failed to store run: %w", err)
	}
	logging.LogStep(r.log, "store", "completed", map[string]any{"run": id})
	return id, nil
}

// printPositions lists the stored positions of one run.
func printPositions(out io.Writer, s *store.Store, runID string, cycle int) error {
	cycles, err := s.Cycles(runID)
	if err != nil {
		return err
	}
	if cycle >= 0 {
		cycles = []int{cycle}
	}
	for _, c := range cycles {
		positions, err := s.CyclePositions(runID, c)
		if err != nil {
			return err
		}
		t, err := s.CycleTranslation(runID, c)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Cycle %d translation (%.2f, %.2f)\n", c, t.X, t.Y)
		fmt.Fprintf(out, "%6s %10s %10s %10s %10s %5s\n", "tile", "nominal_x", "nominal_y", "x", "y", "comp")
		for _, p := range positions {
			fmt.Fprintf(out, "%6d %10.2f %10.2f %10.2f %10.2f %5d\n",
				p.Tile, p.Nominal.X, p.Nominal.Y, p.Position.X, p.Position.Y, p.Component)
		}
		fmt.Fprintf(out, "Largest correction %.2f px\n\n", displacement(positions))
	}
	return nil
}

// displacement is the largest correction of any tile from its nominal
// position.
func displacement(positions []store.TilePosition) float64 {
	worst := 0.0
	for _, p := range positions {
		worst = max(worst, r2.Norm(r2.Sub(p.Position, p.Nominal)))
	}
	return worst
}
