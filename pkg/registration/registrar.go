// Package registration places the tiles of every imaging cycle in one shared
// pixel frame.
//
// A run works cycle by cycle. The tiles of a cycle are linked into an
// overlap graph, every overlap is measured by phase correlation, and a
// minimum spanning forest over the measured edges turns the pairwise
// corrections into absolute positions. Every later cycle is then aligned
// against cycle 0 by correlating the two composited mosaics.
package registration

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"tilereg/internal/models"
	"tilereg/pkg/correlate"
	"tilereg/pkg/tilegraph"
)

// ErrPlaneSize is returned when a tile plane does not match its tile size.
var ErrPlaneSize = errors.New("registration: plane size does not match tile")

// CycleResult holds the registration of one cycle.
type CycleResult struct {
	Cycle  models.Cycle
	Graph  *tilegraph.Graph
	Forest *Forest

	// Alignment is the cross-cycle alignment against the reference cycle
	Alignment CycleAlignment

	// Translation is the global offset applied to every tile of the cycle
	Translation r2.Vec

	// Positions are the final tile positions in the reference frame, indexed
	// by graph slot
	Positions []r2.Vec

	Diagnostics Diagnostics
}

// Position returns the final position of the tile with the given index.
func (c *CycleResult) Position(tileIndex int) (r2.Vec, bool) {
	slot, ok := c.Graph.Slot(tileIndex)
	if !ok {
		return r2.Vec{}, false
	}
	return c.Positions[slot], true
}

// Mosaic returns the cycle with its final positions, ready for compositing.
func (c *CycleResult) Mosaic() CycleMosaic {
	return CycleMosaic{Cycle: c.Cycle, Tiles: c.Graph.Tiles, Positions: c.Positions}
}

// Result is the outcome of a registration run. Cycles[0] is the reference.
type Result struct {
	Cycles []CycleResult
}

// Warnings returns the warnings of every cycle in cycle order.
func (r *Result) Warnings() []Warning {
	var out []Warning
	for k := range r.Cycles {
		out = append(out, r.Cycles[k].Diagnostics.Warnings...)
	}
	return out
}

// Registrar runs the registration pipeline.
type Registrar struct {
	params Params
	logger *slog.Logger
}

// NewRegistrar creates a registrar with the provided parameters.
func NewRegistrar(params Params) *Registrar {
	return &Registrar{
		params: params,
		logger: params.logger(),
	}
}

// Process registers all cycles. The first cycle is the reference frame;
// every other cycle is aligned directly against it.
//
// Invalid parameters or input are reported before any work starts. Once
// registration runs only unreadable pixel data aborts it; every other
// problem is recorded in the cycle diagnostics.
//
// Parameters:
//   - cycles: The cycles to register, each with a unique Index. The first
//     one is the reference
//
// Returns:
//   - One CycleResult per input cycle, in input order
//   - A validation error (ErrNoCycles, ErrDuplicateCycle, ...) or a pixel
//     read error
func (r *Registrar) Process(cycles []models.Cycle) (*Result, error) {
	if err := r.params.Validate(); err != nil {
		return nil, err
	}
	if len(cycles) == 0 {
		return nil, ErrNoCycles
	}
	seen := make(map[int]bool, len(cycles))
	for _, c := range cycles {
		if err := r.params.validateCycle(c); err != nil {
			return nil, err
		}
		// The aligner tells the reference apart by index
		if seen[c.Index] {
			return nil, fmt.Errorf("cycle %d (%s): %w", c.Index, c.Name, ErrDuplicateCycle)
		}
		seen[c.Index] = true
	}

	result := &Result{Cycles: make([]CycleResult, 0, len(cycles))}
	aligner := NewCycleAligner(r.params)

	for k, c := range cycles {
		start := time.Now()
		r.logger.Info("registering cycle", "cycle", c.Index, "name", c.Name, "tiles", len(c.Tiles))

		cr, err := r.registerCycle(c)
		if err != nil {
			return nil, err
		}

		if k == 0 {
			cr.Alignment = CycleAlignment{Status: CycleReference}
			cr.Positions = append([]r2.Vec(nil), cr.Forest.Positions...)
		} else {
			r.logger.Info("step 4: aligning cycle against reference", "cycle", c.Index, "reference", cycles[0].Index)
			ref := result.Cycles[0].Mosaic()
			target := CycleMosaic{Cycle: c, Tiles: cr.Graph.Tiles, Positions: cr.Forest.Positions}
			al, err := aligner.Align(ref, target)
			if err != nil {
				return nil, fmt.Errorf("failed to align cycle %d: %w", c.Index, err)
			}
			cr.Alignment = al
			cr.Translation = al.Translation
			cr.Positions = make([]r2.Vec, len(cr.Forest.Positions))
			for slot, p := range cr.Forest.Positions {
				p = r2.Add(p, al.Translation)
				if al.TileCorrections != nil {
					p = r2.Add(p, al.TileCorrections[slot])
				}
				cr.Positions[slot] = p
			}
			r.cycleWarnings(cr, al)
		}

		r.logger.Info("cycle registered",
			"cycle", c.Index,
			"edges", cr.Diagnostics.Edges,
			"rejected", cr.Diagnostics.Rejected,
			"failed", cr.Diagnostics.Failed,
			"components", cr.Diagnostics.Components,
			"translation_x", cr.Translation.X,
			"translation_y", cr.Translation.Y,
			"duration", time.Since(start).String(),
		)
		result.Cycles = append(result.Cycles, *cr)
	}
	return result, nil
}

// registerCycle builds, scores and resolves the overlap graph of one cycle.
func (r *Registrar) registerCycle(c models.Cycle) (*CycleResult, error) {
	r.logger.Debug("step 1: building overlap graph", "cycle", c.Index)
	g, err := tilegraph.Build(c.Tiles, r.params.Graph)
	if err != nil {
		return nil, fmt.Errorf("cycle %d: %w", c.Index, err)
	}
	if g.Grid != nil {
		r.logger.Debug("regular grid detected", "cycle", c.Index, "cols", g.Grid.Cols, "rows", g.Grid.Rows)
	}

	r.logger.Debug("step 2: loading and aligning overlaps", "cycle", c.Index, "edges", len(g.Edges))
	planes, err := r.loadPlanes(c, g)
	if err != nil {
		return nil, err
	}
	stats := AlignEdges(g, planes, EdgeOptions{
		MaxShift:   r.params.maxShiftPixels(c),
		Correlate:  r.params.correlateOptions(),
		NumWorkers: r.params.workers(),
	})

	r.logger.Debug("step 3: resolving positions", "cycle", c.Index)
	forest, err := Resolve(g)
	if err != nil {
		return nil, fmt.Errorf("cycle %d: %w", c.Index, err)
	}

	cr := &CycleResult{Cycle: c, Graph: g, Forest: forest}
	r.edgeWarnings(cr, stats)
	return cr, nil
}

// loadPlanes reads and preprocesses the alignment plane of every tile in
// parallel. The result is indexed by graph slot.
func (r *Registrar) loadPlanes(c models.Cycle, g *tilegraph.Graph) ([]*models.Plane, error) {
	type loadResult struct {
		slot  int
		plane *models.Plane
		err   error
	}

	n := g.Len()
	planes := make([]*models.Plane, n)
	jobs := make(chan int)
	results := make(chan loadResult)

	for w := 0; w < min(r.params.workers(), n); w++ {
		go func() {
			for slot := range jobs {
				t := g.Tiles[slot]
				p, err := c.Source.Plane(t.Index, r.params.AlignChannel)
				if err == nil && (p.Width != t.Width || p.Height != t.Height) {
					err = fmt.Errorf("%w: %dx%d, expected %dx%d", ErrPlaneSize, p.Width, p.Height, t.Width, t.Height)
				}
				if err != nil {
					results <- loadResult{slot: slot, err: fmt.Errorf("cycle %d tile %d: %w", c.Index, t.Index, err)}
					continue
				}
				results <- loadResult{slot: slot, plane: correlate.Preprocess(p, r.params.Filter)}
			}
		}()
	}
	go func() {
		for slot := 0; slot < n; slot++ {
			jobs <- slot
		}
		close(jobs)
	}()

	var firstErr error
	for k := 0; k < n; k++ {
		res := <-results
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		planes[res.slot] = res.plane
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return planes, nil
}

// edgeWarnings fills the cycle diagnostics from the pairwise and resolver
// outcomes.
func (r *Registrar) edgeWarnings(cr *CycleResult, stats EdgeStats) {
	g, f := cr.Graph, cr.Forest
	d := &cr.Diagnostics
	d.Edges = len(g.Edges)
	d.Rejected = len(stats.Rejected)
	d.Failed = len(stats.Failed)
	d.Fallback = len(f.FallbackEdges)
	d.Components = f.Components

	for _, id := range stats.Rejected {
		e := &g.Edges[id]
		ti, tj := g.Tiles[e.I].Index, g.Tiles[e.J].Index
		msg := fmt.Sprintf("tiles %d-%d correction %.2fpx exceeds bound %.2fpx", ti, tj, r2.Norm(e.Correction), r.params.maxShiftPixels(cr.Cycle))
		d.add(Warning{Kind: WarnExcessiveShift, Cycle: cr.Cycle.Index, Tile: tj, Edge: id, Message: msg})
		r.logger.Warn("edge correction exceeds maximum shift", "cycle", cr.Cycle.Index, "tile_i", ti, "tile_j", tj)
	}
	for _, id := range stats.Failed {
		e := &g.Edges[id]
		ti, tj := g.Tiles[e.I].Index, g.Tiles[e.J].Index
		msg := fmt.Sprintf("tiles %d-%d could not be correlated", ti, tj)
		d.add(Warning{Kind: WarnCorrelationFailed, Cycle: cr.Cycle.Index, Tile: tj, Edge: id, Message: msg})
		r.logger.Warn("edge correlation failed", "cycle", cr.Cycle.Index, "tile_i", ti, "tile_j", tj)
	}
	if f.Disconnected() {
		msg := fmt.Sprintf("%d components stitched by nominal position", f.Components)
		d.add(Warning{Kind: WarnDisconnected, Cycle: cr.Cycle.Index, Tile: -1, Edge: -1, Message: msg})
		r.logger.Warn("tile graph is disconnected", "cycle", cr.Cycle.Index, "components", f.Components)
	}
}

// cycleWarnings records the outcome of the cross-cycle alignment.
func (r *Registrar) cycleWarnings(cr *CycleResult, al CycleAlignment) {
	d := &cr.Diagnostics
	measured := r2.Norm(al.Shift)
	switch al.Status {
	case CycleRejected:
		d.add(Warning{Kind: WarnCycleRejected, Cycle: cr.Cycle.Index, Tile: -1, Edge: -1,
			Message: fmt.Sprintf("translation %.2fpx exceeds bound, nominal alignment kept", measured)})
	case CycleClamped:
		d.add(Warning{Kind: WarnCycleClamped, Cycle: cr.Cycle.Index, Tile: -1, Edge: -1,
			Message: fmt.Sprintf("translation %.2fpx clamped to %.2fpx", measured, r2.Norm(al.Translation))})
	case CycleFailed:
		d.add(Warning{Kind: WarnCycleFailed, Cycle: cr.Cycle.Index, Tile: -1, Edge: -1,
			Message: "mosaic correlation failed, nominal alignment kept"})
	}
}
