package registration

import (
	"fmt"
	"log/slog"
	"sync"

	"gonum.org/v1/gonum/spatial/r2"

	"tilereg/internal/models"
	"tilereg/pkg/correlate"
	"tilereg/pkg/mosaic"
)

// CycleStatus describes how a cycle translation was obtained.
type CycleStatus int

const (
	// CycleReference marks the reference cycle, translation (0,0) by definition
	CycleReference CycleStatus = iota
	// CycleAligned marks a measured translation within the bound
	CycleAligned
	// CycleClamped marks a measured translation limited to the bound
	CycleClamped
	// CycleRejected marks a translation discarded for exceeding the bound
	CycleRejected
	// CycleFailed marks a cycle whose mosaic could not be correlated
	CycleFailed
)

func (s CycleStatus) String() string {
	switch s {
	case CycleReference:
		return "reference"
	case CycleAligned:
		return "aligned"
	case CycleClamped:
		return "clamped"
	case CycleRejected:
		return "rejected"
	case CycleFailed:
		return "failed"
	default:
		return fmt.Sprintf("CycleStatus(%d)", int(s))
	}
}

// CycleMosaic is a cycle together with its resolved tile positions.
// Positions are indexed like Tiles.
type CycleMosaic struct {
	Cycle     models.Cycle
	Tiles     []models.Tile
	Positions []r2.Vec
}

// CycleAlignment is the outcome of aligning one cycle against the reference.
type CycleAlignment struct {
	// Translation maps the target cycle into the reference frame; it is added
	// to every target tile position
	Translation r2.Vec

	// Shift is the raw shift measured between the two mosaics
	Shift r2.Vec

	// Error is the correlation error of the mosaic correlation
	Error float64

	Status CycleStatus

	// Canvas is the reference canvas both mosaics were composited onto
	Canvas mosaic.Canvas

	// TileCorrections holds per-tile refinements applied on top of the
	// translation, indexed like the target tiles. Nil unless RefineTiles is set.
	TileCorrections []r2.Vec

	// Refined counts the tiles that received a non-zero refinement
	Refined int
}

// CycleAligner registers later cycles against a reference cycle using the
// alignment channel mosaics.
type CycleAligner struct {
	params Params
	logger *slog.Logger

	// Filtered reference mosaic, kept while consecutive cycles are aligned
	// against the same reference
	refIndex  int
	refPlane  *models.Plane
	refCanvas mosaic.Canvas
}

// NewCycleAligner creates an aligner with the given parameters.
func NewCycleAligner(params Params) *CycleAligner {
	return &CycleAligner{
		params:   params,
		logger:   params.logger(),
		refIndex: -1,
	}
}

// Align measures the translation of target relative to ref.
//
// Both cycles are composited onto the reference canvas with mean blending,
// filtered like the tiles, cropped to the configured region and phase
// correlated. A correlation shift s means the target content lies s further
// along than the reference content, so the translation is -s.
//
// Errors are returned only for unreadable pixel data. Correlation failures and
// translations beyond the bound are reported through Status.
//
// Parameters:
//   - ref: The reference cycle with its resolved positions
//   - target: The cycle to align; the same Index as ref returns CycleReference
//
// Returns:
//   - The translation to add to every target tile and its status
//   - An error when a tile plane cannot be read
func (a *CycleAligner) Align(ref, target CycleMosaic) (CycleAlignment, error) {
	if target.Cycle.Index == ref.Cycle.Index {
		return CycleAlignment{Status: CycleReference, Canvas: mosaic.Bounds(ref.Tiles, ref.Positions)}, nil
	}

	refPlane, canvas, err := a.reference(ref)
	if err != nil {
		return CycleAlignment{}, err
	}
	out := CycleAlignment{Canvas: canvas}

	tgtPlane, err := a.composite(canvas, target)
	if err != nil {
		return CycleAlignment{}, fmt.Errorf("cycle %d: %w", target.Cycle.Index, err)
	}

	region := canvas
	if a.params.Cycle.Region == RegionCenter {
		region = canvas.Center(a.params.Cycle.CenterFraction)
	}
	local := region.Rect().Sub(canvas.Origin)
	refCrop, err := refPlane.Crop(local)
	if err != nil {
		return CycleAlignment{}, err
	}
	tgtCrop, err := tgtPlane.Crop(local)
	if err != nil {
		return CycleAlignment{}, err
	}

	res := correlate.Align(refCrop, tgtCrop, a.params.correlateOptions())
	out.Shift = res.Shift
	out.Error = res.Error
	if !res.Ok() {
		out.Status = CycleFailed
		a.logger.Warn("cycle correlation failed, keeping nominal alignment",
			"cycle", target.Cycle.Index)
		return out, nil
	}

	bound := a.params.maxShiftPixels(target.Cycle)
	t := r2.Scale(-1, res.Shift)
	norm := r2.Norm(t)
	switch {
	case norm <= bound:
		out.Status = CycleAligned
		out.Translation = t
	case a.params.Cycle.ShiftPolicy == ShiftClamp:
		out.Status = CycleClamped
		out.Translation = r2.Scale(bound/norm, t)
		a.logger.Warn("cycle translation clamped",
			"cycle", target.Cycle.Index, "measured", norm, "bound", bound)
	default:
		out.Status = CycleRejected
		a.logger.Warn("cycle translation rejected",
			"cycle", target.Cycle.Index, "measured", norm, "bound", bound)
	}

	if a.params.Cycle.RefineTiles {
		if err := a.refine(refPlane, canvas, target, &out); err != nil {
			return CycleAlignment{}, err
		}
	}
	return out, nil
}

// reference returns the filtered reference mosaic, composing it on first use.
func (a *CycleAligner) reference(ref CycleMosaic) (*models.Plane, mosaic.Canvas, error) {
	if a.refPlane != nil && a.refIndex == ref.Cycle.Index {
		return a.refPlane, a.refCanvas, nil
	}
	canvas := mosaic.Bounds(ref.Tiles, ref.Positions)
	plane, err := a.composite(canvas, ref)
	if err != nil {
		return nil, mosaic.Canvas{}, fmt.Errorf("reference cycle %d: %w", ref.Cycle.Index, err)
	}
	a.refIndex, a.refPlane, a.refCanvas = ref.Cycle.Index, plane, canvas
	return plane, canvas, nil
}

// composite renders the alignment channel of m onto canvas and filters it.
func (a *CycleAligner) composite(canvas mosaic.Canvas, m CycleMosaic) (*models.Plane, error) {
	plane, err := mosaic.ComposeSource(canvas, m.Tiles, m.Positions, m.Cycle.Source, a.params.AlignChannel, mosaic.BlendMean)
	if err != nil {
		return nil, err
	}
	return correlate.Preprocess(plane, a.params.Filter), nil
}

// refine correlates every translated target tile against the reference
// mosaic underneath it and records per-tile corrections within the bound.
func (a *CycleAligner) refine(refPlane *models.Plane, canvas mosaic.Canvas, target CycleMosaic, out *CycleAlignment) error {
	n := len(target.Tiles)
	out.TileCorrections = make([]r2.Vec, n)
	bound := a.params.maxShiftPixels(target.Cycle)
	opts := a.params.correlateOptions()

	errs := make([]error, n)
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(a.params.workers(), n); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := range jobs {
				t := target.Tiles[k]
				plane, err := target.Cycle.Source.Plane(t.Index, a.params.AlignChannel)
				if err != nil {
					errs[k] = fmt.Errorf("cycle %d tile %d: %w", target.Cycle.Index, t.Index, err)
					continue
				}
				plane = correlate.Preprocess(plane, a.params.Filter)

				at := mosaic.Place(r2.Add(target.Positions[k], out.Translation)).Sub(canvas.Origin)
				inRef := plane.Bounds().Add(at).Intersect(refPlane.Bounds())
				if inRef.Empty() {
					continue
				}
				refCrop, err := refPlane.Crop(inRef)
				if err != nil {
					continue
				}
				tileCrop, err := plane.Crop(inRef.Sub(at))
				if err != nil {
					continue
				}
				res := correlate.Align(refCrop, tileCrop, opts)
				if !res.Ok() {
					continue
				}
				c := r2.Scale(-1, res.Shift)
				if r2.Norm(c) > bound {
					continue
				}
				out.TileCorrections[k] = c
			}
		}()
	}
	for k := 0; k < n; k++ {
		jobs <- k
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	for _, c := range out.TileCorrections {
		if c != (r2.Vec{}) {
			out.Refined++
		}
	}
	a.logger.Debug("tile refinement complete",
		"cycle", target.Cycle.Index, "refined", out.Refined, "tiles", n)
	return nil
}
