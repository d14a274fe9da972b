package registration

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"tilereg/internal/models"
	"tilereg/pkg/correlate"
	"tilereg/pkg/tilegraph"
)

var (
	// ErrNoCycles is returned when Process is called without input.
	ErrNoCycles = errors.New("registration: no cycles")

	// ErrNoTiles is returned for a cycle without tiles.
	ErrNoTiles = errors.New("registration: cycle has no tiles")

	// ErrInvalidMaxShift is returned for a non-positive maximum shift.
	ErrInvalidMaxShift = errors.New("registration: maximum shift must be positive")

	// ErrInvalidChannel is returned when the align channel does not exist.
	ErrInvalidChannel = errors.New("registration: invalid align channel")

	// ErrInvalidPixelSize is returned for a cycle without a positive pixel size.
	ErrInvalidPixelSize = errors.New("registration: pixel size must be positive")

	// ErrNoSource is returned for a cycle without pixel data.
	ErrNoSource = errors.New("registration: cycle has no plane source")

	// ErrDuplicateCycle is returned when two cycles share an index.
	ErrDuplicateCycle = errors.New("registration: duplicate cycle index")
)

// ShiftPolicy decides what happens to a cycle translation that exceeds the
// maximum shift.
type ShiftPolicy int

const (
	// ShiftReject discards the translation and keeps the nominal alignment
	ShiftReject ShiftPolicy = iota
	// ShiftClamp keeps the direction and limits the magnitude to the bound
	ShiftClamp
)

func (p ShiftPolicy) String() string {
	if p == ShiftClamp {
		return "clamp"
	}
	return "reject"
}

// ParseShiftPolicy converts a configuration string into a ShiftPolicy.
func ParseShiftPolicy(s string) (ShiftPolicy, error) {
	switch strings.ToLower(s) {
	case "", "reject":
		return ShiftReject, nil
	case "clamp":
		return ShiftClamp, nil
	default:
		return 0, fmt.Errorf("invalid shift policy: %s (must be reject or clamp)", s)
	}
}

// Region selects the part of the mosaics correlated by the cycle aligner.
type Region int

const (
	// RegionFull correlates the full reference extent
	RegionFull Region = iota
	// RegionCenter correlates a central crop
	RegionCenter
)

func (r Region) String() string {
	if r == RegionCenter {
		return "center"
	}
	return "full"
}

// ParseRegion converts a configuration string into a Region.
func ParseRegion(s string) (Region, error) {
	switch strings.ToLower(s) {
	case "", "full":
		return RegionFull, nil
	case "center", "centre":
		return RegionCenter, nil
	default:
		return 0, fmt.Errorf("invalid region: %s (must be full or center)", s)
	}
}

// CycleParams configures cross-cycle alignment.
type CycleParams struct {
	// Region is the part of the mosaic used for correlation. The default
	// central crop keeps the FFT buffers of whole-slide mosaics small.
	Region Region

	// CenterFraction is the size of the central crop per axis, for RegionCenter
	CenterFraction float64

	// ShiftPolicy handles translations beyond the maximum shift
	ShiftPolicy ShiftPolicy

	// RefineTiles registers every tile of a later cycle against the
	// reference mosaic after the global translation has been applied
	RefineTiles bool
}

// Params holds the registration parameters.
type Params struct {
	// AlignChannel is the channel used for all correlations
	AlignChannel int

	// MaxShift is the largest trusted correction in microns. It is converted
	// to pixels with each cycle's pixel size.
	MaxShift float64

	// Filter is applied to every plane before correlation
	Filter correlate.Filter

	// Subpixel enables parabolic peak refinement in the correlator
	Subpixel bool

	// Graph controls overlap candidate generation
	Graph tilegraph.Options

	// NumWorkers sizes the pairwise alignment worker pool. Zero or less
	// uses one worker per CPU core.
	NumWorkers int

	// Cycle configures cross-cycle alignment
	Cycle CycleParams

	// Logger receives progress and diagnostics; nil uses slog.Default()
	Logger *slog.Logger
}

// DefaultParams returns parameters suitable for typical whole-slide data.
func DefaultParams() Params {
	return Params{
		AlignChannel: 0,
		MaxShift:     15,
		NumWorkers:   runtime.NumCPU(),
		Cycle: CycleParams{
			Region:         RegionCenter,
			CenterFraction: 0.5,
			ShiftPolicy:    ShiftReject,
		},
	}
}

// Validate checks the parameters that do not depend on input data.
func (p Params) Validate() error {
	if p.MaxShift <= 0 {
		return fmt.Errorf("%w: %g", ErrInvalidMaxShift, p.MaxShift)
	}
	if p.AlignChannel < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, p.AlignChannel)
	}
	if p.Filter.Sigma < 0 {
		return fmt.Errorf("registration: filter sigma must not be negative: %g", p.Filter.Sigma)
	}
	if p.Cycle.Region == RegionCenter && (p.Cycle.CenterFraction <= 0 || p.Cycle.CenterFraction > 1) {
		return fmt.Errorf("registration: center fraction must be in (0, 1]: %g", p.Cycle.CenterFraction)
	}
	return nil
}

// validateCycle checks one cycle against the parameters.
func (p Params) validateCycle(c models.Cycle) error {
	if len(c.Tiles) == 0 {
		return fmt.Errorf("cycle %d: %w", c.Index, ErrNoTiles)
	}
	if c.PixelSize <= 0 {
		return fmt.Errorf("cycle %d: %w", c.Index, ErrInvalidPixelSize)
	}
	if c.Channels > 0 && p.AlignChannel >= c.Channels {
		return fmt.Errorf("cycle %d has %d channels: %w: %d", c.Index, c.Channels, ErrInvalidChannel, p.AlignChannel)
	}
	if c.Source == nil {
		return fmt.Errorf("cycle %d: %w", c.Index, ErrNoSource)
	}
	return nil
}

// maxShiftPixels converts the maximum shift to pixels for a cycle.
func (p Params) maxShiftPixels(c models.Cycle) float64 {
	return p.MaxShift / c.PixelSize
}

func (p Params) workers() int {
	if p.NumWorkers <= 0 {
		return runtime.NumCPU()
	}
	return p.NumWorkers
}

func (p Params) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p Params) correlateOptions() correlate.Options {
	return correlate.Options{Subpixel: p.Subpixel}
}
