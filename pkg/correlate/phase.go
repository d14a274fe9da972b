// Package correlate estimates the translation between two equally sized
// image patches by phase correlation.
//
// Align is a pure function of its inputs: it allocates its own FFT plans and
// never mutates the planes it is given, so callers may fan it out across any
// number of goroutines.
package correlate

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/stat"

	"tilereg/internal/models"
)

// Failed is the error score reported when no trustworthy peak exists.
var Failed = math.Inf(1)

// minSize is the smallest patch extent, on either axis, that is correlated.
const minSize = 2

// spectrumFloor is the relative magnitude below which a cross-power
// coefficient is treated as zero instead of being normalised.
const spectrumFloor = 1e-12

// Options controls the correlation.
type Options struct {
	// Subpixel enables parabolic refinement of the correlation peak
	Subpixel bool
}

// Result is the outcome of one correlation.
type Result struct {
	// Shift is the displacement of the content of a within b:
	// b(x) ≈ a(x - Shift)
	Shift r2.Vec

	// Error is 1 - peak² of the unit-energy correlation surface. 0 means a
	// perfect single peak; Failed means no usable peak was found.
	Error float64
}

// Ok reports whether the correlation produced a usable estimate.
func (r Result) Ok() bool {
	return !math.IsInf(r.Error, 0) && !math.IsNaN(r.Error)
}

func failed() Result {
	return Result{Error: Failed}
}

// Align computes the translation between a and b by phase correlation.
//
// The patches are mean-subtracted and transformed, the normalised
// cross-power spectrum B·conj(A)/|B·conj(A)| is inverse transformed and its
// maximum located. Peaks beyond half of an axis wrap to negative shifts.
//
// Blank (zero variance) patches, mismatched shapes and degenerate spectra
// yield Failed with a zero shift rather than a spurious estimate.
//
// Parameters:
//   - a: The first patch
//   - b: The second patch, the same size as a
//   - opts: Peak refinement settings
//
// Returns:
//   - The shift of b relative to a and the error score of the peak
func Align(a, b *models.Plane, opts Options) Result {
	if a == nil || b == nil || a.Width != b.Width || a.Height != b.Height {
		return failed()
	}
	w, h := a.Width, a.Height
	if w < minSize || h < minSize {
		return failed()
	}

	bufA, okA := centered(a)
	bufB, okB := centered(b)
	if !okA || !okB {
		return failed()
	}

	f := newFFT2D(w, h)
	f.forward(bufA)
	f.forward(bufB)

	// Cross-power spectrum, written into bufA
	maxMag := 0.0
	for i := range bufA {
		bufA[i] = bufB[i] * cmplx.Conj(bufA[i])
		if m := cmplx.Abs(bufA[i]); m > maxMag {
			maxMag = m
		}
	}
	if maxMag == 0 || math.IsNaN(maxMag) || math.IsInf(maxMag, 0) {
		return failed()
	}
	floor := maxMag * spectrumFloor
	for i, c := range bufA {
		m := cmplx.Abs(c)
		if m <= floor {
			bufA[i] = 0
			continue
		}
		bufA[i] = c / complex(m, 0)
	}

	f.inverse(bufA)

	n := float64(w * h)
	surface := make([]float64, len(bufA))
	energy := 0.0
	for i, c := range bufA {
		v := real(c) / n
		surface[i] = v
		energy += v * v
	}
	if energy == 0 || math.IsNaN(energy) {
		return failed()
	}
	norm := math.Sqrt(energy)
	floats.Scale(1/norm, surface)

	peakIdx := floats.MaxIdx(surface)
	peak := surface[peakIdx]
	if math.IsNaN(peak) || peak <= 0 {
		return failed()
	}
	px, py := peakIdx%w, peakIdx/w

	shift := r2.Vec{X: wrap(px, w), Y: wrap(py, h)}
	if opts.Subpixel {
		shift.X += parabolic(
			surface[py*w+(px+w-1)%w],
			peak,
			surface[py*w+(px+1)%w],
		)
		shift.Y += parabolic(
			surface[((py+h-1)%h)*w+px],
			peak,
			surface[((py+1)%h)*w+px],
		)
	}

	errScore := 1 - peak*peak
	if errScore < 0 {
		errScore = 0
	}
	if math.IsNaN(errScore) || math.IsNaN(shift.X) || math.IsNaN(shift.Y) {
		return failed()
	}
	return Result{Shift: shift, Error: errScore}
}

// centered converts p into a mean-subtracted complex buffer. It reports
// false for planes without variance.
func centered(p *models.Plane) ([]complex128, bool) {
	mean, variance := stat.MeanVariance(p.Pix, nil)
	if math.IsNaN(variance) || variance <= 1e-12*(mean*mean+1e-12) {
		return nil, false
	}
	buf := make([]complex128, len(p.Pix))
	for i, v := range p.Pix {
		buf[i] = complex(v-mean, 0)
	}
	return buf, true
}

// wrap maps a peak index onto a signed shift.
func wrap(idx, size int) float64 {
	if idx > size/2 {
		return float64(idx - size)
	}
	return float64(idx)
}

// parabolic returns the vertex offset of the parabola through three equally
// spaced samples, limited to half a pixel.
func parabolic(left, center, right float64) float64 {
	denom := left - 2*center + right
	if denom == 0 {
		return 0
	}
	off := 0.5 * (left - right) / denom
	return math.Max(-0.5, math.Min(0.5, off))
}
