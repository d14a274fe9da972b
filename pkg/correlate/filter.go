package correlate

import (
	"math"

	"tilereg/internal/models"
)

// Filter describes the preprocessing applied uniformly to every plane before
// it is correlated.
type Filter struct {
	// Sigma is the Gaussian blur standard deviation in pixels; 0 disables it
	Sigma float64

	// Whiten applies a Laplacian high-pass after blurring
	Whiten bool
}

// Enabled reports whether the filter changes its input at all.
func (f Filter) Enabled() bool {
	return f.Sigma > 0 || f.Whiten
}

// Preprocess returns a filtered copy of p. When the filter is disabled p is
// returned as is.
func Preprocess(p *models.Plane, f Filter) *models.Plane {
	out := p
	if f.Sigma > 0 {
		out = GaussianBlur(out, f.Sigma)
	}
	if f.Whiten {
		out = Laplace(out)
	}
	return out
}

// gaussianKernel builds a normalised 1D kernel truncated at 4 sigma.
func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(4 * sigma))
	if radius < 1 {
		radius = 1
	}
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// GaussianBlur returns p convolved with a separable Gaussian. Samples beyond
// the border repeat the nearest edge sample.
func GaussianBlur(p *models.Plane, sigma float64) *models.Plane {
	if sigma <= 0 {
		return p.Clone()
	}
	kernel := gaussianKernel(sigma)
	radius := len(kernel) / 2
	w, h := p.Width, p.Height

	tmp := models.NewPlane(w, h)
	for y := 0; y < h; y++ {
		row := p.Pix[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			acc := 0.0
			for k, kv := range kernel {
				acc += kv * row[clamp(x+k-radius, w)]
			}
			tmp.Pix[y*w+x] = acc
		}
	}

	out := models.NewPlane(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			acc := 0.0
			for k, kv := range kernel {
				acc += kv * tmp.Pix[clamp(y+k-radius, h)*w+x]
			}
			out.Pix[y*w+x] = acc
		}
	}
	return out
}

// Laplace returns the 4-neighbour Laplacian of p. Border samples are
// repeated outward.
func Laplace(p *models.Plane) *models.Plane {
	w, h := p.Width, p.Height
	out := models.NewPlane(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := p.Pix[y*w+x]
			sum := p.Pix[y*w+clamp(x-1, w)] + p.Pix[y*w+clamp(x+1, w)] +
				p.Pix[clamp(y-1, h)*w+x] + p.Pix[clamp(y+1, h)*w+x]
			out.Pix[y*w+x] = sum - 4*c
		}
	}
	return out
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
