package correlate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tilereg/internal/models"
)

func TestGaussianKernelIsNormalised(t *testing.T) {
	for _, sigma := range []float64{0.3, 1, 2.5} {
		k := gaussianKernel(sigma)
		sum := 0.0
		for _, v := range k {
			sum += v
		}
		assert.InDelta(t, 1, sum, 1e-12)
		assert.Equal(t, 1, len(k)%2, "kernel must be odd sized")
	}
}

func TestGaussianBlurPreservesConstant(t *testing.T) {
	p := models.NewPlane(9, 7)
	for i := range p.Pix {
		p.Pix[i] = 0.4
	}
	out := GaussianBlur(p, 1.5)
	for i, v := range out.Pix {
		assert.InDelta(t, 0.4, v, 1e-12, "pixel %d", i)
	}
}

func TestGaussianBlurDoesNotMutateInput(t *testing.T) {
	p := noisePlane(16, 16, 4)
	orig := p.Clone()
	_ = GaussianBlur(p, 2)
	_ = Laplace(p)
	assert.Equal(t, orig.Pix, p.Pix)
}

func TestLaplaceOfConstantIsZero(t *testing.T) {
	p := models.NewPlane(5, 5)
	for i := range p.Pix {
		p.Pix[i] = 3
	}
	for _, v := range Laplace(p).Pix {
		assert.Equal(t, 0.0, v)
	}
}

func TestLaplaceImpulse(t *testing.T) {
	p := models.NewPlane(5, 5)
	p.Set(2, 2, 1)
	out := Laplace(p)
	assert.Equal(t, -4.0, out.At(2, 2))
	assert.Equal(t, 1.0, out.At(1, 2))
	assert.Equal(t, 1.0, out.At(2, 3))
	assert.Equal(t, 0.0, out.At(1, 1))
}

func TestPreprocessDisabledReturnsInput(t *testing.T) {
	p := noisePlane(8, 8, 2)
	assert.False(t, Filter{}.Enabled())
	assert.Same(t, p, Preprocess(p, Filter{}))
	assert.True(t, Filter{Sigma: 1}.Enabled())
}
