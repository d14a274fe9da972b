package correlate

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilereg/internal/models"
)

// noisePlane creates a deterministic uniform noise plane.
func noisePlane(width, height int, seed int64) *models.Plane {
	rng := rand.New(rand.NewSource(seed))
	p := models.NewPlane(width, height)
	for i := range p.Pix {
		p.Pix[i] = rng.Float64()
	}
	return p
}

// window cuts a width x height patch whose top-left corner is (x0, y0).
func window(t *testing.T, world *models.Plane, x0, y0, width, height int) *models.Plane {
	t.Helper()
	out := models.NewPlane(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			out.Set(x, y, world.At(x0+x, y0+y))
		}
	}
	return out
}

func TestAlignRecoversAxisAlignedShifts(t *testing.T) {
	world := noisePlane(128, 128, 7)
	shifts := [][2]int{
		{0, 0}, {3, 0}, {-3, 0}, {0, 5}, {0, -5}, {7, -2}, {-6, 4}, {12, 9},
	}
	for _, s := range shifts {
		a := window(t, world, 32, 32, 64, 48)
		// b(x) = a(x - s)
		b := window(t, world, 32-s[0], 32-s[1], 64, 48)

		res := Align(a, b, Options{})
		require.True(t, res.Ok(), "shift %v: correlation failed", s)
		assert.InDelta(t, float64(s[0]), res.Shift.X, 1, "shift %v x", s)
		assert.InDelta(t, float64(s[1]), res.Shift.Y, 1, "shift %v y", s)
		assert.GreaterOrEqual(t, res.Error, 0.0)
		assert.Less(t, res.Error, 1.0)
	}
}

func TestAlignIdenticalPatchesHasZeroError(t *testing.T) {
	a := noisePlane(40, 30, 3)
	res := Align(a, a.Clone(), Options{})
	require.True(t, res.Ok())
	assert.Equal(t, 0.0, res.Shift.X)
	assert.Equal(t, 0.0, res.Shift.Y)
	// Only the removed DC term keeps the peak below 1.
	assert.Less(t, res.Error, 0.01)
}

func TestAlignNarrowStrip(t *testing.T) {
	// Overlap strips between neighbouring tiles are long and thin.
	world := noisePlane(200, 200, 11)
	a := window(t, world, 50, 50, 10, 100)
	b := window(t, world, 48, 50, 10, 100)

	res := Align(a, b, Options{})
	require.True(t, res.Ok())
	assert.Equal(t, 2.0, res.Shift.X)
	assert.Equal(t, 0.0, res.Shift.Y)
}

func TestAlignPartialOverlapRaisesError(t *testing.T) {
	world := noisePlane(128, 128, 5)
	a := window(t, world, 40, 40, 32, 32)

	exact := Align(a, window(t, world, 40, 40, 32, 32), Options{})
	shifted := Align(a, window(t, world, 36, 40, 32, 32), Options{})
	require.True(t, exact.Ok())
	require.True(t, shifted.Ok())
	assert.Greater(t, shifted.Error, exact.Error)
}

func TestAlignBlankPatchFails(t *testing.T) {
	blank := models.NewPlane(32, 32)
	for i := range blank.Pix {
		blank.Pix[i] = 0.25
	}
	noise := noisePlane(32, 32, 1)

	for name, pair := range map[string][2]*models.Plane{
		"both blank":   {blank, blank.Clone()},
		"first blank":  {blank, noise},
		"second blank": {noise, blank},
		"all zero":     {models.NewPlane(32, 32), models.NewPlane(32, 32)},
	} {
		res := Align(pair[0], pair[1], Options{})
		assert.False(t, res.Ok(), name)
		assert.True(t, math.IsInf(res.Error, 1), name)
		assert.Equal(t, 0.0, res.Shift.X, name)
		assert.Equal(t, 0.0, res.Shift.Y, name)
	}
}

func TestAlignRejectsMismatchedShapes(t *testing.T) {
	res := Align(noisePlane(16, 16, 1), noisePlane(16, 17, 2), Options{})
	assert.True(t, math.IsInf(res.Error, 1))

	res = Align(noisePlane(1, 16, 1), noisePlane(1, 16, 2), Options{})
	assert.True(t, math.IsInf(res.Error, 1))

	res = Align(nil, noisePlane(4, 4, 2), Options{})
	assert.False(t, res.Ok())
}

func TestAlignIsDeterministic(t *testing.T) {
	world := noisePlane(96, 96, 21)
	a := window(t, world, 20, 20, 50, 50)
	b := window(t, world, 17, 24, 50, 50)

	first := Align(a, b, Options{Subpixel: true})
	second := Align(a, b, Options{Subpixel: true})
	assert.Equal(t, first, second)
}

func TestAlignSubpixelStaysNearIntegerPeak(t *testing.T) {
	world := noisePlane(96, 96, 13)
	a := window(t, world, 20, 20, 48, 48)
	b := window(t, world, 16, 23, 48, 48)

	res := Align(a, b, Options{Subpixel: true})
	require.True(t, res.Ok())
	assert.InDelta(t, 4, res.Shift.X, 0.5)
	assert.InDelta(t, -3, res.Shift.Y, 0.5)
}

func TestAlignWithPreprocessing(t *testing.T) {
	world := noisePlane(128, 128, 17)
	a := window(t, world, 30, 30, 64, 64)
	b := window(t, world, 25, 33, 64, 64)

	for _, f := range []Filter{{Sigma: 1}, {Whiten: true}, {Sigma: 1.5, Whiten: true}} {
		res := Align(Preprocess(a, f), Preprocess(b, f), Options{})
		require.True(t, res.Ok(), "%+v", f)
		assert.InDelta(t, 5, res.Shift.X, 1, "%+v", f)
		assert.InDelta(t, -3, res.Shift.Y, 1, "%+v", f)
	}
}
