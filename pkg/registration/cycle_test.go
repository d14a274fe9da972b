package registration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"tilereg/internal/models"
)

// mosaicOf places every tile of c at its ground truth position.
func mosaicOf(s *scene, c models.Cycle) CycleMosaic {
	return CycleMosaic{Cycle: c, Tiles: c.Tiles, Positions: s.truth}
}

func TestCycleAlignerReferenceIsIdentity(t *testing.T) {
	s := newScene(3, 3, 21)
	ref := mosaicOf(s, s.cycle(0, r2.Vec{}, nil))

	al, err := NewCycleAligner(testParams()).Align(ref, ref)
	require.NoError(t, err)
	assert.Equal(t, CycleReference, al.Status)
	assert.Equal(t, r2.Vec{}, al.Translation)
}

func TestCycleAlignerIdenticalContent(t *testing.T) {
	s := newScene(3, 3, 22)
	ref := mosaicOf(s, s.cycle(0, r2.Vec{}, nil))
	target := mosaicOf(s, s.cycle(1, r2.Vec{}, nil))

	al, err := NewCycleAligner(testParams()).Align(ref, target)
	require.NoError(t, err)
	assert.Equal(t, CycleAligned, al.Status)
	assert.Equal(t, r2.Vec{}, al.Translation)
	assert.Less(t, al.Error, 0.01)
}

func TestCycleAlignerRecoversTranslation(t *testing.T) {
	s := newScene(3, 3, 23)
	drift := r2.Vec{X: 3, Y: -2}
	ref := mosaicOf(s, s.cycle(0, r2.Vec{}, nil))
	target := mosaicOf(s, s.cycle(1, drift, nil))

	for _, region := range []Region{RegionFull, RegionCenter} {
		params := testParams()
		params.Cycle.Region = region
		al, err := NewCycleAligner(params).Align(ref, target)
		require.NoError(t, err)
		assert.Equal(t, CycleAligned, al.Status, "region %s", region)
		assert.InDelta(t, drift.X, al.Translation.X, 0.5, "region %s", region)
		assert.InDelta(t, drift.Y, al.Translation.Y, 0.5, "region %s", region)
		assert.Equal(t, ref.Cycle.Tiles[0].Width*3-2*overlap, al.Canvas.Width)
	}
}

func TestCycleAlignerShiftPolicies(t *testing.T) {
	s := newScene(3, 3, 24)
	drift := r2.Vec{X: 6, Y: 8}
	ref := mosaicOf(s, s.cycle(0, r2.Vec{}, nil))
	target := mosaicOf(s, s.cycle(1, drift, nil))

	params := testParams()
	params.MaxShift = 5
	al, err := NewCycleAligner(params).Align(ref, target)
	require.NoError(t, err)
	assert.Equal(t, CycleRejected, al.Status)
	assert.Equal(t, r2.Vec{}, al.Translation)
	assert.InDelta(t, -6, al.Shift.X, 0.5)
	assert.InDelta(t, -8, al.Shift.Y, 0.5)

	params.Cycle.ShiftPolicy = ShiftClamp
	al, err = NewCycleAligner(params).Align(ref, target)
	require.NoError(t, err)
	assert.Equal(t, CycleClamped, al.Status)
	assert.InDelta(t, 5, r2.Norm(al.Translation), 1e-9)
	assert.InDelta(t, 3, al.Translation.X, 0.3)
	assert.InDelta(t, 4, al.Translation.Y, 0.3)
}

func TestCycleAlignerBlankTargetFails(t *testing.T) {
	s := newScene(2, 2, 25)
	ref := mosaicOf(s, s.cycle(0, r2.Vec{}, nil))
	target := s.cycle(1, r2.Vec{}, nil)
	blank := models.NewMemorySource()
	for _, tile := range target.Tiles {
		blank.Put(tile.Index, 0, models.NewPlane(tileSize, tileSize))
	}
	target.Source = blank

	al, err := NewCycleAligner(testParams()).Align(ref, mosaicOf(s, target))
	require.NoError(t, err)
	assert.Equal(t, CycleFailed, al.Status)
	assert.Equal(t, r2.Vec{}, al.Translation)
}

func TestCycleAlignerMissingPlane(t *testing.T) {
	s := newScene(2, 1, 26)
	ref := mosaicOf(s, s.cycle(0, r2.Vec{}, nil))
	target := s.cycle(1, r2.Vec{}, nil)
	target.Source = models.NewMemorySource()

	_, err := NewCycleAligner(testParams()).Align(ref, mosaicOf(s, target))
	assert.ErrorIs(t, err, models.ErrPlaneNotFound)
}

func TestCycleAlignerRefinesTiles(t *testing.T) {
	s := newScene(3, 3, 27)
	drift := r2.Vec{X: 3, Y: -2}
	ref := mosaicOf(s, s.cycle(0, r2.Vec{}, nil))
	target := s.cycle(1, drift, nil)

	// Tile 2 carries an extra local offset on top of the cycle drift
	extra := r2.Vec{X: 1, Y: 1}
	target.Source.(*models.MemorySource).Put(2, 0,
		cut(s.world, r2.Add(r2.Add(s.truth[2], drift), extra), tileSize, tileSize))

	params := testParams()
	params.Cycle.RefineTiles = true
	al, err := NewCycleAligner(params).Align(ref, mosaicOf(s, target))
	require.NoError(t, err)
	require.Equal(t, CycleAligned, al.Status)
	assert.InDelta(t, drift.X, al.Translation.X, 0.5)
	assert.InDelta(t, drift.Y, al.Translation.Y, 0.5)

	require.Len(t, al.TileCorrections, 9)
	assert.InDelta(t, extra.X, al.TileCorrections[2].X, 0.5)
	assert.InDelta(t, extra.Y, al.TileCorrections[2].Y, 0.5)
	for k, c := range al.TileCorrections {
		if k == 2 {
			continue
		}
		assert.Equal(t, r2.Vec{}, c, "tile %d", k)
	}
	assert.Equal(t, 1, al.Refined)
}

func TestCycleAlignerReusesReference(t *testing.T) {
	s := newScene(2, 2, 28)
	ref := mosaicOf(s, s.cycle(0, r2.Vec{}, nil))
	a := NewCycleAligner(testParams())

	for i, drift := range []r2.Vec{{X: 1}, {Y: -2}, {X: -3, Y: 2}} {
		al, err := a.Align(ref, mosaicOf(s, s.cycle(i+1, drift, nil)))
		require.NoError(t, err)
		assert.InDelta(t, drift.X, al.Translation.X, 0.5, "cycle %d", i+1)
		assert.InDelta(t, drift.Y, al.Translation.Y, 0.5, "cycle %d", i+1)
	}
	assert.Equal(t, 0, a.refIndex)
}
