package registration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"tilereg/internal/models"
)

func TestProcessValidation(t *testing.T) {
	s := newScene(2, 1, 31)
	good := s.cycle(0, r2.Vec{}, nil)

	tests := []struct {
		name   string
		params func(*Params)
		cycles func() []models.Cycle
		want   error
	}{
		{
			name:   "no cycles",
			cycles: func() []models.Cycle { return nil },
			want:   ErrNoCycles,
		},
		{
			name:   "zero max shift",
			params: func(p *Params) { p.MaxShift = 0 },
			want:   ErrInvalidMaxShift,
		},
		{
			name:   "negative max shift",
			params: func(p *Params) { p.MaxShift = -3 },
			want:   ErrInvalidMaxShift,
		},
		{
			name:   "channel out of range",
			params: func(p *Params) { p.AlignChannel = 1 },
			want:   ErrInvalidChannel,
		},
		{
			name: "empty cycle",
			cycles: func() []models.Cycle {
				c := good
				c.Tiles = nil
				return []models.Cycle{good, c}
			},
			want: ErrNoTiles,
		},
		{
			name: "zero pixel size",
			cycles: func() []models.Cycle {
				c := good
				c.PixelSize = 0
				return []models.Cycle{c}
			},
			want: ErrInvalidPixelSize,
		},
		{
			name: "duplicate cycle index",
			cycles: func() []models.Cycle {
				return []models.Cycle{good, good}
			},
			want: ErrDuplicateCycle,
		},
		{
			name: "no source",
			cycles: func() []models.Cycle {
				c := good
				c.Source = nil
				return []models.Cycle{c}
			},
			want: ErrNoSource,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := testParams()
			if tt.params != nil {
				tt.params(&params)
			}
			cycles := []models.Cycle{good}
			if tt.cycles != nil {
				cycles = tt.cycles()
			}
			res, err := NewRegistrar(params).Process(cycles)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, res)
		})
	}
}

func TestDefaultParamsCorrelateCentralCrop(t *testing.T) {
	p := DefaultParams()
	require.NoError(t, p.Validate())
	assert.Equal(t, RegionCenter, p.Cycle.Region)
	assert.Equal(t, 0.5, p.Cycle.CenterFraction)
	assert.Equal(t, ShiftReject, p.Cycle.ShiftPolicy)
}

func TestProcessSingleCycleCorrectsDisplacedTile(t *testing.T) {
	s := newScene(3, 3, 32)
	c := s.cycle(0, r2.Vec{}, map[int]r2.Vec{5: {X: 2}})

	res, err := NewRegistrar(testParams()).Process([]models.Cycle{c})
	require.NoError(t, err)
	require.Len(t, res.Cycles, 1)

	cr := res.Cycles[0]
	assert.Equal(t, CycleReference, cr.Alignment.Status)
	assert.Equal(t, r2.Vec{}, cr.Translation)
	assert.Equal(t, 20, cr.Diagnostics.Edges)
	assert.Equal(t, 1, cr.Diagnostics.Components)
	assert.Equal(t, 0, cr.Diagnostics.Count(WarnDisconnected))
	assert.Equal(t, []int{4}, cr.Forest.Roots)

	for k, want := range s.truth {
		got, ok := cr.Position(k)
		require.True(t, ok)
		assert.InDelta(t, want.X, got.X, 0.5, "tile %d", k)
		assert.InDelta(t, want.Y, got.Y, 0.5, "tile %d", k)
	}
	// Nominal positions are input data
	assert.Equal(t, r2.Add(s.truth[5], r2.Vec{X: 2}), c.Tiles[5].Nominal)
}

func TestProcessTwoCycles(t *testing.T) {
	s := newScene(3, 3, 33)
	drift := r2.Vec{X: 3, Y: -2}

	// Stage jitter on every tile but the centre, which roots both cycles
	jitter0 := map[int]r2.Vec{
		0: {X: 1}, 1: {Y: -1}, 2: {X: -2, Y: 1}, 3: {X: 1, Y: 1},
		5: {X: 2}, 6: {Y: 2}, 7: {X: -1}, 8: {X: 1, Y: -2},
	}
	jitter1 := map[int]r2.Vec{
		0: {Y: 2}, 1: {X: 2}, 2: {X: 1, Y: -1}, 3: {X: -2},
		5: {Y: -1}, 6: {X: 1, Y: 1}, 7: {X: 2, Y: -1}, 8: {Y: 1},
	}
	cycles := []models.Cycle{
		s.cycle(0, r2.Vec{}, jitter0),
		s.cycle(1, drift, jitter1),
	}

	res, err := NewRegistrar(testParams()).Process(cycles)
	require.NoError(t, err)
	require.Len(t, res.Cycles, 2)

	ref, moved := res.Cycles[0], res.Cycles[1]
	assert.Equal(t, CycleAligned, moved.Alignment.Status)
	assert.InDelta(t, drift.X, moved.Translation.X, 1)
	assert.InDelta(t, drift.Y, moved.Translation.Y, 1)

	for k, want := range s.truth {
		got, ok := ref.Position(k)
		require.True(t, ok)
		assert.InDelta(t, want.X, got.X, 1, "cycle 0 tile %d", k)
		assert.InDelta(t, want.Y, got.Y, 1, "cycle 0 tile %d", k)

		got, ok = moved.Position(k)
		require.True(t, ok)
		assert.InDelta(t, want.X+drift.X, got.X, 1, "cycle 1 tile %d", k)
		assert.InDelta(t, want.Y+drift.Y, got.Y, 1, "cycle 1 tile %d", k)
	}
	assert.Empty(t, res.Warnings())
}

func TestProcessRequiresDistinctCycleIndices(t *testing.T) {
	s := newScene(3, 3, 36)
	drift := r2.Vec{X: 3, Y: -2}

	// Both cycles left at index 0
	cycles := []models.Cycle{
		s.cycle(0, r2.Vec{}, nil),
		s.cycle(0, drift, nil),
	}
	res, err := NewRegistrar(testParams()).Process(cycles)
	require.ErrorIs(t, err, ErrDuplicateCycle)
	assert.Nil(t, res)

	cycles[1].Index = 1
	res, err = NewRegistrar(testParams()).Process(cycles)
	require.NoError(t, err)
	moved := res.Cycles[1]
	assert.Equal(t, CycleAligned, moved.Alignment.Status)
	assert.InDelta(t, drift.X, moved.Translation.X, 1)
	assert.InDelta(t, drift.Y, moved.Translation.Y, 1)
}

func TestProcessRejectsLargeCycleDrift(t *testing.T) {
	s := newScene(3, 2, 34)
	drift := r2.Vec{X: 12}
	cycles := []models.Cycle{
		s.cycle(0, r2.Vec{}, nil),
		s.cycle(1, drift, nil),
	}

	params := testParams()
	params.MaxShift = 5
	res, err := NewRegistrar(params).Process(cycles)
	require.NoError(t, err)

	moved := res.Cycles[1]
	assert.Equal(t, CycleRejected, moved.Alignment.Status)
	assert.Equal(t, r2.Vec{}, moved.Translation)
	assert.Equal(t, 1, moved.Diagnostics.Count(WarnCycleRejected))

	warnings := res.Warnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, WarnCycleRejected, warnings[0].Kind)
	assert.Equal(t, 1, warnings[0].Cycle)
	assert.Equal(t, -1, warnings[0].Tile)

	for k, want := range s.truth {
		got, _ := moved.Position(k)
		assert.InDelta(t, want.X, got.X, 0.5, "tile %d", k)
		assert.InDelta(t, want.Y, got.Y, 0.5, "tile %d", k)
	}
}

func TestProcessReportsExcessiveEdgeShift(t *testing.T) {
	s := newScene(3, 1, 35)
	c := s.cycle(0, r2.Vec{}, map[int]r2.Vec{2: {Y: 4}})

	params := testParams()
	params.MaxShift = 2
	res, err := NewRegistrar(params).Process([]models.Cycle{c})
	require.NoError(t, err)

	d := res.Cycles[0].Diagnostics
	assert.Equal(t, 1, d.Rejected)
	assert.Equal(t, 1, d.Fallback)
	require.Equal(t, 1, d.Count(WarnExcessiveShift))
	assert.Equal(t, 2, d.Warnings[0].Tile)

	// Without a trusted measurement tile 2 stays at its nominal offset
	got, _ := res.Cycles[0].Position(2)
	assert.Equal(t, c.Tiles[2].Nominal, got)
}

func TestProcessDisconnectedCycle(t *testing.T) {
	s := newScene(2, 1, 36)
	c := s.cycle(0, r2.Vec{}, nil)
	far := models.Tile{Index: 7, Nominal: r2.Vec{X: 2000, Y: 2000}, Width: tileSize, Height: tileSize}
	c.Tiles = append(c.Tiles, far)
	c.Source.(*models.MemorySource).Put(7, 0, noiseWorld(tileSize, tileSize, 99))

	res, err := NewRegistrar(testParams()).Process([]models.Cycle{c})
	require.NoError(t, err)

	cr := res.Cycles[0]
	assert.Equal(t, 2, cr.Diagnostics.Components)
	assert.True(t, cr.Diagnostics.Disconnected())
	assert.Equal(t, 1, cr.Diagnostics.Count(WarnDisconnected))
	got, _ := cr.Position(7)
	assert.Equal(t, far.Nominal, got)
}

func TestProcessMissingPlane(t *testing.T) {
	s := newScene(2, 1, 37)
	c := s.cycle(0, r2.Vec{}, nil)
	c.Source = models.NewMemorySource()

	_, err := NewRegistrar(testParams()).Process([]models.Cycle{c})
	assert.ErrorIs(t, err, models.ErrPlaneNotFound)
}

func TestProcessPlaneSizeMismatch(t *testing.T) {
	s := newScene(2, 1, 38)
	c := s.cycle(0, r2.Vec{}, nil)
	c.Source.(*models.MemorySource).Put(1, 0, models.NewPlane(tileSize, tileSize/2))

	_, err := NewRegistrar(testParams()).Process([]models.Cycle{c})
	assert.ErrorIs(t, err, ErrPlaneSize)
}
