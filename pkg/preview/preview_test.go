package preview

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"tilereg/internal/models"
	"tilereg/pkg/registration"
	"tilereg/pkg/tilegraph"
)

func pairGraph(t *testing.T) *tilegraph.Graph {
	t.Helper()
	g, err := tilegraph.Build([]models.Tile{
		{Index: 0, Nominal: r2.Vec{}, Width: 100, Height: 100},
		{Index: 1, Nominal: r2.Vec{X: 90}, Width: 100, Height: 100},
	}, tilegraph.Options{})
	require.NoError(t, err)
	require.Len(t, g.Edges, 1)
	return g
}

func TestRenderColorsEdges(t *testing.T) {
	g := pairGraph(t)
	g.Edges[0].Shift = &r2.Vec{}
	g.Edges[0].Error = 0.1
	f, err := registration.Resolve(g)
	require.NoError(t, err)

	img := Render(g, f, 1)
	assert.Equal(t, 190+2*padding, img.Bounds().Dx())
	assert.Equal(t, 100+2*padding, img.Bounds().Dy())

	// Midway between the tile centres, on the edge line
	assert.Equal(t, color.RGBAModel.Convert(treeColor), color.RGBAModel.Convert(img.At(103, 58)))
	assert.Equal(t, color.RGBAModel.Convert(background), color.RGBAModel.Convert(img.At(1, 1)))
}

func TestRenderMarksFallbackAndInvalid(t *testing.T) {
	g := pairGraph(t)
	g.Edges[0].Shift = &r2.Vec{}
	g.Edges[0].Error = 0.1
	g.Invalidate(0)
	f, err := registration.Resolve(g)
	require.NoError(t, err)

	img := Render(g, f, 1)
	assert.Equal(t, color.RGBAModel.Convert(fallback), color.RGBAModel.Convert(img.At(103, 58)))
}

func TestRenderScalesAndSaves(t *testing.T) {
	g := pairGraph(t)
	f, err := registration.Resolve(g)
	require.NoError(t, err)

	img := Render(g, f, 0.5)
	assert.Equal(t, 95+2*padding, img.Bounds().Dx())

	path := filepath.Join(t.TempDir(), "layout.png")
	require.NoError(t, SavePNG(path, img))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
