package l2stats

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/canopy.report/internal/canopy/l1points"
	"github.com/banshee-data/canopy.report/internal/canopy/raster"
)

func TestStatsGrid_MetricsAndMerge(t *testing.T) {
	cfg := mustConfig(t, 2, 50, 1)
	a := raster.Alignment{OriginX: 0, OriginY: 20, CellSize: 10, Rows: 2, Cols: 2}

	g := NewStatsGrid(a, cfg)
	n := g.Add([]l1points.Point{
		{X: 1, Y: 19, Z: 10}, {X: 2, Y: 18, Z: 12}, {X: 3, Y: 17, Z: 0.5},
		{X: 15, Y: 5, Z: 30},
		{X: 100, Y: 100, Z: 3}, // outside
	})
	assert.Equal(t, 4, n)

	count, err := g.Metric(MetricCount)
	require.NoError(t, err)
	v, ok := count.Get(0, 0)
	assert.True(t, ok)
	assert.Equal(t, float32(3), v)
	_, ok = count.Get(0, 1)
	assert.False(t, ok, "cell without points must be absent")

	cover, err := g.Metric(MetricCover)
	require.NoError(t, err)
	v, _ = cover.Get(0, 0)
	assert.InDelta(t, 66.666, v, 0.01)

	p50, err := g.Metric(MetricP50)
	require.NoError(t, err)
	_, ok = p50.Get(0, 0)
	assert.False(t, ok, "two canopy points cannot yield a percentile")

	// Merge a grid shifted by one cell on the same lattice.
	shifted := NewStatsGrid(raster.Alignment{OriginX: 10, OriginY: 20, CellSize: 10, Rows: 1, Cols: 2}, cfg)
	shifted.Add([]l1points.Point{{X: 12, Y: 15, Z: 20}, {X: 25, Y: 15, Z: 20}})
	require.NoError(t, g.Merge(shifted))
	assert.Equal(t, uint64(1), g.Cell(0, 1).Count())

	_, err = g.Metric("nope")
	assert.True(t, errors.Is(err, raster.ErrConfiguration))
}

func TestStatsGrid_EncodeDecode(t *testing.T) {
	cfg := mustConfig(t, 2, 50, 0.5)
	a := raster.Alignment{OriginX: 0, OriginY: 10, CellSize: 5, Rows: 2, Cols: 2}
	g := NewStatsGrid(a, cfg)
	g.Add([]l1points.Point{{X: 1, Y: 9, Z: 10}, {X: 1, Y: 9, Z: 11}, {X: 6, Y: 1, Z: 1}})

	blob, err := g.Encode()
	require.NoError(t, err)

	back, err := DecodeStatsGrid(blob, cfg)
	require.NoError(t, err)
	assert.Equal(t, a, back.Alignment)
	assert.Equal(t, uint64(2), back.Cell(0, 0).CanopyCount())
	assert.Equal(t, uint64(1), back.Cell(1, 1).Count())
	assert.Nil(t, back.Cell(0, 1))

	_, err = DecodeStatsGrid(blob, mustConfig(t, 2, 50, 1))
	assert.ErrorIs(t, err, raster.ErrConfiguration)
}
