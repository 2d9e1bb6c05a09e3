package tiling

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/canopy.report/internal/canopy/raster"
)

func TestShardPool_ShardInRange(t *testing.T) {
	p := NewShardPool(7)
	seen := map[int]bool{}
	for k := uint64(0); k < 1000; k++ {
		s := p.Shard(k)
		require.GreaterOrEqual(t, s, 0)
		require.Less(t, s, 7)
		seen[s] = true
	}
	assert.Len(t, seen, 7, "every shard should be used")
	assert.Equal(t, 1, NewShardPool(0).Size())
}

func TestShardedRaster_ConcurrentSums(t *testing.T) {
	a := raster.Alignment{OriginY: 4, CellSize: 1, Rows: 4, Cols: 4}
	sr := NewShardedRaster[int64](a, NewShardPool(3))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				sr.Update(i%4, (i/4)%4, func(v int64, _ bool) (int64, bool) { return v + 1, true })
			}
		}()
	}
	wg.Wait()

	snap := sr.Snapshot()
	var total int64
	for i, v := range snap.Values {
		require.True(t, snap.Valid[i])
		total += v
	}
	assert.Equal(t, int64(8000), total)

	sr.Update(-1, 0, func(v int64, _ bool) (int64, bool) { return 99, true })
	assert.Equal(t, a, sr.Alignment())
}

func TestShardedMarkers_LowestTileWins(t *testing.T) {
	m := NewShardedMarkers(NewShardPool(4))
	k := MarkerKey{Col: 10, Row: -3}

	var wg sync.WaitGroup
	for tile := 5; tile >= 1; tile-- {
		wg.Add(1)
		go func(tile int) {
			defer wg.Done()
			m.Claim(k, Claim{Tile: tile, ID: int64(100 + tile)})
		}(tile)
	}
	wg.Wait()

	c, ok := m.Lookup(k)
	require.True(t, ok)
	assert.Equal(t, Claim{Tile: 1, ID: 101}, c)
	assert.Equal(t, 1, m.Len())
	_, ok = m.Lookup(MarkerKey{})
	assert.False(t, ok)
}

func TestWorkCounter_EachUnitOnce(t *testing.T) {
	c := NewWorkCounter(3)
	for want := 0; want < 3; want++ {
		got, ok := c.Claim()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := c.Claim()
	assert.False(t, ok)
}

func TestPool_RunsEveryUnitOnce(t *testing.T) {
	var mu sync.Mutex
	var got []int
	err := NewPool(4).Run(context.Background(), 50, func(_ context.Context, unit int) error {
		mu.Lock()
		got = append(got, unit)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	sort.Ints(got)
	require.Len(t, got, 50)
	for i, u := range got {
		assert.Equal(t, i, u)
	}
}

func TestPool_ErrorStopsRun(t *testing.T) {
	boom := errors.New("boom")
	var ran atomic.Int32
	err := NewPool(1).Run(context.Background(), 10, func(_ context.Context, unit int) error {
		ran.Add(1)
		if unit == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(3), ran.Load())
}

func TestPool_AbortCompletesInFlightUnit(t *testing.T) {
	p := NewPool(1)
	var done atomic.Int32
	err := p.Run(context.Background(), 10, func(_ context.Context, unit int) error {
		if unit == 1 {
			p.Abort()
		}
		done.Add(1)
		return nil
	})
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, int32(2), done.Load())
	assert.True(t, p.Aborted())

	p.Reset()
	assert.False(t, p.Aborted())
	require.NoError(t, p.Run(context.Background(), 3, func(context.Context, int) error { return nil }))
}

func TestPool_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewPool(2).Run(ctx, 5, func(context.Context, int) error {
		t.Fatal("no unit should run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLayout(t *testing.T) {
	l, err := NewLayout(raster.Extent{XMin: 0, YMin: 0, XMax: 25, YMax: 20}, 10, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Rows)
	assert.Equal(t, 3, l.Cols)
	assert.Equal(t, 6, l.Count())

	assert.Equal(t, raster.Extent{XMin: 0, YMin: 10, XMax: 10, YMax: 20}, l.TileExtent(0))
	assert.Equal(t, raster.Extent{XMin: 20, YMin: 0, XMax: 30, YMax: 10}, l.TileExtent(5))
	assert.Equal(t, raster.Extent{XMin: 8, YMin: 8, XMax: 22, YMax: 22}, l.BufferedExtent(1))

	// Files near a tile corner reach the neighbours through their buffers.
	assert.Equal(t, []int{0}, l.TilesOverlapping(raster.Extent{XMin: 1, YMin: 13, XMax: 7, YMax: 19}))
	assert.Equal(t, []int{0, 1, 3, 4}, l.TilesOverlapping(raster.Extent{XMin: 7, YMin: 11, XMax: 9, YMax: 12}))
}

func TestNewLayout_Errors(t *testing.T) {
	ext := raster.Extent{XMax: 10, YMax: 10}
	_, err := NewLayout(ext, 0, 1)
	assert.ErrorIs(t, err, raster.ErrConfiguration)
	_, err = NewLayout(ext, 5, -1)
	assert.ErrorIs(t, err, raster.ErrConfiguration)
	_, err = NewLayout(raster.EmptyExtent(), 5, 1)
	assert.ErrorIs(t, err, raster.ErrData)
}

func TestBufferFor(t *testing.T) {
	assert.Equal(t, 20.0, BufferFor(5, 1, 20, 2))
	assert.Equal(t, 5.0, BufferFor(5, 1))
}

func TestReconcileAndApply(t *testing.T) {
	claims := NewShardedMarkers(NewShardPool(2))
	shared := KeyOf(10.5, 10.5, 1)
	only1 := KeyOf(3.2, 4.7, 1)

	t0 := TileMarkers{Tile: 0, Markers: map[MarkerKey]int64{shared: 2}}
	t1 := TileMarkers{Tile: 1, Markers: map[MarkerKey]int64{shared: 3, only1: 5}}
	for _, tm := range []TileMarkers{t1, t0} {
		for k, id := range tm.Markers {
			claims.Claim(k, Claim{Tile: tm.Tile, ID: id})
		}
	}

	remaps := Reconcile(claims, []TileMarkers{t0, t1})
	assert.Equal(t, map[int]Remap{1: {3: 2}}, remaps)

	labels := raster.New[int64](raster.Alignment{OriginY: 1, CellSize: 1, Rows: 1, Cols: 4})
	for i, v := range []int64{3, 5, 0, 3} {
		labels.Values[i] = v
		labels.Valid[i] = true
	}
	labels.Valid[3] = false
	n := ApplyRemap(labels, remaps[1])
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{2, 5, 0, 3}, labels.Values)
	assert.Equal(t, 0, ApplyRemap(labels, remaps[0]))
}

func TestKeyOf_SnapsToLattice(t *testing.T) {
	assert.Equal(t, KeyOf(10.1, 3.9, 0.5), KeyOf(10.4, 3.6, 0.5))
	assert.NotEqual(t, KeyOf(10.1, 3.9, 0.5), KeyOf(10.6, 3.9, 0.5))
	assert.Equal(t, MarkerKey{Col: -1, Row: -2}, KeyOf(-0.5, -1.5, 1))
}
