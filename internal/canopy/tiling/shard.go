package tiling

import (
	"sync"

	"github.com/banshee-data/canopy.report/internal/canopy/raster"
)

// ShardPool is a fixed array of mutexes. A cell is guarded by the mutex at
// Shard(cell).
type ShardPool struct {
	locks []sync.Mutex
}

// NewShardPool returns a pool of n locks (at least one).
func NewShardPool(n int) *ShardPool {
	if n < 1 {
		n = 1
	}
	return &ShardPool{locks: make([]sync.Mutex, n)}
}

// Size returns the number of shards.
func (p *ShardPool) Size() int { return len(p.locks) }

// Shard maps a cell key to its lock using a Fibonacci hash so that
// neighbouring cells spread across shards.
func (p *ShardPool) Shard(key uint64) int {
	return int((key * 0x9E3779B97F4A7C15 >> 32) % uint64(len(p.locks)))
}

// With runs fn while holding the lock for key.
func (p *ShardPool) With(key uint64, fn func()) {
	mu := &p.locks[p.Shard(key)]
	mu.Lock()
	defer mu.Unlock()
	fn()
}

// ShardedRaster is a raster shared between workers. Update is the only
// way to mutate it.
type ShardedRaster[T raster.Number] struct {
	r    *raster.Raster[T]
	pool *ShardPool
}

// NewShardedRaster wraps a fresh raster over a.
func NewShardedRaster[T raster.Number](a raster.Alignment, pool *ShardPool) *ShardedRaster[T] {
	return &ShardedRaster[T]{r: raster.New[T](a), pool: pool}
}

// Alignment returns the shared raster's alignment.
func (s *ShardedRaster[T]) Alignment() raster.Alignment { return s.r.Alignment }

// Update applies fn to (row, col) under the cell's shard lock. fn receives
// the current value and whether it is set, and returns the new state.
// Out-of-bounds cells are ignored.
func (s *ShardedRaster[T]) Update(row, col int, fn func(v T, ok bool) (T, bool)) {
	if !s.r.InBounds(row, col) {
		return
	}
	i := s.r.Index(row, col)
	s.pool.With(uint64(i), func() {
		v, ok := fn(s.r.Values[i], s.r.Valid[i])
		s.r.Values[i] = v
		s.r.Valid[i] = ok
	})
}

// Snapshot returns a copy of the raster. Callers take it after the phase
// barrier, when no worker is updating.
func (s *ShardedRaster[T]) Snapshot() *raster.Raster[T] { return s.r.Clone() }

// MarkerKey identifies a marker by its coordinate snapped to the surface
// lattice.
type MarkerKey struct {
	Col int64
	Row int64
}

// Claim is a tile's local basin ID for a marker.
type Claim struct {
	Tile int
	ID   int64
}

// ShardedMarkers collects marker claims from concurrent tiles. For each
// key the claim with the lowest tile index is kept, so the result does not
// depend on arrival order.
type ShardedMarkers struct {
	pool   *ShardPool
	shards []map[MarkerKey]Claim
}

// NewShardedMarkers returns an empty collection guarded by pool.
func NewShardedMarkers(pool *ShardPool) *ShardedMarkers {
	shards := make([]map[MarkerKey]Claim, pool.Size())
	for i := range shards {
		shards[i] = make(map[MarkerKey]Claim)
	}
	return &ShardedMarkers{pool: pool, shards: shards}
}

func (k MarkerKey) hash() uint64 {
	return uint64(k.Row)*0x100000001B3 ^ uint64(k.Col)
}

// Claim records c for k.
func (m *ShardedMarkers) Claim(k MarkerKey, c Claim) {
	h := k.hash()
	m.pool.With(h, func() {
		shard := m.shards[m.pool.Shard(h)]
		if cur, ok := shard[k]; !ok || c.Tile < cur.Tile {
			shard[k] = c
		}
	})
}

// Lookup returns the winning claim for k.
func (m *ShardedMarkers) Lookup(k MarkerKey) (Claim, bool) {
	h := k.hash()
	var (
		c  Claim
		ok bool
	)
	m.pool.With(h, func() {
		c, ok = m.shards[m.pool.Shard(h)][k]
	})
	return c, ok
}

// Len returns the number of distinct keys claimed.
func (m *ShardedMarkers) Len() int {
	n := 0
	for i := range m.shards {
		m.pool.locks[i].Lock()
		n += len(m.shards[i])
		m.pool.locks[i].Unlock()
	}
	return n
}
