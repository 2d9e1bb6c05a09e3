// Package rasterio reads ground models and writes run products.
package rasterio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/banshee-data/canopy.report/internal/canopy/quicklook"
	"github.com/banshee-data/canopy.report/internal/canopy/raster"
)

// Product names written by a run. Statistics are written as
// "stats_<metric>".
const (
	ProductGround  = "ground"
	ProductCSM     = "csm"
	ProductBasins  = "basins"
	ProductDensity = "density"
	StatsPrefix    = "stats_"
)

// Sink receives tile products. Implementations are safe for concurrent
// use; each (product, tile) pair is written once.
type Sink interface {
	WriteFloat(product string, tile int, r *raster.Raster[float32]) error
	WriteInt(product string, tile int, r *raster.Raster[int64]) error
}

// TileKey addresses one product of one tile.
type TileKey struct {
	Product string
	Tile    int
}

// MemorySink keeps every product in memory.
type MemorySink struct {
	mu     sync.Mutex
	floats map[TileKey]*raster.Raster[float32]
	ints   map[TileKey]*raster.Raster[int64]
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		floats: make(map[TileKey]*raster.Raster[float32]),
		ints:   make(map[TileKey]*raster.Raster[int64]),
	}
}

func (s *MemorySink) WriteFloat(product string, tile int, r *raster.Raster[float32]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.floats[TileKey{product, tile}] = r
	return nil
}

func (s *MemorySink) WriteInt(product string, tile int, r *raster.Raster[int64]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ints[TileKey{product, tile}] = r
	return nil
}

// Float returns a written float product.
func (s *MemorySink) Float(product string, tile int) (*raster.Raster[float32], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.floats[TileKey{product, tile}]
	return r, ok
}

// Int returns a written integer product.
func (s *MemorySink) Int(product string, tile int) (*raster.Raster[int64], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.ints[TileKey{product, tile}]
	return r, ok
}

// Keys lists every written product in product, tile order.
func (s *MemorySink) Keys() []TileKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]TileKey, 0, len(s.floats)+len(s.ints))
	for k := range s.floats {
		keys = append(keys, k)
	}
	for k := range s.ints {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Product != keys[j].Product {
			return keys[i].Product < keys[j].Product
		}
		return keys[i].Tile < keys[j].Tile
	})
	return keys
}

// DirSink writes each product as <dir>/<product>/tile_<n>.gob.gz, with an
// optional PNG quicklook next to surface products.
type DirSink struct {
	Dir       string
	Quicklook bool
}

// NewDirSink creates dir if needed.
func NewDirSink(dir string, quicklook bool) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", dir, err)
	}
	return &DirSink{Dir: dir, Quicklook: quicklook}, nil
}

// TilePath returns the path a product is written to.
func (s *DirSink) TilePath(product string, tile int) string {
	return filepath.Join(s.Dir, product, fmt.Sprintf("tile_%05d.gob.gz", tile))
}

func (s *DirSink) WriteFloat(product string, tile int, r *raster.Raster[float32]) error {
	if err := writeBlob(s.TilePath(product, tile), r); err != nil {
		return err
	}
	if s.Quicklook && product == ProductCSM {
		return s.writeQuicklook(product, tile, r)
	}
	return nil
}

func (s *DirSink) WriteInt(product string, tile int, r *raster.Raster[int64]) error {
	return writeBlob(s.TilePath(product, tile), r)
}

func (s *DirSink) writeQuicklook(product string, tile int, r *raster.Raster[float32]) error {
	p := filepath.Join(s.Dir, product, fmt.Sprintf("tile_%05d.png", tile))
	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("create quicklook: %w", err)
	}
	if err := quicklook.Render(f, r, fmt.Sprintf("%s tile %d", product, tile)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeBlob[T raster.Number](path string, r *raster.Raster[T]) error {
	blob, err := raster.Encode(r)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create product directory: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
