package l1points

import (
	"fmt"
	"io"

	"github.com/banshee-data/canopy.report/internal/canopy/raster"
)

// MemorySource serves point sets held in memory, keyed by path.
type MemorySource struct {
	Files map[string][]Point
	CRS   string
}

// NewMemorySource returns an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{Files: make(map[string][]Point)}
}

// Add registers pts under path.
func (s *MemorySource) Add(path string, pts []Point) {
	s.Files[path] = pts
}

// Open implements Source.
func (s *MemorySource) Open(path string) (Reader, error) {
	pts, ok := s.Files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: no such file: %w", path, raster.ErrData)
	}
	ext := ExtentOf(pts)
	return &sliceReader{
		header: Header{Path: path, Extent: ext, CRS: s.CRS, Count: int64(len(pts))},
		pts:    pts,
	}, nil
}

type sliceReader struct {
	header Header
	pts    []Point
	pos    int
}

func (r *sliceReader) Header() Header { return r.header }

func (r *sliceReader) ReadBatch(max int) ([]Point, error) {
	if r.pos >= len(r.pts) {
		return nil, io.EOF
	}
	end := r.pos + max
	if end > len(r.pts) {
		end = len(r.pts)
	}
	out := make([]Point, end-r.pos)
	copy(out, r.pts[r.pos:end])
	r.pos = end
	return out, nil
}

func (r *sliceReader) Close() error { return nil }
