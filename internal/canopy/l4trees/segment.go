package l4trees

import (
	"fmt"

	"github.com/banshee-data/canopy.report/internal/canopy/raster"
)

// IDGenerator issues basin IDs.
type IDGenerator interface {
	Next() int64
}

// TileIDGenerator issues tileIndex + k*tileCount for k = 1, 2, ... so
// every ID satisfies id % tileCount == tileIndex and is never zero.
type TileIDGenerator struct {
	tileIndex int64
	tileCount int64
	k         int64
}

// NewTileIDGenerator returns the generator for one tile of a layout.
func NewTileIDGenerator(tileIndex, tileCount int) *TileIDGenerator {
	return &TileIDGenerator{tileIndex: int64(tileIndex), tileCount: int64(tileCount)}
}

func (g *TileIDGenerator) Next() int64 {
	g.k++
	return g.tileIndex + g.k*g.tileCount
}

// Label states during flooding. Final labels are basin IDs (> 0) or
// NoBasin.
const (
	NoBasin   int64 = 0
	candidate int64 = -1
	queued    int64 = -2
)

// Marker is an accepted tree top together with its basin ID.
type Marker struct {
	Candidate
	ID int64
}

// Segmentation is the result of flooding one surface model.
type Segmentation struct {
	Labels  *raster.Raster[int64]
	Markers []Marker
}

// Areas returns the number of cells labelled with each basin ID.
func (s *Segmentation) Areas() map[int64]int {
	areas := make(map[int64]int, len(s.Markers))
	for i, id := range s.Labels.Values {
		if s.Labels.Valid[i] && id != NoBasin {
			areas[id]++
		}
	}
	return areas
}

// Segmenter grows basins from markers over the inverted surface using a
// bucket queue spanning [CanopyCutoff, Max].
type Segmenter struct {
	CanopyCutoff float64
	Max          float64
	BucketWidth  float64
}

// Validate checks the bucket layout.
func (s Segmenter) Validate() error {
	if !(s.BucketWidth > 0) {
		return fmt.Errorf("bucket width must be positive, got %v: %w", s.BucketWidth, raster.ErrConfiguration)
	}
	if !(s.Max > s.CanopyCutoff) {
		return fmt.Errorf("max height %v must exceed canopy cutoff %v: %w", s.Max, s.CanopyCutoff, raster.ErrConfiguration)
	}
	return nil
}

// Segment floods csm from markers. Every valued cell of the result holds a
// basin ID or NoBasin; cells absent in csm stay absent. Markers on cells
// below the canopy cutoff are ignored.
func (s Segmenter) Segment(csm *raster.Raster[float32], markers []Candidate, ids IDGenerator) (*Segmentation, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	labels := raster.New[int64](csm.Alignment)
	for i, ok := range csm.Valid {
		if !ok {
			continue
		}
		labels.Valid[i] = true
		if float64(csm.Values[i]) >= s.CanopyCutoff {
			labels.Values[i] = candidate
		}
	}

	q := newBucketQueue(s.CanopyCutoff, s.Max, s.BucketWidth)
	byCell := make(map[int]int, len(markers))
	for i, m := range markers {
		if !labels.InBounds(m.Row, m.Col) {
			continue
		}
		idx := labels.Index(m.Row, m.Col)
		if labels.Values[idx] != candidate {
			continue
		}
		labels.Values[idx] = queued
		byCell[idx] = i
		q.push(idx, float64(csm.Values[idx]))
	}
	seg := &Segmentation{Labels: labels}

	for q.len() > 0 {
		cell, _ := q.pop()
		label := labels.Values[cell]
		if label == queued {
			label = ids.Next()
			labels.Values[cell] = label
			seg.Markers = append(seg.Markers, Marker{Candidate: markers[byCell[cell]], ID: label})
		}
		row, col := cell/labels.Cols, cell%labels.Cols
		for dr := -1; dr <= 1; dr++ {
			for dc := -1; dc <= 1; dc++ {
				if dr == 0 && dc == 0 {
					continue
				}
				r, c := row+dr, col+dc
				if !labels.InBounds(r, c) {
					continue
				}
				n := labels.Index(r, c)
				if labels.Values[n] != candidate {
					continue
				}
				labels.Values[n] = label
				q.push(n, float64(csm.Values[n]))
			}
		}
	}

	// Candidates never reached from a marker belong to no basin.
	for i, v := range labels.Values {
		if v == candidate {
			labels.Values[i] = NoBasin
		}
	}
	return seg, nil
}
