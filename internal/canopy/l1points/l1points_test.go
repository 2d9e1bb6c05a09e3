package l1points

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/canopy.report/internal/canopy/raster"
)

func TestASCIISource_RoundTrip(t *testing.T) {
	pts := []Point{
		{X: 1, Y: 2, Z: 3, Intensity: 10, ReturnNumber: 1, NumberOfReturns: 2, Classification: 5},
		{X: 4, Y: 5, Z: 6, Intensity: 20, ReturnNumber: 2, NumberOfReturns: 2, Classification: 2},
		{X: -1, Y: 8, Z: 0.5},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteASCII(&buf, pts))

	path := filepath.Join(t.TempDir(), "tile.asc")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	r, err := ASCIISource{CRS: "EPSG:2193"}.Open(path)
	require.NoError(t, err)
	defer r.Close()

	hdr := r.Header()
	assert.Equal(t, int64(3), hdr.Count)
	assert.Equal(t, "EPSG:2193", hdr.CRS)
	assert.Equal(t, raster.Extent{XMin: -1, YMin: 2, XMax: 4, YMax: 8}, hdr.Extent)

	first, err := r.ReadBatch(2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, pts[0], first[0])

	rest, err := r.ReadBatch(2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, pts[2], rest[0])

	_, err = r.ReadBatch(2)
	assert.ErrorIs(t, err, io.EOF)
}

func TestASCIISource_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.asc")
	require.NoError(t, os.WriteFile(path, []byte("1 2\n"), 0o644))

	_, err := ASCIISource{}.Open(path)
	if !errors.Is(err, raster.ErrData) {
		t.Fatalf("expected ErrData, got %v", err)
	}

	_, err = ASCIISource{}.Open(filepath.Join(t.TempDir(), "missing.asc"))
	if !errors.Is(err, raster.ErrData) {
		t.Fatalf("expected ErrData for missing file, got %v", err)
	}
}

func TestFilters(t *testing.T) {
	pts := []Point{
		{Classification: 2, ReturnNumber: 1, Intensity: 50},
		{Classification: 7, ReturnNumber: 1, Intensity: 50},
		{Classification: 5, ReturnNumber: 2, Intensity: 50},
		{Classification: 5, ReturnNumber: 1, Intensity: 5},
	}
	f := All(ExcludeClasses(7, 18), FirstReturnsOnly(), MinIntensity(10), nil)
	got := Apply(pts, f)
	require.Len(t, got, 1)
	assert.Equal(t, uint8(2), got[0].Classification)
}

func TestMemorySource(t *testing.T) {
	src := NewMemorySource()
	src.Add("a", []Point{{X: 1, Y: 1}, {X: 3, Y: 2}})

	r, err := src.Open("a")
	require.NoError(t, err)
	assert.Equal(t, raster.Extent{XMin: 1, YMin: 1, XMax: 3, YMax: 2}, r.Header().Extent)

	_, err = src.Open("missing")
	assert.ErrorIs(t, err, raster.ErrData)
}
