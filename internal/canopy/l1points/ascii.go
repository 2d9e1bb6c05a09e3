package l1points

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/canopy.report/internal/canopy/raster"
)

// ASCIISource reads CloudCompare-compatible .asc/.xyz files:
//
//	# comment lines
//	X Y Z Intensity [ReturnNumber NumberOfReturns Classification]
//
// Columns are whitespace separated. Only X, Y and Z are required.
type ASCIISource struct {
	// CRS is attached to every header; ASCII files carry no CRS of their own.
	CRS string
}

// Open scans the file once to build its header and returns a Reader
// positioned at the first record.
func (s ASCIISource) Open(path string) (Reader, error) {
	cleanPath := filepath.Clean(path)
	hdr := Header{Path: cleanPath, CRS: s.CRS, Extent: raster.EmptyExtent()}

	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v: %w", cleanPath, err, raster.ErrData)
	}
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		p, ok, err := parseASCIILine(sc.Text())
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s:%d: %v: %w", cleanPath, line, err, raster.ErrData)
		}
		if !ok {
			continue
		}
		hdr.Extent = hdr.Extent.Include(p.X, p.Y)
		hdr.Count++
	}
	if err := sc.Err(); err != nil {
		f.Close()
		return nil, fmt.Errorf("scan %s: %v: %w", cleanPath, err, raster.ErrData)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("rewind %s: %v: %w", cleanPath, err, raster.ErrData)
	}
	return &asciiReader{header: hdr, f: f, sc: bufio.NewScanner(f)}, nil
}

type asciiReader struct {
	header Header
	f      *os.File
	sc     *bufio.Scanner
	line   int
}

func (r *asciiReader) Header() Header { return r.header }

func (r *asciiReader) ReadBatch(max int) ([]Point, error) {
	out := make([]Point, 0, max)
	for len(out) < max && r.sc.Scan() {
		r.line++
		p, ok, err := parseASCIILine(r.sc.Text())
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %v: %w", r.header.Path, r.line, err, raster.ErrData)
		}
		if ok {
			out = append(out, p)
		}
	}
	if err := r.sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %v: %w", r.header.Path, err, raster.ErrData)
	}
	if len(out) == 0 {
		return nil, io.EOF
	}
	return out, nil
}

func (r *asciiReader) Close() error { return r.f.Close() }

// parseASCIILine returns ok=false for blank and comment lines.
func parseASCIILine(s string) (Point, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "#") || strings.HasPrefix(s, "//") {
		return Point{}, false, nil
	}
	fields := strings.Fields(s)
	if len(fields) < 3 {
		return Point{}, false, fmt.Errorf("expected at least 3 columns, got %d", len(fields))
	}
	var p Point
	var err error
	if p.X, err = strconv.ParseFloat(fields[0], 64); err != nil {
		return Point{}, false, fmt.Errorf("invalid X %q", fields[0])
	}
	if p.Y, err = strconv.ParseFloat(fields[1], 64); err != nil {
		return Point{}, false, fmt.Errorf("invalid Y %q", fields[1])
	}
	if p.Z, err = strconv.ParseFloat(fields[2], 64); err != nil {
		return Point{}, false, fmt.Errorf("invalid Z %q", fields[2])
	}
	ints := []struct {
		bits int
		set  func(uint64)
	}{
		{16, func(v uint64) { p.Intensity = uint16(v) }},
		{8, func(v uint64) { p.ReturnNumber = uint8(v) }},
		{8, func(v uint64) { p.NumberOfReturns = uint8(v) }},
		{8, func(v uint64) { p.Classification = uint8(v) }},
	}
	for i, col := range fields[3:] {
		if i >= len(ints) {
			break
		}
		v, err := strconv.ParseUint(col, 10, ints[i].bits)
		if err != nil {
			return Point{}, false, fmt.Errorf("invalid column %d %q", i+4, col)
		}
		ints[i].set(v)
	}
	return p, true, nil
}

// WriteASCII writes pts in the format read by ASCIISource.
func WriteASCII(w io.Writer, pts []Point) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# Exported points\n")
	fmt.Fprintf(bw, "# Format: X Y Z Intensity ReturnNumber NumberOfReturns Classification\n")
	for _, p := range pts {
		fmt.Fprintf(bw, "%.6f %.6f %.6f %d %d %d %d\n",
			p.X, p.Y, p.Z, p.Intensity, p.ReturnNumber, p.NumberOfReturns, p.Classification)
	}
	return bw.Flush()
}
