package rasterio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/canopy.report/internal/canopy/raster"
)

// ReadRaster reads a float raster from path. Files ending in .asc are ESRI
// ASCII grids; anything else is a gob+gzip blob as written by DirSink.
// crs tags ASCII grids, which carry no reference of their own. Read and
// parse failures wrap raster.ErrData.
func ReadRaster(path, crs string) (*raster.Raster[float32], error) {
	if strings.HasSuffix(strings.ToLower(path), ".asc") {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %v: %w", path, err, raster.ErrData)
		}
		defer f.Close()
		r, err := ReadASCIIGrid(f, crs)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return r, nil
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %v: %w", path, err, raster.ErrData)
	}
	r, err := raster.Decode[float32](blob)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// ReadASCIIGrid parses an ESRI ASCII grid. Rows are listed north to south;
// cells equal to NODATA_value are absent.
func ReadASCIIGrid(rd io.Reader, crs string) (*raster.Raster[float32], error) {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	sc.Split(bufio.ScanWords)

	hdr := map[string]float64{}
	var pending string
	for sc.Scan() {
		tok := sc.Text()
		key := strings.ToLower(tok)
		if !isHeaderKey(key) {
			pending = tok
			break
		}
		if !sc.Scan() {
			return nil, fmt.Errorf("header %s has no value: %w", tok, raster.ErrData)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("header %s: %v: %w", tok, err, raster.ErrData)
		}
		hdr[key] = v
	}

	cols, rows := int(hdr["ncols"]), int(hdr["nrows"])
	cell := hdr["cellsize"]
	if cols <= 0 || rows <= 0 || !(cell > 0) {
		return nil, fmt.Errorf("grid header needs positive ncols, nrows and cellsize: %w", raster.ErrData)
	}
	x0, okX := hdr["xllcorner"]
	y0, okY := hdr["yllcorner"]
	if cx, ok := hdr["xllcenter"]; ok && !okX {
		x0, okX = cx-cell/2, true
	}
	if cy, ok := hdr["yllcenter"]; ok && !okY {
		y0, okY = cy-cell/2, true
	}
	if !okX || !okY {
		return nil, fmt.Errorf("grid header has no lower-left corner: %w", raster.ErrData)
	}
	nodata, hasNodata := hdr["nodata_value"]

	a := raster.Alignment{
		OriginX:  x0,
		OriginY:  y0 + float64(rows)*cell,
		CellSize: cell,
		Rows:     rows,
		Cols:     cols,
		CRS:      crs,
	}
	r := raster.New[float32](a)
	next := func() (string, bool) {
		if pending != "" {
			t := pending
			pending = ""
			return t, true
		}
		if sc.Scan() {
			return sc.Text(), true
		}
		return "", false
	}
	for i := 0; i < a.Cells(); i++ {
		tok, ok := next()
		if !ok {
			return nil, fmt.Errorf("grid ends after %d of %d cells: %w", i, a.Cells(), raster.ErrData)
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %v: %w", i, err, raster.ErrData)
		}
		if hasNodata && v == nodata {
			continue
		}
		r.Values[i] = float32(v)
		r.Valid[i] = true
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan grid: %v: %w", err, raster.ErrData)
	}
	return r, nil
}

// IsASCIIGrid reports whether rd starts with an ESRI ASCII grid header.
// Only the first word is read.
func IsASCIIGrid(rd io.Reader) (bool, error) {
	sc := bufio.NewScanner(rd)
	sc.Split(bufio.ScanWords)
	if !sc.Scan() {
		return false, sc.Err()
	}
	return isHeaderKey(strings.ToLower(sc.Text())), nil
}

func isHeaderKey(k string) bool {
	switch k {
	case "ncols", "nrows", "xllcorner", "yllcorner", "xllcenter", "yllcenter", "cellsize", "nodata_value":
		return true
	}
	return false
}

// WriteASCIIGrid writes r as an ESRI ASCII grid with the given NODATA
// value.
func WriteASCIIGrid(w io.Writer, r *raster.Raster[float32], nodata float64) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ncols %d\nnrows %d\nxllcorner %g\nyllcorner %g\ncellsize %g\nNODATA_value %g\n",
		r.Cols, r.Rows, r.OriginX, r.OriginY-float64(r.Rows)*r.CellSize, r.CellSize, nodata)
	for row := 0; row < r.Rows; row++ {
		for col := 0; col < r.Cols; col++ {
			if col > 0 {
				bw.WriteByte(' ')
			}
			if v, ok := r.Get(row, col); ok {
				bw.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
			} else {
				bw.WriteString(strconv.FormatFloat(nodata, 'g', -1, 64))
			}
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
