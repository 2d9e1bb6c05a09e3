package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/canopy.report/internal/canopy/rasterio"
)

// pointExtensions are the file types picked up from input directories.
var pointExtensions = map[string]bool{".asc": true, ".xyz": true, ".txt": true}

// expandInputs replaces each directory argument with the point files it
// holds, in name order. ESRI ASCII grids sharing the .asc extension are
// left out of directories. Files named directly are kept whatever their
// extension. Duplicates are dropped.
func expandInputs(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			// Missing files are reported and skipped by the run.
			add(arg)
			continue
		}
		if !info.IsDir() {
			add(arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("read input directory %s: %w", arg, err)
		}
		for _, e := range entries {
			if e.IsDir() || !pointExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			p := filepath.Join(arg, e.Name())
			grid, err := isGridFile(p)
			if err != nil {
				return nil, err
			}
			if grid {
				continue
			}
			add(p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no point-cloud files in %s", strings.Join(args, ", "))
	}
	return out, nil
}

// isGridFile reports whether an .asc file holds an ESRI ASCII grid.
func isGridFile(path string) (bool, error) {
	if !strings.EqualFold(filepath.Ext(path), ".asc") {
		return false, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open input %s: %w", path, err)
	}
	defer f.Close()
	grid, err := rasterio.IsASCIIGrid(f)
	if err != nil {
		return false, fmt.Errorf("read input %s: %w", path, err)
	}
	return grid, nil
}
