package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/canopy.report/internal/canopy/raster"
)

// RunConfig is the file form of a run's configuration. Every field is
// optional; the Get* accessors supply defaults for omitted fields, so
// partial configs are safe.
type RunConfig struct {
	// Height binning and outlier bounds, in map units above ground.
	CanopyCutoff *float64 `json:"canopy_cutoff,omitempty" yaml:"canopy_cutoff,omitempty"`
	MinHeight    *float64 `json:"min_height,omitempty" yaml:"min_height,omitempty"`
	MaxHeight    *float64 `json:"max_height,omitempty" yaml:"max_height,omitempty"`
	BinWidth     *float64 `json:"bin_width,omitempty" yaml:"bin_width,omitempty"`

	// Surface model
	FootprintDiameter  *float64 `json:"footprint_diameter,omitempty" yaml:"footprint_diameter,omitempty"`
	CSMCellSize        *float64 `json:"csm_cell_size,omitempty" yaml:"csm_cell_size,omitempty"`
	StatsCellSize      *float64 `json:"stats_cell_size,omitempty" yaml:"stats_cell_size,omitempty"`
	Refiner            *string  `json:"refiner,omitempty" yaml:"refiner,omitempty"` // none, smooth, fill, smooth_fill
	SmoothWindow       *int     `json:"smooth_window,omitempty" yaml:"smooth_window,omitempty"`
	FillNeighbors      *int     `json:"fill_neighbors,omitempty" yaml:"fill_neighbors,omitempty"`
	FillSearchDistance *float64 `json:"fill_search_distance,omitempty" yaml:"fill_search_distance,omitempty"`

	// Tree detection and segmentation
	MinTreeHeight     *float64 `json:"min_tree_height,omitempty" yaml:"min_tree_height,omitempty"`
	MinTreeSeparation *float64 `json:"min_tree_separation,omitempty" yaml:"min_tree_separation,omitempty"`
	BucketWidth       *float64 `json:"bucket_width,omitempty" yaml:"bucket_width,omitempty"`

	// Tiling and concurrency
	TileSize       *float64 `json:"tile_size,omitempty" yaml:"tile_size,omitempty"`
	TileBuffer     *float64 `json:"tile_buffer,omitempty" yaml:"tile_buffer,omitempty"`
	Workers        *int     `json:"workers,omitempty" yaml:"workers,omitempty"`
	Shards         *int     `json:"shards,omitempty" yaml:"shards,omitempty"`
	BatchSize      *int     `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	ScratchBackend *string  `json:"scratch_backend,omitempty" yaml:"scratch_backend,omitempty"` // dir, badger, memory
}

// Params is a fully resolved configuration.
type Params struct {
	CanopyCutoff       float64 `json:"canopy_cutoff" validate:"gte=0"`
	MinHeight          float64 `json:"min_height"`
	MaxHeight          float64 `json:"max_height" validate:"gtfield=CanopyCutoff,gtfield=MinHeight"`
	BinWidth           float64 `json:"bin_width" validate:"gt=0"`
	FootprintDiameter  float64 `json:"footprint_diameter" validate:"gte=0"`
	CSMCellSize        float64 `json:"csm_cell_size" validate:"gt=0"`
	StatsCellSize      float64 `json:"stats_cell_size" validate:"gt=0"`
	Refiner            string  `json:"refiner" validate:"oneof=none smooth fill smooth_fill"`
	SmoothWindow       int     `json:"smooth_window" validate:"gt=0"`
	FillNeighbors      int     `json:"fill_neighbors" validate:"gte=0,lte=8"`
	FillSearchDistance float64 `json:"fill_search_distance" validate:"gt=0"`
	MinTreeHeight      float64 `json:"min_tree_height" validate:"gte=0"`
	MinTreeSeparation  float64 `json:"min_tree_separation" validate:"gte=0"`
	BucketWidth        float64 `json:"bucket_width" validate:"gt=0"`
	TileSize           float64 `json:"tile_size" validate:"gt=0"`
	TileBuffer         float64 `json:"tile_buffer" validate:"gte=0"`
	Workers            int     `json:"workers" validate:"gte=1"`
	Shards             int     `json:"shards" validate:"gte=1"`
	BatchSize          int     `json:"batch_size" validate:"gte=1"`
	ScratchBackend     string  `json:"scratch_backend" validate:"oneof=dir badger memory"`
}

// EmptyRunConfig returns a RunConfig with every field unset.
func EmptyRunConfig() *RunConfig {
	return &RunConfig{}
}

const maxFileSize = 1 * 1024 * 1024

// LoadRunConfig reads a RunConfig from a .json, .yaml or .yml file and
// validates it.
func LoadRunConfig(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyRunConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(cfg)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return v
}

// Validate resolves the configuration and checks every parameter. Errors
// wrap raster.ErrConfiguration.
func (c *RunConfig) Validate() error {
	_, err := c.Resolve()
	return err
}

// Resolve returns the validated parameters with defaults applied.
func (c *RunConfig) Resolve() (Params, error) {
	p := c.Params()
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return Params{}, fmt.Errorf("%v: %w", err, raster.ErrConfiguration)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describe(fe))
		}
		return Params{}, fmt.Errorf("%s: %w", strings.Join(msgs, "; "), raster.ErrConfiguration)
	}
	return p, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gtfield":
		return fmt.Sprintf("%s must exceed %s, got %v", fe.Field(), fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s must satisfy %s=%s, got %v", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
	}
}

// Params applies defaults without validating.
func (c *RunConfig) Params() Params {
	return Params{
		CanopyCutoff:       c.GetCanopyCutoff(),
		MinHeight:          c.GetMinHeight(),
		MaxHeight:          c.GetMaxHeight(),
		BinWidth:           c.GetBinWidth(),
		FootprintDiameter:  c.GetFootprintDiameter(),
		CSMCellSize:        c.GetCSMCellSize(),
		StatsCellSize:      c.GetStatsCellSize(),
		Refiner:            c.GetRefiner(),
		SmoothWindow:       c.GetSmoothWindow(),
		FillNeighbors:      c.GetFillNeighbors(),
		FillSearchDistance: c.GetFillSearchDistance(),
		MinTreeHeight:      c.GetMinTreeHeight(),
		MinTreeSeparation:  c.GetMinTreeSeparation(),
		BucketWidth:        c.GetBucketWidth(),
		TileSize:           c.GetTileSize(),
		TileBuffer:         c.GetTileBuffer(),
		Workers:            c.GetWorkers(),
		Shards:             c.GetShards(),
		BatchSize:          c.GetBatchSize(),
		ScratchBackend:     c.GetScratchBackend(),
	}
}

// JSON returns the resolved parameters as JSON, as recorded with a run.
func (p Params) JSON() string {
	b, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func orFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func orInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func orString(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

// GetCanopyCutoff returns canopy_cutoff or the default of 2.
func (c *RunConfig) GetCanopyCutoff() float64 { return orFloat(c.CanopyCutoff, 2) }

// GetMinHeight returns min_height or the default of -2.
func (c *RunConfig) GetMinHeight() float64 { return orFloat(c.MinHeight, -2) }

// GetMaxHeight returns max_height or the default of 80.
func (c *RunConfig) GetMaxHeight() float64 { return orFloat(c.MaxHeight, 80) }

// GetBinWidth returns bin_width or the default of 0.5.
func (c *RunConfig) GetBinWidth() float64 { return orFloat(c.BinWidth, 0.5) }

// GetFootprintDiameter returns footprint_diameter or the default of 0.
func (c *RunConfig) GetFootprintDiameter() float64 { return orFloat(c.FootprintDiameter, 0) }

// GetCSMCellSize returns csm_cell_size or the default of 1.
func (c *RunConfig) GetCSMCellSize() float64 { return orFloat(c.CSMCellSize, 1) }

// GetStatsCellSize returns stats_cell_size or the default of 20.
func (c *RunConfig) GetStatsCellSize() float64 { return orFloat(c.StatsCellSize, 20) }

// GetRefiner returns refiner or the default "none".
func (c *RunConfig) GetRefiner() string { return orString(c.Refiner, "none") }

// GetSmoothWindow returns smooth_window or the default of 3.
func (c *RunConfig) GetSmoothWindow() int { return orInt(c.SmoothWindow, 3) }

// GetFillNeighbors returns fill_neighbors or the default of 5.
func (c *RunConfig) GetFillNeighbors() int { return orInt(c.FillNeighbors, 5) }

// GetFillSearchDistance returns fill_search_distance (pixels) or the
// default of 5.
func (c *RunConfig) GetFillSearchDistance() float64 { return orFloat(c.FillSearchDistance, 5) }

// GetMinTreeHeight returns min_tree_height or the default of 2.
func (c *RunConfig) GetMinTreeHeight() float64 { return orFloat(c.MinTreeHeight, 2) }

// GetMinTreeSeparation returns min_tree_separation or the default of 0
// (no suppression).
func (c *RunConfig) GetMinTreeSeparation() float64 { return orFloat(c.MinTreeSeparation, 0) }

// GetBucketWidth returns bucket_width or the default of 0.1.
func (c *RunConfig) GetBucketWidth() float64 { return orFloat(c.BucketWidth, 0.1) }

// GetTileSize returns tile_size or the default of 500.
func (c *RunConfig) GetTileSize() float64 { return orFloat(c.TileSize, 500) }

// GetTileBuffer returns tile_buffer or the default of 10.
func (c *RunConfig) GetTileBuffer() float64 { return orFloat(c.TileBuffer, 10) }

// GetWorkers returns workers or the number of CPUs.
func (c *RunConfig) GetWorkers() int { return orInt(c.Workers, runtime.NumCPU()) }

// GetShards returns shards or the default of 64.
func (c *RunConfig) GetShards() int { return orInt(c.Shards, 64) }

// GetBatchSize returns batch_size or the default of 65536.
func (c *RunConfig) GetBatchSize() int { return orInt(c.BatchSize, 65536) }

// GetScratchBackend returns scratch_backend or the default "dir".
func (c *RunConfig) GetScratchBackend() string { return orString(c.ScratchBackend, "dir") }
