package raster

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"
)

// Encode serializes a raster with gob encoding and gzip compression.
func Encode[T Number](r *Raster[T]) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(r); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode decompresses and decodes a raster blob produced by Encode.
func Decode[T Number](blob []byte) (*Raster[T], error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty raster blob: %w", ErrData)
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %v: %w", err, ErrData)
	}
	defer gz.Close()

	var r Raster[T]
	if err := gob.NewDecoder(gz).Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode raster: %v: %w", err, ErrData)
	}
	if len(r.Values) != r.Cells() || len(r.Valid) != r.Cells() {
		return nil, fmt.Errorf("raster blob has %d values for %d cells: %w", len(r.Values), r.Cells(), ErrData)
	}
	return &r, nil
}
