package pipeline

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/banshee-data/canopy.report/internal/canopy/rasterio"
)

func TestSetLogWriters_Streams(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriters(&buf, nil, nil)
	defer SetLogWriters(nil, nil, nil)

	ops, diag, trace := logs.Enabled()
	if !ops {
		t.Fatal("ops stream should be enabled after SetLogWriters with a writer")
	}
	if diag || trace {
		t.Fatal("diag and trace streams should be disabled when passed nil writers")
	}

	SetLogWriters(nil, nil, nil)
	opsf("silently discarded: %d", 1)
	if buf.Len() != 0 {
		t.Errorf("expected no output once disabled, got %q", buf.String())
	}
}

func TestRun_LogsSkipsAndTiles(t *testing.T) {
	var ops, diag bytes.Buffer
	SetLogWriters(&ops, &diag, nil)
	defer SetLogWriters(nil, nil, nil)

	src, paths := forestSource()
	params := testParams(1)
	p, err := New(params, Options{Source: src, Ground: flatGround(params), Sink: rasterio.NewMemorySink()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Run(context.Background(), append(paths, "gone.asc")); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !strings.Contains(ops.String(), "[pipeline] ") || !strings.Contains(ops.String(), "skipping gone.asc") {
		t.Errorf("ops stream missing skip report: %q", ops.String())
	}
	if !strings.Contains(ops.String(), "run complete") {
		t.Errorf("ops stream missing completion: %q", ops.String())
	}
	if !strings.Contains(diag.String(), "tile 3:") {
		t.Errorf("diag stream missing tile summary: %q", diag.String())
	}
}
