package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/canopy.report/internal/canopy/l4trees"
)

func openTest(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestOpen_AppliesMigrations(t *testing.T) {
	c := openTest(t)
	v, dirty, err := c.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), v)

	// Re-running is a no-op.
	require.NoError(t, c.MigrateUp())
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)

	id, err := c.StartRun(ctx, `{"workers":2}`)
	require.NoError(t, err)
	assert.Len(t, id, 36)

	r, err := c.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, r.Status)
	assert.True(t, r.Finished.IsZero())
	assert.Equal(t, `{"workers":2}`, r.ConfigJSON)

	require.NoError(t, c.FinishRun(ctx, id, RunSummary{
		Status: StatusComplete, Files: 3, FilesSkipped: 1, Tiles: 4, Points: 1200,
	}))
	r, err = c.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, r.Status)
	assert.False(t, r.Finished.IsZero())
	assert.Equal(t, int64(1), r.FilesSkipped)
	assert.Equal(t, int64(1200), r.Points)

	runs, err := c.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
}

func TestRun_NotFound(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)
	_, err := c.Run(ctx, "missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
	err = c.FinishRun(ctx, "missing", RunSummary{Status: StatusFailed})
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestInsertTrees(t *testing.T) {
	ctx := context.Background()
	c := openTest(t)
	id, err := c.StartRun(ctx, "{}")
	require.NoError(t, err)

	trees := []l4trees.Tree{
		{ID: 7, X: 10.5, Y: 20.5, Height: 18.25, BasinArea: 12, Tile: 2},
		{ID: 3, X: 1.5, Y: 2.5, Height: 9, BasinArea: 4.5, Tile: 0},
	}
	require.NoError(t, c.InsertTrees(ctx, id, trees))

	got, err := c.Trees(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []l4trees.Tree{trees[1], trees[0]}, got)

	// Duplicate IDs roll the whole batch back.
	err = c.InsertTrees(ctx, id, []l4trees.Tree{{ID: 99}, {ID: 3}})
	assert.Error(t, err)
	got, err = c.Trees(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// Trees must belong to a known run.
	assert.Error(t, c.InsertTrees(ctx, "nope", trees[:1]))
}
