// Package sqlite persists run records and detected trees.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/canopy.report/internal/canopy/l4trees"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRunNotFound is returned when a run ID is not in the catalog.
var ErrRunNotFound = errors.New("run not found")

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Catalog is the run and tree database.
type Catalog struct {
	*sql.DB
}

// Open opens (creating if needed) the catalog at path and applies pending
// migrations. Use ":memory:" for a throwaway catalog.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	c := &Catalog{db}
	if err := c.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// MigrateUp runs all pending migrations.
func (c *Catalog) MigrateUp() error {
	m, err := c.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: closing it would close the shared connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the applied schema version, 0 if none.
func (c *Catalog) MigrateVersion() (uint, bool, error) {
	m, err := c.newMigrate()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (c *Catalog) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(c.DB, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID           string
	Started      time.Time
	Finished     time.Time // zero while running
	Status       string
	ConfigJSON   string
	Files        int64
	FilesSkipped int64
	Tiles        int64
	Points       int64
}

// RunSummary carries the counters recorded when a run finishes.
type RunSummary struct {
	Status       string
	Files        int64
	FilesSkipped int64
	Tiles        int64
	Points       int64
}

// StartRun records a new running run and returns its ID.
func (c *Catalog) StartRun(ctx context.Context, configJSON string) (string, error) {
	id := uuid.NewString()
	_, err := c.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_unix_ns, status, config_json) VALUES (?, ?, ?, ?)`,
		id, time.Now().UnixNano(), StatusRunning, configJSON)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return id, nil
}

// FinishRun stamps a run with its outcome.
func (c *Catalog) FinishRun(ctx context.Context, runID string, s RunSummary) error {
	res, err := c.ExecContext(ctx, `
		UPDATE runs
		   SET finished_unix_ns = ?, status = ?, files = ?, files_skipped = ?, tiles = ?, points = ?
		 WHERE run_id = ?`,
		time.Now().UnixNano(), s.Status, s.Files, s.FilesSkipped, s.Tiles, s.Points, runID)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// InsertTrees stores trees for a run in one transaction.
func (c *Catalog) InsertTrees(ctx context.Context, runID string, trees []l4trees.Tree) error {
	tx, err := c.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trees (run_id, tree_id, x, y, height, basin_area, tile)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare tree insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range trees {
		if _, err := stmt.ExecContext(ctx, runID, t.ID, t.X, t.Y, t.Height, t.BasinArea, t.Tile); err != nil {
			return fmt.Errorf("failed to insert tree %d: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

// Run fetches one run.
func (c *Catalog) Run(ctx context.Context, runID string) (RunRecord, error) {
	row := c.QueryRowContext(ctx, runSelect+` WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	return r, err
}

// Runs lists every run, newest first.
func (c *Catalog) Runs(ctx context.Context) ([]RunRecord, error) {
	rows, err := c.QueryContext(ctx, runSelect+` ORDER BY started_unix_ns DESC, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Trees returns a run's trees ordered by ID.
func (c *Catalog) Trees(ctx context.Context, runID string) ([]l4trees.Tree, error) {
	rows, err := c.QueryContext(ctx, `
		SELECT tree_id, x, y, height, basin_area, tile
		  FROM trees WHERE run_id = ? ORDER BY tree_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []l4trees.Tree
	for rows.Next() {
		var t l4trees.Tree
		if err := rows.Scan(&t.ID, &t.X, &t.Y, &t.Height, &t.BasinArea, &t.Tile); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const runSelect = `
	SELECT run_id, started_unix_ns, finished_unix_ns, status, config_json,
	       files, files_skipped, tiles, points
	  FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (RunRecord, error) {
	var (
		r        RunRecord
		started  int64
		finished sql.NullInt64
	)
	if err := s.Scan(&r.ID, &started, &finished, &r.Status, &r.ConfigJSON,
		&r.Files, &r.FilesSkipped, &r.Tiles, &r.Points); err != nil {
		return RunRecord{}, err
	}
	r.Started = time.Unix(0, started)
	if finished.Valid {
		r.Finished = time.Unix(0, finished.Int64)
	}
	return r, nil
}
