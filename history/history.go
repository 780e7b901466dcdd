// Package history records deployment runs in SQLite.
//
// One row per run, written at run completion. The store is observability,
// not control flow: a failing history database is logged and never blocks
// or fails a deployment.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/mirlist/dbopen"
)

// Run is one recorded deployment run.
type Run struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	Status     string    `json:"status"` // "success" | "failed"
	Phase      string    `json:"phase"`  // last phase entered
	Error      string    `json:"error,omitempty"`
	ServedURL  string    `json:"served_url,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Regions    int       `json:"regions"`
	Mirrors    int       `json:"mirrors"`
	Selected   int       `json:"selected"`
}

// Store persists runs.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store on db. Call Init once at startup.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init creates the runs table if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS deployment_runs (
			id          TEXT PRIMARY KEY,
			trigger_source TEXT NOT NULL,
			status      TEXT NOT NULL,
			phase       TEXT NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			served_url  TEXT NOT NULL DEFAULT '',
			started_at  INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			regions     INTEGER NOT NULL DEFAULT 0,
			mirrors     INTEGER NOT NULL DEFAULT 0,
			selected    INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON deployment_runs (started_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("history: init: %w", err)
	}
	return nil
}

// Record inserts one completed run. Retries on SQLITE_BUSY.
func (s *Store) Record(ctx context.Context, run Run) error {
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO deployment_runs (
			id, trigger_source, status, phase, error, served_url,
			started_at, finished_at, regions, mirrors, selected
		) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.Trigger, run.Status, run.Phase, run.Error, run.ServedURL,
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
		run.Regions, run.Mirrors, run.Selected)
	if err != nil {
		return fmt.Errorf("history: record run %s: %w", run.ID, err)
	}
	return nil
}

// Recent returns the latest runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trigger_source, status, phase, error, served_url,
		       started_at, finished_at, regions, mirrors, selected
		FROM deployment_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.Trigger, &r.Status, &r.Phase, &r.Error, &r.ServedURL,
			&started, &finished, &r.Regions, &r.Mirrors, &r.Selected); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Prune deletes runs older than the cutoff. Best-effort retention for a
// table that only ever grows a few rows per day.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := dbopen.Exec(ctx, s.db,
		`DELETE FROM deployment_runs WHERE started_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return res.RowsAffected()
}
