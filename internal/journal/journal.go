// Package journal records stage runs in a SQLite database.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mrsinham/drrforge/internal/pipeline"
)

// Run is one recorded stage run.
type Run struct {
	ID        uuid.UUID
	Stage     string
	Started   time.Time
	Finished  time.Time
	Succeeded int
	Skipped   int
	Failed    int
}

// Duration returns the wall time of the run.
func (r Run) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// Store persists runs and their results.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the journal at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection keeps the pragmas in effect for every statement.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record stores report under a new run ID and returns it.
func (s *Store) Record(ctx context.Context, report *pipeline.Report) (uuid.UUID, error) {
	if report == nil {
		return uuid.Nil, errors.New("report is nil")
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return uuid.Nil, fmt.Errorf("new run id: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin record tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	finished := report.Finished
	if finished.IsZero() {
		finished = time.Now()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, stage, started_at, finished_at, succeeded, skipped, failed)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id.String(),
		report.Stage,
		report.Started.UTC().Format(time.RFC3339Nano),
		finished.UTC().Format(time.RFC3339Nano),
		report.Succeeded(),
		report.Count(pipeline.StatusSkipped),
		report.Count(pipeline.StatusFailed),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}

	for i, res := range report.Results {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO results (run_id, position, item_key, status, output_path, bytes, duration_ms, error_message)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id.String(),
			i,
			res.Key,
			string(res.Status),
			nullableString(res.Output),
			res.Bytes,
			res.Duration.Milliseconds(),
			nullableString(res.Err),
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("insert result %s: %w", res.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit run: %w", err)
	}
	return id, nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, stage, started_at, finished_at, succeeded, skipped, failed
         FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run               Run
			id, start, finish string
		)
		if err := rows.Scan(&id, &run.Stage, &start, &finish, &run.Succeeded, &run.Skipped, &run.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if run.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("run id %q: %w", id, err)
		}
		if run.Started, err = time.Parse(time.RFC3339Nano, start); err != nil {
			return nil, fmt.Errorf("run %s start: %w", id, err)
		}
		if run.Finished, err = time.Parse(time.RFC3339Nano, finish); err != nil {
			return nil, fmt.Errorf("run %s finish: %w", id, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Results returns the stored results of one run in processing order.
func (s *Store) Results(ctx context.Context, runID uuid.UUID) ([]pipeline.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_key, status, output_path, bytes, duration_ms, error_message
         FROM results WHERE run_id = ? ORDER BY position`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []pipeline.Result
	for rows.Next() {
		var (
			res         pipeline.Result
			status      string
			output, msg sql.NullString
			durationMS  int64
		)
		if err := rows.Scan(&res.Key, &status, &output, &res.Bytes, &durationMS, &msg); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		res.Status = pipeline.Status(status)
		res.Output = output.String
		res.Err = msg.String
		res.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, res)
	}
	return results, rows.Err()
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
