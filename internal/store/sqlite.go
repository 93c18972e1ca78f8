package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the ledger in a local SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLite opens the database at path and runs migrations.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Server jobs write concurrently; a single connection serializes them.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) runMigrations() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			input TEXT NOT NULL,
			output TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL CHECK(status IN ('running', 'done', 'failed')),
			faces INTEGER NOT NULL DEFAULT 0,
			frames INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			finished_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}
	return nil
}

// Path is the database file.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, command, input, output string) (string, error) {
	id := newID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, input, output, status, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, command, input, output, string(StatusRunning), time.Now().UnixNano())
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, id string, faces, frames int, runErr error) error {
	status, msg := finishState(runErr)
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, faces = ?, frames = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), faces, frames, msg, time.Now().UnixNano(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

const selectRuns = `SELECT id, command, input, output, status, faces, frames, error, started_at, finished_at FROM runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(sc rowScanner) (Run, error) {
	var r Run
	var status string
	var started int64
	var finished sql.NullInt64
	if err := sc.Scan(&r.ID, &r.Command, &r.Input, &r.Output, &status, &r.Faces, &r.Frames, &r.Error, &started, &finished); err != nil {
		return Run{}, err
	}
	r.Status = Status(status)
	r.StartedAt = time.Unix(0, started)
	if finished.Valid {
		r.FinishedAt = time.Unix(0, finished.Int64)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := selectRuns + ` ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// Reset deletes every run.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS runs`); err != nil {
		return err
	}
	return s.runMigrations()
}
