package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// PostgresStore keeps the ledger in PostgreSQL.
type PostgresStore struct {
	// pgx.Conn is not safe for concurrent use; server jobs share it.
	mu   sync.Mutex
	conn *pgx.Conn
}

// NewPostgres establishes a connection to the database and ensures the schema is initialized.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &PostgresStore{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			input TEXT NOT NULL,
			output TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			faces INT NOT NULL DEFAULT 0,
			frames INT NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS runs_started_at_idx ON runs (started_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Use Background: the command context may already be cancelled by Ctrl+C.
	return s.conn.Close(context.Background())
}

func (s *PostgresStore) CreateRun(ctx context.Context, command, input, output string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := newID()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO runs (id, command, input, output, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, command, input, output, string(StatusRunning), time.Now().UTC())
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, id string, faces, frames int, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, msg := finishState(runErr)
	tag, err := s.conn.Exec(ctx, `
		UPDATE runs SET status = $2, faces = $3, frames = $4, error = $5, finished_at = $6
		WHERE id = $1
	`, id, string(status), faces, frames, msg, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, command, input, output, status, faces, frames, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var status string
		var finished *time.Time
		if err := rows.Scan(&r.ID, &r.Command, &r.Input, &r.Output, &status, &r.Faces, &r.Frames, &r.Error, &r.StartedAt, &finished); err != nil {
			return nil, err
		}
		r.Status = Status(status)
		if finished != nil {
			r.FinishedAt = *finished
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Reset drops the ledger table and recreates it empty.
func (s *PostgresStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS runs CASCADE`); err != nil {
		return err
	}
	return initSchema(ctx, s.conn)
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var r Run
	var status string
	var finished *time.Time
	err := s.conn.QueryRow(ctx, `SELECT id, command, input, output, status, faces, frames, error, started_at, finished_at
		FROM runs WHERE id = $1`, id).Scan(&r.ID, &r.Command, &r.Input, &r.Output, &status, &r.Faces, &r.Frames, &r.Error, &r.StartedAt, &finished)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, err
	}
	r.Status = Status(status)
	if finished != nil {
		r.FinishedAt = *finished
	}
	return r, nil
}
