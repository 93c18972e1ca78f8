// Package store keeps a ledger of anonymization runs.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status of a run.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Run is one invocation of blur, count, emotion or a server job.
type Run struct {
	ID        string
	Command   string
	Input     string
	Output    string
	Status    Status
	Faces     int
	Frames    int
	Error     string
	StartedAt time.Time
	// FinishedAt is zero while the run is in progress.
	FinishedAt time.Time
}

// Duration is the wall time of a finished run.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store persists runs.
type Store interface {
	// CreateRun records a started run and returns its id.
	CreateRun(ctx context.Context, command, input, output string) (string, error)
	// FinishRun marks a run done, or failed when runErr is not nil.
	FinishRun(ctx context.Context, id string, faces, frames int, runErr error) error
	// ListRuns returns the newest runs first; limit <= 0 returns all.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	// GetRun returns a single run or ErrNotFound.
	GetRun(ctx context.Context, id string) (Run, error)
	// Reset drops every recorded run.
	Reset(ctx context.Context) error
	Close() error
}

// ErrNotFound is returned for ids that were never recorded.
var ErrNotFound = errors.New("run not found")

// DefaultPath is the SQLite ledger used when no database URL is configured.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return filepath.Join(home, ".anonymizer", "runs.db"), nil
}

// Open picks the backend from url: postgres:// and postgresql:// URLs use
// PostgreSQL, anything else is a SQLite file path (DefaultPath when empty).
func Open(ctx context.Context, url string) (Store, error) {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return NewPostgres(ctx, url)
	}
	path := url
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	return NewSQLite(path)
}

func newID() string {
	return uuid.NewString()
}

func finishState(runErr error) (Status, string) {
	if runErr != nil {
		return StatusFailed, runErr.Error()
	}
	return StatusDone, ""
}

// Discard is a Store that records nothing. It stands in when the ledger
// cannot be opened so processing still goes ahead.
type Discard struct{}

func (Discard) CreateRun(ctx context.Context, command, input, output string) (string, error) {
	return newID(), nil
}

func (Discard) FinishRun(ctx context.Context, id string, faces, frames int, runErr error) error {
	return nil
}

func (Discard) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	return nil, nil
}

func (Discard) GetRun(ctx context.Context, id string) (Run, error) {
	return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (Discard) Reset(ctx context.Context) error {
	return nil
}

func (Discard) Close() error {
	return nil
}
