package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = Discard{}
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLite_CreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), "database file should not exist before creating store")

	s, err := NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file should exist after creating store")
	assert.Equal(t, path, s.Path())
}

func TestSQLite_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateRun(ctx, "blur", "/tmp/in.mp4", "/tmp/in_o.mp4")
	require.NoError(t, err)
	require.Len(t, id, 36, "expected a uuid")

	r, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, r.Status)
	assert.True(t, r.FinishedAt.IsZero())
	assert.Zero(t, r.Duration())

	require.NoError(t, s.FinishRun(ctx, id, 12, 300, nil))

	r, err = s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, r.Status)
	assert.Equal(t, 12, r.Faces)
	assert.Equal(t, 300, r.Frames)
	assert.Equal(t, "/tmp/in_o.mp4", r.Output)
	assert.False(t, r.FinishedAt.Before(r.StartedAt))
}

func TestSQLite_FailedRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.CreateRun(ctx, "count", "broken.mp4", "")
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, id, 0, 3, errors.New("decoder failed")))

	r, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, "decoder failed", r.Error)
}

func TestSQLite_UnknownRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.FinishRun(ctx, "missing", 0, 0, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var ids []string
	for _, in := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		id, err := s.CreateRun(ctx, "blur", in, "")
		require.NoError(t, err)
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond)
	}

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[0], runs[2].ID)

	runs, err = s.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestSQLite_Reset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateRun(ctx, "blur", "a.jpg", "")
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)

	// Still usable after a reset.
	_, err = s.CreateRun(ctx, "blur", "b.jpg", "")
	assert.NoError(t, err)
}

func TestOpen_SQLitePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(*SQLiteStore)
	assert.True(t, ok, "non-postgres URLs should open SQLite")
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestDiscard(t *testing.T) {
	ctx := context.Background()
	var s Store = Discard{}

	id, err := s.CreateRun(ctx, "blur", "a.jpg", "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, s.FinishRun(ctx, id, 1, 1, nil))

	runs, err := s.ListRuns(ctx, 10)
	assert.NoError(t, err)
	assert.Empty(t, runs)

	_, err = s.GetRun(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}
