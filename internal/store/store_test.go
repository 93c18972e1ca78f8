package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestPostgresIntegration runs the ledger against a real Postgres container.
// It requires Docker to be running.
func TestPostgresIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		cli, err := testcontainers.NewDockerClientWithOpts(ctx)
		if err != nil {
			return err
		}
		defer cli.Close()
		_, err = cli.Ping(ctx)
		return err
	}()
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("anonymizer_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Open dispatches on the postgres:// scheme and runs migrations
	s, err := Open(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*PostgresStore); !ok {
		t.Fatalf("Expected a PostgresStore, got %T", s)
	}

	// --- Test Scenarios ---

	idA, err := s.CreateRun(ctx, "blur", "/videos/a.mp4", "/videos/a_o.mp4")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	idB, err := s.CreateRun(ctx, "count", "/videos/b.mp4", "")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	if err := s.FinishRun(ctx, idA, 7, 120, nil); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	if err := s.FinishRun(ctx, idB, 0, 10, errors.New("decoder failed")); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	if err := s.FinishRun(ctx, "missing", 0, 0, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	a, err := s.GetRun(ctx, idA)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if a.Status != StatusDone || a.Faces != 7 || a.Frames != 120 {
		t.Errorf("Unexpected run %+v", a)
	}
	if a.FinishedAt.IsZero() {
		t.Error("Expected finished_at to be set")
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != idB || runs[0].Status != StatusFailed || runs[0].Error != "decoder failed" {
		t.Errorf("Expected the failed count run first, got %+v", runs[0])
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	runs, err = s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns after reset failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("Expected empty ledger after reset, got %d runs", len(runs))
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
