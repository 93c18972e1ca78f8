package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/anonymizer/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Ledger records every run. It falls back to store.Discard when the database cannot be opened.
	Ledger store.Store = store.Discard{}
	// dbURL is a postgres:// URL or a SQLite file path
	dbURL string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "anonymizer",
	Short:   "Blur faces in images, videos and live camera feeds",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}

		if dbURL == "" {
			dbURL = os.Getenv("ANONYMIZER_DB")
		}

		// A broken ledger never blocks processing.
		s, err := store.Open(cmd.Context(), dbURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Run history disabled: %v\n", err)
			Ledger = store.Discard{}
			return nil
		}
		Ledger = s
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if Ledger != nil {
			Ledger.Close()
		}
	},
}

// Execute runs the root command and exits with status 1 on error.
func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "Run history database: a postgres:// URL or a SQLite file (env ANONYMIZER_DB, default ~/.anonymizer/runs.db)")
}

// startRun records a run in the ledger and returns the function that finishes it.
// Ledger errors are printed and otherwise ignored.
func startRun(ctx context.Context, command, input, output string) func(faces, frames int, runErr error) {
	id, err := Ledger.CreateRun(ctx, command, input, output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to record run: %v\n", err)
	}
	return func(faces, frames int, runErr error) {
		// Background: the command context may already be cancelled.
		if err := Ledger.FinishRun(context.Background(), id, faces, frames, runErr); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Failed to record run: %v\n", err)
		}
	}
}
