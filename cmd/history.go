package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/anonymizer/internal/store"
	"github.com/andresmejia3/anonymizer/internal/utils"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runHistory(cmd.Context(), os.Stdout, Ledger, historyLimit)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(ctx context.Context, out io.Writer, ledger store.Store, limit int) error {
	runs, err := ledger.ListRuns(ctx, limit)
	if err != nil {
		utils.ShowError("Failed to list runs", err, nil)
		return err
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tCOMMAND\tINPUT\tSTATUS\tFACES\tFRAMES\tDURATION\tSTARTED")
	fmt.Fprintln(w, "--\t-------\t-----\t------\t-----\t------\t--------\t-------")

	for _, r := range runs {
		status := string(r.Status)
		if r.Error != "" {
			status += ": " + truncate(r.Error, 40)
		}
		duration := "-"
		if !r.FinishedAt.IsZero() {
			duration = r.Duration().Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			shortID(r.ID), r.Command, filepath.Base(r.Input), status, r.Faces, r.Frames,
			duration, r.StartedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
