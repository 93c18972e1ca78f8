package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/anonymizer/internal/store"
	"github.com/andresmejia3/anonymizer/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetHistory bool
	resetOutputs bool
	resetYes     bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the run history and the files it produced",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing EVERYTHING
		if !resetHistory && !resetOutputs {
			resetHistory = true
			resetOutputs = true
		}
		return runReset(cmd.Context(), os.Stdin, os.Stdout, Ledger, resetHistory, resetOutputs, resetYes)
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetHistory, "history", false, "Clear the run history")
	resetCmd.Flags().BoolVar(&resetOutputs, "outputs", false, "Delete output files of recorded runs")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func runReset(ctx context.Context, in io.Reader, out io.Writer, ledger store.Store, history, outputs, yes bool) error {
	reader := bufio.NewReader(in)
	ask := func(prompt string) bool {
		return yes || confirm(reader, out, prompt)
	}

	// Outputs are found through the ledger, so they go first.
	if outputs {
		if ask("⚠️  Are you sure you want to delete all output files of recorded runs?") {
			fmt.Fprintln(out, "🗑️  Clearing Output Files...")
			runs, err := ledger.ListRuns(ctx, 0)
			if err != nil {
				utils.ShowError("Failed to list runs", err, nil)
				return err
			}
			for _, r := range runs {
				if r.Output != "" {
					removeFile(out, r.Output)
				}
			}
		}
	}

	if history {
		if ask("⚠️  Are you sure you want to DROP the run history?") {
			fmt.Fprintln(out, "🗑️  Clearing History...")
			if err := ledger.Reset(ctx); err != nil {
				utils.ShowError("Failed to reset history", err, nil)
				return err
			}
		}
	}

	fmt.Fprintln(out, "✨ Reset Complete.")
	return nil
}

func confirm(r *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeFile(out io.Writer, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(out, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
