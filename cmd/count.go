package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/anonymizer/internal/detector"
	"github.com/andresmejia3/anonymizer/internal/pipeline"
	"github.com/andresmejia3/anonymizer/internal/utils"
	"github.com/spf13/cobra"
)

type countOptions struct {
	engineOptions
	InputPath   string
	NthFrame    int
	GracePeriod string
}

var countOpts countOptions

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count faces in an image, or find where faces appear in a video",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runCount(cmd.Context(), os.Stdout, countOpts)
	},
}

func init() {
	countCmd.Flags().StringVarP(&countOpts.InputPath, "input", "i", "", "Path to image or video")
	countCmd.Flags().IntVarP(&countOpts.NthFrame, "nth-frame", "n", 10, "Detection interval for videos (e.g. scan every 10th frame)")
	countCmd.Flags().StringVarP(&countOpts.GracePeriod, "grace-period", "g", "2s", "The longest period without faces that still counts as the same appearance")
	countOpts.addFlags(countCmd)

	countCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(countCmd)
}

func validateCountFlags(opts *countOptions) error {
	if err := utils.ValidateInputFile(opts.InputPath); err != nil {
		return err
	}
	if opts.NthFrame < 1 {
		return fmt.Errorf("nth-frame must be >= 1, got %d", opts.NthFrame)
	}
	if _, err := time.ParseDuration(opts.GracePeriod); err != nil {
		return fmt.Errorf("invalid grace-period format (use '2s', '500ms'): %w", err)
	}
	return opts.engineOptions.validate()
}

func runCount(ctx context.Context, out io.Writer, opts countOptions) error {
	if err := validateCountFlags(&opts); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	proc, err := opts.newProcessor(ctx)
	if err != nil {
		utils.ShowError("Failed to start face detector", err, nil)
		return err
	}
	defer proc.Detector.Close()

	finish := startRun(ctx, "count", opts.InputPath, "")

	// Anything that decodes as an image is counted as one.
	if src, err := pipeline.OpenImage(opts.InputPath); err == nil {
		faces, err := countImage(ctx, proc, src)
		finish(faces, 1, err)
		if err != nil {
			utils.ShowError("Face detection failed", err, detector.CommandOf(proc.Detector))
			return err
		}
		fmt.Fprintf(out, "👤 Faces detected: %d\n", faces)
		return nil
	}

	sum, err := scanVideo(ctx, proc, opts)
	finish(sum.Detections, sum.Frames, err)
	if err != nil {
		utils.ShowError("Scan failed", err, detector.CommandOf(proc.Detector))
		return err
	}
	printScanSummary(out, sum)
	return nil
}

func countImage(ctx context.Context, proc *pipeline.Processor, src pipeline.Source) (int, error) {
	frame, err := src.Next(ctx)
	if err != nil {
		return 0, err
	}
	return proc.CountFaces(frame)
}

func scanVideo(ctx context.Context, proc *pipeline.Processor, opts countOptions) (pipeline.ScanSummary, error) {
	src, err := pipeline.OpenVideo(ctx, opts.InputPath)
	if err != nil {
		return pipeline.ScanSummary{}, err
	}
	defer src.Close()

	grace, _ := time.ParseDuration(opts.GracePeriod)
	bar := pipeline.NewBar("🔍 Scanning", src.Info().TotalFrames)
	sum, err := proc.Scan(ctx, src, pipeline.ScanOptions{NthFrame: opts.NthFrame, GracePeriod: grace}, bar.Update)
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	return sum, err
}

func printScanSummary(out io.Writer, sum pipeline.ScanSummary) {
	fmt.Fprintf(out, "🏁 Scanned %d of %d frames.\n", sum.Sampled, sum.Frames)
	fmt.Fprintf(out, "👤 Detections: %d (at most %d in one frame)\n", sum.Detections, sum.MaxFaces)
	if len(sum.Ranges) == 0 {
		fmt.Fprintln(out, "No faces found.")
		return
	}
	fmt.Fprintln(out, "Faces visible:")
	for _, r := range sum.Ranges {
		fmt.Fprintf(out, "  %s - %s\n", utils.FmtTime(r.Start), utils.FmtTime(r.End))
	}
}
