package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/anonymizer/internal/emotion"
	"github.com/andresmejia3/anonymizer/internal/pipeline"
	"github.com/andresmejia3/anonymizer/internal/utils"
	"github.com/spf13/cobra"
)

type emotionOptions struct {
	InputPath      string
	OutputPath     string
	Webcam         bool
	Device         string
	PreviewAddr    string
	Window         bool
	ClassifierPath string
	Confidence     float64
	DrawMesh       bool
	WorkerTimeout  string
}

var emotionOpts emotionOptions

var emotionCmd = &cobra.Command{
	Use:   "emotion",
	Short: "Label the facial expression (HAPPY, NEUTRAL, SAD) in an image or the webcam feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runEmotion(cmd.Context(), emotionOpts)
	},
}

func init() {
	emotionCmd.Flags().StringVarP(&emotionOpts.InputPath, "input", "i", "", "Path to input image")
	emotionCmd.Flags().StringVarP(&emotionOpts.OutputPath, "output", "o", "", "Path to the annotated image, or a recording in webcam mode")
	emotionCmd.Flags().BoolVar(&emotionOpts.Webcam, "webcam", false, "Read from the camera instead of an image")
	emotionCmd.Flags().StringVar(&emotionOpts.Device, "device", "", "Camera device (platform default when empty)")
	emotionCmd.Flags().StringVar(&emotionOpts.PreviewAddr, "preview-addr", "", "Serve the annotated webcam feed as MJPEG on this address")
	emotionCmd.Flags().BoolVar(&emotionOpts.Window, "window", false, "Show the annotated webcam feed in a window (requires the gocv build tag)")
	emotionCmd.Flags().StringVar(&emotionOpts.ClassifierPath, "classifier", emotion.DefaultClassifierPath, "Trained expression classifier")
	emotionCmd.Flags().Float64VarP(&emotionOpts.Confidence, "confidence", "c", 0.5, "Minimum face mesh detection confidence")
	emotionCmd.Flags().BoolVar(&emotionOpts.DrawMesh, "draw-mesh", false, "Plot the face landmarks")
	emotionCmd.Flags().StringVar(&emotionOpts.WorkerTimeout, "worker-timeout", "30s", "Timeout for the sidecar to answer a single frame")

	rootCmd.AddCommand(emotionCmd)
}

func validateEmotionFlags(opts *emotionOptions) error {
	if opts.Webcam == (opts.InputPath != "") {
		return errors.New("exactly one of --input or --webcam is required")
	}
	if !opts.Webcam {
		if err := utils.ValidateInputFile(opts.InputPath); err != nil {
			return err
		}
	} else if !opts.Window && opts.PreviewAddr == "" && opts.OutputPath == "" {
		return errors.New("webcam mode needs an output: --window, --preview-addr or --output")
	}
	if opts.Confidence <= 0 || opts.Confidence > 1.0 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0, got %f", opts.Confidence)
	}
	if _, err := time.ParseDuration(opts.WorkerTimeout); err != nil {
		return fmt.Errorf("invalid worker-timeout format (use '30s', '1m'): %w", err)
	}
	return nil
}

func runEmotion(ctx context.Context, opts emotionOptions) error {
	if err := validateEmotionFlags(&opts); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	timeout, _ := time.ParseDuration(opts.WorkerTimeout)
	model, err := emotion.NewWorkerModel(ctx, emotion.Config{
		ClassifierPath: opts.ClassifierPath,
		MinConfidence:  opts.Confidence,
		Timeout:        timeout,
	})
	if err != nil {
		utils.ShowError("Failed to start emotion model", err, nil)
		return err
	}
	defer model.Close()

	rec := emotion.NewRecognizer(model, model)
	rec.DrawMesh = opts.DrawMesh

	if opts.Webcam {
		err = emotionWebcam(ctx, rec, opts)
	} else {
		err = emotionImage(ctx, rec, opts)
	}
	if err != nil {
		utils.ShowError("Emotion recognition failed", err, model.Command())
		return err
	}
	return nil
}

func emotionImage(ctx context.Context, rec *emotion.Recognizer, opts emotionOptions) error {
	src, err := pipeline.OpenImage(opts.InputPath)
	if err != nil {
		return err
	}
	out, err := utils.PrepareOutput(opts.InputPath, opts.OutputPath)
	if err != nil {
		return err
	}
	if out, err = filepath.Abs(out); err != nil {
		return err
	}
	sink, err := pipeline.NewImageSink(out)
	if err != nil {
		return err
	}

	finish := startRun(ctx, "emotion:image", opts.InputPath, out)
	frame, err := src.Next(ctx)
	if err != nil {
		finish(0, 0, err)
		return err
	}
	res, err := rec.Annotate(frame)
	if err == nil {
		err = sink.Write(frame)
	}
	faces := 0
	if res.Found {
		faces = 1
	}
	finish(faces, 1, err)
	if err != nil {
		return err
	}

	if res.Found {
		fmt.Fprintf(os.Stderr, "🙂 Expression: %s\n", res.Label)
	} else {
		fmt.Fprintln(os.Stderr, "No face found.")
	}
	fmt.Fprintf(os.Stderr, "💾 Saved to %s\n", out)
	return nil
}

func emotionWebcam(ctx context.Context, rec *emotion.Recognizer, opts emotionOptions) error {
	src, err := pipeline.OpenWebcam(ctx, opts.Device, pipeline.DefaultCaptureWidth, pipeline.DefaultCaptureHeight)
	if err != nil {
		return err
	}
	defer src.Close()

	sinks, cleanup, err := liveSinks(ctx, src.Info(), opts.Window, opts.PreviewAddr, opts.OutputPath)
	if err != nil {
		return err
	}
	defer cleanup()

	finish := startRun(ctx, "emotion:webcam", "webcam:"+opts.Device, opts.OutputPath)
	fmt.Fprintln(os.Stderr, "📷 Camera running. Press Ctrl+C to stop.")
	res, err := pipeline.RunLive(ctx, src, rec.ProcessFrame, sinks...)
	finish(res.Faces, res.Frames, err)
	return err
}
