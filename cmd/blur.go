package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/anonymizer/internal/detector"
	"github.com/andresmejia3/anonymizer/internal/pipeline"
	"github.com/andresmejia3/anonymizer/internal/utils"
	"github.com/spf13/cobra"
)

// Input modes of the blur command.
const (
	modeImage  = "image"
	modeVideo  = "video"
	modeWebcam = "webcam"
)

type blurOptions struct {
	engineOptions
	Mode        string
	InputPath   string
	OutputPath  string
	Device      string
	Record      string
	PreviewAddr string
	Window      bool
}

var blurOpts blurOptions

var blurCmd = &cobra.Command{
	Use:   "blur",
	Short: "Blur every face in an image, a video or a live camera feed",
	Example: `  anonymizer blur --mode image -i group.png
  anonymizer blur --mode video -i clip.mp4 -o clip_blurred.mp4 -k 60
  anonymizer blur --mode webcam --preview-addr :8081`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runBlur(cmd.Context(), blurOpts)
	},
}

func init() {
	blurCmd.Flags().StringVarP(&blurOpts.Mode, "mode", "m", modeImage, "Input mode: image, video, webcam")
	blurCmd.Flags().StringVarP(&blurOpts.InputPath, "input", "i", "", "Path to input image or video")
	blurCmd.Flags().StringVarP(&blurOpts.OutputPath, "output", "o", "", "Path to output file (default <input>_o<ext>)")
	blurCmd.Flags().StringVar(&blurOpts.Device, "device", "", "Camera device for webcam mode (platform default when empty)")
	blurCmd.Flags().StringVar(&blurOpts.Record, "record", "", "Also record the blurred webcam feed to this video file")
	blurCmd.Flags().StringVar(&blurOpts.PreviewAddr, "preview-addr", "", "Serve the blurred webcam feed as MJPEG on this address (e.g. :8081)")
	blurCmd.Flags().BoolVar(&blurOpts.Window, "window", false, "Show the blurred webcam feed in a window (requires the gocv build tag)")
	blurOpts.addFlags(blurCmd)

	rootCmd.AddCommand(blurCmd)
}

func validateBlurFlags(opts *blurOptions) error {
	switch opts.Mode {
	case modeImage, modeVideo:
		if opts.InputPath == "" {
			return fmt.Errorf("--input is required in %s mode", opts.Mode)
		}
		if err := utils.ValidateInputFile(opts.InputPath); err != nil {
			return err
		}
	case modeWebcam:
		if opts.InputPath != "" {
			return fmt.Errorf("--input is not used in webcam mode")
		}
		if opts.Record == "" {
			opts.Record = opts.OutputPath
		}
		if !opts.Window && opts.PreviewAddr == "" && opts.Record == "" {
			return errors.New("webcam mode needs an output: --window, --preview-addr or --record")
		}
	default:
		return fmt.Errorf("invalid mode '%s'. Must be one of: image, video, webcam", opts.Mode)
	}
	return opts.engineOptions.validate()
}

func runBlur(ctx context.Context, opts blurOptions) error {
	if err := validateBlurFlags(&opts); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	if err := resolveBlurOutput(&opts); err != nil {
		utils.ShowError("Invalid output path", err, nil)
		return err
	}

	proc, err := opts.newProcessor(ctx)
	if err != nil {
		utils.ShowError("Failed to start face detector", err, nil)
		return err
	}
	defer proc.Detector.Close()

	input := opts.InputPath
	output := opts.OutputPath
	if opts.Mode == modeWebcam {
		input = "webcam:" + opts.Device
		output = opts.Record
	}
	finish := startRun(ctx, "blur:"+opts.Mode, input, output)

	var res pipeline.Result
	switch opts.Mode {
	case modeImage:
		res, err = proc.ProcessImage(ctx, opts.InputPath, opts.OutputPath)
	case modeVideo:
		res, err = blurVideo(ctx, proc, opts)
	case modeWebcam:
		res, err = blurWebcam(ctx, proc, opts)
	}
	finish(res.Faces, res.Frames, err)

	if err != nil {
		utils.ShowError("Blur failed", err, detector.CommandOf(proc.Detector))
		return err
	}

	fmt.Fprintf(os.Stderr, "👤 Faces detected: %d\n", res.Faces)
	if res.Output != "" {
		fmt.Fprintf(os.Stderr, "💾 Saved to %s\n", res.Output)
	}
	return nil
}

// resolveBlurOutput fills in the derived output path and makes it absolute,
// so the ledger can find the file again from any directory.
func resolveBlurOutput(opts *blurOptions) error {
	if opts.Mode == modeWebcam {
		if opts.Record == "" {
			return nil
		}
		abs, err := filepath.Abs(opts.Record)
		if err != nil {
			return err
		}
		opts.Record = abs
		return nil
	}

	out, err := utils.PrepareOutput(opts.InputPath, opts.OutputPath)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(out)
	if err != nil {
		return err
	}
	opts.OutputPath = abs
	return nil
}

func blurVideo(ctx context.Context, proc *pipeline.Processor, opts blurOptions) (pipeline.Result, error) {
	// The source reports the frame count with its first progress update.
	bar := pipeline.NewBar("🎬 Blurring", 0)
	res, err := proc.ProcessVideo(ctx, opts.InputPath, opts.OutputPath, bar.Update)
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	return res, err
}

func blurWebcam(ctx context.Context, proc *pipeline.Processor, opts blurOptions) (pipeline.Result, error) {
	src, err := pipeline.OpenWebcam(ctx, opts.Device, pipeline.DefaultCaptureWidth, pipeline.DefaultCaptureHeight)
	if err != nil {
		return pipeline.Result{}, err
	}
	defer src.Close()

	sinks, cleanup, err := liveSinks(ctx, src.Info(), opts.Window, opts.PreviewAddr, opts.Record)
	if err != nil {
		return pipeline.Result{}, err
	}
	defer cleanup()

	fmt.Fprintln(os.Stderr, "📷 Camera running. Press Ctrl+C to stop.")
	res, err := proc.RunLive(ctx, src, sinks...)
	res.Output = opts.Record
	return res, err
}

// liveSinks opens the outputs of a live feed. cleanup closes all of them and
// stops the preview server.
func liveSinks(ctx context.Context, info pipeline.StreamInfo, window bool, previewAddr, record string) ([]pipeline.Sink, func(), error) {
	var (
		sinks []pipeline.Sink
		srv   *http.Server
	)
	cleanup := func() {
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			srv.Shutdown(shutdownCtx)
			cancel()
		}
		for _, s := range sinks {
			s.Close()
		}
	}

	if window {
		w, err := pipeline.NewWindowSink("Anonymizer")
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, w)
	}

	if previewAddr != "" {
		mjpeg := pipeline.NewMJPEGSink()
		sinks = append(sinks, mjpeg)
		srv = &http.Server{Addr: previewAddr, Handler: mjpeg}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "⚠️  Preview server stopped: %v\n", err)
			}
		}()
		fmt.Fprintf(os.Stderr, "🌐 Live preview on http://%s\n", displayAddr(previewAddr))
	}

	if record != "" {
		v, err := pipeline.OpenVideoSink(ctx, record, info)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		sinks = append(sinks, v)
	}

	if len(sinks) == 0 {
		cleanup()
		return nil, nil, errors.New("webcam mode needs an output: --window, --preview-addr or --record")
	}
	return sinks, cleanup, nil
}

// displayAddr turns ":8080" into "localhost:8080".
func displayAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
