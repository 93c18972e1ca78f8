package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/anonymizer/internal/pipeline"
	"github.com/andresmejia3/anonymizer/internal/server"
	"github.com/andresmejia3/anonymizer/internal/utils"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	engineOptions
	Addr      string
	StaticDir string
	WorkDir   string
	MaxUpload int64
	Webcam    bool
	Device    string
}

var serveOpts serveOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the upload UI and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runServe(cmd.Context(), serveOpts)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveOpts.Addr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveOpts.StaticDir, "static", "", "Serve the UI from this directory instead of the bundled page")
	serveCmd.Flags().StringVar(&serveOpts.WorkDir, "workdir", "", "Directory for uploaded videos and results (default: system temp)")
	serveCmd.Flags().Int64Var(&serveOpts.MaxUpload, "max-upload", server.DefaultMaxUpload, "Largest accepted upload in bytes")
	serveCmd.Flags().BoolVar(&serveOpts.Webcam, "webcam", false, "Stream the blurred camera feed on /api/preview")
	serveCmd.Flags().StringVar(&serveOpts.Device, "device", "", "Camera device for --webcam (platform default when empty)")
	serveOpts.addFlags(serveCmd)

	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, opts serveOptions) error {
	if err := opts.engineOptions.validate(); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	factory := processorFactory(&opts.engineOptions)
	config := server.Config{
		StaticDir:    opts.StaticDir,
		NewProcessor: factory,
		Store:        Ledger,
		WorkDir:      opts.WorkDir,
		MaxUpload:    opts.MaxUpload,
	}

	liveErr := make(chan error, 1)
	if opts.Webcam {
		config.Preview = pipeline.NewMJPEGSink()
		go func() {
			err := servePreview(ctx, opts, config.Preview)
			if err != nil {
				utils.ShowError("Live preview stopped", err, nil)
			}
			liveErr <- err
		}()
	}

	srv := server.New(config)
	fmt.Fprintf(os.Stderr, "🌐 Listening on http://%s\n", displayAddr(opts.Addr))
	if err := srv.ListenAndServe(ctx, opts.Addr); err != nil {
		utils.ShowError("HTTP server failed", err, nil)
		return err
	}
	if opts.Webcam {
		cancel()
		<-liveErr
	}
	return nil
}

// servePreview blurs the camera feed into sink until ctx is cancelled.
func servePreview(ctx context.Context, opts serveOptions, sink *pipeline.MJPEGSink) error {
	proc, err := opts.newProcessor(ctx)
	if err != nil {
		return err
	}
	defer proc.Detector.Close()

	src, err := pipeline.OpenWebcam(ctx, opts.Device, pipeline.DefaultCaptureWidth, pipeline.DefaultCaptureHeight)
	if err != nil {
		return err
	}
	defer src.Close()

	finish := startRun(ctx, "serve:webcam", "webcam:"+opts.Device, "")
	res, err := proc.RunLive(ctx, src, sink)
	finish(res.Faces, res.Frames, err)
	return err
}
