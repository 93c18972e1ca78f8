package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/anonymizer/internal/detector"
	"github.com/andresmejia3/anonymizer/internal/pipeline"
	"github.com/andresmejia3/anonymizer/internal/redact"
	"github.com/andresmejia3/anonymizer/internal/settings"
	"github.com/spf13/cobra"
)

// engineOptions are the detector and redaction flags shared by every command that blurs.
type engineOptions struct {
	Detector      string
	CascadePath   string
	ModelPath     string
	WorkerTimeout string
	Style         string
	DrawBoxes     bool
	Settings      settings.Settings
}

func (o *engineOptions) addFlags(cmd *cobra.Command) {
	def := detector.DefaultConfig()
	s := settings.Default()
	cmd.Flags().IntVarP(&o.Settings.Blur, "blur", "k", s.Blur, fmt.Sprintf("Blur intensity (%d-%d)", settings.MinBlur, settings.MaxBlur))
	cmd.Flags().Float64VarP(&o.Settings.Confidence, "confidence", "c", s.Confidence, "Minimum detection confidence (0.1-1.0)")
	cmd.Flags().IntVar(&o.Settings.Model, "model", s.Model, "Detection model: 0 for close faces, 1 for far faces")
	cmd.Flags().StringVar(&o.Detector, "detector", detector.KindPigo, "Face detector: pigo, mediapipe, yunet")
	cmd.Flags().StringVar(&o.CascadePath, "cascade", def.CascadePath, "Pigo facefinder cascade (env FACEFINDER_CASCADE)")
	cmd.Flags().StringVar(&o.ModelPath, "yunet-model", def.ModelPath, "YuNet ONNX model (env YUNET_MODEL)")
	cmd.Flags().StringVar(&o.WorkerTimeout, "worker-timeout", "30s", "Timeout for the detection sidecar to answer a single frame")
	cmd.Flags().StringVar(&o.Style, "style", string(redact.StyleBlur), "Redaction style: blur, pixel, black, secure")
	cmd.Flags().BoolVar(&o.DrawBoxes, "draw-boxes", false, "Outline detected faces")
}

// validate checks every flag before any process is started.
func (o *engineOptions) validate() error {
	if err := o.Settings.Validate(); err != nil {
		return err
	}
	if _, err := redact.ParseStyle(o.Style); err != nil {
		return err
	}
	if _, err := time.ParseDuration(o.WorkerTimeout); err != nil {
		return fmt.Errorf("invalid worker-timeout format (use '30s', '1m'): %w", err)
	}
	switch o.Detector {
	case detector.KindPigo, detector.KindMediaPipe, detector.KindYuNet:
	default:
		return fmt.Errorf("unknown detector '%s'. Must be one of: pigo, mediapipe, yunet", o.Detector)
	}
	return nil
}

func (o *engineOptions) detectorConfig(s settings.Settings) detector.Config {
	cfg := detector.DefaultConfig()
	cfg.MinConfidence = s.Confidence
	cfg.Model = s.Model
	cfg.CascadePath = o.CascadePath
	cfg.ModelPath = o.ModelPath
	if d, err := time.ParseDuration(o.WorkerTimeout); err == nil {
		cfg.WorkerTimeout = d
	}
	return cfg
}

func (o *engineOptions) pipelineOptions(s settings.Settings) pipeline.Options {
	return pipeline.Options{
		BlurIntensity: s.Blur,
		Style:         redact.Style(o.Style),
		DrawBoxes:     o.DrawBoxes,
	}
}

// factory builds processors for o. The pigo cascade is read once and
// shared, so per-request processors in serve and bot stay cheap.
func (o *engineOptions) factory() pipeline.ProcessorFactory {
	var (
		once    sync.Once
		cascade []byte
		readErr error
	)
	return func(ctx context.Context, s settings.Settings) (*pipeline.Processor, error) {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		cfg := o.detectorConfig(s)

		var (
			d   detector.Detector
			err error
		)
		if o.Detector == detector.KindPigo {
			once.Do(func() {
				cascade, readErr = os.ReadFile(cfg.CascadePath)
			})
			if readErr != nil {
				return nil, fmt.Errorf("error reading the cascade file %s: %w", cfg.CascadePath, readErr)
			}
			d, err = detector.NewPigoDetectorFromBytes(cascade, cfg)
		} else {
			d, err = detector.New(ctx, o.Detector, cfg)
		}
		if err != nil {
			return nil, err
		}
		return pipeline.NewProcessor(d, o.pipelineOptions(s)), nil
	}
}

// processorFactory is replaced in tests to run commands without a detector model.
var processorFactory = func(o *engineOptions) pipeline.ProcessorFactory { return o.factory() }

// newProcessor builds a single processor from the command line settings.
func (o *engineOptions) newProcessor(ctx context.Context) (*pipeline.Processor, error) {
	return processorFactory(o)(ctx, o.Settings)
}
