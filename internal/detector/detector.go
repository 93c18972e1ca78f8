// Package detector wraps the face detection backends behind a single interface.
package detector

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/andresmejia3/anonymizer/internal/types"
	"github.com/andresmejia3/anonymizer/internal/utils"
	"github.com/disintegration/imaging"
)

// Detector finds faces in a frame.
type Detector interface {
	// Detect returns the faces found in img as boxes normalized to the frame size.
	Detect(img *image.RGBA) ([]types.Detection, error)
	// Close releases any resources held by the detector.
	Close() error
}

// Backend names accepted by New.
const (
	KindPigo      = "pigo"
	KindMediaPipe = "mediapipe"
	KindYuNet     = "yunet"
)

// Kinds lists the supported backends, default first.
var Kinds = []string{KindPigo, KindMediaPipe, KindYuNet}

// Config holds detector settings shared by all backends.
type Config struct {
	// MinConfidence drops detections scored below it. Range (0, 1].
	MinConfidence float64
	// Model selects the variant: 0 for faces close to the camera, 1 for faces further away.
	Model int
	// CascadePath is the pigo facefinder cascade file.
	CascadePath string
	// ModelPath is the YuNet ONNX model.
	ModelPath string
	// WorkerCommand launches the detection sidecar.
	WorkerCommand []string
	// WorkerTimeout bounds a single sidecar request.
	WorkerTimeout time.Duration
}

// DefaultConfig returns the settings used when no flags are given.
func DefaultConfig() Config {
	cascade := os.Getenv("FACEFINDER_CASCADE")
	if cascade == "" {
		cascade = "cascade/facefinder"
	}
	model := os.Getenv("YUNET_MODEL")
	if model == "" {
		model = "models/face_detection_yunet_2023mar.onnx"
	}
	return Config{
		MinConfidence: 0.5,
		Model:         0,
		CascadePath:   cascade,
		ModelPath:     model,
		WorkerTimeout: 30 * time.Second,
	}
}

// Validate checks the detector settings.
func (c Config) Validate() error {
	if c.MinConfidence <= 0 || c.MinConfidence > 1.0 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0, got %f", c.MinConfidence)
	}
	if c.Model != 0 && c.Model != 1 {
		return fmt.Errorf("model must be 0 (short range) or 1 (full range), got %d", c.Model)
	}
	return nil
}

// New builds the detector named by kind. An empty kind selects pigo.
func New(ctx context.Context, kind string, cfg Config) (Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch kind {
	case "", KindPigo:
		return NewPigoDetector(cfg)
	case KindMediaPipe:
		return NewMediaPipeDetector(ctx, cfg)
	case KindYuNet:
		return NewYuNetDetector(cfg)
	default:
		return nil, fmt.Errorf("unknown detector '%s'. Must be one of: pigo, mediapipe, yunet", kind)
	}
}

// CommandOf returns the sidecar process behind d, if any, so its logs can be shown on failure.
func CommandOf(d Detector) *utils.SafeCommand {
	if c, ok := d.(interface{ Command() *utils.SafeCommand }); ok {
		return c.Command()
	}
	return nil
}

// encodeJPEG serializes a frame for the sidecar.
func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// filterScore keeps the detections scored at or above min.
func filterScore(dets []types.Detection, min float64) []types.Detection {
	out := dets[:0]
	for _, d := range dets {
		if d.Score >= min {
			out = append(out, d)
		}
	}
	return out
}
