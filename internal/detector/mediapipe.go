package detector

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/andresmejia3/anonymizer/internal/types"
	"github.com/andresmejia3/anonymizer/internal/utils"
	"github.com/andresmejia3/anonymizer/internal/worker"
)

// frameWorker is the part of the sidecar the detector needs.
type frameWorker interface {
	Detect(jpeg []byte) ([]types.Detection, error)
	Close() error
}

// MediaPipeDetector delegates detection to the MediaPipe sidecar process.
// The sidecar applies model_selection and min_detection_confidence itself.
type MediaPipeDetector struct {
	w       frameWorker
	cmd     *utils.SafeCommand
	minConf float64
	mu      sync.Mutex
}

// NewMediaPipeDetector starts the sidecar.
func NewMediaPipeDetector(ctx context.Context, cfg Config) (*MediaPipeDetector, error) {
	w, err := worker.NewPythonWorker(ctx, 0, worker.Config{
		Command:        cfg.WorkerCommand,
		ModelSelection: cfg.Model,
		MinConfidence:  cfg.MinConfidence,
		ReadTimeout:    cfg.WorkerTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start detection worker: %w", err)
	}
	return &MediaPipeDetector{w: w, cmd: w.Cmd, minConf: cfg.MinConfidence}, nil
}

// Detect implements Detector.
func (d *MediaPipeDetector) Detect(img *image.RGBA) ([]types.Detection, error) {
	data, err := encodeJPEG(img)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	dets, err := d.w.Detect(data)
	if err != nil {
		return nil, err
	}
	return filterScore(dets, d.minConf), nil
}

// Command exposes the sidecar so its stderr can be dumped on failure.
func (d *MediaPipeDetector) Command() *utils.SafeCommand { return d.cmd }

// Close implements Detector.
func (d *MediaPipeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.w.Close()
}
