package emotion

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/andresmejia3/anonymizer/internal/types"
	"github.com/andresmejia3/anonymizer/internal/utils"
	"github.com/andresmejia3/anonymizer/internal/worker"
	"github.com/disintegration/imaging"
)

// DefaultClassifierPath is the pickled model loaded by the sidecar.
const DefaultClassifierPath = "models/emotion_model"

type meshWorker interface {
	Mesh(jpeg []byte) (*types.FaceMesh, error)
	Classify(features []float64) (int, error)
	Close() error
}

// Config controls the sidecar used for emotion recognition.
type Config struct {
	Command        []string
	ClassifierPath string
	// MinConfidence is the face mesh detection threshold.
	MinConfidence float64
	Timeout       time.Duration
}

// WorkerModel serves both landmarks and classification from one sidecar.
type WorkerModel struct {
	mu  sync.Mutex
	w   meshWorker
	cmd *utils.SafeCommand
}

// NewWorkerModel starts the sidecar with the classifier loaded.
func NewWorkerModel(ctx context.Context, cfg Config) (*WorkerModel, error) {
	if cfg.ClassifierPath == "" {
		cfg.ClassifierPath = DefaultClassifierPath
	}
	if err := utils.ValidateInputFile(cfg.ClassifierPath); err != nil {
		return nil, fmt.Errorf("emotion classifier: %w", err)
	}
	w, err := worker.NewPythonWorker(ctx, 0, worker.Config{
		Command:        cfg.Command,
		MinConfidence:  cfg.MinConfidence,
		ClassifierPath: cfg.ClassifierPath,
		ReadTimeout:    cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start emotion worker: %w", err)
	}
	return &WorkerModel{w: w, cmd: w.Cmd}, nil
}

// Landmarks implements Landmarker.
func (m *WorkerModel) Landmarks(img *image.RGBA) (*types.FaceMesh, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.w.Mesh(buf.Bytes())
}

// Classify implements Classifier.
func (m *WorkerModel) Classify(features []float64) (int, error) {
	if len(features) != FeatureSize {
		return 0, fmt.Errorf("expected %d features, got %d", FeatureSize, len(features))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.w.Classify(features)
}

// Command exposes the sidecar so its stderr can be dumped on failure.
func (m *WorkerModel) Command() *utils.SafeCommand { return m.cmd }

// Close stops the sidecar.
func (m *WorkerModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.w.Close()
}
