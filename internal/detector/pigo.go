package detector

import (
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	"github.com/andresmejia3/anonymizer/internal/types"
	pigo "github.com/esimov/pigo/core"
)

// Minimum face side in pixels per model variant.
const (
	shortRangeMinSize = 40
	fullRangeMinSize  = 20
)

// PigoDetector runs the pure Go pigo cascade in process.
type PigoDetector struct {
	classifier *pigo.Pigo
	cfg        Config
	mu         sync.Mutex
}

// NewPigoDetector loads the facefinder cascade from cfg.CascadePath.
func NewPigoDetector(cfg Config) (*PigoDetector, error) {
	cascadeFile, err := os.ReadFile(cfg.CascadePath)
	if err != nil {
		return nil, fmt.Errorf("error reading the cascade file %s: %w", cfg.CascadePath, err)
	}
	return NewPigoDetectorFromBytes(cascadeFile, cfg)
}

// NewPigoDetectorFromBytes unpacks an in-memory cascade.
func NewPigoDetectorFromBytes(cascade []byte, cfg Config) (*PigoDetector, error) {
	p := pigo.NewPigo()
	// Unpack the binary file. This will return the number of cascade trees,
	// the tree depth, the threshold and the prediction from tree's leaf nodes.
	classifier, err := p.Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("error unpacking the cascade file: %w", err)
	}
	return &PigoDetector{classifier: classifier, cfg: cfg}, nil
}

// Detect implements Detector.
func (d *PigoDetector) Detect(img *image.RGBA) ([]types.Detection, error) {
	src := pigo.ImgToNRGBA(img)
	pixels := pigo.RgbToGrayscale(src)
	cols, rows := src.Bounds().Dx(), src.Bounds().Dy()
	if cols == 0 || rows == 0 {
		return nil, nil
	}

	minSize := shortRangeMinSize
	if d.cfg.Model == 1 {
		minSize = fullRangeMinSize
	}

	cParams := pigo.CascadeParams{
		MinSize:     minSize,
		MaxSize:     max(cols, rows),
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,

		ImageParams: pigo.ImageParams{
			Pixels: pixels,
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	d.mu.Lock()
	// Run the classifier over the obtained leaf nodes and return the detection results.
	// The result contains quadruplets representing the row, column, scale and detection score.
	dets := d.classifier.RunCascade(cParams, 0.0)
	// Calculate the intersection over union (IoU) of two clusters.
	dets = d.classifier.ClusterDetections(dets, 0.2)
	d.mu.Unlock()

	return fromPigo(dets, cols, rows, d.cfg.MinConfidence), nil
}

// Close implements Detector.
func (d *PigoDetector) Close() error { return nil }

// pigoScore maps a cascade quality onto [0,1]; Q 10 and above saturates.
func pigoScore(q float32) float64 {
	return math.Max(0, math.Min(float64(q)/10.0, 1.0))
}

// fromPigo converts centre/scale detections into normalized boxes.
func fromPigo(dets []pigo.Detection, cols, rows int, minConfidence float64) []types.Detection {
	out := make([]types.Detection, 0, len(dets))
	for _, det := range dets {
		score := pigoScore(det.Q)
		if score < minConfidence {
			continue
		}
		half := float64(det.Scale) / 2
		out = append(out, types.Detection{
			X:      (float64(det.Col) - half) / float64(cols),
			Y:      (float64(det.Row) - half) / float64(rows),
			Width:  float64(det.Scale) / float64(cols),
			Height: float64(det.Scale) / float64(rows),
			Score:  score,
		})
	}
	return out
}
