//go:build gocv
// +build gocv

package detector

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/andresmejia3/anonymizer/internal/types"
	"gocv.io/x/gocv"
)

// YuNetDetector uses OpenCV's FaceDetectorYN.
type YuNetDetector struct {
	detector gocv.FaceDetectorYN
	cfg      Config
	mu       sync.Mutex // Protects inference
}

// NewYuNetDetector loads the ONNX model at cfg.ModelPath.
func NewYuNetDetector(cfg Config) (*YuNetDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	// Input size is updated per frame
	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath,
		"",
		image.Pt(320, 320),
		float32(cfg.MinConfidence),
		0.3,
		5000,
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)

	return &YuNetDetector{detector: detector, cfg: cfg}, nil
}

// Detect implements Detector.
func (d *YuNetDetector) Detect(img *image.RGBA) ([]types.Detection, error) {
	rgba, err := gocv.ImageToMatRGBA(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer rgba.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)
	if bgr.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	imgW := float64(bgr.Cols())
	imgH := float64(bgr.Rows())

	d.mu.Lock()
	defer d.mu.Unlock()
	d.detector.SetInputSize(image.Pt(bgr.Cols(), bgr.Rows()))

	faces := gocv.NewMat()
	defer faces.Close()
	d.detector.Detect(bgr, &faces)

	// Rows are [x, y, w, h, 5 landmark pairs, score]
	dets := make([]types.Detection, 0, faces.Rows())
	for r := 0; r < faces.Rows(); r++ {
		dets = append(dets, types.Detection{
			X:      float64(faces.GetFloatAt(r, 0)) / imgW,
			Y:      float64(faces.GetFloatAt(r, 1)) / imgH,
			Width:  float64(faces.GetFloatAt(r, 2)) / imgW,
			Height: float64(faces.GetFloatAt(r, 3)) / imgH,
			Score:  float64(faces.GetFloatAt(r, 14)),
		})
	}
	return filterScore(dets, d.cfg.MinConfidence), nil
}

// Close implements Detector.
func (d *YuNetDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detector.Close()
	return nil
}
