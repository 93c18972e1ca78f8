//go:build !gocv
// +build !gocv

package detector

import (
	"errors"
	"image"

	"github.com/andresmejia3/anonymizer/internal/types"
)

// ErrNoGoCV is returned by the YuNet backend when built without the gocv tag.
var ErrNoGoCV = errors.New("gocv build tag is not enabled")

// YuNetDetector is unavailable without OpenCV.
type YuNetDetector struct{}

// NewYuNetDetector always fails without the gocv build tag.
func NewYuNetDetector(cfg Config) (*YuNetDetector, error) {
	_ = cfg
	return nil, ErrNoGoCV
}

// Detect implements Detector.
func (d *YuNetDetector) Detect(img *image.RGBA) ([]types.Detection, error) {
	_ = img
	return nil, ErrNoGoCV
}

// Close implements Detector.
func (d *YuNetDetector) Close() error { return nil }
