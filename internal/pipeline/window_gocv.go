//go:build gocv
// +build gocv

package pipeline

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ErrWindowClosed is returned once the user presses 'q' or Esc in the preview window.
var ErrWindowClosed = errors.New("preview window closed")

// WindowSink shows frames in an OpenCV window.
type WindowSink struct {
	window *gocv.Window
}

// NewWindowSink opens a window titled title.
func NewWindowSink(title string) (*WindowSink, error) {
	return &WindowSink{window: gocv.NewWindow(title)}, nil
}

// Write implements Sink.
func (s *WindowSink) Write(img *image.RGBA) error {
	rgba, err := gocv.ImageToMatRGBA(img)
	if err != nil {
		return fmt.Errorf("convert frame: %w", err)
	}
	defer rgba.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)

	s.window.IMShow(bgr)
	switch s.window.WaitKey(1) {
	case 'q', 27:
		return ErrWindowClosed
	}
	return nil
}

// Close implements Sink.
func (s *WindowSink) Close() error {
	return s.window.Close()
}
