//go:build !gocv
// +build !gocv

package pipeline

import (
	"errors"
	"image"
)

// ErrWindowClosed is returned once the user closes the preview window.
var ErrWindowClosed = errors.New("preview window closed")

// WindowSink needs OpenCV; without the gocv build tag it cannot be opened.
type WindowSink struct{}

// NewWindowSink always fails without the gocv build tag.
func NewWindowSink(title string) (*WindowSink, error) {
	_ = title
	return nil, errors.New("gocv build tag is not enabled, use --preview-addr for a browser preview")
}

// Write implements Sink.
func (s *WindowSink) Write(img *image.RGBA) error { return nil }

// Close implements Sink.
func (s *WindowSink) Close() error { return nil }
