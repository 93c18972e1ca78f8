package pipeline

import (
	"context"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/andresmejia3/anonymizer/internal/utils"
	"github.com/disintegration/imaging"
)

// Sink consumes processed frames in order.
type Sink interface {
	Write(img *image.RGBA) error
	Close() error
}

// FormatFromName picks the still image codec for a file name or bare extension.
func FormatFromName(name string) (imaging.Format, error) {
	if !strings.Contains(name, ".") {
		name = "." + name
	}
	return imaging.FormatFromFilename(name)
}

// EncodeImage writes img to w in the given format.
func EncodeImage(w io.Writer, img image.Image, format imaging.Format) error {
	if err := imaging.Encode(w, img, format, imaging.JPEGQuality(95)); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return nil
}

// ImageSink saves a single frame to a file, the codec chosen by extension.
type ImageSink struct {
	path string
}

// NewImageSink validates the extension of path.
func NewImageSink(path string) (*ImageSink, error) {
	if _, err := imaging.FormatFromFilename(path); err != nil {
		return nil, fmt.Errorf("unsupported output format %s: %w", path, err)
	}
	return &ImageSink{path: path}, nil
}

// Write implements Sink.
func (s *ImageSink) Write(img *image.RGBA) error {
	if err := imaging.Save(img, s.path, imaging.JPEGQuality(95)); err != nil {
		return fmt.Errorf("failed to save image %s: %w", s.path, err)
	}
	return nil
}

// Close implements Sink.
func (s *ImageSink) Close() error { return nil }

// VideoSink pipes raw RGBA frames into an ffmpeg encoder.
type VideoSink struct {
	cmd    *utils.SafeCommand
	in     io.WriteCloser
	width  int
	height int
	closed bool
}

// OpenVideoSink starts an encoder matching the rate and size of info.
func OpenVideoSink(ctx context.Context, path string, info StreamInfo) (*VideoSink, error) {
	rate := info.FrameRate
	if rate == "" {
		rate = fmt.Sprintf("%g", info.FPS)
	}
	enc := utils.NewFFmpegEncoder(ctx, path, rate, info.Width, info.Height)
	in, err := enc.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder pipe: %w", err)
	}
	if err := enc.Start(); err != nil {
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}
	return newVideoSink(enc, in, info.Width, info.Height), nil
}

func newVideoSink(cmd *utils.SafeCommand, in io.WriteCloser, width, height int) *VideoSink {
	return &VideoSink{cmd: cmd, in: in, width: width, height: height}
}

// Write implements Sink. The frame must match the encoder size.
func (s *VideoSink) Write(img *image.RGBA) error {
	b := img.Bounds()
	if b.Dx() != s.width || b.Dy() != s.height {
		return fmt.Errorf("frame size %dx%d does not match output %dx%d", b.Dx(), b.Dy(), s.width, s.height)
	}

	rowBytes := s.width * 4
	if img.Stride == rowBytes {
		off := img.PixOffset(b.Min.X, b.Min.Y)
		_, err := s.in.Write(img.Pix[off : off+rowBytes*s.height])
		return err
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		if _, err := s.in.Write(img.Pix[off : off+rowBytes]); err != nil {
			return err
		}
	}
	return nil
}

// Command exposes the encoder so its stderr can be dumped on failure.
func (s *VideoSink) Command() *utils.SafeCommand { return s.cmd }

// Close flushes the encoder and waits for it to finish the file.
func (s *VideoSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.in.Close()
	if s.cmd == nil {
		return nil
	}
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("encoder process failed: %w: %s", err, strings.TrimSpace(s.cmd.Stderr.String()))
	}
	return nil
}
