// Package pipeline moves frames from a source, through a frame transform, into a sink.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"strings"

	"github.com/andresmejia3/anonymizer/internal/utils"
	"github.com/disintegration/imaging"
)

var (
	// ErrNoFrames is returned when a video yields no decodable frame.
	ErrNoFrames = errors.New("input contains no frames")
	// ErrCameraClosed is returned when a live capture ends without being cancelled.
	ErrCameraClosed = errors.New("camera stream closed")
)

// StreamInfo describes the frames a Source produces.
type StreamInfo struct {
	Width  int
	Height int
	// FrameRate is the rational rate string handed to the encoder.
	FrameRate string
	FPS       float64
	// TotalFrames is 0 when unknown (live capture, missing metadata).
	TotalFrames int
}

// Source yields frames in capture order.
type Source interface {
	// Next returns the next frame, or io.EOF once the source is exhausted.
	Next(ctx context.Context) (*image.RGBA, error)
	Info() StreamInfo
	Close() error
}

// toRGBA copies any decoded image into a zero-origin RGBA frame.
func toRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// --- Still images ---

// ImageSource yields exactly one decoded still image.
type ImageSource struct {
	frame *image.RGBA
	used  bool
}

// OpenImage decodes a JPEG, PNG, BMP, GIF or TIFF file, applying EXIF orientation.
func OpenImage(path string) (*ImageSource, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return &ImageSource{frame: toRGBA(img)}, nil
}

// DecodeImage decodes an in-memory image.
func DecodeImage(data []byte) (*ImageSource, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return &ImageSource{frame: toRGBA(img)}, nil
}

// Next implements Source.
func (s *ImageSource) Next(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.used {
		return nil, io.EOF
	}
	s.used = true
	return s.frame, nil
}

// Info implements Source.
func (s *ImageSource) Info() StreamInfo {
	b := s.frame.Bounds()
	return StreamInfo{Width: b.Dx(), Height: b.Dy(), TotalFrames: 1}
}

// Close implements Source.
func (s *ImageSource) Close() error { return nil }

// --- Raw ffmpeg streams ---

// rawStream reads fixed size RGBA frames from an ffmpeg stdout pipe.
type rawStream struct {
	info   StreamInfo
	cmd    *utils.SafeCommand
	out    io.ReadCloser
	waited bool
	// endErr is returned once the stream ends cleanly.
	endErr error
}

func startRaw(cmd *utils.SafeCommand, info StreamInfo, endErr error) (*rawStream, error) {
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start decoder: %w", err)
	}
	return &rawStream{info: info, cmd: cmd, out: out, endErr: endErr}, nil
}

// Next implements Source.
func (s *rawStream) Next(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.waited {
		return nil, s.endErr
	}

	w, h := s.info.Width, s.info.Height
	buf := make([]byte, w*h*4)
	if _, err := io.ReadFull(s.out, buf); err != nil {
		if waitErr := s.wait(); waitErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("decoder failed: %w: %s", waitErr, strings.TrimSpace(s.cmd.Stderr.String()))
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("decoder emitted a truncated frame: %w", err)
		}
		return nil, s.endErr
	}

	// Zero-Copy: Wrap the raw bytes in an image.RGBA struct
	return &image.RGBA{
		Pix:    buf,
		Stride: w * 4,
		Rect:   image.Rect(0, 0, w, h),
	}, nil
}

func (s *rawStream) wait() error {
	if s.waited {
		return nil
	}
	s.waited = true
	return s.cmd.Wait()
}

// Info implements Source.
func (s *rawStream) Info() StreamInfo { return s.info }

// Command exposes the ffmpeg process so its stderr can be dumped on failure.
func (s *rawStream) Command() *utils.SafeCommand { return s.cmd }

// Close stops the decoder if it is still running.
func (s *rawStream) Close() error {
	s.out.Close()
	if !s.waited {
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		s.wait()
	}
	return nil
}

// VideoSource decodes every frame of a video file, in order, without dropping or seeking.
type VideoSource struct {
	*rawStream
}

// OpenVideo probes path and starts decoding it.
// Probe failure (missing, unreadable or corrupt input) is reported before any frame is read.
func OpenVideo(ctx context.Context, path string) (*VideoSource, error) {
	vi, err := utils.ProbeVideo(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read video %s: %w", path, err)
	}
	total := vi.TotalFrames
	if total <= 0 {
		total = utils.GetTotalFrames(ctx, path)
	}

	info := StreamInfo{
		Width:       vi.Width,
		Height:      vi.Height,
		FrameRate:   vi.FrameRate,
		FPS:         vi.FPS,
		TotalFrames: total,
	}
	rs, err := startRaw(utils.NewFFmpegRawDecoder(ctx, path), info, io.EOF)
	if err != nil {
		return nil, err
	}
	return &VideoSource{rawStream: rs}, nil
}

// WebcamSource captures a local camera until cancelled.
type WebcamSource struct {
	*rawStream
}

// Default capture settings for live sources.
const (
	DefaultCaptureWidth  = 640
	DefaultCaptureHeight = 480
)

// OpenWebcam starts capturing device scaled to width x height.
// An empty device selects the platform default camera.
func OpenWebcam(ctx context.Context, device string, width, height int) (*WebcamSource, error) {
	if width <= 0 || height <= 0 {
		width, height = DefaultCaptureWidth, DefaultCaptureHeight
	}
	info := StreamInfo{Width: width, Height: height, FrameRate: "30", FPS: 30}
	rs, err := startRaw(utils.NewFFmpegCapture(ctx, device, width, height), info, ErrCameraClosed)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera: %w", err)
	}
	return &WebcamSource{rawStream: rs}, nil
}
