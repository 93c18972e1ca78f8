package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/andresmejia3/anonymizer/internal/detector"
	"github.com/andresmejia3/anonymizer/internal/redact"
	"github.com/andresmejia3/anonymizer/internal/settings"
	"github.com/andresmejia3/anonymizer/internal/types"
	"github.com/andresmejia3/anonymizer/internal/utils"
	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
)

// Options controls how faces are obscured.
type Options struct {
	// BlurIntensity is the kernel side (blur) or block size (pixel).
	BlurIntensity int
	Style         redact.Style
	// DrawBoxes outlines every detection after redaction.
	DrawBoxes bool
}

// DefaultOptions mirrors the defaults of the command line.
func DefaultOptions() Options {
	return Options{BlurIntensity: 30, Style: redact.StyleBlur}
}

// Validate checks the redaction settings.
func (o Options) Validate() error {
	if o.BlurIntensity < 1 {
		return fmt.Errorf("blur intensity must be >= 1, got %d", o.BlurIntensity)
	}
	if _, err := redact.ParseStyle(string(o.Style)); err != nil {
		return err
	}
	return nil
}

// Result summarizes a processing run.
type Result struct {
	// Faces is the number of detections over all frames.
	Faces  int
	Frames int
	Output string
}

// FrameFunc transforms a frame in place and reports how many faces it saw.
type FrameFunc func(img *image.RGBA) (int, error)

// ProcessorFactory builds a processor for one request from user settings.
// The caller closes the processor's detector when done.
type ProcessorFactory func(ctx context.Context, s settings.Settings) (*Processor, error)

// Processor detects faces and redacts them.
type Processor struct {
	Detector detector.Detector
	Options  Options
}

// NewProcessor pairs a detector with redaction options.
func NewProcessor(d detector.Detector, opts Options) *Processor {
	return &Processor{Detector: d, Options: opts}
}

// CountFaces runs detection only and returns the number of faces in img.
func (p *Processor) CountFaces(img *image.RGBA) (int, error) {
	dets, err := p.Detector.Detect(img)
	if err != nil {
		return 0, fmt.Errorf("face detection failed: %w", err)
	}
	return len(dets), nil
}

// ProcessFrame detects faces in img and redacts them in place.
func (p *Processor) ProcessFrame(img *image.RGBA) (int, error) {
	dets, err := p.Detector.Detect(img)
	if err != nil {
		return 0, fmt.Errorf("face detection failed: %w", err)
	}
	redact.Apply(img, dets, redact.Options{Style: p.Options.Style, Strength: p.Options.BlurIntensity})
	if p.Options.DrawBoxes {
		drawBoxes(img, dets)
	}
	return len(dets), nil
}

// drawBoxes outlines detections for debugging.
func drawBoxes(img *image.RGBA, dets []types.Detection) {
	if len(dets) == 0 {
		return
	}
	dc := gg.NewContextForRGBA(img)
	dc.SetRGB(0, 1, 0)
	dc.SetLineWidth(2)
	b := img.Bounds()
	for _, d := range dets {
		r := redact.PixelRect(d, b.Dx(), b.Dy())
		dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
		dc.Stroke()
	}
}

// ProcessImage blurs the faces of a still image and writes it to outPath
// (derived from inPath when empty).
func (p *Processor) ProcessImage(ctx context.Context, inPath, outPath string) (Result, error) {
	src, err := OpenImage(inPath)
	if err != nil {
		return Result{}, err
	}
	defer src.Close()

	out, err := utils.PrepareOutput(inPath, outPath)
	if err != nil {
		return Result{}, err
	}
	sink, err := NewImageSink(out)
	if err != nil {
		return Result{}, err
	}

	res, err := p.run(ctx, src, sink, nil)
	res.Output = out
	return res, err
}

// ProcessImageBytes blurs an in-memory image and returns it re-encoded in format.
func (p *Processor) ProcessImageBytes(ctx context.Context, data []byte, format imaging.Format) ([]byte, int, error) {
	src, err := DecodeImage(data)
	if err != nil {
		return nil, 0, err
	}
	frame, err := src.Next(ctx)
	if err != nil {
		return nil, 0, err
	}
	faces, err := p.ProcessFrame(frame)
	if err != nil {
		return nil, 0, err
	}
	var buf bytes.Buffer
	if err := EncodeImage(&buf, frame, format); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), faces, nil
}

// ProcessVideo blurs every frame of inPath into outPath at the same size and rate.
// progress, if not nil, is called after each frame.
func (p *Processor) ProcessVideo(ctx context.Context, inPath, outPath string, progress Progress) (Result, error) {
	out, err := utils.PrepareOutput(inPath, outPath)
	if err != nil {
		return Result{}, err
	}

	src, err := OpenVideo(ctx, inPath)
	if err != nil {
		return Result{}, err
	}
	defer src.Close()

	sink, err := OpenVideoSink(ctx, out, src.Info())
	if err != nil {
		return Result{}, err
	}

	res, err := p.run(ctx, src, sink, progress)
	res.Output = out
	if err == nil && res.Frames == 0 {
		return res, ErrNoFrames
	}
	return res, err
}

// run drains src through ProcessFrame into sink, strictly one frame at a time.
// The sink is closed on every path so partial output is flushed.
func (p *Processor) run(ctx context.Context, src Source, sink Sink, progress Progress) (res Result, err error) {
	defer func() {
		// An encoder fed nothing fails on its own; the caller reports ErrNoFrames instead.
		if cerr := sink.Close(); cerr != nil && err == nil && res.Frames > 0 {
			err = cerr
		}
	}()

	total := src.Info().TotalFrames
	for {
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}

		faces, err := p.ProcessFrame(frame)
		if err != nil {
			return res, fmt.Errorf("frame %d: %w", res.Frames, err)
		}
		if err := sink.Write(frame); err != nil {
			return res, fmt.Errorf("frame %d: %w", res.Frames, err)
		}

		res.Faces += faces
		res.Frames++
		if progress != nil {
			progress(res.Frames, total)
		}
	}

	// Container frame counts can be off; finish the bar at the real count.
	if progress != nil && total > 0 && res.Frames > 0 && res.Frames < total {
		progress(res.Frames, res.Frames)
	}
	return res, nil
}

// RunLive pulls frames from src until ctx is cancelled, transforms them with fn
// and fans them out to sinks. Cancellation is a normal stop and returns no error.
// The context is checked once per frame.
func RunLive(ctx context.Context, src Source, fn FrameFunc, sinks ...Sink) (Result, error) {
	var res Result
	for {
		if ctx.Err() != nil {
			return res, nil
		}
		frame, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return res, nil
			}
			if errors.Is(err, io.EOF) {
				return res, nil
			}
			return res, err
		}

		faces, err := fn(frame)
		if err != nil {
			return res, err
		}
		res.Faces += faces
		res.Frames++

		for _, s := range sinks {
			if err := s.Write(frame); err != nil {
				if errors.Is(err, ErrWindowClosed) {
					return res, nil
				}
				return res, err
			}
		}
	}
}

// RunLive blurs a live stream; see the package level RunLive.
func (p *Processor) RunLive(ctx context.Context, src Source, sinks ...Sink) (Result, error) {
	return RunLive(ctx, src, p.ProcessFrame, sinks...)
}
