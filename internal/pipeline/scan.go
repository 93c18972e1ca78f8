package pipeline

import (
	"context"
	"errors"
	"io"
	"time"
)

// TimeRange is a span of a video in seconds.
type TimeRange struct {
	Start float64
	End   float64
}

// ScanOptions controls a detection-only pass over a video.
type ScanOptions struct {
	// NthFrame runs the detector on every n-th frame only.
	NthFrame int
	// GracePeriod is the longest gap without faces that still extends a range.
	GracePeriod time.Duration
}

// ScanSummary reports where faces appear in a video.
type ScanSummary struct {
	Frames     int
	Sampled    int
	Detections int
	MaxFaces   int
	Ranges     []TimeRange
}

// Scan counts faces on sampled frames of src without writing any output and
// merges the sampled hits into time ranges.
func (p *Processor) Scan(ctx context.Context, src Source, opts ScanOptions, progress Progress) (ScanSummary, error) {
	var sum ScanSummary
	if opts.NthFrame < 1 {
		opts.NthFrame = 1
	}

	info := src.Info()
	fps := info.FPS
	if fps <= 0 {
		fps = 1
	}
	maxGap := opts.NthFrame + int(opts.GracePeriod.Seconds()*fps)

	// Ranges are tracked in frame indices and converted to seconds when closed.
	start, last := -1, -1
	flush := func() {
		if start >= 0 {
			sum.Ranges = append(sum.Ranges, TimeRange{Start: float64(start) / fps, End: float64(last) / fps})
		}
	}
	for {
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sum, err
		}

		idx := sum.Frames
		sum.Frames++
		if progress != nil {
			progress(sum.Frames, info.TotalFrames)
		}
		if idx%opts.NthFrame != 0 {
			continue
		}

		faces, err := p.CountFaces(frame)
		if err != nil {
			return sum, err
		}
		sum.Sampled++
		sum.Detections += faces
		if faces > sum.MaxFaces {
			sum.MaxFaces = faces
		}
		if faces == 0 {
			continue
		}

		if start >= 0 && idx-last <= maxGap {
			last = idx
			continue
		}
		flush()
		start, last = idx, idx
	}
	flush()
	if sum.Frames == 0 {
		return sum, ErrNoFrames
	}
	return sum, nil
}
