package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (sidecar logs)
// This ensures we don't lose critical crash information if a worker dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe
// It prepares the command for execution but does not start it.
// The process is killed when ctx is cancelled.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps sidecar logs if a SafeCommand is provided.
// It does not exit; callers return the error so cobra sets the exit code.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 ANONYMIZER ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nWORKER LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// --- 2. Video Engine ---

// VideoInfo describes the first video stream of a file.
type VideoInfo struct {
	Width  int
	Height int
	// FrameRate is the rational rate as reported by ffprobe (e.g. "30000/1001").
	// It is passed to the encoder unchanged so output timing matches the input.
	FrameRate string
	FPS       float64
	// TotalFrames is 0 when the container does not report it.
	TotalFrames int
}

type ffprobeStreams struct {
	Streams []struct {
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		RFrameRate    string `json:"r_frame_rate"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
}

// ProbeVideo uses ffprobe to read the dimensions, frame rate and frame count of a video.
func ProbeVideo(ctx context.Context, path string) (VideoInfo, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames", "-of", "json", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return ParseProbe(out)
}

// ParseProbe decodes ffprobe JSON output into a VideoInfo.
func ParseProbe(out []byte) (VideoInfo, error) {
	var res ffprobeStreams
	if err := json.Unmarshal(out, &res); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 {
		return VideoInfo{}, errors.New("no video stream found")
	}
	s := res.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return VideoInfo{}, fmt.Errorf("invalid video dimensions %dx%d", s.Width, s.Height)
	}

	// Prefer the average rate; r_frame_rate is the container time base guess.
	rate := s.AvgFrameRate
	fps, err := ParseFrameRate(rate)
	if err != nil {
		rate = s.RFrameRate
		if fps, err = ParseFrameRate(rate); err != nil {
			return VideoInfo{}, fmt.Errorf("unable to determine frame rate: %w", err)
		}
	}

	total, _ := strconv.Atoi(s.NbFrames)
	if total < 0 {
		total = 0
	}

	return VideoInfo{
		Width:       s.Width,
		Height:      s.Height,
		FrameRate:   rate,
		FPS:         fps,
		TotalFrames: total,
	}, nil
}

// ParseFrameRate converts "num/den" or a plain decimal into frames per second.
func ParseFrameRate(rate string) (float64, error) {
	rate = strings.TrimSpace(rate)
	if num, den, ok := strings.Cut(rate, "/"); ok {
		n, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid frame rate %q: %w", rate, err)
		}
		d, err := strconv.ParseFloat(den, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid frame rate %q: %w", rate, err)
		}
		if n <= 0 || d <= 0 {
			return 0, fmt.Errorf("invalid frame rate %q", rate)
		}
		return n / d, nil
	}
	f, err := strconv.ParseFloat(rate, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid frame rate %q", rate)
	}
	return f, nil
}

// GetTotalFrames uses ffprobe to count packets for the progress bar
// It returns 0 if the count fails, allowing the caller to fallback to a spinner.
func GetTotalFrames(ctx context.Context, path string) int {
	// 0. Check dependency
	if _, err := exec.LookPath("ffprobe"); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  ffprobe not found. Cannot provide a progress bar estimation because of this.\n")
		return 0
	}

	// 1. Fast Path: Check Container Metadata
	// This is instant but might return "N/A" or be inaccurate for VFR.
	cmdFast := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-show_entries", "stream=nb_frames", "-of", "json", path)
	if out, err := cmdFast.Output(); err == nil {
		var res ffprobeStreams
		if json.Unmarshal(out, &res) == nil && len(res.Streams) > 0 {
			if count, err := strconv.Atoi(res.Streams[0].NbFrames); err == nil && count > 0 {
				return count
			}
		}
	}

	// 2. Slow Path: Count Packets (Fallback)
	fmt.Fprintf(os.Stderr, "⏳ Metadata missing. Counting frames (this may take a moment)...\n")
	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path)

	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ffprobe failed: %v\n", err)
		return 0
	}

	var res ffprobeStreams
	if err := json.Unmarshal(out, &res); err != nil {
		fmt.Fprintf(os.Stderr, "ffprobe JSON parse error: %v\n", err)
		return 0
	}
	if len(res.Streams) == 0 {
		return 0
	}

	count, err := strconv.Atoi(res.Streams[0].NbReadPackets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ffprobe integer parse error: %v\n", err)
		return 0
	}
	return count
}

// NewFFmpegRawDecoder creates a decoder that writes raw RGBA frames to Stdout.
// Every decoded frame is emitted once, in presentation order (no dropping or duplication).
func NewFFmpegRawDecoder(ctx context.Context, inputPath string) *SafeCommand {
	return NewSafeCommand(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", inputPath,
		"-map", "0:v:0",
		"-fps_mode", "passthrough",
		"-f", "rawvideo", "-pix_fmt", "rgba", "-")
}

// EncoderPixelFormat picks the H.264 pixel format for a frame size.
// 4:2:0 subsampling needs even sides; odd sizes are kept exact with 4:4:4
// instead of being padded or cropped.
func EncoderPixelFormat(width, height int) string {
	if width%2 != 0 || height%2 != 0 {
		return "yuv444p"
	}
	return "yuv420p"
}

// NewFFmpegEncoder creates an encoder that reads raw RGBA frames from Stdin
// and writes an H.264 video at the given rate and size.
func NewFFmpegEncoder(ctx context.Context, outputPath, frameRate string, width, height int) *SafeCommand {
	return NewSafeCommand(ctx, "ffmpeg", "-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", frameRate,
		"-i", "-",
		"-c:v", "libx264", "-pix_fmt", EncoderPixelFormat(width, height),
		"-r", frameRate,
		outputPath)
}

// CaptureArgs builds the ffmpeg input arguments for a local camera on the current OS.
func CaptureArgs(goos, device string, width, height int) []string {
	size := fmt.Sprintf("%dx%d", width, height)
	switch goos {
	case "darwin":
		if device == "" {
			device = "0"
		}
		return []string{"-f", "avfoundation", "-framerate", "30", "-video_size", size, "-i", device}
	case "windows":
		if device == "" {
			device = "video=Integrated Camera"
		}
		return []string{"-f", "dshow", "-video_size", size, "-i", device}
	default:
		if device == "" {
			device = "/dev/video0"
		}
		return []string{"-f", "v4l2", "-video_size", size, "-i", device}
	}
}

// NewFFmpegCapture opens a camera and emits raw RGBA frames scaled to width x height.
func NewFFmpegCapture(ctx context.Context, device string, width, height int) *SafeCommand {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args, CaptureArgs(runtime.GOOS, device, width, height)...)
	args = append(args,
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-f", "rawvideo", "-pix_fmt", "rgba", "-")
	return NewSafeCommand(ctx, "ffmpeg", args...)
}

// --- 3. Output Paths ---

// ErrSamePath is returned when the output would overwrite the input.
var ErrSamePath = errors.New("input and output paths must be different to prevent file corruption")

// DeriveOutputPath returns "<dir>/<name>_o<ext>" for an input path.
func DeriveOutputPath(inputPath string) string {
	ext := filepath.Ext(inputPath)
	base := strings.TrimSuffix(inputPath, ext)
	return base + "_o" + ext
}

// PrepareOutput resolves the output path for inputPath, derives one when
// outputPath is empty, and creates its parent directory.
func PrepareOutput(inputPath, outputPath string) (string, error) {
	if outputPath == "" {
		outputPath = DeriveOutputPath(inputPath)
	}

	inAbs, err := filepath.Abs(inputPath)
	if err != nil {
		return "", err
	}
	outAbs, err := filepath.Abs(outputPath)
	if err != nil {
		return "", err
	}
	if inAbs == outAbs {
		return "", ErrSamePath
	}

	if err := os.MkdirAll(filepath.Dir(outAbs), 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return outputPath, nil
}

// FmtTime formats seconds as HH:MM:SS.
func FmtTime(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// ValidateInputFile checks that path exists and is a regular file.
func ValidateInputFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %w", err)
		}
		return fmt.Errorf("unable to access input file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input path %s is a directory, expected a file", path)
	}
	return nil
}
