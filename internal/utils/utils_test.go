package utils

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestParseProbe(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		want    VideoInfo
		wantErr bool
	}{
		{
			name: "NTSC rational rate",
			json: `{"streams":[{"width":1920,"height":1080,"r_frame_rate":"30000/1001","avg_frame_rate":"30000/1001","nb_frames":"300"}]}`,
			want: VideoInfo{Width: 1920, Height: 1080, FrameRate: "30000/1001", FPS: 30000.0 / 1001.0, TotalFrames: 300},
		},
		{
			name: "Missing avg rate falls back to r_frame_rate",
			json: `{"streams":[{"width":640,"height":480,"r_frame_rate":"25/1","avg_frame_rate":"0/0"}]}`,
			want: VideoInfo{Width: 640, Height: 480, FrameRate: "25/1", FPS: 25},
		},
		{
			name: "Unknown frame count",
			json: `{"streams":[{"width":320,"height":240,"r_frame_rate":"24/1","avg_frame_rate":"24/1","nb_frames":"N/A"}]}`,
			want: VideoInfo{Width: 320, Height: 240, FrameRate: "24/1", FPS: 24},
		},
		{
			name:    "No streams",
			json:    `{"streams":[]}`,
			wantErr: true,
		},
		{
			name:    "Zero dimensions",
			json:    `{"streams":[{"width":0,"height":0,"r_frame_rate":"25/1"}]}`,
			wantErr: true,
		},
		{
			name:    "Garbage",
			json:    `not json`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseProbe([]byte(tt.json))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseProbe() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Width != tt.want.Width || got.Height != tt.want.Height || got.FrameRate != tt.want.FrameRate || got.TotalFrames != tt.want.TotalFrames {
				t.Errorf("ParseProbe() = %+v, want %+v", got, tt.want)
			}
			if math.Abs(got.FPS-tt.want.FPS) > 1e-9 {
				t.Errorf("FPS = %v, want %v", got.FPS, tt.want.FPS)
			}
		})
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		rate    string
		want    float64
		wantErr bool
	}{
		{"30/1", 30, false},
		{"30000/1001", 29.97002997002997, false},
		{"29.97", 29.97, false},
		{"0/0", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFrameRate(tt.rate)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFrameRate(%q) error = %v, wantErr %v", tt.rate, err, tt.wantErr)
			continue
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("ParseFrameRate(%q) = %v, want %v", tt.rate, got, tt.want)
		}
	}
}

func TestDeriveOutputPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo.jpg", "photo_o.jpg"},
		{filepath.Join("clips", "party.mp4"), filepath.Join("clips", "party_o.mp4")},
		{"noext", "noext_o"},
		{"archive.tar.gz", "archive.tar_o.gz"},
	}
	for _, tt := range tests {
		if got := DeriveOutputPath(tt.in); got != tt.want {
			t.Errorf("DeriveOutputPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPrepareOutput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "face.png")

	t.Run("Derives default", func(t *testing.T) {
		got, err := PrepareOutput(in, "")
		if err != nil {
			t.Fatal(err)
		}
		if got != filepath.Join(dir, "face_o.png") {
			t.Errorf("Got %q", got)
		}
	})

	t.Run("Creates parent directories", func(t *testing.T) {
		out := filepath.Join(dir, "nested", "deeper", "out.png")
		if _, err := PrepareOutput(in, out); err != nil {
			t.Fatal(err)
		}
		if info, err := os.Stat(filepath.Dir(out)); err != nil || !info.IsDir() {
			t.Errorf("Expected output directory to exist: %v", err)
		}
	})

	t.Run("Rejects same path", func(t *testing.T) {
		_, err := PrepareOutput(in, in)
		if !errors.Is(err, ErrSamePath) {
			t.Errorf("Expected ErrSamePath, got %v", err)
		}
	})
}

func TestCaptureArgs(t *testing.T) {
	tests := []struct {
		goos   string
		format string
		device string
	}{
		{"linux", "v4l2", "/dev/video0"},
		{"darwin", "avfoundation", "0"},
		{"windows", "dshow", "video=Integrated Camera"},
	}
	for _, tt := range tests {
		args := CaptureArgs(tt.goos, "", 640, 480)
		if args[1] != tt.format {
			t.Errorf("%s: format = %q, want %q", tt.goos, args[1], tt.format)
		}
		if args[len(args)-1] != tt.device {
			t.Errorf("%s: device = %q, want %q", tt.goos, args[len(args)-1], tt.device)
		}
	}

	if args := CaptureArgs("linux", "/dev/video2", 320, 240); args[len(args)-1] != "/dev/video2" {
		t.Errorf("Explicit device ignored: %v", args)
	}
}

func TestFmtTime(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00"},
		{65, "00:01:05"},
		{3661, "01:01:01"},
	}

	for _, tt := range tests {
		if got := FmtTime(tt.seconds); got != tt.want {
			t.Errorf("FmtTime(%v) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

// flagValues returns every value that follows flag in args.
func flagValues(args []string, flag string) []string {
	var out []string
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			out = append(out, args[i+1])
		}
	}
	return out
}

func TestNewFFmpegEncoder(t *testing.T) {
	tests := []struct {
		name          string
		rate          string
		width, height int
		wantSize      string
		wantPixFmt    string
	}{
		{"Even size", "30000/1001", 1280, 720, "1280x720", "yuv420p"},
		{"Odd width", "25/1", 1279, 720, "1279x720", "yuv444p"},
		{"Odd both", "30", 641, 481, "641x481", "yuv444p"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := NewFFmpegEncoder(context.Background(), "out.mp4", tt.rate, tt.width, tt.height).Args

			if got := flagValues(args, "-s"); len(got) != 1 || got[0] != tt.wantSize {
				t.Errorf("-s = %v, want %s", got, tt.wantSize)
			}
			if got := flagValues(args, "-r"); len(got) != 2 || got[0] != tt.rate || got[1] != tt.rate {
				t.Errorf("-r = %v, want %s on input and output", got, tt.rate)
			}
			pix := flagValues(args, "-pix_fmt")
			if len(pix) != 2 || pix[0] != "rgba" || pix[1] != tt.wantPixFmt {
				t.Errorf("-pix_fmt = %v, want [rgba %s]", pix, tt.wantPixFmt)
			}
			if args[len(args)-1] != "out.mp4" {
				t.Errorf("output path = %s, want out.mp4", args[len(args)-1])
			}
		})
	}
}

func TestValidateInputFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "in.jpg")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := ValidateInputFile(file); err != nil {
		t.Errorf("Unexpected error for regular file: %v", err)
	}
	if err := ValidateInputFile(dir); err == nil {
		t.Error("Expected error for directory")
	}
	if err := ValidateInputFile(filepath.Join(dir, "missing.jpg")); err == nil {
		t.Error("Expected error for missing file")
	}
}
