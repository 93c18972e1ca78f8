package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/andresmejia3/anonymizer/internal/types"
	"github.com/andresmejia3/anonymizer/internal/utils" // Using the SafeCommand wrapper
)

// Op identifies the request type understood by the sidecar.
type Op byte

const (
	// OpDetect takes a JPEG frame and returns a JSON list of detections.
	OpDetect Op = 1
	// OpMesh takes a JPEG frame and returns a JSON face mesh, or null when no face is found.
	OpMesh Op = 2
	// OpClassify takes big-endian float32 features and returns {"label": n}.
	OpClassify Op = 3
)

// DefaultCommand launches the bundled sidecar script.
var DefaultCommand = []string{"python3", "-u", "python/worker.py"}

// Config controls how the sidecar is launched.
type Config struct {
	// Command is the program and arguments to start; DefaultCommand when empty.
	Command []string
	// ModelSelection is forwarded to the detector (0 short range, 1 full range).
	ModelSelection int
	// MinConfidence is forwarded to the detector.
	MinConfidence float64
	// ClassifierPath is the emotion model the sidecar loads for OpClassify.
	ClassifierPath string
	// ReadTimeout bounds the wait for a single response. Zero disables it.
	ReadTimeout time.Duration
}

type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	timeout  time.Duration
}

// deadliner is implemented by *os.File pipes.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	command := cfg.Command
	if len(command) == 0 {
		command = DefaultCommand
	}
	args := append([]string{}, command[1:]...)
	args = append(args,
		"--model-selection", strconv.Itoa(cfg.ModelSelection),
		"--min-confidence", strconv.FormatFloat(cfg.MinConfidence, 'f', -1, 64),
	)
	if cfg.ClassifierPath != "" {
		args = append(args, "--classifier", cfg.ClassifierPath)
	}

	// 1. Initialize the SafeCommand we built
	py := utils.NewSafeCommand(ctx, command[0], args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close() // Close write end if start fails
		r.Close() // Close read-end too!
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		timeout:  cfg.ReadTimeout,
	}, nil
}

// Communicate sends one request and returns the body of a successful response.
//
// Request:  [Op:1][Len:uint32][Payload]
// Response: [Len:uint32][Status:1][Body]
// Status 0 carries a JSON body, status 1 carries [MsgLen:uint32][Msg].
func (w *PythonWorker) Communicate(op Op, data []byte) ([]byte, error) {
	if _, err := w.Stdin.Write([]byte{byte(op)}); err != nil {
		return nil, err
	}
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if d, ok := w.DataPipe.(deadliner); ok && w.timeout > 0 {
		d.SetReadDeadline(time.Now().Add(w.timeout))
		defer d.SetReadDeadline(time.Time{})
	}

	// Read Result
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, fmt.Errorf("worker %d timed out after %s", w.ID, w.timeout)
		}
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen == 0 {
		return nil, fmt.Errorf("worker %d sent an empty response", w.ID)
	}
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		return nil, err
	}

	status, body := respBody[0], respBody[1:]
	switch status {
	case 0:
		return body, nil
	case 1:
		if len(body) < 4 {
			return nil, errors.New("python worker error: malformed error frame")
		}
		msgLen := binary.BigEndian.Uint32(body[:4])
		if int(msgLen) > len(body)-4 {
			return nil, errors.New("python worker error: truncated error message")
		}
		return nil, fmt.Errorf("python worker error: %s", body[4:4+msgLen])
	default:
		return nil, fmt.Errorf("python worker sent unknown status %d", status)
	}
}

// decode unmarshals a JSON body, surfacing {"error": "..."} objects as errors.
func decode(body []byte, v interface{}) error {
	// Check if it's a Python error object (e.g. {"error": "..."})
	var errorResult types.ErrorResult
	if json.Unmarshal(body, &errorResult) == nil && errorResult.Error != "" {
		return fmt.Errorf("python worker error: %s", errorResult.Error)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("malformed worker response: %w", err)
	}
	return nil
}

// Detect sends a JPEG encoded frame and returns the normalized detections.
func (w *PythonWorker) Detect(jpeg []byte) ([]types.Detection, error) {
	body, err := w.Communicate(OpDetect, jpeg)
	if err != nil {
		return nil, err
	}
	var dets []types.Detection
	if err := decode(body, &dets); err != nil {
		return nil, err
	}
	return dets, nil
}

// Mesh sends a JPEG encoded frame and returns the landmarks of the first face.
// It returns nil without error when no face was found.
func (w *PythonWorker) Mesh(jpeg []byte) (*types.FaceMesh, error) {
	body, err := w.Communicate(OpMesh, jpeg)
	if err != nil {
		return nil, err
	}
	var mesh *types.FaceMesh
	if err := decode(body, &mesh); err != nil {
		return nil, err
	}
	if mesh == nil || len(mesh.Points) == 0 {
		return nil, nil
	}
	return mesh, nil
}

// Classify sends a feature vector and returns the predicted class index.
func (w *PythonWorker) Classify(features []float64) (int, error) {
	payload := make([]byte, 4*len(features))
	for i, f := range features {
		binary.BigEndian.PutUint32(payload[i*4:], math.Float32bits(float32(f)))
	}

	body, err := w.Communicate(OpClassify, payload)
	if err != nil {
		return 0, err
	}
	var res struct {
		Label *int `json:"label"`
	}
	if err := decode(body, &res); err != nil {
		return 0, err
	}
	if res.Label == nil {
		return 0, errors.New("python worker error: response has no label")
	}
	return *res.Label, nil
}

func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
