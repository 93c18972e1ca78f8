package worker

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// okResponse frames a status 0 response around a JSON body.
func okResponse(pipe *MockCloser, body string) {
	binary.Write(pipe, binary.BigEndian, uint32(1+len(body)))
	pipe.WriteByte(0)
	pipe.WriteString(body)
}

// errResponse frames a status 1 response around an error message.
func errResponse(pipe *MockCloser, msg string) {
	payload := new(bytes.Buffer)
	payload.WriteByte(1) // Status ERROR
	binary.Write(payload, binary.BigEndian, uint32(len(msg)))
	payload.WriteString(msg)

	binary.Write(pipe, binary.BigEndian, uint32(payload.Len()))
	pipe.Write(payload.Bytes())
}

func newMockWorker() (*PythonWorker, *MockCloser, *MockCloser) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
	w := &PythonWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}
	return w, stdinMock, dataPipeMock
}

func TestDetect(t *testing.T) {
	w, stdinMock, dataPipeMock := newMockWorker()
	okResponse(dataPipeMock, `[{"x":0.1,"y":0.2,"w":0.3,"h":0.4,"score":0.9}]`)

	inputFrame := []byte{0xFF, 0xD8, 0xBE, 0xEF, 0xFF, 0xD9} // Fake JPEG bytes
	dets, err := w.Detect(inputFrame)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	// Verify Go sent the correct data TO Python
	sentData := stdinMock.Bytes()
	if len(sentData) != 1+4+len(inputFrame) {
		t.Fatalf("Expected %d bytes sent, got %d", 1+4+len(inputFrame), len(sentData))
	}
	if Op(sentData[0]) != OpDetect {
		t.Errorf("Expected op %d, got %d", OpDetect, sentData[0])
	}
	if n := binary.BigEndian.Uint32(sentData[1:5]); int(n) != len(inputFrame) {
		t.Errorf("Expected length header %d, got %d", len(inputFrame), n)
	}
	if !bytes.Equal(sentData[5:], inputFrame) {
		t.Errorf("Payload mismatch: %X", sentData[5:])
	}

	if len(dets) != 1 {
		t.Fatalf("Expected 1 face, got %d", len(dets))
	}
	if math.Abs(dets[0].Width-0.3) > 1e-9 || math.Abs(dets[0].Score-0.9) > 1e-9 {
		t.Errorf("Unexpected detection %+v", dets[0])
	}
}

func TestDetect_NoFaces(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()
	okResponse(dataPipeMock, `[]`)

	dets, err := w.Detect([]byte("frame"))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) != 0 {
		t.Errorf("Expected no detections, got %d", len(dets))
	}
}

func TestCommunicate_Error(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()

	errMsg := "Python Exception: Import Error"
	errResponse(dataPipeMock, errMsg)

	_, err := w.Detect([]byte("frame"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestCommunicate_ErrorObject(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()
	okResponse(dataPipeMock, `{"error":"model not loaded"}`)

	_, err := w.Detect([]byte("frame"))
	if err == nil || err.Error() != "python worker error: model not loaded" {
		t.Errorf("Expected logic error to surface, got %v", err)
	}
}

func TestCommunicate_Crash(t *testing.T) {
	// An empty pipe behaves like a worker that died before answering.
	w, _, _ := newMockWorker()
	if _, err := w.Detect([]byte("frame")); err == nil {
		t.Fatal("Expected error when the worker produced no output")
	}
}

func TestCommunicate_Malformed(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()
	okResponse(dataPipeMock, `not json`)

	if _, err := w.Detect([]byte("frame")); err == nil {
		t.Fatal("Expected error for garbage JSON")
	}
}

func TestMesh(t *testing.T) {
	t.Run("Face found", func(t *testing.T) {
		w, stdinMock, dataPipeMock := newMockWorker()
		okResponse(dataPipeMock, `{"points":[{"x":0.5,"y":0.25,"z":-0.1},{"x":0.6,"y":0.3,"z":0.0}]}`)

		mesh, err := w.Mesh([]byte("frame"))
		if err != nil {
			t.Fatalf("Mesh failed: %v", err)
		}
		if mesh == nil || len(mesh.Points) != 2 {
			t.Fatalf("Expected 2 points, got %+v", mesh)
		}
		if mesh.Points[0].Z != -0.1 {
			t.Errorf("Expected z=-0.1, got %v", mesh.Points[0].Z)
		}
		if Op(stdinMock.Bytes()[0]) != OpMesh {
			t.Errorf("Wrong op sent: %d", stdinMock.Bytes()[0])
		}
	})

	t.Run("No face", func(t *testing.T) {
		w, _, dataPipeMock := newMockWorker()
		okResponse(dataPipeMock, `null`)

		mesh, err := w.Mesh([]byte("frame"))
		if err != nil {
			t.Fatalf("Mesh failed: %v", err)
		}
		if mesh != nil {
			t.Errorf("Expected nil mesh, got %+v", mesh)
		}
	})
}

func TestClassify(t *testing.T) {
	w, stdinMock, dataPipeMock := newMockWorker()
	okResponse(dataPipeMock, `{"label":2}`)

	features := []float64{0.5, 1.25, -2}
	label, err := w.Classify(features)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if label != 2 {
		t.Errorf("Expected label 2, got %d", label)
	}

	sent := stdinMock.Bytes()
	if Op(sent[0]) != OpClassify {
		t.Errorf("Wrong op sent: %d", sent[0])
	}
	if n := binary.BigEndian.Uint32(sent[1:5]); n != 12 {
		t.Fatalf("Expected 12 payload bytes, got %d", n)
	}
	for i, want := range features {
		got := math.Float32frombits(binary.BigEndian.Uint32(sent[5+i*4:]))
		if float64(got) != want {
			t.Errorf("feature[%d] = %v, want %v", i, got, want)
		}
	}
}

func TestClassify_MissingLabel(t *testing.T) {
	w, _, dataPipeMock := newMockWorker()
	okResponse(dataPipeMock, `{}`)

	if _, err := w.Classify([]float64{1}); err == nil {
		t.Fatal("Expected error when label is missing")
	}
}
