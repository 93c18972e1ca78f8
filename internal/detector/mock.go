package detector

import (
	"image"
	"sync"

	"github.com/andresmejia3/anonymizer/internal/types"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu     sync.Mutex
	dets   []types.Detection
	script [][]types.Detection
	err    error
	failAt int
	calls  int
	closed bool
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{failAt: -1}
}

// SetDetections sets the detections returned for every frame.
func (m *MockDetector) SetDetections(dets []types.Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dets = dets
}

// SetScript makes call i return script[i]; calls past the end fall back to SetDetections.
func (m *MockDetector) SetScript(script [][]types.Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = script
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// FailAt makes the n-th call (zero based) return the configured error.
func (m *MockDetector) FailAt(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAt = n
}

// Calls returns how many frames were passed to Detect.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Detect returns the pre-configured detections or error.
func (m *MockDetector) Detect(img *image.RGBA) ([]types.Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := m.calls
	m.calls++

	if m.err != nil && (m.failAt < 0 || m.failAt == call) {
		return nil, m.err
	}
	if call < len(m.script) {
		return m.script[call], nil
	}
	return m.dets, nil
}

// Close records the call.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
