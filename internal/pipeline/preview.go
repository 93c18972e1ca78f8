package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"net/http"
	"sync"

	"github.com/disintegration/imaging"
)

// MJPEGSink is a live preview: every written frame is JPEG encoded and pushed
// to the HTTP clients currently watching the stream. Slow clients skip frames.
type MJPEGSink struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
	latest  []byte
	closed  bool
}

// NewMJPEGSink creates an empty broadcaster.
func NewMJPEGSink() *MJPEGSink {
	return &MJPEGSink{clients: make(map[chan []byte]struct{})}
}

// Write implements Sink.
func (s *MJPEGSink) Write(img *image.RGBA) error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return fmt.Errorf("encode preview frame: %w", err)
	}
	frame := buf.Bytes()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.latest = frame
	for ch := range s.clients {
		select {
		case ch <- frame:
		default:
		}
	}
	return nil
}

// Latest returns the most recent JPEG frame, or nil before the first write.
func (s *MJPEGSink) Latest() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Clients returns the number of connected viewers.
func (s *MJPEGSink) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *MJPEGSink) subscribe() (chan []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	ch := make(chan []byte, 1)
	s.clients[ch] = struct{}{}
	return ch, true
}

func (s *MJPEGSink) unsubscribe(ch chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[ch]; ok {
		delete(s.clients, ch)
		close(ch)
	}
}

// Close ends every open stream.
func (s *MJPEGSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for ch := range s.clients {
		delete(s.clients, ch)
		close(ch)
	}
	return nil
}

// ServeHTTP streams MJPEG frames to connected clients.
func (s *MJPEGSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ch, ok := s.subscribe()
	if !ok {
		http.Error(w, "Stream closed", http.StatusServiceUnavailable)
		return
	}
	defer s.unsubscribe(ch)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	for {
		var frame []byte
		select {
		case <-r.Context().Done():
			return
		case f, ok := <-ch:
			if !ok {
				return
			}
			frame = f
		}

		// Write MJPEG frame
		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
		if _, err := w.Write(frame); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
