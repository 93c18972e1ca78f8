// Package server provides the HTTP front end of the anonymizer: image and
// video uploads, job progress over WebSocket and a live MJPEG preview.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/anonymizer/internal/pipeline"
	"github.com/andresmejia3/anonymizer/internal/settings"
	"github.com/andresmejia3/anonymizer/internal/store"
	"github.com/andresmejia3/anonymizer/internal/utils"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

//go:embed web
var webFS embed.FS

// DefaultMaxUpload bounds request bodies.
const DefaultMaxUpload = 512 << 20

// DefaultJobRetention is how long a finished video stays downloadable.
const DefaultJobRetention = time.Hour

// Config holds the server configuration.
type Config struct {
	// StaticDir overrides the bundled UI.
	StaticDir    string
	NewProcessor pipeline.ProcessorFactory
	// Store records every upload; nil disables the ledger.
	Store store.Store
	// Preview, when set, is served at /api/preview.
	Preview *pipeline.MJPEGSink
	// WorkDir holds uploaded videos and their results.
	WorkDir   string
	MaxUpload int64
	// JobRetention is how long finished jobs and their files are kept.
	JobRetention time.Duration
}

// Server represents the HTTP server.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	jobs   *Jobs

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// processVideo is swapped in tests to avoid ffmpeg.
	processVideo func(ctx context.Context, p *pipeline.Processor, in, out string, progress pipeline.Progress) (pipeline.Result, error)
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Store == nil {
		config.Store = store.Discard{}
	}
	if config.WorkDir == "" {
		config.WorkDir = filepath.Join(os.TempDir(), "anonymizer-jobs")
	}
	if config.MaxUpload <= 0 {
		config.MaxUpload = DefaultMaxUpload
	}
	if config.JobRetention <= 0 {
		config.JobRetention = DefaultJobRetention
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		jobs:   NewJobs(),
		ctx:    ctx,
		cancel: cancel,
		processVideo: func(ctx context.Context, p *pipeline.Processor, in, out string, progress pipeline.Progress) (pipeline.Result, error) {
			return p.ProcessVideo(ctx, in, out, progress)
		},
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/blur/image", s.handleBlurImage)
	s.mux.HandleFunc("/api/blur/video", s.handleBlurVideo)
	s.mux.HandleFunc("/api/jobs", s.handleListJobs)
	s.mux.HandleFunc("/api/jobs/{id}", s.handleJob)
	s.mux.HandleFunc("/api/jobs/{id}/download", s.handleDownload)
	s.mux.HandleFunc("/api/jobs/{id}/ws", s.handleJobSocket)

	if s.config.Preview != nil {
		s.mux.Handle("/api/preview", s.config.Preview)
	}

	if s.config.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.config.StaticDir)))
	} else {
		sub, _ := fs.Sub(webFS, "web")
		s.mux.Handle("/", http.FileServer(http.FS(sub)))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down and
// waits for running jobs.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close cancels running jobs, waits for them to finish and deletes every job directory.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
	for _, job := range s.jobs.expire(func(Job) bool { return true }) {
		removeJobDir(job)
	}
}

// expireJobs forgets finished jobs older than the retention period and deletes their files.
func (s *Server) expireJobs() {
	cutoff := time.Now().Add(-s.config.JobRetention)
	expired := s.jobs.expire(func(j Job) bool {
		return j.Status.Finished() && j.finished.Before(cutoff)
	})
	for _, job := range expired {
		removeJobDir(job)
	}
}

func removeJobDir(job Job) {
	if err := os.RemoveAll(job.dir); err != nil {
		log.Printf("job %s: %v", job.ID, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	})
}

// upload reads the "file" form field.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("missing file: %w", err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) == 0 {
		return "", nil, errors.New("uploaded file is empty")
	}
	return filepath.Base(header.Filename), data, nil
}

// handleBlurImage blurs an uploaded image and returns it re-encoded in the
// same format, with the face count in X-Faces-Detected.
func (s *Server) handleBlurImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, err := settings.FromQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name, data, err := s.upload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	format, err := pipeline.FormatFromName(name)
	if err != nil {
		format = imaging.JPEG
	}

	ctx := r.Context()
	runID, lerr := s.config.Store.CreateRun(ctx, "serve:image", name, "")
	if lerr != nil {
		log.Printf("ledger: %v", lerr)
	}

	proc, err := s.config.NewProcessor(ctx, st)
	if err != nil {
		s.finishRun(runID, 0, 0, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer proc.Detector.Close()

	out, faces, err := proc.ProcessImageBytes(ctx, data, format)
	if err != nil {
		s.finishRun(runID, 0, 0, err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.finishRun(runID, faces, 1, nil)

	w.Header().Set("Content-Type", contentType(format))
	w.Header().Set("X-Faces-Detected", strconv.Itoa(faces))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", outputName(name)))
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func contentType(f imaging.Format) string {
	switch f {
	case imaging.PNG:
		return "image/png"
	case imaging.GIF:
		return "image/gif"
	case imaging.BMP:
		return "image/bmp"
	case imaging.TIFF:
		return "image/tiff"
	default:
		return "image/jpeg"
	}
}

func outputName(name string) string {
	if _, err := pipeline.FormatFromName(name); err != nil {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg"
	}
	return filepath.Base(utils.DeriveOutputPath(name))
}

func (s *Server) finishRun(id string, faces, frames int, runErr error) {
	if id == "" {
		return
	}
	// The request context may be gone by now; the ledger entry should still close.
	if err := s.config.Store.FinishRun(context.Background(), id, faces, frames, runErr); err != nil {
		log.Printf("ledger: %v", err)
	}
}

// handleBlurVideo stores the upload and starts a background job.
func (s *Server) handleBlurVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, err := settings.FromQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name, data, err := s.upload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.expireJobs()

	id := uuid.NewString()
	dir := filepath.Join(s.config.WorkDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = ".mp4"
	}
	in := filepath.Join(dir, "input"+ext)
	if err := os.WriteFile(in, data, 0644); err != nil {
		os.RemoveAll(dir)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	job := Job{ID: id, Name: name, Status: JobQueued, dir: dir, input: in, output: utils.DeriveOutputPath(in)}
	s.jobs.add(job)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runVideoJob(job, st)
	}()

	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) runVideoJob(job Job, st settings.Settings) {
	ctx := s.ctx
	s.jobs.update(job.ID, func(j *Job) { j.Status = JobRunning })

	runID, lerr := s.config.Store.CreateRun(ctx, "serve:video", job.Name, job.output)
	if lerr != nil {
		log.Printf("ledger: %v", lerr)
	}

	// Files go before the status changes, so a finished job never has an input left behind.
	fail := func(err error) {
		log.Printf("job %s failed: %v", job.ID, err)
		removeJobDir(job)
		s.jobs.update(job.ID, func(j *Job) {
			j.Status = JobFailed
			j.Error = err.Error()
			j.finished = time.Now()
		})
	}

	proc, err := s.config.NewProcessor(ctx, st)
	if err != nil {
		s.finishRun(runID, 0, 0, err)
		fail(err)
		return
	}
	defer proc.Detector.Close()

	progress := pipeline.Fraction(func(f float64) {
		s.jobs.update(job.ID, func(j *Job) { j.Progress = f })
	})
	res, err := s.processVideo(ctx, proc, job.input, job.output, func(processed, total int) {
		s.jobs.update(job.ID, func(j *Job) { j.Frames = processed })
		progress(processed, total)
	})
	s.finishRun(runID, res.Faces, res.Frames, err)
	if err != nil {
		fail(err)
		return
	}
	if rerr := os.Remove(job.input); rerr != nil {
		log.Printf("job %s: %v", job.ID, rerr)
	}
	s.jobs.update(job.ID, func(j *Job) {
		j.Status = JobDone
		j.Progress = 1
		j.Faces = res.Faces
		j.Frames = res.Frames
		j.finished = time.Now()
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.jobs.List())
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	job, ok := s.jobs.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	job, ok := s.jobs.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != JobDone {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s", job.Status))
		return
	}
	name := filepath.Base(utils.DeriveOutputPath(job.Name))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, job.output)
}
