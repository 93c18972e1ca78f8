package server

import (
	"sync"
	"time"
)

// JobStatus is the lifecycle state of a video job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Finished reports whether the job reached a terminal state.
func (s JobStatus) Finished() bool { return s == JobDone || s == JobFailed }

// Job is a snapshot of a video upload being processed.
type Job struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Status   JobStatus `json:"status"`
	Progress float64   `json:"progress"`
	Faces    int       `json:"faces"`
	Frames   int       `json:"frames"`
	Error    string    `json:"error,omitempty"`

	dir      string
	input    string
	output   string
	finished time.Time
}

type jobEntry struct {
	job  Job
	subs map[chan Job]struct{}
}

// Jobs tracks video jobs and fans their updates out to subscribers.
type Jobs struct {
	mu   sync.Mutex
	jobs map[string]*jobEntry
}

// NewJobs creates an empty registry.
func NewJobs() *Jobs {
	return &Jobs{jobs: make(map[string]*jobEntry)}
}

func (js *Jobs) add(job Job) {
	js.mu.Lock()
	defer js.mu.Unlock()
	js.jobs[job.ID] = &jobEntry{job: job, subs: make(map[chan Job]struct{})}
}

// Get returns a snapshot of the job.
func (js *Jobs) Get(id string) (Job, bool) {
	js.mu.Lock()
	defer js.mu.Unlock()
	e, ok := js.jobs[id]
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

// update mutates a job and pushes the new snapshot to every subscriber.
// A subscriber that has not read the previous snapshot only sees the newest.
func (js *Jobs) update(id string, fn func(*Job)) {
	js.mu.Lock()
	defer js.mu.Unlock()
	e, ok := js.jobs[id]
	if !ok {
		return
	}
	fn(&e.job)
	for ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		ch <- e.job
	}
}

// Subscribe returns the current snapshot and a channel of later ones.
// cancel must be called once the caller stops reading.
func (js *Jobs) Subscribe(id string) (Job, <-chan Job, func(), bool) {
	js.mu.Lock()
	defer js.mu.Unlock()
	e, ok := js.jobs[id]
	if !ok {
		return Job{}, nil, nil, false
	}
	ch := make(chan Job, 1)
	e.subs[ch] = struct{}{}
	cancel := func() {
		js.mu.Lock()
		defer js.mu.Unlock()
		delete(e.subs, ch)
	}
	return e.job, ch, cancel, true
}

// List returns every job.
func (js *Jobs) List() []Job {
	js.mu.Lock()
	defer js.mu.Unlock()
	out := make([]Job, 0, len(js.jobs))
	for _, e := range js.jobs {
		out = append(out, e.job)
	}
	return out
}

// expire removes the jobs matching fn and returns them.
func (js *Jobs) expire(fn func(Job) bool) []Job {
	js.mu.Lock()
	defer js.mu.Unlock()
	var out []Job
	for id, e := range js.jobs {
		if fn(e.job) {
			out = append(out, e.job)
			delete(js.jobs, id)
		}
	}
	return out
}
