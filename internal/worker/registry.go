// Package worker implements the in-memory worker registry (§4.D): a
// table of registered workers with heartbeats, claimed job, and
// executor/model capability lists. Workers are entirely in-memory;
// durability is not required (§3). The concurrency shape follows
// kilroy's server.PipelineRegistry: a single RWMutex-guarded map.
package worker

import (
	"sync"
	"time"

	"github.com/Micheleww/scc-gateway/internal/idgen"
)

// Worker is the registry's unit entity (§3 Worker).
type Worker struct {
	WorkerID string
	Name     string
	Executors []string
	Models    []string

	LastSeen     time.Time
	RunningJobID string // empty when idle
}

// Registry is the in-memory worker table.
type Registry struct {
	mu       sync.RWMutex
	workers  map[string]*Worker
	seenWindow  time.Duration
	cancelWindow time.Duration
}

// New creates an empty Registry. seenWindow is the liveness window (§3
// Worker, default 120s); cancelWindow is the heartbeat-gap threshold
// after which a claimed job is treated as abandoned (§4.D, default 60s).
func New(seenWindow, cancelWindow time.Duration) *Registry {
	return &Registry{
		workers:      make(map[string]*Worker),
		seenWindow:   seenWindow,
		cancelWindow: cancelWindow,
	}
}

// Register creates a worker if one with this name doesn't already exist,
// otherwise refreshes its capability lists and lastSeen. A worker that
// died silently and comes back under the same name resumes in place
// (§4.D: "the worker itself is allowed to re-register and resume").
func (r *Registry) Register(name string, executors, models []string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, w := range r.workers {
		if w.Name == name {
			w.Executors = executors
			w.Models = models
			w.LastSeen = time.Now().UTC()
			return id
		}
	}

	id := idgen.NewWithPrefix("worker")
	r.workers[id] = &Worker{
		WorkerID:  id,
		Name:      name,
		Executors: executors,
		Models:    models,
		LastSeen:  time.Now().UTC(),
	}
	return id
}

// Heartbeat updates lastSeen and the worker's currently-running job id.
func (r *Registry) Heartbeat(workerID, runningJobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[workerID]
	if !ok {
		return false
	}
	w.LastSeen = time.Now().UTC()
	w.RunningJobID = runningJobID
	return true
}

// Get returns a copy of the worker with id.
func (r *Registry) Get(workerID string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[workerID]
	if !ok {
		return Worker{}, false
	}
	return *w, true
}

func (w *Worker) advertisesExecutor(executor string) bool {
	for _, e := range w.Executors {
		if e == executor {
			return true
		}
	}
	return false
}

// active reports whether now-lastSeen <= seenWindow (§3 Worker liveness).
func (r *Registry) active(w *Worker, now time.Time) bool {
	return now.Sub(w.LastSeen) <= r.seenWindow
}

// ListActive returns workers advertising executor whose lastSeen is
// within the seen window.
func (r *Registry) ListActive(executor string) []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now().UTC()
	var out []Worker
	for _, w := range r.workers {
		if r.active(w, now) && w.advertisesExecutor(executor) {
			out = append(out, *w)
		}
	}
	return out
}

// StaleClaims returns copies of the workers whose RunningJobID is set but
// whose lastSeen is beyond the cancel window; the reaper clears their
// RunningJobID (§4.D).
func (r *Registry) StaleClaims() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now().UTC()
	var out []Worker
	for _, w := range r.workers {
		if w.RunningJobID != "" && now.Sub(w.LastSeen) > r.cancelWindow {
			out = append(out, *w)
		}
	}
	return out
}

// ClearRunningJob clears RunningJobID for a worker whose claim the reaper
// has just cancelled.
func (r *Registry) ClearRunningJob(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[workerID]; ok {
		w.RunningJobID = ""
	}
}

// List returns a snapshot of every registered worker.
func (r *Registry) List() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, *w)
	}
	return out
}
