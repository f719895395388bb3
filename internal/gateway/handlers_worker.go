package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Micheleww/scc-gateway/internal/contextpack"
	"github.com/Micheleww/scc-gateway/internal/jobstore"
)

func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req RegisterWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	id := s.deps.Workers.Register(req.Name, req.Executors, req.Models)
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	workerID := r.PathValue("id")
	var req HeartbeatRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}
	if !s.deps.Workers.Heartbeat(workerID, req.RunningJobID) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("worker %s not found", workerID))
		return
	}
	if req.RunningJobID != "" {
		// Refresh the claimed job's heartbeat too, so the reaper's stale
		// check sees this worker as alive. Best-effort.
		_ = s.deps.Life.Heartbeat(req.RunningJobID, workerID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleClaim implements the long-poll claim endpoint (§4.F, §6.1):
// returns the claimed job, or 204 if waitMs elapses with nothing eligible.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	workerID := r.PathValue("id")
	q := r.URL.Query()
	executor := q.Get("executor")
	if executor == "" {
		writeError(w, http.StatusBadRequest, "executor is required")
		return
	}
	waitMs := 25000
	if v := q.Get("waitMs"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			waitMs = n
		}
	}

	wrk, ok := s.deps.Workers.Get(workerID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("worker %s not found", workerID))
		return
	}

	job, err := s.deps.Life.Claim(r.Context(), executor, wrk.Models, workerID, waitMs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, ClaimResponse{Job: job, TaskBundle: s.buildTaskBundle(job)})
}

// buildTaskBundle constructs the raw-fetch URL set for a claimed job's
// context pack (§4.F point 3), including the replay bundle URL only when
// the pack actually carries one.
func (s *Server) buildTaskBundle(job *jobstore.Job) TaskBundle {
	raw := func(name string) string {
		return fmt.Sprintf("/bundle/%s/%s?format=raw", job.ContextPackV1ID, name)
	}
	bundle := TaskBundle{
		FetchManifestRaw:  raw(contextpack.FileManifest),
		FetchTaskRaw:      raw(contextpack.FileTask),
		FetchPinsRaw:      raw(contextpack.FilePins),
		FetchPreflightRaw: raw(contextpack.FilePreflight),
	}
	if s.packFileExists(job.ContextPackV1ID, contextpack.FileReplayBundle) {
		bundle.FetchReplayBundleRaw = raw(contextpack.FileReplayBundle)
	}
	return bundle
}
