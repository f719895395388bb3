package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Micheleww/scc-gateway/internal/attestation"
	"github.com/Micheleww/scc-gateway/internal/contextpack"
	"github.com/Micheleww/scc-gateway/internal/gate"
	"github.com/Micheleww/scc-gateway/internal/jobstore"
	"github.com/Micheleww/scc-gateway/internal/lifecycle"
)

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	job, ok, err := s.deps.Jobs.Get(jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", jobID))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCompleteJob verifies attestation and runs the Gate Pipeline
// before applying the lifecycle controller's task transition (§4.G
// complete, §4.H).
func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	var req CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "workerId is required")
		return
	}

	job, ok, err := s.deps.Jobs.Get(jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", jobID))
		return
	}
	if job.Status != jobstore.StatusRunning {
		writeError(w, http.StatusConflict, fmt.Sprintf("job %s is not running", jobID))
		return
	}

	submit := jobstore.Submit{
		Status:       req.Submit.Status,
		ReasonCode:   req.Submit.ReasonCode,
		ChangedFiles: req.Submit.ChangedFiles,
		Tests: jobstore.TestsResult{
			Commands: req.Submit.Tests.Commands,
			Passed:   req.Submit.Tests.Passed,
			Summary:  req.Submit.Tests.Summary,
		},
		Artifacts: jobstore.Artifacts{
			ReportMD:    req.Submit.Artifacts.ReportMD,
			SelftestLog: req.Submit.Artifacts.SelftestLog,
			EvidenceDir: req.Submit.Artifacts.EvidenceDir,
			PatchDiff:   req.Submit.Artifacts.PatchDiff,
			SubmitJSON:  req.Submit.Artifacts.SubmitJSON,
		},
		ExitCode:   req.ExitCode,
		NeedsInput: req.Submit.NeedsInput,
	}

	hadReplay := s.deps.Packs.Exists(job.ContextPackV1ID) && s.packFileExists(job.ContextPackV1ID, contextpack.FileReplayBundle)
	requiredNames := gate.RequiredPackFileNames(hadReplay)

	strict := s.deps.Config.ContextPackV1Required

	packFiles := make([]gate.PackFile, 0, len(requiredNames))
	var pinsContent []byte
	var preflightContent []byte
	attestationOK := true

	for _, name := range requiredNames {
		content, _, _, err := s.deps.Packs.FetchBundleFile(job.ContextPackV1ID, name, "raw")
		if err != nil {
			attestationOK = false
			packFiles = append(packFiles, gate.PackFile{Name: name})
			continue
		}
		if name == contextpack.FilePins {
			pinsContent = content
		}
		if name == contextpack.FilePreflight {
			preflightContent = content
		}

		rawWant, boundWant := lookupReportedHashes(req, name)
		pf := gate.PackFile{Name: name, Content: content}
		if rawWant != "" || boundWant != "" {
			pf.Reported = &attestation.FileHashes{RawSha256: rawWant, NonceBoundSha256: boundWant}
		}
		packFiles = append(packFiles, pf)

		if strict {
			if pf.Reported == nil {
				attestationOK = false
				continue
			}
			ok, err := attestation.Verify(req.AttestationNonce, content, *pf.Reported)
			if err != nil || !ok {
				attestationOK = false
			}
		}
	}

	if !strict && s.deps.Events != nil {
		_ = gate.LogSkippedAttestationWarning(s.deps.Events, job.TaskID)
	}

	currentMapHash := readMapHash(s.deps.MapVersionPath)
	pinsMapHash, allowedPaths := parsePinsDocument(pinsContent)
	preflightPass, preflightMissing := parsePreflightDocument(preflightContent)

	hasEvent, _ := s.deps.Events.HasEventForTask(job.TaskID)
	replayValid := !hadReplay || validateReplayBundle(packFiles)

	var outcome *lifecycle.CompleteOutcome
	if !attestationOK {
		outcome, err = s.deps.Life.Complete(lifecycle.CompleteParams{
			JobID:         jobID,
			WorkerID:      req.WorkerID,
			Submit:        submit,
			ExitCode:      req.ExitCode,
			Stdout:        req.Stdout,
			Stderr:        req.Stderr,
			AttestationOK: false,
		})
	} else {
		result := gate.Evaluate(gate.Input{
			TaskID:              job.TaskID,
			Strict:              strict,
			Submit:              submit,
			Nonce:               req.AttestationNonce,
			RequiredPackFiles:   packFiles,
			PinsMapHash:         pinsMapHash,
			CurrentMapHash:      currentMapHash,
			AllowedPaths:        allowedPaths,
			PreflightPass:       preflightPass,
			PreflightMissing:    preflightMissing,
			HasEventForTask:     hasEvent,
			// Non-strict mode backfills a minimal replay bundle (see
			// persistNonStrictArtifacts), so one always counts as present.
			ReplayBundlePresent: hadReplay || !strict,
			ReplayBundleValid:   replayValid,
		})
		outcome, err = s.deps.Life.Complete(lifecycle.CompleteParams{
			JobID:         jobID,
			WorkerID:      req.WorkerID,
			Submit:        submit,
			ExitCode:      req.ExitCode,
			Stdout:        req.Stdout,
			Stderr:        req.Stderr,
			AttestationOK: true,
			Gate:          result,
		})
		if !strict {
			s.persistNonStrictArtifacts(job.TaskID, pinsContent, result)
		}
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// persistNonStrictArtifacts writes the non-strict completion's backfilled
// artifacts, pins document, and gate verdict to artifacts/<taskId>/
// (§4.H.2, §6.2). Best-effort: an empty ArtifactsDir or write failure
// never fails the completion itself, since persistence here is a record
// of the decision already made, not an input to it.
func (s *Server) persistNonStrictArtifacts(taskID string, pinsContent []byte, result gate.Result) {
	if s.deps.ArtifactsDir == "" {
		return
	}
	backfill, err := gate.BuildBackfill(taskID)
	if err != nil {
		return
	}
	_ = backfill.Persist(s.deps.ArtifactsDir, taskID)
	_ = gate.PersistPins(s.deps.ArtifactsDir, taskID, pinsContent)
	_ = gate.PersistVerdict(s.deps.ArtifactsDir, taskID, result)
}

func (s *Server) packFileExists(packID, name string) bool {
	_, _, _, err := s.deps.Packs.FetchBundleFile(packID, name, "raw")
	return err == nil
}

func lookupReportedHashes(req CompleteRequest, name string) (raw, bound string) {
	if name == contextpack.FileManifest {
		return req.ContextPackV1JSONSha256, req.ContextPackV1JSONAttestSha256
	}
	return req.TaskBundleFilesSha256[name], req.TaskBundleFilesAttestSha256[name]
}

func parsePinsDocument(content []byte) (mapHash string, allowedPaths []string) {
	if len(content) == 0 {
		return "", nil
	}
	var doc struct {
		AllowedPaths []string `json:"allowed_paths"`
		MapRef       struct {
			Hash string `json:"hash"`
		} `json:"map_ref"`
	}
	if err := json.Unmarshal(content, &doc); err != nil {
		return "", nil
	}
	return doc.MapRef.Hash, doc.AllowedPaths
}

func parsePreflightDocument(content []byte) (pass bool, missing []string) {
	if len(content) == 0 {
		return false, nil
	}
	// missing may be a flat array (our own backfill/dispatch shape) or a
	// nested {"files": [...]} object (a worker-authored preflight.json);
	// try both.
	var flat struct {
		Pass    bool     `json:"pass"`
		Missing []string `json:"missing"`
	}
	if err := json.Unmarshal(content, &flat); err == nil {
		return flat.Pass, flat.Missing
	}
	var nested struct {
		Pass    bool `json:"pass"`
		Missing struct {
			Files []string `json:"files"`
		} `json:"missing"`
	}
	if err := json.Unmarshal(content, &nested); err == nil {
		return nested.Pass, nested.Missing.Files
	}
	return false, nil
}

func validateReplayBundle(files []gate.PackFile) bool {
	for _, f := range files {
		if f.Name == contextpack.FileReplayBundle {
			var doc struct {
				SchemaVersion string `json:"schema_version"`
				TaskID        string `json:"task_id"`
			}
			if err := json.Unmarshal(f.Content, &doc); err != nil {
				return false
			}
			return doc.SchemaVersion != "" && doc.TaskID != ""
		}
	}
	return false
}
