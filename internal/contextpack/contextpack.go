// Package contextpack implements the Context-Pack Service (§4.E): it
// materializes the sealed, content-addressed bundle a worker fetches
// before executing a job, and serves pack files in both raw and
// JSON-wrapped form. Reuse across retries is keyed by a fast internal
// blake3 digest of (taskId, mapHash, pinsHash), grounded on kilroy's
// CXDBSink blob-hashing helper (internal/attractor/engine/cxdb_sink.go);
// the attestation-critical content-addressed packId itself stays sha256,
// since that is the hash workers are required to reproduce (§4.H.1).
package contextpack

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Micheleww/scc-gateway/internal/attestation"
	"github.com/zeebo/blake3"
)

// Required file names inside a pack (§4.E, §4.H.1).
const (
	FileManifest     = "manifest.json"
	FileTask         = "task.json"
	FilePins         = "pins.json"
	FilePreflight    = "preflight.json"
	FileReplayBundle = "replay_bundle.json"
)

// FileEntry is one manifest row: an included file's content hash and
// size.
type FileEntry struct {
	Name   string `json:"name"`
	Sha256 string `json:"sha256"`
	Size   int    `json:"size"`
}

// Manifest enumerates every file included in a pack, sorted by name so
// its canonical JSON form is deterministic (packId = sha256 of this).
type Manifest struct {
	Files []FileEntry `json:"files"`
}

// BuildParams are the raw JSON documents a pack wraps.
type BuildParams struct {
	TaskID   string
	MapHash  string
	PinsHash string

	Task      []byte
	Pins      []byte
	Preflight []byte
	// ReplayBundle is nil unless this job was dispatched via the replay
	// path (§4.E).
	ReplayBundle []byte
}

// Pack is a materialized, immutable context pack.
type Pack struct {
	PackID   string
	Dir      string
	Manifest Manifest
}

// Service materializes and serves packs under root (artifacts/packs/).
type Service struct {
	root string

	mu      sync.Mutex
	byDedup map[string]string // dedupe key -> packId, reused across retries
}

// New creates a Service rooted at dir.
func New(dir string) *Service {
	return &Service{root: dir, byDedup: make(map[string]string)}
}

func dedupeKey(taskID, mapHash, pinsHash string) string {
	h := blake3.New()
	h.Write([]byte(taskID))
	h.Write([]byte{0})
	h.Write([]byte(mapHash))
	h.Write([]byte{0})
	h.Write([]byte(pinsHash))
	return hex.EncodeToString(h.Sum(nil))
}

// Build materializes a pack for (taskId, mapHash, pinsHash), reusing an
// existing pack directory when the tuple was already built (§4.E: "built
// once per (taskId, mapHash, pinsHash) tuple and reused").
func (s *Service) Build(p BuildParams) (*Pack, error) {
	key := dedupeKey(p.TaskID, p.MapHash, p.PinsHash)

	s.mu.Lock()
	if packID, ok := s.byDedup[key]; ok {
		s.mu.Unlock()
		return s.loadExisting(packID)
	}
	s.mu.Unlock()

	files := map[string][]byte{
		FileTask:      p.Task,
		FilePins:      p.Pins,
		FilePreflight: p.Preflight,
	}
	if p.ReplayBundle != nil {
		files[FileReplayBundle] = p.ReplayBundle
	}

	manifest := Manifest{}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		content := files[name]
		manifest.Files = append(manifest.Files, FileEntry{
			Name:   name,
			Sha256: attestation.Sha256Hex(content),
			Size:   len(content),
		})
	}

	canonical, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	packID := attestation.Sha256Hex(canonical)

	dir := filepath.Join(s.root, packID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir pack dir: %w", err)
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), files[name], 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, FileManifest), canonical, 0o644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	s.mu.Lock()
	s.byDedup[key] = packID
	s.mu.Unlock()

	return &Pack{PackID: packID, Dir: dir, Manifest: manifest}, nil
}

func (s *Service) loadExisting(packID string) (*Pack, error) {
	dir := filepath.Join(s.root, packID)
	raw, err := os.ReadFile(filepath.Join(dir, FileManifest))
	if err != nil {
		return nil, fmt.Errorf("read existing manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("parse existing manifest: %w", err)
	}
	return &Pack{PackID: packID, Dir: dir, Manifest: manifest}, nil
}

// WrappedFile is the JSON-wrapped variant returned by FetchBundleFile when
// format != "raw".
type WrappedFile struct {
	Filename     string `json:"filename"`
	Sha256       string `json:"sha256"`
	ContentB64   string `json:"content_base64"`
}

// FetchBundleFile serves one pack file. format "raw" returns the exact
// bytes a worker must hash to attest it read the file; any other format
// returns the JSON-wrapped variant (§4.E).
func (s *Service) FetchBundleFile(packID, filename, format string) (raw []byte, wrapped *WrappedFile, contentType string, err error) {
	path := filepath.Join(s.root, packID, filepath.Base(filename))
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, "", fmt.Errorf("pack %s file %s: %w", packID, filename, err)
	}
	if format == "raw" {
		return content, nil, "application/octet-stream", nil
	}
	return nil, &WrappedFile{
		Filename:   filename,
		Sha256:     attestation.Sha256Hex(content),
		ContentB64: base64.StdEncoding.EncodeToString(content),
	}, "application/json", nil
}

// Exists reports whether packID was already materialized.
func (s *Service) Exists(packID string) bool {
	_, err := os.Stat(filepath.Join(s.root, packID, FileManifest))
	return err == nil
}
