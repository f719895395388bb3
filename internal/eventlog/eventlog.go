// Package eventlog implements the append-only domain event log (§4.J):
// one JSONL row per domain transition at artifacts/events.jsonl. Writes
// are best-effort and never block a state transition (§9); tail reads
// are grounded on kilroy's runstate.readLastProgressEvent bufio.Scanner
// pattern over an ndjson file.
package eventlog

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// Type enumerates the recognized domain event types (§4.J).
type Type string

const (
	JobClaimed       Type = "JOB_CLAIMED"
	Success          Type = "SUCCESS"
	CIFailed         Type = "CI_FAILED"
	ExecutorError    Type = "EXECUTOR_ERROR"
	PinsInsufficient Type = "PINS_INSUFFICIENT"
	PreflightFailed  Type = "PREFLIGHT_FAILED"
	JobTimeout       Type = "JOB_TIMEOUT"
	WorkerDead       Type = "WORKER_DEAD"
)

// SchemaVersion is the wire schema tag carried by every row (§6.3).
const SchemaVersion = "scc.event.v1"

// Event is one row of artifacts/events.jsonl.
type Event struct {
	SchemaVersion string `json:"schema_version"`
	T             time.Time `json:"t"`
	EventType     Type   `json:"event_type"`
	TaskID        string `json:"task_id"`
	ParentID      string `json:"parent_id,omitempty"`
	Role          string `json:"role,omitempty"`
	Area          string `json:"area,omitempty"`
	Executor      string `json:"executor,omitempty"`
	Model         string `json:"model,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Log appends to and tails a single JSONL file.
type Log struct {
	path   string
	logger *log.Logger

	mu sync.Mutex
}

// New creates a Log writing to path.
func New(path string, logger *log.Logger) *Log {
	if logger == nil {
		logger = log.New(os.Stderr, "[eventlog] ", log.LstdFlags)
	}
	return &Log{path: path, logger: logger}
}

// Append writes one event row. Per §9/§4.J this is best-effort: the
// caller should log a returned error and continue, never fail or retry
// the state transition that produced the event.
func (l *Log) Append(ev Event) error {
	return l.BatchAppend([]Event{ev})
}

// BatchAppend writes multiple rows in one file open, dropping exact
// duplicates within the batch using a fast blake3 digest of the
// canonical JSON form (batch-flush is permissible but not required, §9;
// this is the dedupe half of that optimization).
func (l *Log) BatchAppend(events []Event) error {
	if len(events) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.logger.Printf("open %s: %v", l.path, err)
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	seen := map[string]bool{}
	w := bufio.NewWriter(f)
	for _, ev := range events {
		if ev.SchemaVersion == "" {
			ev.SchemaVersion = SchemaVersion
		}
		if ev.T.IsZero() {
			ev.T = time.Now().UTC()
		}
		raw, err := json.Marshal(ev)
		if err != nil {
			l.logger.Printf("marshal event: %v", err)
			continue
		}
		key := dedupeKey(raw)
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, err := w.Write(raw); err != nil {
			l.logger.Printf("write event: %v", err)
			return fmt.Errorf("write event: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			l.logger.Printf("write event newline: %v", err)
			return fmt.Errorf("write event: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		l.logger.Printf("flush %s: %v", l.path, err)
		return fmt.Errorf("flush event log: %w", err)
	}
	return nil
}

func dedupeKey(raw []byte) string {
	h := blake3.New()
	h.Write(raw)
	return hex.EncodeToString(h.Sum(nil))
}

// Tail returns up to n most-recent events, oldest first.
func (l *Log) Tail(n int) ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var lines []string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", l.path, err)
	}

	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	out := make([]Event, 0, len(lines))
	for _, line := range lines {
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			l.logger.Printf("decode event row: %v", err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// HasEventForTask reports whether any row in the log references taskID.
// Used by the Gate Pipeline's Events stage (§4.H.1 stage 6).
func (l *Log) HasEventForTask(taskID string) (bool, error) {
	events, err := l.Tail(0)
	if err != nil {
		return false, err
	}
	for _, ev := range events {
		if ev.TaskID == taskID {
			return true, nil
		}
	}
	return false, nil
}
