// Package journal implements the event journal (C6): the single-writer,
// append-only per-execution event stream that both persists to disk and
// mirrors to live subscribers (engine/subscribe). It is the system of
// record for "what did happen"; engine/execctx is the record of "what is
// happening" (§4.10).
//
// Grounded on the worker packages' single-consumer-group
// discipline (one writer per stream) and common/db's write-then-rename
// file handling, generalized from Redis streams to a local JSONL file
// since the core has no cross-process journal requirement (§1 non-goals).
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lyzr/workflow-engine/common/logger"
	"github.com/lyzr/workflow-engine/common/metrics"
	"github.com/lyzr/workflow-engine/engine/events"
	"github.com/lyzr/workflow-engine/engine/subscribe"
)

// Journal implements events.Sink. Appends are serialized through mu so two
// concurrently-completing node tasks never interleave their writes, and so
// a Subscribe call always sees a consistent history/live-stream split
// (§5 "journal append order matches emission order").
type Journal struct {
	mu      sync.Mutex
	dir     string
	hub     *subscribe.Hub
	history map[string][]events.Record
	metrics *metrics.Registry
	log     *logger.Logger
}

// New creates a Journal persisting under dir (one "<executionId>.events.jsonl"
// file per execution) and mirroring through hub.
func New(dir string, hub *subscribe.Hub, m *metrics.Registry, log *logger.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}
	if m == nil {
		m = metrics.Noop()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Journal{
		dir:     dir,
		hub:     hub,
		history: make(map[string][]events.Record),
		metrics: m,
		log:     log,
	}, nil
}

func (j *Journal) path(executionID string) string {
	return filepath.Join(j.dir, executionID+".events.jsonl")
}

// Emit implements events.Sink: appends rec to the in-memory history and the
// on-disk JSONL file, then fans it out to live subscribers — all under one
// lock, so a Subscribe racing with an Emit sees either the pre- or
// post-event state, never a torn one.
func (j *Journal) Emit(rec events.Record) {
	j.mu.Lock()
	defer j.mu.Unlock()

	execID := rec.Event.ExecutionID
	j.history[execID] = append(j.history[execID], rec)

	if err := j.appendLine(execID, rec); err != nil {
		j.log.Error("journal: failed to persist event", "execution_id", execID, "error", err)
	}
	j.metrics.JournalAppends.Inc()

	j.hub.Publish(execID, rec)

	if isTerminal(rec.Event.Type) {
		j.hub.CloseExecution(execID)
	}
}

func isTerminal(k events.Kind) bool {
	return k == events.KindExecutionComplete || k == events.KindExecutionError
}

func (j *Journal) appendLine(executionID string, rec events.Record) error {
	f, err := os.OpenFile(j.path(executionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Subscribe returns a live subscription plus every already-appended record
// for executionID strictly newer than after (§6 "resume-after-timestamp").
// Pass the zero time.Time to get the full history.
func (j *Journal) Subscribe(executionID string, after time.Time) (*subscribe.Subscription, []events.Record) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var backlog []events.Record
	for _, rec := range j.history[executionID] {
		if rec.Timestamp.After(after) {
			backlog = append(backlog, rec)
		}
	}
	return j.hub.Subscribe(executionID), backlog
}

// History returns every event appended for executionID so far, in order.
func (j *Journal) History(executionID string) []events.Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]events.Record, len(j.history[executionID]))
	copy(out, j.history[executionID])
	return out
}

// Load replays a persisted events.jsonl file from disk into memory — used
// on process restart to rehydrate History()/Subscribe() for an execution
// whose journal predates this process.
func (j *Journal) Load(executionID string) error {
	f, err := os.Open(j.path(executionID))
	if err != nil {
		return fmt.Errorf("journal: open %s: %w", executionID, err)
	}
	defer f.Close()

	var recs []events.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec events.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("journal: unmarshal %s: %w", executionID, err)
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("journal: scan %s: %w", executionID, err)
	}

	j.mu.Lock()
	j.history[executionID] = recs
	j.mu.Unlock()
	return nil
}
