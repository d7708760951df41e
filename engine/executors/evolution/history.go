package evolution

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONLHistory is the reference HistoryWriter: one append-only
// "<workflowId>.evolution.jsonl" file per workflow, serialized through a
// single mutex exactly like engine/journal.Journal.appendLine (C6) — the
// same single-writer discipline applied to the evolution-history stream
// §6 calls out separately from events.jsonl.
type JSONLHistory struct {
	mu  sync.Mutex
	dir string
}

// NewJSONLHistory creates a JSONLHistory persisting under dir.
func NewJSONLHistory(dir string) (*JSONLHistory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("evolution: create dir: %w", err)
	}
	return &JSONLHistory{dir: dir}, nil
}

func (h *JSONLHistory) path(workflowID string) string {
	return filepath.Join(h.dir, workflowID+".evolution.jsonl")
}

// Append writes rec as one JSON line, creating the file if needed.
func (h *JSONLHistory) Append(rec HistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.OpenFile(h.path(rec.WorkflowID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
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

var _ HistoryWriter = (*JSONLHistory)(nil)
