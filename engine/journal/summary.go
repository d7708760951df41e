package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lyzr/workflow-engine/engine/events"
)

// NodeSummary is one node's entry inside an ExecutionSummary (§4.10).
type NodeSummary struct {
	NodeID      string     `json:"nodeId"`
	NodeName    string     `json:"nodeName"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ReplayInfo records that an ExecutionSummary belongs to a replayed run
// (§4.10, §9 Open Question (c)).
type ReplayInfo struct {
	SourceExecutionID string `json:"sourceExecutionId"`
	FromNodeID        string `json:"fromNodeId,omitempty"`
}

// ExecutionSummary is the folded, queryable view of one execution's event
// stream — what a dashboard or API client wants, rather than the raw event
// log (§3, §4.10).
type ExecutionSummary struct {
	ExecutionID string     `json:"executionId"`
	WorkflowID  string     `json:"workflowId"`
	Status      string     `json:"status"` // running | complete | error | interrupted
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	Replay      *ReplayInfo `json:"replay,omitempty"`

	Nodes map[string]*NodeSummary `json:"nodes"`
}

// Fold derives an ExecutionSummary by replaying records in order. It is pure
// (no journal state touched) so it can be used both for a live Summary()
// call and for rebuilding a summary.json from a reloaded events.jsonl.
func Fold(executionID string, recs []events.Record) *ExecutionSummary {
	sum := &ExecutionSummary{
		ExecutionID: executionID,
		Status:      "running",
		Nodes:       make(map[string]*NodeSummary),
	}

	for _, rec := range recs {
		e := rec.Event
		ts := rec.Timestamp
		if sum.WorkflowID == "" && e.WorkflowID != "" {
			sum.WorkflowID = e.WorkflowID
		}

		switch e.Type {
		case events.KindExecutionStart:
			t := ts
			sum.StartedAt = &t
			sum.Status = "running"
		case events.KindNodeStart:
			n := sum.node(e.NodeID, e.NodeName)
			n.Status = "running"
			t := ts
			n.StartedAt = &t
		case events.KindNodeComplete:
			n := sum.node(e.NodeID, e.NodeName)
			n.Status = "complete"
			t := ts
			n.CompletedAt = &t
		case events.KindNodeError:
			n := sum.node(e.NodeID, e.NodeName)
			n.Status = "error"
			n.Error = e.Error
			t := ts
			n.CompletedAt = &t
		case events.KindNodeWaiting:
			n := sum.node(e.NodeID, e.NodeName)
			n.Status = "waiting"
		case events.KindExecutionComplete:
			t := ts
			sum.CompletedAt = &t
			sum.Status = "complete"
			sum.Result = e.Result
		case events.KindExecutionError:
			t := ts
			sum.CompletedAt = &t
			if e.Error == "Execution interrupted" {
				sum.Status = "interrupted"
			} else {
				sum.Status = "error"
			}
			sum.Error = e.Error
		}
	}
	return sum
}

func (s *ExecutionSummary) node(id, name string) *NodeSummary {
	n, ok := s.Nodes[id]
	if !ok {
		n = &NodeSummary{NodeID: id, NodeName: name, Status: "pending"}
		s.Nodes[id] = n
	}
	if name != "" {
		n.NodeName = name
	}
	return n
}

// Summary folds executionID's current history into an ExecutionSummary.
func (j *Journal) Summary(executionID string) *ExecutionSummary {
	return Fold(executionID, j.History(executionID))
}

func (j *Journal) summaryPath(executionID string) string {
	return filepath.Join(j.dir, executionID+".summary.json")
}

// PersistSummary writes executionID's current summary to disk using the
// same write-tmp-then-rename discipline as checkpoint.FileStore.Save, so a
// crash mid-write never leaves a corrupt summary.json behind.
func (j *Journal) PersistSummary(executionID string) error {
	sum := j.Summary(executionID)
	raw, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return fmt.Errorf("journal: marshal summary: %w", err)
	}

	final := j.summaryPath(executionID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("journal: write summary tmp: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("journal: rename summary: %w", err)
	}
	return nil
}

// LoadSummary reads a previously persisted summary.json from disk.
func (j *Journal) LoadSummary(executionID string) (*ExecutionSummary, error) {
	raw, err := os.ReadFile(j.summaryPath(executionID))
	if err != nil {
		return nil, fmt.Errorf("journal: read summary: %w", err)
	}
	var sum ExecutionSummary
	if err := json.Unmarshal(raw, &sum); err != nil {
		return nil, fmt.Errorf("journal: unmarshal summary: %w", err)
	}
	return &sum, nil
}
