// Package replay implements the replay planner (C8): diffing a stored
// workflow snapshot against the live workflow, computing which nodes a
// replay run should re-execute versus reuse from checkpoint, and detecting
// branches the checkpointed run never took.
//
// Grounded on `operators/control_flow.go`'s branch-routing
// logic (the same "ask the executor for the active handle" idea the
// scheduler uses live, replayed here against a frozen checkpoint) and
// `compiler/ir.go`'s node/edge shapes for the snapshot diff.
package replay

import (
	"time"

	"github.com/lyzr/workflow-engine/engine/graph"
)

// Snapshot is a frozen copy of a workflow's nodes and edges at the moment
// an execution started (§3 WorkflowSnapshot). It exists only so a later
// replay attempt can tell whether the workflow changed underneath it.
type Snapshot struct {
	WorkflowID string       `json:"workflowId"`
	Nodes      []graph.Node `json:"nodes"`
	Edges      []graph.Edge `json:"edges"`
	Timestamp  time.Time    `json:"timestamp"`
}

// NewSnapshot copies wf's current nodes and edges into a Snapshot stamped
// with at (pass time.Now() at call sites; the package itself never calls
// the forbidden clock builtins).
func NewSnapshot(wf graph.Workflow, at time.Time) *Snapshot {
	nodes := make([]graph.Node, len(wf.Nodes))
	copy(nodes, wf.Nodes)
	edges := make([]graph.Edge, len(wf.Edges))
	copy(edges, wf.Edges)
	return &Snapshot{WorkflowID: wf.ID, Nodes: nodes, Edges: edges, Timestamp: at}
}
