// Package checkpoint implements the checkpoint layer (C7): capturing a
// running or finished execution's node states, outputs, and variables, and
// restoring that state into a fresh ExecutionContext before a replay run.
// Persistence follows the write-tmp-then-rename discipline from
// common/db and common/cache, adapted to a JSON file store since the core
// has no reason to depend on a CAS/object-store collaborator for this.
package checkpoint

import (
	"time"

	"github.com/lyzr/workflow-engine/engine/execctx"
	"github.com/lyzr/workflow-engine/engine/graph"
)

// NodeSnapshot is one node's frozen state inside a CheckpointState (§3).
type NodeSnapshot struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// State is the CheckpointState data model from §3: a frozen instant of an
// execution's node states, outputs, and variables.
type State struct {
	ExecutionID string                  `json:"executionId"`
	WorkflowID  string                  `json:"workflowId"`
	Timestamp   time.Time               `json:"timestamp"`
	NodeStates  map[string]NodeSnapshot `json:"nodeStates"`
	NodeOutputs map[string]any          `json:"nodeOutputs"`
	Variables   map[string]any          `json:"variables"`
}

// Capture freezes the current state of ec into a State, suitable for
// persistence. May be called mid-run (some nodes still running/pending) or
// after completion.
func Capture(executionID, workflowID string, g *graph.Graph, ec *execctx.Context) *State {
	states := make(map[string]NodeSnapshot)
	outputs := make(map[string]any)

	for _, id := range g.Nodes() {
		st := ec.State(id)
		states[id] = NodeSnapshot{Status: string(st.Status), Error: st.Error}
		if out, ok := ec.RawOutput(id); ok {
			outputs[id] = out
		}
	}

	return &State{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Timestamp:   time.Now(),
		NodeStates:  states,
		NodeOutputs: outputs,
		Variables:   ec.Variables(),
	}
}

// StatusValue maps back to an execctx.Status; unknown/empty values default to
// pending so a corrupt or partial checkpoint fails safe.
func (n NodeSnapshot) StatusValue() execctx.Status {
	switch execctx.Status(n.Status) {
	case execctx.StatusComplete, execctx.StatusError, execctx.StatusSkipped,
		execctx.StatusRunning, execctx.StatusWaiting, execctx.StatusPending:
		return execctx.Status(n.Status)
	default:
		return execctx.StatusPending
	}
}
