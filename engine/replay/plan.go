package replay

import (
	"fmt"

	"github.com/lyzr/workflow-engine/engine/checkpoint"
	"github.com/lyzr/workflow-engine/engine/execctx"
	"github.com/lyzr/workflow-engine/engine/graph"
	"github.com/lyzr/workflow-engine/engine/registry"
)

// BlockReason is one reason a replay may not start (§4.11, §7 "Replay
// blocking").
type BlockReason struct {
	Code    string `json:"code"` // invalid-node | inactive-branch | dependency-missing | node-added | node-removed | missing-checkpoint
	Message string `json:"message"`
	NodeID  string `json:"nodeId,omitempty"`
}

// NodeInfo is one node's replay eligibility, for a UI to render per-node
// (§4.11 "Per-node replay info").
type NodeInfo struct {
	NodeID     string `json:"nodeId"`
	Status     string `json:"status,omitempty"`
	Replayable bool   `json:"replayable"`
	Reason     string `json:"reason,omitempty"`
}

// Plan is the computed outcome of a replay request: which nodes will
// re-execute, which sit on a branch the checkpointed run never took, and
// whether the replay is eligible to start at all.
type Plan struct {
	FromNodeID      string              `json:"fromNodeId"`
	ReplayNodeIDs   map[string]bool     `json:"replayNodeIds"`
	InactiveNodeIDs map[string]bool     `json:"inactiveNodeIds"`
	Blocking        []BlockReason       `json:"blocking,omitempty"`
	Warnings        []Warning           `json:"warnings,omitempty"`
	Nodes           map[string]NodeInfo `json:"nodes"`
}

// IsBlocked reports whether the replay may proceed (§7 "caller may not
// start replay" when any blocking reason is present).
func (p *Plan) IsBlocked() bool { return len(p.Blocking) > 0 }

// Compute builds a Plan for replaying g from fromNodeID, given the source
// execution's checkpoint and (possibly nil) recorded workflow snapshot.
func Compute(g *graph.Graph, reg *registry.Registry, ckpt *checkpoint.State, snapshot *Snapshot, fromNodeID string) *Plan {
	plan := &Plan{
		FromNodeID:      fromNodeID,
		ReplayNodeIDs:   make(map[string]bool),
		InactiveNodeIDs: make(map[string]bool),
		Nodes:           make(map[string]NodeInfo),
	}

	plan.Warnings = Diff(snapshot, g.Workflow())
	for _, w := range plan.Warnings {
		if w.Blocking {
			plan.Blocking = append(plan.Blocking, BlockReason{Code: w.Code, Message: w.Message, NodeID: w.NodeID})
		}
	}

	if ckpt == nil {
		plan.Blocking = append(plan.Blocking, BlockReason{
			Code:    "missing-checkpoint",
			Message: "no checkpoint was recorded for the source execution",
		})
		return plan
	}

	node := g.Node(fromNodeID)
	if node == nil {
		plan.Blocking = append(plan.Blocking, BlockReason{
			Code:    "invalid-node",
			Message: fmt.Sprintf("node %q is not present in the current workflow", fromNodeID),
			NodeID:  fromNodeID,
		})
		return plan
	}

	plan.ReplayNodeIDs[fromNodeID] = true
	for _, id := range g.Descendants(fromNodeID) {
		plan.ReplayNodeIDs[id] = true
	}

	for _, ancID := range g.Ancestors(fromNodeID) {
		if reason, blocked := dependencyReason(ckpt, ancID); blocked {
			plan.Blocking = append(plan.Blocking, BlockReason{Code: "dependency-missing", Message: reason, NodeID: ancID})
		}
	}

	plan.InactiveNodeIDs = inactiveNodeIDs(g, reg, ckpt, plan.ReplayNodeIDs)
	if plan.InactiveNodeIDs[fromNodeID] {
		plan.Blocking = append(plan.Blocking, BlockReason{
			Code:    "inactive-branch",
			Message: fmt.Sprintf("node %q sits on a branch the checkpointed run did not take", fromNodeID),
			NodeID:  fromNodeID,
		})
	}

	for _, id := range g.Nodes() {
		plan.Nodes[id] = nodeInfo(g, ckpt, plan.InactiveNodeIDs, id)
	}

	return plan
}

// dependencyReason reports why ancID cannot be reused from the checkpoint,
// or ("", false) if it can (§4.11 "dependency-missing").
func dependencyReason(ckpt *checkpoint.State, ancID string) (string, bool) {
	snap, ok := ckpt.NodeStates[ancID]
	if !ok {
		return fmt.Sprintf("node %q has no recorded checkpoint state", ancID), true
	}
	status := snap.StatusValue()
	if status != execctx.StatusComplete && status != execctx.StatusSkipped {
		return fmt.Sprintf("node %q is %s, not complete or skipped, in the checkpoint", ancID, status), true
	}
	if status == execctx.StatusComplete {
		if _, ok := ckpt.NodeOutputs[ancID]; !ok {
			return fmt.Sprintf("node %q is complete but its output is missing from the checkpoint", ancID), true
		}
	}
	return "", false
}

func nodeInfo(g *graph.Graph, ckpt *checkpoint.State, inactive map[string]bool, id string) NodeInfo {
	info := NodeInfo{NodeID: id, Replayable: true}
	if snap, ok := ckpt.NodeStates[id]; ok {
		info.Status = snap.Status
	}
	if inactive[id] {
		info.Replayable = false
		info.Reason = "node is on a branch the checkpointed run did not take"
		return info
	}
	for _, ancID := range g.Ancestors(id) {
		if reason, blocked := dependencyReason(ckpt, ancID); blocked {
			info.Replayable = false
			info.Reason = reason
			return info
		}
	}
	return info
}

// inactiveNodeIDs walks every checkpoint-complete branching node outside
// replaySet, asks its executor which handle was active for the recorded
// output, and marks everything reachable from an inactive out-edge
// (§4.11 "Compute inactiveNodeIds").
func inactiveNodeIDs(g *graph.Graph, reg *registry.Registry, ckpt *checkpoint.State, replaySet map[string]bool) map[string]bool {
	inactive := make(map[string]bool)
	for _, id := range g.Nodes() {
		if replaySet[id] {
			continue
		}
		snap, ok := ckpt.NodeStates[id]
		if !ok || snap.StatusValue() != execctx.StatusComplete {
			continue
		}
		node := g.Node(id)
		if node == nil {
			continue
		}
		ex, err := reg.Lookup(node.Type)
		if err != nil {
			continue
		}
		branching, ok := ex.(registry.BranchingExecutor)
		if !ok {
			continue
		}
		handle, ok := branching.GetOutputHandle(registry.Result{Output: ckpt.NodeOutputs[id]}, node)
		if !ok {
			continue
		}
		for _, e := range g.OutEdges(id) {
			if e.SourceHandle == "" || e.SourceHandle == handle {
				continue
			}
			for _, r := range g.ReachableFrom(e.Target) {
				inactive[r] = true
			}
		}
	}
	return inactive
}
