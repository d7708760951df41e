package replay

import (
	"fmt"
	"reflect"

	"github.com/lyzr/workflow-engine/engine/graph"
)

// Warning is one entry of a snapshot diff (§4.11). Blocking warnings
// (structural add/remove) prevent a replay from starting; non-blocking
// ones (node/edge content changed, or the snapshot itself is missing) are
// surfaced to the caller but don't stop the replay.
type Warning struct {
	Code     string `json:"code"` // node-removed | node-added | node-changed | edge-changed | snapshot-missing
	Message  string `json:"message"`
	NodeID   string `json:"nodeId,omitempty"`
	Blocking bool   `json:"blocking"`
}

// Diff compares snapshot against the workflow's current nodes/edges.
// A nil snapshot (no snapshot was ever recorded for the source execution)
// produces a single non-blocking "snapshot-missing" warning.
func Diff(snapshot *Snapshot, current graph.Workflow) []Warning {
	if snapshot == nil {
		return []Warning{{
			Code:    "snapshot-missing",
			Message: "no workflow snapshot was recorded for the source execution",
		}}
	}

	var warnings []Warning
	oldNodes := nodesByID(snapshot.Nodes)
	newNodes := nodesByID(current.Nodes)

	for id, n := range oldNodes {
		if _, ok := newNodes[id]; !ok {
			warnings = append(warnings, Warning{
				Code:     "node-removed",
				Message:  fmt.Sprintf("node %q (%s) was removed from the workflow", id, n.Data.Name),
				NodeID:   id,
				Blocking: true,
			})
		}
	}
	for id, n := range newNodes {
		if _, ok := oldNodes[id]; !ok {
			warnings = append(warnings, Warning{
				Code:     "node-added",
				Message:  fmt.Sprintf("node %q (%s) was added to the workflow", id, n.Data.Name),
				NodeID:   id,
				Blocking: true,
			})
		}
	}
	for id, oldN := range oldNodes {
		newN, ok := newNodes[id]
		if !ok {
			continue
		}
		if oldN.Type != newN.Type || !reflect.DeepEqual(oldN.Data, newN.Data) {
			warnings = append(warnings, Warning{
				Code:    "node-changed",
				Message: fmt.Sprintf("node %q (%s) configuration changed since the snapshot", id, oldN.Data.Name),
				NodeID:  id,
			})
		}
	}

	oldEdges := edgeSet(snapshot.Edges)
	newEdges := edgeSet(current.Edges)
	if !edgeSetsEqual(oldEdges, newEdges) {
		warnings = append(warnings, Warning{
			Code:    "edge-changed",
			Message: "the edge set changed since the snapshot was recorded",
		})
	}

	return warnings
}

func nodesByID(nodes []graph.Node) map[string]graph.Node {
	m := make(map[string]graph.Node, len(nodes))
	for _, n := range nodes {
		m[n.ID] = n
	}
	return m
}

type edgeKey struct {
	Source       string
	SourceHandle string
	Target       string
	TargetHandle string
	EdgeType     string
}

func edgeSet(edges []graph.Edge) map[edgeKey]bool {
	m := make(map[edgeKey]bool, len(edges))
	for _, e := range edges {
		m[edgeKey{e.Source, e.SourceHandle, e.Target, e.TargetHandle, e.EdgeType}] = true
	}
	return m
}

func edgeSetsEqual(a, b map[edgeKey]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
