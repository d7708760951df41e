package scheduler

import (
	"github.com/lyzr/workflow-engine/engine/execctx"
	"github.com/lyzr/workflow-engine/engine/graph"
)

// applyBranch runs branch skipping then active-branch/loop reset for a
// node that just completed with the given active output handle (§4.4
// "Branch skipping"). Order matters: skip first, then reset — otherwise a
// downstream reset cascade could be immediately re-skipped, or a skip
// cascade could demote a node the reset pass just re-activated.
func (s *Scheduler) applyBranch(g *graph.Graph, ec *execctx.Context, nodeID, activeHandle string) {
	for _, e := range g.OutEdges(nodeID) {
		if e.SourceHandle != "" && e.SourceHandle != activeHandle {
			s.trySkip(g, ec, e.Target, nodeID)
		}
	}
	for _, e := range g.OutEdges(nodeID) {
		if e.SourceHandle == activeHandle {
			s.tryReset(g, ec, e.Target)
		}
	}
}

// trySkip marks target skipped iff every one of its predecessors other
// than exemptID is already skipped or errored (§4.4, §8 "Skipping
// safety"). exemptID lets the branching node itself — which is complete,
// not skipped — be excluded from that check at the first hop; recursive
// cascades pass "" since by then the direct trigger is already skipped.
func (s *Scheduler) trySkip(g *graph.Graph, ec *execctx.Context, target, exemptID string) {
	if ec.State(target).Status != execctx.StatusPending {
		return
	}
	for _, p := range g.Predecessors(target) {
		if p == exemptID {
			continue
		}
		switch ec.State(p).Status {
		case execctx.StatusSkipped, execctx.StatusError:
			// does not block the skip
		default:
			return // an active predecessor remains; wait
		}
	}

	ec.SetStatus(target, execctx.StatusSkipped)
	for _, succ := range g.Successors(target) {
		s.trySkip(g, ec, succ, "")
	}
}

// tryReset handles both loop reset (target already complete — the
// branching node routed into a back-edge) and active-branch reset (target
// was skipped on an earlier iteration but the branch routing to it is now
// active).
func (s *Scheduler) tryReset(g *graph.Graph, ec *execctx.Context, target string) {
	switch ec.State(target).Status {
	case execctx.StatusComplete, execctx.StatusSkipped:
		s.resetCascade(g, ec, target, make(map[string]bool))
	default:
		// pending, running, error, waiting: nothing to do
	}
}

// resetCascade resets target and every downstream complete/skipped node
// back to pending, bounded by visited to stay total on the cyclic graphs
// loops produce (§9 "back-edges by post-execution state").
func (s *Scheduler) resetCascade(g *graph.Graph, ec *execctx.Context, id string, visited map[string]bool) {
	if visited[id] {
		return
	}
	visited[id] = true

	switch ec.State(id).Status {
	case execctx.StatusComplete, execctx.StatusSkipped:
	default:
		return
	}

	ec.ClearOutput(id)
	ec.SetStatus(id, execctx.StatusPending)
	for _, succ := range g.Successors(id) {
		s.resetCascade(g, ec, succ, visited)
	}
}
