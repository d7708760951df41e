package scheduler

import (
	"context"
	"time"

	"github.com/lyzr/workflow-engine/engine/execctx"
	"github.com/lyzr/workflow-engine/engine/graph"
)

// runLoop is the ready-set main loop (§4.4 "Main loop"). It dispatches
// every newly-ready node concurrently and idle-waits (bounded by idlePoll,
// or woken early by a node finishing) whenever the ready set is empty but
// the run isn't finished or stuck.
func (s *Scheduler) runLoop(ctx context.Context, g *graph.Graph, ec *execctx.Context) error {
	wake := make(chan struct{}, 1)

	for {
		if ctx.Err() != nil || ec.Aborted() {
			ec.Interrupt()
			return ErrInterrupted
		}

		ready := s.readySet(g, ec)
		if len(ready) == 0 {
			switch s.overallStatus(g, ec) {
			case statusDone:
				return nil
			case statusStuck:
				return ErrCycleOrUnsatisfied
			default: // statusWaiting
				select {
				case <-wake:
				case <-time.After(s.idlePoll):
				case <-ctx.Done():
				case <-ec.RootContext().Done():
				}
				continue
			}
		}

		for _, id := range ready {
			ec.SetStatus(id, execctx.StatusRunning)
			go s.dispatch(g, ec, id, wake)
		}
	}
}

type overallStatus int

const (
	statusWaiting overallStatus = iota
	statusDone
	statusStuck
)

func (s *Scheduler) overallStatus(g *graph.Graph, ec *execctx.Context) overallStatus {
	anyActive := false
	anyPending := false
	for _, id := range g.Nodes() {
		switch ec.State(id).Status {
		case execctx.StatusRunning, execctx.StatusWaiting:
			anyActive = true
		case execctx.StatusPending:
			anyPending = true
		}
	}
	if anyActive {
		return statusWaiting
	}
	if anyPending {
		return statusStuck
	}
	return statusDone
}

// readySet returns every node id eligible to start this tick (§4.4
// "Ready-set rule"): pending, not an input node, with every predecessor
// complete or skipped (pending predecessors are tolerated only across a
// back-edge), and at least one complete predecessor. A node dispatched on
// an earlier tick is excluded because SetStatus(id, StatusRunning) runs
// synchronously before its dispatch goroutine is spawned, so it is no
// longer StatusPending here; a loop-reset node becomes eligible again the
// moment resetCascade puts it back to StatusPending.
func (s *Scheduler) readySet(g *graph.Graph, ec *execctx.Context) []string {
	var ready []string
	for _, id := range g.Nodes() {
		n := g.Node(id)
		if n.Type == "input" {
			continue
		}
		if ec.State(id).Status != execctx.StatusPending {
			continue
		}
		if s.isReady(g, ec, id) {
			ready = append(ready, id)
		}
	}
	return ready
}

func (s *Scheduler) isReady(g *graph.Graph, ec *execctx.Context, id string) bool {
	preds := g.Predecessors(id)
	if len(preds) == 0 {
		return false
	}

	anyComplete := false
	for _, p := range preds {
		switch ec.State(p).Status {
		case execctx.StatusComplete:
			anyComplete = true
		case execctx.StatusSkipped:
			// does not block, does not count toward "at least one complete"
		case execctx.StatusPending:
			if !g.IsBackEdge(graph.Edge{Source: p, Target: id}) {
				return false
			}
			// a pending predecessor across a back-edge is a loop source
			// that hasn't looped (yet); it never blocks readiness.
		default: // running, error, waiting
			return false
		}
	}
	return anyComplete
}
