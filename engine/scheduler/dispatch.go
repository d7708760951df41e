package scheduler

import (
	"fmt"
	"time"

	"github.com/lyzr/workflow-engine/common/tracing"
	"github.com/lyzr/workflow-engine/engine/events"
	"github.com/lyzr/workflow-engine/engine/execctx"
	"github.com/lyzr/workflow-engine/engine/graph"
	"github.com/lyzr/workflow-engine/engine/registry"
)

// dispatch runs a single node to completion (§4.4 "Node execution"): looks
// up its executor, validates, executes, and on return mutates ec on the
// control loop's behalf (dispatch itself is the only writer for this node,
// so it is safe for it to call ec's setters directly even though it runs
// on its own goroutine — no two dispatches ever touch the same node).
func (s *Scheduler) dispatch(g *graph.Graph, ec *execctx.Context, id string, wake chan<- struct{}) {
	defer func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}()

	node := g.Node(id)
	started := time.Now()
	s.sink.Emit(record(events.Event{Type: events.KindNodeStart, ExecutionID: ec.ExecutionID, NodeID: id, NodeName: node.Data.Name}))

	ex, err := s.registry.Lookup(node.Type)
	if err != nil {
		s.failNode(g, ec, node, err.Error(), started)
		return
	}

	if verr := ex.Validate(node); verr != nil {
		s.failNode(g, ec, node, verr.Error(), started)
		return
	}

	nodeCtx := ec.NodeContext(id)
	nodeCtx, span := tracing.StartNodeSpan(nodeCtx, id, node.Type)
	defer span.End()

	emit := func(sub any) {
		s.sink.Emit(record(events.Event{Type: events.KindNodeOutput, ExecutionID: ec.ExecutionID, NodeID: id, SubEvent: sub}))
	}

	result, err := ex.Execute(nodeCtx, node, ec, emit)
	if err != nil {
		span.RecordError(err)
		s.failNode(g, ec, node, err.Error(), started)
		return
	}

	ec.SetOutput(id, result.Output)
	s.sink.Emit(record(events.Event{Type: events.KindNodeComplete, ExecutionID: ec.ExecutionID, NodeID: id, Result: result.Output}))
	s.metrics.ObserveNode(node.Type, "complete", started)

	if be, ok := ex.(registry.BranchingExecutor); ok {
		if handle, ok := be.GetOutputHandle(result, node); ok {
			s.applyBranch(g, ec, id, handle)
		}
	}
}

func (s *Scheduler) failNode(g *graph.Graph, ec *execctx.Context, node *graph.Node, msg string, started time.Time) {
	ec.SetError(node.ID, msg)
	s.sink.Emit(record(events.Event{Type: events.KindNodeError, ExecutionID: ec.ExecutionID, NodeID: node.ID, Error: msg}))
	s.metrics.ObserveNode(node.Type, "error", started)
	s.propagateError(g, ec, node.ID, node.Data.Name, msg)
}

// propagateError demotes every pending descendant of a failed node to
// error with a wrapped message (§7 "Per-node runtime"). Descendants that
// are already running, complete, skipped, or errored are left alone —
// sibling branches keep executing.
func (s *Scheduler) propagateError(g *graph.Graph, ec *execctx.Context, failedID, failedName, msg string) {
	wrapped := fmt.Sprintf("upstream node %q failed: %s", failedName, msg)
	for _, d := range g.Descendants(failedID) {
		if ec.State(d).Status != execctx.StatusPending {
			continue
		}
		ec.SetError(d, wrapped)
		s.sink.Emit(record(events.Event{Type: events.KindNodeError, ExecutionID: ec.ExecutionID, NodeID: d, Error: wrapped}))
	}
}
