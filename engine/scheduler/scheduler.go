// Package scheduler implements the DAG scheduler (C5): the ready-set loop,
// parallel dispatch, per-node abort, branch skip/reset, loop reset via
// back-edge detection, and error propagation. It is the logically
// single-threaded control loop described in §5 — node tasks run
// concurrently, but every mutation of the ExecutionContext happens on this
// loop's goroutine.
//
// Grounded on coordinator.Coordinator (main BLPOP loop,
// CompletionSignal) and operators.ControlFlowRouter/LoopOperator/
// BranchOperator, adapted from that Redis-choreographed,
// cross-process model into a single in-process control loop per §5's
// non-goal of distributed coordination.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lyzr/workflow-engine/common/logger"
	"github.com/lyzr/workflow-engine/common/metrics"
	"github.com/lyzr/workflow-engine/common/tracing"
	"github.com/lyzr/workflow-engine/engine/approval"
	"github.com/lyzr/workflow-engine/engine/checkpoint"
	"github.com/lyzr/workflow-engine/engine/events"
	"github.com/lyzr/workflow-engine/engine/execctx"
	"github.com/lyzr/workflow-engine/engine/graph"
	"github.com/lyzr/workflow-engine/engine/registry"
	"github.com/lyzr/workflow-engine/engine/resolver"
)

// ErrCycleOrUnsatisfied is returned when the ready set is empty, no node is
// running/waiting, and at least one node remains pending (§4.4).
var ErrCycleOrUnsatisfied = errors.New("cycle or unsatisfied dependencies")

// ErrInterrupted is returned when a run is stopped by Interrupt (§5, §7).
var ErrInterrupted = errors.New("execution interrupted")

const defaultIdlePoll = 100 * time.Millisecond

// Scheduler runs workflows to completion against a shared, process-wide
// executor Registry.
type Scheduler struct {
	registry  *registry.Registry
	resolver  *resolver.Resolver
	sink      events.Sink
	metrics   *metrics.Registry
	log       *logger.Logger
	idlePoll  time.Duration
	approvals *approval.Coordinator
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithIdlePoll overrides the default 100ms idle-wait interval (§4.4).
func WithIdlePoll(d time.Duration) Option {
	return func(s *Scheduler) { s.idlePoll = d }
}

// WithMetrics attaches a prometheus-backed metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithApprovals attaches the approval coordinator an approval-type
// executor awaits on; wiring it here lets Interrupt cancel every pending
// approval for the execution (§5 "Pending approvals for the execution are
// cancelled").
func WithApprovals(c *approval.Coordinator) Option {
	return func(s *Scheduler) { s.approvals = c }
}

// New creates a Scheduler. sink receives every event the run produces
// (typically the journal, which mirrors to subscribers and persists).
func New(reg *registry.Registry, res *resolver.Resolver, sink events.Sink, log *logger.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry: reg,
		resolver: res,
		sink:     sink,
		log:      log,
		idlePoll: defaultIdlePoll,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.Noop()
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.approvals == nil {
		s.approvals = approval.New()
	}
	return s
}

// Run executes wf from scratch with the given input (§4.4 "Inputs").
func (s *Scheduler) Run(ctx context.Context, wf graph.Workflow, executionID string, input any) (*execctx.Context, error) {
	g, err := graph.New(wf)
	if err != nil {
		s.sink.Emit(record(events.Event{
			Type: events.KindValidationError, ExecutionID: executionID, WorkflowID: wf.ID,
			Validation: []events.ValidationIssue{{Code: "invalid-workflow", Message: err.Error()}},
		}))
		return nil, fmt.Errorf("scheduler: build graph: %w", err)
	}

	ec := execctx.New(wf.ID, executionID, wf.WorkingDirectory, input, g.NameToID())
	ec.SetPredecessors(predecessorNames(g))
	ec.SetAncestors(ancestorNames(g))
	ec.SetSuccessorRequiresJSON(successorRequiresJSON(g))
	ec.SetSink(s.sink)
	return ec, s.run(ctx, g, ec, nil, nil)
}

// ExecuteFromCheckpoint resumes a prior execution: nodes outside
// replayNodeIDs are seeded from ckpt (with synthetic node-start/complete
// events for subscribers), nodes in replayNodeIDs are reset to pending,
// and nodes in inactiveNodeIDs are marked skipped (§4.4 "Replay entry
// point").
func (s *Scheduler) ExecuteFromCheckpoint(ctx context.Context, wf graph.Workflow, executionID string, input any, ckpt *checkpoint.State, replayNodeIDs, inactiveNodeIDs map[string]bool) (*execctx.Context, error) {
	g, err := graph.New(wf)
	if err != nil {
		return nil, fmt.Errorf("scheduler: build graph: %w", err)
	}

	ec := execctx.New(wf.ID, executionID, wf.WorkingDirectory, input, g.NameToID())
	ec.SetPredecessors(predecessorNames(g))
	ec.SetAncestors(ancestorNames(g))
	ec.SetSuccessorRequiresJSON(successorRequiresJSON(g))
	ec.SetSink(s.sink)
	s.seedFromCheckpoint(g, ec, ckpt, replayNodeIDs, inactiveNodeIDs)
	return ec, s.run(ctx, g, ec, replayNodeIDs, inactiveNodeIDs)
}

// StartAsync is Run's non-blocking counterpart: it builds the graph and
// ExecutionContext synchronously (so the caller gets an interruptible handle
// back immediately) and runs the loop on a background goroutine. Errors are
// reported only through the sink's execution-error event, matching the rest
// of the engine's event-sourced surface (§6) rather than a returned error -
// the HTTP/WebSocket boundary that drives this is built around streaming
// events, not blocking on one long call.
func (s *Scheduler) StartAsync(ctx context.Context, wf graph.Workflow, executionID string, input any) (*execctx.Context, error) {
	g, err := graph.New(wf)
	if err != nil {
		s.sink.Emit(record(events.Event{
			Type: events.KindValidationError, ExecutionID: executionID, WorkflowID: wf.ID,
			Validation: []events.ValidationIssue{{Code: "invalid-workflow", Message: err.Error()}},
		}))
		return nil, fmt.Errorf("scheduler: build graph: %w", err)
	}

	ec := execctx.New(wf.ID, executionID, wf.WorkingDirectory, input, g.NameToID())
	ec.SetPredecessors(predecessorNames(g))
	ec.SetAncestors(ancestorNames(g))
	ec.SetSuccessorRequiresJSON(successorRequiresJSON(g))
	ec.SetSink(s.sink)

	go func() {
		_ = s.run(ctx, g, ec, nil, nil)
	}()
	return ec, nil
}

// ResumeAsync is ExecuteFromCheckpoint's non-blocking counterpart; see
// StartAsync.
func (s *Scheduler) ResumeAsync(ctx context.Context, wf graph.Workflow, executionID string, input any, ckpt *checkpoint.State, replayNodeIDs, inactiveNodeIDs map[string]bool) (*execctx.Context, error) {
	g, err := graph.New(wf)
	if err != nil {
		return nil, fmt.Errorf("scheduler: build graph: %w", err)
	}

	ec := execctx.New(wf.ID, executionID, wf.WorkingDirectory, input, g.NameToID())
	ec.SetPredecessors(predecessorNames(g))
	ec.SetAncestors(ancestorNames(g))
	ec.SetSuccessorRequiresJSON(successorRequiresJSON(g))
	ec.SetSink(s.sink)
	s.seedFromCheckpoint(g, ec, ckpt, replayNodeIDs, inactiveNodeIDs)

	go func() {
		_ = s.run(ctx, g, ec, replayNodeIDs, inactiveNodeIDs)
	}()
	return ec, nil
}

// predecessorNames builds the node id -> predecessor display-name table
// merge/output/condition executors read through ExecutionContext.PredecessorOutputs.
func predecessorNames(g *graph.Graph) map[string][]string {
	out := make(map[string][]string, len(g.Nodes()))
	for _, id := range g.Nodes() {
		var names []string
		for _, predID := range g.Predecessors(id) {
			if n := g.Node(predID); n != nil {
				names = append(names, n.Data.Name)
			}
		}
		out[id] = names
	}
	return out
}

// ancestorNames builds the node id -> ancestor display-name table the
// script executor reads through ExecutionContext.AncestorOutputs for its
// default "all ancestors" input scope.
func ancestorNames(g *graph.Graph) map[string][]string {
	out := make(map[string][]string, len(g.Nodes()))
	for _, id := range g.Nodes() {
		var names []string
		for _, ancID := range g.Ancestors(id) {
			if n := g.Node(ancID); n != nil {
				names = append(names, n.Data.Name)
			}
		}
		out[id] = names
	}
	return out
}

// successorRequiresJSON builds the node id -> "some direct successor is a
// condition or merge node" table (§4.3's successorRequiresJson(id)
// predicate), which agent executors read to switch their prompt into JSON
// mode so a downstream condition/merge node has structured output to key
// off of instead of free-form text.
func successorRequiresJSON(g *graph.Graph) map[string]bool {
	out := make(map[string]bool, len(g.Nodes()))
	for _, id := range g.Nodes() {
		requires := false
		for _, succID := range g.Successors(id) {
			if n := g.Node(succID); n != nil && (n.Type == "condition" || n.Type == "merge") {
				requires = true
				break
			}
		}
		out[id] = requires
	}
	return out
}

func (s *Scheduler) run(ctx context.Context, g *graph.Graph, ec *execctx.Context, replaySet, inactiveSet map[string]bool) error {
	log := s.log.WithExecution(ec.ExecutionID, ec.WorkflowID)
	log.Info("execution started")

	_, span := tracing.StartExecutionSpan(ctx, ec.ExecutionID, ec.WorkflowID)
	defer span.End()

	s.sink.Emit(record(events.Event{Type: events.KindExecutionStart, ExecutionID: ec.ExecutionID, WorkflowID: ec.WorkflowID}))
	s.metrics.ActiveExecutions.Inc()
	defer s.metrics.ActiveExecutions.Dec()

	s.seedInputs(g, ec, replaySet)

	err := s.runLoop(ctx, g, ec)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, ErrInterrupted) {
			msg = "Execution interrupted"
			s.approvals.CancelExecution(ec.ExecutionID)
		}
		log.Warn("execution ended in error", "error", msg)
		span.RecordError(err)
		s.sink.Emit(record(events.Event{Type: events.KindExecutionError, ExecutionID: ec.ExecutionID, Error: msg}))
		return err
	}

	result := s.finalResult(g, ec)
	log.Info("execution complete")
	s.sink.Emit(record(events.Event{Type: events.KindExecutionComplete, ExecutionID: ec.ExecutionID, Result: result}))
	return nil
}

// seedInputs sets every `input`-typed node's output to the execution's
// input and marks it complete before the main loop starts (§4.4).
func (s *Scheduler) seedInputs(g *graph.Graph, ec *execctx.Context, replaySet map[string]bool) {
	for _, id := range g.Nodes() {
		n := g.Node(id)
		if n.Type != "input" {
			continue
		}
		if replaySet != nil && !replaySet[n.ID] {
			continue // already seeded from the checkpoint
		}
		s.sink.Emit(record(events.Event{Type: events.KindNodeStart, ExecutionID: ec.ExecutionID, NodeID: n.ID, NodeName: n.Data.Name}))
		ec.SetOutput(n.ID, ec.Input())
		s.sink.Emit(record(events.Event{Type: events.KindNodeComplete, ExecutionID: ec.ExecutionID, NodeID: n.ID, Result: ec.Input()}))
	}
}

func (s *Scheduler) seedFromCheckpoint(g *graph.Graph, ec *execctx.Context, ckpt *checkpoint.State, replaySet, inactiveSet map[string]bool) {
	ec.ReplaceVariables(ckpt.Variables)
	for id := range replaySet {
		ec.DeleteVariablesWithPrefix("node." + id + ".")
		ec.DeleteVariablesWithPrefix("agent.session." + id + ".")
	}

	for _, id := range g.Nodes() {
		switch {
		case replaySet[id]:
			ec.SetStatus(id, execctx.StatusPending)
			ec.ClearOutput(id)
		case inactiveSet[id]:
			ec.SetStatus(id, execctx.StatusSkipped)
		default:
			if snap, ok := ckpt.NodeStates[id]; ok {
				if snap.StatusValue() == execctx.StatusError {
					ec.SetError(id, snap.Error)
				} else {
					ec.SetStatus(id, snap.StatusValue())
				}
			}
			if out, ok := ckpt.NodeOutputs[id]; ok {
				ec.SeedOutput(id, out)
				// §8 replay idempotence: nodes outside the replay set are
				// reused from checkpoint, not re-run — emit only the
				// synthetic completion, never a node-start.
				s.sink.Emit(record(events.Event{Type: events.KindNodeComplete, ExecutionID: ec.ExecutionID, NodeID: id, Result: out}))
			}
		}
	}
}

// finalResult consolidates every `output`-typed node's value, keyed by
// node name, mirroring the merge executor's shape.
func (s *Scheduler) finalResult(g *graph.Graph, ec *execctx.Context) map[string]any {
	out := make(map[string]any)
	for _, id := range g.Nodes() {
		n := g.Node(id)
		if n.Type != "output" {
			continue
		}
		if v, ok := ec.RawOutput(n.ID); ok {
			out[n.Data.Name] = v
		}
	}
	return out
}

func record(e events.Event) events.Record {
	return events.Record{Timestamp: time.Now(), Event: e}
}
