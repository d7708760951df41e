// Package execctx implements the per-execution state (C4): node outputs,
// variables, working directory, abort plumbing, and the read-only view
// handed to executors. Mutation is confined to the scheduler's single
// control loop (§5); reads may race with in-flight node tasks, so the
// maps are guarded by a mutex even though the *logical* discipline is
// single-writer.
package execctx

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/lyzr/workflow-engine/engine/events"
)

// Status is a node's lifecycle state (§3 NodeState).
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
	StatusSkipped  Status = "skipped"
	StatusWaiting  Status = "waiting"
)

// NodeState is the per-node execution record (§3).
type NodeState struct {
	Status      Status
	Output      any
	Error       string
	StartedAt   *int64 // unix nano
	CompletedAt *int64
}

// Context is the scheduler-owned per-execution state. It implements
// resolver.Store.
type Context struct {
	WorkflowID  string
	ExecutionID string

	workingDirectory string
	input            any

	mu         sync.RWMutex
	states     map[string]*NodeState // by node id
	outputs    map[string]any        // by node id
	variables  map[string]any
	nameToID   map[string]string
	predecessors map[string][]string // node id -> predecessor display names
	ancestors    map[string][]string // node id -> ancestor display names
	succJSON     map[string]bool     // node id -> a direct successor is condition/merge
	sink         events.Sink

	// abort plumbing: a root abortable context plus one child per
	// in-flight node so a single node can be cancelled without aborting
	// the whole execution (not currently exercised by the scheduler,
	// which only ever cancels all of them together via Interrupt, but
	// kept as the documented per-node hook from §4.4).
	rootCtx    context.Context
	rootCancel context.CancelFunc
	nodeCancel map[string]context.CancelFunc
	aborted    bool
}

// New creates an ExecutionContext seeded with workflowID/executionID, the
// workflow's base working directory, the run's input, and its name->id
// table (built once at scheduler construction, read-only for the run).
func New(workflowID, executionID, workingDirectory string, input any, nameToID map[string]string) *Context {
	rootCtx, cancel := context.WithCancel(context.Background())
	return &Context{
		WorkflowID:       workflowID,
		ExecutionID:      executionID,
		workingDirectory: workingDirectory,
		input:            input,
		states:           make(map[string]*NodeState),
		outputs:          make(map[string]any),
		variables:        make(map[string]any),
		nameToID:         nameToID,
		rootCtx:          rootCtx,
		rootCancel:       cancel,
		nodeCancel:       make(map[string]context.CancelFunc),
	}
}

// --- node state -----------------------------------------------------------

// State returns a copy of node id's current state.
func (c *Context) State(id string) NodeState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.states[id]; ok {
		return *s
	}
	return NodeState{Status: StatusPending}
}

// SetStatus transitions node id to status. Only called from the
// scheduler's control loop.
func (c *Context) SetStatus(id string, status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stateLocked(id)
	s.Status = status
}

// SetOutput records node id's output and marks it complete.
func (c *Context) SetOutput(id string, output any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stateLocked(id)
	s.Status = StatusComplete
	s.Output = output
	c.outputs[id] = output
}

// SetError records node id's error and marks it errored.
func (c *Context) SetError(id string, errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stateLocked(id)
	s.Status = StatusError
	s.Error = errMsg
}

// RawOutput returns node id's output by id (not name), and whether it is
// set.
func (c *Context) RawOutput(id string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.outputs[id]
	return v, ok
}

// SeedOutput installs an output without touching status — used by replay
// seeding (§4.4) for nodes outside the replay set.
func (c *Context) SeedOutput(id string, output any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[id] = output
}

// ClearOutput removes a node's output and error — used on loop/active-
// branch reset (§4.4).
func (c *Context) ClearOutput(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.outputs, id)
	if s, ok := c.states[id]; ok {
		s.Output = nil
		s.Error = ""
	}
}

func (c *Context) stateLocked(id string) *NodeState {
	s, ok := c.states[id]
	if !ok {
		s = &NodeState{Status: StatusPending}
		c.states[id] = s
	}
	return s
}

// AllStates returns a snapshot of every known node state, keyed by id.
func (c *Context) AllStates() map[string]NodeState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]NodeState, len(c.states))
	for id, s := range c.states {
		out[id] = *s
	}
	return out
}

// --- resolver.Store ---------------------------------------------------

// NodeOutput implements resolver.Store: look up a node's current output by
// display name.
func (c *Context) NodeOutput(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.nameToID[name]
	if !ok {
		return nil, false
	}
	v, ok := c.outputs[id]
	return v, ok
}

// Input implements resolver.Store.
func (c *Context) Input() any { return c.input }

// Variable implements resolver.Store and the executor contract's variable
// get.
func (c *Context) Variable(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[key]
	return v, ok
}

// SetPredecessors installs the node id -> predecessor display-name table,
// built once from the graph at run start. The merge, output and condition
// (CEL mode) executors use it to enumerate their own predecessor outputs without needing the graph
// itself (§4.7 "Merge outputs an object keyed by predecessor names").
func (c *Context) SetPredecessors(m map[string][]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.predecessors = m
}

// PredecessorOutputs returns nodeID's direct predecessors' current
// outputs, keyed by their display name. A predecessor with no output yet
// (skipped, still pending) is simply omitted.
func (c *Context) PredecessorOutputs(nodeID string) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any)
	for _, name := range c.predecessors[nodeID] {
		id, ok := c.nameToID[name]
		if !ok {
			continue
		}
		if v, ok := c.outputs[id]; ok {
			out[name] = v
		}
	}
	return out
}

// SetAncestors installs the node id -> ancestor display-name table, built
// once from the graph at run start. The script executor uses it for its
// default "all ancestors" input scope (§4.7).
func (c *Context) SetAncestors(m map[string][]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ancestors = m
}

// AncestorOutputs returns nodeID's ancestors' current outputs, keyed by
// display name, omitting any ancestor with no output yet.
func (c *Context) AncestorOutputs(nodeID string) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any)
	for _, name := range c.ancestors[nodeID] {
		id, ok := c.nameToID[name]
		if !ok {
			continue
		}
		if v, ok := c.outputs[id]; ok {
			out[name] = v
		}
	}
	return out
}

// SetSuccessorRequiresJSON installs the node id -> "feeds a condition or
// merge node" table, built once from the graph at run start.
func (c *Context) SetSuccessorRequiresJSON(m map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.succJSON = m
}

// SuccessorRequiresJson implements the agent store contract's
// successorRequiresJson(id) predicate (§4.3): whether nodeID has a direct
// successor that is a condition or merge node, and so should be run in
// JSON mode.
func (c *Context) SuccessorRequiresJson(nodeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.succJSON[nodeID]
}

// ExecID returns the execution id, for executors (approval, reflection)
// that need to key a coordinator wait without depending on the concrete
// Context type.
func (c *Context) ExecID() string { return c.ExecutionID }

// SetSink installs the event sink an execution emits through. Approval and
// reflection executors emit node-waiting/node-evolution events directly
// (§4.9) rather than through the per-node Emit closure, since those are
// top-level event kinds, not node-output sub-events.
func (c *Context) SetSink(sink events.Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

// EmitWaiting emits a node-waiting event with an ApprovalRequest payload
// (§4.9, §6) for an approval or suggest-mode reflection node.
func (c *Context) EmitWaiting(nodeID, nodeName string, req events.ApprovalRequest) {
	c.mu.RLock()
	sink := c.sink
	c.mu.RUnlock()
	if sink == nil {
		return
	}
	sink.Emit(events.Record{Timestamp: time.Now(), Event: events.Event{
		Type: events.KindNodeWaiting, ExecutionID: c.ExecutionID,
		NodeID: nodeID, NodeName: nodeName, Approval: &req,
	}})
}

// EmitEvolution emits a node-evolution event (§4.9, §6) once a reflection
// node has decided whether to apply its patch.
func (c *Context) EmitEvolution(nodeID string, rec events.EvolutionRecord) {
	c.mu.RLock()
	sink := c.sink
	c.mu.RUnlock()
	if sink == nil {
		return
	}
	sink.Emit(events.Record{Timestamp: time.Now(), Event: events.Event{
		Type: events.KindNodeEvolution, ExecutionID: c.ExecutionID,
		NodeID: nodeID, Evolution: &rec,
	}})
}

// SetVariable sets a variable, used by executors (agent run-count/session
// state, script-assigned variables) through the execCtx contract.
func (c *Context) SetVariable(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[key] = value
}

// Variables returns a snapshot copy of the whole variable map, for
// checkpointing.
func (c *Context) Variables() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// ReplaceVariables overwrites the whole variable map — used when seeding
// from a checkpoint during replay (§4.4).
func (c *Context) ReplaceVariables(vars map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables = make(map[string]any, len(vars))
	for k, v := range vars {
		c.variables[k] = v
	}
}

// DeleteVariablesWithPrefix removes every variable whose key has the given
// prefix — used to drop node.{id}.* / agent.session.{id}.* keys belonging
// to replay nodes (§4.4).
func (c *Context) DeleteVariablesWithPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.variables {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.variables, k)
		}
	}
}

// --- working directory --------------------------------------------------

// WorkingDirectory joins a node-level override against the execution's
// base working directory (§4.3).
func (c *Context) WorkingDirectory(nodeOverride string) string {
	if nodeOverride == "" {
		return c.workingDirectory
	}
	if filepath.IsAbs(nodeOverride) {
		return nodeOverride
	}
	return filepath.Join(c.workingDirectory, nodeOverride)
}

// --- abort / cancellation -------------------------------------------------

// NodeContext returns a context for node id that is cancelled either when
// the whole execution is interrupted or when the node itself is aborted.
func (c *Context) NodeContext(id string) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, cancel := context.WithCancel(c.rootCtx)
	c.nodeCancel[id] = cancel
	return ctx
}

// AbortNode cancels a single node's context without affecting the rest of
// the execution.
func (c *Context) AbortNode(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.nodeCancel[id]; ok {
		cancel()
	}
}

// Interrupt sets the shared aborted flag and cancels every registered
// per-node controller (§4.4, §5). One-shot: calling it more than once is a
// no-op after the first call.
func (c *Context) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aborted {
		return
	}
	c.aborted = true
	c.rootCancel()
}

// Aborted reports whether Interrupt has been called.
func (c *Context) Aborted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.aborted
}

// RootContext returns the execution's root abortable context, for
// suspension points that aren't scoped to one node (the ready-set loop's
// idle wait).
func (c *Context) RootContext() context.Context { return c.rootCtx }
