// Package approval implements the approval-type node executor (§4.9):
// publish a node-waiting event, register a pending continuation with the
// shared coordinator, block until an external submit-approval/cancel
// resolves it, and route the outgoing edge off the approved flag.
//
// Has no direct source analogue as a node-type handler — the reference HITL
// worker is a standalone process, not a graph node — so the Execute
// contract is built directly from §4.9's text, driving the already-built
// engine/approval.Coordinator (C9) the same way a real approval-UI
// backend would.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lyzr/workflow-engine/engine/approval"
	"github.com/lyzr/workflow-engine/engine/events"
	"github.com/lyzr/workflow-engine/engine/execctx"
	"github.com/lyzr/workflow-engine/engine/graph"
	"github.com/lyzr/workflow-engine/engine/registry"
	"github.com/lyzr/workflow-engine/engine/resolver"
)

// coordinator is the capability the executor needs from
// engine/approval.Coordinator: register-and-wait for a decision.
type coordinator interface {
	Await(ctx context.Context, executionID, nodeID string) (approval.Response, error)
}

// store is the capability the executor needs from execCtx: transitioning
// the node to waiting and publishing the node-waiting event.
type store interface {
	resolver.Store
	SetStatus(id string, status execctx.Status)
	EmitWaiting(nodeID, nodeName string, req events.ApprovalRequest)
	ExecID() string
}

// Executor drives one approval-type node through the coordinator.
type Executor struct {
	registry.NoValidation
	res   *resolver.Resolver
	coord coordinator
}

// New creates an approval Executor against the shared coordinator.
func New(res *resolver.Resolver, coord *approval.Coordinator) *Executor {
	return &Executor{res: res, coord: coord}
}

// Execute implements §4.9's approval protocol: emit node-waiting, flip the
// node to waiting, await the external decision, then return it as output.
func (e *Executor) Execute(ctx context.Context, node any, execCtx any, emit registry.Emit) (registry.Result, error) {
	n, ok := node.(*graph.Node)
	if !ok {
		return registry.Result{}, fmt.Errorf("approval: node is not a *graph.Node")
	}
	s, ok := execCtx.(store)
	if !ok {
		return registry.Result{}, fmt.Errorf("approval: execCtx does not expose the approval store contract")
	}

	prompt, _ := n.Data.Config["prompt"].(string)
	if prompt != "" {
		prompt = e.res.Interpolate(prompt, s)
	}

	req := events.ApprovalRequest{
		NodeID:      n.ID,
		NodeName:    n.Data.Name,
		Prompt:      prompt,
		RequestedAt: time.Now(),
	}
	s.EmitWaiting(n.ID, n.Data.Name, req)
	s.SetStatus(n.ID, execctx.StatusWaiting)

	resp, err := e.coord.Await(ctx, s.ExecID(), n.ID)
	if err != nil {
		if errors.Is(err, approval.ErrCancelled) {
			return registry.Result{}, approval.ErrCancelled
		}
		return registry.Result{}, fmt.Errorf("approval: %w", err)
	}

	return registry.Result{Output: map[string]any{
		"approved":    resp.Approved,
		"feedback":    resp.Feedback,
		"respondedAt": resp.RespondedAt,
	}}, nil
}

// GetOutputHandle implements registry.BranchingExecutor: the edge key is
// "approval" when approved, "rejection" otherwise (§4.9).
func (e *Executor) GetOutputHandle(result registry.Result, node any) (string, bool) {
	out, ok := result.Output.(map[string]any)
	if !ok {
		return "", false
	}
	approved, _ := out["approved"].(bool)
	if approved {
		return "approval", true
	}
	return "rejection", true
}

var _ registry.Executor = (*Executor)(nil)
var _ registry.BranchingExecutor = (*Executor)(nil)
