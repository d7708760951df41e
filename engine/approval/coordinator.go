// Package approval implements the approval coordinator (C9): a pending
// continuation registered per (executionId, nodeId), resolved by an
// external submit-approval control event rather than by polling shared
// state (§9 "Approvals are message-passing").
//
// Grounded on cmd/hitl-worker/worker/hitl_worker.go's two-
// stream design (a request stream that registers a pending approval with
// SETNX idempotency, a response stream that resolves it and signals
// completion back to the coordinator) collapsed from cross-process Redis
// streams into a single in-process channel-keyed map, since the core has
// no cross-process HITL requirement (§1 non-goals).
package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Response is the decision an external caller submits for a waiting
// approval node (§6 submit-approval's response payload).
type Response struct {
	Approved    bool
	Feedback    string
	RespondedAt time.Time
}

// ErrCancelled is the error an awaiting executor sees when its approval is
// cancelled, either directly or via CancelExecution (§7 "Approval
// cancellation").
var ErrCancelled = errors.New("approval cancelled")

// ErrNoPendingApproval is returned by Submit/Cancel when no approval is
// registered for (executionId, nodeId) — it may have already resolved, or
// never existed.
var ErrNoPendingApproval = errors.New("no pending approval")

type key struct {
	executionID string
	nodeID      string
}

type outcome struct {
	response Response
	err      error
}

// Coordinator is the process-wide pending-approval registry. One
// Coordinator is shared across every execution; entries are keyed so
// concurrent executions never collide.
type Coordinator struct {
	mu      sync.Mutex
	pending map[key]chan outcome
}

// New creates an empty Coordinator.
func New() *Coordinator {
	return &Coordinator{pending: make(map[key]chan outcome)}
}

// Await registers a pending approval for (executionID, nodeID) and blocks
// until Submit, Cancel, or ctx's cancellation resolves it. The approval
// node executor calls this from within Execute; it is the "yield" half of
// the message-passing design (§9).
func (c *Coordinator) Await(ctx context.Context, executionID, nodeID string) (Response, error) {
	k := key{executionID, nodeID}
	ch := make(chan outcome, 1)

	c.mu.Lock()
	if _, exists := c.pending[k]; exists {
		c.mu.Unlock()
		return Response{}, fmt.Errorf("approval already pending for node %q", nodeID)
	}
	c.pending[k] = ch
	c.mu.Unlock()

	defer c.clear(k)

	select {
	case o := <-ch:
		return o.response, o.err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (c *Coordinator) clear(k key) {
	c.mu.Lock()
	delete(c.pending, k)
	c.mu.Unlock()
}

// Submit resolves a pending approval with the caller's decision (§6
// submit-approval). Returns ErrNoPendingApproval if the node isn't
// currently waiting.
func (c *Coordinator) Submit(executionID, nodeID string, resp Response) error {
	return c.resolve(executionID, nodeID, outcome{response: resp})
}

// Cancel resolves a pending approval with ErrCancelled (§7 "Approval
// cancellation": the specific node errors).
func (c *Coordinator) Cancel(executionID, nodeID string) error {
	return c.resolve(executionID, nodeID, outcome{err: ErrCancelled})
}

func (c *Coordinator) resolve(executionID, nodeID string, o outcome) error {
	k := key{executionID, nodeID}
	c.mu.Lock()
	ch, ok := c.pending[k]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: execution %q node %q", ErrNoPendingApproval, executionID, nodeID)
	}

	select {
	case ch <- o:
		return nil
	default:
		return fmt.Errorf("approval for node %q already resolved", nodeID)
	}
}

// CancelExecution cancels every approval still pending for executionID —
// called by interrupt() so a cancelled run never leaves an executor
// blocked forever (§5 "Pending approvals for the execution are
// cancelled").
func (c *Coordinator) CancelExecution(executionID string) {
	c.mu.Lock()
	var keys []key
	for k := range c.pending {
		if k.executionID == executionID {
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()

	for _, k := range keys {
		_ = c.Cancel(k.executionID, k.nodeID)
	}
}

// PendingCount reports how many approvals are currently outstanding for
// executionID, for diagnostics/tests.
func (c *Coordinator) PendingCount(executionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.pending {
		if k.executionID == executionID {
			n++
		}
	}
	return n
}
