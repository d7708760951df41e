// Package merge implements the merge executor (§4.7): it fans multiple
// predecessor branches into a single object keyed by predecessor display
// name, so downstream references stay readable ({{M.Input}} rather than
// {{M.node_3}}).
//
// Has no direct source analogue (the reference workflows fan in implicitly
// through Redis stream ordering, never materializing a merged object) so
// it is built directly from §4.7's shape, reusing the scheduler's
// ExecutionContext.PredecessorOutputs accessor added for this purpose.
package merge

import (
	"context"
	"fmt"

	"github.com/lyzr/workflow-engine/engine/graph"
	"github.com/lyzr/workflow-engine/engine/registry"
)

// predecessorStore is the capability a merge node needs beyond
// resolver.Store: enumerating its own predecessors' outputs by name.
type predecessorStore interface {
	PredecessorOutputs(nodeID string) map[string]any
}

// Executor merges every predecessor's current output into one object.
type Executor struct {
	registry.NoValidation
}

// New creates a merge Executor.
func New() *Executor { return &Executor{} }

// Execute returns an object keyed by predecessor display name (§4.7).
func (e *Executor) Execute(ctx context.Context, node any, execCtx any, emit registry.Emit) (registry.Result, error) {
	n, ok := node.(*graph.Node)
	if !ok {
		return registry.Result{}, fmt.Errorf("merge: node is not a *graph.Node")
	}
	s, ok := execCtx.(predecessorStore)
	if !ok {
		return registry.Result{}, fmt.Errorf("merge: execCtx does not expose predecessor outputs")
	}

	return registry.Result{Output: s.PredecessorOutputs(n.ID)}, nil
}

var _ registry.Executor = (*Executor)(nil)
