// Package registry implements the tagged node-type -> executor registry
// (C3). Executor polymorphism is handled by a tagged registry, not
// inheritance, following the type-dispatch pattern in
// cmd/workflow-runner/coordinator/node_router.go.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ValidationError is returned by Executor.Validate for a bad node config.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Emit streams an AgentEvent-shaped sub-event (node-output, §6) while an
// executor is running.
type Emit func(event any)

// Executor is the contract every node-type handler fulfills (§4.3).
type Executor interface {
	// Validate checks the node's config before execution. Returning nil
	// means valid; implementations that have nothing to check may embed
	// NoValidation.
	Validate(node any) error

	// Execute runs the node to completion (or failure), streaming
	// sub-events through emit. ctx carries the read-only execution view
	// (graph queries, name/id maps, input, predecessor outputs,
	// interpolate/resolveReference, variable get/set, working-directory
	// resolution, abort signal, successorRequiresJson) via whatever
	// concrete ExecutionContext type the scheduler passes.
	Execute(ctx context.Context, node any, execCtx any, emit Emit) (Result, error)
}

// Result is what Execute returns on success.
type Result struct {
	Output           any
	Metadata         map[string]any
	StructuredOutput map[string]any
}

// BranchingExecutor is the optional extension (§4.3, §9) any node type may
// implement to participate in branch skip/loop logic. GetOutputHandle
// returns the sourceHandle that is "active" for result; all other
// outgoing edges of the node lead to inactive branches.
type BranchingExecutor interface {
	Executor
	GetOutputHandle(result Result, node any) (string, bool)
}

// NoValidation can be embedded by executors with nothing to validate.
type NoValidation struct{}

func (NoValidation) Validate(node any) error { return nil }

// Registry is the process-wide node-type -> executor map. It is write-once
// at startup and read-only for the lifetime of every execution (§5, §9).
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor for nodeType. Registering a type twice is an
// error (§4.3).
func (r *Registry) Register(nodeType string, executor Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[nodeType]; exists {
		return fmt.Errorf("executor already registered for node type %q", nodeType)
	}
	r.executors[nodeType] = executor
	return nil
}

// MustRegister panics on duplicate registration; convenient at process
// start-up where a duplicate is a programmer error.
func (r *Registry) MustRegister(nodeType string, executor Executor) {
	if err := r.Register(nodeType, executor); err != nil {
		panic(err)
	}
}

// Lookup returns the executor for nodeType. Looking up an unknown type is
// a non-recoverable execution error (§4.3, §7 "Fatal").
func (r *Registry) Lookup(nodeType string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ex, ok := r.executors[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}
	return ex, nil
}

// ErrUnknownNodeType is wrapped into Lookup's error so callers can
// classify it as fatal per §7 with errors.Is.
var ErrUnknownNodeType = errors.New("unknown node type")

// Types returns every registered node type, for diagnostics.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.executors))
	for t := range r.executors {
		out = append(out, t)
	}
	return out
}
