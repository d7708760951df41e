// Package ioendpoints implements the input and output executors (§4.7).
// Most of their behavior already happens at the scheduler level — input
// nodes are seeded with the workflow input before the ready-set loop
// starts (Scheduler.seedInputs), and the final result is consolidated by
// name at the end of a run (Scheduler.finalResult) — these executors exist
// so the registry has a complete, consistent entry for every node type the
// ready-set loop might dispatch, and so an output node reachable through
// normal dispatch produces the same shape the scheduler's own consolidation
// does.
package ioendpoints

import (
	"context"
	"fmt"

	"github.com/lyzr/workflow-engine/engine/graph"
	"github.com/lyzr/workflow-engine/engine/registry"
)

// predecessorStore mirrors the merge executor's capability: enumerating a
// node's direct predecessor outputs by display name.
type predecessorStore interface {
	PredecessorOutputs(nodeID string) map[string]any
}

// inputStore is the capability an Input executor needs: the workflow's
// raw input value.
type inputStore interface {
	Input() any
}

// Input echoes the workflow's input verbatim (§4.7). In normal operation
// the scheduler seeds input nodes directly and never dispatches them
// through the registry (they're excluded from the ready set); this
// executor exists for completeness and for callers that dispatch a single
// node outside the main loop (e.g. a future interactive re-run of just an
// input node).
type Input struct {
	registry.NoValidation
}

// NewInput creates an Input executor.
func NewInput() *Input { return &Input{} }

// Execute returns the workflow input unchanged.
func (e *Input) Execute(ctx context.Context, node any, execCtx any, emit registry.Emit) (registry.Result, error) {
	s, ok := execCtx.(inputStore)
	if !ok {
		return registry.Result{}, fmt.Errorf("input: execCtx does not expose the workflow input")
	}
	return registry.Result{Output: s.Input()}, nil
}

// Output echoes its single predecessor's output, or a consolidated object
// keyed by predecessor name when it has more than one (§4.7).
type Output struct {
	registry.NoValidation
}

// NewOutput creates an Output executor.
func NewOutput() *Output { return &Output{} }

// Execute consolidates the node's predecessor outputs.
func (e *Output) Execute(ctx context.Context, node any, execCtx any, emit registry.Emit) (registry.Result, error) {
	n, ok := node.(*graph.Node)
	if !ok {
		return registry.Result{}, fmt.Errorf("output: node is not a *graph.Node")
	}
	s, ok := execCtx.(predecessorStore)
	if !ok {
		return registry.Result{}, fmt.Errorf("output: execCtx does not expose predecessor outputs")
	}

	outputs := s.PredecessorOutputs(n.ID)
	if len(outputs) == 1 {
		for _, v := range outputs {
			return registry.Result{Output: v}, nil
		}
	}
	return registry.Result{Output: outputs}, nil
}

var (
	_ registry.Executor = (*Input)(nil)
	_ registry.Executor = (*Output)(nil)
)
