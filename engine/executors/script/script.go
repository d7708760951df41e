// Package script implements the script executor (§4.7): user code runs in
// a restricted evaluation environment with no filesystem/process/network
// access, sees only a frozen `inputs` map and a `console` whose writes
// become streamed node-output events, and honors a configurable timeout
// plus the node's abort signal.
//
// Grounded on builtin.TransformExecutor's "expression" mode
// (compile with expr.Env, run once), generalized from a single
// `input`-to-value transform into the broader §4.7 contract: an explicit
// or ancestor-wide `inputs` map, a `console` side-channel, and a timeout
// independent of the node's own context deadline.
package script

import (
	"context"
	"fmt"
	"time"

	"github.com/expr-lang/expr"

	"github.com/lyzr/workflow-engine/engine/graph"
	"github.com/lyzr/workflow-engine/engine/registry"
)

const defaultTimeout = 30 * time.Second

// inputSource is the capability the script executor needs from execCtx to
// build its `inputs` map: either the explicit-selection path (NodeOutput
// by name) or the default all-ancestors path.
type inputSource interface {
	NodeOutput(name string) (any, bool)
	AncestorOutputs(nodeID string) map[string]any
}

// ConsoleLine is the streamed node-output sub-event a script's console
// writes produce.
type ConsoleLine struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Executor runs a node's `expression` config against a frozen view of its
// predecessor/ancestor outputs.
type Executor struct{}

// New creates a script Executor.
func New() *Executor { return &Executor{} }

// Validate requires a non-empty `expression` string.
func (e *Executor) Validate(node any) error {
	n, ok := node.(*graph.Node)
	if !ok {
		return &registry.ValidationError{Message: "script: node is not a *graph.Node"}
	}
	expr, ok := n.Data.Config["expression"].(string)
	if !ok || expr == "" {
		return &registry.ValidationError{Message: "script: config.expression must be a non-empty string"}
	}
	return nil
}

// Execute compiles and runs the node's expression with a frozen `inputs`
// map and a `console` side-channel, bounded by a timeout and the node's
// own context.
func (e *Executor) Execute(ctx context.Context, node any, execCtx any, emit registry.Emit) (registry.Result, error) {
	n, ok := node.(*graph.Node)
	if !ok {
		return registry.Result{}, fmt.Errorf("script: node is not a *graph.Node")
	}
	s, ok := execCtx.(inputSource)
	if !ok {
		return registry.Result{}, fmt.Errorf("script: execCtx does not expose node inputs")
	}

	exprStr, _ := n.Data.Config["expression"].(string)

	inputs := buildInputs(n, s)
	env := map[string]any{
		"inputs":  inputs,
		"console": consoleObject(emit),
	}

	program, err := expr.Compile(exprStr, expr.Env(env))
	if err != nil {
		return registry.Result{}, fmt.Errorf("script: compile: %w", err)
	}

	timeout := defaultTimeout
	if ms, ok := n.Data.Config["timeoutMs"].(float64); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := expr.Run(program, env)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return registry.Result{}, fmt.Errorf("script: run: %w", o.err)
		}
		return registry.Result{Output: o.value}, nil
	case <-runCtx.Done():
		return registry.Result{}, fmt.Errorf("script: %w", runCtx.Err())
	}
}

// buildInputs resolves the script's `inputs` map: an explicit `inputs`
// config list of predecessor names takes precedence; otherwise every
// ancestor's current output is exposed (§4.7).
func buildInputs(n *graph.Node, s inputSource) map[string]any {
	if raw, ok := n.Data.Config["inputs"].([]any); ok && len(raw) > 0 {
		selected := make(map[string]any, len(raw))
		for _, item := range raw {
			name, ok := item.(string)
			if !ok {
				continue
			}
			if v, ok := s.NodeOutput(name); ok {
				selected[name] = v
			}
		}
		return selected
	}
	return s.AncestorOutputs(n.ID)
}

// consoleObject builds the `console` value exposed to the expression
// environment: each call streams a node-output event carrying a
// ConsoleLine rather than writing anywhere the host process can see.
func consoleObject(emit registry.Emit) map[string]any {
	log := func(level string) func(...any) any {
		return func(args ...any) any {
			if emit != nil {
				emit(ConsoleLine{Level: level, Message: fmt.Sprint(args...)})
			}
			return nil
		}
	}
	return map[string]any{
		"log":   log("log"),
		"warn":  log("warn"),
		"error": log("error"),
	}
}

var _ registry.Executor = (*Executor)(nil)
