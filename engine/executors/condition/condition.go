// Package condition implements the condition executor (§4.6): a rule-based
// boolean gate whose output handle ("true"/"false") drives branch
// skip/reset in the scheduler.
//
// Grounded on cmd/workflow-runner/condition/evaluator.go for
// the advanced mode (CEL compile-and-cache) and on the scheduler's
// BranchingExecutor contract for the primary rule-based mode, which has no
// source analogue (the reference evaluator only ever evaluates CEL) and is therefore
// built directly from §4.6's operator list.
package condition

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/lyzr/workflow-engine/engine/graph"
	"github.com/lyzr/workflow-engine/engine/registry"
	"github.com/lyzr/workflow-engine/engine/resolver"
)

// Rule is one entry of a condition node's rule list (§4.6).
type Rule struct {
	InputReference string `json:"inputReference"`
	Operator       string `json:"operator"`
	CompareValue   any    `json:"compareValue,omitempty"`
	Joiner         string `json:"joiner,omitempty"` // "and" | "or", joins to the previous rule
}

// celStore is the capability advanced (CEL) mode needs beyond resolver.Store:
// the node's own predecessor outputs, so the expression evaluates against
// the upstream node's result rather than the workflow's original input.
type celStore interface {
	resolver.Store
	PredecessorOutputs(nodeID string) map[string]any
}

// Executor evaluates a node's rule list (or, in advanced mode, a CEL
// expression) against the current execution state.
type Executor struct {
	res *resolver.Resolver

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// New creates a condition Executor.
func New(res *resolver.Resolver) *Executor {
	return &Executor{res: res, cache: make(map[string]cel.Program)}
}

// Validate checks the node carries a usable config: either a non-empty
// rule list or (advanced mode) a CEL expression string.
func (e *Executor) Validate(node any) error {
	n, ok := node.(*graph.Node)
	if !ok {
		return &registry.ValidationError{Message: "condition: node is not a *graph.Node"}
	}
	if expr, ok := n.Data.Config["expression"].(string); ok && expr != "" {
		return nil
	}
	rules, ok := n.Data.Config["rules"].([]any)
	if !ok || len(rules) == 0 {
		return &registry.ValidationError{Message: "condition: config must have a non-empty rules list or an expression"}
	}
	return nil
}

// Execute evaluates the node's rules (or CEL expression) and returns the
// boolean result as Output.
func (e *Executor) Execute(ctx context.Context, node any, execCtx any, emit registry.Emit) (registry.Result, error) {
	n := node.(*graph.Node)
	s := execCtx.(resolver.Store)

	if expr, ok := n.Data.Config["expression"].(string); ok && expr != "" {
		cs, ok := execCtx.(celStore)
		if !ok {
			return registry.Result{}, fmt.Errorf("condition: execCtx does not expose predecessor outputs")
		}
		result, err := e.evaluateCEL(expr, n.ID, cs)
		if err != nil {
			return registry.Result{}, fmt.Errorf("condition: %w", err)
		}
		return registry.Result{Output: result}, nil
	}

	rules, err := decodeRules(n.Data.Config["rules"])
	if err != nil {
		return registry.Result{}, fmt.Errorf("condition: %w", err)
	}

	result := evaluateRules(rules, s, e.res)
	return registry.Result{Output: result}, nil
}

// GetOutputHandle implements registry.BranchingExecutor: "true" when the
// node's boolean result is true, otherwise "false" (§4.6).
func (e *Executor) GetOutputHandle(result registry.Result, node any) (string, bool) {
	b, _ := result.Output.(bool)
	if b {
		return "true", true
	}
	return "false", true
}

func decodeRules(raw any) ([]Rule, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("rules must be a list")
	}
	rules := make([]Rule, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("rule %d: not an object", i)
		}
		r := Rule{}
		r.InputReference, _ = m["inputReference"].(string)
		r.Operator, _ = m["operator"].(string)
		r.CompareValue = m["compareValue"]
		r.Joiner, _ = m["joiner"].(string)
		rules = append(rules, r)
	}
	return rules, nil
}

// evaluateRules implements §4.6's combination rule: and-runs form groups,
// the overall result is the OR of the AND-groups.
func evaluateRules(rules []Rule, s resolver.Store, res *resolver.Resolver) bool {
	if len(rules) == 0 {
		return false
	}

	overall := false
	group := true
	first := true

	for _, r := range rules {
		outcome := evaluateRule(r, s, res)

		joiner := strings.ToLower(r.Joiner)
		if first || joiner != "or" {
			group = group && outcome
		} else {
			overall = overall || group
			group = outcome
		}
		first = false
	}
	overall = overall || group
	return overall
}

func evaluateRule(r Rule, s resolver.Store, res *resolver.Resolver) bool {
	var left any
	if resolver.IsDirectReference(r.InputReference) {
		left, _ = res.Resolve(r.InputReference, s)
	} else {
		left = res.Interpolate(r.InputReference, s)
	}

	switch r.Operator {
	case "is_empty":
		return isEmpty(left)
	case "is_not_empty":
		return !isEmpty(left)
	case "regex":
		pattern, ok := r.CompareValue.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(fmt.Sprint(left))
	case "equals":
		return compareEquality(left, r.CompareValue)
	case "not_equals":
		return !compareEquality(left, r.CompareValue)
	case "contains":
		return strings.Contains(fmt.Sprint(left), fmt.Sprint(r.CompareValue))
	case "not_contains":
		return !strings.Contains(fmt.Sprint(left), fmt.Sprint(r.CompareValue))
	case "greater_than", "less_than", "greater_than_or_equals", "less_than_or_equals":
		return compareNumeric(left, r.CompareValue, r.Operator)
	default:
		return false
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

func compareEquality(left, right any) bool {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		return lf == rf
	}
	return fmt.Sprint(left) == fmt.Sprint(right)
}

func compareNumeric(left, right any, op string) bool {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		ls, rs := fmt.Sprint(left), fmt.Sprint(right)
		switch op {
		case "greater_than":
			return ls > rs
		case "less_than":
			return ls < rs
		case "greater_than_or_equals":
			return ls >= rs
		case "less_than_or_equals":
			return ls <= rs
		}
		return false
	}
	switch op {
	case "greater_than":
		return lf > rf
	case "less_than":
		return lf < rf
	case "greater_than_or_equals":
		return lf >= rf
	case "less_than_or_equals":
		return lf <= rf
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// evaluateCEL evaluates an advanced-mode CEL expression, grounded directly
// on Evaluator.evaluateCEL: compile-once, cache, then evaluate against the
// node's predecessor output(s) exposed as "output" (the single predecessor's
// output, or the full name-keyed map when there is more than one) and "ctx"
// (always the full name-keyed predecessor-output map).
func (e *Executor) evaluateCEL(expr string, nodeID string, s celStore) (bool, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()

	if !ok {
		var err error
		prg, err = e.compileCEL(expr)
		if err != nil {
			return false, err
		}
		e.mu.Lock()
		e.cache[expr] = prg
		e.mu.Unlock()
	}

	preds := s.PredecessorOutputs(nodeID)
	var output any = preds
	if len(preds) == 1 {
		for _, v := range preds {
			output = v
		}
	}

	out, _, err := prg.Eval(map[string]any{"output": output, "ctx": preds})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return a boolean, got %T", out.Value())
	}
	return result, nil
}

func (e *Executor) compileCEL(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("output", cel.DynType),
		cel.Variable("ctx", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return prg, nil
}
