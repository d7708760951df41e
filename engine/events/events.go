// Package events defines the execution event sum type (§6) as a single
// flat, tagged struct — following sdk/types.go's Event/EventType
// pattern rather than a Go interface-per-variant sum type, since the whole
// point of the shape is to marshal losslessly to one JSONL line per event.
package events

import "time"

// Kind tags which variant of the event sum type a Event carries.
type Kind string

const (
	KindExecutionStart   Kind = "execution-start"
	KindNodeStart        Kind = "node-start"
	KindNodeOutput       Kind = "node-output"
	KindNodeComplete     Kind = "node-complete"
	KindNodeError        Kind = "node-error"
	KindNodeWaiting      Kind = "node-waiting"
	KindExecutionComplete Kind = "execution-complete"
	KindExecutionError   Kind = "execution-error"
	KindValidationError  Kind = "validation-error"
	KindNodeEvolution    Kind = "node-evolution"
)

// ApprovalRequest is the payload of a node-waiting event (§4.9).
type ApprovalRequest struct {
	NodeID      string    `json:"nodeId"`
	NodeName    string    `json:"nodeName"`
	Prompt      string    `json:"prompt,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

// ValidationIssue is one entry of a validation-error event's errors list.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	NodeID  string `json:"nodeId,omitempty"`
}

// EvolutionRecord is the payload of a node-evolution event (§4.9, §6).
type EvolutionRecord struct {
	NodeID    string `json:"nodeId"`
	Mode      string `json:"mode"`
	Applied   bool   `json:"applied"`
	PatchJSON string `json:"patchJson,omitempty"`
	Note      string `json:"note,omitempty"`
}

// Event is the flattened union of every event variant in §6. Only the
// fields relevant to Type are populated.
type Event struct {
	Type        Kind   `json:"type"`
	ExecutionID string `json:"executionId"`
	WorkflowID  string `json:"workflowId,omitempty"`
	NodeID      string `json:"nodeId,omitempty"`
	NodeName    string `json:"nodeName,omitempty"`

	Output any `json:"output,omitempty"`
	Result any `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	SubEvent any `json:"event,omitempty"` // node-output: streamed AgentEvent

	Approval   *ApprovalRequest  `json:"approval,omitempty"`
	Evolution  *EvolutionRecord  `json:"evolution,omitempty"`
	Validation []ValidationIssue `json:"errors,omitempty"`
}

// Record is one journaled line: a timestamped Event (§3 EventRecord).
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Event     Event     `json:"event"`
}

// Sink receives events as they are produced by a running execution. The
// journal is the canonical Sink implementation; the scheduler depends only
// on this interface so it never needs to know about persistence or
// fan-out.
type Sink interface {
	Emit(rec Record)
}

// NopSink discards every event; useful in tests that don't care about the
// event stream.
type NopSink struct{}

func (NopSink) Emit(Record) {}
