// Package agent implements the shared agent-node contract and runner
// (§4.8): session-continuation decisions, run/retry counting, prompt
// building with rejection-feedback substitution, transcript accumulation,
// and session-state persistence across runs (loop re-execution, retry
// after a rejected approval).
//
// Every concrete agent SDK is abstracted behind the Agent interface;
// real agent backends are out of scope (§1 non-goals), so this package
// also ships a Mock agent double for tests and for wiring a registry
// entry that compiles without any external SDK.
//
// Has no direct source analogue — the reference workflows never run a
// conversational agent node with session continuation — so the runner is
// built directly from §4.8's seven-step contract, reusing engine/resolver
// (C2) for {{feedback}} substitution and the execctx variable store (C4)
// for session-state persistence, the same variable-as-state-store idiom
// the scheduler's loop-with-back-edge test already exercises for runCount
// ("node.{id}.runCount").
package agent

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/lyzr/workflow-engine/engine/graph"
	"github.com/lyzr/workflow-engine/engine/registry"
	"github.com/lyzr/workflow-engine/engine/resolver"
)

// EventType tags the variant of a streamed Event.
type EventType string

const (
	EventText       EventType = "text"
	EventThinking   EventType = "thinking"
	EventToolUse    EventType = "tool-use"
	EventToolResult EventType = "tool-result"
	EventTodo       EventType = "todo"
	EventComplete   EventType = "complete"
	EventError      EventType = "error"
)

// Event is one unit of an agent's streamed output (§4.8).
type Event struct {
	Type       EventType `json:"type"`
	Text       string    `json:"text,omitempty"`
	Tool       string    `json:"tool,omitempty"`
	ToolInput  any       `json:"toolInput,omitempty"`
	ToolResult any       `json:"toolResult,omitempty"`
	Todo       []string  `json:"todo,omitempty"`
	Err        string    `json:"error,omitempty"`
	// StructuredOutput carries the agent's final structured fields,
	// populated only on the terminal EventComplete.
	StructuredOutput map[string]any `json:"structuredOutput,omitempty"`
}

// Agent is the shared contract every concrete agent backend implements
// (§4.8): a streaming execution plus post-hoc session/structured-output
// accessors, queried once the returned channel is drained and closed.
type Agent interface {
	Execute(ctx context.Context, prompt string, workingDirectory string) (<-chan Event, error)
	SessionID() string
	StructuredOutput() map[string]any
}

// Factory builds a fresh Agent for one run. priorSessionID is non-empty
// when the runner decided the conversation should continue (§4.8 step 1);
// a Factory that ignores it always starts a new conversation.
type Factory func(priorSessionID string) Agent

// store is the capability the runner needs from execCtx: variable
// get/set for session state, a resolver.Store view for {{feedback}}
// interpolation, and working-directory resolution.
type store interface {
	resolver.Store
	Variable(key string) (any, bool)
	SetVariable(key string, value any)
	WorkingDirectory(nodeOverride string) string
	SuccessorRequiresJson(id string) bool
}

// Executor drives the shared agent runner (§4.8) against a Factory.
type Executor struct {
	res     *resolver.Resolver
	factory Factory
}

// New creates an agent Executor.
func New(res *resolver.Resolver, factory Factory) *Executor {
	return &Executor{res: res, factory: factory}
}

// Validate requires a non-empty `userQuery`.
func (e *Executor) Validate(node any) error {
	n, ok := node.(*graph.Node)
	if !ok {
		return &registry.ValidationError{Message: "agent: node is not a *graph.Node"}
	}
	q, ok := n.Data.Config["userQuery"].(string)
	if !ok || q == "" {
		return &registry.ValidationError{Message: "agent: config.userQuery must be a non-empty string"}
	}
	return nil
}

// Execute runs the shared agent contract's seven steps (§4.8).
func (e *Executor) Execute(ctx context.Context, node any, execCtx any, emit registry.Emit) (registry.Result, error) {
	n, ok := node.(*graph.Node)
	if !ok {
		return registry.Result{}, fmt.Errorf("agent: node is not a *graph.Node")
	}
	s, ok := execCtx.(store)
	if !ok {
		return registry.Result{}, fmt.Errorf("agent: execCtx does not expose the agent store contract")
	}

	cfg := n.Data.Config
	sessionPrefix := "agent.session." + n.ID + "."
	runCountKey := "node." + n.ID + ".runCount"

	runCount := intVar(s, runCountKey, 0)
	retryCount := intVar(s, sessionPrefix+"retryCount", 0)

	maxRetries := 3
	if v, ok := cfg["maxRetries"].(float64); ok {
		maxRetries = int(v)
	}
	onMaxRetries, _ := cfg["onMaxRetries"].(string)
	if onMaxRetries == "" {
		onMaxRetries = "fail"
	}

	priorSessionID, hadSession := s.Variable(sessionPrefix + "sessionId")
	shouldContinue, effectiveRetryCount := continuationDecision(cfg, s, sessionPrefix, hadSession, retryCount)

	if shouldContinue && effectiveRetryCount >= maxRetries {
		switch onMaxRetries {
		case "skip":
			return registry.Result{Output: map[string]any{"result": nil, "runCount": runCount, "skipped": true}}, nil
		case "approve-anyway":
			// proceed as if the retry budget allows one more attempt
		default: // "fail"
			return registry.Result{}, fmt.Errorf("agent: max retries (%d) exceeded", maxRetries)
		}
	}

	prompt := buildPrompt(e.res, cfg, s, shouldContinue, s.SuccessorRequiresJson(n.ID))

	workDir := s.WorkingDirectory(stringConfig(cfg, "workingDirectory"))
	if workDir != "" {
		if _, err := os.Stat(workDir); err != nil {
			return registry.Result{}, fmt.Errorf("agent: working directory %q: %w", workDir, err)
		}
	}

	sessionArg := ""
	if shouldContinue {
		if id, ok := priorSessionID.(string); ok {
			sessionArg = id
		}
	}
	ag := e.factory(sessionArg)

	events, err := ag.Execute(ctx, prompt, workDir)
	if err != nil {
		return registry.Result{}, fmt.Errorf("agent: %w", err)
	}

	transcript := newTranscript(runCount+1, prompt)
	var structured map[string]any

loop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			if emit != nil {
				emit(ev)
			}
			transcript.append(ev)
			if ev.Type == EventComplete {
				structured = ev.StructuredOutput
			}
		case <-ctx.Done():
			return registry.Result{}, fmt.Errorf("agent: %w", ctx.Err())
		}
	}

	sessionID := ag.SessionID()
	if sessionID == "" {
		sessionID = sessionArg
	}
	if structured == nil {
		structured = ag.StructuredOutput()
	}

	s.SetVariable(sessionPrefix+"sessionId", sessionID)
	s.SetVariable(runCountKey, runCount+1)
	newRetryCount := effectiveRetryCount
	if shouldContinue {
		newRetryCount++
	}
	s.SetVariable(sessionPrefix+"retryCount", newRetryCount)
	s.SetVariable(sessionPrefix+"transcript", transcript.String())

	output := map[string]any{
		"result":     transcript.lastText,
		"runCount":   runCount + 1,
		"transcript": transcript.String(),
	}
	for k, v := range structured {
		if k == "result" || k == "runCount" || k == "transcript" {
			continue
		}
		output[k] = v
	}
	if r, ok := structured["result"]; ok {
		output["result"] = r
	}

	return registry.Result{Output: output}, nil
}

// continuationDecision implements §4.8 step 1: whether this run should
// continue a prior session, and the retry count to compare against
// maxRetries.
func continuationDecision(cfg map[string]any, s store, sessionPrefix string, hadSession bool, retryCount int) (bool, int) {
	rejectionRetryEnabled, _ := cfg["rejectionRetryEnabled"].(bool)
	continueSession, _ := cfg["continueSession"].(bool)
	conversationMode, _ := cfg["conversationMode"].(string)

	rejected, _ := s.Variable(sessionPrefix + "rejected")
	wasRejected, _ := rejected.(bool)

	if rejectionRetryEnabled && continueSession && wasRejected {
		return true, retryCount
	}
	if conversationMode == "persist" && hadSession {
		return true, retryCount
	}
	return false, retryCount
}

// buildPrompt implements §4.8 step 3: userQuery, optionally prefixed by a
// rejection-feedback template with {{feedback}} substituted, and suffixed
// with a JSON-mode instruction when requireJSON is set (§4.3
// successorRequiresJson) so a downstream condition/merge node has
// structured fields to key off of.
func buildPrompt(res *resolver.Resolver, cfg map[string]any, s store, shouldContinue, requireJSON bool) string {
	query, _ := cfg["userQuery"].(string)
	tmpl, _ := cfg["rejectionFeedbackTemplate"].(string)

	prompt := query
	if shouldContinue && tmpl != "" {
		if prefix := res.Interpolate(tmpl, s); prefix != "" {
			prompt = prefix + "\n" + query
		}
	}
	if requireJSON {
		prompt += "\n\nRespond with a single JSON object as your final answer; do not wrap it in prose or code fences."
	}
	return prompt
}

func intVar(s store, key string, def int) int {
	v, ok := s.Variable(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

func stringConfig(cfg map[string]any, key string) string {
	v, _ := cfg[key].(string)
	return v
}

// transcript accumulates the sectioned run record §4.8 step 5 describes:
// a run header, the prompt, then one section per streamed event kind.
type transcript struct {
	b        strings.Builder
	lastText string
}

func newTranscript(run int, prompt string) *transcript {
	t := &transcript{}
	fmt.Fprintf(&t.b, "=== run %d ===\n", run)
	fmt.Fprintf(&t.b, "[prompt] %s\n", prompt)
	return t
}

func (t *transcript) append(ev Event) {
	switch ev.Type {
	case EventText:
		fmt.Fprintf(&t.b, "[assistant] %s\n", ev.Text)
		t.lastText = ev.Text
	case EventThinking:
		fmt.Fprintf(&t.b, "[thinking] %s\n", ev.Text)
	case EventToolUse:
		fmt.Fprintf(&t.b, "[tool-use] %s %v\n", ev.Tool, ev.ToolInput)
	case EventToolResult:
		fmt.Fprintf(&t.b, "[tool-result] %s %v\n", ev.Tool, ev.ToolResult)
	case EventError:
		fmt.Fprintf(&t.b, "[error] %s\n", ev.Err)
	}
}

func (t *transcript) String() string { return t.b.String() }

var _ registry.Executor = (*Executor)(nil)
