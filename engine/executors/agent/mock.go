package agent

import "context"

// Mock is a test/demo Agent double: it replays a fixed Event sequence and
// reports a canned session id and structured output. Real agent SDKs are
// out of scope (§1 non-goals); this is the stand-in every test and the
// demo server registers in their place.
type Mock struct {
	Events     []Event
	Session    string
	Structured map[string]any
}

// NewMock builds a Factory that always returns the same canned Mock,
// ignoring the prior session id passed to it (a real SDK would resume
// the remote conversation; the mock has no remote state to resume).
func NewMock(events []Event, session string, structured map[string]any) Factory {
	return func(priorSessionID string) Agent {
		return &Mock{Events: events, Session: session, Structured: structured}
	}
}

// Execute streams the canned events over a buffered channel and closes it.
func (m *Mock) Execute(ctx context.Context, prompt string, workingDirectory string) (<-chan Event, error) {
	ch := make(chan Event, len(m.Events))
	for _, ev := range m.Events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

// SessionID returns the mock's canned session id.
func (m *Mock) SessionID() string { return m.Session }

// StructuredOutput returns the mock's canned structured output.
func (m *Mock) StructuredOutput() map[string]any { return m.Structured }

var _ Agent = (*Mock)(nil)
