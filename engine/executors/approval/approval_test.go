package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/workflow-engine/engine/approval"
	"github.com/lyzr/workflow-engine/engine/events"
	"github.com/lyzr/workflow-engine/engine/execctx"
	"github.com/lyzr/workflow-engine/engine/graph"
	"github.com/lyzr/workflow-engine/engine/registry"
	"github.com/lyzr/workflow-engine/engine/resolver"
)

type fakeCoordinator struct {
	resp approval.Response
	err  error
}

func (f *fakeCoordinator) Await(ctx context.Context, executionID, nodeID string) (approval.Response, error) {
	return f.resp, f.err
}

type fakeStore struct {
	mu       sync.Mutex
	outputs  map[string]any
	input    any
	statuses map[string]execctx.Status
	waiting  []events.ApprovalRequest
	execID   string
}

func newFakeStore() *fakeStore {
	return &fakeStore{outputs: map[string]any{}, statuses: map[string]execctx.Status{}, execID: "exec-1"}
}

func (s *fakeStore) NodeOutput(name string) (any, bool) { v, ok := s.outputs[name]; return v, ok }
func (s *fakeStore) Input() any                         { return s.input }
func (s *fakeStore) SetStatus(id string, status execctx.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
}
func (s *fakeStore) EmitWaiting(nodeID, nodeName string, req events.ApprovalRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiting = append(s.waiting, req)
}
func (s *fakeStore) ExecID() string { return s.execID }

func approvalNode(cfg map[string]any) *graph.Node {
	return &graph.Node{ID: "ap", Type: "approval", Data: graph.NodeData{Name: "Approval", Config: cfg}}
}

func TestExecuteApprovedRoutesApprovalHandle(t *testing.T) {
	coord := &fakeCoordinator{resp: approval.Response{Approved: true, RespondedAt: time.Now()}}
	e := &Executor{res: resolver.New(), coord: coord}
	s := newFakeStore()

	result, err := e.Execute(context.Background(), approvalNode(map[string]any{"prompt": "ok?"}), s, nil)
	require.NoError(t, err)

	out := result.Output.(map[string]any)
	assert.Equal(t, true, out["approved"])

	handle, ok := e.GetOutputHandle(result, nil)
	require.True(t, ok)
	assert.Equal(t, "approval", handle)

	assert.Equal(t, execctx.StatusWaiting, s.statuses["ap"])
	require.Len(t, s.waiting, 1)
	assert.Equal(t, "ok?", s.waiting[0].Prompt)
}

func TestExecuteRejectedRoutesRejectionHandle(t *testing.T) {
	coord := &fakeCoordinator{resp: approval.Response{Approved: false, Feedback: "try again"}}
	e := &Executor{res: resolver.New(), coord: coord}
	s := newFakeStore()

	result, err := e.Execute(context.Background(), approvalNode(map[string]any{}), s, nil)
	require.NoError(t, err)

	handle, ok := e.GetOutputHandle(result, nil)
	require.True(t, ok)
	assert.Equal(t, "rejection", handle)
}

func TestExecuteCancelledSurfacesError(t *testing.T) {
	coord := &fakeCoordinator{err: approval.ErrCancelled}
	e := &Executor{res: resolver.New(), coord: coord}
	s := newFakeStore()

	_, err := e.Execute(context.Background(), approvalNode(map[string]any{}), s, nil)
	assert.True(t, errors.Is(err, approval.ErrCancelled))
}

func TestExecuteRejectsWrongNodeType(t *testing.T) {
	e := &Executor{res: resolver.New(), coord: &fakeCoordinator{}}
	_, err := e.Execute(context.Background(), "not-a-node", newFakeStore(), nil)
	assert.Error(t, err)
}

var _ registry.Executor = (*Executor)(nil)
