package evolution

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/workflow-engine/engine/approval"
	"github.com/lyzr/workflow-engine/engine/events"
	"github.com/lyzr/workflow-engine/engine/execctx"
	"github.com/lyzr/workflow-engine/engine/graph"
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
	statuses map[string]execctx.Status
	waiting  []events.ApprovalRequest
	evolved  []events.EvolutionRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{statuses: map[string]execctx.Status{}}
}

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
func (s *fakeStore) EmitEvolution(nodeID string, rec events.EvolutionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evolved = append(s.evolved, rec)
}
func (s *fakeStore) ExecID() string { return "exec-1" }

type fakeWorkflowStore struct {
	doc     []byte
	applied []byte
}

func (f *fakeWorkflowStore) GetWorkflow(ctx context.Context, workflowID string) ([]byte, error) {
	return f.doc, nil
}
func (f *fakeWorkflowStore) ApplyPatch(ctx context.Context, workflowID string, patched []byte) error {
	f.applied = patched
	return nil
}

type fakeHistory struct {
	records []HistoryRecord
}

func (f *fakeHistory) Append(rec HistoryRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func reflectionNode(cfg map[string]any) *graph.Node {
	return &graph.Node{ID: "r1", Type: "reflection", Data: graph.NodeData{Name: "Reflect", Config: cfg}}
}

func addNameOp(name string) map[string]any {
	return map[string]any{"op": "replace", "path": "/name", "value": name}
}

func TestValidateRequiresKnownMode(t *testing.T) {
	e := New(&approval.Coordinator{}, nil, nil)
	err := e.Validate(reflectionNode(map[string]any{"mode": "bogus", "patch": []any{}}))
	assert.Error(t, err)
}

func TestValidateRequiresWellShapedOperations(t *testing.T) {
	e := New(&approval.Coordinator{}, nil, nil)
	err := e.Validate(reflectionNode(map[string]any{"mode": "dry-run", "patch": []any{
		map[string]any{"path": "/name", "value": "x"},
	}}))
	assert.Error(t, err)
}

func TestValidateRejectsTooManyAgentNodes(t *testing.T) {
	var ops []any
	for i := 0; i < 6; i++ {
		ops = append(ops, map[string]any{
			"op": "add", "path": "/nodes/-",
			"value": map[string]any{"id": "n", "type": "agent"},
		})
	}
	e := New(&approval.Coordinator{}, nil, nil)
	err := e.Validate(reflectionNode(map[string]any{"mode": "auto-apply", "patch": ops}))
	assert.Error(t, err)
}

func TestExecuteAutoApplyAppliesAndRecordsHistory(t *testing.T) {
	doc := map[string]any{"name": "old"}
	raw, _ := json.Marshal(doc)
	wfStore := &fakeWorkflowStore{doc: raw}
	history := &fakeHistory{}
	e := New(&approval.Coordinator{}, wfStore, history)

	node := reflectionNode(map[string]any{
		"mode":       "auto-apply",
		"workflowId": "wf-1",
		"patch":      []any{addNameOp("new")},
	})

	result, err := e.Execute(context.Background(), node, newFakeStore(), nil)
	require.NoError(t, err)

	out := result.Output.(map[string]any)
	assert.Equal(t, true, out["applied"])
	require.Len(t, history.records, 1)
	assert.True(t, history.records[0].Applied)

	var patched map[string]any
	require.NoError(t, json.Unmarshal(wfStore.applied, &patched))
	assert.Equal(t, "new", patched["name"])
}

func TestExecuteDryRunNeverApplies(t *testing.T) {
	doc := map[string]any{"name": "old"}
	raw, _ := json.Marshal(doc)
	wfStore := &fakeWorkflowStore{doc: raw}
	history := &fakeHistory{}
	e := New(&approval.Coordinator{}, wfStore, history)

	node := reflectionNode(map[string]any{
		"mode":       "dry-run",
		"workflowId": "wf-1",
		"patch":      []any{addNameOp("new")},
	})

	result, err := e.Execute(context.Background(), node, newFakeStore(), nil)
	require.NoError(t, err)

	out := result.Output.(map[string]any)
	assert.Equal(t, false, out["applied"])
	assert.Nil(t, wfStore.applied)
	require.Len(t, history.records, 1)
	assert.False(t, history.records[0].Applied)
}

func TestExecuteSuggestWaitsAndAppliesOnApproval(t *testing.T) {
	doc := map[string]any{"name": "old"}
	raw, _ := json.Marshal(doc)
	wfStore := &fakeWorkflowStore{doc: raw}
	history := &fakeHistory{}
	coord := &fakeCoordinator{resp: approval.Response{Approved: true}}
	e := &Executor{coord: coord, wfStore: wfStore, history: history}

	node := reflectionNode(map[string]any{
		"mode":       "suggest",
		"workflowId": "wf-1",
		"patch":      []any{addNameOp("new")},
	})
	s := newFakeStore()

	result, err := e.Execute(context.Background(), node, s, nil)
	require.NoError(t, err)

	out := result.Output.(map[string]any)
	assert.Equal(t, true, out["applied"])
	assert.Equal(t, execctx.StatusWaiting, s.statuses["r1"])
	require.Len(t, s.waiting, 1)
	require.Len(t, s.evolved, 1)
	assert.True(t, s.evolved[0].Applied)
}

func TestExecuteSuggestSkipsApplyOnRejection(t *testing.T) {
	doc := map[string]any{"name": "old"}
	raw, _ := json.Marshal(doc)
	wfStore := &fakeWorkflowStore{doc: raw}
	history := &fakeHistory{}
	coord := &fakeCoordinator{resp: approval.Response{Approved: false}}
	e := &Executor{coord: coord, wfStore: wfStore, history: history}

	node := reflectionNode(map[string]any{
		"mode":       "suggest",
		"workflowId": "wf-1",
		"patch":      []any{addNameOp("new")},
	})

	result, err := e.Execute(context.Background(), node, newFakeStore(), nil)
	require.NoError(t, err)

	out := result.Output.(map[string]any)
	assert.Equal(t, false, out["applied"])
	assert.Nil(t, wfStore.applied)
}
