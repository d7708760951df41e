package replay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/workflow-engine/engine/checkpoint"
	"github.com/lyzr/workflow-engine/engine/graph"
	"github.com/lyzr/workflow-engine/engine/registry"
)

type stubConditionExecutor struct {
	registry.NoValidation
	activeHandle string
}

func (s stubConditionExecutor) Execute(ctx context.Context, node any, execCtx any, emit registry.Emit) (registry.Result, error) {
	return registry.Result{Output: s.activeHandle == "true"}, nil
}

func (s stubConditionExecutor) GetOutputHandle(result registry.Result, node any) (string, bool) {
	return s.activeHandle, true
}

func linearWorkflow() graph.Workflow {
	return graph.Workflow{
		ID: "wf-1",
		Nodes: []graph.Node{
			{ID: "in", Type: "input", Data: graph.NodeData{Name: "Input"}},
			{ID: "a", Type: "echo", Data: graph.NodeData{Name: "A"}},
			{ID: "out", Type: "output", Data: graph.NodeData{Name: "Output"}},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "in", Target: "a"},
			{ID: "e2", Source: "a", Target: "out"},
		},
	}
}

func branchWorkflow() graph.Workflow {
	return graph.Workflow{
		ID: "wf-2",
		Nodes: []graph.Node{
			{ID: "in", Type: "input", Data: graph.NodeData{Name: "Input"}},
			{ID: "c", Type: "condition", Data: graph.NodeData{Name: "C"}},
			{ID: "t", Type: "echo", Data: graph.NodeData{Name: "T"}},
			{ID: "f", Type: "echo", Data: graph.NodeData{Name: "F"}},
			{ID: "out", Type: "output", Data: graph.NodeData{Name: "Output"}},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "in", Target: "c"},
			{ID: "e2", Source: "c", Target: "t", SourceHandle: "true"},
			{ID: "e3", Source: "c", Target: "f", SourceHandle: "false"},
			{ID: "e4", Source: "t", Target: "out"},
			{ID: "e5", Source: "f", Target: "out"},
		},
	}
}

func TestComputeReplayFromOutputReusesUpstream(t *testing.T) {
	wf := linearWorkflow()
	g, err := graph.New(wf)
	require.NoError(t, err)

	reg := registry.New()
	ckpt := &checkpoint.State{
		NodeStates: map[string]checkpoint.NodeSnapshot{
			"in":  {Status: "complete"},
			"a":   {Status: "complete"},
			"out": {Status: "complete"},
		},
		NodeOutputs: map[string]any{"in": "hello", "a": "hello", "out": "hello"},
	}

	plan := Compute(g, reg, ckpt, nil, "out")
	require.False(t, plan.IsBlocked(), "%+v", plan.Blocking)
	assert.True(t, plan.ReplayNodeIDs["out"])
	assert.False(t, plan.ReplayNodeIDs["a"])
	assert.False(t, plan.ReplayNodeIDs["in"])
	assert.True(t, plan.Nodes["a"].Replayable)
}

func TestComputeInvalidNodeBlocks(t *testing.T) {
	wf := linearWorkflow()
	g, err := graph.New(wf)
	require.NoError(t, err)

	plan := Compute(g, registry.New(), &checkpoint.State{}, nil, "does-not-exist")
	require.True(t, plan.IsBlocked())
	assert.Equal(t, "invalid-node", plan.Blocking[0].Code)
}

func TestComputeMissingCheckpointBlocks(t *testing.T) {
	wf := linearWorkflow()
	g, err := graph.New(wf)
	require.NoError(t, err)

	plan := Compute(g, registry.New(), nil, nil, "out")
	require.True(t, plan.IsBlocked())
	assert.Equal(t, "missing-checkpoint", plan.Blocking[0].Code)
}

func TestComputeDependencyMissingBlocks(t *testing.T) {
	wf := linearWorkflow()
	g, err := graph.New(wf)
	require.NoError(t, err)

	ckpt := &checkpoint.State{
		NodeStates: map[string]checkpoint.NodeSnapshot{
			"in": {Status: "complete"},
			"a":  {Status: "pending"},
		},
		NodeOutputs: map[string]any{"in": "hello"},
	}

	plan := Compute(g, registry.New(), ckpt, nil, "out")
	require.True(t, plan.IsBlocked())
	found := false
	for _, b := range plan.Blocking {
		if b.Code == "dependency-missing" && b.NodeID == "a" {
			found = true
		}
	}
	assert.True(t, found, "%+v", plan.Blocking)
}

func TestComputeInactiveBranchBlocksReplayFromIt(t *testing.T) {
	wf := branchWorkflow()
	g, err := graph.New(wf)
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, reg.Register("condition", stubConditionExecutor{activeHandle: "true"}))

	ckpt := &checkpoint.State{
		NodeStates: map[string]checkpoint.NodeSnapshot{
			"in": {Status: "complete"},
			"c":  {Status: "complete"},
			"t":  {Status: "complete"},
			"f":  {Status: "skipped"},
		},
		NodeOutputs: map[string]any{"in": "yes", "c": true, "t": "t-out"},
	}

	plan := Compute(g, reg, ckpt, nil, "f")
	require.True(t, plan.IsBlocked())
	assert.Equal(t, "inactive-branch", plan.Blocking[0].Code)
	assert.True(t, plan.InactiveNodeIDs["f"])
	assert.False(t, plan.Nodes["f"].Replayable)
}

func TestComputeReplayFromActiveBranchNotBlocked(t *testing.T) {
	wf := branchWorkflow()
	g, err := graph.New(wf)
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, reg.Register("condition", stubConditionExecutor{activeHandle: "true"}))

	ckpt := &checkpoint.State{
		NodeStates: map[string]checkpoint.NodeSnapshot{
			"in":  {Status: "complete"},
			"c":   {Status: "complete"},
			"t":   {Status: "complete"},
			"f":   {Status: "skipped"},
			"out": {Status: "complete"},
		},
		NodeOutputs: map[string]any{"in": "yes", "c": true, "t": "t-out", "out": "t-out"},
	}

	plan := Compute(g, reg, ckpt, nil, "t")
	require.False(t, plan.IsBlocked(), "%+v", plan.Blocking)
	assert.True(t, plan.ReplayNodeIDs["t"])
	assert.True(t, plan.ReplayNodeIDs["out"])
	assert.False(t, plan.InactiveNodeIDs["t"])
}

func TestDiffDetectsRemovedNode(t *testing.T) {
	wf := linearWorkflow()
	snapshot := NewSnapshot(wf, time.Now())

	modified := linearWorkflow()
	modified.Nodes = modified.Nodes[:2] // drop "out"
	modified.Edges = modified.Edges[:1]

	warnings := Diff(snapshot, modified)
	require.Len(t, warnings, 2) // node-removed, then edge-changed for the dropped e2
	assert.Equal(t, "node-removed", warnings[0].Code)
	assert.Contains(t, warnings[0].Message, "removed")
	assert.Equal(t, "out", warnings[0].NodeID)
	assert.True(t, warnings[0].Blocking)
}

func TestDiffMissingSnapshotIsNonBlocking(t *testing.T) {
	warnings := Diff(nil, linearWorkflow())
	require.Len(t, warnings, 1)
	assert.Equal(t, "snapshot-missing", warnings[0].Code)
	assert.False(t, warnings[0].Blocking)
}

func TestDiffDetectsEdgeChangeNonBlocking(t *testing.T) {
	wf := linearWorkflow()
	snapshot := NewSnapshot(wf, time.Now())

	modified := linearWorkflow()
	modified.Edges = append(modified.Edges, graph.Edge{ID: "e3", Source: "in", Target: "out"})

	warnings := Diff(snapshot, modified)
	var found bool
	for _, w := range warnings {
		if w.Code == "edge-changed" {
			found = true
			assert.False(t, w.Blocking)
		}
	}
	assert.True(t, found)
}
