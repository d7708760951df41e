package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/workflow-engine/engine/graph"
	"github.com/lyzr/workflow-engine/engine/registry"
	"github.com/lyzr/workflow-engine/engine/resolver"
)

// TestFanInAfterBranchingNotPrematurelySkipped covers Open Question (a):
// a merge with one predecessor on the active branch and one on the
// inactive branch must wait for the active sibling rather than being
// skipped the moment the condition resolves.
func TestFanInAfterBranchingNotPrematurelySkipped(t *testing.T) {
	wf := graph.Workflow{
		ID: "wf-fanin",
		Nodes: []graph.Node{
			{ID: "in", Type: "input", Data: graph.NodeData{Name: "Input"}},
			{ID: "c", Type: "condition", Data: graph.NodeData{Name: "C"}},
			{ID: "t", Type: "slow-echo", Data: graph.NodeData{Name: "T"}},
			{ID: "f", Type: "echo", Data: graph.NodeData{Name: "F"}},
			{ID: "m", Type: "merge", Data: graph.NodeData{Name: "M"}},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "in", Target: "c"},
			{ID: "e2", Source: "c", Target: "t", SourceHandle: "true"},
			{ID: "e3", Source: "c", Target: "f", SourceHandle: "false"},
			{ID: "e4", Source: "t", Target: "m"},
			{ID: "e5", Source: "f", Target: "m"},
		},
	}

	sink := &recordingSink{}
	s, reg := newTestScheduler(sink)
	res := resolver.New()
	require.NoError(t, reg.Register("condition", conditionExecutor{predName: "Input", contains: "yes", res: res}))
	require.NoError(t, reg.Register("slow-echo", slowEchoExecutor{delay: 30 * time.Millisecond}))
	require.NoError(t, reg.Register("echo", passthroughExecutor{predName: "Input", res: res}))
	require.NoError(t, reg.Register("merge", passthroughExecutor{predName: "T", res: res}))

	ec, err := s.Run(context.Background(), wf, "exec-fanin", "yes please")
	require.NoError(t, err)

	// F sits on the inactive branch and is skipped; M must still wait for
	// T (the active branch) rather than being skipped as soon as F is.
	assert.Equal(t, "skipped", string(ec.State("f").Status))
	assert.Equal(t, "complete", string(ec.State("t").Status))
	assert.Equal(t, "complete", string(ec.State("m").Status))
}

type slowEchoExecutor struct {
	registry.NoValidation
	delay time.Duration
}

func (s slowEchoExecutor) Execute(ctx context.Context, node any, execCtx any, emit registry.Emit) (registry.Result, error) {
	time.Sleep(s.delay)
	return registry.Result{Output: "t-done"}, nil
}
