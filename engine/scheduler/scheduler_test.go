package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/workflow-engine/engine/events"
	"github.com/lyzr/workflow-engine/engine/graph"
	"github.com/lyzr/workflow-engine/engine/registry"
	"github.com/lyzr/workflow-engine/engine/resolver"
)

// recordingSink captures every event emitted during a run, for assertion.
type recordingSink struct {
	mu   sync.Mutex
	recs []events.Record
}

func (r *recordingSink) Emit(rec events.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func (r *recordingSink) byKind(k events.Kind) []events.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Record
	for _, rec := range r.recs {
		if rec.Event.Type == k {
			out = append(out, rec)
		}
	}
	return out
}

func (r *recordingSink) nodeStarts(nodeID string) int {
	n := 0
	for _, rec := range r.byKind(events.KindNodeStart) {
		if rec.Event.NodeID == nodeID {
			n++
		}
	}
	return n
}

func newTestScheduler(sink events.Sink) (*Scheduler, *registry.Registry) {
	reg := registry.New()
	res := resolver.New()
	s := New(reg, res, sink, nil, WithIdlePoll(10*time.Millisecond))
	return s, reg
}

// passthroughExecutor resolves {{Pred}} from its node config and returns
// it verbatim, exercising the resolver the way the real `output`/`merge`
// executors would.
type passthroughExecutor struct {
	registry.NoValidation
	predName string
	res      *resolver.Resolver
}

func (p passthroughExecutor) Execute(ctx context.Context, node any, execCtx any, emit registry.Emit) (registry.Result, error) {
	store := execCtx.(resolver.Store)
	v, _ := p.res.Resolve("{{"+p.predName+"}}", store)
	return registry.Result{Output: v}, nil
}

func TestLinearHappyPath(t *testing.T) {
	wf := graph.Workflow{
		ID: "wf-1",
		Nodes: []graph.Node{
			{ID: "n1", Type: "input", Data: graph.NodeData{Name: "Input"}},
			{ID: "n2", Type: "echo", Data: graph.NodeData{Name: "A"}},
			{ID: "n3", Type: "output", Data: graph.NodeData{Name: "Output"}},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "n1", Target: "n2"},
			{ID: "e2", Source: "n2", Target: "n3"},
		},
	}

	sink := &recordingSink{}
	s, reg := newTestScheduler(sink)
	res := resolver.New()
	require.NoError(t, reg.Register("echo", passthroughExecutor{predName: "Input", res: res}))
	require.NoError(t, reg.Register("output", passthroughExecutor{predName: "A", res: res}))

	ec, err := s.Run(context.Background(), wf, "exec-1", "hello")
	require.NoError(t, err)

	assert.Equal(t, 1, sink.nodeStarts("n2"))
	assert.Equal(t, 1, sink.nodeStarts("n3"))

	out, ok := ec.RawOutput("n3")
	require.True(t, ok)
	assert.Equal(t, "hello", out)

	complete := sink.byKind(events.KindExecutionComplete)
	require.Len(t, complete, 1)
	assert.Equal(t, map[string]any{"Output": "hello"}, complete[0].Event.Result)
}

// conditionExecutor is a minimal branching executor: it contains a
// substring check on its single predecessor's output and routes
// true/false, mirroring the real condition executor's contract (§4.6)
// without depending on it.
type conditionExecutor struct {
	registry.NoValidation
	predName string
	contains string
	res      *resolver.Resolver
}

func (c conditionExecutor) Execute(ctx context.Context, node any, execCtx any, emit registry.Emit) (registry.Result, error) {
	store := execCtx.(resolver.Store)
	v, _ := c.res.Resolve("{{"+c.predName+"}}", store)
	s, _ := v.(string)
	result := strings.Contains(s, c.contains)
	return registry.Result{Output: result}, nil
}

func (c conditionExecutor) GetOutputHandle(result registry.Result, node any) (string, bool) {
	b, _ := result.Output.(bool)
	if b {
		return "true", true
	}
	return "false", true
}

func TestConditionalBranchTaken(t *testing.T) {
	wf := graph.Workflow{
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

	sink := &recordingSink{}
	s, reg := newTestScheduler(sink)
	res := resolver.New()
	require.NoError(t, reg.Register("condition", conditionExecutor{predName: "Input", contains: "success", res: res}))
	require.NoError(t, reg.Register("echo", passthroughExecutor{predName: "Input", res: res}))
	require.NoError(t, reg.Register("output", passthroughExecutor{predName: "T", res: res}))

	ec, err := s.Run(context.Background(), wf, "exec-2", "big success")
	require.NoError(t, err)

	condOut, _ := ec.RawOutput("c")
	assert.Equal(t, true, condOut)
	assert.Equal(t, "complete", string(ec.State("t").Status))
	assert.Equal(t, "skipped", string(ec.State("f").Status))
}

// loopAgentExecutor returns successive values from a fixed sequence,
// tracking its own call count via a variable on the execution context —
// exercising the agent executor's runCount pattern (§4.8) in miniature.
type loopAgentExecutor struct {
	registry.NoValidation
	sequence []string
}

type variableStore interface {
	Variable(key string) (any, bool)
	SetVariable(key string, value any)
}

func (l loopAgentExecutor) Execute(ctx context.Context, node any, execCtx any, emit registry.Emit) (registry.Result, error) {
	n := node.(*graph.Node)
	vs := execCtx.(variableStore)
	key := "node." + n.ID + ".runCount"
	count := 0
	if v, ok := vs.Variable(key); ok {
		count = v.(int)
	}
	out := l.sequence[count]
	vs.SetVariable(key, count+1)
	return registry.Result{Output: out}, nil
}

func TestLoopWithBackEdge(t *testing.T) {
	wf := graph.Workflow{
		ID: "wf-3",
		Nodes: []graph.Node{
			{ID: "in", Type: "input", Data: graph.NodeData{Name: "Input"}},
			{ID: "a", Type: "agent", Data: graph.NodeData{Name: "A"}},
			{ID: "c", Type: "condition", Data: graph.NodeData{Name: "C"}},
			{ID: "out", Type: "output", Data: graph.NodeData{Name: "Output"}},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "in", Target: "a"},
			{ID: "e2", Source: "a", Target: "c"},
			{ID: "e3", Source: "c", Target: "a", SourceHandle: "false"},
			{ID: "e4", Source: "c", Target: "out", SourceHandle: "true"},
		},
	}

	sink := &recordingSink{}
	s, reg := newTestScheduler(sink)
	res := resolver.New()
	require.NoError(t, reg.Register("agent", loopAgentExecutor{sequence: []string{"no", "no", "DONE"}}))
	require.NoError(t, reg.Register("condition", conditionExecutor{predName: "A", contains: "DONE", res: res}))
	require.NoError(t, reg.Register("output", passthroughExecutor{predName: "A", res: res}))

	_, err := s.Run(context.Background(), wf, "exec-3", "go")
	require.NoError(t, err)

	assert.Equal(t, 3, sink.nodeStarts("a"))
	assert.Equal(t, 1, sink.nodeStarts("out"))
}

// errExecutor always fails.
type errExecutor struct {
	registry.NoValidation
	msg string
}

func (e errExecutor) Execute(ctx context.Context, node any, execCtx any, emit registry.Emit) (registry.Result, error) {
	return registry.Result{}, fmt.Errorf("%s", e.msg)
}

func TestParallelDiamondErrorPropagation(t *testing.T) {
	wf := graph.Workflow{
		ID: "wf-4",
		Nodes: []graph.Node{
			{ID: "in", Type: "input", Data: graph.NodeData{Name: "Input"}},
			{ID: "a", Type: "bad", Data: graph.NodeData{Name: "A"}},
			{ID: "b", Type: "echo", Data: graph.NodeData{Name: "B"}},
			{ID: "m", Type: "merge", Data: graph.NodeData{Name: "M"}},
			{ID: "out", Type: "output", Data: graph.NodeData{Name: "Output"}},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "in", Target: "a"},
			{ID: "e2", Source: "in", Target: "b"},
			{ID: "e3", Source: "a", Target: "m"},
			{ID: "e4", Source: "b", Target: "m"},
			{ID: "e5", Source: "m", Target: "out"},
		},
	}

	sink := &recordingSink{}
	s, reg := newTestScheduler(sink)
	res := resolver.New()
	require.NoError(t, reg.Register("bad", errExecutor{msg: "agent exploded"}))
	require.NoError(t, reg.Register("echo", passthroughExecutor{predName: "Input", res: res}))
	require.NoError(t, reg.Register("merge", passthroughExecutor{predName: "B", res: res}))

	ec, err := s.Run(context.Background(), wf, "exec-4", "x")
	require.NoError(t, err) // a per-node error is recovered locally, not a fatal execution error (§7)

	assert.Equal(t, "error", string(ec.State("a").Status))
	assert.Equal(t, "complete", string(ec.State("b").Status))
	mState := ec.State("m")
	assert.Equal(t, "error", string(mState.Status))
	assert.Contains(t, mState.Error, "A")
}

func TestInterruptStopsNewNodeStarts(t *testing.T) {
	wf := graph.Workflow{
		ID: "wf-5",
		Nodes: []graph.Node{
			{ID: "in", Type: "input", Data: graph.NodeData{Name: "Input"}},
			{ID: "a", Type: "slow", Data: graph.NodeData{Name: "A"}},
			{ID: "out", Type: "output", Data: graph.NodeData{Name: "Output"}},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "in", Target: "a"},
			{ID: "e2", Source: "a", Target: "out"},
		},
	}

	sink := &recordingSink{}
	s, reg := newTestScheduler(sink)
	require.NoError(t, reg.Register("slow", slowExecutor{}))
	require.NoError(t, reg.Register("output", passthroughExecutor{predName: "A", res: resolver.New()}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // interrupt before the loop ever gets to dispatch "a"

	_, err := s.Run(ctx, wf, "exec-5", "x")
	require.ErrorIs(t, err, ErrInterrupted)
	assert.Empty(t, sink.nodeStarts("a"))
}

type slowExecutor struct{ registry.NoValidation }

func (slowExecutor) Execute(ctx context.Context, node any, execCtx any, emit registry.Emit) (registry.Result, error) {
	select {
	case <-time.After(time.Second):
		return registry.Result{Output: "done"}, nil
	case <-ctx.Done():
		return registry.Result{}, ctx.Err()
	}
}
