package merge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/workflow-engine/engine/graph"
)

type fakePredecessorStore struct {
	byNode map[string]map[string]any
}

func (s fakePredecessorStore) PredecessorOutputs(nodeID string) map[string]any {
	return s.byNode[nodeID]
}

func TestExecuteMergesByPredecessorName(t *testing.T) {
	e := New()
	node := &graph.Node{ID: "m", Type: "merge", Data: graph.NodeData{Name: "M"}}
	store := fakePredecessorStore{byNode: map[string]map[string]any{
		"m": {"A": "a-out", "B": map[string]any{"x": 1.0}},
	}}

	result, err := e.Execute(context.Background(), node, store, nil)
	require.NoError(t, err)

	out, ok := result.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a-out", out["A"])
	assert.Equal(t, map[string]any{"x": 1.0}, out["B"])
}

func TestExecuteWithNoPredecessorOutputsYet(t *testing.T) {
	e := New()
	node := &graph.Node{ID: "m", Type: "merge", Data: graph.NodeData{Name: "M"}}
	store := fakePredecessorStore{byNode: map[string]map[string]any{}}

	result, err := e.Execute(context.Background(), node, store, nil)
	require.NoError(t, err)
	out, ok := result.Output.(map[string]any)
	require.True(t, ok)
	assert.Empty(t, out)
}

func TestValidateAlwaysPasses(t *testing.T) {
	e := New()
	assert.NoError(t, e.Validate(&graph.Node{}))
}

func TestExecuteRejectsWrongNodeType(t *testing.T) {
	e := New()
	_, err := e.Execute(context.Background(), "not-a-node", fakePredecessorStore{}, nil)
	assert.Error(t, err)
}
