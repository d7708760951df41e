package execctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func nameMap() map[string]string {
	return map[string]string{"Input": "n1", "A": "n2", "Output": "n3"}
}

func TestNodeOutputByName(t *testing.T) {
	c := New("wf-1", "exec-1", "/work", "hello", nameMap())
	c.SetOutput("n2", "world")

	v, ok := c.NodeOutput("A")
	assert.True(t, ok)
	assert.Equal(t, "world", v)

	_, ok = c.NodeOutput("Unknown")
	assert.False(t, ok)
}

func TestInputAndVariables(t *testing.T) {
	c := New("wf-1", "exec-1", "/work", map[string]any{"x": 1.0}, nameMap())
	assert.Equal(t, map[string]any{"x": 1.0}, c.Input())

	c.SetVariable("k", "v")
	v, ok := c.Variable("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestSetOutputTransitionsStatus(t *testing.T) {
	c := New("wf-1", "exec-1", "/work", nil, nameMap())
	c.SetStatus("n2", StatusRunning)
	assert.Equal(t, StatusRunning, c.State("n2").Status)

	c.SetOutput("n2", "done")
	state := c.State("n2")
	assert.Equal(t, StatusComplete, state.Status)
	assert.Equal(t, "done", state.Output)
}

func TestSetErrorTransitionsStatus(t *testing.T) {
	c := New("wf-1", "exec-1", "/work", nil, nameMap())
	c.SetError("n2", "boom")
	state := c.State("n2")
	assert.Equal(t, StatusError, state.Status)
	assert.Equal(t, "boom", state.Error)
}

func TestClearOutputResetsForLoop(t *testing.T) {
	c := New("wf-1", "exec-1", "/work", nil, nameMap())
	c.SetOutput("n2", "first-pass")
	c.ClearOutput("n2")

	_, ok := c.RawOutput("n2")
	assert.False(t, ok)
	assert.Nil(t, c.State("n2").Output)
}

func TestWorkingDirectoryOverride(t *testing.T) {
	c := New("wf-1", "exec-1", "/base", nil, nameMap())
	assert.Equal(t, "/base", c.WorkingDirectory(""))
	assert.Equal(t, "/base/sub", c.WorkingDirectory("sub"))
	assert.Equal(t, "/elsewhere", c.WorkingDirectory("/elsewhere"))
}

func TestDeleteVariablesWithPrefix(t *testing.T) {
	c := New("wf-1", "exec-1", "/work", nil, nameMap())
	c.SetVariable("node.n2.runCount", 1.0)
	c.SetVariable("node.n3.runCount", 2.0)
	c.SetVariable("other", "keep")

	c.DeleteVariablesWithPrefix("node.n2.")

	_, ok := c.Variable("node.n2.runCount")
	assert.False(t, ok)
	_, ok = c.Variable("node.n3.runCount")
	assert.True(t, ok)
	_, ok = c.Variable("other")
	assert.True(t, ok)
}

func TestInterruptCancelsRootContext(t *testing.T) {
	c := New("wf-1", "exec-1", "/work", nil, nameMap())
	assert.False(t, c.Aborted())

	c.Interrupt()
	assert.True(t, c.Aborted())

	select {
	case <-c.RootContext().Done():
	default:
		t.Fatal("expected root context to be cancelled after Interrupt")
	}

	// idempotent
	c.Interrupt()
}

func TestAllStatesSnapshot(t *testing.T) {
	c := New("wf-1", "exec-1", "/work", nil, nameMap())
	c.SetOutput("n2", "x")
	snap := c.AllStates()
	assert.Equal(t, StatusComplete, snap["n2"].Status)
}
