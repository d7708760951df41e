package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowAcceptsWellShapedDocument(t *testing.T) {
	doc := []byte(`{
		"id": "wf-1",
		"nodes": [
			{"id": "n1", "type": "input", "data": {"name": "In"}},
			{"id": "n2", "type": "output", "data": {"name": "Out"}}
		],
		"edges": [
			{"id": "e1", "source": "n1", "target": "n2"}
		]
	}`)

	issues, err := Workflow(doc)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestWorkflowRejectsMissingNodeType(t *testing.T) {
	doc := []byte(`{
		"id": "wf-1",
		"nodes": [{"id": "n1", "data": {"name": "In"}}],
		"edges": []
	}`)

	issues, err := Workflow(doc)
	require.NoError(t, err)
	assert.NotEmpty(t, issues)
}

func TestWorkflowRejectsMissingTopLevelFields(t *testing.T) {
	issues, err := Workflow([]byte(`{}`))
	require.NoError(t, err)
	assert.NotEmpty(t, issues)
}
