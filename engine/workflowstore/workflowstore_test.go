package workflowstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetWorkflowNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetWorkflow(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStorePutThenGet(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Seed(context.Background(), "wf-1", []byte(`{"id":"wf-1"}`)))

	doc, err := s.GetWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"wf-1"}`, string(doc))
}

func TestMemoryStoreApplyPatchReplacesDocument(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Seed(context.Background(), "wf-1", []byte(`{"name":"old"}`)))

	require.NoError(t, s.ApplyPatch(context.Background(), "wf-1", []byte(`{"name":"new"}`)))

	doc, err := s.GetWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"new"}`, string(doc))
}
