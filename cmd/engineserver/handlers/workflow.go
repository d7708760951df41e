package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/workflow-engine/cmd/engineserver/container"
	"github.com/lyzr/workflow-engine/engine/graph"
	"github.com/lyzr/workflow-engine/engine/validate"
)

// WorkflowHandler serves the workflow-document routes: schema, create,
// fetch. It does not drive execution (see SocketHandler in socket.go) —
// workflow documents and their running executions are separate concerns
// per the store/scheduler split in engine/workflowstore.
type WorkflowHandler struct {
	c *container.Container
}

// NewWorkflowHandler creates a WorkflowHandler bound to c.
func NewWorkflowHandler(c *container.Container) *WorkflowHandler {
	return &WorkflowHandler{c: c}
}

// GetSchema returns the JSON schema a workflow document must satisfy.
// GET /api/v1/workflows/schema
func (h *WorkflowHandler) GetSchema(c echo.Context) error {
	return c.JSONBlob(http.StatusOK, []byte(validate.WorkflowSchemaJSON()))
}

// CreateWorkflow validates and stores a new workflow document, assigning
// an id if the caller did not supply one.
// POST /api/v1/workflows
func (h *WorkflowHandler) CreateWorkflow(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	issues, err := validate.Workflow(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "schema validation failed")
	}
	if len(issues) > 0 {
		return c.JSON(http.StatusUnprocessableEntity, map[string]any{"issues": issues})
	}

	var wf graph.Workflow
	if err := c.Bind(&wf); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid workflow document")
	}
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}

	if _, err := graph.New(wf); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	raw, err := bindToJSON(wf)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to encode workflow")
	}

	if err := h.c.Workflows.Seed(c.Request().Context(), wf.ID, raw); err != nil {
		h.c.Log.Error("create workflow: seed failed", "workflow_id", wf.ID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store workflow")
	}

	return c.JSON(http.StatusCreated, wf)
}

// GetWorkflow returns the stored document for :id.
// GET /api/v1/workflows/:id
func (h *WorkflowHandler) GetWorkflow(c echo.Context) error {
	id := c.Param("id")
	doc, err := h.c.Workflows.GetWorkflow(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
	}
	return c.JSONBlob(http.StatusOK, doc)
}
