// Package routes registers engineserver's HTTP and WebSocket routes,
// mirroring cmd/orchestrator/routes: one RegisterXRoutes function per
// resource group, each building its own handlers from the shared
// container.
package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lyzr/workflow-engine/cmd/engineserver/container"
	"github.com/lyzr/workflow-engine/cmd/engineserver/handlers"
)

// Register wires every route group onto e.
func Register(e *echo.Echo, c *container.Container) {
	registerWorkflowRoutes(e, c)
	registerSocketRoutes(e, c)
	registerMetricsRoute(e, c)
}

func registerWorkflowRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWorkflowHandler(c)

	workflows := e.Group("/api/v1/workflows")
	workflows.Use(middleware.RequestID())
	{
		workflows.GET("/schema", h.GetSchema)
		workflows.POST("", h.CreateWorkflow)
		workflows.GET("/:id", h.GetWorkflow)
	}
}

func registerSocketRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewSocketHandler(c)
	e.GET("/ws", h.Handle)
}

func registerMetricsRoute(e *echo.Echo, c *container.Container) {
	handler := promhttp.HandlerFor(c.PromReg, promhttp.HandlerOpts{})
	e.GET("/metrics", echo.WrapHandler(handler))
}
