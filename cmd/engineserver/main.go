// Command engineserver is the thin HTTP/WebSocket boundary over the
// workflow execution engine: it accepts workflow documents, drives
// executions, and streams their event records back to subscribers. The
// engine package itself (graph/scheduler/journal/...) has no network
// surface; this command is where one gets built, mirroring the
// cmd/orchestrator layout.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/workflow-engine/cmd/engineserver/container"
	"github.com/lyzr/workflow-engine/cmd/engineserver/routes"
	"github.com/lyzr/workflow-engine/common/config"
	"github.com/lyzr/workflow-engine/common/tracing"
)

const serviceName = "engineserver"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	shutdownTracing, err := tracing.Setup(ctx, cfg.Service.Name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up tracing: %v\n", err)
		os.Exit(1)
	}
	defer shutdownTracing(ctx)

	c, err := container.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize container: %v\n", err)
		os.Exit(1)
	}

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, cfg)
	routes.Register(e, c)
	startServer(e, cfg, c)
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

func setupHealthCheck(e *echo.Echo, cfg *config.Config) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{
			"status":  "ok",
			"service": cfg.Service.Name,
		})
	})
}

func startServer(e *echo.Echo, cfg *config.Config, c *container.Container) {
	c.Log.Info("starting engineserver", "port", cfg.Service.Port)
	if err := e.Start(fmt.Sprintf(":%d", cfg.Service.Port)); err != nil {
		c.Log.Error("server error", "error", err)
		os.Exit(1)
	}
}
