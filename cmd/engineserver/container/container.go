// Package container wires every engine collaborator into one process-wide
// instance, mirroring cmd/orchestrator/container.Container's
// bottom-up singleton pattern: repositories/clients first, then services
// built on top of them, all constructed once at startup and handed to
// route handlers by reference.
package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/lyzr/workflow-engine/common/config"
	"github.com/lyzr/workflow-engine/common/logger"
	"github.com/lyzr/workflow-engine/common/metrics"
	"github.com/lyzr/workflow-engine/engine/approval"
	"github.com/lyzr/workflow-engine/engine/checkpoint"
	"github.com/lyzr/workflow-engine/engine/events"
	"github.com/lyzr/workflow-engine/engine/execctx"
	"github.com/lyzr/workflow-engine/engine/executors/agent"
	approvalexec "github.com/lyzr/workflow-engine/engine/executors/approval"
	"github.com/lyzr/workflow-engine/engine/executors/condition"
	"github.com/lyzr/workflow-engine/engine/executors/evolution"
	"github.com/lyzr/workflow-engine/engine/executors/ioendpoints"
	"github.com/lyzr/workflow-engine/engine/executors/merge"
	"github.com/lyzr/workflow-engine/engine/executors/script"
	"github.com/lyzr/workflow-engine/engine/executors/shell"
	"github.com/lyzr/workflow-engine/engine/graph"
	"github.com/lyzr/workflow-engine/engine/journal"
	"github.com/lyzr/workflow-engine/engine/registry"
	"github.com/lyzr/workflow-engine/engine/replay"
	"github.com/lyzr/workflow-engine/engine/resolver"
	"github.com/lyzr/workflow-engine/engine/scheduler"
	"github.com/lyzr/workflow-engine/engine/subscribe"
	"github.com/lyzr/workflow-engine/engine/workflowstore"
)

// run tracks one in-flight or finished execution's interruptible handle
// plus enough to capture a checkpoint once it pauses or finishes.
type run struct {
	ec         *execctx.Context
	g          *graph.Graph
	workflowID string
}

// Container holds every wired engine component plus the in-memory
// executionID -> run index the HTTP/WebSocket layer needs for interrupt
// and replay.
type Container struct {
	Config      *config.Config
	Log         *logger.Logger
	Metrics     *metrics.Registry
	PromReg     *prometheus.Registry
	Hub         *subscribe.Hub
	Journal     *journal.Journal
	Checkpoints checkpoint.Store
	Approvals   *approval.Coordinator
	Workflows   workflowstore.Store
	Registry    *registry.Registry
	Resolver    *resolver.Resolver
	Scheduler   *scheduler.Scheduler

	mu   sync.Mutex
	runs map[string]*run
}

// New builds a Container from cfg: logger, metrics, the event fan-out
// stack (hub/journal), checkpoint/workflow storage per the configured
// backends, the full seven-executor registry, and the scheduler on top.
func New(cfg *config.Config) (*Container, error) {
	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	promReg := prometheus.NewRegistry()
	m := metrics.NewRegistry(promReg)

	hub := subscribe.NewHub(log)
	jr, err := journal.New(cfg.Journal.Dir, hub, m, log)
	if err != nil {
		return nil, fmt.Errorf("container: journal: %w", err)
	}

	checkpoints, err := buildCheckpointStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("container: checkpoint store: %w", err)
	}

	workflows, err := buildWorkflowStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("container: workflow store: %w", err)
	}

	approvals := approval.New()
	res := resolver.New()

	history, err := evolution.NewJSONLHistory(cfg.Journal.Dir)
	if err != nil {
		return nil, fmt.Errorf("container: evolution history: %w", err)
	}

	reg := buildRegistry(res, approvals, workflows, history)

	sched := scheduler.New(reg, res, jr, log,
		scheduler.WithMetrics(m),
		scheduler.WithIdlePoll(cfg.Scheduler.IdlePollInterval),
		scheduler.WithApprovals(approvals),
	)

	return &Container{
		Config:      cfg,
		Log:         log,
		Metrics:     m,
		PromReg:     promReg,
		Hub:         hub,
		Journal:     jr,
		Checkpoints: checkpoints,
		Approvals:   approvals,
		Workflows:   workflows,
		Registry:    reg,
		Resolver:    res,
		Scheduler:   sched,
		runs:        make(map[string]*run),
	}, nil
}

func buildCheckpointStore(cfg *config.Config) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Backend {
	case "postgres":
		return nil, fmt.Errorf("postgres checkpoint backend requires a pgxpool.Pool the demo server does not provision; pass checkpoint.NewPostgresStore directly if embedding")
	default:
		return checkpoint.NewFileStore(cfg.Checkpoint.Dir)
	}
}

func buildWorkflowStore(cfg *config.Config) (workflowstore.Store, error) {
	switch cfg.Workflow.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Workflow.RedisAddr})
		return workflowstore.NewRedisStore(client), nil
	default:
		return workflowstore.NewMemoryStore(), nil
	}
}

// buildRegistry wires every node-type handler built across the executor
// catalogue. Real agent backends are out of scope (§1 non-goals), so both
// agent-A and agent-B bind to the shared runner against a canned Mock
// factory; embedding a real SDK factory is a one-line swap at this call
// site.
func buildRegistry(res *resolver.Resolver, approvals *approval.Coordinator, workflows workflowstore.Store, history *evolution.JSONLHistory) *registry.Registry {
	reg := registry.New()

	mockFactory := agent.NewMock([]agent.Event{
		{Type: agent.EventText, Text: "demo agent response"},
		{Type: agent.EventComplete},
	}, "", nil)

	reg.MustRegister("merge", merge.New())
	reg.MustRegister("output", ioendpoints.NewOutput())
	reg.MustRegister("condition", condition.New(res))
	reg.MustRegister("script", script.New())
	reg.MustRegister("shell", shell.New())
	reg.MustRegister("agent-A", agent.New(res, mockFactory))
	reg.MustRegister("agent-B", agent.New(res, mockFactory))
	reg.MustRegister("approval", approvalexec.New(res, approvals))
	reg.MustRegister("reflection", evolution.New(approvals, workflows, history))

	return reg
}

// StartExecution builds the graph, kicks the scheduler off
// asynchronously, and records the run handle. No workflow snapshot is
// recorded.
func (c *Container) StartExecution(ctx context.Context, wf graph.Workflow, executionID string, input any) (*execctx.Context, error) {
	g, err := graph.New(wf)
	if err != nil {
		return nil, fmt.Errorf("container: build graph: %w", err)
	}

	ec, err := c.Scheduler.StartAsync(ctx, wf, executionID, input)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.runs[executionID] = &run{ec: ec, g: g, workflowID: wf.ID}
	c.mu.Unlock()

	go c.watchForCheckpoints(executionID, wf.ID, g, ec)
	return ec, nil
}

// watchForCheckpoints subscribes to executionID's own event stream and
// captures a checkpoint on every event that leaves the execution unable to
// make further progress without outside input (node-waiting) or finished
// (execution-complete/error) — the points a later replay or resume
// actually needs a frozen CheckpointState for.
func (c *Container) watchForCheckpoints(executionID, workflowID string, g *graph.Graph, ec *execctx.Context) {
	sub, _ := c.Journal.Subscribe(executionID, time.Time{})
	defer sub.Close()

	for rec := range sub.C {
		switch rec.Event.Type {
		case events.KindNodeWaiting, events.KindExecutionComplete, events.KindExecutionError:
			state := checkpoint.Capture(executionID, workflowID, g, ec)
			if err := c.Checkpoints.Save(context.Background(), state); err != nil {
				c.Log.Error("container: checkpoint save failed", "execution_id", executionID, "error", err)
			}
		}
		if rec.Event.Type == events.KindExecutionComplete || rec.Event.Type == events.KindExecutionError {
			_ = c.Journal.PersistSummary(executionID)
			return
		}
	}
}

// Interrupt cancels a tracked execution (§5, §7).
func (c *Container) Interrupt(executionID string) error {
	c.mu.Lock()
	r, ok := c.runs[executionID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("container: no tracked execution %q", executionID)
	}
	r.ec.Interrupt()
	return nil
}

// PlanReplay computes a replay.Plan for resuming sourceExecutionID's
// checkpoint against wf from fromNodeID (§4.11).
func (c *Container) PlanReplay(ctx context.Context, wf graph.Workflow, sourceExecutionID, fromNodeID string, snapshot *replay.Snapshot) (*replay.Plan, *graph.Graph, *checkpoint.State, error) {
	g, err := graph.New(wf)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("container: build graph: %w", err)
	}

	ckpt, err := c.Checkpoints.Load(ctx, sourceExecutionID)
	if err != nil {
		ckpt = nil
	}

	plan := replay.Compute(g, c.Registry, ckpt, snapshot, fromNodeID)
	return plan, g, ckpt, nil
}

// ReplayExecution resumes sourceExecutionID at plan.FromNodeID under a new
// executionID, provided plan is not blocked.
func (c *Container) ReplayExecution(ctx context.Context, wf graph.Workflow, newExecutionID string, input any, ckpt *checkpoint.State, plan *replay.Plan) (*execctx.Context, error) {
	ec, err := c.Scheduler.ResumeAsync(ctx, wf, newExecutionID, input, ckpt, plan.ReplayNodeIDs, plan.InactiveNodeIDs)
	if err != nil {
		return nil, err
	}

	g, err := graph.New(wf)
	if err != nil {
		return nil, fmt.Errorf("container: build graph: %w", err)
	}

	c.mu.Lock()
	c.runs[newExecutionID] = &run{ec: ec, g: g, workflowID: wf.ID}
	c.mu.Unlock()

	go c.watchForCheckpoints(newExecutionID, wf.ID, g, ec)
	return ec, nil
}

// SubmitApproval resolves a pending approval or reflection-suggest wait
// (§6 submit-approval).
func (c *Container) SubmitApproval(executionID, nodeID string, resp approval.Response) error {
	return c.Approvals.Submit(executionID, nodeID, resp)
}
