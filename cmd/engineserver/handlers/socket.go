// socket.go adapts cmd/fanout's Hub/Client ping-pong pattern
// into a bidirectional control channel: clients send the §6 control-event
// sum type (start-execution, subscribe-execution, interrupt,
// replay-execution, submit-approval) and receive the execution's event
// stream back as individual JSON frames, one per events.Record.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/workflow-engine/cmd/engineserver/container"
	"github.com/lyzr/workflow-engine/engine/approval"
	"github.com/lyzr/workflow-engine/engine/graph"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// controlEnvelope is the inbound §6 control-event sum type, tagged by
// Type. Only the fields relevant to Type are populated by the sender.
type controlEnvelope struct {
	Type         string          `json:"type"`
	ExecutionID  string          `json:"executionId,omitempty"`
	WorkflowID   string          `json:"workflowId,omitempty"`
	Input        any             `json:"input,omitempty"`
	NodeID       string          `json:"nodeId,omitempty"`
	FromNodeID   string          `json:"fromNodeId,omitempty"`
	Approved     bool            `json:"approved,omitempty"`
	Feedback     string          `json:"feedback,omitempty"`
	Workflow     json.RawMessage `json:"workflow,omitempty"`
}

// outboundError is sent back over the socket for a control message this
// handler could not act on (bad JSON, unknown workflow, a failed start or
// replay). A blocked replay is reported as a separate "replay-blocked"
// frame carrying the plan.
type outboundError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SocketHandler serves the bidirectional execution control channel.
type SocketHandler struct {
	c *container.Container
}

// NewSocketHandler creates a SocketHandler bound to c.
func NewSocketHandler(c *container.Container) *SocketHandler {
	return &SocketHandler{c: c}
}

// Handle upgrades the HTTP connection and runs the client's read/write
// pumps until it disconnects.
// GET /ws
func (h *SocketHandler) Handle(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.c.Log.Error("websocket upgrade failed", "error", err)
		return nil
	}

	client := &socketClient{
		container: h.c,
		conn:      conn,
		send:      make(chan []byte, 256),
		done:      make(chan struct{}),
	}
	go client.writePump()
	go client.readPump()
	return nil
}

// socketClient owns one live websocket connection and the send channel
// every forwarded execution subscription writes into.
type socketClient struct {
	container *container.Container
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
}

func (s *socketClient) readPump() {
	defer func() {
		close(s.done)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.container.Log.Debug("websocket read error", "error", err)
			}
			return
		}
		s.handleMessage(raw)
	}
}

func (s *socketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *socketClient) sendError(msg string) {
	b, _ := json.Marshal(outboundError{Type: "error", Message: msg})
	select {
	case s.send <- b:
	case <-s.done:
	}
}

func (s *socketClient) handleMessage(raw []byte) {
	var env controlEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.sendError("invalid control message: " + err.Error())
		return
	}

	switch env.Type {
	case "start-execution":
		s.handleStart(env)
	case "subscribe-execution":
		s.handleSubscribe(env)
	case "interrupt":
		if err := s.container.Interrupt(env.ExecutionID); err != nil {
			s.sendError(err.Error())
		}
	case "replay-execution":
		s.handleReplay(env)
	case "submit-approval":
		resp := approval.Response{Approved: env.Approved, Feedback: env.Feedback, RespondedAt: time.Now()}
		if err := s.container.SubmitApproval(env.ExecutionID, env.NodeID, resp); err != nil {
			s.sendError(err.Error())
		}
	default:
		s.sendError("unknown control event type: " + env.Type)
	}
}

func (s *socketClient) handleStart(env controlEnvelope) {
	var wf graph.Workflow
	if len(env.Workflow) > 0 {
		if err := json.Unmarshal(env.Workflow, &wf); err != nil {
			s.sendError("invalid workflow: " + err.Error())
			return
		}
	} else {
		doc, err := s.container.Workflows.GetWorkflow(context.Background(), env.WorkflowID)
		if err != nil {
			s.sendError("unknown workflow: " + env.WorkflowID)
			return
		}
		if err := json.Unmarshal(doc, &wf); err != nil {
			s.sendError("stored workflow is malformed: " + err.Error())
			return
		}
	}

	executionID := env.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}

	if _, err := s.container.StartExecution(context.Background(), wf, executionID, env.Input); err != nil {
		s.sendError("start execution: " + err.Error())
		return
	}
	s.forwardEvents(executionID)
}

func (s *socketClient) handleSubscribe(env controlEnvelope) {
	s.forwardEvents(env.ExecutionID)
}

func (s *socketClient) handleReplay(env controlEnvelope) {
	doc, err := s.container.Workflows.GetWorkflow(context.Background(), env.WorkflowID)
	if err != nil {
		s.sendError("unknown workflow: " + env.WorkflowID)
		return
	}
	var wf graph.Workflow
	if err := json.Unmarshal(doc, &wf); err != nil {
		s.sendError("stored workflow is malformed: " + err.Error())
		return
	}

	plan, _, ckpt, err := s.container.PlanReplay(context.Background(), wf, env.ExecutionID, env.FromNodeID, nil)
	if err != nil {
		s.sendError("plan replay: " + err.Error())
		return
	}
	if plan.IsBlocked() {
		b, _ := json.Marshal(map[string]any{"type": "replay-blocked", "plan": plan})
		select {
		case s.send <- b:
		case <-s.done:
		}
		return
	}

	// A replay always runs on the source execution's original input: the
	// checkpointed output of the workflow's input node.
	var originalInput any
	for _, n := range wf.Nodes {
		if n.Type == "input" && ckpt != nil {
			originalInput = ckpt.NodeOutputs[n.ID]
			break
		}
	}

	replayExecutionID := uuid.NewString()
	if _, err := s.container.ReplayExecution(context.Background(), wf, replayExecutionID, originalInput, ckpt, plan); err != nil {
		s.sendError("replay execution: " + err.Error())
		return
	}
	s.forwardEvents(replayExecutionID)
}

// forwardEvents subscribes to executionID's event stream (including
// backlog, so a late subscriber sees what it missed) and forwards every
// record to this client as its own JSON frame until the stream closes or
// the client disconnects.
func (s *socketClient) forwardEvents(executionID string) {
	sub, backlog := s.container.Journal.Subscribe(executionID, time.Time{})

	go func() {
		defer sub.Close()

		for _, rec := range backlog {
			if !s.deliver(rec) {
				return
			}
		}
		for {
			select {
			case rec, ok := <-sub.C:
				if !ok {
					return
				}
				if !s.deliver(rec) {
					return
				}
			case <-s.done:
				return
			}
		}
	}()
}

func (s *socketClient) deliver(rec any) bool {
	b, err := json.Marshal(rec)
	if err != nil {
		return true
	}
	select {
	case s.send <- b:
		return true
	case <-s.done:
		return false
	}
}
