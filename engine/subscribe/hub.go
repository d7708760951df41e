// Package subscribe implements the subscription fan-out layer (C10):
// multiplexing one execution's event stream to N live subscribers.
// Grounded on common/queue.MemoryQueue (map-of-channels
// guarded by a mutex, buffered delivery, warn-and-drop on a full channel),
// generalized from "one consumer wins per topic" to "every subscriber gets
// every event" since the journal needs true broadcast, not work-queue
// semantics.
package subscribe

import (
	"sync"

	"github.com/lyzr/workflow-engine/common/logger"
	"github.com/lyzr/workflow-engine/engine/events"
)

const defaultBuffer = 256

// Subscription is a live handle on one execution's event stream.
type Subscription struct {
	C      <-chan events.Record
	id     uint64
	execID string
	hub    *Hub
}

// Close detaches the subscription and closes its channel; events still
// buffered in it stay readable. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s.execID, s.id)
}

// Hub is the process-wide fan-out registry: one set of subscriber channels
// per execution id.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]chan events.Record
	nextID uint64
	log    *logger.Logger
}

// NewHub creates an empty Hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{subs: make(map[string]map[uint64]chan events.Record), log: log}
}

// Subscribe registers a new live subscriber for executionID.
func (h *Hub) Subscribe(executionID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[executionID] == nil {
		h.subs[executionID] = make(map[uint64]chan events.Record)
	}
	id := h.nextID
	h.nextID++
	ch := make(chan events.Record, defaultBuffer)
	h.subs[executionID][id] = ch

	return &Subscription{C: ch, id: id, execID: executionID, hub: h}
}

// Publish broadcasts rec to every live subscriber of its execution. A
// subscriber whose channel is full has the event dropped for it (with a
// warning) rather than blocking the publisher — a slow subscriber must
// not stall the scheduler's event emission.
func (h *Hub) Publish(executionID string, rec events.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs[executionID] {
		select {
		case ch <- rec:
		default:
			h.log.Warn("subscriber channel full, dropping event", "execution_id", executionID, "event_type", string(rec.Event.Type))
		}
	}
}

// CloseExecution closes every subscriber channel for executionID — called
// once a run reaches a terminal state so subscribers see channel closure
// as "no more events coming".
func (h *Hub) CloseExecution(executionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs[executionID] {
		close(ch)
	}
	delete(h.subs, executionID)
}

func (h *Hub) unsubscribe(executionID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.subs[executionID]
	if !ok {
		return
	}
	if ch, ok := m[id]; ok {
		delete(m, id)
		close(ch)
	}
	if len(m) == 0 {
		delete(h.subs, executionID)
	}
}

// SubscriberCount reports how many live subscribers an execution has, for
// diagnostics/tests.
func (h *Hub) SubscriberCount(executionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[executionID])
}
