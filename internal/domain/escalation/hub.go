package escalation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// operatorQueue is one connected operator's bounded event backlog. When
// full, the oldest queued event is dropped to make room for the new one
// so a slow operator never blocks the broadcast path.
type operatorQueue struct {
	id      string
	events  chan Event
	dropped atomic.Int64
}

// pendingEscalation tracks one request awaiting a human verdict.
type pendingEscalation struct {
	result   chan Resolution
	resolved atomic.Bool
}

// Hub fans a single escalation event out to every connected operator and
// resolves to whichever operator responds first, or to TimeoutResolution
// on deadline.
type Hub struct {
	mu        sync.Mutex
	operators map[string]*operatorQueue
	pending   map[string]*pendingEscalation
	queueSize int
}

// NewHub builds a Hub whose per-operator queues hold queueSize events
// (DefaultOperatorQueueSize when <= 0).
func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultOperatorQueueSize
	}
	return &Hub{
		operators: make(map[string]*operatorQueue),
		pending:   make(map[string]*pendingEscalation),
		queueSize: queueSize,
	}
}

// RegisterOperator connects a new operator and returns its event channel
// and an id to pass to Dropped/Unregister. The returned channel is closed
// by Unregister.
func (h *Hub) RegisterOperator() (id string, events <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	opID := uuid.NewString()
	q := &operatorQueue{id: opID, events: make(chan Event, h.queueSize)}
	h.operators[opID] = q
	return opID, q.events
}

// UnregisterOperator disconnects an operator and closes its channel.
func (h *Hub) UnregisterOperator(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if q, ok := h.operators[id]; ok {
		close(q.events)
		delete(h.operators, id)
	}
}

// Dropped reports how many events have been dropped for operator id due
// to a full queue.
func (h *Hub) Dropped(id string) int64 {
	h.mu.Lock()
	q, ok := h.operators[id]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	return q.dropped.Load()
}

// broadcast sends event to every connected operator, dropping the oldest
// queued event for any operator whose queue is full.
func (h *Hub) broadcast(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, q := range h.operators {
		select {
		case q.events <- event:
		default:
			select {
			case <-q.events:
				q.dropped.Add(1)
			default:
			}
			select {
			case q.events <- event:
			default:
				q.dropped.Add(1)
			}
		}
	}
}

// Await registers requestID as a pending escalation, broadcasts event to
// every connected operator, and blocks until the first operator response,
// a deadline (DefaultDeadline when <= 0), or ctx cancellation (the
// originating transport disconnected, so the wait is abandoned rather
// than completed). On ctx cancellation the pending entry is reaped and
// Await returns ctx.Err().
func (h *Hub) Await(ctx context.Context, event Event, deadline time.Duration) (Resolution, error) {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}

	pe := &pendingEscalation{result: make(chan Resolution, 1)}
	h.mu.Lock()
	h.pending[event.RequestID] = pe
	h.mu.Unlock()
	defer h.reap(event.RequestID)

	h.broadcast(event)

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case res := <-pe.result:
		return res, nil
	case <-timer.C:
		pe.resolved.Store(true)
		return TimeoutResolution, nil
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}
}

// reap removes requestID's pending entry once its Await call returns.
func (h *Hub) reap(requestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.pending, requestID)
}

// Respond delivers an operator's verdict for requestID. The first
// response wins; later responses for the same request are accepted
// without error but have no further effect (idempotent).
func (h *Hub) Respond(resp Response) error {
	h.mu.Lock()
	pe, ok := h.pending[resp.RequestID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("escalation %s not found", resp.RequestID)
	}

	if !pe.resolved.CompareAndSwap(false, true) {
		return nil
	}

	reason := "escalation_resolved_allow"
	if resp.Action == ActionBlock {
		reason = "escalation_resolved_block"
	}
	select {
	case pe.result <- Resolution{Action: resp.Action, Reason: reason, Operator: resp.Operator}:
	default:
	}
	return nil
}

// Pending reports how many escalations are currently awaiting resolution.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}
