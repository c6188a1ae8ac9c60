package escalation

import (
	"context"
	"testing"
	"time"
)

func TestHub_FirstOperatorResponseWins(t *testing.T) {
	h := NewHub(4)
	opID, events := h.RegisterOperator()
	defer h.UnregisterOperator(opID)

	done := make(chan Resolution, 1)
	go func() {
		res, err := h.Await(context.Background(), Event{RequestID: "r1"}, 2*time.Second)
		if err != nil {
			t.Errorf("Await() error = %v", err)
		}
		done <- res
	}()

	<-events // consume the broadcast event

	if err := h.Respond(Response{RequestID: "r1", Action: ActionAllow, Operator: "op-a"}); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	// A second response must not change the outcome.
	if err := h.Respond(Response{RequestID: "r1", Action: ActionBlock, Operator: "op-b"}); err != nil {
		t.Fatalf("second Respond() error = %v", err)
	}

	res := <-done
	if res.Action != ActionAllow {
		t.Errorf("Action = %v, want allow (first responder)", res.Action)
	}
}

func TestHub_DeadlineResolvesBlock(t *testing.T) {
	h := NewHub(4)
	res, err := h.Await(context.Background(), Event{RequestID: "r2"}, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if res.Action != ActionBlock || res.Reason != "escalation_timeout" {
		t.Errorf("got %+v, want block/escalation_timeout", res)
	}
}

func TestHub_ContextCancellationAbandonsWaitEarly(t *testing.T) {
	h := NewHub(4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := h.Await(ctx, Event{RequestID: "r3"}, 5*time.Second)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Await() error = nil, want ctx cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("Await() did not return promptly after ctx cancellation")
	}

	if h.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 (reaped after cancellation)", h.Pending())
	}
}

func TestHub_RespondToUnknownRequestErrors(t *testing.T) {
	h := NewHub(4)
	if err := h.Respond(Response{RequestID: "missing", Action: ActionAllow}); err == nil {
		t.Error("Respond() error = nil, want not-found error")
	}
}

func TestHub_BroadcastReachesAllOperators(t *testing.T) {
	h := NewHub(4)
	_, eventsA := h.RegisterOperator()
	_, eventsB := h.RegisterOperator()

	go func() { _, _ = h.Await(context.Background(), Event{RequestID: "r4"}, time.Second) }()

	select {
	case <-eventsA:
	case <-time.After(time.Second):
		t.Error("operator A did not receive broadcast")
	}
	select {
	case <-eventsB:
	case <-time.After(time.Second):
		t.Error("operator B did not receive broadcast")
	}
}

func TestHub_FullQueueDropsOldestAndCounts(t *testing.T) {
	h := NewHub(1)
	opID, events := h.RegisterOperator()
	defer h.UnregisterOperator(opID)

	h.broadcast(Event{RequestID: "first"})
	h.broadcast(Event{RequestID: "second"})

	ev := <-events
	if ev.RequestID != "second" {
		t.Errorf("RequestID = %q, want %q (oldest dropped)", ev.RequestID, "second")
	}
	if got := h.Dropped(opID); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	h := NewHub(4)
	opID, events := h.RegisterOperator()
	h.UnregisterOperator(opID)

	_, ok := <-events
	if ok {
		t.Error("channel not closed after UnregisterOperator")
	}
}
