package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"training-lab-control-plane/internal/session/domain"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []*Event
	done   chan struct{}
}

func (c *captureEmitter) Emit(_ context.Context, event *Event) error {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
	c.done <- struct{}{}
	return nil
}

func TestEmitAsync_NilSafe(t *testing.T) {
	// Must not panic or spawn anything.
	EmitAsync(nil, &Event{Type: "created"})
	EmitAsync(&captureEmitter{done: make(chan struct{}, 1)}, nil)
}

func TestSink_PropagatesSessionFields(t *testing.T) {
	emitter := &captureEmitter{done: make(chan struct{}, 1)}
	sink := NewSink(emitter)

	sink.SessionTransition(context.Background(), &domain.Session{
		ID:                "s-1",
		UserID:            "user-1",
		Tier:              "gpu",
		Status:            domain.StatusTerminated,
		TerminationReason: "ttl",
	}, "terminated")

	select {
	case <-emitter.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("emit never happened")
	}

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	if len(emitter.events) != 1 {
		t.Fatalf("expected one event, got %d", len(emitter.events))
	}
	e := emitter.events[0]
	if e.Type != "terminated" || e.SessionID != "s-1" || e.Status != "TERMINATED" || e.Reason != "ttl" {
		t.Fatalf("unexpected event: %+v", e)
	}
}
