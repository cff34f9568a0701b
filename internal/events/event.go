// Package events emits session lifecycle events to Kafka for downstream
// consumers. Emission is fire-and-forget; the orchestration path never waits
// on the broker.
package events

import (
	"context"
	"log"
	"time"

	"training-lab-control-plane/internal/session/domain"
)

// emitTimeout bounds a single async emit.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the HTTP server stops so
// in-flight async emits can complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// Event is one session lifecycle event on the wire.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Tier      string    `json:"tier"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Emitter writes one event to the event stream.
type Emitter interface {
	Emit(ctx context.Context, event *Event) error
}

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is
// not blocked. The goroutine uses context.Background() so request
// cancellation does not abort an in-flight emit.
func EmitAsync(emitter Emitter, event *Event) {
	if emitter == nil || event == nil {
		return
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			log.Printf("events: async emit failed: %v", err)
		}
	}()
}

// Sink adapts an Emitter to the orchestrator's event hook.
type Sink struct {
	emitter Emitter
}

func NewSink(emitter Emitter) *Sink {
	return &Sink{emitter: emitter}
}

func (s *Sink) SessionTransition(_ context.Context, sess *domain.Session, event string) {
	if s == nil || sess == nil {
		return
	}
	EmitAsync(s.emitter, &Event{
		Type:      event,
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Tier:      sess.Tier,
		Status:    string(sess.Status),
		Reason:    sess.TerminationReason,
		CreatedAt: time.Now().UTC(),
	})
}
