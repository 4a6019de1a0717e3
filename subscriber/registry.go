package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Event is the wire envelope delivered to subscribers. Evolution is additive:
// fields may be added, never renamed or removed, and subscribers ignore
// unknown fields. (scenario_id, sequence) is the idempotency key.
type Event struct {
	ScenarioID    string          `json:"scenario_id"`
	Sequence      int             `json:"sequence"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Handler is one collaborator boundary. Delivery is at-least-once, so Handle
// must tolerate repeat invocations for the same (scenario_id, sequence).
type Handler interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

// Func adapts a plain function into a named Handler.
type Func struct {
	HandlerName string
	Fn          func(ctx context.Context, ev Event) error
}

func (f Func) Name() string { return f.HandlerName }

func (f Func) Handle(ctx context.Context, ev Event) error { return f.Fn(ctx, ev) }

// Registry maps event types to the handlers that must acknowledge them.
// Registration happens at startup; dispatch reads are concurrent.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string][]Handler{}}
}

// Register appends a handler for the event type, preserving registration order.
func (r *Registry) Register(eventType string, h Handler) error {
	if eventType == "" {
		return fmt.Errorf("subscriber: empty event type")
	}
	if h == nil {
		return fmt.Errorf("subscriber: nil handler for %s", eventType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = append(r.handlers[eventType], h)
	return nil
}

// HandlersFor returns the handlers registered for the event type. The slice
// is a copy; callers may not mutate registry state through it.
func (r *Registry) HandlersFor(eventType string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	registered := r.handlers[eventType]
	out := make([]Handler, len(registered))
	copy(out, registered)
	return out
}

// EventTypes lists the event types with at least one handler, sorted for
// deterministic logging.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
