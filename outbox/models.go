package outbox

import (
	"encoding/json"
	"time"

	"loanflow/subscriber"
)

// DeliveryState tracks an entry through asynchronous delivery.
type DeliveryState string

const (
	StatePending      DeliveryState = "pending"
	StateFailed       DeliveryState = "failed"
	StateDelivered    DeliveryState = "delivered"
	StateDeadLettered DeliveryState = "dead_lettered"
)

// Entry is one transactional-outbox row. It is created in the same
// transaction as its scenario event and never marked delivered until every
// registered handler for the event type has acknowledged.
type Entry struct {
	ID            int64
	EventID       int64
	ScenarioID    string
	Seq           int
	EventType     string
	Payload       json.RawMessage
	CorrelationID string
	State         DeliveryState
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     *string
	CreatedAt     time.Time
	DeliveredAt   *time.Time
}

// Envelope builds the wire contract handed to subscribers.
func (e Entry) Envelope() subscriber.Event {
	return subscriber.Event{
		ScenarioID:    e.ScenarioID,
		Sequence:      e.Seq,
		EventType:     e.EventType,
		Payload:       e.Payload,
		CorrelationID: e.CorrelationID,
		OccurredAt:    e.CreatedAt,
	}
}
