package scenario

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a scenario.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusSubmitted  Status = "submitted"
	StatusProcessing Status = "processing"
	StatusEvaluated  Status = "evaluated"
	StatusError      Status = "error"
	StatusArchived   Status = "archived"
)

// IsValid reports whether the status is one of the defined lifecycle values.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusProcessing, StatusEvaluated, StatusError, StatusArchived:
		return true
	default:
		return false
	}
}

// EventType classifies entries in a scenario's event log.
type EventType string

const (
	EventTypeCreated             EventType = "SCENARIO_CREATED"
	EventTypeStatusChanged       EventType = "SCENARIO_STATUS_CHANGED"
	EventTypeDataReady           EventType = "SCENARIO_DATA_READY"
	EventTypeEvaluationRequested EventType = "SCENARIO_EVALUATION_REQUESTED"
	EventTypeMatchesFound        EventType = "SCENARIO_MATCHES_FOUND"
	EventTypeError               EventType = "SCENARIO_ERROR"
	EventTypeDeleted             EventType = "SCENARIO_DELETED"
)

// IsValid reports whether the event type is one of the defined values.
func (t EventType) IsValid() bool {
	switch t {
	case EventTypeCreated, EventTypeStatusChanged, EventTypeDataReady,
		EventTypeEvaluationRequested, EventTypeMatchesFound, EventTypeError,
		EventTypeDeleted:
		return true
	default:
		return false
	}
}

// Scenario mirrors the scenarios table. Version is the optimistic-concurrency
// token: it strictly increases on every committed mutation.
type Scenario struct {
	ID          string
	OwnerUserID string
	Status      Status
	LoanData    json.RawMessage
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// Event is one immutable entry in a scenario's audit trail. Seq is assigned
// inside the same transaction as the scenario mutation and is contiguous per
// scenario starting at 1.
type Event struct {
	ID            int64
	ScenarioID    string
	Seq           int
	Type          EventType
	Payload       json.RawMessage
	ActorID       *string
	CorrelationID string
	CreatedAt     time.Time
}

// CreateParams carries the inputs for creating a scenario in draft.
type CreateParams struct {
	OwnerUserID   string
	LoanData      json.RawMessage
	ActorID       string
	CorrelationID string
}

// TransitionParams carries a requested lifecycle transition. ExpectedVersion
// is the version the caller last read; a mismatch yields a ConflictError.
// EventType defaults to SCENARIO_STATUS_CHANGED when empty so collaborators
// reporting results can tag the richer domain event types.
type TransitionParams struct {
	ScenarioID      string
	NextStatus      Status
	ExpectedVersion int
	EventType       EventType
	Payload         map[string]any
	ActorID         string
	CorrelationID   string
}
