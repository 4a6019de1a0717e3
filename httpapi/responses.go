package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"loanflow/scenario"
)

type errorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type scenarioResponse struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Status    string          `json:"status"`
	LoanData  json.RawMessage `json:"loan_data"`
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type eventResponse struct {
	ScenarioID    string          `json:"scenario_id"`
	Sequence      int             `json:"sequence"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func toScenarioResponse(s scenario.Scenario) scenarioResponse {
	return scenarioResponse{
		ID:        s.ID,
		OwnerID:   s.OwnerUserID,
		Status:    string(s.Status),
		LoanData:  s.LoanData,
		Version:   s.Version,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func toEventResponse(ev scenario.Event) eventResponse {
	return eventResponse{
		ScenarioID:    ev.ScenarioID,
		Sequence:      ev.Seq,
		EventType:     string(ev.Type),
		Payload:       ev.Payload,
		CorrelationID: ev.CorrelationID,
		OccurredAt:    ev.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeDomainError maps the scenario error taxonomy onto HTTP statuses.
// Conflict and illegal-transition responses carry enough context for the
// caller to reload and retry correctly.
func writeDomainError(w http.ResponseWriter, err error) {
	var conflictErr *scenario.ConflictError
	var transitionErr *scenario.IllegalTransitionError

	switch {
	case errors.Is(err, scenario.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "scenario not found")
	case errors.As(err, &conflictErr):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:   "conflict",
			Message: conflictErr.Error(),
			Details: map[string]any{
				"expected_version": conflictErr.ExpectedVersion,
				"current_version":  conflictErr.CurrentVersion,
				"current_status":   string(conflictErr.CurrentStatus),
			},
		})
	case errors.As(err, &transitionErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:   "illegal_transition",
			Message: transitionErr.Error(),
			Details: map[string]any{
				"current_status":   string(transitionErr.Current),
				"requested_status": string(transitionErr.Requested),
			},
		})
	case errors.Is(err, scenario.ErrValidation), errors.Is(err, scenario.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
