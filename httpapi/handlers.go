package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"loanflow/auth"
	"loanflow/correlation"
	"loanflow/metrics"
	"loanflow/outbox"
	"loanflow/scenario"
)

// ScenarioService is the lifecycle engine consumed by the handlers.
type ScenarioService interface {
	Create(ctx context.Context, params scenario.CreateParams) (scenario.Scenario, error)
	Get(ctx context.Context, id string) (scenario.Scenario, error)
	ApplyTransition(ctx context.Context, params scenario.TransitionParams) (scenario.Scenario, error)
	SoftDelete(ctx context.Context, id, actorID, correlationID string) error
	ReadEventsSince(ctx context.Context, scenarioID string, fromSeq int) ([]scenario.Event, error)
}

// AuthService exposes account registration, login, and profile lookup.
type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	GetUserByID(ctx context.Context, userID string) (auth.User, error)
}

// DeadLetterStore surfaces exhausted outbox entries for operators.
type DeadLetterStore interface {
	ListDeadLettered(ctx context.Context, limit int) ([]outbox.Entry, error)
	Requeue(ctx context.Context, id int64) error
}

// Handler serves the ingress operations.
type Handler struct {
	scenarios   ScenarioService
	accounts    AuthService
	authorizer  auth.Authorizer
	deadLetters DeadLetterStore
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewHandler(
	scenarios ScenarioService,
	accounts AuthService,
	authorizer auth.Authorizer,
	deadLetters DeadLetterStore,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		scenarios:   scenarios,
		accounts:    accounts,
		authorizer:  authorizer,
		deadLetters: deadLetters,
		metrics:     m,
		logger:      logger,
	}
}

type createScenarioRequest struct {
	LoanData json.RawMessage `json:"loan_data"`
}

func (h *Handler) createScenario(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorize(w, r, auth.ResourceScenarios, auth.ActionCreate)
	if !ok {
		return
	}

	var req createScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "malformed request body")
		return
	}

	created, err := h.scenarios.Create(r.Context(), scenario.CreateParams{
		OwnerUserID:   actor.ID,
		LoanData:      req.LoanData,
		ActorID:       actor.ID,
		CorrelationID: correlation.From(r.Context()),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.ScenariosCreated.Inc()
	}
	writeJSON(w, http.StatusCreated, toScenarioResponse(created))
}

func (h *Handler) getScenario(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, auth.ResourceScenarios, auth.ActionRead); !ok {
		return
	}

	s, err := h.scenarios.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toScenarioResponse(s))
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, auth.ResourceScenarios, auth.ActionRead); !ok {
		return
	}

	fromSeq := 0
	if raw := r.URL.Query().Get("from"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "from must be a non-negative integer")
			return
		}
		fromSeq = n
	}

	events, err := h.scenarios.ReadEventsSince(r.Context(), chi.URLParam(r, "id"), fromSeq)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, toEventResponse(ev))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

type transitionRequest struct {
	NextStatus      string         `json:"next_status"`
	ExpectedVersion int            `json:"expected_version"`
	EventType       string         `json:"event_type,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
}

func (h *Handler) requestTransition(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorize(w, r, auth.ResourceScenarios, auth.ActionTransition)
	if !ok {
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "malformed request body")
		return
	}

	updated, err := h.scenarios.ApplyTransition(r.Context(), scenario.TransitionParams{
		ScenarioID:      chi.URLParam(r, "id"),
		NextStatus:      scenario.Status(req.NextStatus),
		ExpectedVersion: req.ExpectedVersion,
		EventType:       scenario.EventType(req.EventType),
		Payload:         req.Payload,
		ActorID:         actor.ID,
		CorrelationID:   correlation.From(r.Context()),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.Transitions.WithLabelValues(string(updated.Status)).Inc()
	}
	writeJSON(w, http.StatusOK, toScenarioResponse(updated))
}

func (h *Handler) deleteScenario(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.authorize(w, r, auth.ResourceScenarios, auth.ActionDelete)
	if !ok {
		return
	}

	err := h.scenarios.SoftDelete(r.Context(), chi.URLParam(r, "id"), actor.ID, correlation.From(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, auth.ResourceOutbox, auth.ActionRead); !ok {
		return
	}

	entries, err := h.deadLetters.ListDeadLettered(r.Context(), 100)
	if err != nil {
		h.logger.Error("list dead letters", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	type deadLetter struct {
		ID            int64  `json:"id"`
		ScenarioID    string `json:"scenario_id"`
		Sequence      int    `json:"sequence"`
		EventType     string `json:"event_type"`
		AttemptCount  int    `json:"attempt_count"`
		LastError     string `json:"last_error,omitempty"`
		CorrelationID string `json:"correlation_id"`
	}
	out := make([]deadLetter, 0, len(entries))
	for _, e := range entries {
		dl := deadLetter{
			ID:            e.ID,
			ScenarioID:    e.ScenarioID,
			Sequence:      e.Seq,
			EventType:     e.EventType,
			AttemptCount:  e.AttemptCount,
			CorrelationID: e.CorrelationID,
		}
		if e.LastError != nil {
			dl.LastError = *e.LastError
		}
		out = append(out, dl)
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": out})
}

func (h *Handler) requeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r, auth.ResourceOutbox, auth.ActionOperate); !ok {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid dead-letter id")
		return
	}

	if err := h.deadLetters.Requeue(r.Context(), id); err != nil {
		if errors.Is(err, outbox.ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "dead-letter entry not found")
			return
		}
		h.logger.Error("requeue dead letter", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "malformed request body")
		return
	}

	user, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrDuplicateEmail) {
			writeError(w, http.StatusConflict, "conflict", "email already registered")
			return
		}
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":    user.ID,
		"email": user.Email,
		"role":  string(user.Role),
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "malformed request body")
		return
	}

	result, err := h.accounts.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
			return
		}
		h.logger.Error("login", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user": map[string]any{
			"id":    result.User.ID,
			"email": result.User.Email,
			"role":  string(result.User.Role),
		},
	})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	user, err := h.accounts.GetUserByID(r.Context(), actor.ID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "account not found")
			return
		}
		h.logger.Error("lookup account", "user_id", actor.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        user.ID,
		"email":     user.Email,
		"full_name": user.FullName,
		"role":      string(user.Role),
	})
}

// authorize resolves the actor and runs the permission check, writing the
// error response itself when the caller may not proceed.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, resource, action string) (auth.Actor, bool) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return auth.Actor{}, false
	}
	if !h.authorizer.Authorize(r.Context(), actor, resource, action) {
		writeError(w, http.StatusForbidden, "forbidden", "insufficient permissions")
		return auth.Actor{}, false
	}
	return actor, true
}
