package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the data access required by the service. Write methods
// operate on the caller's transaction so one commit covers the status write,
// the event append, and the outbox enqueue.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, s Scenario) (Scenario, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Scenario, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, next Status, expectedVersion int) (Scenario, error)
	MarkDeleted(ctx context.Context, tx pgx.Tx, id string) (Scenario, error)
	AppendEvent(ctx context.Context, tx pgx.Tx, params AppendEventParams) (Event, error)
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, ev Event) error
	Get(ctx context.Context, id string) (Scenario, error)
	ListEventsSince(ctx context.Context, scenarioID string, fromSeq int) ([]Event, error)
	PruneArchivedEvents(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service owns the scenario lifecycle: creation, validated transitions,
// soft deletion, and the audit trail reads.
type Service struct {
	pool        TxBeginner
	repo        Repository
	idGenerator func() string
	now         func() time.Time
}

// NewService builds a Service. A nil repo is not substituted here because the
// repository needs the concrete pool for reads; pass NewRepository(pool).
func NewService(pool TxBeginner, repo Repository) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create opens a scenario in draft at version 1 and records the Created event
// plus its outbox entry in the same transaction.
func (s *Service) Create(ctx context.Context, params CreateParams) (Scenario, error) {
	if params.OwnerUserID == "" {
		return Scenario{}, fmt.Errorf("%w: owner user id required", ErrValidation)
	}
	if err := validateLoanData(params.LoanData); err != nil {
		return Scenario{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Scenario{}, fmt.Errorf("scenario: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Insert(ctx, tx, Scenario{
		ID:          s.idGenerator(),
		OwnerUserID: params.OwnerUserID,
		Status:      StatusDraft,
		LoanData:    params.LoanData,
		Version:     1,
	})
	if err != nil {
		return Scenario{}, err
	}

	ev, err := s.repo.AppendEvent(ctx, tx, AppendEventParams{
		ScenarioID:    created.ID,
		Type:          EventTypeCreated,
		Payload:       map[string]any{"status": string(created.Status), "owner_user_id": created.OwnerUserID},
		ActorID:       params.ActorID,
		CorrelationID: params.CorrelationID,
	})
	if err != nil {
		return Scenario{}, err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, ev); err != nil {
		return Scenario{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Scenario{}, fmt.Errorf("scenario: commit create: %w", err)
	}
	return created, nil
}

// Get returns an active scenario.
func (s *Service) Get(ctx context.Context, id string) (Scenario, error) {
	return s.repo.Get(ctx, id)
}

// ApplyTransition moves the scenario to params.NextStatus when the validator
// allows it and the stored version matches params.ExpectedVersion. The status
// write, the event append, and the outbox enqueue commit as one unit or not
// at all.
func (s *Service) ApplyTransition(ctx context.Context, params TransitionParams) (Scenario, error) {
	if params.ScenarioID == "" {
		return Scenario{}, fmt.Errorf("%w: scenario id required", ErrValidation)
	}
	if !params.NextStatus.IsValid() {
		return Scenario{}, ErrInvalidStatus
	}
	eventType := params.EventType
	if eventType == "" {
		eventType = EventTypeStatusChanged
	}
	if !eventType.IsValid() {
		return Scenario{}, fmt.Errorf("%w: unknown event type %q", ErrValidation, params.EventType)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Scenario{}, fmt.Errorf("scenario: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, params.ScenarioID)
	if err != nil {
		return Scenario{}, err
	}
	if current.DeletedAt != nil {
		return Scenario{}, ErrNotFound
	}
	if current.Version != params.ExpectedVersion {
		return Scenario{}, &ConflictError{
			ScenarioID:      current.ID,
			ExpectedVersion: params.ExpectedVersion,
			CurrentVersion:  current.Version,
			CurrentStatus:   current.Status,
		}
	}
	if err := Validate(current.Status, params.NextStatus); err != nil {
		return Scenario{}, err
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, current.ID, params.NextStatus, params.ExpectedVersion)
	if err != nil {
		return Scenario{}, err
	}

	payload := map[string]any{
		"previous_status": string(current.Status),
		"next_status":     string(params.NextStatus),
	}
	for k, v := range params.Payload {
		payload[k] = v
	}

	ev, err := s.repo.AppendEvent(ctx, tx, AppendEventParams{
		ScenarioID:    updated.ID,
		Type:          eventType,
		Payload:       payload,
		ActorID:       params.ActorID,
		CorrelationID: params.CorrelationID,
	})
	if err != nil {
		return Scenario{}, err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, ev); err != nil {
		return Scenario{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Scenario{}, fmt.Errorf("scenario: commit transition: %w", err)
	}
	return updated, nil
}

// SoftDelete freezes the scenario from further transitions without purging
// its event history. The deletion itself is audited like any other mutation.
func (s *Service) SoftDelete(ctx context.Context, id, actorID, correlationID string) error {
	if id == "" {
		return fmt.Errorf("%w: scenario id required", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("scenario: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	if current.DeletedAt != nil {
		return ErrNotFound
	}

	deleted, err := s.repo.MarkDeleted(ctx, tx, id)
	if err != nil {
		return err
	}

	ev, err := s.repo.AppendEvent(ctx, tx, AppendEventParams{
		ScenarioID:    deleted.ID,
		Type:          EventTypeDeleted,
		Payload:       map[string]any{"status": string(deleted.Status)},
		ActorID:       actorID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return err
	}
	if err := s.repo.EnqueueOutbox(ctx, tx, ev); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("scenario: commit delete: %w", err)
	}
	return nil
}

// ReadEventsSince returns the ordered events with seq > fromSeq. Soft-deleted
// scenarios retain their history, so no active check here.
func (s *Service) ReadEventsSince(ctx context.Context, scenarioID string, fromSeq int) ([]Event, error) {
	if scenarioID == "" {
		return nil, fmt.Errorf("%w: scenario id required", ErrValidation)
	}
	return s.repo.ListEventsSince(ctx, scenarioID, fromSeq)
}

// PruneArchivedEvents drops event history for scenarios archived longer than
// the retention horizon.
func (s *Service) PruneArchivedEvents(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("%w: retention must be positive", ErrValidation)
	}
	return s.repo.PruneArchivedEvents(ctx, s.now().Add(-retention))
}

func validateLoanData(raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: loan data required", ErrValidation)
	}
	// json.Unmarshal accepts "null" into a nil map, so check both.
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return fmt.Errorf("%w: loan data must be a JSON object", ErrValidation)
	}
	return nil
}
