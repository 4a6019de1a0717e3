package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository implements Repository backed by PostgreSQL. Write methods take
// the caller's pgx.Tx so status update, event append, and outbox enqueue share
// one transaction.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed scenario repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const scenarioColumns = `id, owner_user_id, status::text, loan_data, version, created_at, updated_at, deleted_at`

// Insert writes a new scenario row. The caller supplies id, owner, loan data,
// and initial status/version.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, s Scenario) (Scenario, error) {
	const insertSQL = `
		INSERT INTO scenarios (id, owner_user_id, status, loan_data, version)
		VALUES ($1, $2, $3::scenario_status, $4::jsonb, $5)
		RETURNING ` + scenarioColumns

	created, err := scanScenario(tx.QueryRow(ctx, insertSQL, s.ID, s.OwnerUserID, s.Status, s.LoanData, s.Version))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Scenario{}, fmt.Errorf("scenario: duplicate id %s", s.ID)
		}
		return Scenario{}, fmt.Errorf("scenario: insert: %w", err)
	}
	return created, nil
}

// GetForUpdate loads a scenario row with a row lock, soft-deleted rows
// included so the service can distinguish deletion from absence.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Scenario, error) {
	const selectSQL = `SELECT ` + scenarioColumns + ` FROM scenarios WHERE id = $1 FOR UPDATE`

	s, err := scanScenario(tx.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Scenario{}, ErrNotFound
		}
		return Scenario{}, fmt.Errorf("scenario: get for update: %w", err)
	}
	return s, nil
}

// UpdateStatus moves the scenario to next and bumps the version. The version
// guard in the WHERE clause backstops the in-memory check under the row lock.
func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, next Status, expectedVersion int) (Scenario, error) {
	const updateSQL = `
		UPDATE scenarios
		SET status = $1::scenario_status,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $2 AND version = $3 AND deleted_at IS NULL
		RETURNING ` + scenarioColumns

	s, err := scanScenario(tx.QueryRow(ctx, updateSQL, next, id, expectedVersion))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Scenario{}, &ConflictError{ScenarioID: id, ExpectedVersion: expectedVersion}
		}
		return Scenario{}, fmt.Errorf("scenario: update status: %w", err)
	}
	return s, nil
}

// MarkDeleted sets the soft-delete marker. Event history is retained.
func (r *PGRepository) MarkDeleted(ctx context.Context, tx pgx.Tx, id string) (Scenario, error) {
	const deleteSQL = `
		UPDATE scenarios
		SET deleted_at = now(),
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + scenarioColumns

	s, err := scanScenario(tx.QueryRow(ctx, deleteSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Scenario{}, ErrNotFound
		}
		return Scenario{}, fmt.Errorf("scenario: mark deleted: %w", err)
	}
	return s, nil
}

// AppendEventParams carries one audit-trail append.
type AppendEventParams struct {
	ScenarioID    string
	Type          EventType
	Payload       map[string]any
	ActorID       string
	CorrelationID string
}

// AppendEvent inserts the next event for the scenario. The sequence number is
// computed inside the caller's transaction; the scenario row lock held by
// GetForUpdate serializes concurrent writers, and the unique index on
// (scenario_id, seq) backstops any gap in that protection.
func (r *PGRepository) AppendEvent(ctx context.Context, tx pgx.Tx, params AppendEventParams) (Event, error) {
	payload := params.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("scenario: marshal event payload: %w", err)
	}

	var actor any
	if params.ActorID != "" {
		actor = params.ActorID
	}

	const insertSQL = `
		INSERT INTO scenario_events (scenario_id, seq, type, payload, actor_id, correlation_id)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3::jsonb, $4, $5
		FROM scenario_events
		WHERE scenario_id = $1
		RETURNING id, scenario_id, seq, type, payload, actor_id, correlation_id, created_at
	`

	ev, err := scanEvent(tx.QueryRow(ctx, insertSQL, params.ScenarioID, params.Type, body, actor, params.CorrelationID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Event{}, fmt.Errorf("scenario: concurrent event append on %s", params.ScenarioID)
		}
		return Event{}, fmt.Errorf("scenario: append event: %w", err)
	}
	return ev, nil
}

// EnqueueOutbox records the event for asynchronous delivery in the same
// transaction as the event append.
func (r *PGRepository) EnqueueOutbox(ctx context.Context, tx pgx.Tx, ev Event) error {
	const insertSQL = `
		INSERT INTO outbox (event_id, scenario_id, seq, event_type, payload, correlation_id)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
	`

	if _, err := tx.Exec(ctx, insertSQL, ev.ID, ev.ScenarioID, ev.Seq, ev.Type, ev.Payload, ev.CorrelationID); err != nil {
		return fmt.Errorf("scenario: enqueue outbox: %w", err)
	}
	return nil
}

// Get returns an active scenario by id. Soft-deleted rows are excluded.
func (r *PGRepository) Get(ctx context.Context, id string) (Scenario, error) {
	const selectSQL = `SELECT ` + scenarioColumns + ` FROM scenarios WHERE id = $1 AND deleted_at IS NULL`

	s, err := scanScenario(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Scenario{}, ErrNotFound
		}
		return Scenario{}, fmt.Errorf("scenario: get: %w", err)
	}
	return s, nil
}

// ListEventsSince returns the scenario's events with seq > fromSeq in seq
// order. Subscribers use it to resume delivery after a crash.
func (r *PGRepository) ListEventsSince(ctx context.Context, scenarioID string, fromSeq int) ([]Event, error) {
	const selectSQL = `
		SELECT id, scenario_id, seq, type, payload, actor_id, correlation_id, created_at
		FROM scenario_events
		WHERE scenario_id = $1 AND seq > $2
		ORDER BY seq ASC
	`

	rows, err := r.pool.Query(ctx, selectSQL, scenarioID, fromSeq)
	if err != nil {
		return nil, fmt.Errorf("scenario: list events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, 8)
	for rows.Next() {
		ev, err := scanEventRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scenario: scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scenario: iterate events: %w", err)
	}
	return events, nil
}

// PruneArchivedEvents removes event history for scenarios archived before the
// cutoff. Delivered outbox rows referencing those events go with them. This is
// maintenance, not part of the transactional write path.
func (r *PGRepository) PruneArchivedEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	const pruneOutboxSQL = `
		DELETE FROM outbox o
		USING scenarios s
		WHERE o.scenario_id = s.id
		  AND s.status = 'archived'
		  AND s.updated_at < $1
		  AND o.delivery_state IN ('delivered', 'dead_lettered')
	`
	const pruneEventsSQL = `
		DELETE FROM scenario_events e
		USING scenarios s
		WHERE e.scenario_id = s.id
		  AND s.status = 'archived'
		  AND s.updated_at < $1
		  AND NOT EXISTS (SELECT 1 FROM outbox o WHERE o.scenario_id = s.id)
	`

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("scenario: prune begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, pruneOutboxSQL, cutoff); err != nil {
		return 0, fmt.Errorf("scenario: prune outbox: %w", err)
	}
	tag, err := tx.Exec(ctx, pruneEventsSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("scenario: prune events: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("scenario: prune commit: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanScenario(row pgx.Row) (Scenario, error) {
	var s Scenario
	err := row.Scan(
		&s.ID,
		&s.OwnerUserID,
		&s.Status,
		&s.LoanData,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.DeletedAt,
	)
	if err != nil {
		return Scenario{}, err
	}
	return s, nil
}

func scanEvent(row pgx.Row) (Event, error) {
	var ev Event
	err := row.Scan(
		&ev.ID,
		&ev.ScenarioID,
		&ev.Seq,
		&ev.Type,
		&ev.Payload,
		&ev.ActorID,
		&ev.CorrelationID,
		&ev.CreatedAt,
	)
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}

func scanEventRows(rows pgx.Rows) (Event, error) {
	var ev Event
	err := rows.Scan(
		&ev.ID,
		&ev.ScenarioID,
		&ev.Seq,
		&ev.Type,
		&ev.Payload,
		&ev.ActorID,
		&ev.CorrelationID,
		&ev.CreatedAt,
	)
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}
