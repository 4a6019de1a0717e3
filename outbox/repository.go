package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEntryNotFound is returned when no outbox row matches the identifier.
var ErrEntryNotFound = errors.New("outbox: entry not found")

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed outbox repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const entryColumns = `id, event_id, scenario_id, seq, event_type, payload, correlation_id,
	delivery_state::text, attempt_count, next_attempt_at, last_error, created_at, delivered_at`

// ClaimDue claims retry-eligible entries for this process. Only the lowest
// undelivered sequence per scenario is eligible: an earlier entry still
// pending or backing off blocks its successors, which is what keeps delivery
// for one scenario in sequence order. SKIP LOCKED keeps concurrent claimers
// from blocking each other, and pushing next_attempt_at out by the lease
// stops a second dispatcher process from re-claiming an entry whose attempt
// is still in flight; MarkDelivered and MarkFailed overwrite the lease with
// the real outcome. A crashed claimer's entries become due again when the
// lease expires.
func (r *PGRepository) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]Entry, error) {
	const claimSQL = `
		WITH due AS (
		    SELECT o.id
		    FROM outbox o
		    WHERE o.delivery_state IN ('pending', 'failed')
		      AND o.next_attempt_at <= now()
		      AND NOT EXISTS (
		          SELECT 1 FROM outbox prior
		          WHERE prior.scenario_id = o.scenario_id
		            AND prior.seq < o.seq
		            AND prior.delivery_state IN ('pending', 'failed'))
		    ORDER BY o.next_attempt_at ASC
		    LIMIT $1
		    FOR UPDATE OF o SKIP LOCKED
		)
		UPDATE outbox
		SET next_attempt_at = now() + $2::interval
		FROM due
		WHERE outbox.id = due.id
		RETURNING outbox.id, outbox.event_id, outbox.scenario_id, outbox.seq,
		    outbox.event_type, outbox.payload, outbox.correlation_id,
		    outbox.delivery_state::text, outbox.attempt_count, outbox.next_attempt_at,
		    outbox.last_error, outbox.created_at, outbox.delivered_at
	`

	rows, err := r.pool.Query(ctx, claimSQL, limit, lease)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim due: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// MarkDelivered finalizes an entry after every handler acknowledged.
func (r *PGRepository) MarkDelivered(ctx context.Context, id int64) error {
	const updateSQL = `
		UPDATE outbox
		SET delivery_state = 'delivered',
		    attempt_count = attempt_count + 1,
		    last_error = NULL,
		    delivered_at = now()
		WHERE id = $1 AND delivery_state IN ('pending', 'failed')
	`

	tag, err := r.pool.Exec(ctx, updateSQL, id)
	if err != nil {
		return fmt.Errorf("outbox: mark delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// MarkFailed records a failed attempt and schedules the retry, or dead-letters
// the entry once retries are exhausted.
func (r *PGRepository) MarkFailed(ctx context.Context, id int64, nextAttemptAt time.Time, lastError string, deadLetter bool) error {
	state := StateFailed
	if deadLetter {
		state = StateDeadLettered
	}

	const updateSQL = `
		UPDATE outbox
		SET delivery_state = $2::outbox_delivery_state,
		    attempt_count = attempt_count + 1,
		    next_attempt_at = $3,
		    last_error = $4
		WHERE id = $1 AND delivery_state IN ('pending', 'failed')
	`

	tag, err := r.pool.Exec(ctx, updateSQL, id, state, nextAttemptAt, lastError)
	if err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// ListDeadLettered surfaces exhausted entries for operator attention.
func (r *PGRepository) ListDeadLettered(ctx context.Context, limit int) ([]Entry, error) {
	const selectSQL = `
		SELECT ` + entryColumns + `
		FROM outbox
		WHERE delivery_state = 'dead_lettered'
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, selectSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: list dead lettered: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// Requeue resets a dead-lettered entry for a fresh round of delivery attempts.
func (r *PGRepository) Requeue(ctx context.Context, id int64) error {
	const updateSQL = `
		UPDATE outbox
		SET delivery_state = 'pending',
		    attempt_count = 0,
		    next_attempt_at = now(),
		    last_error = NULL
		WHERE id = $1 AND delivery_state = 'dead_lettered'
	`

	tag, err := r.pool.Exec(ctx, updateSQL, id)
	if err != nil {
		return fmt.Errorf("outbox: requeue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// CountUndelivered reports the pending plus retrying backlog depth.
func (r *PGRepository) CountUndelivered(ctx context.Context) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE delivery_state IN ('pending', 'failed')`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("outbox: count undelivered: %w", err)
	}
	return count, nil
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	entries := make([]Entry, 0, 16)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID,
			&e.EventID,
			&e.ScenarioID,
			&e.Seq,
			&e.EventType,
			&e.Payload,
			&e.CorrelationID,
			&e.State,
			&e.AttemptCount,
			&e.NextAttemptAt,
			&e.LastError,
			&e.CreatedAt,
			&e.DeliveredAt,
		); err != nil {
			return nil, fmt.Errorf("outbox: scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate entries: %w", err)
	}
	return entries, nil
}
