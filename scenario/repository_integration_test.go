package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// TestScenarioLifecycle_Integration runs against a real PostgreSQL via
// DATABASE_URL and verifies the transactional write path end to end:
// sequence contiguity, optimistic-version conflicts, and soft-delete freezing.
func TestScenarioLifecycle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "scenarios") || !tableExists(ctx, t, pool, "scenario_events") || !tableExists(ctx, t, pool, "outbox") {
		t.Skip("database schema missing; apply migrations first")
	}

	repo := NewRepository(pool)
	svc := NewService(pool, repo)

	loanData := json.RawMessage(`{"title":"Loan A","borrower":{"name":"Alex","income":90000},"property":{"zip":"11201"},"loan":{"amount":450000}}`)
	created, err := svc.Create(ctx, CreateParams{
		OwnerUserID:   "11111111-1111-1111-1111-111111111111",
		LoanData:      loanData,
		ActorID:       "11111111-1111-1111-1111-111111111111",
		CorrelationID: "itest-corr-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM outbox WHERE scenario_id = $1`, created.ID)
		pool.Exec(ctx2, `DELETE FROM scenario_events WHERE scenario_id = $1`, created.ID)
		pool.Exec(ctx2, `DELETE FROM scenarios WHERE id = $1`, created.ID)
	})

	if created.Status != StatusDraft || created.Version != 1 {
		t.Fatalf("expected draft v1, got %s v%d", created.Status, created.Version)
	}

	// draft -> submitted -> processing
	s, err := svc.ApplyTransition(ctx, TransitionParams{
		ScenarioID: created.ID, NextStatus: StatusSubmitted, ExpectedVersion: 1, CorrelationID: "itest-corr-1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	s, err = svc.ApplyTransition(ctx, TransitionParams{
		ScenarioID: created.ID, NextStatus: StatusProcessing, ExpectedVersion: 2, CorrelationID: "itest-corr-1",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if s.Version != 3 {
		t.Fatalf("expected version 3, got %d", s.Version)
	}

	// Stale version loses with Conflict and writes nothing.
	_, err = svc.ApplyTransition(ctx, TransitionParams{
		ScenarioID: created.ID, NextStatus: StatusEvaluated, ExpectedVersion: 2,
	})
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	events, err := svc.ReadEventsSince(ctx, created.ID, 0)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Seq != i+1 {
			t.Fatalf("expected contiguous sequence, got %d at position %d", ev.Seq, i)
		}
	}

	// Every event has exactly one outbox entry.
	var outboxCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE scenario_id = $1`, created.ID).Scan(&outboxCount); err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if outboxCount != 3 {
		t.Fatalf("expected 3 outbox entries, got %d", outboxCount)
	}

	// Soft delete freezes the scenario but keeps history.
	if err := svc.SoftDelete(ctx, created.ID, "", "itest-corr-1"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := svc.Get(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	_, err = svc.ApplyTransition(ctx, TransitionParams{
		ScenarioID: created.ID, NextStatus: StatusEvaluated, ExpectedVersion: 4,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on frozen scenario, got %v", err)
	}
	events, err = svc.ReadEventsSince(ctx, created.ID, 0)
	if err != nil {
		t.Fatalf("read events after delete: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected history retained with Deleted event, got %d events", len(events))
	}
}

// TestConcurrentTransitions_Integration races N writers on the same scenario
// with the same expected version: exactly one may win, the rest get Conflict,
// and the losers must not leave events behind.
func TestConcurrentTransitions_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "scenarios") {
		t.Skip("database schema missing; apply migrations first")
	}

	repo := NewRepository(pool)
	svc := NewService(pool, repo)

	created, err := svc.Create(ctx, CreateParams{
		OwnerUserID: "22222222-2222-2222-2222-222222222222",
		LoanData:    json.RawMessage(`{"borrower":{}}`),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM outbox WHERE scenario_id = $1`, created.ID)
		pool.Exec(ctx2, `DELETE FROM scenario_events WHERE scenario_id = $1`, created.ID)
		pool.Exec(ctx2, `DELETE FROM scenarios WHERE id = $1`, created.ID)
	})

	const writers = 8
	results := make(chan error, writers)
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			_, err := svc.ApplyTransition(ctx, TransitionParams{
				ScenarioID:      created.ID,
				NextStatus:      StatusSubmitted,
				ExpectedVersion: 1,
			})
			results <- err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("writers: %v", err)
	}
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error from racing writer: %v", err)
		}
	}
	if wins != 1 || conflicts != writers-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d/%d", writers-1, wins, conflicts)
	}

	events, err := svc.ReadEventsSince(ctx, created.ID, 0)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected Created plus one StatusChanged, got %d events", len(events))
	}
	for i, ev := range events {
		if ev.Seq != i+1 {
			t.Fatalf("sequence gap: got %d at position %d", ev.Seq, i)
		}
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
