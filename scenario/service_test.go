package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func newTestService(repo *fakeRepo) (*Service, *fakePool) {
	pool := &fakePool{}
	svc := NewService(pool, repo).
		WithIDGenerator(func() string { return "scenario-1" }).
		WithClock(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) })
	return svc, pool
}

func TestCreate_Success(t *testing.T) {
	repo := newFakeRepo()
	svc, pool := newTestService(repo)

	created, err := svc.Create(context.Background(), CreateParams{
		OwnerUserID:   "user-1",
		LoanData:      json.RawMessage(`{"borrower":{"name":"Alex"}}`),
		ActorID:       "user-1",
		CorrelationID: "corr-1",
	})
	if err != nil {
		t.Fatalf("create: unexpected error: %v", err)
	}
	if created.Status != StatusDraft {
		t.Fatalf("expected draft, got %s", created.Status)
	}
	if created.Version != 1 {
		t.Fatalf("expected version 1, got %d", created.Version)
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
	if len(repo.events) != 1 || repo.events[0].Type != EventTypeCreated || repo.events[0].Seq != 1 {
		t.Fatalf("expected one Created event at seq 1, got %+v", repo.events)
	}
	if len(repo.outbox) != 1 {
		t.Fatalf("expected one outbox entry, got %d", len(repo.outbox))
	}
	if repo.events[0].CorrelationID != "corr-1" {
		t.Errorf("expected correlation id to thread into event, got %q", repo.events[0].CorrelationID)
	}
}

func TestCreate_Validation(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo)

	cases := []struct {
		name   string
		params CreateParams
	}{
		{"missing owner", CreateParams{LoanData: json.RawMessage(`{}`)}},
		{"empty loan data", CreateParams{OwnerUserID: "user-1"}},
		{"loan data not an object", CreateParams{OwnerUserID: "user-1", LoanData: json.RawMessage(`[1,2]`)}},
		{"loan data null", CreateParams{OwnerUserID: "user-1", LoanData: json.RawMessage(`null`)}},
		{"loan data malformed", CreateParams{OwnerUserID: "user-1", LoanData: json.RawMessage(`{"x":`)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tc.params); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
	if len(repo.events) != 0 || len(repo.outbox) != 0 {
		t.Fatal("expected no writes on validation failure")
	}
}

func TestApplyTransition_Success(t *testing.T) {
	repo := newFakeRepo()
	repo.scenarios["scenario-1"] = Scenario{ID: "scenario-1", OwnerUserID: "user-1", Status: StatusDraft, Version: 1}
	svc, pool := newTestService(repo)

	updated, err := svc.ApplyTransition(context.Background(), TransitionParams{
		ScenarioID:      "scenario-1",
		NextStatus:      StatusSubmitted,
		ExpectedVersion: 1,
		ActorID:         "user-1",
		CorrelationID:   "corr-2",
	})
	if err != nil {
		t.Fatalf("transition: unexpected error: %v", err)
	}
	if updated.Status != StatusSubmitted || updated.Version != 2 {
		t.Fatalf("expected submitted v2, got %s v%d", updated.Status, updated.Version)
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
	if len(repo.events) != 1 || repo.events[0].Type != EventTypeStatusChanged {
		t.Fatalf("expected one StatusChanged event, got %+v", repo.events)
	}
	var payload map[string]any
	if err := json.Unmarshal(repo.events[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["previous_status"] != "draft" || payload["next_status"] != "submitted" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if len(repo.outbox) != 1 {
		t.Fatalf("expected one outbox entry, got %d", len(repo.outbox))
	}
}

func TestApplyTransition_IllegalTransition(t *testing.T) {
	repo := newFakeRepo()
	repo.scenarios["scenario-1"] = Scenario{ID: "scenario-1", Status: StatusDraft, Version: 1}
	svc, pool := newTestService(repo)

	_, err := svc.ApplyTransition(context.Background(), TransitionParams{
		ScenarioID:      "scenario-1",
		NextStatus:      StatusProcessing,
		ExpectedVersion: 1,
	})
	if !IsIllegalTransition(err) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}
	if pool.tx.committed {
		t.Error("expected no commit on denial")
	}
	if len(repo.events) != 0 || len(repo.outbox) != 0 {
		t.Fatal("expected no event or outbox writes on denial")
	}
}

func TestApplyTransition_Conflict(t *testing.T) {
	repo := newFakeRepo()
	repo.scenarios["scenario-1"] = Scenario{ID: "scenario-1", Status: StatusSubmitted, Version: 3}
	svc, pool := newTestService(repo)

	_, err := svc.ApplyTransition(context.Background(), TransitionParams{
		ScenarioID:      "scenario-1",
		NextStatus:      StatusProcessing,
		ExpectedVersion: 2,
	})
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if ce.CurrentVersion != 3 || ce.CurrentStatus != StatusSubmitted {
		t.Fatalf("expected conflict to carry stored state, got %+v", ce)
	}
	if pool.tx.committed {
		t.Error("expected no commit on conflict")
	}
	if len(repo.events) != 0 {
		t.Fatal("expected no event for the conflict loser")
	}
}

func TestApplyTransition_SoftDeletedIsNotFound(t *testing.T) {
	deletedAt := time.Now()
	repo := newFakeRepo()
	repo.scenarios["scenario-1"] = Scenario{ID: "scenario-1", Status: StatusDraft, Version: 1, DeletedAt: &deletedAt}
	svc, _ := newTestService(repo)

	_, err := svc.ApplyTransition(context.Background(), TransitionParams{
		ScenarioID:      "scenario-1",
		NextStatus:      StatusSubmitted,
		ExpectedVersion: 1,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for soft-deleted scenario, got %v", err)
	}
}

func TestApplyTransition_UnknownScenario(t *testing.T) {
	svc, _ := newTestService(newFakeRepo())

	_, err := svc.ApplyTransition(context.Background(), TransitionParams{
		ScenarioID:      "missing",
		NextStatus:      StatusSubmitted,
		ExpectedVersion: 1,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyTransition_CustomEventType(t *testing.T) {
	repo := newFakeRepo()
	repo.scenarios["scenario-1"] = Scenario{ID: "scenario-1", Status: StatusSubmitted, Version: 2}
	svc, _ := newTestService(repo)

	_, err := svc.ApplyTransition(context.Background(), TransitionParams{
		ScenarioID:      "scenario-1",
		NextStatus:      StatusProcessing,
		ExpectedVersion: 2,
		EventType:       EventTypeDataReady,
	})
	if err != nil {
		t.Fatalf("transition: unexpected error: %v", err)
	}
	if repo.events[0].Type != EventTypeDataReady {
		t.Fatalf("expected DataReady event, got %s", repo.events[0].Type)
	}
}

func TestSoftDelete_AppendsDeletedEvent(t *testing.T) {
	repo := newFakeRepo()
	repo.scenarios["scenario-1"] = Scenario{ID: "scenario-1", Status: StatusProcessing, Version: 2}
	svc, pool := newTestService(repo)

	if err := svc.SoftDelete(context.Background(), "scenario-1", "admin-1", "corr-3"); err != nil {
		t.Fatalf("soft delete: unexpected error: %v", err)
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
	if repo.scenarios["scenario-1"].DeletedAt == nil {
		t.Fatal("expected deletion marker to be set")
	}
	if len(repo.events) != 1 || repo.events[0].Type != EventTypeDeleted {
		t.Fatalf("expected one Deleted event, got %+v", repo.events)
	}
	if len(repo.outbox) != 1 {
		t.Fatalf("expected one outbox entry, got %d", len(repo.outbox))
	}

	// Frozen afterwards.
	if err := svc.SoftDelete(context.Background(), "scenario-1", "admin-1", "corr-4"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

// --- fakes ---

type fakeRepo struct {
	scenarios map[string]Scenario
	events    []Event
	outbox    []Event
	nextSeq   map[string]int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		scenarios: map[string]Scenario{},
		nextSeq:   map[string]int{},
	}
}

func (f *fakeRepo) Insert(ctx context.Context, tx pgx.Tx, s Scenario) (Scenario, error) {
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	f.scenarios[s.ID] = s
	return s, nil
}

func (f *fakeRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Scenario, error) {
	s, ok := f.scenarios[id]
	if !ok {
		return Scenario{}, ErrNotFound
	}
	return s, nil
}

func (f *fakeRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, next Status, expectedVersion int) (Scenario, error) {
	s := f.scenarios[id]
	if s.Version != expectedVersion {
		return Scenario{}, &ConflictError{ScenarioID: id, ExpectedVersion: expectedVersion, CurrentVersion: s.Version, CurrentStatus: s.Status}
	}
	s.Status = next
	s.Version++
	f.scenarios[id] = s
	return s, nil
}

func (f *fakeRepo) MarkDeleted(ctx context.Context, tx pgx.Tx, id string) (Scenario, error) {
	s, ok := f.scenarios[id]
	if !ok || s.DeletedAt != nil {
		return Scenario{}, ErrNotFound
	}
	now := time.Now()
	s.DeletedAt = &now
	s.Version++
	f.scenarios[id] = s
	return s, nil
}

func (f *fakeRepo) AppendEvent(ctx context.Context, tx pgx.Tx, params AppendEventParams) (Event, error) {
	body, err := json.Marshal(params.Payload)
	if err != nil {
		return Event{}, err
	}
	f.nextSeq[params.ScenarioID]++
	var actor *string
	if params.ActorID != "" {
		actor = &params.ActorID
	}
	ev := Event{
		ID:            int64(len(f.events) + 1),
		ScenarioID:    params.ScenarioID,
		Seq:           f.nextSeq[params.ScenarioID],
		Type:          params.Type,
		Payload:       body,
		ActorID:       actor,
		CorrelationID: params.CorrelationID,
		CreatedAt:     time.Now(),
	}
	f.events = append(f.events, ev)
	return ev, nil
}

func (f *fakeRepo) EnqueueOutbox(ctx context.Context, tx pgx.Tx, ev Event) error {
	f.outbox = append(f.outbox, ev)
	return nil
}

func (f *fakeRepo) Get(ctx context.Context, id string) (Scenario, error) {
	s, ok := f.scenarios[id]
	if !ok || s.DeletedAt != nil {
		return Scenario{}, ErrNotFound
	}
	return s, nil
}

func (f *fakeRepo) ListEventsSince(ctx context.Context, scenarioID string, fromSeq int) ([]Event, error) {
	out := []Event{}
	for _, ev := range f.events {
		if ev.ScenarioID == scenarioID && ev.Seq > fromSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeRepo) PruneArchivedEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
