// Package actors provides the concurrent workload for the stress test. Each
// actor drives the real service layer, not raw SQL, so the stress run
// exercises the same code paths production traffic does.
package actors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"loanflow/outbox"
	"loanflow/scenario"
)

// IDSet is a concurrency-safe pool of scenario ids shared between actors.
type IDSet struct {
	mu  sync.RWMutex
	ids []string
}

func (s *IDSet) Add(id string) {
	s.mu.Lock()
	s.ids = append(s.ids, id)
	s.mu.Unlock()
}

func (s *IDSet) Random() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.ids) == 0 {
		return "", false
	}
	return s.ids[rand.Intn(len(s.ids))], true
}

// nextStatuses mirrors the legal lifecycle moves so transitioners mostly make
// valid requests; a slice of candidates per status keeps the walk random.
var nextStatuses = map[scenario.Status][]scenario.Status{
	scenario.StatusDraft:      {scenario.StatusSubmitted},
	scenario.StatusSubmitted:  {scenario.StatusProcessing},
	scenario.StatusProcessing: {scenario.StatusEvaluated, scenario.StatusError},
	scenario.StatusEvaluated:  {scenario.StatusArchived},
	scenario.StatusError:      {scenario.StatusDraft, scenario.StatusArchived},
}

// Creator opens new scenarios and registers them in the shared pool.
func Creator(ctx context.Context, svc *scenario.Service, ownerID string, ids *IDSet, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		loanData, _ := json.Marshal(map[string]any{
			"amount":     10000 + rand.Intn(500000),
			"term_years": 5 + rand.Intn(25),
		})
		created, err := svc.Create(ctx, scenario.CreateParams{
			OwnerUserID:   ownerID,
			LoanData:      loanData,
			ActorID:       ownerID,
			CorrelationID: fmt.Sprintf("stress-create-%d", rand.Int63()),
		})
		if err != nil {
			return fmt.Errorf("creator: %w", err)
		}
		ids.Add(created.ID)
		time.Sleep(time.Duration(20+rand.Intn(60)) * time.Millisecond)
	}
}

// Transitioner walks random scenarios through the lifecycle. Conflicts and
// illegal transitions are expected under contention and are not failures.
func Transitioner(ctx context.Context, svc *scenario.Service, actorID string, ids *IDSet, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		id, ok := ids.Random()
		if !ok {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		current, err := svc.Get(ctx, id)
		if err != nil {
			if errors.Is(err, scenario.ErrNotFound) {
				continue
			}
			return fmt.Errorf("transitioner get: %w", err)
		}

		candidates := nextStatuses[current.Status]
		if len(candidates) == 0 {
			continue
		}
		next := candidates[rand.Intn(len(candidates))]

		_, err = svc.ApplyTransition(ctx, scenario.TransitionParams{
			ScenarioID:      id,
			NextStatus:      next,
			ExpectedVersion: current.Version,
			ActorID:         actorID,
			CorrelationID:   fmt.Sprintf("stress-transition-%d", rand.Int63()),
		})
		switch {
		case err == nil:
		case scenario.IsConflict(err), scenario.IsIllegalTransition(err), errors.Is(err, scenario.ErrNotFound):
			// lost the race, fine
		default:
			return fmt.Errorf("transitioner apply: %w", err)
		}
		time.Sleep(time.Duration(5+rand.Intn(25)) * time.Millisecond)
	}
}

// Deleter occasionally soft-deletes a random scenario to exercise the frozen
// state under concurrent transitions.
func Deleter(ctx context.Context, svc *scenario.Service, actorID string, ids *IDSet, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		id, ok := ids.Random()
		if ok && rand.Intn(10) == 0 {
			err := svc.SoftDelete(ctx, id, actorID, fmt.Sprintf("stress-delete-%d", rand.Int63()))
			if err != nil && !errors.Is(err, scenario.ErrNotFound) {
				return fmt.Errorf("deleter: %w", err)
			}
		}
		time.Sleep(time.Duration(100+rand.Intn(200)) * time.Millisecond)
	}
}

// Reader replays event histories while writers are appending, checking the
// slice it sees is itself in order.
func Reader(ctx context.Context, svc *scenario.Service, ids *IDSet, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		id, ok := ids.Random()
		if ok {
			events, err := svc.ReadEventsSince(ctx, id, 0)
			if err != nil {
				return fmt.Errorf("reader: %w", err)
			}
			for i := 1; i < len(events); i++ {
				if events[i].Seq != events[i-1].Seq+1 {
					return fmt.Errorf("reader: gap in events for %s: %d then %d", id, events[i-1].Seq, events[i].Seq)
				}
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(70)) * time.Millisecond)
	}
}

// DispatchWorker drains the outbox in a loop, standing in for the production
// dispatcher's ticker.
func DispatchWorker(ctx context.Context, d *outbox.Dispatcher, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if _, err := d.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("dispatch worker: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}
