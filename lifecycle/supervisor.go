// Package lifecycle owns the process state machine: Starting -> Running ->
// Draining -> Stopped. Draining stops admitting new work while in-flight
// outbox dispatch attempts and HTTP requests finish.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
)

type task struct {
	name string
	run  func(ctx context.Context) error
}

// Supervisor runs long-lived tasks and coordinates a clean drain when the
// parent context is cancelled.
type Supervisor struct {
	logger *slog.Logger

	mu    sync.RWMutex
	state State
	tasks []task
}

func NewSupervisor(logger *slog.Logger) *Supervisor {
	return &Supervisor{
		logger: logger,
		state:  StateStarting,
	}
}

// Add registers a task before Run is called. The task's run function must
// return once its context is cancelled and its in-flight work has finished.
func (s *Supervisor) Add(name string, run func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task{name: name, run: run})
}

// State returns the current process state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Admit reports whether new work may be accepted. Only a Running process
// admits; a draining one rejects so restarts can hand over cleanly.
func (s *Supervisor) Admit() bool {
	return s.State() == StateRunning
}

// Run starts every registered task and blocks until all have returned.
// Context cancellation moves the process to Draining; Run returns with the
// process Stopped and reports the first task failure, if any.
func (s *Supervisor) Run(ctx context.Context) error {
	s.setState(StateRunning)
	s.logger.Info("process running", "tasks", len(s.tasks))

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		t := t
		g.Go(func() error {
			err := t.run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("task failed", "task", t.name, "error", err)
				return err
			}
			s.logger.Info("task finished", "task", t.name)
			return nil
		})
	}

	go func() {
		<-gctx.Done()
		s.setState(StateDraining)
		s.logger.Info("process draining")
	}()

	err := g.Wait()
	s.setState(StateStopped)
	s.logger.Info("process stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
