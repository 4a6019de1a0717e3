package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"loanflow/subscriber"
)

// Repository defines the data access required by the dispatcher.
type Repository interface {
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]Entry, error)
	MarkDelivered(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, nextAttemptAt time.Time, lastError string, deadLetter bool) error
	CountUndelivered(ctx context.Context) (int64, error)
}

// Observer receives delivery outcomes for instrumentation.
type Observer interface {
	DeliverySucceeded(eventType string)
	DeliveryRetried(eventType string)
	DeadLettered(eventType string)
	BacklogDepth(depth int64)
}

type noopObserver struct{}

func (noopObserver) DeliverySucceeded(string) {}
func (noopObserver) DeliveryRetried(string)   {}
func (noopObserver) DeadLettered(string)      {}
func (noopObserver) BacklogDepth(int64)       {}

// Dispatcher drains the outbox: it repeatedly claims due entries and invokes
// the registered handlers, retrying with backoff and dead-lettering after
// maxAttempts. Claims return at most one entry per scenario (the lowest
// undelivered sequence), so running a batch in parallel never reorders one
// scenario's events.
type Dispatcher struct {
	repo     Repository
	registry *subscriber.Registry
	logger   *slog.Logger
	observer Observer

	interval       time.Duration
	attemptTimeout time.Duration
	maxAttempts    int
	batchSize      int
	workers        int

	backoff func(attempt int) time.Duration
	now     func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithInterval(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.interval = d }
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.attemptTimeout = d }
}

func WithMaxAttempts(n int) Option {
	return func(disp *Dispatcher) { disp.maxAttempts = n }
}

func WithBatchSize(n int) Option {
	return func(disp *Dispatcher) { disp.batchSize = n }
}

func WithWorkers(n int) Option {
	return func(disp *Dispatcher) { disp.workers = n }
}

func WithObserver(o Observer) Option {
	return func(disp *Dispatcher) { disp.observer = o }
}

func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(disp *Dispatcher) { disp.backoff = fn }
}

func WithClock(now func() time.Time) Option {
	return func(disp *Dispatcher) { disp.now = now }
}

// NewDispatcher builds a dispatcher with production defaults: 1s poll
// interval, 10s per-attempt timeout, 10 attempts before dead-letter, a batch
// of 32, and 4 delivery workers.
func NewDispatcher(repo Repository, registry *subscriber.Registry, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		repo:           repo,
		registry:       registry,
		logger:         logger,
		observer:       noopObserver{},
		interval:       time.Second,
		attemptTimeout: 10 * time.Second,
		maxAttempts:    10,
		batchSize:      32,
		workers:        4,
		backoff:        backoffDelay,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run polls until ctx is cancelled. In-flight delivery attempts finish before
// Run returns, which is what makes draining safe.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("outbox batch failed", "error", err)
			}
			if depth, err := d.repo.CountUndelivered(ctx); err == nil {
				d.observer.BacklogDepth(depth)
			}
		}
	}
}

// ProcessOnce claims one batch of due entries and delivers them, returning
// the number of entries attempted. Entries in a batch belong to distinct
// scenarios, so they fan out across the worker pool.
func (d *Dispatcher) ProcessOnce(ctx context.Context) (int, error) {
	// The claim lease must outlive the attempt so another dispatcher process
	// cannot re-claim an entry that is still being delivered here.
	entries, err := d.repo.ClaimDue(ctx, d.batchSize, 2*d.attemptTimeout)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(d.workers)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			d.deliver(ctx, entry)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(entries), err
	}
	return len(entries), nil
}

// deliver attempts the entry once against every handler registered for its
// event type. All must acknowledge for the entry to be marked delivered.
func (d *Dispatcher) deliver(ctx context.Context, entry Entry) {
	handlers := d.registry.HandlersFor(entry.EventType)

	attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()

	envelope := entry.Envelope()
	var deliveryErr error
	for _, h := range handlers {
		if err := h.Handle(attemptCtx, envelope); err != nil {
			deliveryErr = fmt.Errorf("%s: %w", h.Name(), err)
			break
		}
	}

	if deliveryErr == nil {
		if err := d.repo.MarkDelivered(ctx, entry.ID); err != nil {
			d.logger.Error("mark delivered failed",
				"outbox_id", entry.ID,
				"scenario_id", entry.ScenarioID,
				"error", err,
			)
			return
		}
		d.observer.DeliverySucceeded(entry.EventType)
		return
	}

	attempt := entry.AttemptCount + 1
	deadLetter := attempt >= d.maxAttempts
	nextAttempt := d.now().Add(d.backoff(attempt))

	if err := d.repo.MarkFailed(ctx, entry.ID, nextAttempt, deliveryErr.Error(), deadLetter); err != nil {
		d.logger.Error("mark failed failed",
			"outbox_id", entry.ID,
			"scenario_id", entry.ScenarioID,
			"error", err,
		)
		return
	}

	if deadLetter {
		d.observer.DeadLettered(entry.EventType)
		d.logger.Error("outbox entry dead-lettered",
			"outbox_id", entry.ID,
			"scenario_id", entry.ScenarioID,
			"seq", entry.Seq,
			"event_type", entry.EventType,
			"attempts", attempt,
			"correlation_id", entry.CorrelationID,
			"error", deliveryErr,
		)
		return
	}

	d.observer.DeliveryRetried(entry.EventType)
	d.logger.Warn("outbox delivery failed, will retry",
		"outbox_id", entry.ID,
		"scenario_id", entry.ScenarioID,
		"seq", entry.Seq,
		"attempt", attempt,
		"next_attempt_at", nextAttempt,
		"correlation_id", entry.CorrelationID,
		"error", deliveryErr,
	)
}
