// The worker binary runs the outbox dispatcher without the HTTP API, for
// deployments that separate ingress from event delivery.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loanflow/config"
	"loanflow/db"
	"loanflow/lifecycle"
	"loanflow/metrics"
	"loanflow/outbox"
	"loanflow/scenario"
	"loanflow/subscriber"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg := config.FromEnv()
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	registry := subscriber.NewRegistry()
	if err := subscriber.WireCollaborators(registry, subscriber.CollaboratorConfig{
		CleaningURL: cfg.CleaningURL,
		DecisionURL: cfg.DecisionURL,
		InsightURL:  cfg.InsightURL,
		Timeout:     cfg.DeliveryTimeout,
	}); err != nil {
		return err
	}
	logger.Info("collaborators wired", "event_types", registry.EventTypes())

	dispatcher := outbox.NewDispatcher(outbox.NewRepository(pool), registry, logger,
		outbox.WithInterval(cfg.DispatchInterval),
		outbox.WithAttemptTimeout(cfg.DeliveryTimeout),
		outbox.WithWorkers(cfg.DispatchWorkers),
		outbox.WithMaxAttempts(cfg.MaxAttempts),
		outbox.WithObserver(metrics.New()),
	)

	supervisor := lifecycle.NewSupervisor(logger)
	supervisor.Add("outbox-dispatcher", dispatcher.Run)

	if cfg.EventRetention > 0 {
		scenarios := scenario.NewService(pool, scenario.NewRepository(pool))
		supervisor.Add("event-pruner", func(ctx context.Context) error {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					pruned, err := scenarios.PruneArchivedEvents(ctx, cfg.EventRetention)
					if err != nil {
						logger.Error("prune archived events", "error", err)
						continue
					}
					if pruned > 0 {
						logger.Info("pruned archived event history", "events", pruned)
					}
				}
			}
		})
	}

	return supervisor.Run(ctx)
}
