package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loanflow/auth"
	"loanflow/config"
	"loanflow/db"
	"loanflow/httpapi"
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
		logger.Error("server exited", "error", err)
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

	m := metrics.New()

	scenarioRepo := scenario.NewRepository(pool)
	scenarios := scenario.NewService(pool, scenarioRepo)

	authRepo := auth.NewRepository(pool)
	accounts := auth.NewService(authRepo, cfg.JWTSecret)

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

	outboxRepo := outbox.NewRepository(pool)
	dispatcher := outbox.NewDispatcher(outboxRepo, registry, logger,
		outbox.WithInterval(cfg.DispatchInterval),
		outbox.WithAttemptTimeout(cfg.DeliveryTimeout),
		outbox.WithWorkers(cfg.DispatchWorkers),
		outbox.WithMaxAttempts(cfg.MaxAttempts),
		outbox.WithObserver(m),
	)

	supervisor := lifecycle.NewSupervisor(logger)

	handler := httpapi.NewHandler(scenarios, accounts, auth.NewRoleAuthorizer(), outboxRepo, m, logger)
	router := httpapi.NewRouter(handler, accounts, supervisor, logger)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	supervisor.Add("http", func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			logger.Info("http server listening", "addr", cfg.Addr)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
				return
			}
			errCh <- nil
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	})

	if cfg.RunDispatcher {
		supervisor.Add("outbox-dispatcher", dispatcher.Run)
	}

	return supervisor.Run(ctx)
}
