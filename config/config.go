package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures process-level configuration. Collaborator URLs are optional;
// a missing URL means that subscriber boundary is not wired in this deployment.
type Config struct {
	Addr        string
	DatabaseURL string
	JWTSecret   string

	DispatchInterval time.Duration
	DeliveryTimeout  time.Duration
	DispatchWorkers  int
	MaxAttempts      int
	RunDispatcher    bool

	// EventRetention > 0 enables pruning of archived scenarios' event history.
	EventRetention time.Duration

	CleaningURL string
	DecisionURL string
	InsightURL  string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:             envOr("LOANFLOW_ADDR", ":8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		JWTSecret:        envOr("JWT_SECRET", "dev-secret-change-in-production"),
		DispatchInterval: envDuration("OUTBOX_DISPATCH_INTERVAL", time.Second),
		DeliveryTimeout:  envDuration("OUTBOX_DELIVERY_TIMEOUT", 10*time.Second),
		DispatchWorkers:  envInt("OUTBOX_DISPATCH_WORKERS", 4),
		MaxAttempts:      envInt("OUTBOX_MAX_ATTEMPTS", 10),
		RunDispatcher:    os.Getenv("OUTBOX_DISPATCHER_DISABLED") != "true",
		EventRetention:   envDuration("SCENARIO_EVENT_RETENTION", 0),
		CleaningURL:      os.Getenv("COLLABORATOR_CLEANING_URL"),
		DecisionURL:      os.Getenv("COLLABORATOR_DECISION_URL"),
		InsightURL:       os.Getenv("COLLABORATOR_INSIGHT_URL"),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
