package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loanflow/lifecycle"
)

// HealthReporter exposes the process state for the health endpoint.
type HealthReporter interface {
	Admitter
	State() lifecycle.State
}

// NewRouter wires the middleware stack and routes. Auth endpoints and probes
// are public; everything else requires a bearer token and is refused while
// the process drains.
func NewRouter(h *Handler, verifier TokenVerifier, health HealthReporter, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(CorrelationID)

	r.Post("/auth/register", h.register)
	r.Post("/auth/login", h.login)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		status := http.StatusOK
		if !health.Admit() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{"state": string(health.State())})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(Admission(health))
		r.Use(RequireAuth(verifier, logger))

		r.Get("/auth/me", h.me)

		r.Post("/scenarios", h.createScenario)
		r.Get("/scenarios/{id}", h.getScenario)
		r.Get("/scenarios/{id}/events", h.listEvents)
		r.Post("/scenarios/{id}/transitions", h.requestTransition)
		r.Delete("/scenarios/{id}", h.deleteScenario)

		r.Get("/outbox/dead-letters", h.listDeadLetters)
		r.Post("/outbox/dead-letters/{id}/requeue", h.requeueDeadLetter)
	})

	return r
}
