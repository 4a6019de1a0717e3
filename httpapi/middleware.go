package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"loanflow/auth"
	"loanflow/correlation"
)

type contextKeyActor struct{}

// ActorFrom retrieves the authenticated actor from the request context.
func ActorFrom(ctx context.Context) (auth.Actor, bool) {
	actor, ok := ctx.Value(contextKeyActor{}).(auth.Actor)
	return actor, ok
}

// TokenVerifier is the identity-lookup boundary.
type TokenVerifier interface {
	VerifyToken(tokenString string) (auth.Actor, error)
}

// Admitter gates new work during process drain.
type Admitter interface {
	Admit() bool
}

// CorrelationID propagates the caller's X-Correlation-ID or mints one at
// this boundary. The id is echoed on the response and threaded through the
// whole event pipeline.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if id == "" {
			id = correlation.Mint()
		}
		ctx := correlation.With(r.Context(), id)
		w.Header().Set("X-Correlation-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Admission rejects new requests while the process is draining.
func Admission(gate Admitter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !gate.Admit() {
				writeError(w, http.StatusServiceUnavailable, "draining", "server is draining; retry against another instance")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth verifies the bearer token and stores the actor on the context.
func RequireAuth(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid Authorization header")
				return
			}

			actor, err := verifier.VerifyToken(token)
			if err != nil {
				logger.Warn("unauthorized access - invalid token",
					"error", err,
					"correlation_id", correlation.From(r.Context()),
				)
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyActor{}, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
