package api

import (
	"context"
	"net/http"
)

// Pinger verifies a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthzHandler handles GET /healthz.
// Always returns 200 OK with {"status":"ok"}.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler handles GET /readyz.
// Pings the given dependencies; a nil pinger is skipped. Returns 200 if
// healthy, 503 with Retry-After header if any dependency is unreachable.
func ReadyzHandler(deps ...Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(r.Context()); err != nil {
				w.Header().Set("Retry-After", "30")
				respondProblem(w, r, http.StatusServiceUnavailable, "dependency unavailable")
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
