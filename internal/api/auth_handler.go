package api

import (
	"net/http"

	"github.com/evicertia/pn-ec/internal/auth"
)

// TokenHandler exchanges a client-ID and API-key header pair for a session
// token, so callers can avoid presenting the raw key on every request.
func TokenHandler(registry *auth.Registry, jwts *auth.JWTService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID := r.Header.Get(auth.HeaderClientID)
		apiKey := r.Header.Get(auth.HeaderAPIKey)
		if clientID == "" || apiKey == "" {
			respondProblem(w, r, http.StatusBadRequest, "missing credentials")
			return
		}

		if err := registry.Authenticate(clientID, apiKey); err != nil {
			respondProblem(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		token, err := jwts.Generate(clientID)
		if err != nil {
			respondProblem(w, r, http.StatusInternalServerError, "token generation failed")
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"token": token})
	}
}
