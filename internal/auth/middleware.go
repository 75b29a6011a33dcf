package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// HeaderClientID carries the caller's client identity on every API request.
const HeaderClientID = "x-pagopa-extch-cx-id"

// HeaderAPIKey carries the raw API key when no session token is used.
const HeaderAPIKey = "x-api-key"

type contextKey string

const clientIDKey contextKey = "client_id"

// clientSlot holds the authenticated identity behind a pointer: middleware
// that runs before authentication (the access log) installs an empty slot,
// ClientAuth fills it in, and the outer middleware reads it back after the
// handler returns.
type clientSlot struct {
	id string
}

// CaptureClientID installs an empty client slot in the context so an
// enclosing middleware can observe the identity once ClientAuth has run.
func CaptureClientID(ctx context.Context) context.Context {
	return context.WithValue(ctx, clientIDKey, &clientSlot{})
}

// withClientID records the authenticated client ID, reusing a captured slot
// when one is present.
func withClientID(ctx context.Context, id string) context.Context {
	if slot, ok := ctx.Value(clientIDKey).(*clientSlot); ok {
		slot.id = id
		return ctx
	}
	return context.WithValue(ctx, clientIDKey, &clientSlot{id: id})
}

// ClientIDFromContext retrieves the authenticated client ID, or "" when the
// request was not authenticated.
func ClientIDFromContext(ctx context.Context) string {
	if slot, ok := ctx.Value(clientIDKey).(*clientSlot); ok {
		return slot.id
	}
	return ""
}

// ClientAuth authenticates requests either with a Bearer session token or
// with the client-ID and API-key header pair. The authenticated client ID is
// stored in the request context; it must match the client-ID header when
// both are present.
func ClientAuth(registry *Registry, jwts *JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := r.Header.Get(HeaderClientID)

			if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
				claims, err := jwts.Validate(strings.TrimPrefix(authz, "Bearer "))
				if err != nil {
					unauthorized(w, err.Error())
					return
				}
				// A token outlives its client's registration; re-check it.
				if !registry.Known(claims.ClientID) {
					unauthorized(w, "unknown client")
					return
				}
				if clientID != "" && clientID != claims.ClientID {
					unauthorized(w, "client id does not match token")
					return
				}
				next.ServeHTTP(w, r.WithContext(withClientID(r.Context(), claims.ClientID)))
				return
			}

			apiKey := r.Header.Get(HeaderAPIKey)
			if clientID == "" || apiKey == "" {
				unauthorized(w, "missing credentials")
				return
			}
			if err := registry.Authenticate(clientID, apiKey); err != nil {
				unauthorized(w, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(withClientID(r.Context(), clientID)))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
