package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnknownClient is returned when authentication fails, covering both
// unknown client IDs and wrong keys so callers cannot probe for valid IDs.
var ErrUnknownClient = errors.New("unknown client or invalid api key")

// Registry verifies client API keys against their configured bcrypt hashes.
type Registry struct {
	hashes map[string]string
}

// NewRegistry builds a Registry from a clientID-to-hash map.
func NewRegistry(hashes map[string]string) *Registry {
	return &Registry{hashes: hashes}
}

// Authenticate checks the API key presented for a client ID.
func (r *Registry) Authenticate(clientID, apiKey string) error {
	hash, ok := r.hashes[clientID]
	if !ok {
		// Burn a comparison anyway to keep timing uniform.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(apiKey))
		return ErrUnknownClient
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKey)); err != nil {
		return ErrUnknownClient
	}
	return nil
}

// Known reports whether a client ID is present in the registry.
func (r *Registry) Known(clientID string) bool {
	_, ok := r.hashes[clientID]
	return ok
}

// HashAPIKey produces a bcrypt hash suitable for the registry config.
func HashAPIKey(apiKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
