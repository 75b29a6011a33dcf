// Package attachment resolves attachment references to downloadable content
// and enforces the per-channel composed-message size policy.
package attachment

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable is returned when a referenced attachment cannot be
// confirmed to exist. Admission fails on it; it is never retried.
var ErrUnavailable = errors.New("attachment unavailable")

// unavailable wraps ErrUnavailable with the offending reference.
func unavailable(ref string) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, ref)
}

// FileInfo is the metadata returned by an existence lookup.
type FileInfo struct {
	Key           string
	ContentType   string
	ContentLength int64
}

// Store is the narrow interface over the attachment storage collaborator.
// Stat performs a metadata-only lookup; Download fetches the full content.
// The store does not retry; callers own retry policy.
type Store interface {
	Stat(ctx context.Context, key, clientID string) (*FileInfo, error)
	Download(ctx context.Context, key, clientID string) ([]byte, error)
}
