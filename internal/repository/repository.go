// Package repository is the narrow client surface over the request
// repository: durable CRUD for requests, retry cursors and generated-message
// references. Two backends exist: the external repository-manager HTTP
// service, and an embedded Postgres store for self-contained deployments.
package repository

import (
	"context"
	"errors"

	"github.com/evicertia/pn-ec/internal/model"
)

var (
	// ErrNotFound is returned when no request exists for the key.
	ErrNotFound = errors.New("repository: request not found")
	// ErrAlreadyExists is returned when an insert collides on requestId.
	// The uniqueness constraint is what makes admission at-most-once.
	ErrAlreadyExists = errors.New("repository: request already exists")
)

// StoredRequest is a request together with its mutable delivery metadata.
type StoredRequest struct {
	Request   model.Request           `json:"request"`
	Status    model.Status            `json:"status"`
	Retry     model.RetryState        `json:"retry"`
	Generated *model.GeneratedMessage `json:"generatedMessage,omitempty"`
}

// Repository is the request-repository collaborator. Implementations are
// externally synchronized; callers take no locks and rely on per-key
// consistency (unique admission, idempotent metadata updates).
type Repository interface {
	// InsertRequest durably registers a new request with status booked.
	InsertRequest(ctx context.Context, req *model.Request) error
	// GetRequest fetches the stored request and its metadata.
	GetRequest(ctx context.Context, requestID, clientID string) (*StoredRequest, error)
	// SetGeneratedMessageID records the gateway artifact of a successful
	// send and moves the request to the given status. Idempotent.
	SetGeneratedMessageID(ctx context.Context, requestID, clientID string, gm *model.GeneratedMessage) error
	// UpdateRetryState persists the scheduled-retry cursor.
	UpdateRetryState(ctx context.Context, requestID, clientID string, rs *model.RetryState) error
	// UpdateStatus moves the request to the given lifecycle status.
	UpdateStatus(ctx context.Context, requestID, clientID string, status model.Status) error
}
