package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/evicertia/pn-ec/internal/model"
)

// HTTPRepository talks to the external repository-manager REST service.
// Transport failures and unexpected statuses surface as plain errors; the
// caller maps them to its own dependency-error taxonomy.
type HTTPRepository struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRepository creates a client for the repository manager at baseURL.
func NewHTTPRepository(baseURL string, timeout time.Duration) *HTTPRepository {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRepository{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRepository) requestURL(requestID, clientID string) string {
	return fmt.Sprintf("%s/repository-manager/v1/requests/%s?clientId=%s",
		r.baseURL, url.PathEscape(requestID), url.QueryEscape(clientID))
}

// InsertRequest registers a request. A 409 from the service maps to
// ErrAlreadyExists.
func (r *HTTPRepository) InsertRequest(ctx context.Context, req *model.Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/repository-manager/v1/requests", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build insert request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("insert request %s: %w", req.RequestID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		return nil
	case http.StatusConflict:
		return fmt.Errorf("insert request %s: %w", req.RequestID, ErrAlreadyExists)
	default:
		return fmt.Errorf("insert request %s: unexpected status %d", req.RequestID, resp.StatusCode)
	}
}

// GetRequest fetches a stored request. A 404 maps to ErrNotFound.
func (r *HTTPRepository) GetRequest(ctx context.Context, requestID, clientID string) (*StoredRequest, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.requestURL(requestID, clientID), nil)
	if err != nil {
		return nil, fmt.Errorf("build get request: %w", err)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("get request %s: %w", requestID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("get request %s: %w", requestID, ErrNotFound)
	default:
		return nil, fmt.Errorf("get request %s: unexpected status %d", requestID, resp.StatusCode)
	}

	var stored StoredRequest
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return nil, fmt.Errorf("decode request %s: %w", requestID, err)
	}
	return &stored, nil
}

// SetGeneratedMessageID records the generated message against the request.
func (r *HTTPRepository) SetGeneratedMessageID(ctx context.Context, requestID, clientID string, gm *model.GeneratedMessage) error {
	return r.patch(ctx, requestID, clientID, "generated-message", gm)
}

// UpdateRetryState persists the retry cursor against the request.
func (r *HTTPRepository) UpdateRetryState(ctx context.Context, requestID, clientID string, rs *model.RetryState) error {
	return r.patch(ctx, requestID, clientID, "retry", rs)
}

// UpdateStatus moves the request to the given lifecycle status.
func (r *HTTPRepository) UpdateStatus(ctx context.Context, requestID, clientID string, status model.Status) error {
	return r.patch(ctx, requestID, clientID, "status", map[string]model.Status{"status": status})
}

// patch issues a metadata sub-resource update.
func (r *HTTPRepository) patch(ctx context.Context, requestID, clientID, subresource string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subresource, err)
	}

	u := fmt.Sprintf("%s/repository-manager/v1/requests/%s/%s?clientId=%s",
		r.baseURL, url.PathEscape(requestID), subresource, url.QueryEscape(clientID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s patch: %w", subresource, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("patch %s for %s: %w", subresource, requestID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("patch %s for %s: %w", subresource, requestID, ErrNotFound)
	default:
		return fmt.Errorf("patch %s for %s: unexpected status %d", subresource, requestID, resp.StatusCode)
	}
}
