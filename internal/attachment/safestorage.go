package attachment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const clientIDHeader = "x-client-id"

// SafeStorageStore resolves attachments through a safe-storage HTTP service:
// a metadata endpoint that issues presigned download URLs, plus the byte
// download itself. Presigned URLs are requested fresh on every download and
// never cached, to tolerate link expiry between attempts.
type SafeStorageStore struct {
	baseURL string
	client  *http.Client
}

// NewSafeStorageStore creates a store talking to the given base URL.
func NewSafeStorageStore(baseURL string, timeout time.Duration) *SafeStorageStore {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SafeStorageStore{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// fileResponse mirrors the safe-storage file lookup response.
type fileResponse struct {
	Key           string `json:"key"`
	ContentType   string `json:"contentType"`
	ContentLength int64  `json:"contentLength"`
	Download      struct {
		URL string `json:"url"`
	} `json:"download"`
}

// Stat performs a metadata-only lookup for the given key.
func (s *SafeStorageStore) Stat(ctx context.Context, key, clientID string) (*FileInfo, error) {
	resp, err := s.getFile(ctx, key, clientID, true)
	if err != nil {
		return nil, err
	}
	return &FileInfo{
		Key:           resp.Key,
		ContentType:   resp.ContentType,
		ContentLength: resp.ContentLength,
	}, nil
}

// Download fetches the attachment bytes through a freshly issued presigned URL.
func (s *SafeStorageStore) Download(ctx context.Context, key, clientID string) ([]byte, error) {
	resp, err := s.getFile(ctx, key, clientID, false)
	if err != nil {
		return nil, err
	}
	if resp.Download.URL == "" {
		return nil, fmt.Errorf("safe storage returned no download url for %s", key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resp.Download.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request for %s: %w", key, err)
	}

	httpResp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: unexpected status %d", key, httpResp.StatusCode)
	}

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read download body for %s: %w", key, err)
	}
	return data, nil
}

// getFile calls the safe-storage file endpoint. A 404 maps to ErrUnavailable.
func (s *SafeStorageStore) getFile(ctx context.Context, key, clientID string, metadataOnly bool) (*fileResponse, error) {
	u := fmt.Sprintf("%s/safe-storage/v1/files/%s?metadataOnly=%t", s.baseURL, url.PathEscape(key), metadataOnly)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build file request for %s: %w", key, err)
	}
	req.Header.Set(clientIDHeader, clientID)

	httpResp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", key, err)
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusNotFound:
		return nil, unavailable(key)
	case httpResp.StatusCode == http.StatusBadRequest || httpResp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("get file %s for client %s: rejected with status %d", key, clientID, httpResp.StatusCode)
	case httpResp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("get file %s: unexpected status %d", key, httpResp.StatusCode)
	}

	var resp fileResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode file response for %s: %w", key, err)
	}
	return &resp, nil
}
