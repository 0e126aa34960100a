package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// largest response body accepted from a market-data endpoint
const maxPayloadBytes = 8 << 20

// HTTPSource invokes an RPC-style JSON endpoint with POST.
type HTTPSource struct {
	name       string
	url        string
	httpClient *http.Client
}

// NewHTTPSource creates a source for url with the given request timeout.
func NewHTTPSource(name, url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &HTTPSource{
		name:       name,
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) Name() string { return s.name }

// Fetch invokes the endpoint with an empty argument object.
func (s *HTTPSource) Fetch(ctx context.Context) (json.RawMessage, error) {
	return s.call(ctx, []byte(`{}`))
}

// Probe invokes the endpoint with {"action":"status_check"}. Any 2xx response
// without an "error" member counts as healthy.
func (s *HTTPSource) Probe(ctx context.Context) error {
	body, err := s.call(ctx, []byte(`{"action":"status_check"}`))
	if err != nil {
		return err
	}
	var reply struct {
		Error any `json:"error"`
	}
	if json.Unmarshal(body, &reply) == nil && reply.Error != nil {
		return NewProviderError(s.name, fmt.Sprintf("status check reported: %v", reply.Error), nil)
	}
	return nil
}

func (s *HTTPSource) call(ctx context.Context, payload []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, NewNetworkError(s.name, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, NewNetworkError(s.name, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, NewNetworkError(s.name, "failed to read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewProviderError(s.name, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(body, 200)), nil)
	}
	return json.RawMessage(body), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
