package keys

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CapabilityReport is the remote answer to "which providers have a
// server-side credential". Secrets themselves are never returned.
type CapabilityReport struct {
	Available bool            `json:"available"`
	SecretSet *bool           `json:"secretSet,omitempty"`
	AllKeys   map[string]bool `json:"allKeys"`
}

type CapabilityChecker interface {
	Check(ctx context.Context, service string) (CapabilityReport, error)
}

// HTTPCapabilityChecker posts {service, checkSecret} to a remote endpoint.
type HTTPCapabilityChecker struct {
	url        string
	httpClient *http.Client
}

func NewHTTPCapabilityChecker(url string, timeout time.Duration) *HTTPCapabilityChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPCapabilityChecker{url: url, httpClient: &http.Client{Timeout: timeout}}
}

func (c *HTTPCapabilityChecker) Check(ctx context.Context, service string) (CapabilityReport, error) {
	var report CapabilityReport
	body, err := json.Marshal(map[string]any{"service": service, "checkSecret": true})
	if err != nil {
		return report, fmt.Errorf("encode capability request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return report, fmt.Errorf("create capability request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return report, fmt.Errorf("capability request: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return report, fmt.Errorf("read capability response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return report, fmt.Errorf("capability endpoint HTTP %d", resp.StatusCode)
	}
	if err := json.Unmarshal(b, &report); err != nil {
		return report, fmt.Errorf("decode capability response: %w", err)
	}
	return report, nil
}

// availableFor maps a report onto one provider key, or onto "any".
func (r CapabilityReport) availableFor(key string) bool {
	if key == AnyProvider {
		if r.Available {
			return true
		}
		for _, ok := range r.AllKeys {
			if ok {
				return true
			}
		}
		return false
	}
	if ok, present := r.AllKeys[key]; present {
		return ok
	}
	if r.SecretSet != nil {
		return r.Available && *r.SecretSet
	}
	return r.Available
}
