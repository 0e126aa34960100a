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

// PayloadValidator checks a raw payload remotely. The returned payload replaces
// raw for normalization.
type PayloadValidator interface {
	Validate(ctx context.Context, source string, raw json.RawMessage) (cleaned json.RawMessage, err error)
}

// RemoteValidator posts {payload, source} and expects {valid, data, error}.
type RemoteValidator struct {
	url        string
	httpClient *http.Client
}

func NewRemoteValidator(url string, timeout time.Duration) *RemoteValidator {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &RemoteValidator{url: url, httpClient: &http.Client{Timeout: timeout}}
}

type validationRequest struct {
	Payload json.RawMessage `json:"payload"`
	Source  string          `json:"source"`
}

type validationReply struct {
	Valid bool            `json:"valid"`
	Data  json.RawMessage `json:"data"`
	Error *string         `json:"error"`
}

// Validate returns a *SourceError of kind "rejected" when the endpoint says the
// payload is invalid. Any other error means the validator itself is unusable.
func (v *RemoteValidator) Validate(ctx context.Context, source string, raw json.RawMessage) (json.RawMessage, error) {
	body, err := json.Marshal(validationRequest{Payload: raw, Source: source})
	if err != nil {
		return nil, fmt.Errorf("encode validation request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create validation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("validation request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("read validation response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("validation endpoint HTTP %d: %s", resp.StatusCode, truncate(respBody, 200))
	}

	var reply validationReply
	if err := json.Unmarshal(respBody, &reply); err != nil {
		return nil, fmt.Errorf("decode validation response: %w", err)
	}
	if !reply.Valid {
		msg := "payload rejected by validator"
		if reply.Error != nil && *reply.Error != "" {
			msg = *reply.Error
		}
		return nil, NewRejectedError(source, msg)
	}
	if len(bytes.TrimSpace(reply.Data)) == 0 || bytes.Equal(bytes.TrimSpace(reply.Data), []byte("null")) {
		return raw, nil
	}
	return reply.Data, nil
}
