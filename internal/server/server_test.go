package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/trading-dashboard/internal/adapters"
	"github.com/Rajchodisetti/trading-dashboard/internal/config"
	"github.com/Rajchodisetti/trading-dashboard/internal/feed"
	"github.com/Rajchodisetti/trading-dashboard/internal/keys"
	"github.com/Rajchodisetti/trading-dashboard/internal/providers"
	"github.com/Rajchodisetti/trading-dashboard/internal/status"
	"github.com/Rajchodisetti/trading-dashboard/internal/transport"
)

type harness struct {
	srv     *httptest.Server
	stream  *feed.Stream
	primary *adapters.MockSource
	keys    *keys.Service
	bus     *transport.MemoryBus
	status  *status.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		primary: adapters.NewMockSourceFromRecords("primary", adapters.SampleRecords(3)),
		bus:     transport.NewMemoryBus("api-key-updates"),
	}
	chain := adapters.Chain{Primary: h.primary, PrimaryMarket: "crypto"}
	h.stream = feed.NewStream(feed.Options{
		Config: config.Stream{
			Name:           "market-table",
			BaseIntervalMs: 5000,
			MaxAttempts:    3,
			BackoffBaseMs:  1000,
		},
		Resolver: feed.NewResolver("market-table", chain, adapters.NewSeededSyntheticGenerator(5), nil),
		Clock:    feed.NewFakeClock(time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)),
	})
	t.Cleanup(h.stream.Stop)

	h.keys = keys.NewService(keys.NewMemoryStore(), nil, h.bus, nil)
	h.status = status.NewManager(status.Options{Keys: h.keys, KeyProvider: "openai"})

	s, err := New(Deps{
		Streams:   []*feed.Stream{h.stream},
		Status:    h.status,
		Keys:      h.keys,
		Providers: providers.NewStore(providers.OpenAI),
	})
	require.NoError(t, err)
	h.srv = httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		h.srv.Close()
	})
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestServer_Health(t *testing.T) {
	h := newHarness(t)
	code, body := h.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "checking", body["api_status"])
}

func TestServer_Markets(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(t, http.MethodGet, "/api/markets/market-table", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = h.do(t, http.MethodGet, "/api/markets/nope", "")
	assert.Equal(t, http.StatusNotFound, code)

	h.stream.Tick()
	code, body := h.do(t, http.MethodGet, "/api/markets/market-table", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ready"])
	outcome := body["outcome"].(map[string]any)
	assert.Equal(t, "primary", outcome["sourceTier"])
	assert.Nil(t, outcome["error"])
	assert.Len(t, outcome["records"], 3)

	code, body = h.do(t, http.MethodPost, "/api/markets/market-table/refresh", "")
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, 2, h.primary.Calls())
	assert.Equal(t, false, body["inFlight"])
}

func TestServer_StatusAndRetry(t *testing.T) {
	h := newHarness(t)

	h.status.Tick(context.Background())
	code, body := h.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "unavailable", body["status"])
	assert.Equal(t, true, body["keyMissing"])

	code, _ = h.do(t, http.MethodPut, "/api/keys/openai", `{"secret":"sk-live"}`)
	require.Equal(t, http.StatusOK, code)

	code, body = h.do(t, http.MethodPost, "/api/status/retry", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "available", body["status"])
	assert.Equal(t, false, body["keyMissing"])
}

func TestServer_Provider(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodGet, "/api/provider", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "openai", body["provider"])

	code, body = h.do(t, http.MethodPut, "/api/provider", `{"provider":"Anthropic"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "anthropic", body["provider"])

	code, _ = h.do(t, http.MethodPut, "/api/provider", `{"provider":"mistral"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = h.do(t, http.MethodPut, "/api/provider", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_Keys(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, http.MethodGet, "/api/keys/gemini", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["available"])

	code, _ = h.do(t, http.MethodPut, "/api/keys/gemini", `{"secret":"  "}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodPut, "/api/keys/gemini", `{"secret":"g-123"}`)
	require.Equal(t, http.StatusOK, code)

	code, body = h.do(t, http.MethodGet, "/api/keys/gemini", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["available"])
	assert.Equal(t, "local-cache", body["source"])

	code, _ = h.do(t, http.MethodDelete, "/api/keys/gemini", "")
	assert.Equal(t, http.StatusNoContent, code)
	_, body = h.do(t, http.MethodGet, "/api/keys/gemini", "")
	assert.Equal(t, false, body["available"])
}

func TestServer_WebsocketRelaysOtherInstances(t *testing.T) {
	h := newHarness(t)

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/keys"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var hello Event
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hello", hello.Type)

	other := keys.NewService(keys.NewMemoryStore(), nil, h.bus, nil)
	require.NoError(t, other.SaveKey(context.Background(), "perplexity", "pplx-1"))

	var ev struct {
		Type string            `json:"type"`
		Data transport.Message `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "key", ev.Type)
	assert.Equal(t, transport.TypeKeySaved, ev.Data.Type)
	assert.Equal(t, "perplexity", ev.Data.Provider)
	assert.Equal(t, other.Origin(), ev.Data.Origin)
}
