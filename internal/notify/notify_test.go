package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/trading-dashboard/internal/config"
)

func TestMemory_Limit(t *testing.T) {
	m := NewMemory(2)
	Send(m, "one", "", VariantDefault)
	Send(m, "two", "", VariantWarning)
	Send(m, "three", "", VariantDestructive)

	assert.Equal(t, []string{"two", "three"}, m.Titles())
	assert.Equal(t, VariantDestructive, m.Toasts()[1].Variant)
	assert.False(t, m.Toasts()[0].At.IsZero())

	m.Reset()
	assert.Empty(t, m.Toasts())
}

func TestMulti(t *testing.T) {
	a, b := NewMemory(0), NewMemory(0)
	var calls int
	sink := Multi{a, nil, b, Func(func(Toast) { calls++ })}

	Send(sink, "hello", "world", VariantDefault)
	assert.Equal(t, []string{"hello"}, a.Titles())
	assert.Equal(t, []string{"hello"}, b.Titles())
	assert.Equal(t, 1, calls)

	assert.NotPanics(t, func() { Send(nil, "x", "y", VariantDefault) })
	assert.NotPanics(t, func() { LogSink{}.Notify(Toast{Title: "logged", Variant: VariantWarning}) })
}

func TestSlackSink_DeliversAndDedupes(t *testing.T) {
	var mu sync.Mutex
	var got []SlackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg SlackMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewSlackSink(config.Slack{Enabled: true, WebhookURL: srv.URL, Channel: "#market-data", RateLimitPerMin: 10})
	defer sink.Close()

	toast := Toast{Title: "Using simulated data", Description: "all remote sources failed", Variant: VariantDestructive}
	sink.Notify(toast)
	sink.Notify(toast)

	require.Eventually(t, func() bool {
		return sink.Metrics().Sent == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "#market-data", got[0].Channel)
	assert.Contains(t, got[0].Text, "Using simulated data")
	assert.Equal(t, "danger", got[0].Attachments[0].Color)
	assert.Equal(t, int64(1), sink.Metrics().Deduped)
}

func TestSlackSink_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewSlackSink(config.Slack{Enabled: true, WebhookURL: srv.URL, RateLimitPerMin: 2})
	defer sink.Close()

	for _, title := range []string{"a", "b", "c", "d"} {
		sink.Notify(Toast{Title: title})
	}
	assert.Equal(t, int64(2), sink.Metrics().RateLimited)
}

func TestSlackSink_Disabled(t *testing.T) {
	sink := NewSlackSink(config.Slack{Enabled: false})
	defer sink.Close()
	sink.Notify(Toast{Title: "ignored"})
	assert.Equal(t, SlackMetrics{}, sink.Metrics())
}
