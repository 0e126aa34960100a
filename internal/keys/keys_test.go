package keys

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/trading-dashboard/internal/notify"
	"github.com/Rajchodisetti/trading-dashboard/internal/transport"
)

type fakeChecker struct {
	calls    int
	services []string
	report   CapabilityReport
	err      error
}

func (f *fakeChecker) Check(ctx context.Context, service string) (CapabilityReport, error) {
	f.calls++
	f.services = append(f.services, service)
	return f.report, f.err
}

func TestCheckAvailability_LocalCacheNeverCallsRemote(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, "openai", "sk-test-123456789"))
	checker := &fakeChecker{}
	svc := NewService(store, checker, nil, nil)

	res := svc.CheckAvailability(ctx, "OpenAI")
	assert.Equal(t, Availability{Provider: "openai", Available: true, Source: SourceLocalCache}, res)

	res = svc.CheckAvailability(ctx, AnyProvider)
	assert.Equal(t, SourceLocalCache, res.Source)
	assert.True(t, res.Available)

	assert.Equal(t, 0, checker.calls)
}

func TestCheckAvailability_RemoteCheck(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name     string
		provider string
		report   CapabilityReport
		want     bool
	}{
		{name: "provider in allKeys", provider: "anthropic", report: CapabilityReport{AllKeys: map[string]bool{"anthropic": true}}, want: true},
		{name: "provider false in allKeys", provider: "anthropic", report: CapabilityReport{Available: true, AllKeys: map[string]bool{"anthropic": false, "openai": true}}, want: false},
		{name: "no allKeys entry uses secretSet", provider: "gemini", report: CapabilityReport{Available: true, SecretSet: &yes}, want: true},
		{name: "secret not set", provider: "gemini", report: CapabilityReport{Available: true, SecretSet: &no}, want: false},
		{name: "any with one configured", provider: "any", report: CapabilityReport{AllKeys: map[string]bool{"openai": false, "deepseek": true}}, want: true},
		{name: "any with none", provider: "any", report: CapabilityReport{Available: false, AllKeys: map[string]bool{"openai": false}}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &fakeChecker{report: tt.report}
			svc := NewService(NewMemoryStore(), checker, nil, nil)

			res := svc.CheckAvailability(context.Background(), tt.provider)
			assert.Equal(t, SourceRemoteCheck, res.Source)
			assert.Equal(t, tt.want, res.Available)
			assert.Equal(t, 1, checker.calls)
		})
	}
}

func TestCheckAvailability_CapabilityFailureFallsBack(t *testing.T) {
	sink := notify.NewMemory(0)
	checker := &fakeChecker{err: errors.New("503 service unavailable")}
	svc := NewService(NewMemoryStore(), checker, nil, sink)

	res := svc.CheckAvailability(context.Background(), "perplexity")
	assert.Equal(t, Availability{Provider: "perplexity", Available: false, Source: SourceCacheFallback}, res)
	assert.Equal(t, []string{"Could not verify API keys"}, sink.Titles())
}

func TestCheckAvailability_NoCheckerConfigured(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	res := svc.CheckAvailability(context.Background(), "")
	assert.Equal(t, Availability{Provider: AnyProvider, Available: false, Source: SourceCacheFallback}, res)
}

func TestBroadcast_SecondInstanceObserves(t *testing.T) {
	ctx := context.Background()
	bus := transport.NewMemoryBus("api-key-updates")
	store := NewMemoryStore()

	tabA := NewService(store, nil, bus, nil)
	tabB := NewService(store, nil, bus, nil)
	require.NotEqual(t, tabA.Origin(), tabB.Origin())

	var seenByA, seenByB []transport.Message
	stopA, err := tabA.Watch(func(m transport.Message) { seenByA = append(seenByA, m) })
	require.NoError(t, err)
	defer stopA()
	stopB, err := tabB.Watch(func(m transport.Message) { seenByB = append(seenByB, m) })
	require.NoError(t, err)

	require.NoError(t, tabA.SaveKey(ctx, "DeepSeek", "ds-secret"))

	require.Len(t, seenByB, 1)
	assert.Equal(t, transport.TypeKeySaved, seenByB[0].Type)
	assert.Equal(t, "deepseek", seenByB[0].Provider)
	assert.Equal(t, tabA.Origin(), seenByB[0].Origin)
	assert.NotEmpty(t, seenByB[0].ID)
	assert.Empty(t, seenByA, "an instance ignores its own broadcasts")

	// tab B re-checks on its own and finds the shared credential
	res := tabB.CheckAvailability(ctx, seenByB[0].Provider)
	assert.Equal(t, SourceLocalCache, res.Source)
	require.Len(t, seenByA, 1)
	assert.Equal(t, transport.TypeKeyResolved, seenByA[0].Type)

	stopB()
	require.NoError(t, tabA.RemoveKey(ctx, "deepseek"))
	assert.Len(t, seenByB, 1)

	res = tabB.CheckAvailability(ctx, "deepseek")
	assert.False(t, res.Available)
}

func TestSaveKey_Validation(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	assert.Error(t, svc.SaveKey(context.Background(), "any", "x"))
	assert.Error(t, svc.SaveKey(context.Background(), "openai", "   "))
	assert.Error(t, svc.RemoveKey(context.Background(), ""))
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keys.db")

	store, err := OpenSQLiteStore(path)
	require.NoError(t, err)

	_, err = store.Get(ctx, "openai")
	assert.ErrorIs(t, err, ErrNoCredential)

	require.NoError(t, store.Set(ctx, "openai", "sk-1"))
	require.NoError(t, store.Set(ctx, "openai", "sk-2"))
	require.NoError(t, store.Set(ctx, "anthropic", "ak-1"))

	secret, err := store.Get(ctx, "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-2", secret)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic", "openai"}, list)

	// a second handle on the same file sees the same keys
	other, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	defer other.Close()
	secret, err = other.Get(ctx, "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "ak-1", secret)

	require.NoError(t, store.Remove(ctx, "openai"))
	require.NoError(t, store.Set(ctx, "anthropic", ""))
	list, err = other.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	require.NoError(t, store.Close())
}

func TestHTTPCapabilityChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gemini", req["service"])
		assert.Equal(t, true, req["checkSecret"])
		_, _ = w.Write([]byte(`{"available":true,"secretSet":true,"allKeys":{"gemini":true,"openai":false}}`))
	}))
	defer srv.Close()

	report, err := NewHTTPCapabilityChecker(srv.URL, time.Second).Check(context.Background(), "gemini")
	require.NoError(t, err)
	assert.True(t, report.Available)
	assert.Equal(t, map[string]bool{"gemini": true, "openai": false}, report.AllKeys)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	_, err = NewHTTPCapabilityChecker(failing.URL, time.Second).Check(context.Background(), "gemini")
	assert.Error(t, err)
}

func TestSeedFromEnv(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, "openai", "already-there"))

	env := map[string]string{
		"OPENAI_API_KEY":    "from-env",
		"ANTHROPIC_API_KEY": "ak-env",
		"GEMINI_API_KEY":    "  ",
	}
	n, err := SeedFromEnv(ctx, store, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	secret, _ := store.Get(ctx, "openai")
	assert.Equal(t, "already-there", secret)
	secret, _ = store.Get(ctx, "anthropic")
	assert.Equal(t, "ak-env", secret)
	_, err = store.Get(ctx, "gemini")
	assert.ErrorIs(t, err, ErrNoCredential)
}
