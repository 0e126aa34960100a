package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogueIsComplete(t *testing.T) {
	require.Len(t, catalogue, len(All))
	seenIDs := map[string]bool{}
	seenEnv := map[string]bool{}
	for _, p := range All {
		info := p.Info()
		assert.NotEmpty(t, info.ID)
		assert.NotEmpty(t, info.DisplayName)
		assert.NotEmpty(t, info.EnvVar)
		assert.NotEmpty(t, info.CapabilityKey)
		assert.Contains(t, info.Models, info.DefaultModel, p.String())
		assert.False(t, seenIDs[info.ID], "duplicate id %s", info.ID)
		assert.False(t, seenEnv[info.EnvVar], "duplicate env var %s", info.EnvVar)
		seenIDs[info.ID] = true
		seenEnv[info.EnvVar] = true
	}
}

func TestParse(t *testing.T) {
	p, err := Parse("Anthropic")
	require.NoError(t, err)
	assert.Equal(t, Anthropic, p)

	p, err = Parse(" google gemini ")
	require.NoError(t, err)
	assert.Equal(t, Gemini, p)

	_, err = Parse("any")
	assert.Error(t, err)
}

func TestProviderJSON(t *testing.T) {
	b, err := json.Marshal(map[string]Provider{"active": DeepSeek})
	require.NoError(t, err)
	assert.JSONEq(t, `{"active":"deepseek"}`, string(b))

	var back struct {
		Active Provider `json:"active"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"active":"perplexity"}`), &back))
	assert.Equal(t, Perplexity, back.Active)

	assert.Error(t, json.Unmarshal([]byte(`{"active":"nope"}`), &back))
}

func TestUnknownProvider(t *testing.T) {
	assert.False(t, Provider(0).Valid())
	assert.Equal(t, "provider(42)", Provider(42).String())
	assert.Panics(t, func() { Provider(42).Info() })
}

func TestStore(t *testing.T) {
	s := NewStore(0)
	assert.Equal(t, OpenAI, s.Active())

	var seen []Provider
	unsub := s.Subscribe(func(p Provider) { seen = append(seen, p) })

	require.NoError(t, s.Set(Anthropic))
	require.NoError(t, s.Set(Anthropic))
	require.NoError(t, s.Set(Gemini))
	assert.Equal(t, []Provider{Anthropic, Gemini}, seen)

	unsub()
	require.NoError(t, s.Set(OpenAI))
	assert.Len(t, seen, 2)
	assert.Equal(t, OpenAI, s.Active())

	assert.Error(t, s.Set(Provider(99)))
}
