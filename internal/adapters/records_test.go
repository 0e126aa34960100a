package adapters

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchOutcome_JSON(t *testing.T) {
	ok := NewOutcome(SampleRecords(1), TierPrimary, "")
	b, err := json.Marshal(ok)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"sourceTier":"primary"`)
	assert.Contains(t, string(b), `"error":null`)

	degraded := NewOutcome(nil, TierEmergency, "all remote sources failed")
	b, err = json.Marshal(degraded)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"records":[]`)
	assert.Contains(t, string(b), `"error":"all remote sources failed"`)

	var back FetchOutcome
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, TierEmergency, back.Tier)
	assert.Equal(t, "all remote sources failed", back.ErrorString())
	assert.True(t, back.Error.IsSome())
}

func TestValidateRecords(t *testing.T) {
	err := ValidateRecords("primary", nil)
	require.Error(t, err)
	assert.Equal(t, "empty", ErrorKind(err))

	require.NoError(t, ValidateRecords("primary", SampleRecords(3)))

	bad := SampleRecords(2)
	bad[1].Symbol = ""
	err = ValidateRecords("primary", bad)
	require.Error(t, err)
	assert.Equal(t, "malformed", ErrorKind(err))
}

func TestSourceError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewNetworkError("primary", "request failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "network error from primary")
	assert.Equal(t, "", ErrorKind(cause))
}

func TestMarketRecord_WithinRange(t *testing.T) {
	r := MarketRecord{Price: 10, High24h: 11, Low24h: 9}
	assert.True(t, r.WithinRange())
	r.Price = 12
	assert.False(t, r.WithinRange())
}
