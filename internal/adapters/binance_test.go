package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinanceSource_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/24hr", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("symbols"), "BTCUSDT")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"symbol":"BTCUSDT","priceChangePercent":"-1.20","lastPrice":"67000.10","highPrice":"68000.00","lowPrice":"66000.00","volume":"1234.5","closeTime":1741089600000},
			{"symbol":"ETHUSDT","priceChangePercent":"2.50","lastPrice":"3500.00","highPrice":"3550.00","lowPrice":"3400.00","volume":"9876.0","closeTime":1741089600000}
		]`))
	}))
	defer srv.Close()

	src := NewBinanceSource("", "", []string{"btcusdt", "ETHUSDT"})
	src.SetBaseURL(srv.URL)

	raw, err := src.Fetch(context.Background())
	require.NoError(t, err)

	records, err := ParseRecords(src.Name(), "crypto", raw, fixedNow)
	require.NoError(t, err)
	require.Len(t, records, 2)

	btc := records[0]
	assert.Equal(t, "BTC", btc.Symbol)
	assert.Equal(t, "BTCUSDT", btc.Name)
	assert.Equal(t, 67000.10, btc.Price)
	assert.Equal(t, -1.2, btc.Change24h)
	assert.Equal(t, 68000.0, btc.High24h)
	assert.Equal(t, int64(1741089600000), btc.Timestamp)
}

func TestBinanceSource_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":-1003,"msg":"Too many requests"}`))
	}))
	defer srv.Close()

	src := NewBinanceSource("", "", []string{"BTCUSDT"})
	src.SetBaseURL(srv.URL)

	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, "network", ErrorKind(err))
}

func TestDisplaySymbol(t *testing.T) {
	assert.Equal(t, "BTC", displaySymbol("BTCUSDT"))
	assert.Equal(t, "ETH", displaySymbol("ETHFDUSD"))
	assert.Equal(t, "USDT", displaySymbol("USDT"))
	assert.Equal(t, "BTCEUR", displaySymbol("BTCEUR"))
}
