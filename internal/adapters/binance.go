package adapters

import (
	"context"
	"encoding/json"
	"strings"

	binance "github.com/adshao/go-binance/v2"
)

// quote assets stripped from exchange pair names for display
var quoteAssets = []string{"USDT", "USDC", "BUSD", "FDUSD"}

// BinanceSource serves 24h ticker statistics for a fixed set of spot pairs.
type BinanceSource struct {
	client  *binance.Client
	symbols []string
}

// NewBinanceSource uses the public market endpoints; keys may be empty.
func NewBinanceSource(apiKey, secretKey string, symbols []string) *BinanceSource {
	upper := make([]string, 0, len(symbols))
	for _, s := range symbols {
		upper = append(upper, strings.ToUpper(strings.TrimSpace(s)))
	}
	return &BinanceSource{
		client:  binance.NewClient(apiKey, secretKey),
		symbols: upper,
	}
}

// SetBaseURL points the client at another host, e.g. a test server.
func (b *BinanceSource) SetBaseURL(url string) {
	b.client.BaseURL = url
}

func (b *BinanceSource) Name() string { return "binance" }

// Fetch returns the ticker stats as a JSON array in the record-like shape the
// normalizer understands.
func (b *BinanceSource) Fetch(ctx context.Context) (json.RawMessage, error) {
	stats, err := b.client.NewListPriceChangeStatsService().Symbols(b.symbols).Do(ctx)
	if err != nil {
		return nil, NewNetworkError(b.Name(), "ticker/24hr request failed", err)
	}

	items := make([]map[string]any, 0, len(stats))
	for _, s := range stats {
		if s == nil {
			continue
		}
		items = append(items, map[string]any{
			"market":             "crypto",
			"symbol":             displaySymbol(s.Symbol),
			"name":               s.Symbol,
			"lastPrice":          s.LastPrice,
			"priceChangePercent": s.PriceChangePercent,
			"volume":             s.Volume,
			"highPrice":          s.HighPrice,
			"lowPrice":           s.LowPrice,
			"closeTime":          s.CloseTime,
		})
	}

	raw, err := json.Marshal(items)
	if err != nil {
		return nil, NewMalformedError(b.Name(), "re-encode ticker stats", err)
	}
	return raw, nil
}

func displaySymbol(pair string) string {
	for _, q := range quoteAssets {
		if strings.HasSuffix(pair, q) && len(pair) > len(q) {
			return strings.TrimSuffix(pair, q)
		}
	}
	return pair
}
