package adapters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Upstream spellings accepted for each normalized field, in lookup order.
var fieldAliases = map[string][]string{
	"symbol":      {"symbol", "ticker"},
	"name":        {"name"},
	"market":      {"market", "exchange"},
	"price":       {"price", "current_price", "lastPrice", "last"},
	"change24h":   {"change24h", "change_24h", "price_change_percentage_24h", "priceChangePercent", "changePercent"},
	"volume":      {"volume", "volume24h", "volume_24h", "total_volume"},
	"marketCap":   {"marketCap", "market_cap"},
	"high24h":     {"high24h", "high_24h", "highPrice", "high"},
	"low24h":      {"low24h", "low_24h", "lowPrice", "low"},
	"timestamp":   {"timestamp", "closeTime"},
	"lastUpdated": {"lastUpdated", "last_updated"},
}

// DecodePayload accepts either a bare JSON array or an object carrying the
// array under "data" and returns the raw items.
func DecodePayload(source string, raw json.RawMessage) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NewEmptyPayloadError(source)
	}

	var items []map[string]any
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, NewMalformedError(source, "array payload", err)
		}
	case '{':
		var wrapped struct {
			Data  json.RawMessage `json:"data"`
			Error any             `json:"error"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, NewMalformedError(source, "object payload", err)
		}
		if wrapped.Error != nil {
			return nil, NewProviderError(source, fmt.Sprintf("upstream error: %v", wrapped.Error), nil)
		}
		inner := bytes.TrimSpace(wrapped.Data)
		if len(inner) == 0 || bytes.Equal(inner, []byte("null")) {
			return nil, NewEmptyPayloadError(source)
		}
		if inner[0] != '[' {
			return nil, NewMalformedError(source, "data is not an array", nil)
		}
		if err := json.Unmarshal(inner, &items); err != nil {
			return nil, NewMalformedError(source, "data array", err)
		}
	default:
		return nil, NewMalformedError(source, "payload is neither array nor object", nil)
	}

	if len(items) == 0 {
		return nil, NewEmptyPayloadError(source)
	}
	return items, nil
}

// NormalizeRecords maps raw items onto MarketRecord. symbol, price, change24h and
// volume are required; the rest are back-filled. Duplicate symbols keep the first row.
func NormalizeRecords(source, defaultMarket string, items []map[string]any, now time.Time) ([]MarketRecord, error) {
	out := make([]MarketRecord, 0, len(items))
	seen := make(map[string]bool, len(items))

	for i, item := range items {
		if item == nil {
			return nil, NewMalformedError(source, fmt.Sprintf("item %d is null", i), nil)
		}
		symbol := strings.ToUpper(strings.TrimSpace(lookupString(item, "symbol")))
		if symbol == "" {
			return nil, NewMalformedError(source, fmt.Sprintf("item %d has no symbol", i), nil)
		}
		if seen[symbol] {
			continue
		}

		rec := MarketRecord{
			Symbol: symbol,
			Name:   lookupString(item, "name"),
			Market: lookupString(item, "market"),
		}
		if rec.Market == "" {
			rec.Market = defaultMarket
		}

		var ok bool
		if rec.Price, ok = lookupNumber(item, "price"); !ok {
			return nil, NewMalformedError(source, fmt.Sprintf("%s: missing numeric price", symbol), nil)
		}
		if rec.Change24h, ok = lookupNumber(item, "change24h"); !ok {
			return nil, NewMalformedError(source, fmt.Sprintf("%s: missing numeric change24h", symbol), nil)
		}
		if rec.Volume, ok = lookupNumber(item, "volume"); !ok {
			return nil, NewMalformedError(source, fmt.Sprintf("%s: missing numeric volume", symbol), nil)
		}
		rec.MarketCap, _ = lookupNumber(item, "marketCap")
		if rec.High24h, ok = lookupNumber(item, "high24h"); !ok {
			rec.High24h = rec.Price
		}
		if rec.Low24h, ok = lookupNumber(item, "low24h"); !ok {
			rec.Low24h = rec.Price
		}

		rec.Timestamp = now.UnixMilli()
		if ts, ok := lookupNumber(item, "timestamp"); ok && ts > 0 {
			rec.Timestamp = toMillis(ts)
		}
		rec.LastUpdated = lookupString(item, "lastUpdated")
		if rec.LastUpdated == "" {
			rec.LastUpdated = time.UnixMilli(rec.Timestamp).UTC().Format(time.RFC3339)
		}

		seen[symbol] = true
		out = append(out, rec)
	}
	return out, nil
}

// ParseRecords is DecodePayload + NormalizeRecords + ValidateRecords.
func ParseRecords(source, defaultMarket string, raw json.RawMessage, now time.Time) ([]MarketRecord, error) {
	items, err := DecodePayload(source, raw)
	if err != nil {
		return nil, err
	}
	records, err := NormalizeRecords(source, defaultMarket, items, now)
	if err != nil {
		return nil, err
	}
	if err := ValidateRecords(source, records); err != nil {
		return nil, err
	}
	return records, nil
}

// second-resolution timestamps are below this
const millisThreshold = 1e12

func toMillis(ts float64) int64 {
	if ts < millisThreshold {
		return int64(ts * 1000)
	}
	return int64(ts)
}

func lookup(item map[string]any, field string) (any, bool) {
	for _, key := range fieldAliases[field] {
		if v, ok := item[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func lookupString(item map[string]any, field string) string {
	v, ok := lookup(item, field)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// numeric strings ("42.1") count as numbers; upstreams such as exchange tickers send them.
// "Inf" and "NaN" spellings are rejected.
func lookupNumber(item map[string]any, field string) (float64, bool) {
	v, ok := lookup(item, field)
	if !ok {
		return 0, false
	}
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		var err error
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
