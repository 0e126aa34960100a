package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticGenerator_Generate(t *testing.T) {
	gen := NewSeededSyntheticGenerator(42)
	baseline := make(map[string]float64, len(defaultRoster))
	for _, b := range defaultRoster {
		baseline[b.Symbol] = b.BasePrice
	}

	for round := 0; round < 50; round++ {
		records := gen.Generate()
		require.Len(t, records, len(defaultRoster))
		require.NoError(t, ValidateRecords("synthetic", records))

		for _, r := range records {
			base := baseline[r.Symbol]
			assert.Greater(t, r.Price, 0.0)
			// rounding can push a price a hair past the band
			assert.InDelta(t, base, r.Price, base*syntheticSpread+0.01, r.Symbol)
			assert.LessOrEqual(t, r.Change24h, 5.0)
			assert.GreaterOrEqual(t, r.Change24h, -5.0)
			assert.GreaterOrEqual(t, r.High24h, r.Low24h)
			assert.NotEmpty(t, r.LastUpdated)
		}
	}
}

func TestSyntheticGenerator_ChangeMatchesPrice(t *testing.T) {
	gen := NewSeededSyntheticGenerator(7)
	for _, r := range gen.Generate() {
		for _, b := range defaultRoster {
			if b.Symbol != r.Symbol {
				continue
			}
			implied := (r.Price/b.BasePrice - 1) * 100
			assert.InDelta(t, implied, r.Change24h, 0.2, r.Symbol)
		}
	}
}

func TestSyntheticGenerator_MarketsAndOrder(t *testing.T) {
	gen := NewSeededSyntheticGenerator(1)
	markets := map[string]int{}
	for _, r := range gen.Generate() {
		markets[r.Market]++
	}
	assert.Equal(t, 5, markets["equities"])
	assert.Equal(t, 4, markets["crypto"])
	assert.Equal(t, 3, markets["indices"])

	gen.AddSymbol("crypto", "DOGE", "Dogecoin", 0.12, 1e9, 1.4e11)
	symbols := gen.Symbols()
	assert.Equal(t, "AAPL", symbols[0])
	assert.Equal(t, "DOGE", symbols[len(symbols)-1])
	assert.Len(t, gen.Generate(), len(defaultRoster)+1)
}

func TestSyntheticGenerator_Reproducible(t *testing.T) {
	a := NewSeededSyntheticGenerator(99).Generate()
	b := NewSeededSyntheticGenerator(99).Generate()
	for i := range a {
		assert.Equal(t, a[i].Price, b[i].Price)
	}
}
