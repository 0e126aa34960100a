package adapters

import (
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// SyntheticGenerator produces a plausible market snapshot with no external
// dependency. It is the last tier of the source chain and has no failure modes.
type SyntheticGenerator struct {
	mu     sync.Mutex
	roster []baseRecord
	random *rand.Rand
	now    func() time.Time
}

type baseRecord struct {
	Market    string
	Symbol    string
	Name      string
	BasePrice float64
	Volume    float64 // typical daily volume in units
	Supply    float64 // units outstanding, 0 for indices
}

var defaultRoster = []baseRecord{
	{Market: "equities", Symbol: "AAPL", Name: "Apple Inc.", BasePrice: 206.80, Volume: 55_000_000, Supply: 15_200_000_000},
	{Market: "equities", Symbol: "MSFT", Name: "Microsoft Corp.", BasePrice: 415.75, Volume: 21_000_000, Supply: 7_430_000_000},
	{Market: "equities", Symbol: "NVDA", Name: "NVIDIA Corp.", BasePrice: 121.40, Volume: 240_000_000, Supply: 24_500_000_000},
	{Market: "equities", Symbol: "GOOGL", Name: "Alphabet Inc.", BasePrice: 172.50, Volume: 26_000_000, Supply: 12_300_000_000},
	{Market: "equities", Symbol: "TSLA", Name: "Tesla Inc.", BasePrice: 248.30, Volume: 95_000_000, Supply: 3_190_000_000},
	{Market: "crypto", Symbol: "BTC", Name: "Bitcoin", BasePrice: 67_250, Volume: 32_000, Supply: 19_700_000},
	{Market: "crypto", Symbol: "ETH", Name: "Ethereum", BasePrice: 3_480, Volume: 410_000, Supply: 120_100_000},
	{Market: "crypto", Symbol: "SOL", Name: "Solana", BasePrice: 162.40, Volume: 14_500_000, Supply: 463_000_000},
	{Market: "crypto", Symbol: "XRP", Name: "XRP", BasePrice: 0.5210, Volume: 1_900_000_000, Supply: 55_600_000_000},
	{Market: "indices", Symbol: "SPX", Name: "S&P 500", BasePrice: 5_460, Volume: 2_400_000_000},
	{Market: "indices", Symbol: "NDX", Name: "Nasdaq 100", BasePrice: 19_700, Volume: 1_100_000_000},
	{Market: "indices", Symbol: "DJI", Name: "Dow Jones Industrial Average", BasePrice: 39_150, Volume: 320_000_000},
}

// maximum deviation from the baseline price, as a fraction
const syntheticSpread = 0.05

// NewSyntheticGenerator creates a generator seeded from the clock.
func NewSyntheticGenerator() *SyntheticGenerator {
	return NewSeededSyntheticGenerator(time.Now().UnixNano())
}

// NewSeededSyntheticGenerator creates a reproducible generator.
func NewSeededSyntheticGenerator(seed int64) *SyntheticGenerator {
	roster := make([]baseRecord, len(defaultRoster))
	copy(roster, defaultRoster)
	return &SyntheticGenerator{
		roster: roster,
		random: rand.New(rand.NewSource(seed)),
		now:    time.Now,
	}
}

// Generate returns one fresh snapshot of the whole roster.
func (g *SyntheticGenerator) Generate() []MarketRecord {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	records := make([]MarketRecord, 0, len(g.roster))
	for _, base := range g.roster {
		records = append(records, g.synthesize(base, now))
	}
	return records
}

func (g *SyntheticGenerator) synthesize(base baseRecord, now time.Time) MarketRecord {
	// uniform in [-spread, +spread]
	move := (g.random.Float64()*2 - 1) * syntheticSpread
	price := roundPrice(base.BasePrice * (1 + move))
	if price <= 0 {
		price = base.BasePrice
	}

	// intraday range brackets both the baseline and the current price
	lo, hi := base.BasePrice, price
	if lo > hi {
		lo, hi = hi, lo
	}
	high := roundPrice(hi * (1 + g.random.Float64()*0.01))
	low := roundPrice(lo * (1 - g.random.Float64()*0.01))

	volume := base.Volume * (0.7 + g.random.Float64()*0.6)

	return MarketRecord{
		Market:      base.Market,
		Symbol:      base.Symbol,
		Name:        base.Name,
		Price:       price,
		Change24h:   decimal.NewFromFloat(move * 100).Round(2).InexactFloat64(),
		Volume:      decimal.NewFromFloat(volume).Round(0).InexactFloat64(),
		MarketCap:   decimal.NewFromFloat(price * base.Supply).Round(0).InexactFloat64(),
		High24h:     high,
		Low24h:      low,
		Timestamp:   now.UnixMilli(),
		LastUpdated: now.UTC().Format(time.RFC3339),
	}
}

// roundPrice keeps two decimals above $1 and four below, like a quote board.
func roundPrice(p float64) float64 {
	places := int32(2)
	if p < 1 {
		places = 4
	}
	return decimal.NewFromFloat(p).Round(places).InexactFloat64()
}

// AddSymbol extends the roster.
func (g *SyntheticGenerator) AddSymbol(market, symbol, name string, basePrice, volume, supply float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roster = append(g.roster, baseRecord{
		Market: market, Symbol: symbol, Name: name,
		BasePrice: basePrice, Volume: volume, Supply: supply,
	})
}

// Symbols returns the roster symbols in generation order.
func (g *SyntheticGenerator) Symbols() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.roster))
	for _, b := range g.roster {
		out = append(out, b.Symbol)
	}
	return out
}
