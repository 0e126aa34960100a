package adapters

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Rajchodisetti/trading-dashboard/internal/config"
	"github.com/Rajchodisetti/trading-dashboard/internal/observ"
)

// Chain is the set of remote collaborators built from configuration. Nil
// members are not configured.
type Chain struct {
	Primary         Source
	Collector       Source
	Validator       PayloadValidator
	Prober          Prober
	PrimaryMarket   string
	CollectorMarket string
}

// BuildChain creates sources based on configuration
func BuildChain(cfg config.Sources) (Chain, error) {
	var ch Chain
	var err error

	ch.Primary, err = buildSource("primary", cfg.Primary)
	if err != nil {
		return ch, err
	}
	ch.Collector, err = buildSource("collector", cfg.Collector)
	if err != nil {
		return ch, err
	}
	ch.PrimaryMarket = cfg.Primary.Market
	ch.CollectorMarket = cfg.Collector.Market

	if cfg.Validation.URL != "" {
		ch.Validator = NewRemoteValidator(cfg.Validation.URL, time.Duration(cfg.Validation.TimeoutMs)*time.Millisecond)
		observ.Log("validator_configured", map[string]any{"url": cfg.Validation.URL})
	}

	// the collector answers status_check probes
	if p, ok := ch.Collector.(Prober); ok {
		ch.Prober = p
	}
	return ch, nil
}

func buildSource(role string, sc config.Source) (Source, error) {
	kind := strings.ToLower(strings.TrimSpace(sc.Kind))
	timeout := time.Duration(sc.TimeoutMs) * time.Millisecond

	switch kind {
	case "", "http":
		if sc.URL == "" {
			observ.Log("source_not_configured", map[string]any{"role": role, "level": "warn"})
			return nil, nil
		}
		observ.Log("source_created", map[string]any{"role": role, "type": "http", "url": sc.URL})
		return NewHTTPSource(role, sc.URL, timeout), nil

	case "binance":
		apiKey := ""
		if sc.APIKeyEnv != "" {
			apiKey = os.Getenv(sc.APIKeyEnv)
		}
		src := NewBinanceSource(apiKey, "", sc.Symbols)
		if sc.URL != "" {
			src.SetBaseURL(sc.URL)
		}
		observ.Log("source_created", map[string]any{
			"role":           role,
			"type":           "binance",
			"symbols":        len(sc.Symbols),
			"api_key_masked": maskAPIKey(apiKey),
		})
		return src, nil

	default:
		return nil, fmt.Errorf("unknown source kind %q for %s", sc.Kind, role)
	}
}

// maskAPIKey masks sensitive API key for logging
func maskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "***" + key[len(key)-4:]
}
