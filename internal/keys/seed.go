package keys

import (
	"context"
	"os"
	"strings"

	"github.com/Rajchodisetti/trading-dashboard/internal/observ"
	"github.com/Rajchodisetti/trading-dashboard/internal/providers"
)

// SeedFromEnv copies provider keys found in the environment into the store
// when the store has none for that provider. A nil lookup uses os.LookupEnv.
func SeedFromEnv(ctx context.Context, store Store, lookup func(string) (string, bool)) (int, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	seeded := 0
	for _, p := range providers.All {
		info := p.Info()
		secret, ok := lookup(info.EnvVar)
		secret = strings.TrimSpace(secret)
		if !ok || secret == "" {
			continue
		}
		if _, err := store.Get(ctx, info.ID); err == nil {
			continue
		}
		if err := store.Set(ctx, info.ID, secret); err != nil {
			return seeded, err
		}
		seeded++
	}
	observ.Log("keys_seeded_from_env", map[string]any{"count": seeded})
	return seeded, nil
}
