package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Rajchodisetti/trading-dashboard/internal/adapters"
	"github.com/Rajchodisetti/trading-dashboard/internal/config"
	"github.com/Rajchodisetti/trading-dashboard/internal/feed"
	"github.com/Rajchodisetti/trading-dashboard/internal/keys"
	"github.com/Rajchodisetti/trading-dashboard/internal/notify"
	"github.com/Rajchodisetti/trading-dashboard/internal/observ"
	"github.com/Rajchodisetti/trading-dashboard/internal/providers"
	"github.com/Rajchodisetti/trading-dashboard/internal/status"
	"github.com/Rajchodisetti/trading-dashboard/internal/transport"
)

// app is the fully wired process. Every field is safe to use after buildApp.
type app struct {
	cfg       config.Root
	chain     adapters.Chain
	sink      notify.Sink
	slack     *notify.SlackSink
	store     keys.Store
	channel   transport.Channel
	keys      *keys.Service
	status    *status.Manager
	providers *providers.Store
	streams   []*feed.Stream
	closers   []func()
}

func buildApp(ctx context.Context, cfg config.Root) (*app, error) {
	a := &app{cfg: cfg}

	sinks := notify.Multi{notify.LogSink{}}
	if cfg.Notify.Slack.Enabled {
		a.slack = notify.NewSlackSink(cfg.Notify.Slack)
		sinks = append(sinks, a.slack)
		a.closers = append(a.closers, a.slack.Close)
	}
	a.sink = sinks

	chain, err := adapters.BuildChain(cfg.Sources)
	if err != nil {
		return nil, fmt.Errorf("build source chain: %w", err)
	}
	a.chain = chain

	if err := a.openKeys(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.providers = providers.NewStore(providers.OpenAI)
	a.status = status.NewManager(status.Options{
		Keys:            a.keys,
		Prober:          chain.Prober,
		KeyProvider:     cfg.Status.KeyProvider,
		ForceSimulation: cfg.ForceSimulation,
		ProbeTimeout:    time.Duration(cfg.Status.ProbeTimeoutMs) * time.Millisecond,
		Sink:            a.sink,
	})

	synth := adapters.NewSyntheticGenerator()
	for _, sc := range cfg.Streams {
		st := feed.NewStream(feed.Options{
			Config:          sc,
			Resolver:        feed.NewResolver(sc.Name, chain, synth, a.sink),
			Gate:            a.status,
			ForceSimulation: cfg.ForceSimulation,
		})
		a.streams = append(a.streams, st)
	}

	// entering available fetches right away instead of waiting for the next tick
	a.closers = append(a.closers, a.status.OnAvailable(func() {
		for _, st := range a.streams {
			go st.FetchNow()
		}
	}))
	return a, nil
}

func (a *app) openKeys(ctx context.Context) error {
	cfg := a.cfg.Keys
	if cfg.StorePath != "" {
		s, err := keys.OpenSQLiteStore(cfg.StorePath)
		if err != nil {
			return fmt.Errorf("open key store: %w", err)
		}
		a.store = s
		a.closers = append(a.closers, func() { _ = s.Close() })
	} else {
		a.store = keys.NewMemoryStore()
	}

	if cfg.SeedFromEnv {
		if _, err := keys.SeedFromEnv(ctx, a.store, nil); err != nil {
			return fmt.Errorf("seed keys: %w", err)
		}
	}

	ch, err := transport.Open(ctx, cfg.Channel)
	if err != nil {
		return fmt.Errorf("open broadcast channel: %w", err)
	}
	a.channel = ch
	a.closers = append(a.closers, func() { _ = ch.Close() })

	var checker keys.CapabilityChecker
	if cfg.CapabilityURL != "" {
		checker = keys.NewHTTPCapabilityChecker(cfg.CapabilityURL, time.Duration(cfg.CapabilityTimeoutMs)*time.Millisecond)
	}
	a.keys = keys.NewService(a.store, checker, ch, a.sink)
	return nil
}

func (a *app) start() error {
	for _, st := range a.streams {
		if err := st.Start(); err != nil {
			return fmt.Errorf("start stream %s: %w", st.Name(), err)
		}
	}
	observ.Log("app_started", map[string]any{
		"streams":          len(a.streams),
		"force_simulation": a.cfg.ForceSimulation,
		"key_provider":     a.cfg.Status.KeyProvider,
		"channel":          a.cfg.Keys.Channel.Backend,
	})
	return nil
}

// Close stops streams, then releases resources in reverse order.
func (a *app) Close() {
	for _, st := range a.streams {
		st.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
