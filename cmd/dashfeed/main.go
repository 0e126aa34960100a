package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/Rajchodisetti/trading-dashboard/internal/config"
	"github.com/Rajchodisetti/trading-dashboard/internal/feed"
	"github.com/Rajchodisetti/trading-dashboard/internal/observ"
	"github.com/Rajchodisetti/trading-dashboard/internal/server"
)

func loadConfig(cmd *cli.Command) (config.Root, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return cfg, err
	}
	if cmd.Bool("force-simulation") {
		cfg.ForceSimulation = true
	}
	if addr := cmd.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if err := observ.Init(cfg.LogLevel); err != nil {
		return cfg, fmt.Errorf("init logging: %w", err)
	}
	return cfg, nil
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = observ.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := server.New(server.Deps{
		Streams:   a.streams,
		Status:    a.status,
		Keys:      a.keys,
		Providers: a.providers,
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		observ.Log("http_listening", map[string]any{"addr": cfg.Server.Addr})
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if err := a.start(); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		observ.Log("shutdown_requested", nil)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func snapshotAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	name := cmd.String("stream")
	var target *feed.Stream
	for _, st := range a.streams {
		if st.Name() == name {
			target = st
		}
	}
	if target == nil {
		return fmt.Errorf("unknown stream %q", name)
	}

	done := make(chan feed.Snapshot, 1)
	unsubscribe := target.Subscribe(func(s feed.Snapshot) {
		if s.InFlight {
			return
		}
		select {
		case done <- s:
		default:
		}
	})
	defer unsubscribe()

	if !cfg.ForceSimulation && !a.status.Tick(ctx) {
		observ.Log("snapshot_gate_closed", map[string]any{"status": string(a.status.Status()), "level": "warn"})
	}
	target.Refresh()

	timeout := time.Duration(cmd.Int("timeout-seconds")) * time.Second
	select {
	case snap := <-done:
		return printJSON(snap)
	case <-time.After(timeout):
		return fmt.Errorf("no snapshot within %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func keysCommand() *cli.Command {
	withKeys := func(fn func(ctx context.Context, a *app, cmd *cli.Command) error) cli.ActionFunc {
		return func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return fn(ctx, a, cmd)
		}
	}
	provider := func(cmd *cli.Command) (string, error) {
		p := cmd.Args().First()
		if p == "" {
			return "", errors.New("provider argument is required")
		}
		return p, nil
	}

	return &cli.Command{
		Name:  "keys",
		Usage: "Inspect and manage provider API keys",
		Commands: []*cli.Command{
			{
				Name:      "check",
				Usage:     "Report whether a provider (or \"any\") has a key",
				ArgsUsage: "<provider|any>",
				Action: withKeys(func(ctx context.Context, a *app, cmd *cli.Command) error {
					return printJSON(a.keys.CheckAvailability(ctx, cmd.Args().First()))
				}),
			},
			{
				Name:      "save",
				Usage:     "Store a key for a provider",
				ArgsUsage: "<provider> <secret>",
				Action: withKeys(func(ctx context.Context, a *app, cmd *cli.Command) error {
					p, err := provider(cmd)
					if err != nil {
						return err
					}
					secret := cmd.Args().Get(1)
					if secret == "" {
						secret = os.Getenv("DASHFEED_SECRET")
					}
					if err := a.keys.SaveKey(ctx, p, secret); err != nil {
						return err
					}
					return printJSON(a.keys.CheckAvailability(ctx, p))
				}),
			},
			{
				Name:      "remove",
				Usage:     "Delete the stored key for a provider",
				ArgsUsage: "<provider>",
				Action: withKeys(func(ctx context.Context, a *app, cmd *cli.Command) error {
					p, err := provider(cmd)
					if err != nil {
						return err
					}
					return a.keys.RemoveKey(ctx, p)
				}),
			},
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	cmd := &cli.Command{
		Name:  "dashfeed",
		Usage: "Market data acquisition for the trading dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config; a missing file means defaults",
				Value:   "config/dashfeed.yaml",
				Sources: cli.EnvVars("DASHFEED_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "force-simulation",
				Usage: "Serve synthetic data and make no remote calls",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Poll market data and serve the HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "Listen address (overrides config)"},
				},
				Action: runAction,
			},
			{
				Name:  "snapshot",
				Usage: "Fetch one snapshot of a stream and print it",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "stream", Aliases: []string{"s"}, Value: "market-table"},
					&cli.IntFlag{Name: "timeout-seconds", Value: 30},
				},
				Action: snapshotAction,
			},
			keysCommand(),
		},
		DefaultCommand: "run",
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
