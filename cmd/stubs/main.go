package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/Rajchodisetti/trading-dashboard/internal/adapters"
	"github.com/Rajchodisetti/trading-dashboard/internal/observ"
	"github.com/Rajchodisetti/trading-dashboard/internal/stubs"
)

// Serves the primary, collector, validation and capability stand-ins on one
// port. Failure switches: POST /admin/fail/{endpoint}?on=true|false
func serveAction(ctx context.Context, cmd *cli.Command) error {
	if err := observ.Init(cmd.String("log-level")); err != nil {
		return err
	}
	defer func() { _ = observ.Sync() }()

	up := stubs.NewUpstream(adapters.NewSyntheticGenerator())
	for _, svc := range cmd.StringSlice("keys") {
		up.SetKey(strings.ToLower(strings.TrimSpace(svc)), true)
	}
	for _, ep := range cmd.StringSlice("fail") {
		up.SetFailing(strings.TrimSpace(ep), true)
	}

	addr := fmt.Sprintf(":%d", cmd.Int("port"))
	srv := &http.Server{Addr: addr, Handler: up.Router(), ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		observ.Log("stubs_listening", map[string]any{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	cmd := &cli.Command{
		Name:  "stubs",
		Usage: "Local stand-ins for the remote market data endpoints",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8081},
			&cli.StringSliceFlag{Name: "keys", Usage: "services the capability check reports as configured"},
			&cli.StringSliceFlag{Name: "fail", Usage: "endpoints that start out failing"},
			&cli.StringFlag{Name: "log-level", Value: "info"},
		},
		Action: serveAction,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
