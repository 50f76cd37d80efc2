package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/haasonsaas/adpilot/internal/gateway"
)

// runServe wires the agent, starts the Ads server and serves until a signal
// arrives.
func runServe(ctx context.Context, opts *rootOptions, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, opts, false)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	cfg := a.cfg.Gateway
	if addr != "" {
		cfg.Addr = addr
	}

	a.logger.Info("starting adpilot gateway",
		"version", version,
		"commit", commit,
		"addr", cfg.Addr,
		"auth", cfg.Auth.Enabled(),
	)

	serverOpts := []gateway.Option{
		gateway.WithMetrics(a.metrics),
		gateway.WithLogger(a.logger),
	}
	if a.bridge != nil {
		// Started eagerly so /healthz reflects the real state. A failed start
		// leaves the bridge terminated and /healthz degraded.
		if _, err := a.ads.ready(ctx); err != nil {
			a.logger.Warn("google ads server failed to start", "error", err)
		}
		serverOpts = append(serverOpts, gateway.WithBridge(a.bridge))
	} else {
		a.logger.Warn("google ads server not configured; ads tools will fail")
	}

	err = gateway.New(cfg, a.runner, serverOpts...).ListenAndServe(ctx)
	slog.Info("gateway stopped")
	return err
}
