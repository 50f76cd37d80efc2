package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/haasonsaas/adpilot/internal/agent"
	"github.com/haasonsaas/adpilot/internal/agent/providers"
	"github.com/haasonsaas/adpilot/internal/audit"
	"github.com/haasonsaas/adpilot/internal/config"
	"github.com/haasonsaas/adpilot/internal/mcp"
	"github.com/haasonsaas/adpilot/internal/observability"
	"github.com/haasonsaas/adpilot/internal/secrets"
	"github.com/haasonsaas/adpilot/internal/tools/ads"
	"github.com/haasonsaas/adpilot/internal/tools/notify"
	"github.com/haasonsaas/adpilot/internal/tools/research"
	"github.com/haasonsaas/adpilot/internal/workflows"
)

// errAdsNotConfigured is returned by Ads tools when no MCP server command is set.
var errAdsNotConfigured = errors.New("google ads server is not configured (set ads.mcp.command)")

// app holds the wired components for one CLI invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	bridge   *mcp.Bridge
	ads      *lazyAds
	audit    *audit.Store
	notifier *notify.Notifier
	loop     *agent.Loop
	runner   *workflows.Runner

	closers []func(context.Context) error
}

// loadConfig loads the file, resolves credentials and configures logging.
// Nothing that spawns processes or opens connections happens here.
func loadConfig(opts *rootOptions) (*config.Config, *slog.Logger, *secrets.Store, error) {
	cfg, err := config.Load(opts.resolveConfigPath())
	if err != nil {
		return nil, nil, nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	logger := observability.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	store, err := secrets.Open()
	if err != nil {
		logger.Debug("keychain unavailable, using environment only", "error", err)
	}
	if err := cfg.ResolveSecrets(store); err != nil {
		logger.Warn("failed to resolve some credentials", "error", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, store, nil
}

// newApp wires the agent. The Ads server is started on first use unless
// startBridge is set.
func newApp(ctx context.Context, opts *rootOptions, startBridge bool) (*app, error) {
	cfg, logger, _, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, metrics: observability.NewMetrics()}

	tracer, shutdown := observability.NewTracer(cfg.Tracing)
	a.tracer = tracer
	a.closers = append(a.closers, shutdown)

	if err := a.wire(ctx, startBridge); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, startBridge bool) error {
	cfg := a.cfg

	provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		DefaultModel: cfg.LLM.Model,
		Timeout:      cfg.LLM.Timeout,
		Retry:        cfg.LLM.Retry,
		Logger:       a.logger,
	})
	if err != nil {
		return fmt.Errorf("%w (set %s or llm.api_key)", err, secrets.AnthropicAPIKey)
	}

	registry := agent.NewToolRegistry()

	if cfg.Ads.MCP.Command != "" {
		a.bridge = mcp.New(cfg.Ads.BridgeConfig(), a.logger,
			mcp.WithMetrics(a.metrics),
			mcp.WithTracer(a.tracer),
		)
		a.closers = append(a.closers, func(context.Context) error { return a.bridge.Stop() })
		if startBridge {
			if err := a.bridge.Start(ctx); err != nil {
				return err
			}
		}
	}
	a.ads = &lazyAds{bridge: a.bridge}
	if err := ads.Register(registry, a.ads, a.logger); err != nil {
		return err
	}

	if cfg.Research.BaseURL != "" {
		client, err := research.NewClient(cfg.Research, a.logger, research.WithMetrics(a.metrics))
		if err != nil {
			return err
		}
		if err := research.Register(registry, client); err != nil {
			return err
		}
	} else {
		a.logger.Debug("research API not configured, research tools disabled")
	}

	a.notifier = notify.New(cfg.Notify, a.logger)
	if a.notifier.Enabled() {
		if err := notify.Register(registry, a.notifier); err != nil {
			return err
		}
	}

	loopOpts := []agent.LoopOption{agent.WithMetrics(a.metrics), agent.WithTracer(a.tracer)}
	if cfg.Audit.Enabled {
		store, err := audit.Open(ctx, cfg.Audit, a.logger)
		if err != nil {
			return err
		}
		a.audit = store
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		loopOpts = append(loopOpts, agent.WithRecorder(store))
	}

	loopCfg := cfg.Loop
	if loopCfg.Model == "" {
		loopCfg.Model = cfg.LLM.Model
	}
	a.loop = agent.NewLoop(provider, registry, loopCfg, a.logger, loopOpts...)
	a.runner = workflows.NewRunner(a.loop, a.logger)
	return nil
}

// Close releases everything in reverse order of creation.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// lazyAds starts the bridge on the first Ads call so commands that never
// touch Google Ads do not spawn the server.
type lazyAds struct {
	bridge *mcp.Bridge
	once   sync.Once
	err    error
}

func (l *lazyAds) ready(ctx context.Context) (*mcp.Bridge, error) {
	if l.bridge == nil {
		return nil, errAdsNotConfigured
	}
	l.once.Do(func() {
		if l.bridge.State() == mcp.StateUninitialized {
			l.err = l.bridge.Start(ctx)
		}
	})
	if l.err != nil {
		return nil, l.err
	}
	return l.bridge, nil
}

func (l *lazyAds) ListAccounts(ctx context.Context) (any, error) {
	b, err := l.ready(ctx)
	if err != nil {
		return nil, err
	}
	return b.ListAccounts(ctx)
}

func (l *lazyAds) Query(ctx context.Context, customerID, query string) (any, error) {
	b, err := l.ready(ctx)
	if err != nil {
		return nil, err
	}
	return b.Query(ctx, customerID, query)
}

func (l *lazyAds) Mutate(ctx context.Context, req mcp.MutateRequest) (any, error) {
	b, err := l.ready(ctx)
	if err != nil {
		return nil, err
	}
	return b.Mutate(ctx, req)
}

func stderrf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}
