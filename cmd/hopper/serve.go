package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/hopper/internal/audit"
	"github.com/haasonsaas/hopper/internal/config"
	"github.com/haasonsaas/hopper/internal/dispatch"
	"github.com/haasonsaas/hopper/internal/monitors"
	"github.com/haasonsaas/hopper/internal/observability"
	"github.com/haasonsaas/hopper/internal/perception"
	"github.com/haasonsaas/hopper/internal/providers"
	"github.com/haasonsaas/hopper/internal/registry"
	"github.com/haasonsaas/hopper/internal/tools/filesystem"
	"github.com/haasonsaas/hopper/internal/tools/system"
	"github.com/haasonsaas/hopper/pkg/toolsdk"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Hopper assistant core",
		Long: `Start the assistant core with all configured components.

The server will:
1. Load configuration from the specified file (or hopper.yaml)
2. Register the built-in tools and build the capability catalog
3. Start the perception event bus and background monitors
4. Initialize the planning provider (Anthropic or OpenAI)
5. Serve Prometheus metrics when enabled

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func buildPlanCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "plan [request]",
		Short: "Dispatch a single request and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.Context(), resolveConfigPath(configPath), args[0], userID, dryRun)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&userID, "user", "u", "default", "User the request is dispatched for")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Generate and print the plan without executing it")

	return cmd
}

// core bundles the wired components shared by serve and plan.
type core struct {
	cfg        *config.Config
	logger     *observability.Logger
	metrics    *observability.Metrics
	registry   *registry.Registry
	bus        *perception.Bus
	dispatcher *dispatch.Dispatcher
	audit      *audit.Store

	shutdownTracing func(context.Context) error
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildCore wires one registry, one bus, and one dispatcher for the process.
func buildCore(ctx context.Context, cfg *config.Config, debug bool) (*core, error) {
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	traceCfg := observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Attributes:     cfg.Tracing.Attributes,
		EnableInsecure: cfg.Tracing.Insecure,
	}
	if cfg.Tracing.Enabled {
		traceCfg.Endpoint = cfg.Tracing.Endpoint
	}
	tracer, shutdownTracing := observability.NewTracer(traceCfg)

	reg := registry.New(logger, metrics)
	if root := cfg.Tools.Filesystem.Root; root != "" {
		fsCfg := filesystem.Config{
			Root:         root,
			MaxReadBytes: cfg.Tools.Filesystem.MaxReadBytes,
			Logger:       logger,
		}
		reg.RegisterFactory("filesystem", func(ctx context.Context) (toolsdk.Tool, error) {
			t, err := filesystem.New(fsCfg)
			if err != nil {
				return nil, err
			}
			return t, nil
		})
	}
	sysCfg := system.Config{
		AllowedCommands: cfg.Tools.System.AllowedCommands,
		Timeout:         cfg.Tools.System.Timeout,
		Logger:          logger,
	}
	reg.RegisterFactory("system", func(ctx context.Context) (toolsdk.Tool, error) {
		return system.New(sysCfg), nil
	})
	reg.DiscoverAndLoadAll(ctx)
	for _, id := range cfg.Tools.Disabled {
		reg.SetEnabled(id, false)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	var store *audit.Store
	if cfg.Audit.Path != "" {
		store, err = audit.Open(cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
	}

	bus := perception.NewBus(perception.Options{
		QueueSize:   cfg.Bus.QueueSize,
		HistorySize: cfg.Bus.HistorySize,
		Logger:      logger,
		Metrics:     metrics,
	})

	opts := dispatch.Options{
		Registry: reg,
		Provider: provider,
		Logger:   logger,
		Metrics:  metrics,
		Tracer:   tracer,
		Config:   cfg.Dispatcher,
	}
	if store != nil {
		opts.Audit = store
	}
	dispatcher, err := dispatch.New(opts)
	if err != nil {
		return nil, err
	}

	return &core{
		cfg:             cfg,
		logger:          logger,
		metrics:         metrics,
		registry:        reg,
		bus:             bus,
		dispatcher:      dispatcher,
		audit:           store,
		shutdownTracing: shutdownTracing,
	}, nil
}

func buildProvider(cfg *config.Config) (providers.Provider, error) {
	name := cfg.LLM.DefaultProvider
	pc := cfg.LLM.Providers[name]

	switch name {
	case "anthropic":
		key := pc.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       key,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
			MaxTokens:    pc.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "openai":
		key := pc.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       key,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
			MaxTokens:    pc.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := buildCore(ctx, cfg, debug)
	if err != nil {
		return err
	}
	logger := c.logger

	c.bus.Start(ctx)
	if _, err := perception.NewAdapter(perception.AdapterOptions{
		Bus:        c.bus,
		Dispatcher: c.dispatcher,
		Logger:     logger,
	}); err != nil {
		return err
	}

	var sysMon *monitors.SystemMonitor
	if cfg.Monitors.System.Enabled {
		sysMon = monitors.NewSystemMonitor(c.bus, monitors.SystemMonitorOptions{
			Schedule:        cfg.Monitors.System.Schedule,
			CPUThreshold:    cfg.Monitors.System.CPUThreshold,
			MemoryThreshold: cfg.Monitors.System.MemoryThreshold,
			DiskThreshold:   cfg.Monitors.System.DiskThreshold,
			Logger:          logger,
			Metrics:         c.metrics,
		})
		if err := sysMon.Start(ctx); err != nil {
			return err
		}
	}

	var watcher *monitors.Watcher
	if cfg.Monitors.Watcher.Enabled {
		watcher = monitors.NewWatcher(c.bus, monitors.WatcherOptions{
			Paths:   cfg.Monitors.Watcher.Paths,
			Logger:  logger,
			Metrics: c.metrics,
		})
		if err := watcher.Start(ctx); err != nil {
			logger.Warn(ctx, "filesystem watcher disabled", "error", err)
			watcher = nil
		}
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info(ctx, "metrics endpoint listening", "addr", cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(ctx, "metrics server failed", "error", err)
			}
		}()
	}

	// Expired confirmations are swept periodically so suspended plans do
	// not pile up between user interactions.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.dispatcher.Confirmations().Sweep(); n > 0 {
					logger.Info(ctx, "expired suspended plans swept", "count", n)
				}
			}
		}
	}()

	logger.Info(ctx, "hopper started",
		"version", version, "tools", c.registry.Count())

	<-ctx.Done()
	logger.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if metricsSrv != nil {
		metricsSrv.Shutdown(shutdownCtx)
	}
	if watcher != nil {
		watcher.Stop()
	}
	if sysMon != nil {
		sysMon.Stop()
	}
	c.bus.Stop()
	for _, err := range c.registry.DisconnectAll(shutdownCtx) {
		logger.Warn(shutdownCtx, "tool disconnect failed", "error", err)
	}
	if c.audit != nil {
		c.audit.Close()
	}
	c.shutdownTracing(shutdownCtx)
	return nil
}

func runPlan(ctx context.Context, configPath, text, userID string, dryRun bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	c, err := buildCore(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer func() {
		c.registry.DisconnectAll(ctx)
		if c.audit != nil {
			c.audit.Close()
		}
	}()

	if dryRun {
		plan, err := c.dispatcher.GeneratePlan(ctx, text, userID)
		if err != nil {
			return err
		}
		return printJSON(plan)
	}

	outcome, err := c.dispatcher.Dispatch(ctx, text, userID)
	if err != nil {
		return err
	}
	if outcome.Suspended() {
		fmt.Printf("Plan suspended: %s\n", outcome.Confirmation.Reason)
		fmt.Printf("Confirm or cancel with id %s before %s\n",
			outcome.Confirmation.ID, outcome.Confirmation.ExpiresAt.Format(time.RFC3339))
		return printJSON(outcome.Confirmation.Result)
	}
	return printJSON(outcome.Result)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
