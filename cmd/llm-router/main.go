package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/voyago/llm-router/internal/classify"
	"github.com/voyago/llm-router/internal/config"
	"github.com/voyago/llm-router/internal/health"
	"github.com/voyago/llm-router/internal/limits"
	"github.com/voyago/llm-router/internal/metrics"
	"github.com/voyago/llm-router/internal/middleware"
	"github.com/voyago/llm-router/internal/providers"
	"github.com/voyago/llm-router/internal/providers/anthropic"
	"github.com/voyago/llm-router/internal/providers/cerebras"
	"github.com/voyago/llm-router/internal/providers/gemini"
	"github.com/voyago/llm-router/internal/providers/groq"
	"github.com/voyago/llm-router/internal/routing"
	"github.com/voyago/llm-router/internal/server"
)

// Application wires the routing service together.
type Application struct {
	config  *config.Config
	engine  *routing.Engine
	server  *server.Server
	store   limits.CounterStore
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewApplication builds the full object graph from configuration.
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("setup logger: %w", err)
	}

	store, err := newCounterStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	guard := limits.NewGuard(store, cfg.Limits.Global, cfg.ProviderRateLimits(), logger)

	registry := health.NewRegistry(providerSpecs(cfg))
	registry.SetCapacityFunc(func(provider string) bool {
		return guard.HasCapacity(context.Background(), provider)
	})

	adapters, err := buildAdapters(cfg, registry, logger)
	if err != nil {
		return nil, err
	}

	classifier := classify.New(cfg.Routing.Thresholds)
	selector := routing.NewSelector(routing.SelectorConfig{
		Chains:                cfg.Routing.Chains,
		Costs:                 cfg.CostTable(),
		EstimatedOutputTokens: cfg.Routing.EstimatedOutputTokens,
	}, registry)

	collectors := metrics.New(prometheus.DefaultRegisterer)
	sink := routing.MultiSink{
		&routing.LogSink{Logger: logger},
		collectors,
	}

	engine := routing.NewEngine(routing.EngineConfig{
		BackoffBase:           cfg.Routing.BackoffBase,
		BackoffMax:            cfg.Routing.BackoffMax,
		Costs:                 cfg.CostTable(),
		EstimatedOutputTokens: cfg.Routing.EstimatedOutputTokens,
	}, classifier, selector, registry, guard, adapters, sink, logger)

	chain := middleware.NewChain(cfg.Security, logger)
	openapi, err := middleware.NewOpenAPIValidator(cfg.OpenAPI, logger)
	if err != nil {
		return nil, fmt.Errorf("openapi validator: %w", err)
	}

	srv := server.New(cfg.Server, engine, chain, openapi, logger)

	return &Application{
		config:  cfg,
		engine:  engine,
		server:  srv,
		store:   store,
		metrics: collectors,
		logger:  logger,
	}, nil
}

// Run blocks until a shutdown signal arrives or the server fails.
func (app *Application) Run() error {
	app.logger.WithField("providers", app.config.EnabledProviders()).Info("starting llm router")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	stopGauges := make(chan struct{})
	go app.refreshGauges(stopGauges)
	defer close(stopGauges)

	serverErrors := make(chan error, 1)
	go func() {
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("shutdown signal received")
	}

	if err := app.server.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := app.store.Close(); err != nil {
		app.logger.WithError(err).Warn("counter store close failed")
	}
	app.logger.Info("shutdown complete")
	return nil
}

// refreshGauges keeps the spend and availability gauges current; the
// event-driven collectors cover everything request-scoped.
func (app *Application) refreshGauges(stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx := context.Background()
			app.metrics.SetDailySpend(app.engine.DailySpend(ctx))
			for _, st := range app.engine.Statuses(ctx) {
				app.metrics.SetAvailability(st.Provider, st.IsAvailable)
			}
		}
	}
}

func newCounterStore(cfg *config.Config, logger *logrus.Logger) (limits.CounterStore, error) {
	if cfg.Redis.Enabled {
		store, err := limits.NewRedisStore(context.Background(), cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.WithField("addr", cfg.Redis.Addr).Info("rate counters backed by redis")
		return store, nil
	}
	return limits.NewMemoryStore(), nil
}

func providerSpecs(cfg *config.Config) []health.ProviderSpec {
	var specs []health.ProviderSpec
	for _, name := range cfg.EnabledProviders() {
		pc := cfg.Providers[name]
		spec := health.ProviderSpec{Name: name}
		for _, key := range pc.Keys {
			spec.Keys = append(spec.Keys, health.KeySpec{
				ID:         key.ID,
				Secret:     key.Secret,
				Type:       key.Type,
				QuotaLimit: key.QuotaLimit,
			})
		}
		specs = append(specs, spec)
	}
	return specs
}

func buildAdapters(cfg *config.Config, keys providers.KeySource, logger *logrus.Logger) (map[string]providers.Adapter, error) {
	adapters := make(map[string]providers.Adapter)
	for _, name := range cfg.EnabledProviders() {
		pc := cfg.Providers[name]
		switch name {
		case cerebras.Name:
			adapters[name] = cerebras.New(&cerebras.Config{
				BaseURL: pc.BaseURL, Model: pc.Model, MaxTokens: pc.MaxTokens,
				Timeout: pc.Timeout, Capacity: pc.Capacity,
			}, keys, logger)
		case groq.Name:
			adapters[name] = groq.New(&groq.Config{
				BaseURL: pc.BaseURL, Model: pc.Model, MaxTokens: pc.MaxTokens,
				Timeout: pc.Timeout, Capacity: pc.Capacity,
			}, keys, logger)
		case gemini.Name:
			adapters[name] = gemini.New(&gemini.Config{
				BaseURL: pc.BaseURL, Model: pc.Model, MaxTokens: pc.MaxTokens,
				Timeout: pc.Timeout, Capacity: pc.Capacity,
			}, keys, logger)
		case anthropic.Name:
			adapters[name] = anthropic.New(&anthropic.Config{
				BaseURL: pc.BaseURL, Model: pc.Model, MaxTokens: pc.MaxTokens,
				Timeout: pc.Timeout, Capacity: pc.Capacity,
			}, keys, logger)
		default:
			return nil, fmt.Errorf("unknown provider %q in configuration", name)
		}
	}
	return adapters, nil
}

func setupLogger(logger *logrus.Logger, cfg config.LoggingConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start: %v\n", err)
		os.Exit(1)
	}
	if err := app.Run(); err != nil {
		app.logger.WithError(err).Fatal("application terminated")
	}
}
