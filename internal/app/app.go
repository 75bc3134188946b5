package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"CatalogEnricher/internal/backoff"
	"CatalogEnricher/internal/config"
	"CatalogEnricher/internal/domain"
	"CatalogEnricher/internal/infrastructure/asset"
	"CatalogEnricher/internal/infrastructure/llm"
	"CatalogEnricher/internal/infrastructure/scheduler"
	"CatalogEnricher/internal/infrastructure/storage"
	"CatalogEnricher/internal/infrastructure/telegram"
	"CatalogEnricher/internal/logging"
	"CatalogEnricher/internal/metrics"
	"CatalogEnricher/internal/ports"
	"CatalogEnricher/internal/provider"
	"CatalogEnricher/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg          config.Config
	logger       *slog.Logger
	store        *storage.SQLStore
	orchestrator *usecase.Orchestrator
	registry     *prometheus.Registry
}

// New validates cfg, opens the record store and builds the orchestrator.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	registry := provider.NewRegistry(
		llm.NewGeminiClient(cfg.Inference),
		llm.NewOpenAIClient(cfg.Inference),
	)
	invoker, err := registry.Resolve(cfg.Inference.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	store, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, baseLogger.With("component", "storage"))
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(promRegistry)

	retryLogger := baseLogger.With("component", "backoff")
	retry := backoff.New(backoff.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      cfg.Retry.Jitter,
	}, backoff.WithWaitObserver(func(attempt int, delay time.Duration) {
		recorder.Wait(delay)
		retryLogger.Info("backing off after throttle", "attempt", attempt, "delay", delay)
	}))

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.Enabled() {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
	}

	orchestrator := usecase.NewOrchestrator(usecase.OrchestratorConfig{
		BatchSize:         cfg.Run.BatchSize,
		MaxItemsPerRun:    cfg.Run.MaxItemsPerRun,
		ItemPacing:        cfg.Run.ItemPacing,
		BatchCooldown:     cfg.Run.BatchCooldown,
		DescriptionBudget: cfg.Run.DescriptionBudget,
		Schema:            cfg.Schema,
		Selection: usecase.SelectorConfig{
			Order:      cfg.Run.Order,
			Seed:       cfg.Run.Seed,
			SamplePool: cfg.Run.SamplePool,
		},
	}, usecase.OrchestratorDeps{
		Store:    store,
		Assets:   asset.NewFetcher(nil, cfg.Assets.Timeout, cfg.Assets.MaxBytes, baseLogger.With("component", "asset")),
		Invoker:  invoker,
		Retry:    retry,
		Notifier: notifier,
		Metrics:  recorder,
		Logger:   baseLogger.With("component", "orchestrator"),
	})

	return &Application{
		cfg:          cfg,
		logger:       baseLogger,
		store:        store,
		orchestrator: orchestrator,
		registry:     promRegistry,
	}, nil
}

// Run performs a single enrichment run.
func (a *Application) Run(ctx context.Context) (domain.RunSummary, error) {
	return a.orchestrator.Run(ctx)
}

// Watch starts a run every scheduler interval and serves /metrics when an
// address is configured. It blocks until ctx is done.
func (a *Application) Watch(ctx context.Context) error {
	var server *http.Server
	serverErr := make(chan error, 1)
	if a.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
		server = &http.Server{
			Addr:              a.cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("metrics endpoint listening", "addr", a.cfg.Metrics.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	sched := usecase.NewScheduler(
		scheduler.NewIntervalScheduler(a.cfg.Scheduler.Interval),
		a.orchestrator,
		a.logger.With("component", "scheduler"),
	)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("watch mode started", "interval", a.cfg.Scheduler.Interval)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		runErr = fmt.Errorf("metrics server: %w", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if server != nil {
		_ = server.Shutdown(shutdownCtx)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop", "error", err)
	}
	return runErr
}

// Close releases the record store.
func (a *Application) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// Backlog reports how many records still await enrichment. It needs only the
// database section of cfg.
func Backlog(ctx context.Context, cfg config.Config, logger *slog.Logger) (int, error) {
	store, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return 0, fmt.Errorf("open record store: %w", err)
	}
	defer store.Close()
	return store.CountUnanalyzed(ctx)
}
