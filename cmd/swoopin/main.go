// Package main implements the entry point for the swoopin automation
// service: webhook ingestion, flow execution and the management API in
// one process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/atharva20-coder/swoopin-sub002/automation"
	"github.com/atharva20-coder/swoopin-sub002/config"
	"github.com/atharva20-coder/swoopin-sub002/counter"
	"github.com/atharva20-coder/swoopin-sub002/dedup"
	flowengine "github.com/atharva20-coder/swoopin-sub002/engine"
	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/flowgraph"
	"github.com/atharva20-coder/swoopin-sub002/health"
	"github.com/atharva20-coder/swoopin-sub002/ingest"
	"github.com/atharva20-coder/swoopin-sub002/metric"
	"github.com/atharva20-coder/swoopin-sub002/natsclient"
	"github.com/atharva20-coder/swoopin-sub002/plan"
	"github.com/atharva20-coder/swoopin-sub002/poller"
	"github.com/atharva20-coder/swoopin-sub002/provider"
	"github.com/atharva20-coder/swoopin-sub002/transcript"
)

// Build information constants.
const (
	Version = "0.1.0"
	appName = "swoopin"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	// Local development convenience; a missing .env is not an error.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("dotenv load failed", "error", err)
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.Validate {
		slog.Info("configuration is valid")
		return nil
	}

	slog.Info("starting swoopin",
		"version", Version,
		"environment", cfg.Service.Environment,
		"nats", cfg.NATS.Enabled(),
		"youtube_poller", cfg.YouTube.Enabled())
	slog.Debug("effective configuration", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	return app.serve(ctx, cfg, cliCfg.ShutdownTimeout)
}

// stores groups the persistence layer. Backed by NATS KV when a NATS URL
// is configured, by process memory otherwise.
type stores struct {
	automations   automation.Store
	integrations  automation.IntegrationStore
	subscriptions plan.SubscriptionStore
	counters      counter.Store
	transcripts   transcript.Store
	dedup         dedup.Store
}

type app struct {
	stores     stores
	natsClient *natsclient.Client
	registry   *metric.Registry
	validator  *flowgraph.CachedValidator
	pipeline   *ingest.Pipeline
	consumer   *ingest.Consumer
	poller     *poller.Poller
	monitor    *health.Monitor
	httpMux    *http.ServeMux
	metricsSrv *metric.Server
	logger     *slog.Logger
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		registry: metric.NewRegistry(),
		monitor:  health.NewMonitor(),
		httpMux:  http.NewServeMux(),
		logger:   logger,
	}

	if err := a.setupStores(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.setupPipeline(ctx, cfg); err != nil {
		return nil, err
	}
	if err := a.setupHTTP(cfg); err != nil {
		return nil, err
	}
	a.setupHealth()
	return a, nil
}

func (a *app) setupStores(ctx context.Context, cfg *config.Config) error {
	if !cfg.NATS.Enabled() {
		a.logger.Warn("no NATS URL configured, using in-memory stores")
		a.stores = stores{
			automations:   automation.NewMemoryStore(),
			integrations:  automation.NewMemoryIntegrationStore(),
			subscriptions: plan.NewMemorySubscriptionStore(),
			counters:      counter.NewMemoryStore(),
			transcripts:   transcript.NewMemoryStore(0),
			dedup:         dedup.NewMemoryStore(dedup.DefaultTTL),
		}
		return nil
	}

	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithLogger(a.logger),
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	client := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	a.natsClient = client

	automations, err := automation.NewKVStore(ctx, client)
	if err != nil {
		return fmt.Errorf("automation store: %w", err)
	}
	integrations, err := automation.NewKVIntegrationStore(ctx, client)
	if err != nil {
		return fmt.Errorf("integration store: %w", err)
	}
	subscriptions, err := plan.NewKVSubscriptionStore(ctx, client)
	if err != nil {
		return fmt.Errorf("subscription store: %w", err)
	}
	counters, err := counter.NewKVStore(ctx, client)
	if err != nil {
		return fmt.Errorf("counter store: %w", err)
	}
	transcripts, err := transcript.NewKVStore(ctx, client, 0)
	if err != nil {
		return fmt.Errorf("transcript store: %w", err)
	}
	dedupStore, err := dedup.NewKVStore(ctx, client, dedup.DefaultTTL)
	if err != nil {
		return fmt.Errorf("dedup store: %w", err)
	}

	a.stores = stores{
		automations:   automations,
		integrations:  integrations,
		subscriptions: subscriptions,
		counters:      counters,
		transcripts:   transcripts,
		dedup:         dedupStore,
	}
	return nil
}

// noAIResponder stands in when no AI key is configured: SMARTAI nodes
// fail fatally instead of panicking on a nil client.
type noAIResponder struct{}

func (noAIResponder) Respond(context.Context, string, []transcript.Entry, string) (string, error) {
	return "", errors.WrapFatal(errors.ErrAIKeyNotSet, "main", "Respond", "no AI key configured")
}

func (a *app) setupPipeline(ctx context.Context, cfg *config.Config) error {
	gate := plan.NewGate(a.stores.subscriptions)

	validator, err := flowgraph.NewCachedValidator(ctx, flowgraph.NewValidator(a.logger), 0, a.logger)
	if err != nil {
		return fmt.Errorf("validator: %w", err)
	}
	a.validator = validator

	messenger := provider.NewMessenger(a.stores.integrations, a.logger,
		provider.WithMessengerMetrics(a.registry.Core))

	var ai transcript.AIResponder = noAIResponder{}
	if cfg.AI.APIKey != "" {
		client, err := provider.NewAIClient(ctx, cfg.AI.APIKey, a.logger)
		if err != nil {
			return fmt.Errorf("AI client: %w", err)
		}
		ai = client
	} else {
		a.logger.Warn("no AI key configured, SMARTAI nodes will fail")
	}

	registry := flowengine.NewRegistry()
	flowengine.RegisterDefaults(registry, flowengine.ExecutorDeps{
		Messenger:   messenger,
		AI:          ai,
		Transcripts: a.stores.transcripts,
		Counters:    a.stores.counters,
		Logger:      a.logger,
	})

	engine := flowengine.NewEngine(a.stores.automations, gate, validator, registry, a.logger, a.registry.Core)
	matcher := automation.NewMatcher(a.stores.automations, a.logger)
	continuation := transcript.NewContinuation(a.stores.automations, gate,
		a.stores.transcripts, a.stores.counters, ai, messenger, a.logger)

	a.pipeline = ingest.NewPipeline(matcher, engine, a.stores.dedup, continuation, a.logger, a.registry.Core)

	if a.natsClient != nil {
		consumer, err := ingest.NewConsumer(a.natsClient, a.pipeline, ingest.ConsumerConfig{
			Workers:    cfg.Workers.Count,
			QueueSize:  cfg.Workers.QueueSize,
			JobTimeout: cfg.Workers.JobTimeout,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("consumer: %w", err)
		}
		a.consumer = consumer
	}

	if cfg.YouTube.Enabled() {
		ytClient := provider.NewYouTubeClient(cfg.YouTube.ClientID, cfg.YouTube.ClientSecret, a.logger)
		sink, err := a.pollerSink(ctx)
		if err != nil {
			return err
		}
		p, err := poller.New(ctx, a.stores.integrations, ytClient, sink, poller.Config{
			Interval:   cfg.YouTube.PollInterval,
			MaxResults: cfg.YouTube.MaxResults,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("poller: %w", err)
		}
		a.poller = p
	}
	return nil
}

func (a *app) pollerSink(ctx context.Context) (poller.Sink, error) {
	if a.natsClient == nil {
		return &poller.InlineSink{Pipeline: a.pipeline}, nil
	}
	pub, err := ingest.NewJetStreamPublisher(ctx, a.natsClient)
	if err != nil {
		return nil, fmt.Errorf("poller publisher: %w", err)
	}
	return pub, nil
}

func (a *app) setupHTTP(cfg *config.Config) error {
	gate := plan.NewGate(a.stores.subscriptions)

	api := ingest.NewAPIService(a.stores.automations, gate, flowgraph.NewValidator(a.logger), a.logger)
	api.RegisterHTTPHandlers(cfg.HTTP.APIPrefix, a.httpMux)

	if cfg.Webhook.AppSecret != "" {
		signer, err := ingest.NewSigner(cfg.Webhook.AppSecret, cfg.Webhook.NextAppSecret)
		if err != nil {
			return fmt.Errorf("webhook signer: %w", err)
		}
		var publisher ingest.Publisher
		if a.natsClient != nil {
			pub, err := ingest.NewJetStreamPublisher(context.Background(), a.natsClient)
			if err != nil {
				return fmt.Errorf("webhook publisher: %w", err)
			}
			publisher = pub
		}
		receiver := ingest.NewReceiver(signer, cfg.Webhook.VerifyToken, publisher, a.pipeline, a.logger)
		receiver.RegisterHTTPHandlers(cfg.HTTP.APIPrefix, a.httpMux)
	} else {
		a.logger.Warn("no webhook app secret configured, webhook endpoints disabled")
	}

	health.NewHandler(a.monitor, appName, a.logger).RegisterHTTPHandlers(a.httpMux)

	if cfg.Metrics.Addr != "" {
		a.metricsSrv = metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, a.registry, a.logger)
	}
	return nil
}

func (a *app) setupHealth() {
	a.monitor.Update("pipeline", health.Healthy("pipeline", "running"))
	if a.natsClient != nil {
		a.monitor.RegisterChecker("nats", func() health.Status {
			if a.natsClient.IsConnected() {
				return health.Healthy("nats", "connected")
			}
			return health.Unhealthy("nats", "disconnected")
		})
	}
}

func (a *app) serve(ctx context.Context, cfg *config.Config, shutdownTimeout time.Duration) error {
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Start(); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Start(ctx); err != nil {
			return fmt.Errorf("start consumer: %w", err)
		}
	}
	if a.poller != nil {
		go func() {
			if err := a.poller.Run(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("poller stopped", "error", err)
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           a.httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErr <- err
		}
	}()

	select {
	case err := <-httpErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down", "timeout", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown incomplete", "error", err)
	}
	if a.consumer != nil {
		a.consumer.Stop()
	}
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Stop(shutdownCtx); err != nil {
			a.logger.Warn("metrics shutdown incomplete", "error", err)
		}
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *app) close() {
	if a.validator != nil {
		if err := a.validator.Close(); err != nil {
			a.logger.Warn("validator close failed", "error", err)
		}
	}
	if a.natsClient != nil {
		if err := a.natsClient.Close(); err != nil {
			a.logger.Warn("NATS close failed", "error", err)
		}
	}
}
