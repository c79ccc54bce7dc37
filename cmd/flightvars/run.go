package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	flightvars "github.com/eugener/flightvars/internal"
	"github.com/eugener/flightvars/internal/actor"
	"github.com/eugener/flightvars/internal/bridge"
	"github.com/eugener/flightvars/internal/cache"
	"github.com/eugener/flightvars/internal/config"
	"github.com/eugener/flightvars/internal/ratelimit"
	"github.com/eugener/flightvars/internal/server"
	"github.com/eugener/flightvars/internal/storage/sqlite"
	"github.com/eugener/flightvars/internal/telemetry"
	"github.com/eugener/flightvars/internal/webhook"
	"github.com/eugener/flightvars/internal/worker"
)

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	slog.Info("starting flightvars", "version", version, "addr", cfg.Server.Addr, "device", cfg.Worker.Device)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Open database
	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Bootstrap from config
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}

	// Telemetry
	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
	)
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	if t := cfg.Telemetry.Tracing; t.Enabled {
		shutdownTracing, err := telemetry.SetupTracing(ctx, t.Endpoint, t.SampleRate)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	lastValues, err := cache.NewMemory(cfg.Cache.MaxSize, cfg.Cache.TTL)
	if err != nil {
		return err
	}

	watch, err := cfg.WatchVars()
	if err != nil {
		return err
	}

	// Background workers outlive the bridge so that its final events are
	// journalled and delivered.
	var background []worker.Worker
	bcfg := bridge.Config{
		Cache:   lastValues,
		Logger:  logger.With("worker", cfg.Worker.Name),
		Metrics: metrics,
		Watch:   watch,
	}
	if cfg.Journal.Enabled {
		recorder := worker.NewEventRecorder(store, worker.RecorderConfig{
			BufferSize:    cfg.Journal.BufferSize,
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			Metrics:       metrics,
		})
		bcfg.Recorder = recorder
		background = append(background, recorder)
		if cfg.Journal.Retention > 0 {
			background = append(background, worker.NewJournalPruner(store, cfg.Journal.Retention, cfg.Journal.PruneInterval))
		}
	}

	// Spawn the bridge actor
	stub := actor.Spawn[flightvars.Command](
		bridge.Factory(ctx, cfg.Worker.Device, store, bcfg),
		actor.WithName(cfg.Worker.Name),
		actor.WithPollInterval(cfg.Worker.PollInterval),
		actor.WithLogger(logger),
		actor.WithMetrics(metrics),
		actor.WithTracer(telemetry.Tracer("github.com/eugener/flightvars/internal/actor")),
	)

	if len(cfg.Webhooks.Endpoints) > 0 {
		resolver := &dnscache.Resolver{}
		notifier := webhook.New(webhookEndpoints(cfg.Webhooks.Endpoints), webhook.Options{
			QueueSize: cfg.Webhooks.QueueSize,
			Breaker: webhook.BreakerConfig{
				Failures:    cfg.Webhooks.BreakerFailures,
				OpenTimeout: cfg.Webhooks.BreakerTimeout,
			},
			Resolver: resolver,
			Logger:   logger,
			Metrics:  metrics,
		})
		commands := stub.Consumer()
		for _, cmd := range notifier.Subscriptions() {
			if err := commands.Consume(cmd); err != nil {
				commands.Close()
				stub.Shutdown()
				return fmt.Errorf("subscribe webhooks: %w", err)
			}
		}
		commands.Close()
		background = append(background, notifier, worker.NewDNSRefresher(resolver, cfg.Webhooks.DNSRefresh))
	}

	var writeLimiter *ratelimit.Registry
	if cfg.Server.WriteRateLimit > 0 {
		writeLimiter = ratelimit.NewRegistry(cfg.Server.WriteRateLimit)
		background = append(background, worker.NewLimiterEvictor(writeLimiter, 10*time.Minute))
	}

	// Create HTTP server
	handler := server.New(server.Deps{
		Commands:       stub.Consumer(),
		Cache:          lastValues,
		Events:         eventQuerier(cfg, store),
		ReadyCheck:     readyCheck(stub, store),
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		WriteKey:       cfg.Auth.WriteKey,
		WriteLimiter:   writeLimiter,
		KeepAlive:      cfg.Server.KeepAlive,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		// Streams end when the process starts shutting down.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// Both groups run on their own contexts: the signal only stops HTTP,
	// and the groups are stopped in order once the server has drained.
	bridgeGroup := worker.NewRunner(worker.NewActorWorker(stub)).Start()
	bgGroup := worker.NewRunner(background...).Start()

	srvErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	slog.Info("flightvars ready", "addr", cfg.Server.Addr)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-srvErr:
		runErr = err
	case <-bridgeGroup.Done():
		slog.Warn("bridge worker stopped, shutting down")
	case <-bgGroup.Done():
		slog.Warn("background worker stopped, shutting down")
	}
	stop()

	// Shutdown: HTTP first, then the bridge, then the workers it feeds.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if err := bridgeGroup.Stop(); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if err := bgGroup.Stop(); err != nil {
		runErr = errors.Join(runErr, err)
	}

	if runErr != nil {
		return runErr
	}
	slog.Info("flightvars stopped")
	return nil
}

func newLogger(c config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if strings.EqualFold(c.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func webhookEndpoints(entries []config.WebhookEntry) []webhook.Endpoint {
	out := make([]webhook.Endpoint, 0, len(entries))
	for _, e := range entries {
		ep := webhook.Endpoint{Name: e.Name, URL: e.URL, Secret: e.Secret, Timeout: e.Timeout}
		for _, r := range e.Vars {
			v, err := r.Var()
			if err != nil {
				continue // rejected by Validate
			}
			ep.Vars = append(ep.Vars, v)
		}
		out = append(out, ep)
	}
	return out
}

func eventQuerier(cfg *config.Config, store *sqlite.Store) server.EventQuerier {
	if !cfg.Journal.Enabled {
		return nil
	}
	return store
}

// readyCheck fails once the bridge worker has stopped or the database is
// unreachable.
func readyCheck(stub *actor.Stub[flightvars.Command], store *sqlite.Store) server.ReadyChecker {
	return func(ctx context.Context) error {
		select {
		case <-stub.Done():
			return fmt.Errorf("%w: bridge worker stopped", flightvars.ErrUnavailable)
		default:
		}
		return store.Ping(ctx)
	}
}
