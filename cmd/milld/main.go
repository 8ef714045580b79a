package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Patchino76/ok-dashboard-sub002/internal/alert"
	"github.com/Patchino76/ok-dashboard-sub002/internal/bounds"
	"github.com/Patchino76/ok-dashboard-sub002/internal/bus"
	"github.com/Patchino76/ok-dashboard-sub002/internal/circuitbreaker"
	"github.com/Patchino76/ok-dashboard-sub002/internal/config"
	"github.com/Patchino76/ok-dashboard-sub002/internal/dispatch"
	"github.com/Patchino76/ok-dashboard-sub002/internal/domain/model"
	"github.com/Patchino76/ok-dashboard-sub002/internal/poller"
	"github.com/Patchino76/ok-dashboard-sub002/internal/predictor"
	"github.com/Patchino76/ok-dashboard-sub002/internal/registry"
	"github.com/Patchino76/ok-dashboard-sub002/internal/relay"
	"github.com/Patchino76/ok-dashboard-sub002/internal/search"
	"github.com/Patchino76/ok-dashboard-sub002/internal/server"
	"github.com/Patchino76/ok-dashboard-sub002/internal/state"
	"github.com/Patchino76/ok-dashboard-sub002/internal/telemetry"
	"github.com/Patchino76/ok-dashboard-sub002/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, "milld", cfg.Tracing.Endpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		logger.Error("tracing init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	reg, err := registry.Load(cfg.Mill.CatalogPath)
	if err != nil {
		logger.Error("load parameter catalog failed", "path", cfg.Mill.CatalogPath, "error", err)
		os.Exit(1)
	}
	store := state.New(reg, cfg.Mill.Number, cfg.Retention(), cfg.DisplayWindow())

	reader := telemetry.NewHTTPReader(cfg.Tags.BaseURL, logger,
		telemetry.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Tags.TimeoutSec) * time.Second}),
		telemetry.WithRateLimit(cfg.Tags.RatePerSecond, cfg.Tags.RateBurst),
	)

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:             "cascade",
		FailureThreshold: cfg.Cascade.BreakerFailures,
		OpenTimeout:      time.Duration(cfg.Cascade.BreakerOpenSec) * time.Second,
	})
	client := predictor.NewHTTPClient(cfg.Cascade.BaseURL, logger,
		predictor.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Cascade.TimeoutSec) * time.Second}),
		predictor.WithBreaker(breaker),
	)

	alerter := buildAlerter(cfg, logger)

	updates := bus.New[model.PredictionUpdate]()
	notices := bus.New[model.Notice]()

	dispatcher := dispatch.New(store, reg, client, updates, notices, logger,
		dispatch.WithQuiescence(cfg.Debounce()),
		dispatch.WithUncertainty(cfg.Cascade.ReturnUncertainty),
		dispatch.WithAlerter(alerter),
	)
	p := poller.New(store, reg, reader, dispatcher, alerter, logger,
		poller.WithInterval(cfg.PollInterval()),
		poller.WithConcurrency(cfg.Engine.PollConcurrency),
		poller.WithAlertThreshold(cfg.Alert.FailThreshold),
	)
	searcher := search.New(client, logger, search.WithConcurrency(cfg.Engine.SearchConcurrency))
	boundsStore := bounds.New(reg)

	srv := server.New(store, reg, boundsStore, searcher, dispatcher, client, alerter, logger)

	logger.Info("mill engine starting",
		"mill", cfg.Mill.Number,
		"poll_interval", cfg.PollInterval().String(),
		"debounce", cfg.Debounce().String(),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return srv.Run(gctx, cfg.Server.Port) })
	g.Go(func() error { return runMetricsServer(gctx, logger, cfg.Server.MetricsPort) })
	g.Go(func() error { return p.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return logNotices(gctx, notices, logger) })

	if cfg.Redis.URL != "" {
		rel, err := relay.New(cfg.Redis.URL, updates, logger, relay.WithStream(cfg.Redis.Stream))
		if err != nil {
			logger.Error("redis relay init failed", "error", err)
			os.Exit(1)
		}
		defer rel.Close()
		g.Go(func() error { return rel.Run(gctx) })
	}

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			logger.Info("shutdown signal received", "signal", sig.String())
			cancel()
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("mill engine exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("mill engine shut down")
}

func buildAlerter(cfg *config.Config, logger *slog.Logger) alert.Alerter {
	var sinks []alert.Alerter
	if cfg.Alert.SlackWebhookURL != "" {
		sinks = append(sinks, alert.NewSlack(cfg.Alert.SlackWebhookURL))
	}
	if cfg.Alert.WebhookURL != "" {
		sinks = append(sinks, alert.NewWebhook(cfg.Alert.WebhookURL))
	}
	if len(sinks) == 0 {
		return alert.Noop{}
	}
	return alert.NewMulti(time.Duration(cfg.Alert.CooldownMin)*time.Minute, logger, sinks...)
}

// logNotices drains operator notices into the structured log so they are
// visible even when no frontend is attached.
func logNotices(ctx context.Context, notices *bus.Bus[model.Notice], logger *slog.Logger) error {
	id, ch := notices.Subscribe()
	defer notices.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-ch:
			if !ok {
				return nil
			}
			if n.Level == model.NoticeError {
				logger.Error("operator notice", "message", n.Message)
			} else {
				logger.Warn("operator notice", "message", n.Message)
			}
		}
	}
}

func runMetricsServer(ctx context.Context, logger *slog.Logger, port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown error", "error", err)
		}
	}()

	logger.Info("metrics server started", "port", port)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
