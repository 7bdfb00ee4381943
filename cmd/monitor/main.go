// Command monitor implements the driftwatch evaluation engine.
//
// The monitor runs a continuous evaluation loop that:
//  1. Collects recent inference samples from the configured source
//  2. Summarizes the observation window into per-feature statistics
//  3. Compares the window against the production model's reference baseline
//  4. Decides between no action, alerting, and triggering retraining
//  5. Stages retrained versions for promotion through the HTTP API
//
// The monitor serves an HTTP API on port 8090 (configurable) providing:
//   - GET  /drift/latest - Latest drift evaluation
//   - GET  /drift/history - Recent evaluations
//   - GET  /models, GET /models/current - Version registry
//   - POST /models/promote|reject|rollback - Version lifecycle operations
//   - POST /retrain, GET /jobs, GET /jobs/history, POST /jobs/cancel - Retraining control
//   - GET  /healthz - Health check endpoint
//   - GET  /metrics - Prometheus metrics endpoint
//
// Usage:
//
//	monitor \
//	  -model=churn \
//	  -source=http \
//	  -trainer-url=http://trainer:9000/train \
//	  -window=1h -interval=5m \
//	  -critical-features=age,income \
//	  -performance-floors='accuracy=0.75'
//
// Environment variables:
//
//	MODEL              - Model name (required)
//	SOURCE             - Source type: http (required)
//	SOURCE_*           - Source configuration (e.g. SOURCE_URL, SOURCE_NUMERIC_PATHS)
//	TRAINER_URL        - Training service URL (required)
//	WINDOW             - Observation window (default: 1h)
//	INTERVAL           - Evaluation loop interval (default: 5m)
//	MIN_SAMPLES        - Minimum samples per window (default: 30)
//	NUMERIC_TEST       - Numeric drift test: ks or psi (default: ks)
//	KS_P_VALUE         - KS drift p-value (default: 0.01)
//	DRIFT_FRACTION     - Aggregate drift fraction (default: 0.2)
//	CRITICAL_FEATURES  - Comma-separated critical features
//	PERFORMANCE_FLOORS - Metric floors (e.g. accuracy=0.75)
//	COOLDOWN           - Retrain cooldown (default: 6h)
//	GATES              - Promotion gates (e.g. accuracy>=0.75~0.02)
//	PERFORMANCE_URL    - Labeled-feedback metrics URL
//	PERFORMANCE_PATHS  - JSON metric-name to response-path map
//	WEBHOOK_URL        - Alert webhook URL
//	STORAGE            - Storage backend: memory or redis (default: memory)
//	LOG_LEVEL          - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT         - Logging format: text, json (default: text)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelops/driftwatch/cmd/monitor/config"
	"github.com/modelops/driftwatch/cmd/monitor/logger"
	"github.com/modelops/driftwatch/cmd/monitor/metrics"
	"github.com/modelops/driftwatch/cmd/monitor/router"
	"github.com/modelops/driftwatch/pkg/alert"
	"github.com/modelops/driftwatch/pkg/drift"
	"github.com/modelops/driftwatch/pkg/httpx"
	"github.com/modelops/driftwatch/pkg/policy"
	"github.com/modelops/driftwatch/pkg/registry"
	"github.com/modelops/driftwatch/pkg/retrain"
	"github.com/modelops/driftwatch/pkg/sample"
	"github.com/modelops/driftwatch/pkg/summary"
	driftwatchtls "github.com/modelops/driftwatch/pkg/tls"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	logger := logger.New(cfg)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("starting driftwatch monitor",
		"version", version,
		"model", cfg.Model,
		"source", cfg.Source,
	)

	// Outbound clients share the TLS flags with the server, so mTLS covers
	// both directions of the monitor's HTTP traffic.
	httpClient, err := httpx.NewClient(cfg.TLS, 15*time.Second)
	if err != nil {
		logger.Error("failed to create HTTP client", "error", err)
		os.Exit(1)
	}
	trainerClient, err := httpx.NewClient(cfg.TLS, cfg.TrainerTimeout)
	if err != nil {
		logger.Error("failed to create trainer HTTP client", "error", err)
		os.Exit(1)
	}

	source, err := sample.New(cfg.Source, cfg.SourceConfig, httpClient)
	if err != nil {
		logger.Error("failed to create sample source", "error", err)
		os.Exit(1)
	}

	floors, err := policy.ParseFloors(cfg.PerformanceFloors)
	if err != nil {
		logger.Error("failed to parse performance floors", "error", err)
		os.Exit(1)
	}

	var perf sample.PerformanceSource
	if cfg.PerformanceURL != "" {
		paths, err := parseMetricPaths(cfg.PerformancePaths, floors)
		if err != nil {
			logger.Error("failed to parse performance paths", "error", err)
			os.Exit(1)
		}
		perf = &sample.HTTPPerformanceSource{
			URL:         cfg.PerformanceURL,
			MetricPaths: paths,
			HTTPClient:  httpClient,
		}
	}

	driftCfg := drift.Config{
		NumericTest:      cfg.NumericTest,
		KSPValue:         cfg.KSPValue,
		PSIThreshold:     cfg.PSIThreshold,
		TVDThreshold:     cfg.TVDThreshold,
		DriftFraction:    cfg.DriftFraction,
		CriticalFeatures: splitList(cfg.CriticalFeatures),
	}
	if err := driftCfg.Validate(); err != nil {
		logger.Error("invalid drift configuration", "error", err)
		os.Exit(1)
	}
	detector := drift.NewDetector(driftCfg)

	gates, err := registry.ParseGates(cfg.Gates)
	if err != nil {
		logger.Error("failed to parse promotion gates", "error", err)
		os.Exit(1)
	}

	store, err := newStore(cfg, logger)
	if err != nil {
		logger.Error("failed to create store", "error", err)
		os.Exit(1)
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Error("failed to close store", "error", err)
			}
		}()
	}

	reg := registry.New(store, gates, logger)

	sinks := []alert.Sink{&alert.LogSink{Logger: logger}}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, &alert.WebhookSink{URL: cfg.WebhookURL, HTTPClient: httpClient})
	}
	notifier := alert.NewNotifier(logger, sinks...)

	trainer := &retrain.HTTPTrainer{
		URL:        cfg.TrainerURL,
		Timeout:    cfg.TrainerTimeout,
		HTTPClient: trainerClient,
	}
	coord := retrain.NewCoordinator(trainer, reg, store, notifier, logger)
	defer coord.Shutdown()

	m := NewMonitor(
		cfg.Model,
		source,
		perf,
		&summary.Summarizer{MinSamples: cfg.MinSamples},
		detector,
		policy.Thresholds{PerformanceFloors: floors, Cooldown: cfg.Cooldown},
		reg,
		store,
		coord,
		notifier,
		cfg.Window,
		cfg.CodeRef,
		logger,
		metrics.New(cfg.Model),
	)

	mux := router.SetupRoutes(router.Deps{
		Registry:    reg,
		Store:       store,
		Coordinator: coord,
		Trigger:     m.TriggerRetrain,
		Interval:    cfg.Interval,
		Logger:      logger,
	})
	httpServer := httpx.NewServer(cfg.Listen, mux, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := m.Run(ctx, cfg.Interval); err != nil && err != context.Canceled {
			logger.Error("evaluation loop failed", "error", err)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		if cfg.TLS.Enabled {
			tlsConfig, err := driftwatchtls.NewServerTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile)
			if err != nil {
				serverErr <- err
				return
			}
			httpServer.SetTLSConfig(tlsConfig)
			serverErr <- httpServer.StartTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serverErr <- httpServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	logger.Info("shutting down")
	cancel()

	if err := httpServer.Stop(10 * time.Second); err != nil {
		logger.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// newStore creates the configured registry store backend.
func newStore(cfg *config.Config, logger *slog.Logger) (registry.Store, error) {
	if cfg.Storage == "redis" {
		logger.Info("using redis store", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		return registry.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	}
	logger.Info("using in-memory store")
	return registry.NewMemoryStore(), nil
}

// parseMetricPaths decodes the JSON metric-path map for the performance
// source, defaulting each floor metric to a top-level response key of the
// same name.
func parseMetricPaths(raw string, floors map[string]float64) (map[string]string, error) {
	if strings.TrimSpace(raw) != "" {
		var paths map[string]string
		if err := json.Unmarshal([]byte(raw), &paths); err != nil {
			return nil, fmt.Errorf("invalid performance paths JSON: %w", err)
		}
		return paths, nil
	}

	paths := make(map[string]string, len(floors))
	for name := range floors {
		paths[name] = name
	}
	return paths, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
