// Package main implements the core evaluation loop orchestration.
//
// This file contains the Monitor type which orchestrates the drift pipeline:
//
//	collect → summarize → detect → decide → act
//
// The Monitor runs continuously via Run(), executing Tick() at regular
// intervals. Each tick collects one observation window of inference
// samples, summarizes it, compares it against the reference baseline of
// the current production version, records the verdicts, and routes the
// policy decision to the retraining coordinator or the alert notifier.
//
// The loop is instrumented with Prometheus metrics tracking the duration
// of each pipeline stage and any errors encountered during execution.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelops/driftwatch/cmd/monitor/metrics"
	"github.com/modelops/driftwatch/pkg/alert"
	"github.com/modelops/driftwatch/pkg/drift"
	"github.com/modelops/driftwatch/pkg/policy"
	"github.com/modelops/driftwatch/pkg/registry"
	"github.com/modelops/driftwatch/pkg/retrain"
	"github.com/modelops/driftwatch/pkg/sample"
	"github.com/modelops/driftwatch/pkg/summary"
)

// Monitor orchestrates the evaluation loop: collect → summarize → detect →
// decide → act.
type Monitor struct {
	model      string
	source     sample.Source
	perf       sample.PerformanceSource
	summarizer *summary.Summarizer
	detector   *drift.Detector
	thresholds policy.Thresholds
	reg        *registry.Registry
	store      registry.Store
	coord      *retrain.Coordinator
	notifier   *alert.Notifier
	window     time.Duration
	codeRef    string
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewMonitor creates a new Monitor. perf may be nil when no labeled
// feedback source is configured.
func NewMonitor(
	model string,
	source sample.Source,
	perf sample.PerformanceSource,
	summarizer *summary.Summarizer,
	detector *drift.Detector,
	thresholds policy.Thresholds,
	reg *registry.Registry,
	store registry.Store,
	coord *retrain.Coordinator,
	notifier *alert.Notifier,
	window time.Duration,
	codeRef string,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		model:      model,
		source:     source,
		perf:       perf,
		summarizer: summarizer,
		detector:   detector,
		thresholds: thresholds,
		reg:        reg,
		store:      store,
		coord:      coord,
		notifier:   notifier,
		window:     window,
		codeRef:    codeRef,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

// Run executes the evaluation loop at regular intervals.
// Blocks until context is canceled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	m.logger.Info("starting evaluation loop", "interval", interval, "window", m.window)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := m.Tick(ctx); err != nil {
		m.logger.Error("initial evaluation tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("evaluation loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := m.Tick(ctx); err != nil {
				m.logger.Error("evaluation tick failed", "error", err)
			}
		}
	}
}

// Tick performs one evaluation cycle.
// Exported for testing purposes.
func (m *Monitor) Tick(ctx context.Context) error {
	start := time.Now()
	m.logger.Debug("starting evaluation tick")

	current, baseline, ok, err := m.productionBaseline(ctx)
	if err != nil {
		return err
	}
	if !ok {
		m.logger.Info("no production version with a baseline yet, skipping evaluation")
		return nil
	}

	samples, collectDuration, err := m.collect(ctx)
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordError("source", "collect_failed")
		}
		return fmt.Errorf("collect: %w", err)
	}

	window, summarizeDuration, err := m.summarize(samples)
	if err != nil {
		var insufficient *summary.InsufficientDataError
		if errors.As(err, &insufficient) {
			// Too few samples is a quiet period, not a failure. Skip the
			// cycle rather than decide on a noisy summary.
			m.logger.Warn("window below minimum sample count, skipping evaluation",
				"got", insufficient.Got, "min", insufficient.Min)
			if m.metrics != nil {
				m.metrics.RecordError("summarize", "insufficient_data")
			}
			return nil
		}
		if m.metrics != nil {
			m.metrics.RecordError("summarize", "failed")
		}
		return fmt.Errorf("summarize: %w", err)
	}

	verdicts, detectDuration, err := m.detect(window, baseline)
	if err != nil {
		var mismatch *drift.SchemaMismatchError
		if errors.As(err, &mismatch) {
			// A schema change is more urgent than any statistic: alert a
			// human immediately rather than pretend to measure drift.
			m.notifier.Notify(ctx, alert.Alert{
				Severity:    string(policy.SeverityHigh),
				Message:     "feature schema mismatch against baseline: " + mismatch.Error(),
				EvaluatedAt: m.now(),
			})
			if m.metrics != nil {
				m.metrics.RecordError("detect", "schema_mismatch")
			}
			return fmt.Errorf("detect: %w", err)
		}
		if m.metrics != nil {
			m.metrics.RecordError("detect", "failed")
		}
		return fmt.Errorf("detect: %w", err)
	}

	agg := drift.Aggregate(verdicts)

	performance := m.fetchPerformance(ctx)

	outcome := policy.Decide(policy.Input{
		Aggregate:   agg,
		Performance: performance,
		LastRetrain: m.coord.LastTriggered(),
		Now:         m.now(),
	}, m.thresholds)

	if err := m.store.AppendEvaluation(ctx, registry.Evaluation{
		EvaluatedAt: m.now(),
		Verdicts:    verdicts,
		Decision:    string(outcome.Decision),
		Reason:      outcome.Reason,
	}); err != nil {
		if m.metrics != nil {
			m.metrics.RecordError("store", "append_failed")
		}
		return fmt.Errorf("record evaluation: %w", err)
	}

	m.act(ctx, outcome, agg, verdicts, current)

	if m.metrics != nil {
		m.metrics.SetDriftShare(agg.Score)
		m.metrics.SetAggregateDrifted(agg.Drifted)
		m.metrics.SetWindowSamples(window.SampleCount)
		m.metrics.RecordDecision(string(outcome.Decision))
	}

	totalDuration := time.Since(start)
	m.logger.Info("evaluation tick complete",
		"model", m.model,
		"samples", window.SampleCount,
		"drift_share", agg.Score,
		"drifted", agg.Drifted,
		"decision", string(outcome.Decision),
		"collect_ms", collectDuration.Milliseconds(),
		"summarize_ms", summarizeDuration.Milliseconds(),
		"detect_ms", detectDuration.Milliseconds(),
		"total_ms", totalDuration.Milliseconds(),
	)

	return nil
}

// productionBaseline loads the current production version and its bound
// reference baseline. ok is false when nothing is in production yet.
func (m *Monitor) productionBaseline(ctx context.Context) (registry.Version, summary.Baseline, bool, error) {
	current, found, err := m.reg.Current(ctx)
	if err != nil {
		return registry.Version{}, summary.Baseline{}, false, fmt.Errorf("load production version: %w", err)
	}
	if !found {
		return registry.Version{}, summary.Baseline{}, false, nil
	}

	baseline, found, err := m.store.GetBaseline(ctx, current.BaselineID)
	if err != nil {
		return registry.Version{}, summary.Baseline{}, false, fmt.Errorf("load baseline %s: %w", current.BaselineID, err)
	}
	if !found {
		return registry.Version{}, summary.Baseline{}, false,
			fmt.Errorf("production version %s references missing baseline %s", current.ID, current.BaselineID)
	}

	return current, baseline, true, nil
}

// collect retrieves one observation window of samples from the source.
func (m *Monitor) collect(ctx context.Context) ([]sample.Sample, time.Duration, error) {
	start := time.Now()

	samples, err := m.source.Collect(ctx, int(m.window.Seconds()))
	if err != nil {
		return nil, 0, err
	}

	duration := time.Since(start)

	if m.metrics != nil {
		m.metrics.RecordCollect(duration.Seconds())
	}

	m.logger.Debug("collected samples",
		"source", m.source.Name(),
		"samples", len(samples),
		"window_seconds", int(m.window.Seconds()),
		"duration_ms", duration.Milliseconds(),
	)

	return samples, duration, nil
}

// summarize reduces the window to its statistic summary.
func (m *Monitor) summarize(samples []sample.Sample) (summary.Summary, time.Duration, error) {
	start := time.Now()

	window, err := m.summarizer.Summarize(samples)
	if err != nil {
		return summary.Summary{}, 0, err
	}

	duration := time.Since(start)

	if m.metrics != nil {
		m.metrics.RecordSummarize(duration.Seconds())
	}

	return window, duration, nil
}

// detect compares the window summary against the baseline.
func (m *Monitor) detect(window summary.Summary, baseline summary.Baseline) ([]drift.Verdict, time.Duration, error) {
	start := time.Now()

	verdicts, err := m.detector.Compare(window, baseline)
	if err != nil {
		return nil, 0, err
	}

	duration := time.Since(start)

	if m.metrics != nil {
		m.metrics.RecordDetect(duration.Seconds())
	}

	m.logger.Debug("compared window against baseline",
		"baseline", baseline.ID,
		"verdicts", len(verdicts),
		"duration_ms", duration.Milliseconds(),
	)

	return verdicts, duration, nil
}

// fetchPerformance pulls recent labeled-feedback metrics. Missing feedback
// is normal (labels lag predictions); fetch errors degrade to drift-only
// decisions rather than failing the cycle.
func (m *Monitor) fetchPerformance(ctx context.Context) map[string]float64 {
	if m.perf == nil {
		return nil
	}

	performance, err := m.perf.Fetch(ctx)
	if err != nil {
		m.logger.Warn("fetching performance metrics failed, deciding on drift alone", "error", err)
		if m.metrics != nil {
			m.metrics.RecordError("performance", "fetch_failed")
		}
		return nil
	}
	return performance
}

// act routes the policy outcome: retrain triggers go to the coordinator,
// alerts to the notifier, and no-action is just logged.
func (m *Monitor) act(ctx context.Context, outcome policy.Outcome, agg drift.Verdict, verdicts []drift.Verdict, current registry.Version) {
	switch outcome.Decision {
	case policy.TriggerRetrain:
		job, started := m.coord.Submit(m.retrainSpec(), retrain.TriggerDrift, outcome.Reason)
		if started {
			m.logger.Info("retraining triggered", "job", job.ID, "reason", outcome.Reason)
		} else {
			m.logger.Info("retraining already in flight", "job", job.ID)
		}

	case policy.Alert:
		m.notifier.Notify(ctx, alert.Alert{
			Severity:    string(outcome.Severity),
			Message:     outcome.Reason,
			DriftShare:  agg.Score,
			Features:    drift.DriftedFeatures(verdicts),
			EvaluatedAt: m.now(),
		})

	case policy.NoAction:
		m.logger.Debug("no action", "reason", outcome.Reason, "production", current.ID)
	}
}

// retrainSpec pins the training window and code ref for a new run.
func (m *Monitor) retrainSpec() retrain.Spec {
	end := m.now().UTC()
	start := end.Add(-m.window)
	return retrain.Spec{
		TrainingDataRef: fmt.Sprintf("window:%s/%s/%s",
			m.model,
			start.Format(time.RFC3339),
			end.Format(time.RFC3339)),
		CodeRef: m.codeRef,
	}
}

// TriggerRetrain starts a manual retraining run, used by the HTTP API.
func (m *Monitor) TriggerRetrain(reason string) (retrain.Job, bool) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "manual trigger"
	}
	return m.coord.Submit(m.retrainSpec(), retrain.TriggerManual, reason)
}
