// Package metrics provides Prometheus metrics instrumentation for the
// monitor.
//
// It exposes operational metrics about the evaluation loop, including the
// duration of each stage (collect, summarize, detect), the current drift
// state, decision counts, and error tracking. All metrics are exposed via
// the /metrics HTTP endpoint for Prometheus scraping.
//
// Metrics exposed:
//   - driftwatch_source_collect_seconds: Histogram of sample collection duration
//   - driftwatch_summarize_seconds: Histogram of window summarization duration
//   - driftwatch_detect_seconds: Histogram of drift detection duration
//   - driftwatch_drift_share: Gauge of the current drifted-feature share
//   - driftwatch_aggregate_drifted: Gauge, 1 when the aggregate verdict drifted
//   - driftwatch_window_samples: Gauge of samples in the last evaluated window
//   - driftwatch_decisions_total: Counter of policy decisions by outcome
//   - driftwatch_errors_total: Counter of errors by component and reason
//
// All metrics include the model label for multi-model deployments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the monitor.
type Metrics struct {
	SourceCollectSeconds prometheus.Histogram
	SummarizeSeconds     prometheus.Histogram
	DetectSeconds        prometheus.Histogram
	DriftShare           prometheus.Gauge
	AggregateDrifted     prometheus.Gauge
	WindowSamples        prometheus.Gauge
	DecisionsTotal       *prometheus.CounterVec
	ErrorsTotal          *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New(model string) *Metrics {
	return &Metrics{
		SourceCollectSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "driftwatch_source_collect_seconds",
			Help: "Time spent collecting samples from the inference log source",
			ConstLabels: prometheus.Labels{
				"model": model,
			},
			Buckets: prometheus.DefBuckets,
		}),

		SummarizeSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "driftwatch_summarize_seconds",
			Help: "Time spent summarizing the observation window",
			ConstLabels: prometheus.Labels{
				"model": model,
			},
			Buckets: prometheus.DefBuckets,
		}),

		DetectSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "driftwatch_detect_seconds",
			Help: "Time spent comparing the window against the baseline",
			ConstLabels: prometheus.Labels{
				"model": model,
			},
			Buckets: prometheus.DefBuckets,
		}),

		DriftShare: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "driftwatch_drift_share",
			Help: "Share of features flagged as drifted in the last evaluation",
			ConstLabels: prometheus.Labels{
				"model": model,
			},
		}),

		AggregateDrifted: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "driftwatch_aggregate_drifted",
			Help: "1 when the last aggregate verdict flagged drift, 0 otherwise",
			ConstLabels: prometheus.Labels{
				"model": model,
			},
		}),

		WindowSamples: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "driftwatch_window_samples",
			Help: "Number of samples in the last evaluated window",
			ConstLabels: prometheus.Labels{
				"model": model,
			},
		}),

		DecisionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "driftwatch_decisions_total",
			Help: "Total number of policy decisions by outcome",
			ConstLabels: prometheus.Labels{
				"model": model,
			},
		}, []string{"decision"}),

		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "driftwatch_errors_total",
			Help: "Total number of errors by component and reason",
			ConstLabels: prometheus.Labels{
				"model": model,
			},
		}, []string{"component", "reason"}),
	}
}

// RecordCollect records the time spent collecting samples.
func (m *Metrics) RecordCollect(seconds float64) {
	m.SourceCollectSeconds.Observe(seconds)
}

// RecordSummarize records the time spent summarizing.
func (m *Metrics) RecordSummarize(seconds float64) {
	m.SummarizeSeconds.Observe(seconds)
}

// RecordDetect records the time spent on drift detection.
func (m *Metrics) RecordDetect(seconds float64) {
	m.DetectSeconds.Observe(seconds)
}

// SetDriftShare sets the current drifted-feature share.
func (m *Metrics) SetDriftShare(share float64) {
	m.DriftShare.Set(share)
}

// SetAggregateDrifted sets the aggregate drift gauge.
func (m *Metrics) SetAggregateDrifted(drifted bool) {
	if drifted {
		m.AggregateDrifted.Set(1)
	} else {
		m.AggregateDrifted.Set(0)
	}
}

// SetWindowSamples sets the sample count of the last evaluated window.
func (m *Metrics) SetWindowSamples(n int) {
	m.WindowSamples.Set(float64(n))
}

// RecordDecision increments the decision counter.
func (m *Metrics) RecordDecision(decision string) {
	m.DecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
