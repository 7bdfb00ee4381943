// Package sample provides Driftwatch sample sources that retrieve production
// observations from external systems and normalize them into a common shape.
//
// Each source implements the Source interface and can be plugged into the
// Driftwatch monitoring loop. Available sources include:
//   - HTTPSource   — generic source for any REST API with JSON responses
//   - StaticSource — fixed in-memory batch, for tests and dry runs
//
// Sources are intentionally lightweight. They pull raw observations, shape
// them into [Sample] records, and leave all summarization and drift logic
// to Driftwatch's upper layers.
package sample

import (
	"context"
	"time"
)

// Sample is one production observation: the feature vector the serving
// layer saw, plus the model's prediction and confidence at serving time.
// Samples are immutable once recorded; the monitoring loop never mutates
// them.
type Sample struct {
	Timestamp   time.Time          `json:"timestamp"`
	Numeric     map[string]float64 `json:"numeric,omitempty"`
	Categorical map[string]string  `json:"categorical,omitempty"`
	Prediction  float64            `json:"prediction"`
	Confidence  float64            `json:"confidence"`
}

// Source is the interface all Driftwatch sample sources implement.
//
// Sources are responsible for fetching recent observations from an external
// system (the serving layer's prediction log, a feature store, an HTTP API)
// covering the trailing window, sorted oldest first.
//
// Collect is synchronous and must respect context cancellation and
// deadlines.
type Source interface {
	// Collect fetches the samples recorded in the last windowSeconds.
	// It must handle transient errors gracefully and never panic.
	Collect(ctx context.Context, windowSeconds int) ([]Sample, error)

	// Name returns a short, unique identifier for the source.
	// Example: "http", "static".
	Name() string
}

// PerformanceSource supplies recent model-performance metrics computed from
// labeled feedback (accuracy, AUC, ...). Labels typically arrive late or not
// at all, so callers must tolerate an empty map.
type PerformanceSource interface {
	// Fetch returns the latest performance metrics by name. A nil map with
	// nil error means no labeled feedback is available yet.
	Fetch(ctx context.Context) (map[string]float64, error)
}

// StaticSource returns a fixed batch of samples on every Collect call.
// It exists for tests and for dry-running policy changes against a
// captured window.
type StaticSource struct {
	Samples []Sample
}

func (s *StaticSource) Name() string { return "static" }

// Collect returns the configured samples, honoring context cancellation.
func (s *StaticSource) Collect(ctx context.Context, windowSeconds int) ([]Sample, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	out := make([]Sample, len(s.Samples))
	copy(out, s.Samples)
	return out, nil
}
