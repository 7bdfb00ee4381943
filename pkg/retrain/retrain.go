// Package retrain launches training runs and turns their results into
// staged model versions.
package retrain

import (
	"context"
	"time"

	"github.com/modelops/driftwatch/pkg/summary"
)

// Spec pins everything a training run needs for reproducibility.
type Spec struct {
	TrainingDataRef string            `json:"trainingDataRef"`
	CodeRef         string            `json:"codeRef"`
	Hyperparameters map[string]string `json:"hyperparameters,omitempty"`
}

// Result is what a completed training run hands back.
type Result struct {
	// Metrics are the held-out evaluation metrics of the new model.
	Metrics map[string]float64 `json:"metrics"`

	// ArtifactRef points at the trained model artifact.
	ArtifactRef string `json:"artifactRef"`

	// Baseline is the feature summary of the training data, which becomes
	// the reference baseline if this version reaches production.
	Baseline summary.Summary `json:"baseline"`
}

// Trainer runs one training job to completion. Implementations are expected
// to honor context cancellation.
type Trainer interface {
	Train(ctx context.Context, spec Spec) (Result, error)
}

// JobState is a retraining job's lifecycle state.
type JobState string

const (
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Trigger classifies what started a retraining run.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerDrift     Trigger = "drift"
	TriggerScheduled Trigger = "scheduled"
)

// Job is one tracked retraining run. Trigger carries the classification;
// Reason carries the human-readable audit detail behind it.
type Job struct {
	ID         string     `json:"id"`
	Spec       Spec       `json:"spec"`
	Trigger    Trigger    `json:"trigger"`
	Reason     string     `json:"reason,omitempty"`
	State      JobState   `json:"state"`
	Error      string     `json:"error,omitempty"`
	VersionID  string     `json:"versionId,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}
