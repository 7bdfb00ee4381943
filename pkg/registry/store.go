package registry

import (
	"context"
	"errors"
	"time"

	"github.com/modelops/driftwatch/pkg/drift"
	"github.com/modelops/driftwatch/pkg/summary"
)

// ErrConcurrentPromotion is returned when a compare-and-swap on the current
// production pointer observes a different value than expected, meaning
// another promotion or rollback happened in between.
var ErrConcurrentPromotion = errors.New("concurrent promotion detected")

// ErrVersionNotFound is returned by registry operations targeting a version
// id the store does not hold.
var ErrVersionNotFound = errors.New("version not found")

// Evaluation is one recorded drift-evaluation cycle: the per-feature
// verdicts plus the decision the policy took on them.
type Evaluation struct {
	EvaluatedAt time.Time       `json:"evaluatedAt"`
	Verdicts    []drift.Verdict `json:"verdicts"`
	Decision    string          `json:"decision"`
	Reason      string          `json:"reason"`
}

// JobRecord is one finished retraining run as persisted for audit. Running
// jobs live in the coordinator; only terminal outcomes reach the store.
type JobRecord struct {
	ID              string    `json:"id"`
	Trigger         string    `json:"trigger"`
	Reason          string    `json:"reason,omitempty"`
	State           string    `json:"state"`
	Error           string    `json:"error,omitempty"`
	VersionID       string    `json:"versionId,omitempty"`
	TrainingDataRef string    `json:"trainingDataRef"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
}

// Store persists versions, baselines, the current-production pointer, and
// the evaluation and job histories. Implementations must be safe for
// concurrent use.
type Store interface {
	// PutVersion stores a version record, replacing any existing record
	// with the same id.
	PutVersion(ctx context.Context, v Version) error

	// GetVersion retrieves a version by id.
	GetVersion(ctx context.Context, id string) (Version, bool, error)

	// ListVersions returns all versions ordered by creation time, newest
	// first.
	ListVersions(ctx context.Context) ([]Version, error)

	// CurrentID returns the id of the current production version, or ""
	// when no version has been promoted yet.
	CurrentID(ctx context.Context) (string, error)

	// SetCurrentID atomically replaces the current pointer, but only if it
	// still equals expect ("" for unset). Returns ErrConcurrentPromotion
	// when the pointer changed underneath.
	SetCurrentID(ctx context.Context, expect, next string) error

	// PutBaseline stores a reference baseline.
	PutBaseline(ctx context.Context, b summary.Baseline) error

	// GetBaseline retrieves a baseline by id.
	GetBaseline(ctx context.Context, id string) (summary.Baseline, bool, error)

	// AppendEvaluation appends one evaluation to the history. The history
	// is capped; oldest entries are dropped first.
	AppendEvaluation(ctx context.Context, e Evaluation) error

	// Evaluations returns up to limit evaluations, newest first.
	Evaluations(ctx context.Context, limit int) ([]Evaluation, error)

	// AppendJob appends one finished retraining job to the audit history.
	// The history is capped; oldest entries are dropped first.
	AppendJob(ctx context.Context, j JobRecord) error

	// JobHistory returns up to limit job records, newest first.
	JobHistory(ctx context.Context, limit int) ([]JobRecord, error)
}
