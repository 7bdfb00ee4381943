package summary

import (
	"errors"
	"time"
)

// Baseline is the frozen statistical fingerprint of the data a deployed
// model version was trained and validated on. Baselines are immutable: a
// new training run produces a new baseline, never edits an old one.
// Exactly one baseline is active per deployed model version.
type Baseline struct {
	ID            string    `json:"id"`
	SourceVersion string    `json:"source_version"`
	CreatedAt     time.Time `json:"created_at"`
	Summary       Summary   `json:"summary"`
}

// Validate checks that the baseline is usable as a drift reference.
func (b Baseline) Validate() error {
	if b.ID == "" {
		return errors.New("baseline id cannot be empty")
	}
	if len(b.Summary.Numeric) == 0 && len(b.Summary.Categorical) == 0 {
		return errors.New("baseline has no feature summaries")
	}
	return nil
}
