// Package registry tracks model versions through their lifecycle and owns
// the pointer to the version currently serving production traffic.
package registry

import (
	"fmt"
	"strings"
	"time"
)

// State is a model version's lifecycle state.
type State string

const (
	// StateStaged marks a version that finished training and awaits a
	// promotion decision.
	StateStaged State = "staged"

	// StateProduction marks the version currently serving traffic. At most
	// one version is in this state at a time.
	StateProduction State = "production"

	// StateArchived marks a version that was replaced in production. It
	// remains available as a rollback target.
	StateArchived State = "archived"

	// StateRejected marks a staged version that failed a promotion gate or
	// was rejected by an operator. Terminal.
	StateRejected State = "rejected"
)

// Version is one trained model version and its provenance.
type Version struct {
	ID              string             `json:"id"`
	State           State              `json:"state"`
	TrainingDataRef string             `json:"trainingDataRef"`
	CodeRef         string             `json:"codeRef"`
	Metrics         map[string]float64 `json:"metrics"`
	ArtifactRef     string             `json:"artifactRef"`
	BaselineID      string             `json:"baselineId"`
	CreatedAt       time.Time          `json:"createdAt"`
	PromotedAt      *time.Time         `json:"promotedAt,omitempty"`
	ArchivedAt      *time.Time         `json:"archivedAt,omitempty"`
	RejectReason    string             `json:"rejectReason,omitempty"`
}

// Validate checks the fields the store requires before persisting.
func (v Version) Validate() error {
	if v.ID == "" {
		return fmt.Errorf("version id required")
	}
	switch v.State {
	case StateStaged, StateProduction, StateArchived, StateRejected:
	default:
		return fmt.Errorf("invalid version state %q", v.State)
	}
	return nil
}

// Gate is one promotion requirement a staged candidate must satisfy.
// A candidate metric must be at least MinValue, and must not fall more than
// Tolerance below the current production version's value for the same metric.
type Gate struct {
	Metric    string  `json:"metric"`
	MinValue  float64 `json:"minValue"`
	Tolerance float64 `json:"tolerance"`
}

// InvalidStateTransitionError reports an operation applied to a version in
// the wrong lifecycle state.
type InvalidStateTransitionError struct {
	ID   string
	From State
	To   State
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("version %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

// GateError reports a promotion blocked by one or more gates.
type GateError struct {
	ID       string
	Failures []string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("version %s failed promotion gates: %s", e.ID, strings.Join(e.Failures, "; "))
}

// ParseGates parses a comma-separated gate specification like
// "accuracy>=0.75~0.02,auc>=0.8~0" into gates. The value after '~' is the
// allowed regression tolerance relative to production (optional, default 0).
func ParseGates(s string) ([]Gate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var gates []Gate
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		metric, rest, found := strings.Cut(part, ">=")
		if !found || metric == "" {
			return nil, fmt.Errorf("invalid gate %q (expected metric>=min[~tolerance])", part)
		}

		minStr, tolStr, hasTol := strings.Cut(rest, "~")
		g := Gate{Metric: strings.TrimSpace(metric)}
		if _, err := fmt.Sscanf(strings.TrimSpace(minStr), "%f", &g.MinValue); err != nil {
			return nil, fmt.Errorf("invalid gate minimum %q for metric %s: %w", minStr, metric, err)
		}
		if hasTol {
			if _, err := fmt.Sscanf(strings.TrimSpace(tolStr), "%f", &g.Tolerance); err != nil {
				return nil, fmt.Errorf("invalid gate tolerance %q for metric %s: %w", tolStr, metric, err)
			}
		}
		gates = append(gates, g)
	}
	return gates, nil
}
