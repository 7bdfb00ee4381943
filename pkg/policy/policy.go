// Package policy translates drift verdicts and recent model-performance
// metrics into one of three actions: do nothing, alert a human, or trigger
// retraining.
//
// The policy is a pure function over explicit inputs. It holds no hidden
// state: cooldown tracking is the caller's responsibility, which keeps the
// decision deterministic and testable in isolation.
package policy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/modelops/driftwatch/pkg/drift"
)

// Decision is the action the policy selects for one evaluation cycle.
type Decision string

const (
	NoAction       Decision = "no_action"
	Alert          Decision = "alert"
	TriggerRetrain Decision = "trigger_retrain"
)

// Severity grades an Alert decision for downstream routing.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// DefaultCooldown is the minimum elapsed time between automatic retrain
// triggers, preventing retrain storms on noisy drift signals.
const DefaultCooldown = 6 * time.Hour

// highSeverityDriftShare is the drift share above which alerts are graded
// high instead of medium.
const highSeverityDriftShare = 0.3

// Thresholds holds every policy knob as explicit configuration.
type Thresholds struct {
	// PerformanceFloors maps metric names to minimum acceptable values
	// (e.g. {"accuracy": 0.75}). A breach always triggers retraining.
	PerformanceFloors map[string]float64

	// Cooldown is the minimum time since the last retrain before drift
	// alone may trigger another one. Zero means DefaultCooldown.
	Cooldown time.Duration
}

// Input bundles everything one decision depends on.
type Input struct {
	// Aggregate is the aggregate drift verdict of the current cycle.
	Aggregate drift.Verdict

	// Performance holds recent metrics from labeled feedback, or nil when
	// no feedback is available.
	Performance map[string]float64

	// LastRetrain is when the previous retraining run started. The zero
	// time means no retrain has happened yet.
	LastRetrain time.Time

	// Now is the decision time.
	Now time.Time
}

// Outcome is the decision plus its audit trail.
type Outcome struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason"`
	Severity Severity `json:"severity,omitempty"`
}

// Decide applies the decision rules in order of precedence:
//
//  1. A performance-floor breach always triggers retraining, drifted or not.
//  2. Aggregate drift outside the cooldown triggers retraining.
//  3. Aggregate drift inside the cooldown raises an alert for humans.
//  4. Otherwise, no action.
func Decide(in Input, t Thresholds) Outcome {
	if metric, value, floor, breached := floorBreach(in.Performance, t.PerformanceFloors); breached {
		return Outcome{
			Decision: TriggerRetrain,
			Reason:   fmt.Sprintf("performance floor breached: %s=%.4f below floor %.4f", metric, value, floor),
		}
	}

	if !in.Aggregate.Drifted {
		return Outcome{
			Decision: NoAction,
			Reason:   "no aggregate drift and no performance floor breach",
		}
	}

	cooldown := t.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	elapsed := in.Now.Sub(in.LastRetrain)
	if in.LastRetrain.IsZero() || elapsed > cooldown {
		return Outcome{
			Decision: TriggerRetrain,
			Reason: fmt.Sprintf("aggregate drift (share %.2f) outside %s cooldown",
				in.Aggregate.Score, cooldown),
		}
	}

	return Outcome{
		Decision: Alert,
		Reason: fmt.Sprintf("aggregate drift (share %.2f) within cooldown, %s remaining",
			in.Aggregate.Score, (cooldown - elapsed).Round(time.Second)),
		Severity: severityFor(in.Aggregate.Score),
	}
}

// floorBreach returns the first configured metric whose recent value sits
// below its floor. Metric names are visited in sorted order so the reported
// breach is stable.
func floorBreach(performance, floors map[string]float64) (metric string, value, floor float64, breached bool) {
	if len(performance) == 0 || len(floors) == 0 {
		return "", 0, 0, false
	}

	names := make([]string, 0, len(floors))
	for name := range floors {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v, ok := performance[name]
		if !ok {
			continue
		}
		if v < floors[name] {
			return name, v, floors[name], true
		}
	}
	return "", 0, 0, false
}

func severityFor(driftShare float64) Severity {
	if driftShare > highSeverityDriftShare {
		return SeverityHigh
	}
	return SeverityMedium
}

// ParseFloors parses a comma-separated metric floor specification like
// "accuracy=0.75,auc=0.8" into a floors map.
func ParseFloors(s string) (map[string]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	floors := make(map[string]float64)
	for _, part := range strings.Split(s, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || name == "" {
			return nil, fmt.Errorf("invalid floor %q (expected metric=value)", part)
		}
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err != nil {
			return nil, fmt.Errorf("invalid floor value %q for metric %s: %w", value, name, err)
		}
		floors[name] = f
	}
	return floors, nil
}
