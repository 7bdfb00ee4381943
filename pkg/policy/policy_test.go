package policy

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/modelops/driftwatch/pkg/drift"
)

var decisionTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func driftedVerdict(share float64) drift.Verdict {
	return drift.Verdict{Feature: drift.AggregateFeature, Drifted: true, Score: share}
}

func stableVerdict() drift.Verdict {
	return drift.Verdict{Feature: drift.AggregateFeature, Drifted: false, Score: 0}
}

func TestDecide_FloorBreachAlwaysTriggersRetrain(t *testing.T) {
	// A breached floor wins even when the drift verdict is clean.
	out := Decide(Input{
		Aggregate:   stableVerdict(),
		Performance: map[string]float64{"accuracy": 0.70},
		LastRetrain: decisionTime.Add(-10 * time.Minute), // well inside cooldown
		Now:         decisionTime,
	}, Thresholds{
		PerformanceFloors: map[string]float64{"accuracy": 0.75},
	})

	if out.Decision != TriggerRetrain {
		t.Fatalf("Decision = %s, want %s", out.Decision, TriggerRetrain)
	}
	if !strings.Contains(out.Reason, "accuracy") {
		t.Errorf("Reason = %q, want mention of breached metric", out.Reason)
	}
}

func TestDecide_FloorBreachInsideCooldown(t *testing.T) {
	out := Decide(Input{
		Aggregate:   driftedVerdict(0.5),
		Performance: map[string]float64{"accuracy": 0.60},
		LastRetrain: decisionTime.Add(-time.Hour),
		Now:         decisionTime,
	}, Thresholds{
		PerformanceFloors: map[string]float64{"accuracy": 0.75},
		Cooldown:          6 * time.Hour,
	})

	if out.Decision != TriggerRetrain {
		t.Fatalf("Decision = %s, want %s (floor breach overrides cooldown)", out.Decision, TriggerRetrain)
	}
}

func TestDecide_NoMetricsNoDriftNoAction(t *testing.T) {
	out := Decide(Input{
		Aggregate:   stableVerdict(),
		Performance: nil,
		Now:         decisionTime,
	}, Thresholds{
		PerformanceFloors: map[string]float64{"accuracy": 0.75},
	})

	if out.Decision != NoAction {
		t.Fatalf("Decision = %s, want %s", out.Decision, NoAction)
	}
}

func TestDecide_NilPerformanceSkipsFloorCheck(t *testing.T) {
	// No labeled feedback yet: floors cannot be evaluated, drift still can.
	out := Decide(Input{
		Aggregate:   driftedVerdict(0.4),
		Performance: nil,
		Now:         decisionTime,
	}, Thresholds{
		PerformanceFloors: map[string]float64{"accuracy": 0.75},
	})

	if out.Decision != TriggerRetrain {
		t.Fatalf("Decision = %s, want %s", out.Decision, TriggerRetrain)
	}
}

func TestDecide_DriftOutsideCooldownTriggersRetrain(t *testing.T) {
	out := Decide(Input{
		Aggregate:   driftedVerdict(0.25),
		LastRetrain: decisionTime.Add(-7 * time.Hour),
		Now:         decisionTime,
	}, Thresholds{Cooldown: 6 * time.Hour})

	if out.Decision != TriggerRetrain {
		t.Fatalf("Decision = %s, want %s", out.Decision, TriggerRetrain)
	}
}

func TestDecide_DriftWithNoPriorRetrainTriggersRetrain(t *testing.T) {
	out := Decide(Input{
		Aggregate: driftedVerdict(0.25),
		Now:       decisionTime,
	}, Thresholds{})

	if out.Decision != TriggerRetrain {
		t.Fatalf("Decision = %s, want %s", out.Decision, TriggerRetrain)
	}
}

func TestDecide_DriftInsideCooldownAlerts(t *testing.T) {
	out := Decide(Input{
		Aggregate:   driftedVerdict(0.25),
		LastRetrain: decisionTime.Add(-2 * time.Hour),
		Now:         decisionTime,
	}, Thresholds{Cooldown: 6 * time.Hour})

	if out.Decision != Alert {
		t.Fatalf("Decision = %s, want %s", out.Decision, Alert)
	}
	if out.Severity != SeverityMedium {
		t.Errorf("Severity = %s, want %s for drift share 0.25", out.Severity, SeverityMedium)
	}
}

func TestDecide_HighDriftShareAlertsHigh(t *testing.T) {
	out := Decide(Input{
		Aggregate:   driftedVerdict(0.45),
		LastRetrain: decisionTime.Add(-time.Hour),
		Now:         decisionTime,
	}, Thresholds{Cooldown: 6 * time.Hour})

	if out.Decision != Alert {
		t.Fatalf("Decision = %s, want %s", out.Decision, Alert)
	}
	if out.Severity != SeverityHigh {
		t.Errorf("Severity = %s, want %s for drift share 0.45", out.Severity, SeverityHigh)
	}
}

func TestDecide_DefaultCooldownApplied(t *testing.T) {
	// Zero cooldown in thresholds falls back to the 6h default.
	out := Decide(Input{
		Aggregate:   driftedVerdict(0.25),
		LastRetrain: decisionTime.Add(-5 * time.Hour),
		Now:         decisionTime,
	}, Thresholds{})

	if out.Decision != Alert {
		t.Fatalf("Decision = %s, want %s under default cooldown", out.Decision, Alert)
	}
}

func TestDecide_FloorExactlyMetDoesNotBreach(t *testing.T) {
	out := Decide(Input{
		Aggregate:   stableVerdict(),
		Performance: map[string]float64{"accuracy": 0.75},
		Now:         decisionTime,
	}, Thresholds{PerformanceFloors: map[string]float64{"accuracy": 0.75}})

	if out.Decision != NoAction {
		t.Fatalf("Decision = %s, want %s (floor met, not breached)", out.Decision, NoAction)
	}
}

func TestDecide_UnreportedFlooredMetricIgnored(t *testing.T) {
	// A floor on a metric the feedback source never reports cannot breach.
	out := Decide(Input{
		Aggregate:   stableVerdict(),
		Performance: map[string]float64{"auc": 0.9},
		Now:         decisionTime,
	}, Thresholds{PerformanceFloors: map[string]float64{"accuracy": 0.75}})

	if out.Decision != NoAction {
		t.Fatalf("Decision = %s, want %s", out.Decision, NoAction)
	}
}

func TestParseFloors(t *testing.T) {
	floors, err := ParseFloors("accuracy=0.75, auc=0.8")
	if err != nil {
		t.Fatalf("ParseFloors() error = %v", err)
	}
	want := map[string]float64{"accuracy": 0.75, "auc": 0.8}
	if !reflect.DeepEqual(floors, want) {
		t.Errorf("ParseFloors() = %v, want %v", floors, want)
	}
}

func TestParseFloors_Empty(t *testing.T) {
	floors, err := ParseFloors("")
	if err != nil {
		t.Fatalf("ParseFloors() error = %v", err)
	}
	if floors != nil {
		t.Errorf("ParseFloors(\"\") = %v, want nil", floors)
	}
}

func TestParseFloors_Invalid(t *testing.T) {
	for _, s := range []string{"accuracy", "=0.5", "accuracy=abc"} {
		if _, err := ParseFloors(s); err == nil {
			t.Errorf("ParseFloors(%q) expected error", s)
		}
	}
}
