// Package drift compares current production summaries against reference
// baselines and decides, per feature and in aggregate, whether the
// distributions have meaningfully diverged.
package drift

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/modelops/driftwatch/pkg/summary"
)

// AggregateFeature is the feature name of the aggregate verdict.
const AggregateFeature = "__aggregate__"

// Numeric test identifiers accepted by Config.NumericTest.
const (
	TestKS  = "ks"
	TestPSI = "psi"
	TestTVD = "tvd"
)

// Verdict is the outcome of comparing one feature (or the aggregate)
// between the current window and the reference baseline. Verdicts are
// produced fresh each evaluation cycle and never mutated.
type Verdict struct {
	Feature     string    `json:"feature"`
	Test        string    `json:"test"`
	Statistic   float64   `json:"statistic"`
	PValue      float64   `json:"p_value,omitempty"`
	Score       float64   `json:"score"`
	Drifted     bool      `json:"drifted"`
	Critical    bool      `json:"critical,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Config holds every drift threshold as an explicit, injected knob.
// The defaults are documented starting points, not settled requirements.
type Config struct {
	// NumericTest selects the two-sample test for numeric features:
	// "ks" (default) or "psi".
	NumericTest string

	// KSPValue flags a numeric feature as drifted when the KS test
	// p-value falls below it. Default 0.01.
	KSPValue float64

	// PSIThreshold flags a numeric feature as drifted when the Population
	// Stability Index exceeds it. Default 0.2.
	PSIThreshold float64

	// TVDThreshold flags a categorical feature as drifted when the total
	// variation distance between frequency mappings exceeds it. Default 0.2.
	TVDThreshold float64

	// DriftFraction: the aggregate verdict is drifted when the fraction of
	// drifted features exceeds it. Default 0.2.
	DriftFraction float64

	// CriticalFeatures always force an aggregate drift verdict when they
	// individually drift, regardless of the overall fraction.
	CriticalFeatures []string
}

func (c Config) withDefaults() Config {
	if c.NumericTest == "" {
		c.NumericTest = TestKS
	}
	if c.KSPValue <= 0 {
		c.KSPValue = 0.01
	}
	if c.PSIThreshold <= 0 {
		c.PSIThreshold = 0.2
	}
	if c.TVDThreshold <= 0 {
		c.TVDThreshold = 0.2
	}
	if c.DriftFraction <= 0 {
		c.DriftFraction = 0.2
	}
	return c
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	switch c.NumericTest {
	case "", TestKS, TestPSI:
	default:
		return fmt.Errorf("invalid numeric test %q (must be ks or psi)", c.NumericTest)
	}
	if c.KSPValue < 0 || c.KSPValue > 1 {
		return fmt.Errorf("ks p-value threshold %v out of range [0, 1]", c.KSPValue)
	}
	if c.DriftFraction < 0 || c.DriftFraction > 1 {
		return fmt.Errorf("drift fraction %v out of range [0, 1]", c.DriftFraction)
	}
	return nil
}

// SchemaMismatchError reports a feature-key difference between the current
// summary and the reference baseline. It typically indicates an upstream
// schema change and must be surfaced, never silently ignored.
type SchemaMismatchError struct {
	// Missing are baseline features absent from the current summary.
	Missing []string
	// Extra are current features absent from the baseline.
	Extra []string
}

func (e *SchemaMismatchError) Error() string {
	parts := make([]string, 0, 2)
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing from current: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Extra) > 0 {
		parts = append(parts, fmt.Sprintf("absent from baseline: %s", strings.Join(e.Extra, ", ")))
	}
	return "schema mismatch between current summary and baseline: " + strings.Join(parts, "; ")
}

// Detector compares summaries against baselines. It is stateless,
// deterministic for a given input pair, and safe for concurrent use.
type Detector struct {
	cfg      Config
	critical map[string]bool

	// now is overridable for tests; defaults to time.Now.
	now func() time.Time
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(cfg Config) *Detector {
	cfg = cfg.withDefaults()
	critical := make(map[string]bool, len(cfg.CriticalFeatures))
	for _, name := range cfg.CriticalFeatures {
		critical[name] = true
	}
	return &Detector{
		cfg:      cfg,
		critical: critical,
		now:      time.Now,
	}
}

// Compare evaluates every feature shared by the current summary and the
// baseline and returns one verdict per feature plus the aggregate verdict
// (always last). It has no side effects.
//
// Returns *SchemaMismatchError when the feature key sets differ at all;
// a partially changed schema is exactly the upstream change that needs
// surfacing, and evaluating just the intersection would hide it. The
// prediction pseudo-feature is exempt: it is compared only when both
// sides carry it, since baselines from older training runs may predate
// prediction tracking.
func (d *Detector) Compare(current summary.Summary, base summary.Baseline) ([]Verdict, error) {
	if err := base.Validate(); err != nil {
		return nil, fmt.Errorf("invalid baseline: %w", err)
	}
	if err := d.checkSchema(current, base.Summary); err != nil {
		return nil, err
	}

	evaluatedAt := d.now().UTC()
	verdicts := make([]Verdict, 0, len(base.Summary.Numeric)+len(base.Summary.Categorical)+1)

	numericNames := make([]string, 0, len(base.Summary.Numeric))
	for name := range base.Summary.Numeric {
		if _, ok := current.Numeric[name]; ok {
			numericNames = append(numericNames, name)
		}
	}
	sort.Strings(numericNames)

	for _, name := range numericNames {
		v := d.compareNumeric(current.Numeric[name], base.Summary.Numeric[name])
		v.Feature = name
		v.Critical = d.critical[name]
		v.EvaluatedAt = evaluatedAt
		verdicts = append(verdicts, v)
	}

	categoricalNames := make([]string, 0, len(base.Summary.Categorical))
	for name := range base.Summary.Categorical {
		if _, ok := current.Categorical[name]; ok {
			categoricalNames = append(categoricalNames, name)
		}
	}
	sort.Strings(categoricalNames)

	for _, name := range categoricalNames {
		tvd := totalVariationDistance(current.Categorical[name].Proportions, base.Summary.Categorical[name].Proportions)
		verdicts = append(verdicts, Verdict{
			Feature:     name,
			Test:        TestTVD,
			Statistic:   tvd,
			Score:       tvd,
			Drifted:     tvd > d.cfg.TVDThreshold,
			Critical:    d.critical[name],
			EvaluatedAt: evaluatedAt,
		})
	}

	verdicts = append(verdicts, d.aggregate(verdicts, evaluatedAt))
	return verdicts, nil
}

// compareNumeric runs the configured two-sample test on one numeric feature.
func (d *Detector) compareNumeric(cur, ref summary.Numeric) Verdict {
	switch d.cfg.NumericTest {
	case TestPSI:
		psi := populationStabilityIndex(cur, ref)
		return Verdict{
			Test:      TestPSI,
			Statistic: psi,
			Score:     psi,
			Drifted:   psi > d.cfg.PSIThreshold,
		}
	default:
		stat := ksStatistic(cur, ref)
		p := ksPValue(stat, cur.Count, ref.Count)
		return Verdict{
			Test:      TestKS,
			Statistic: stat,
			PValue:    p,
			Score:     stat,
			Drifted:   p < d.cfg.KSPValue,
		}
	}
}

// aggregate derives the overall verdict from the per-feature verdicts.
// Critical-feature drift always forces aggregate drift: a single vital
// signal can invalidate a model even when most features are stable.
func (d *Detector) aggregate(verdicts []Verdict, evaluatedAt time.Time) Verdict {
	drifted := 0
	criticalDrifted := false
	for _, v := range verdicts {
		if v.Drifted {
			drifted++
			if v.Critical {
				criticalDrifted = true
			}
		}
	}

	fraction := 0.0
	if len(verdicts) > 0 {
		fraction = float64(drifted) / float64(len(verdicts))
	}

	return Verdict{
		Feature:     AggregateFeature,
		Test:        "fraction",
		Statistic:   float64(drifted),
		Score:       fraction,
		Drifted:     fraction > d.cfg.DriftFraction || criticalDrifted,
		EvaluatedAt: evaluatedAt,
	}
}

// checkSchema verifies the current summary carries exactly the baseline's
// feature keys, with the kind of each feature unchanged.
func (d *Detector) checkSchema(current, base summary.Summary) error {
	var missing, extra []string

	for name := range base.Numeric {
		if name == summary.PredictionFeature {
			continue
		}
		if _, ok := current.Numeric[name]; !ok {
			missing = append(missing, name)
		}
	}
	for name := range base.Categorical {
		if _, ok := current.Categorical[name]; !ok {
			missing = append(missing, name)
		}
	}
	for name := range current.Numeric {
		if name == summary.PredictionFeature {
			continue
		}
		if _, ok := base.Numeric[name]; !ok {
			extra = append(extra, name)
		}
	}
	for name := range current.Categorical {
		if _, ok := base.Categorical[name]; !ok {
			extra = append(extra, name)
		}
	}

	if len(missing) > 0 || len(extra) > 0 {
		sort.Strings(missing)
		sort.Strings(extra)
		return &SchemaMismatchError{Missing: missing, Extra: extra}
	}
	return nil
}

// Aggregate returns the aggregate verdict from a Compare result, or a zero
// verdict if the list carries none.
func Aggregate(verdicts []Verdict) Verdict {
	for _, v := range verdicts {
		if v.Feature == AggregateFeature {
			return v
		}
	}
	return Verdict{}
}

// DriftedFeatures returns the names of non-aggregate drifted features.
func DriftedFeatures(verdicts []Verdict) []string {
	var names []string
	for _, v := range verdicts {
		if v.Drifted && v.Feature != AggregateFeature {
			names = append(names, v.Feature)
		}
	}
	return names
}
