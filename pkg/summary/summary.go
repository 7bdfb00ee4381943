// Package summary reduces windows of production samples into comparable
// per-feature distribution summaries.
//
// A Summary carries, for every numeric feature, the count, mean, standard
// deviation and a fixed quantile set, and for every categorical feature a
// frequency mapping normalized to proportions. Summaries computed from
// production windows share their shape with the frozen baselines computed
// from training data, so the drift detector can compare the two directly.
package summary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/modelops/driftwatch/pkg/sample"
)

// QuantileLevels is the fixed quantile set recorded for every numeric
// feature. Baselines and window summaries must use the same set for the
// drift comparison to be meaningful.
var QuantileLevels = []float64{0.10, 0.25, 0.50, 0.75, 0.90}

// PredictionFeature is the pseudo-feature under which the model's
// prediction stream is summarized, so prediction drift is detected with
// the same machinery as feature drift.
const PredictionFeature = "__prediction__"

// DefaultMinSamples is the minimum window size below which statistical
// tests are considered unreliable.
const DefaultMinSamples = 30

// Quantiles maps quantile level to value. JSON object keys must be strings,
// so levels are encoded as decimal strings ("0.5": 42).
type Quantiles map[float64]float64

func (q Quantiles) MarshalJSON() ([]byte, error) {
	levels := make([]float64, 0, len(q))
	for level := range q {
		levels = append(levels, level)
	}
	sort.Float64s(levels)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, level := range levels {
		if i > 0 {
			buf.WriteByte(',')
		}
		value, err := json.Marshal(q[level])
		if err != nil {
			return nil, err
		}
		buf.WriteString(strconv.Quote(strconv.FormatFloat(level, 'g', -1, 64)))
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (q *Quantiles) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Quantiles, len(raw))
	for key, value := range raw {
		level, err := strconv.ParseFloat(key, 64)
		if err != nil {
			return fmt.Errorf("invalid quantile level %q: %w", key, err)
		}
		out[level] = value
	}
	*q = out
	return nil
}

// Numeric is the distribution summary of one numeric feature.
type Numeric struct {
	Count     int       `json:"count"`
	Mean      float64   `json:"mean"`
	StdDev    float64   `json:"std_dev"`
	Quantiles Quantiles `json:"quantiles"`
}

// Categorical is the distribution summary of one categorical feature.
// Proportions sum to 1 over the observed categories.
type Categorical struct {
	Count       int                `json:"count"`
	Proportions map[string]float64 `json:"proportions"`
}

// Summary is the distribution fingerprint of one window of samples.
type Summary struct {
	WindowStart time.Time              `json:"window_start"`
	WindowEnd   time.Time              `json:"window_end"`
	SampleCount int                    `json:"sample_count"`
	Numeric     map[string]Numeric     `json:"numeric,omitempty"`
	Categorical map[string]Categorical `json:"categorical,omitempty"`
}

// FeatureNames returns all feature names in the summary, sorted.
func (s Summary) FeatureNames() []string {
	names := make([]string, 0, len(s.Numeric)+len(s.Categorical))
	for name := range s.Numeric {
		names = append(names, name)
	}
	for name := range s.Categorical {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InsufficientDataError reports a window too small to summarize.
// Callers recover by waiting for the next evaluation cycle.
type InsufficientDataError struct {
	Got int
	Min int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %d samples in window, need at least %d", e.Got, e.Min)
}

// Summarizer converts sample windows into Summaries.
// It is a pure function over its input; stored samples are never mutated.
type Summarizer struct {
	// MinSamples is the minimum window size. Zero means DefaultMinSamples.
	MinSamples int
}

// Summarize reduces a window of samples into a Summary.
//
// The prediction stream is included as the numeric pseudo-feature
// PredictionFeature. Features absent from individual samples are skipped
// for those samples; the per-feature Count reflects observed values only.
//
// Returns *InsufficientDataError when the window holds fewer samples than
// the configured minimum.
func (z Summarizer) Summarize(samples []sample.Sample) (Summary, error) {
	min := z.MinSamples
	if min <= 0 {
		min = DefaultMinSamples
	}
	if len(samples) < min {
		return Summary{}, &InsufficientDataError{Got: len(samples), Min: min}
	}

	numericValues := make(map[string][]float64)
	categoricalCounts := make(map[string]map[string]int)

	windowStart := samples[0].Timestamp
	windowEnd := samples[0].Timestamp

	for _, s := range samples {
		if s.Timestamp.Before(windowStart) {
			windowStart = s.Timestamp
		}
		if s.Timestamp.After(windowEnd) {
			windowEnd = s.Timestamp
		}

		for name, v := range s.Numeric {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			numericValues[name] = append(numericValues[name], v)
		}
		for name, cat := range s.Categorical {
			if categoricalCounts[name] == nil {
				categoricalCounts[name] = make(map[string]int)
			}
			categoricalCounts[name][cat]++
		}

		numericValues[PredictionFeature] = append(numericValues[PredictionFeature], s.Prediction)
	}

	out := Summary{
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		SampleCount: len(samples),
		Numeric:     make(map[string]Numeric, len(numericValues)),
		Categorical: make(map[string]Categorical, len(categoricalCounts)),
	}

	for name, values := range numericValues {
		out.Numeric[name] = summarizeNumeric(values)
	}

	for name, counts := range categoricalCounts {
		total := 0
		for _, c := range counts {
			total += c
		}
		proportions := make(map[string]float64, len(counts))
		for cat, c := range counts {
			proportions[cat] = float64(c) / float64(total)
		}
		out.Categorical[name] = Categorical{
			Count:       total,
			Proportions: proportions,
		}
	}

	return out, nil
}

// summarizeNumeric computes count, mean, stddev and the fixed quantile set.
func summarizeNumeric(values []float64) Numeric {
	n := len(values)
	if n == 0 {
		return Numeric{Quantiles: Quantiles{}}
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	stddev := 0.0
	if n > 1 {
		stddev = math.Sqrt(variance / float64(n-1))
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	quantiles := make(Quantiles, len(QuantileLevels))
	for _, q := range QuantileLevels {
		quantiles[q] = quantile(sorted, q)
	}

	return Numeric{
		Count:     n,
		Mean:      mean,
		StdDev:    stddev,
		Quantiles: quantiles,
	}
}

// quantile returns the q-quantile of a sorted slice using linear
// interpolation between closest ranks.
func quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo < 0 {
		lo = 0
	}
	if hi >= n {
		hi = n - 1
	}
	if lo == hi {
		return sorted[lo]
	}

	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
