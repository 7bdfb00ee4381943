package drift

import (
	"math"
	"sort"

	"github.com/modelops/driftwatch/pkg/summary"
)

// ksStatistic estimates the two-sample Kolmogorov-Smirnov statistic from
// the quantile sets of two numeric summaries.
//
// Each summary's quantiles are treated as known points of its empirical
// CDF; the CDF between points is reconstructed by linear interpolation and
// clamped to the outermost known levels beyond them. The statistic is the
// maximum CDF gap over the union of both quantile value sets. Because only
// the recorded quantile levels are visible, the result is a lower bound on
// the true D, which makes the test conservative.
func ksStatistic(a, b summary.Numeric) float64 {
	pa := cdfPoints(a)
	pb := cdfPoints(b)
	if len(pa) == 0 || len(pb) == 0 {
		return 0
	}

	xs := make([]float64, 0, len(pa)+len(pb))
	for _, p := range pa {
		xs = append(xs, p.x)
	}
	for _, p := range pb {
		xs = append(xs, p.x)
	}
	sort.Float64s(xs)

	maxGap := 0.0
	for _, x := range xs {
		gap := math.Abs(cdfAt(pa, x) - cdfAt(pb, x))
		if gap > maxGap {
			maxGap = gap
		}
	}
	return maxGap
}

type cdfPoint struct {
	x     float64
	level float64
}

// cdfPoints converts a numeric summary's quantiles into sorted CDF points.
func cdfPoints(n summary.Numeric) []cdfPoint {
	points := make([]cdfPoint, 0, len(n.Quantiles))
	for level, x := range n.Quantiles {
		points = append(points, cdfPoint{x: x, level: level})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].level < points[j].level })
	return points
}

// cdfAt evaluates the piecewise-linear CDF reconstruction at x.
func cdfAt(points []cdfPoint, x float64) float64 {
	if len(points) == 0 {
		return 0
	}
	if x <= points[0].x {
		return points[0].level
	}
	last := points[len(points)-1]
	if x >= last.x {
		return last.level
	}

	for i := 1; i < len(points); i++ {
		lo, hi := points[i-1], points[i]
		if x <= hi.x {
			if hi.x == lo.x {
				return hi.level
			}
			frac := (x - lo.x) / (hi.x - lo.x)
			return lo.level + frac*(hi.level-lo.level)
		}
	}
	return last.level
}

// ksPValue computes the asymptotic two-sample KS p-value for statistic d
// with sample sizes n1 and n2, using the Kolmogorov distribution with the
// standard small-sample correction.
func ksPValue(d float64, n1, n2 int) float64 {
	if d <= 0 || n1 <= 0 || n2 <= 0 {
		return 1
	}

	nEff := float64(n1) * float64(n2) / float64(n1+n2)
	sqrtN := math.Sqrt(nEff)
	lambda := (sqrtN + 0.12 + 0.11/sqrtN) * d

	// Q(lambda) = 2 * sum_{k=1..inf} (-1)^{k-1} exp(-2 k^2 lambda^2)
	sum := 0.0
	for k := 1; k <= 100; k++ {
		term := math.Exp(-2 * float64(k*k) * lambda * lambda)
		if k%2 == 1 {
			sum += term
		} else {
			sum -= term
		}
		if term < 1e-12 {
			break
		}
	}

	p := 2 * sum
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p
}

// populationStabilityIndex computes PSI between a current and reference
// numeric summary using buckets bounded by the reference quantiles. The
// expected proportion of each bucket follows from the recorded quantile
// levels; the actual proportion is read off the current summary's
// reconstructed CDF at the reference bucket edges.
func populationStabilityIndex(cur, ref summary.Numeric) float64 {
	refPoints := cdfPoints(ref)
	curPoints := cdfPoints(cur)
	if len(refPoints) == 0 || len(curPoints) == 0 {
		return 0
	}

	const epsilon = 1e-4

	psi := 0.0
	prevExpected := 0.0
	prevActual := 0.0
	for _, edge := range refPoints {
		expected := edge.level - prevExpected
		actual := cdfAt(curPoints, edge.x) - prevActual
		prevExpected = edge.level
		prevActual = cdfAt(curPoints, edge.x)

		psi += psiTerm(actual, expected, epsilon)
	}

	// Final open bucket above the last reference quantile.
	psi += psiTerm(1-prevActual, 1-prevExpected, epsilon)

	return psi
}

func psiTerm(actual, expected, epsilon float64) float64 {
	if actual < epsilon {
		actual = epsilon
	}
	if expected < epsilon {
		expected = epsilon
	}
	return (actual - expected) * math.Log(actual/expected)
}

// totalVariationDistance computes TVD between two category-proportion
// mappings over the union of their categories. Ranges over [0, 1].
func totalVariationDistance(a, b map[string]float64) float64 {
	seen := make(map[string]bool, len(a)+len(b))
	sum := 0.0
	for cat, pa := range a {
		sum += math.Abs(pa - b[cat])
		seen[cat] = true
	}
	for cat, pb := range b {
		if !seen[cat] {
			sum += pb
		}
	}
	return sum / 2
}
