// Package stats holds the sufficient statistics shared by full and incremental
// baseline computation.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// MaxSeparation caps Cohen's d so a near-degenerate distribution can't dominate averages.
const MaxSeparation = 9.9999

// Running is the (count, mean, m2) triple of Welford's algorithm.
// The zero value is an empty sample.
type Running struct {
	N    int64
	Mean float64
	M2   float64
}

// FromValues folds every value through Add, so a from-scratch result is the
// same computation as extending an empty Running one value at a time.
func FromValues(values []float64) Running {
	var r Running
	for _, x := range values {
		r = r.Add(x)
	}
	return r
}

// Add returns r extended by one observation.
func (r Running) Add(x float64) Running {
	r.N++
	delta := x - r.Mean
	r.Mean += delta / float64(r.N)
	delta2 := x - r.Mean
	r.M2 += delta * delta2
	return r
}

// Variance is the sample variance m2/(n-1), 0 below two samples.
func (r Running) Variance() float64 {
	if r.N < 2 {
		return 0
	}
	return r.M2 / float64(r.N-1)
}

// StdDev is the sample standard deviation.
func (r Running) StdDev() float64 {
	return math.Sqrt(r.Variance())
}

// Summary is a full description of one metric's distribution.
type Summary struct {
	Running
	StdDev float64
	Median float64
	P75    float64
	P90    float64
	P95    float64
	P99    float64
}

// Summarize computes moments and percentiles. values is not modified.
func Summarize(values []float64) Summary {
	r := FromValues(values)
	s := Summary{Running: r, StdDev: r.StdDev()}
	if len(values) == 0 {
		return s
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	s.Median = stat.Quantile(0.50, stat.Empirical, sorted, nil)
	s.P75 = stat.Quantile(0.75, stat.Empirical, sorted, nil)
	s.P90 = stat.Quantile(0.90, stat.Empirical, sorted, nil)
	s.P95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	s.P99 = stat.Quantile(0.99, stat.Empirical, sorted, nil)
	return s
}

// ZScore returns how many standard deviations x lies from mean.
// ok is false when stddev is not positive.
func ZScore(x, mean, stddev float64) (z float64, ok bool) {
	if stddev <= 0 || math.IsNaN(stddev) {
		return 0, false
	}
	return (x - mean) / stddev, true
}

// CohenD is the effect size between two distributions, capped at MaxSeparation.
// ok is false when either standard deviation is zero.
func CohenD(meanA, stddevA, meanB, stddevB float64) (d float64, ok bool) {
	if stddevA == 0 || stddevB == 0 {
		return 0, false
	}
	pooled := math.Sqrt((stddevA*stddevA + stddevB*stddevB) / 2)
	d = math.Abs(meanA-meanB) / pooled
	if d > MaxSeparation {
		d = MaxSeparation
	}
	return d, true
}
