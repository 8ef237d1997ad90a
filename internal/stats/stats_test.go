package stats

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromValuesMatchesTwoPass(t *testing.T) {
	values := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 100}
	r := FromValues(values)

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var m2 float64
	for _, v := range values {
		m2 += (v - mean) * (v - mean)
	}

	assert.Equal(t, int64(11), r.N)
	assert.InDelta(t, 18.1818, r.Mean, 1e-3)
	assert.InDelta(t, mean, r.Mean, 1e-9)
	assert.InDelta(t, m2, r.M2, 1e-6)
	assert.InDelta(t, math.Sqrt(m2/10), r.StdDev(), 1e-9)
}

func TestIncrementalEqualsFullRecompute(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	values := make([]float64, 500)
	for i := range values {
		values[i] = rng.ExpFloat64() * 1000
	}

	for _, split := range []int{10, 37, 250, 499} {
		incremental := FromValues(values[:split])
		for _, v := range values[split:] {
			incremental = incremental.Add(v)
		}
		full := FromValues(values)

		assert.Equal(t, full.N, incremental.N, "split %d", split)
		assert.InDelta(t, full.Mean, incremental.Mean, 1e-9, "split %d", split)
		assert.InDelta(t, full.StdDev(), incremental.StdDev(), 1e-9, "split %d", split)
	}
}

func TestVarianceSmallSamples(t *testing.T) {
	assert.Equal(t, 0.0, Running{}.Variance())
	assert.Equal(t, 0.0, FromValues([]float64{5}).StdDev())
	assert.InDelta(t, 2.0, FromValues([]float64{1, 3}).Variance(), 1e-12)
}

func TestSummarize(t *testing.T) {
	values := []float64{5, 1, 4, 2, 3}
	s := Summarize(values)

	assert.Equal(t, int64(5), s.N)
	assert.InDelta(t, 3.0, s.Mean, 1e-12)
	assert.InDelta(t, 3.0, s.Median, 1e-12)
	assert.Equal(t, 5.0, s.P99)
	assert.True(t, s.P75 >= s.Median && s.P90 >= s.P75 && s.P95 >= s.P90 && s.P99 >= s.P95)
	// input untouched
	assert.Equal(t, []float64{5, 1, 4, 2, 3}, values)

	empty := Summarize(nil)
	assert.Equal(t, int64(0), empty.N)
}

func TestZScore(t *testing.T) {
	z, ok := ZScore(100, 18.18, 27.13)
	assert.True(t, ok)
	assert.InDelta(t, 3.016, z, 1e-2)

	_, ok = ZScore(1, 1, 0)
	assert.False(t, ok)
}

func TestCohenD(t *testing.T) {
	tests := []struct {
		name   string
		ma, sa float64
		mb, sb float64
		want   float64
		wantOK bool
	}{
		{"one pooled sd apart", 10, 2, 12, 2, 1.0, true},
		{"symmetric", 12, 2, 10, 2, 1.0, true},
		{"capped", 0, 0.001, 100, 0.001, MaxSeparation, true},
		{"zero normal sd", 10, 0, 12, 2, 0, false},
		{"zero insider sd", 10, 2, 12, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := CohenD(tt.ma, tt.sa, tt.mb, tt.sb)
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, d, 1e-9)
		})
	}
}
