package scoring

import (
	"math"

	"github.com/liamashdown/insiderlens/internal/storage"
)

// Concentration is z-scored against fixed constants: it is already bounded to [0,1].
const (
	ConcentrationMean   = 0.6
	ConcentrationStddev = 0.2
)

// TrinityThreshold is the z-score size, timing and wallet age must all reach.
const TrinityThreshold = 2.0

// Outcome factors applied to the anomaly score
const (
	correctFactor   = 1.0
	unknownFactor   = 0.6
	incorrectFactor = 0.3
	trinityBonus    = 0.1
)

// Concentration measures how one-sided a wallet's net exposure on a market is.
// BUY adds size to its outcome, SELL subtracts. 1.0 means a single outcome, 0 an even split.
// ok is false without any net exposure.
func Concentration(trades []storage.Trade) (float64, bool) {
	exposure := make(map[string]float64)
	for _, t := range trades {
		if t.Side == storage.SideSell {
			exposure[t.Outcome] -= t.Size
		} else {
			exposure[t.Outcome] += t.Size
		}
	}

	var total, dominant float64
	for _, e := range exposure {
		a := math.Abs(e)
		total += a
		dominant = max(dominant, a)
	}
	if total == 0 {
		return 0, false
	}
	return max(0, (dominant/total-0.5)*2), true
}

// Composite maps z-scores to [0,1] as 1 - exp(-m/2), m being the mean of the
// positive parts. Non-decreasing in every input; 0 with no inputs.
func Composite(zscores []float64) float64 {
	if len(zscores) == 0 {
		return 0
	}
	var sum float64
	for _, z := range zscores {
		sum += max(0, z)
	}
	m := sum / float64(len(zscores))
	return 1 - math.Exp(-m/2)
}

// Probability weights the anomaly score by the trade's realized outcome.
// Trinity trades that were right get a bonus.
func Probability(anomaly float64, wasCorrect *bool, trinity bool) float64 {
	var p float64
	switch {
	case wasCorrect == nil:
		p = anomaly * unknownFactor
	case *wasCorrect:
		p = anomaly * correctFactor
		if trinity {
			p += trinityBonus
		}
	default:
		p = anomaly * incorrectFactor
	}
	return math.Min(1, math.Max(0, p))
}

// Trinity reports whether size, timing and wallet-age z-scores are all present and at least 2.
func Trinity(size, timing, walletAge *float64) bool {
	for _, z := range []*float64{size, timing, walletAge} {
		if z == nil || *z < TrinityThreshold {
			return false
		}
	}
	return true
}
