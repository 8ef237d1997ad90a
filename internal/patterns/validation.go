package patterns

import (
	"context"
	"fmt"
	"time"

	"github.com/liamashdown/insiderlens/internal/metrics"
	"github.com/liamashdown/insiderlens/internal/storage"
	"github.com/sirupsen/logrus"
)

// Quality is a pattern's classifier performance against ground truth
type Quality struct {
	Matched        int64   `json:"matched"`
	TruePositives  int64   `json:"true_positives"`
	FalsePositives int64   `json:"false_positives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1_score"`
	Lift           float64 `json:"lift"`
}

// Measure computes precision, recall, F1 and lift. Undefined ratios are 0.
func Measure(truePositives, matched, groundTruth, total int64) Quality {
	q := Quality{
		Matched:        matched,
		TruePositives:  truePositives,
		FalsePositives: matched - truePositives,
	}
	if matched > 0 {
		q.Precision = float64(truePositives) / float64(matched)
	}
	if groundTruth > 0 {
		q.Recall = float64(truePositives) / float64(groundTruth)
	}
	if q.Precision+q.Recall > 0 {
		q.F1 = 2 * q.Precision * q.Recall / (q.Precision + q.Recall)
	}
	if matched > 0 && groundTruth > 0 && total > 0 {
		q.Lift = q.Precision / (float64(groundTruth) / float64(total))
	}
	return q
}

// PatternResult is one pattern's validation outcome
type PatternResult struct {
	Name string `json:"name"`
	Quality
}

// ValidationResult summarizes a validation run
type ValidationResult struct {
	Validated     int             `json:"validated"`
	TotalInsiders int             `json:"total_insiders"`
	TotalTrades   int64           `json:"total_trades"`
	Results       []PatternResult `json:"results"`
}

// ValidatePatterns measures every pattern against confirmed-insider trades over all
// scored trades and persists the results. With no ground truth nothing is written.
func (e *Engine) ValidatePatterns(ctx context.Context) (*ValidationResult, error) {
	start := time.Now()

	insiders, err := e.store.ListConfirmedInsiders(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list confirmed insiders: %w", err)
	}
	groundTruth := make(map[int64]bool)
	for _, ci := range insiders {
		if ci.TradeID != nil {
			groundTruth[*ci.TradeID] = true
		}
	}

	models, err := e.store.ListPatterns(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}

	result := &ValidationResult{TotalInsiders: len(groundTruth), Results: []PatternResult{}}
	if len(groundTruth) == 0 {
		e.log.Warn("No confirmed insider trades; skipping pattern validation")
		return result, nil
	}

	compiled := make([]Pattern, 0, len(models))
	kept := make([]storage.InsiderPattern, 0, len(models))
	for _, m := range models {
		p, err := FromModel(m)
		if err != nil {
			e.log.WithError(err).WithField("pattern", m.Name).Warn("Skipping malformed pattern")
			continue
		}
		compiled = append(compiled, p)
		kept = append(kept, m)
	}

	matched := make([]int64, len(compiled))
	tp := make([]int64, len(compiled))

	var afterTradeID int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := e.store.ListScoredTrades(ctx, storage.ScorePage{AfterTradeID: afterTradeID, Limit: e.cfg.ScoringBatchSize})
		if err != nil {
			return nil, fmt.Errorf("list scored trades: %w", err)
		}
		for i := range page {
			s := &page[i]
			pc := BuildContext(s.Trade, s)
			result.TotalTrades++
			for j, p := range compiled {
				if ok, _ := p.Evaluate(pc); ok {
					matched[j]++
					if groundTruth[s.TradeID] {
						tp[j]++
					}
				}
			}
		}
		if len(page) < e.cfg.ScoringBatchSize {
			break
		}
		afterTradeID = page[len(page)-1].TradeID
	}

	now := time.Now().Unix()
	for j := range compiled {
		q := Measure(tp[j], matched[j], int64(len(groundTruth)), result.TotalTrades)
		m := kept[j]
		m.TruePositives = q.TruePositives
		m.FalsePositives = q.FalsePositives
		m.Precision = &q.Precision
		m.Recall = &q.Recall
		m.F1Score = &q.F1
		m.Lift = &q.Lift
		m.ValidatedTS = now
		if err := e.store.SavePattern(ctx, &m); err != nil {
			return result, fmt.Errorf("save validation of %s: %w", m.Name, err)
		}
		metrics.RecordPatternF1(m.Name, q.F1)
		result.Results = append(result.Results, PatternResult{Name: m.Name, Quality: q})
		result.Validated++
	}

	e.log.WithFields(logrus.Fields{
		"validated":      result.Validated,
		"total_insiders": result.TotalInsiders,
		"total_trades":   result.TotalTrades,
		"duration":       time.Since(start).String(),
	}).Info("Patterns validated")

	return result, nil
}
