// Package scoring turns a trade's raw attributes into per-metric z-scores, a
// composite anomaly score, an insider probability and pattern matches.
package scoring

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/liamashdown/insiderlens/internal/baseline"
	"github.com/liamashdown/insiderlens/internal/config"
	"github.com/liamashdown/insiderlens/internal/metrics"
	"github.com/liamashdown/insiderlens/internal/patterns"
	"github.com/liamashdown/insiderlens/internal/stats"
	"github.com/liamashdown/insiderlens/internal/storage"
	"github.com/sirupsen/logrus"
)

// Store is the persistence the engine needs
type Store interface {
	ListBaselines(ctx context.Context) ([]storage.PatternBaseline, error)
	GetTrade(ctx context.Context, id int64) (*storage.Trade, error)
	ListTrades(ctx context.Context, page storage.TradePage) ([]storage.Trade, error)
	CountTrades(ctx context.Context) (int64, error)
	ListWalletTrades(ctx context.Context, wallet string, marketID *int64, resolvedOnly bool) ([]storage.Trade, error)
	UpsertTradeScore(ctx context.Context, s *storage.TradeScore) error
}

// Matcher supplies the active patterns attached to each score
type Matcher interface {
	ActivePatterns(ctx context.Context) ([]patterns.Pattern, error)
}

// Baselines indexes baseline rows by category then metric
type Baselines map[string]map[string]storage.PatternBaseline

// NewBaselines indexes rows
func NewBaselines(rows []storage.PatternBaseline) Baselines {
	b := make(Baselines)
	for _, r := range rows {
		if b[r.Category] == nil {
			b[r.Category] = make(map[string]storage.PatternBaseline)
		}
		b[r.Category][r.Metric] = r
	}
	return b
}

// Lookup returns the category's baseline for a metric, falling back to the pooled one
func (b Baselines) Lookup(category, metric string) (storage.PatternBaseline, bool) {
	if row, ok := b[category][metric]; ok {
		return row, true
	}
	row, ok := b[storage.CategoryAll][metric]
	return row, ok
}

// Compute scores one trade. marketTrades are the wallet's trades on the same market.
func Compute(t *storage.Trade, baselines Baselines, marketTrades []storage.Trade) *storage.TradeScore {
	category := t.Category()
	zscore := func(metric string) *float64 {
		v, ok := baseline.Value(t, metric)
		if !ok {
			return nil
		}
		b, ok := baselines.Lookup(category, metric)
		if !ok {
			return nil
		}
		z, ok := stats.ZScore(v, b.NormalMean, b.NormalStddev)
		if !ok {
			return nil
		}
		return &z
	}

	s := &storage.TradeScore{
		TradeID:              t.ID,
		SizeZScore:           zscore(baseline.MetricSize),
		USDCZScore:           zscore(baseline.MetricUSDCSize),
		TimingZScore:         zscore(baseline.MetricTiming),
		WalletAgeZScore:      zscore(baseline.MetricWalletAge),
		WalletActivityZScore: zscore(baseline.MetricWalletActivity),
		PriceExtremityZScore: zscore(baseline.MetricPriceExtremity),
	}
	if c, ok := Concentration(marketTrades); ok {
		cz := (c - ConcentrationMean) / ConcentrationStddev
		s.PositionConcentration = &c
		s.PositionConcentrationZScore = &cz
	}

	var present []float64
	for _, z := range []*float64{
		s.SizeZScore, s.USDCZScore, s.TimingZScore, s.WalletAgeZScore,
		s.WalletActivityZScore, s.PriceExtremityZScore, s.PositionConcentrationZScore,
	} {
		if z != nil {
			present = append(present, *z)
		}
	}

	s.AnomalyScore = Composite(present)
	s.TrinityPattern = Trinity(s.SizeZScore, s.TimingZScore, s.WalletAgeZScore)
	s.InsiderProbability = Probability(s.AnomalyScore, t.WasCorrect, s.TrinityPattern)
	return s
}

// Engine scores trades and persists the results
type Engine struct {
	cfg        *config.Config
	store      Store
	matcher    Matcher
	log        *logrus.Logger
	workerPool chan struct{}
}

// New creates a scoring engine. matcher may be nil to skip pattern matching.
func New(cfg *config.Config, store Store, matcher Matcher, log *logrus.Logger) *Engine {
	workerPool := make(chan struct{}, cfg.ScoringWorkers)
	for i := 0; i < cfg.ScoringWorkers; i++ {
		workerPool <- struct{}{}
	}
	return &Engine{
		cfg:        cfg,
		store:      store,
		matcher:    matcher,
		log:        log,
		workerPool: workerPool,
	}
}

// snapshot is the read-only state shared by every trade of one run
type snapshot struct {
	baselines Baselines
	patterns  []patterns.Pattern
}

func (e *Engine) loadSnapshot(ctx context.Context) (*snapshot, error) {
	rows, err := e.store.ListBaselines(ctx)
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	snap := &snapshot{baselines: NewBaselines(rows)}
	if e.matcher != nil {
		if snap.patterns, err = e.matcher.ActivePatterns(ctx); err != nil {
			return nil, fmt.Errorf("load patterns: %w", err)
		}
	}
	return snap, nil
}

func (e *Engine) score(ctx context.Context, t *storage.Trade, snap *snapshot) (*storage.TradeScore, error) {
	marketTrades, err := e.store.ListWalletTrades(ctx, t.WalletAddress, &t.MarketID, false)
	if err != nil {
		return nil, fmt.Errorf("list wallet market trades: %w", err)
	}

	s := Compute(t, snap.baselines, marketTrades)
	if snap.patterns != nil {
		s.MatchedPatterns = patterns.Match(snap.patterns, patterns.BuildContext(t, s))
		s.HighestPatternScore = patterns.Highest(s.MatchedPatterns)
	}
	s.ScoredTS = time.Now().Unix()

	if err := e.store.UpsertTradeScore(ctx, s); err != nil {
		return nil, fmt.Errorf("upsert trade score: %w", err)
	}
	return s, nil
}

// ScoreTrade scores one trade and upserts its score
func (e *Engine) ScoreTrade(ctx context.Context, t *storage.Trade) (*storage.TradeScore, error) {
	snap, err := e.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	s, err := e.score(ctx, t, snap)
	if err != nil {
		metrics.RecordTradeScore(0, false, err)
		return nil, fmt.Errorf("score trade %d: %w", t.ID, err)
	}
	metrics.RecordTradeScore(s.AnomalyScore, s.TrinityPattern, nil)
	return s, nil
}

// ScoreTradeByID loads and scores one trade
func (e *Engine) ScoreTradeByID(ctx context.Context, id int64) (*storage.TradeScore, error) {
	t, err := e.store.GetTrade(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get trade %d: %w", id, err)
	}
	if t == nil {
		return nil, fmt.Errorf("trade %d: %w", id, storage.ErrNotFound)
	}
	return e.ScoreTrade(ctx, t)
}

// Options bounds a batch run. Zero values fall back to configuration.
type Options struct {
	BatchSize int   `json:"batch_size"`
	Limit     int64 `json:"limit"` // 0 = every trade
}

// BatchResult counts a batch run's outcomes
type BatchResult struct {
	Scored int64 `json:"scored"`
	Errors int64 `json:"errors"`
	Total  int64 `json:"total,omitempty"`
}

// ScoreAllTrades scores every trade without a score
func (e *Engine) ScoreAllTrades(ctx context.Context, opts Options) (*BatchResult, error) {
	return e.run(ctx, opts, true, "score_all")
}

// RescoreAllTrades replaces the score of every trade
func (e *Engine) RescoreAllTrades(ctx context.Context, opts Options) (*BatchResult, error) {
	total, err := e.store.CountTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("count trades: %w", err)
	}
	result, err := e.run(ctx, opts, false, "rescore_all")
	if result != nil {
		result.Total = total
	}
	return result, err
}

// run pages through trades by id and scores each page on the worker pool.
// A failing trade is counted and logged; it never stops the run.
func (e *Engine) run(ctx context.Context, opts Options, unscoredOnly bool, job string) (*BatchResult, error) {
	start := time.Now()
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = e.cfg.ScoringBatchSize
	}

	snap, err := e.loadSnapshot(ctx)
	if err != nil {
		metrics.RecordJob(job, time.Since(start), err)
		return nil, err
	}

	var scored, failed atomic.Int64
	var seen int64
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			metrics.RecordJob(job, time.Since(start), err)
			return &BatchResult{Scored: scored.Load(), Errors: failed.Load()}, err
		}

		trades, err := e.store.ListTrades(ctx, storage.TradePage{AfterID: afterID, Limit: batchSize, UnscoredOnly: unscoredOnly})
		if err != nil {
			metrics.RecordJob(job, time.Since(start), err)
			return &BatchResult{Scored: scored.Load(), Errors: failed.Load()}, fmt.Errorf("list trades: %w", err)
		}
		if len(trades) == 0 {
			break
		}
		pageFull := len(trades) == batchSize
		afterID = trades[len(trades)-1].ID
		if opts.Limit > 0 && seen+int64(len(trades)) > opts.Limit {
			trades = trades[:opts.Limit-seen]
		}
		seen += int64(len(trades))

		var wg sync.WaitGroup
		for _, trade := range trades {
			wg.Add(1)
			go func(t storage.Trade) {
				defer wg.Done()

				// Acquire worker
				<-e.workerPool
				defer func() { e.workerPool <- struct{}{} }()

				s, err := e.score(ctx, &t, snap)
				if err != nil {
					failed.Add(1)
					metrics.RecordTradeScore(0, false, err)
					e.log.WithError(err).WithField("trade_id", t.ID).Error("Failed to score trade")
					return
				}
				scored.Add(1)
				metrics.RecordTradeScore(s.AnomalyScore, s.TrinityPattern, nil)
			}(trade)
		}
		wg.Wait()

		if !pageFull || (opts.Limit > 0 && seen >= opts.Limit) {
			break
		}
	}

	result := &BatchResult{Scored: scored.Load(), Errors: failed.Load()}
	metrics.RecordJob(job, time.Since(start), nil)
	e.log.WithFields(logrus.Fields{
		"job":      job,
		"scored":   result.Scored,
		"errors":   result.Errors,
		"duration": time.Since(start).String(),
	}).Info("Scoring run complete")
	return result, nil
}
