// Package baseline computes per-(category, metric) distributions of normal and insider
// trading, both from scratch and by extending stored sufficient statistics.
package baseline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/liamashdown/insiderlens/internal/config"
	"github.com/liamashdown/insiderlens/internal/metrics"
	"github.com/liamashdown/insiderlens/internal/stats"
	"github.com/liamashdown/insiderlens/internal/storage"
	"github.com/sirupsen/logrus"
)

// ErrInsufficientData means a (category, metric) pair has too few samples to baseline.
var ErrInsufficientData = errors.New("insufficient data")

// Store is the persistence the engine needs
type Store interface {
	ListCategories(ctx context.Context) ([]string, error)
	ListResolvedTrades(ctx context.Context, q storage.TradeQuery) ([]storage.Trade, error)
	GetBaseline(ctx context.Context, category, metric string) (*storage.PatternBaseline, error)
	ListBaselines(ctx context.Context) ([]storage.PatternBaseline, error)
	UpsertBaseline(ctx context.Context, b *storage.PatternBaseline) error
	ListConfirmedInsiders(ctx context.Context, trainedOnly bool) ([]storage.ConfirmedInsider, error)
	ListTradesByIDs(ctx context.Context, ids []int64) ([]storage.Trade, error)
	ListWalletTrades(ctx context.Context, wallet string, marketID *int64, resolvedOnly bool) ([]storage.Trade, error)
}

// Engine builds and maintains PatternBaseline rows
type Engine struct {
	cfg   *config.Config
	store Store
	log   *logrus.Logger
}

// New creates a baseline engine
func New(cfg *config.Config, store Store, log *logrus.Logger) *Engine {
	return &Engine{cfg: cfg, store: store, log: log}
}

// CalculateResult summarizes a full recompute
type CalculateResult struct {
	BaselinesCreated int      `json:"baselines_created"`
	Metrics          []string `json:"metrics"`
	Categories       []string `json:"categories"`
	Skipped          int      `json:"skipped"`
	TradesProcessed  int64    `json:"trades_processed"`
}

// UpdateResult summarizes an incremental pass
type UpdateResult struct {
	Updated            int   `json:"updated"`
	NewTradesProcessed int64 `json:"new_trades_processed"`
}

// InsiderResult summarizes an insider baseline pass
type InsiderResult struct {
	Updated       int `json:"updated"`
	InsiderTrades int `json:"insider_trades"`
}

// categoriesOrAll resolves a nil category list to every resolved category plus the pooled one
func (e *Engine) categoriesOrAll(ctx context.Context, categories []string) ([]string, error) {
	if len(categories) > 0 {
		return categories, nil
	}
	cats, err := e.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return append(cats, storage.CategoryAll), nil
}

// stream walks resolved trades of a category strictly after the cursor, one chunk at a time
func (e *Engine) stream(ctx context.Context, category string, afterTS, afterID int64, fn func(t *storage.Trade)) (int64, error) {
	var processed int64
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		trades, err := e.store.ListResolvedTrades(ctx, storage.TradeQuery{
			Category: category,
			AfterTS:  afterTS,
			AfterID:  afterID,
			Limit:    e.cfg.BaselineChunkSize,
		})
		if err != nil {
			return processed, fmt.Errorf("list resolved trades: %w", err)
		}
		for i := range trades {
			fn(&trades[i])
		}
		processed += int64(len(trades))
		if len(trades) < e.cfg.BaselineChunkSize {
			return processed, nil
		}
		last := trades[len(trades)-1]
		afterTS, afterID = last.TradeTS, last.ID
	}
}

// CalculateBaselines fully recomputes every metric for the given categories (nil = all)
func (e *Engine) CalculateBaselines(ctx context.Context, categories []string) (*CalculateResult, error) {
	start := time.Now()
	cats, err := e.categoriesOrAll(ctx, categories)
	if err != nil {
		return nil, err
	}

	result := &CalculateResult{}
	seenMetric := make(map[string]bool)
	for _, category := range cats {
		created, skipped, processed, err := e.calculateCategory(ctx, category, Metrics)
		result.TradesProcessed += processed
		if err != nil {
			metrics.RecordJob("baseline_full", time.Since(start), err)
			return result, fmt.Errorf("category %s: %w", category, err)
		}
		result.Skipped += skipped
		if len(created) > 0 {
			result.Categories = append(result.Categories, category)
		}
		for _, m := range created {
			result.BaselinesCreated++
			if !seenMetric[m] {
				seenMetric[m] = true
				result.Metrics = append(result.Metrics, m)
			}
		}
	}

	metrics.RecordBaselines("full", result.BaselinesCreated, result.Skipped)
	metrics.RecordJob("baseline_full", time.Since(start), nil)
	e.log.WithFields(logrus.Fields{
		"baselines_created": result.BaselinesCreated,
		"categories":        len(result.Categories),
		"skipped":           result.Skipped,
		"trades":            result.TradesProcessed,
		"duration":          time.Since(start).String(),
	}).Info("Baselines calculated")

	return result, nil
}

// calculateCategory recomputes the given metrics of one category from every resolved trade
func (e *Engine) calculateCategory(ctx context.Context, category string, metricNames []string) (created []string, skipped int, processed int64, err error) {
	values := make(map[string][]float64, len(metricNames))
	var lastTS int64
	processed, err = e.stream(ctx, category, 0, 0, func(t *storage.Trade) {
		lastTS = max(lastTS, t.TradeTS)
		for _, m := range metricNames {
			if v, ok := Value(t, m); ok {
				values[m] = append(values[m], v)
			}
		}
	})
	if err != nil {
		return nil, 0, processed, err
	}

	for _, metric := range metricNames {
		b, err := e.buildBaseline(category, metric, values[metric], lastTS)
		if errors.Is(err, ErrInsufficientData) {
			e.log.WithFields(logrus.Fields{
				"category": category,
				"metric":   metric,
				"samples":  len(values[metric]),
			}).Debug("Skipping baseline: insufficient data")
			skipped++
			continue
		}

		existing, err := e.store.GetBaseline(ctx, category, metric)
		if err != nil {
			return created, skipped, processed, fmt.Errorf("get baseline %s: %w", metric, err)
		}
		if existing != nil {
			b.InsiderMean = existing.InsiderMean
			b.InsiderStddev = existing.InsiderStddev
			b.InsiderSampleCount = existing.InsiderSampleCount
			b.SeparationScore = existing.SeparationScore
		}
		if err := e.store.UpsertBaseline(ctx, b); err != nil {
			return created, skipped, processed, fmt.Errorf("upsert baseline %s: %w", metric, err)
		}
		created = append(created, metric)
	}
	return created, skipped, processed, nil
}

// buildBaseline summarizes values into a fresh baseline row
func (e *Engine) buildBaseline(category, metric string, values []float64, lastTS int64) (*storage.PatternBaseline, error) {
	if len(values) < e.cfg.BaselineMinSamples {
		return nil, fmt.Errorf("%s/%s has %d samples: %w", category, metric, len(values), ErrInsufficientData)
	}
	s := stats.Summarize(values)
	now := time.Now().Unix()
	return &storage.PatternBaseline{
		Category:     category,
		Metric:       metric,
		NormalMean:   s.Mean,
		NormalStddev: s.StdDev,
		NormalMedian: s.Median,
		NormalP75:    s.P75,
		NormalP90:    s.P90,
		NormalP95:    s.P95,
		NormalP99:    s.P99,
		SampleCount:  s.N,
		M2:           s.M2,
		LastTradeTS:  lastTS,
		CalculatedTS: now,
	}, nil
}

// UpdateBaselinesIncremental extends stored baselines with trades newer than each row's
// last_trade_ts. Pairs with no baseline row, or every pair when forceFull, are computed
// from scratch.
func (e *Engine) UpdateBaselinesIncremental(ctx context.Context, categories []string, forceFull bool) (*UpdateResult, error) {
	start := time.Now()
	cats, err := e.categoriesOrAll(ctx, categories)
	if err != nil {
		return nil, err
	}

	if forceFull {
		full, err := e.CalculateBaselines(ctx, cats)
		if err != nil {
			return nil, err
		}
		return &UpdateResult{Updated: full.BaselinesCreated, NewTradesProcessed: full.TradesProcessed}, nil
	}

	all, err := e.store.ListBaselines(ctx)
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	byCategory := make(map[string][]storage.PatternBaseline)
	for _, b := range all {
		byCategory[b.Category] = append(byCategory[b.Category], b)
	}

	result := &UpdateResult{}
	var skipped int
	for _, category := range cats {
		existing := byCategory[category]
		if len(existing) == 0 {
			created, s, processed, err := e.calculateCategory(ctx, category, Metrics)
			if err != nil {
				metrics.RecordJob("baseline_incremental", time.Since(start), err)
				return result, fmt.Errorf("category %s: %w", category, err)
			}
			result.Updated += len(created)
			result.NewTradesProcessed += processed
			skipped += s
			continue
		}

		updated, processed, err := e.extendCategory(ctx, category, existing)
		if err != nil {
			metrics.RecordJob("baseline_incremental", time.Since(start), err)
			return result, fmt.Errorf("category %s: %w", category, err)
		}
		result.Updated += updated
		result.NewTradesProcessed += processed

		// metrics back-filled after the category was first baselined
		if missing := missingMetrics(existing); len(missing) > 0 {
			created, s, _, err := e.calculateCategory(ctx, category, missing)
			if err != nil {
				metrics.RecordJob("baseline_incremental", time.Since(start), err)
				return result, fmt.Errorf("category %s: %w", category, err)
			}
			result.Updated += len(created)
			skipped += s
		}
	}

	metrics.RecordBaselines("incremental", result.Updated, skipped)
	metrics.RecordJob("baseline_incremental", time.Since(start), nil)
	e.log.WithFields(logrus.Fields{
		"updated":    result.Updated,
		"new_trades": result.NewTradesProcessed,
		"duration":   time.Since(start).String(),
	}).Info("Baselines updated incrementally")

	return result, nil
}

// missingMetrics lists the metrics a category has no baseline row for
func missingMetrics(existing []storage.PatternBaseline) []string {
	have := make(map[string]bool, len(existing))
	for _, b := range existing {
		have[b.Metric] = true
	}
	var missing []string
	for _, m := range Metrics {
		if !have[m] {
			missing = append(missing, m)
		}
	}
	return missing
}

// extendCategory applies new trades to each of the category's baselines in (trade_ts, id)
// order. Percentiles keep their values from the last full recompute.
func (e *Engine) extendCategory(ctx context.Context, category string, existing []storage.PatternBaseline) (int, int64, error) {
	running := make([]stats.Running, len(existing))
	since := int64(math.MaxInt64)
	for i, b := range existing {
		running[i] = stats.Running{N: b.SampleCount, Mean: b.NormalMean, M2: b.M2}
		since = min(since, b.LastTradeTS)
	}

	var lastTS int64
	processed, err := e.stream(ctx, category, since, math.MaxInt64, func(t *storage.Trade) {
		lastTS = max(lastTS, t.TradeTS)
		for i, b := range existing {
			if t.TradeTS <= b.LastTradeTS {
				continue
			}
			if v, ok := Value(t, b.Metric); ok {
				running[i] = running[i].Add(v)
			}
		}
	})
	if err != nil {
		return 0, processed, err
	}
	if processed == 0 {
		return 0, 0, nil
	}

	updated := 0
	for i := range existing {
		b := existing[i]
		if lastTS <= b.LastTradeTS {
			continue
		}
		b.SampleCount = running[i].N
		b.NormalMean = running[i].Mean
		b.M2 = running[i].M2
		b.NormalStddev = running[i].StdDev()
		b.LastTradeTS = lastTS
		if err := e.store.UpsertBaseline(ctx, &b); err != nil {
			return updated, processed, fmt.Errorf("upsert baseline %s: %w", b.Metric, err)
		}
		updated++
	}
	return updated, processed, nil
}

// CalculateInsiderBaselines recomputes the insider side of every existing baseline from
// trades linked to confirmed insiders marked for training.
func (e *Engine) CalculateInsiderBaselines(ctx context.Context) (*InsiderResult, error) {
	start := time.Now()
	trades, err := e.insiderTrades(ctx)
	if err != nil {
		metrics.RecordJob("baseline_insider", time.Since(start), err)
		return nil, err
	}

	type key struct{ category, metric string }
	values := make(map[key][]float64)
	for i := range trades {
		t := &trades[i]
		for _, m := range Metrics {
			v, ok := Value(t, m)
			if !ok {
				continue
			}
			values[key{storage.CategoryAll, m}] = append(values[key{storage.CategoryAll, m}], v)
			if c := t.Category(); c != "" && c != storage.CategoryAll {
				values[key{c, m}] = append(values[key{c, m}], v)
			}
		}
	}

	baselines, err := e.store.ListBaselines(ctx)
	if err != nil {
		metrics.RecordJob("baseline_insider", time.Since(start), err)
		return nil, fmt.Errorf("list baselines: %w", err)
	}

	result := &InsiderResult{InsiderTrades: len(trades)}
	skipped := 0
	for i := range baselines {
		b := &baselines[i]
		vals := values[key{b.Category, b.Metric}]
		if len(vals) < e.cfg.BaselineMinInsiderSamples {
			skipped++
			continue
		}
		r := stats.FromValues(vals)
		mean, sd := r.Mean, r.StdDev()
		b.InsiderMean = &mean
		b.InsiderStddev = &sd
		b.InsiderSampleCount = r.N
		b.SeparationScore = nil
		if d, ok := stats.CohenD(b.NormalMean, b.NormalStddev, mean, sd); ok {
			b.SeparationScore = &d
		}
		if err := e.store.UpsertBaseline(ctx, b); err != nil {
			metrics.RecordJob("baseline_insider", time.Since(start), err)
			return result, fmt.Errorf("upsert insider baseline %s/%s: %w", b.Category, b.Metric, err)
		}
		result.Updated++
	}

	metrics.RecordBaselines("insider", result.Updated, skipped)
	metrics.RecordJob("baseline_insider", time.Since(start), nil)
	e.log.WithFields(logrus.Fields{
		"updated":        result.Updated,
		"insider_trades": result.InsiderTrades,
		"skipped":        skipped,
	}).Info("Insider baselines calculated")

	return result, nil
}

// insiderTrades resolves each trained label to trades: the linked trade, else the wallet's
// resolved trades on the linked market, else all the wallet's resolved trades.
func (e *Engine) insiderTrades(ctx context.Context) ([]storage.Trade, error) {
	insiders, err := e.store.ListConfirmedInsiders(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list confirmed insiders: %w", err)
	}

	seen := make(map[int64]bool)
	var out []storage.Trade
	add := func(trades []storage.Trade) {
		for _, t := range trades {
			if !seen[t.ID] {
				seen[t.ID] = true
				out = append(out, t)
			}
		}
	}

	var linked []int64
	for _, ci := range insiders {
		if ci.TradeID != nil {
			linked = append(linked, *ci.TradeID)
			continue
		}
		trades, err := e.store.ListWalletTrades(ctx, ci.WalletAddress, ci.MarketID, true)
		if err != nil {
			return nil, fmt.Errorf("list trades of %s: %w", ci.WalletAddress, err)
		}
		add(trades)
	}
	trades, err := e.store.ListTradesByIDs(ctx, linked)
	if err != nil {
		return nil, fmt.Errorf("list linked trades: %w", err)
	}
	add(trades)
	return out, nil
}
