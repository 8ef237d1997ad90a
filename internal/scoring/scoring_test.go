package scoring

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/liamashdown/insiderlens/internal/baseline"
	"github.com/liamashdown/insiderlens/internal/config"
	"github.com/liamashdown/insiderlens/internal/patterns"
	"github.com/liamashdown/insiderlens/internal/storage"
	"github.com/liamashdown/insiderlens/internal/storage/memory"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Store   = (*storage.DB)(nil)
	_ Store   = (*memory.Store)(nil)
	_ Matcher = (*patterns.Engine)(nil)
)

func ptr[T any](v T) *T { return &v }

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testConfig() *config.Config {
	return &config.Config{
		BaselineMinSamples:        10,
		BaselineMinInsiderSamples: 3,
		BaselineChunkSize:         100,
		ScoringBatchSize:          2,
		ScoringWorkers:            3,
	}
}

type staticMatcher []patterns.Pattern

func (m staticMatcher) ActivePatterns(context.Context) ([]patterns.Pattern, error) { return m, nil }

func TestScoreTrade_SizeScenario(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	m := store.AddMarket(storage.Market{ConditionID: "m", Category: "politics", ResolvedOutcome: ptr("Yes")})
	for i, size := range []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 100} {
		store.AddTrade(storage.Trade{WalletAddress: "0xhist", MarketID: m.ID, Side: storage.SideBuy, Outcome: "Yes", Size: size, TradeTS: int64(i)})
	}
	_, err := baseline.New(testConfig(), store, testLogger()).CalculateBaselines(ctx, nil)
	require.NoError(t, err)

	big := store.AddTrade(storage.Trade{WalletAddress: "0xbig", MarketID: m.ID, Side: storage.SideBuy, Outcome: "Yes", Size: 100, TradeTS: 100})
	small := store.AddTrade(storage.Trade{WalletAddress: "0xsmall", MarketID: m.ID, Side: storage.SideBuy, Outcome: "Yes", Size: 10, TradeTS: 101})

	e := New(testConfig(), store, nil, testLogger())
	bigScore, err := e.ScoreTrade(ctx, big)
	require.NoError(t, err)
	smallScore, err := e.ScoreTrade(ctx, small)
	require.NoError(t, err)

	require.NotNil(t, bigScore.SizeZScore)
	require.NotNil(t, smallScore.SizeZScore)
	assert.InDelta(t, 3.0, *bigScore.SizeZScore, 0.05)
	assert.Less(t, *smallScore.SizeZScore, 0.0)
	assert.Greater(t, *bigScore.SizeZScore-*smallScore.SizeZScore, 3.0)
	assert.Greater(t, bigScore.AnomalyScore, smallScore.AnomalyScore)

	// no timing or wallet-age baselines
	assert.Nil(t, bigScore.TimingZScore)
	assert.Nil(t, bigScore.WalletAgeZScore)
	assert.False(t, bigScore.TrinityPattern)

	// unknown outcome discounts probability
	assert.InDelta(t, bigScore.AnomalyScore*0.6, bigScore.InsiderProbability, 1e-9)

	stored, err := store.GetTradeScore(ctx, big.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, bigScore.AnomalyScore, stored.AnomalyScore)
}

func TestCompute_CategoryFallbackAndConcentration(t *testing.T) {
	baselines := NewBaselines([]storage.PatternBaseline{
		{Category: storage.CategoryAll, Metric: baseline.MetricSize, NormalMean: 10, NormalStddev: 5},
		{Category: "sports", Metric: baseline.MetricSize, NormalMean: 100, NormalStddev: 10},
		{Category: storage.CategoryAll, Metric: baseline.MetricTiming, NormalMean: 48, NormalStddev: 0},
	})

	politics := &storage.Trade{ID: 1, Size: 20, Market: &storage.Market{Category: "politics"}}
	sports := &storage.Trade{ID: 2, Size: 120, Market: &storage.Market{Category: "sports"}, HoursBeforeResolution: ptr(10.0)}

	ps := Compute(politics, baselines, nil)
	require.NotNil(t, ps.SizeZScore)
	assert.InDelta(t, 2.0, *ps.SizeZScore, 1e-9) // pooled baseline
	assert.Nil(t, ps.PositionConcentration)

	ss := Compute(sports, baselines, nil)
	require.NotNil(t, ss.SizeZScore)
	assert.InDelta(t, 2.0, *ss.SizeZScore, 1e-9) // category baseline
	assert.Nil(t, ss.TimingZScore, "zero stddev omits the metric")

	oneSided := []storage.Trade{
		{Side: storage.SideBuy, Outcome: "Yes", Size: 40},
		{Side: storage.SideBuy, Outcome: "Yes", Size: 60},
	}
	split := []storage.Trade{
		{Side: storage.SideBuy, Outcome: "Yes", Size: 50},
		{Side: storage.SideBuy, Outcome: "No", Size: 50},
	}
	a := Compute(politics, baselines, oneSided)
	b := Compute(politics, baselines, split)
	require.NotNil(t, a.PositionConcentrationZScore)
	require.NotNil(t, b.PositionConcentrationZScore)
	assert.InDelta(t, 1.0, *a.PositionConcentration, 1e-9)
	assert.InDelta(t, 0.0, *b.PositionConcentration, 1e-9)
	assert.InDelta(t, 2.0, *a.PositionConcentrationZScore, 1e-9)
	assert.InDelta(t, -3.0, *b.PositionConcentrationZScore, 1e-9)
	assert.Greater(t, a.AnomalyScore, b.AnomalyScore)
}

func TestCompute_Trinity(t *testing.T) {
	baselines := NewBaselines([]storage.PatternBaseline{
		{Category: storage.CategoryAll, Metric: baseline.MetricSize, NormalMean: 10, NormalStddev: 1},
		{Category: storage.CategoryAll, Metric: baseline.MetricTiming, NormalMean: 10, NormalStddev: 1},
		{Category: storage.CategoryAll, Metric: baseline.MetricWalletAge, NormalMean: 10, NormalStddev: 1},
	})
	tr := &storage.Trade{Size: 13, HoursBeforeResolution: ptr(12.0), WalletAgeDays: ptr(15), WasCorrect: ptr(true)}

	s := Compute(tr, baselines, nil)
	assert.True(t, s.TrinityPattern)
	assert.InDelta(t, s.AnomalyScore+0.1, s.InsiderProbability, 1e-9)

	tr.WalletAgeDays = ptr(11)
	assert.False(t, Compute(tr, baselines, nil).TrinityPattern)

	tr.WalletAgeDays = nil
	assert.False(t, Compute(tr, baselines, nil).TrinityPattern)
}

func TestScoreTrade_AttachesPatterns(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	m := store.AddMarket(storage.Market{ConditionID: "m", Category: "politics"})
	tr := store.AddTrade(storage.Trade{WalletAddress: "0xa", MarketID: m.ID, Side: storage.SideBuy, Outcome: "Yes", Size: 10})

	matcher := staticMatcher{
		{Name: "one_sided", Logic: patterns.LogicAnd, AlertThreshold: 0.7, Conditions: []patterns.Condition{
			{Metric: patterns.KeyPositionConcentration, Operator: patterns.OpGTE, Value: patterns.Number(0.9)},
		}},
		{Name: "never", Logic: patterns.LogicAnd, AlertThreshold: 0.9, Conditions: []patterns.Condition{
			{Metric: patterns.KeyTrinityPattern, Operator: patterns.OpEQ, Value: patterns.Bool(true)},
		}},
	}

	s, err := New(testConfig(), store, matcher, testLogger()).ScoreTrade(ctx, tr)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"one_sided": 0.7}, s.MatchedPatterns)
	require.NotNil(t, s.HighestPatternScore)
	assert.Equal(t, 0.7, *s.HighestPatternScore)
}

// failingStore fails score writes for one trade
type failingStore struct {
	*memory.Store
	failTradeID int64
}

func (f *failingStore) UpsertTradeScore(ctx context.Context, s *storage.TradeScore) error {
	if s.TradeID == f.failTradeID {
		return errors.New("write failed")
	}
	return f.Store.UpsertTradeScore(ctx, s)
}

func TestScoreAllAndRescore(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	m := mem.AddMarket(storage.Market{ConditionID: "m", Category: "politics"})
	var ids []int64
	for i := 0; i < 7; i++ {
		tr := mem.AddTrade(storage.Trade{WalletAddress: "0xa", MarketID: m.ID, Side: storage.SideBuy, Outcome: "Yes", Size: float64(i + 1)})
		ids = append(ids, tr.ID)
	}
	require.NoError(t, mem.UpsertTradeScore(ctx, &storage.TradeScore{TradeID: ids[0]}))

	store := &failingStore{Store: mem, failTradeID: ids[3]}
	e := New(testConfig(), store, nil, testLogger())

	res, err := e.ScoreAllTrades(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Scored)
	assert.Equal(t, int64(1), res.Errors)

	res, err = e.RescoreAllTrades(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.Scored)
	assert.Equal(t, int64(1), res.Errors)
	assert.Equal(t, int64(7), res.Total)

	res, err = e.RescoreAllTrades(ctx, Options{BatchSize: 3, Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Scored)
	assert.Equal(t, int64(1), res.Errors)
}

func TestScoreTradeByID_NotFound(t *testing.T) {
	e := New(testConfig(), memory.New(), nil, testLogger())
	_, err := e.ScoreTradeByID(context.Background(), 42)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
