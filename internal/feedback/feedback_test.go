package feedback

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/liamashdown/insiderlens/internal/baseline"
	"github.com/liamashdown/insiderlens/internal/config"
	"github.com/liamashdown/insiderlens/internal/investigation"
	"github.com/liamashdown/insiderlens/internal/patterns"
	"github.com/liamashdown/insiderlens/internal/scoring"
	"github.com/liamashdown/insiderlens/internal/storage"
	"github.com/liamashdown/insiderlens/internal/storage/memory"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Store            = (*storage.DB)(nil)
	_ Store            = (*memory.Store)(nil)
	_ BaselineTrainer  = (*baseline.Engine)(nil)
	_ PatternValidator = (*patterns.Engine)(nil)
	_ Rescorer         = (*scoring.Engine)(nil)
	_ Discoverer       = (*investigation.Service)(nil)
)

func ptr[T any](v T) *T { return &v }

func testConfig() *config.Config {
	return &config.Config{
		Environment:                   "test",
		BaselineMinSamples:            10,
		BaselineMinInsiderSamples:     3,
		BaselineChunkSize:             50,
		ScoringBatchSize:              5,
		ScoringWorkers:                2,
		DiscoveryAnomalyThreshold:     0,
		DiscoveryProbabilityThreshold: 0,
		DiscoveryLimit:                1,
		SignificantSeparationDelta:    0.2,
		SignificantF1Delta:            0.1,
		ModerateSeparationDelta:       0.05,
		ModerateF1Delta:               0.03,
		RegressionTolerance:           0.01,
	}
}

type services struct {
	store    *memory.Store
	baseline *baseline.Engine
	patterns *patterns.Engine
	scoring  *scoring.Engine
	inv      *investigation.Service
	loop     *Loop
}

func newServices(t *testing.T) *services {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	cfg := testConfig()
	store := memory.New()

	s := &services{store: store}
	s.baseline = baseline.New(cfg, store, log)
	s.patterns = patterns.New(cfg, store, log)
	s.scoring = scoring.New(cfg, store, s.patterns, log)
	s.inv = investigation.New(cfg, store, nil, log)
	s.loop = New(cfg, store, s.baseline, s.patterns, s.scoring, s.inv, log)

	ctx := context.Background()
	m := store.AddMarket(storage.Market{ConditionID: "m", Category: "politics", IsEventBased: true, ResolvedOutcome: ptr("Yes")})
	for i := 0; i < 12; i++ {
		store.AddTrade(storage.Trade{
			WalletAddress: "0xcrowd", MarketID: m.ID, Side: storage.SideBuy, Outcome: "Yes",
			Size: float64(10 + i%3), Price: 0.5, TradeTS: int64(i), WasCorrect: ptr(true),
			HoursBeforeResolution: ptr(float64(100 + i)),
		})
	}
	store.AddTrade(storage.Trade{
		WalletAddress: "0xinsider", MarketID: m.ID, Side: storage.SideBuy, Outcome: "Yes",
		Size: 5000, Price: 0.1, TradeTS: 20, WasCorrect: ptr(true), ProfitLoss: ptr(45000.0),
		HoursBeforeResolution: ptr(2.0),
	})

	_, err := s.patterns.SeedPatterns(ctx)
	require.NoError(t, err)
	_, err = s.baseline.CalculateBaselines(ctx, nil)
	require.NoError(t, err)
	_, err = s.scoring.RescoreAllTrades(ctx, scoring.Options{})
	require.NoError(t, err)
	return s
}

func TestResolveThenFeedbackTrainsExactlyOne(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()

	res, err := s.inv.Discover(ctx, investigation.DiscoveryOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, res.CandidatesCreated)

	candidates, err := s.inv.ListCandidates(ctx, storage.CandidateFilter{})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	c := candidates[0]
	assert.Equal(t, "0xinsider", c.WalletAddress)

	_, err = s.inv.StartInvestigation(ctx, c.ID, "alice")
	require.NoError(t, err)
	_, err = s.inv.ResolveCandidate(ctx, c.ID, investigation.ResolveInput{Resolution: investigation.ResolutionConfirmedInsider})
	require.NoError(t, err)

	before, err := s.store.CountConfirmedInsiders(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.InsiderCounts{Total: 1, Trained: 0}, before)

	result, err := s.loop.RunFeedbackLoop(ctx, Options{Rescore: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Iteration)
	require.Len(t, result.Steps, 5)
	for i, name := range []string{StepMarkTrained, StepInsiderBaselines, StepValidatePatterns, StepRescore, StepDiscovery} {
		assert.Equal(t, name, result.Steps[i].Name)
		assert.False(t, result.Steps[i].Skipped)
	}
	assert.Equal(t, int64(1), result.Improvements.NewlyTrained)
	assert.Equal(t, int64(1), result.PostStats.TrainedInsiders-result.PreStats.TrainedInsiders)
	assert.Equal(t, int64(1), result.PreStats.Candidates)

	after, err := s.store.CountConfirmedInsiders(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Trained+1, after.Trained)
	assert.Equal(t, before.Total, after.Total)

	latest, err := s.store.LatestFeedbackIteration(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, latest)

	// nothing new to train
	result, err = s.loop.RunFeedbackLoop(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Iteration)
	assert.Equal(t, int64(0), result.Improvements.NewlyTrained)
	assert.True(t, result.Steps[3].Skipped, "rescore follows configuration")
}

type stubTrainer struct{ err error }

func (s stubTrainer) CalculateInsiderBaselines(context.Context) (*baseline.InsiderResult, error) {
	return &baseline.InsiderResult{}, s.err
}

type stubValidator struct{ calls int }

func (s *stubValidator) ValidatePatterns(context.Context) (*patterns.ValidationResult, error) {
	s.calls++
	return &patterns.ValidationResult{}, nil
}

type stubRescorer struct{}

func (stubRescorer) RescoreAllTrades(context.Context, scoring.Options) (*scoring.BatchResult, error) {
	return &scoring.BatchResult{}, nil
}

type stubDiscoverer struct{}

func (stubDiscoverer) Discover(context.Context, investigation.DiscoveryOptions) (*investigation.DiscoveryResult, error) {
	return &investigation.DiscoveryResult{}, nil
}

func TestFailedStepStopsIteration(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	store := memory.New()
	boom := errors.New("boom")
	validator := &stubValidator{}
	loop := New(testConfig(), store, stubTrainer{err: boom}, validator, stubRescorer{}, stubDiscoverer{}, log)

	result, err := loop.RunFeedbackLoop(context.Background(), Options{})
	require.ErrorIs(t, err, boom)
	require.NotNil(t, result)
	assert.Len(t, result.Steps, 1)
	assert.Equal(t, 0, validator.calls)

	latest, err := store.LatestFeedbackIteration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, latest, "failed iterations are not recorded")
}

func TestInvalidThresholds(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	loop := New(testConfig(), memory.New(), stubTrainer{}, &stubValidator{}, stubRescorer{}, stubDiscoverer{}, log)

	_, err := loop.RunFeedbackLoop(context.Background(), Options{Thresholds: &ThresholdOverrides{ModerateF1: ptr(-1.0)}})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	result, err := loop.RunFeedbackLoop(context.Background(), Options{Thresholds: &ThresholdOverrides{SignificantF1: ptr(0.5)}})
	require.NoError(t, err)
	assert.Equal(t, NoChange, result.Improvements.Classification)
}

func TestThresholdOverrides(t *testing.T) {
	cfg := testConfig()
	loop := New(cfg, memory.New(), stubTrainer{}, &stubValidator{}, stubRescorer{}, stubDiscoverer{}, logrus.New())
	configured := ThresholdsFromConfig(cfg)

	th, err := loop.thresholds(Options{})
	require.NoError(t, err)
	assert.Equal(t, configured, th)

	// explicit zeros replace the configured deltas, omitted fields keep them
	th, err = loop.thresholds(Options{Thresholds: &ThresholdOverrides{
		ModerateF1:          ptr(0.0),
		RegressionTolerance: ptr(0.0),
	}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, th.ModerateF1)
	assert.Equal(t, 0.0, th.RegressionTolerance)
	assert.Equal(t, configured.SignificantSeparation, th.SignificantSeparation)
	assert.Equal(t, configured.SignificantF1, th.SignificantF1)
	assert.Equal(t, configured.ModerateSeparation, th.ModerateSeparation)

	// a zero moderate delta counts any F1 gain as moderate
	pre := Snapshot{AvgSeparation: 1.0, AvgF1: 0.4}
	post := Snapshot{AvgSeparation: 1.0, AvgF1: 0.405}
	assert.Equal(t, ModerateImprovement, Compare(pre, post, th).Classification)
	assert.Equal(t, NoChange, Compare(pre, post, configured).Classification)
}
