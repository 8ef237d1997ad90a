package investigation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/liamashdown/insiderlens/internal/alerts"
	"github.com/liamashdown/insiderlens/internal/metrics"
	"github.com/liamashdown/insiderlens/internal/stats"
	"github.com/liamashdown/insiderlens/internal/storage"
	"github.com/sirupsen/logrus"
)

// DiscoveryOptions overrides the configured discovery thresholds. Nil fields use configuration.
type DiscoveryOptions struct {
	AnomalyThreshold     *float64 `json:"anomaly_threshold" validate:"omitempty,gte=0,lte=1"`
	ProbabilityThreshold *float64 `json:"probability_threshold" validate:"omitempty,gte=0,lte=1"`
	MinProfit            *float64 `json:"min_profit"`
	Limit                int      `json:"limit" validate:"gte=0,lte=10000"`
	Notes                string   `json:"notes" validate:"max=1000"`
}

// DiscoveryResult summarizes one discovery run
type DiscoveryResult struct {
	BatchID           string  `json:"batch_id"`
	CandidatesCreated int     `json:"candidates_created"`
	TopScore          float64 `json:"top_score"`
	MedianScore       float64 `json:"median_score"`
	MarketsAnalyzed   int64   `json:"markets_analyzed"`
	TradesAnalyzed    int64   `json:"trades_analyzed"`
	AlertsSent        int     `json:"alerts_sent"`
}

// StartDiscoveryBatch records a new batch with resolved thresholds
func (s *Service) StartDiscoveryBatch(ctx context.Context, opts DiscoveryOptions) (*storage.DiscoveryBatch, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	batch := &storage.DiscoveryBatch{
		ID:                   uuid.NewString(),
		AnomalyThreshold:     s.cfg.DiscoveryAnomalyThreshold,
		ProbabilityThreshold: s.cfg.DiscoveryProbabilityThreshold,
		CandidateLimit:       s.cfg.DiscoveryLimit,
		StartedTS:            time.Now().Unix(),
		Notes:                opts.Notes,
	}
	if opts.AnomalyThreshold != nil {
		batch.AnomalyThreshold = *opts.AnomalyThreshold
	}
	if opts.ProbabilityThreshold != nil {
		batch.ProbabilityThreshold = *opts.ProbabilityThreshold
	}
	if opts.Limit > 0 {
		batch.CandidateLimit = opts.Limit
	}
	switch {
	case opts.MinProfit != nil:
		batch.MinProfit = opts.MinProfit
	case s.cfg.DiscoveryMinProfit > 0:
		minProfit := s.cfg.DiscoveryMinProfit
		batch.MinProfit = &minProfit
	}

	if err := s.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"batch_id":              batch.ID,
		"anomaly_threshold":     batch.AnomalyThreshold,
		"probability_threshold": batch.ProbabilityThreshold,
		"limit":                 batch.CandidateLimit,
	}).Info("Discovery batch started")

	return batch, nil
}

// RunDiscovery extracts new candidates under the batch's thresholds, ranks them
// and completes the batch record. Trades that are already candidates or
// confirmed insiders are never selected again. The batch, as resolved by
// StartDiscoveryBatch, is the only source of options, so a rerun of a stored
// batch repeats its selection.
func (s *Service) RunDiscovery(ctx context.Context, batch *storage.DiscoveryBatch) (*DiscoveryResult, error) {
	start := time.Now()
	result, err := s.runDiscovery(ctx, batch)
	metrics.RecordJob("discovery", time.Since(start), err)
	return result, err
}

func (s *Service) runDiscovery(ctx context.Context, batch *storage.DiscoveryBatch) (*DiscoveryResult, error) {
	q := storage.DiscoveryQuery{
		MinAnomaly:     batch.AnomalyThreshold,
		MinProbability: batch.ProbabilityThreshold,
		MinProfit:      batch.MinProfit,
		Limit:          batch.CandidateLimit,
	}

	markets, trades, err := s.store.DiscoveryStats(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("discovery stats: %w", err)
	}
	scores, err := s.store.ListDiscoveryCandidates(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list discovery candidates: %w", err)
	}

	candidates := make([]storage.InvestigationCandidate, 0, len(scores))
	probabilities := make([]float64, 0, len(scores))
	for i, sc := range scores {
		c := storage.InvestigationCandidate{
			BatchID:            batch.ID,
			TradeID:            sc.TradeID,
			DiscoveryRank:      i + 1,
			AnomalyScore:       sc.AnomalyScore,
			InsiderProbability: sc.InsiderProbability,
			Priority:           PriorityFor(sc.InsiderProbability),
			Status:             string(StatusUndiscovered),
			MatchedPatterns:    sc.MatchedPatterns,
		}
		if sc.Trade != nil {
			c.WalletAddress = sc.Trade.WalletAddress
			c.MarketID = sc.Trade.MarketID
			c.EstimatedProfit = sc.Trade.ProfitLoss
		}
		candidates = append(candidates, c)
		probabilities = append(probabilities, sc.InsiderProbability)
	}

	if err := s.store.CreateCandidates(ctx, candidates); err != nil {
		return nil, fmt.Errorf("create candidates: %w", err)
	}

	batch.MarketsAnalyzed = markets
	batch.TradesAnalyzed = trades
	batch.CandidatesGenerated = len(candidates)
	if len(probabilities) > 0 {
		batch.TopScore = probabilities[0]
		batch.MedianScore = stats.Summarize(probabilities).Median
	}
	batch.CompletedTS = time.Now().Unix()
	if err := s.store.SaveBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("save batch: %w", err)
	}

	for _, c := range candidates {
		metrics.RecordCandidate(c.Priority)
	}

	result := &DiscoveryResult{
		BatchID:           batch.ID,
		CandidatesCreated: len(candidates),
		TopScore:          batch.TopScore,
		MedianScore:       batch.MedianScore,
		MarketsAnalyzed:   markets,
		TradesAnalyzed:    trades,
	}
	result.AlertsSent = s.alertCritical(ctx, batch, scores, candidates)

	s.log.WithFields(logrus.Fields{
		"batch_id":         batch.ID,
		"candidates":       result.CandidatesCreated,
		"top_score":        result.TopScore,
		"median_score":     result.MedianScore,
		"markets_analyzed": markets,
		"trades_analyzed":  trades,
	}).Info("Discovery batch complete")

	return result, nil
}

// Discover starts and runs a batch in one call
func (s *Service) Discover(ctx context.Context, opts DiscoveryOptions) (*DiscoveryResult, error) {
	batch, err := s.StartDiscoveryBatch(ctx, opts)
	if err != nil {
		return nil, err
	}
	return s.RunDiscovery(ctx, batch)
}

// alertCritical notifies about critical candidates. Send failures are logged, not returned.
func (s *Service) alertCritical(ctx context.Context, batch *storage.DiscoveryBatch, scores []storage.TradeScore, candidates []storage.InvestigationCandidate) int {
	if s.sender == nil {
		return 0
	}

	sent := 0
	for i, c := range candidates {
		if c.Priority != PriorityCritical {
			continue
		}
		payload := buildPayload(s.cfg.Environment, batch, &c, scores[i].Trade)
		if err := s.sender.Send(ctx, payload); err != nil {
			metrics.RecordAlert("failed", "candidate")
			s.log.WithError(err).WithFields(logrus.Fields{
				"batch_id":     batch.ID,
				"candidate_id": c.ID,
			}).Error("Failed to send candidate alert")
			continue
		}
		metrics.RecordAlert("sent", "candidate")
		sent++
	}
	return sent
}

func buildPayload(env string, batch *storage.DiscoveryBatch, c *storage.InvestigationCandidate, t *storage.Trade) *alerts.AlertPayload {
	p := &alerts.AlertPayload{
		Severity:           alerts.SeverityForPriority(c.Priority),
		BatchID:            batch.ID,
		CandidateID:        c.ID,
		TradeID:            c.TradeID,
		DiscoveryRank:      c.DiscoveryRank,
		Priority:           c.Priority,
		WalletAddress:      c.WalletAddress,
		WalletShort:        alerts.ShortAddress(c.WalletAddress),
		MarketID:           c.MarketID,
		AnomalyScore:       c.AnomalyScore,
		InsiderProbability: c.InsiderProbability,
		MatchedPatterns:    c.MatchedPatterns,
		EstimatedProfit:    c.EstimatedProfit,
		Timestamp:          time.Now(),
		Environment:        env,
	}
	if t != nil {
		p.Side = t.Side
		p.Outcome = t.Outcome
		p.NotionalUSD = t.Notional()
		p.Price = t.Price
		if t.Market != nil {
			p.MarketTitle = t.Market.Question
			p.Category = t.Market.Category
		}
	}
	return p
}
