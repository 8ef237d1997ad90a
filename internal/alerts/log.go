package alerts

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSender writes alerts to the structured log instead of an external channel
type LogSender struct {
	log *logrus.Logger
}

// NewLogSender creates a new log sender
func NewLogSender(log *logrus.Logger) *LogSender {
	return &LogSender{log: log}
}

// Send logs the alert, at warn level for ALERT severity
func (s *LogSender) Send(ctx context.Context, payload *AlertPayload) error {
	entry := s.log.WithFields(logrus.Fields{
		"severity":            payload.Severity,
		"batch_id":            payload.BatchID,
		"candidate_id":        payload.CandidateID,
		"trade_id":            payload.TradeID,
		"rank":                payload.DiscoveryRank,
		"priority":            payload.Priority,
		"wallet":              payload.WalletShort,
		"market":              payload.MarketTitle,
		"notional_usd":        payload.NotionalUSD,
		"anomaly_score":       payload.AnomalyScore,
		"insider_probability": payload.InsiderProbability,
		"matched_patterns":    len(payload.MatchedPatterns),
		"environment":         payload.Environment,
	})
	if payload.Severity == SeverityAlert {
		entry.Warn("Insider candidate alert")
		return nil
	}
	entry.Info("Insider candidate alert")
	return nil
}
