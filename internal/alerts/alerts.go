package alerts

import (
	"context"
	"time"
)

// Severity represents alert severity
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityAlert Severity = "ALERT"
)

// SeverityForPriority maps a candidate priority to an alert severity
func SeverityForPriority(priority string) Severity {
	switch priority {
	case "critical":
		return SeverityAlert
	case "high":
		return SeverityWarn
	default:
		return SeverityInfo
	}
}

// AlertPayload describes one newly discovered investigation candidate
type AlertPayload struct {
	Severity           Severity
	BatchID            string
	CandidateID        int64
	TradeID            int64
	DiscoveryRank      int
	Priority           string
	WalletAddress      string
	WalletShort        string // Shortened for display
	MarketID           int64
	MarketTitle        string
	Category           string
	Side               string
	Outcome            string
	NotionalUSD        float64
	Price              float64
	AnomalyScore       float64
	InsiderProbability float64
	MatchedPatterns    map[string]float64
	EstimatedProfit    *float64
	Timestamp          time.Time
	Environment        string
}

// Sender defines the interface for alert senders
type Sender interface {
	Send(ctx context.Context, payload *AlertPayload) error
}

// ShortAddress abbreviates a wallet address or hash for display
func ShortAddress(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}
