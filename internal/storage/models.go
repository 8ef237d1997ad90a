package storage

import (
	"time"

	"gorm.io/gorm"
)

// Trade sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Market is a resolvable prediction question. Owned by ingestion, read-only here.
type Market struct {
	ID              int64   `gorm:"primaryKey;autoIncrement"`
	ConditionID     string  `gorm:"size:128;uniqueIndex;not null"`
	Question        string  `gorm:"size:512"`
	Category        string  `gorm:"size:128;index"`
	IsEventBased    bool    `gorm:"not null;default:true;index"`
	ResolvedOutcome *string `gorm:"size:255;index"`
	ResolvedTS      int64   `gorm:"default:0"`
	UpdatedTS       int64   `gorm:"not null"`
}

func (Market) TableName() string {
	return "markets"
}

// IsResolved reports whether the market has a known outcome
func (m *Market) IsResolved() bool {
	return m.ResolvedOutcome != nil
}

// Trade is one fill. Derived fields stay nil until the market resolves.
type Trade struct {
	ID              int64   `gorm:"primaryKey;autoIncrement"`
	TransactionHash string  `gorm:"size:128;index"`
	WalletAddress   string  `gorm:"size:128;not null;index;index:idx_trades_wallet_market,priority:1"`
	MarketID        int64   `gorm:"not null;index;index:idx_trades_wallet_market,priority:2"`
	Side            string  `gorm:"size:10;not null"`
	Outcome         string  `gorm:"size:255;not null"`
	Size            float64 `gorm:"type:decimal(20,6);not null"`
	Price           float64 `gorm:"type:decimal(10,6);not null"`
	USDCSize        float64 `gorm:"type:decimal(20,6);not null;default:0"`
	TradeTS         int64   `gorm:"not null;index"`

	WalletAgeDays         *int     `gorm:"default:null"`
	WalletTradeCount      *int     `gorm:"default:null"`
	HoursBeforeResolution *float64 `gorm:"default:null"`
	PriceExtremity        *float64 `gorm:"default:null"`
	WasCorrect            *bool    `gorm:"default:null;index"`
	ProfitLoss            *float64 `gorm:"type:decimal(20,6);default:null"`

	Market *Market `gorm:"foreignKey:MarketID"`
}

func (Trade) TableName() string {
	return "trades"
}

// Notional prefers the reported USDC size and falls back to size * price
func (t *Trade) Notional() float64 {
	if t.USDCSize > 0 {
		return t.USDCSize
	}
	return t.Size * t.Price
}

// Category returns the parent market category, or "" if the market isn't loaded
func (t *Trade) Category() string {
	if t.Market == nil {
		return ""
	}
	return t.Market.Category
}

// Wallet is an aggregate of an address's trade history, recomputed periodically
type Wallet struct {
	WalletAddress  string  `gorm:"primaryKey;size:128"`
	TotalTrades    int     `gorm:"not null;default:0"`
	TotalVolumeUSD float64 `gorm:"type:decimal(20,6);not null;default:0"`
	ResolvedTrades int     `gorm:"not null;default:0"`
	WinningTrades  int     `gorm:"not null;default:0"`
	WinRate        float64 `gorm:"type:decimal(5,4);not null;default:0;index"`
	FirstSeenTS    int64   `gorm:"not null;index"`
	LastSeenTS     int64   `gorm:"not null;index"`
	UpdatedTS      int64   `gorm:"not null"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// PatternBaseline is the normal (and optionally insider) distribution of one metric in one category
type PatternBaseline struct {
	ID       int64  `gorm:"primaryKey;autoIncrement"`
	Category string `gorm:"size:128;not null;uniqueIndex:idx_baseline_category_metric,priority:1"`
	Metric   string `gorm:"size:64;not null;uniqueIndex:idx_baseline_category_metric,priority:2"`

	NormalMean   float64 `gorm:"not null"`
	NormalStddev float64 `gorm:"not null"`
	NormalMedian float64
	NormalP75    float64
	NormalP90    float64
	NormalP95    float64
	NormalP99    float64
	SampleCount  int64   `gorm:"not null"`
	M2           float64 `gorm:"not null"`
	LastTradeTS  int64   `gorm:"not null;default:0"`

	InsiderMean        *float64
	InsiderStddev      *float64
	InsiderSampleCount int64 `gorm:"not null;default:0"`
	SeparationScore    *float64

	CalculatedTS int64 `gorm:"not null"`
	UpdatedTS    int64 `gorm:"not null"`
}

func (PatternBaseline) TableName() string {
	return "pattern_baselines"
}

// TradeScore is the anomaly assessment of one trade
type TradeScore struct {
	ID      int64 `gorm:"primaryKey;autoIncrement"`
	TradeID int64 `gorm:"not null;uniqueIndex"`

	SizeZScore                  *float64
	USDCZScore                  *float64 `gorm:"column:usdc_zscore"`
	TimingZScore                *float64
	WalletAgeZScore             *float64
	WalletActivityZScore        *float64
	PriceExtremityZScore        *float64
	PositionConcentration       *float64
	PositionConcentrationZScore *float64

	AnomalyScore        float64            `gorm:"not null;index"`
	InsiderProbability  float64            `gorm:"not null;index"`
	MatchedPatterns     map[string]float64 `gorm:"serializer:json;type:text"`
	HighestPatternScore *float64
	TrinityPattern      bool  `gorm:"not null;default:false;index"`
	ScoredTS            int64 `gorm:"not null"`

	Trade *Trade `gorm:"foreignKey:TradeID"`
}

func (TradeScore) TableName() string {
	return "trade_scores"
}

// InsiderPattern is a named, evaluable rule set with cached validation metrics
type InsiderPattern struct {
	ID             int64              `gorm:"primaryKey;autoIncrement"`
	Name           string             `gorm:"size:128;not null;uniqueIndex"`
	Description    string             `gorm:"type:text"`
	Conditions     []PatternCondition `gorm:"serializer:json;type:text;not null"`
	Logic          string             `gorm:"size:8;not null;default:AND"`
	MinMatches     int                `gorm:"not null;default:0"`
	AlertThreshold float64            `gorm:"not null"`
	IsActive       bool               `gorm:"not null;default:true;index"`

	TruePositives  int64 `gorm:"not null;default:0"`
	FalsePositives int64 `gorm:"not null;default:0"`
	Precision      *float64
	Recall         *float64
	F1Score        *float64
	Lift           *float64
	ValidatedTS    int64 `gorm:"not null;default:0"`

	CreatedTS int64 `gorm:"not null"`
	UpdatedTS int64 `gorm:"not null"`
}

func (InsiderPattern) TableName() string {
	return "insider_patterns"
}

// PatternCondition is the persisted form of one rule; the patterns package owns its semantics.
// Value holds a JSON number or boolean.
type PatternCondition struct {
	Metric   string `json:"metric"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// Confidence levels for confirmed insiders
const (
	ConfidenceSuspected = "suspected"
	ConfidenceLikely    = "likely"
	ConfidenceConfirmed = "confirmed"
)

// ConfirmedInsider is a ground-truth label. Never deleted automatically.
type ConfirmedInsider struct {
	ID                 int64          `gorm:"primaryKey;autoIncrement"`
	WalletAddress      string         `gorm:"size:128;not null;index"`
	TradeID            *int64         `gorm:"index"`
	MarketID           *int64         `gorm:"index"`
	CandidateID        *int64         `gorm:"index"`
	ConfidenceLevel    string         `gorm:"size:16;not null"`
	ConfirmationSource string         `gorm:"size:64;not null"`
	Evidence           map[string]any `gorm:"serializer:json;type:text"`
	UsedForTraining    bool           `gorm:"not null;default:false;index"`
	ConfirmedTS        int64          `gorm:"not null"`
	CreatedTS          int64          `gorm:"not null"`
}

func (ConfirmedInsider) TableName() string {
	return "confirmed_insiders"
}

// Evidence is one structured item attached to a candidate
type Evidence struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
	AddedBy     string         `json:"added_by,omitempty"`
	AddedTS     int64          `json:"added_ts"`
}

// InvestigationCandidate is a ranked trade-level suspect tracked through the analyst workflow
type InvestigationCandidate struct {
	ID                 int64              `gorm:"primaryKey;autoIncrement"`
	BatchID            string             `gorm:"size:36;not null;index"`
	TradeID            int64              `gorm:"not null;uniqueIndex"`
	WalletAddress      string             `gorm:"size:128;not null;index"`
	MarketID           int64              `gorm:"not null;index"`
	DiscoveryRank      int                `gorm:"not null"`
	AnomalyScore       float64            `gorm:"not null"`
	InsiderProbability float64            `gorm:"not null"`
	Priority           string             `gorm:"size:16;not null;index"`
	Status             string             `gorm:"size:16;not null;index"`
	MatchedPatterns    map[string]float64 `gorm:"serializer:json;type:text"`
	EstimatedProfit    *float64           `gorm:"type:decimal(20,6)"`

	AssignedTo             string     `gorm:"size:128"`
	InvestigationStartedTS int64      `gorm:"not null;default:0"`
	ResolvedTS             int64      `gorm:"not null;default:0"`
	Resolution             string     `gorm:"size:32"`
	DismissReason          string     `gorm:"type:text"`
	Notes                  string     `gorm:"type:text"`
	Evidence               []Evidence `gorm:"serializer:json;type:text"`

	CreatedTS int64 `gorm:"not null;index"`
	UpdatedTS int64 `gorm:"not null"`
}

func (InvestigationCandidate) TableName() string {
	return "investigation_candidates"
}

// DiscoveryBatch is the append-only audit record of one discovery run
type DiscoveryBatch struct {
	ID                   string   `gorm:"primaryKey;size:36"`
	AnomalyThreshold     float64  `gorm:"not null"`
	ProbabilityThreshold float64  `gorm:"not null"`
	MinProfit            *float64 `gorm:"type:decimal(20,6)"`
	CandidateLimit       int      `gorm:"not null"`
	MarketsAnalyzed      int64    `gorm:"not null;default:0"`
	TradesAnalyzed       int64    `gorm:"not null;default:0"`
	CandidatesGenerated  int      `gorm:"not null;default:0"`
	TopScore             float64
	MedianScore          float64
	StartedTS            int64  `gorm:"not null;index"`
	CompletedTS          int64  `gorm:"not null;default:0"`
	Notes                string `gorm:"type:text"`
}

func (DiscoveryBatch) TableName() string {
	return "discovery_batches"
}

// FeedbackRun records one feedback-loop iteration
type FeedbackRun struct {
	ID          int64          `gorm:"primaryKey;autoIncrement"`
	Iteration   int            `gorm:"not null;uniqueIndex"`
	PreStats    map[string]any `gorm:"serializer:json;type:text"`
	PostStats   map[string]any `gorm:"serializer:json;type:text"`
	Improvement string         `gorm:"size:32;not null"`
	Steps       []string       `gorm:"serializer:json;type:text"`
	StartedTS   int64          `gorm:"not null"`
	CompletedTS int64          `gorm:"not null"`
}

func (FeedbackRun) TableName() string {
	return "feedback_runs"
}

// BeforeCreate hooks for timestamps

func (m *Market) BeforeCreate(tx *gorm.DB) error {
	if m.UpdatedTS == 0 {
		m.UpdatedTS = time.Now().Unix()
	}
	return nil
}

func (w *Wallet) BeforeCreate(tx *gorm.DB) error {
	if w.UpdatedTS == 0 {
		w.UpdatedTS = time.Now().Unix()
	}
	return nil
}

func (b *PatternBaseline) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().Unix()
	if b.CalculatedTS == 0 {
		b.CalculatedTS = now
	}
	if b.UpdatedTS == 0 {
		b.UpdatedTS = now
	}
	return nil
}

func (s *TradeScore) BeforeCreate(tx *gorm.DB) error {
	if s.ScoredTS == 0 {
		s.ScoredTS = time.Now().Unix()
	}
	return nil
}

func (p *InsiderPattern) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().Unix()
	if p.CreatedTS == 0 {
		p.CreatedTS = now
	}
	if p.UpdatedTS == 0 {
		p.UpdatedTS = now
	}
	return nil
}

func (c *ConfirmedInsider) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().Unix()
	if c.CreatedTS == 0 {
		c.CreatedTS = now
	}
	if c.ConfirmedTS == 0 {
		c.ConfirmedTS = now
	}
	return nil
}

func (c *InvestigationCandidate) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().Unix()
	if c.CreatedTS == 0 {
		c.CreatedTS = now
	}
	if c.UpdatedTS == 0 {
		c.UpdatedTS = now
	}
	return nil
}

func (b *DiscoveryBatch) BeforeCreate(tx *gorm.DB) error {
	if b.StartedTS == 0 {
		b.StartedTS = time.Now().Unix()
	}
	return nil
}

func (f *FeedbackRun) BeforeCreate(tx *gorm.DB) error {
	if f.StartedTS == 0 {
		f.StartedTS = time.Now().Unix()
	}
	return nil
}
