package storage

// TradeQuery selects resolved-market trades in (trade_ts, id) order, strictly after the cursor
type TradeQuery struct {
	Category string // "" or CategoryAll for every category
	AfterTS  int64
	AfterID  int64
	Limit    int
}

// CategoryAll is the pooled baseline category
const CategoryAll = "all"

// TradePage selects trades in id order after AfterID
type TradePage struct {
	AfterID      int64
	Limit        int
	UnscoredOnly bool
}

// ScorePage selects trade scores in trade id order after AfterTradeID
type ScorePage struct {
	AfterTradeID int64
	Limit        int
}

// DiscoveryQuery selects scored trades eligible to become investigation candidates
type DiscoveryQuery struct {
	MinAnomaly     float64
	MinProbability float64
	MinProfit      *float64
	Limit          int
}

// CandidateFilter narrows candidate listings; zero values match everything
type CandidateFilter struct {
	Status   string
	Priority string
	BatchID  string
	Wallet   string
	Limit    int
	Offset   int
}

// WalletMarket is one (wallet, market) participation pair
type WalletMarket struct {
	WalletAddress string
	MarketID      int64
}

// InsiderCounts summarizes the ground-truth table
type InsiderCounts struct {
	Total   int64
	Trained int64
}
