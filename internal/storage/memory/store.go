// Package memory is an in-memory implementation of the storage.DB query surface,
// used by service tests and local runs without MySQL.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/liamashdown/insiderlens/internal/storage"
)

type baselineKey struct {
	category string
	metric   string
}

// Store holds every table in maps guarded by one RWMutex. Reads return copies.
type Store struct {
	mu sync.RWMutex

	markets      map[int64]*storage.Market
	trades       map[int64]*storage.Trade
	wallets      map[string]*storage.Wallet
	baselines    map[baselineKey]*storage.PatternBaseline
	scores       map[int64]*storage.TradeScore // keyed by trade_id
	patterns     map[string]*storage.InsiderPattern
	insiders     []*storage.ConfirmedInsider
	candidates   map[int64]*storage.InvestigationCandidate
	batches      map[string]*storage.DiscoveryBatch
	feedbackRuns []*storage.FeedbackRun

	nextID int64
}

// New creates an empty store
func New() *Store {
	return &Store{
		markets:    make(map[int64]*storage.Market),
		trades:     make(map[int64]*storage.Trade),
		wallets:    make(map[string]*storage.Wallet),
		baselines:  make(map[baselineKey]*storage.PatternBaseline),
		scores:     make(map[int64]*storage.TradeScore),
		patterns:   make(map[string]*storage.InsiderPattern),
		candidates: make(map[int64]*storage.InvestigationCandidate),
		batches:    make(map[string]*storage.DiscoveryBatch),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// AddMarket inserts or replaces a market, assigning an id when zero
func (s *Store) AddMarket(m storage.Market) *storage.Market {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == 0 {
		m.ID = s.id()
	}
	_ = m.BeforeCreate(nil)
	s.markets[m.ID] = &m
	out := m
	return &out
}

// AddTrade inserts or replaces a trade, assigning an id when zero. The Market field is ignored.
func (s *Store) AddTrade(t storage.Trade) *storage.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.id()
	}
	t.Market = nil
	s.trades[t.ID] = &t
	return s.tradeCopy(&t)
}

// Ping always succeeds
func (s *Store) Ping(context.Context) error { return nil }

// tradeCopy copies a trade and attaches a copy of its market. Caller holds the lock.
func (s *Store) tradeCopy(t *storage.Trade) *storage.Trade {
	out := *t
	out.Market = nil
	if m, ok := s.markets[t.MarketID]; ok {
		mc := *m
		out.Market = &mc
	}
	return &out
}

func (s *Store) sortedTrades() []*storage.Trade {
	out := make([]*storage.Trade, 0, len(s.trades))
	for _, t := range s.trades {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) resolved(t *storage.Trade) bool {
	m, ok := s.markets[t.MarketID]
	return ok && m.IsResolved()
}

// Trades

func (s *Store) GetTrade(_ context.Context, id int64) (*storage.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[id]
	if !ok {
		return nil, nil
	}
	return s.tradeCopy(t), nil
}

func (s *Store) ListTrades(_ context.Context, page storage.TradePage) ([]storage.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.Trade
	for _, t := range s.sortedTrades() {
		if t.ID <= page.AfterID {
			continue
		}
		if page.UnscoredOnly {
			if _, scored := s.scores[t.ID]; scored {
				continue
			}
		}
		out = append(out, *s.tradeCopy(t))
		if page.Limit > 0 && len(out) == page.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CountTrades(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.trades)), nil
}

func (s *Store) ListResolvedTrades(_ context.Context, q storage.TradeQuery) ([]storage.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*storage.Trade
	for _, t := range s.trades {
		if !s.resolved(t) {
			continue
		}
		if q.Category != "" && q.Category != storage.CategoryAll && s.markets[t.MarketID].Category != q.Category {
			continue
		}
		if t.TradeTS < q.AfterTS || (t.TradeTS == q.AfterTS && t.ID <= q.AfterID) {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].TradeTS != matched[j].TradeTS {
			return matched[i].TradeTS < matched[j].TradeTS
		}
		return matched[i].ID < matched[j].ID
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	out := make([]storage.Trade, 0, len(matched))
	for _, t := range matched {
		out = append(out, *s.tradeCopy(t))
	}
	return out, nil
}

func (s *Store) ListTradesByIDs(_ context.Context, ids []int64) ([]storage.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	var out []storage.Trade
	for _, id := range sorted {
		if t, ok := s.trades[id]; ok {
			out = append(out, *s.tradeCopy(t))
		}
	}
	return out, nil
}

func (s *Store) ListWalletTrades(_ context.Context, wallet string, marketID *int64, resolvedOnly bool) ([]storage.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*storage.Trade
	for _, t := range s.trades {
		if t.WalletAddress != wallet {
			continue
		}
		if marketID != nil && t.MarketID != *marketID {
			continue
		}
		if resolvedOnly && !s.resolved(t) {
			continue
		}
		matched = append(matched, t)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].TradeTS != matched[j].TradeTS {
			return matched[i].TradeTS < matched[j].TradeTS
		}
		return matched[i].ID < matched[j].ID
	})
	out := make([]storage.Trade, 0, len(matched))
	for _, t := range matched {
		out = append(out, *s.tradeCopy(t))
	}
	return out, nil
}

func (s *Store) ListCategories(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for _, m := range s.markets {
		if m.IsResolved() && m.Category != "" {
			seen[m.Category] = true
		}
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

func (s *Store) ListWalletMarketIDs(_ context.Context, wallet string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[int64]bool)
	for _, t := range s.trades {
		if t.WalletAddress == wallet {
			seen[t.MarketID] = true
		}
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

func (s *Store) ListMarketWallets(_ context.Context, marketIDs []int64) ([]storage.WalletMarket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[int64]bool, len(marketIDs))
	for _, id := range marketIDs {
		wanted[id] = true
	}
	seen := make(map[storage.WalletMarket]bool)
	var out []storage.WalletMarket
	for _, t := range s.sortedTrades() {
		if !wanted[t.MarketID] {
			continue
		}
		pair := storage.WalletMarket{WalletAddress: t.WalletAddress, MarketID: t.MarketID}
		if !seen[pair] {
			seen[pair] = true
			out = append(out, pair)
		}
	}
	return out, nil
}

// Wallets

func (s *Store) GetWallet(_ context.Context, address string) (*storage.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[address]
	if !ok {
		return nil, nil
	}
	out := *w
	return &out, nil
}

func (s *Store) ListWallets(_ context.Context, addresses []string) (map[string]storage.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]storage.Wallet, len(addresses))
	for _, a := range addresses {
		if w, ok := s.wallets[a]; ok {
			out[a] = *w
		}
	}
	return out, nil
}

func (s *Store) UpsertWallet(_ context.Context, w *storage.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = w.BeforeCreate(nil)
	cp := *w
	s.wallets[w.WalletAddress] = &cp
	return nil
}

// Baselines

func (s *Store) GetBaseline(_ context.Context, category, metric string) (*storage.PatternBaseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.baselines[baselineKey{category, metric}]
	if !ok {
		return nil, nil
	}
	out := *b
	return &out, nil
}

func (s *Store) ListBaselines(context.Context) ([]storage.PatternBaseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.PatternBaseline, 0, len(s.baselines))
	for _, b := range s.baselines {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Metric < out[j].Metric
	})
	return out, nil
}

func (s *Store) UpsertBaseline(_ context.Context, b *storage.PatternBaseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := baselineKey{b.Category, b.Metric}
	b.UpdatedTS = time.Now().Unix()
	if existing, ok := s.baselines[key]; ok {
		b.ID = existing.ID
	} else {
		b.ID = s.id()
		_ = b.BeforeCreate(nil)
	}
	cp := *b
	s.baselines[key] = &cp
	return nil
}

// Scores

func cloneScore(sc *storage.TradeScore) storage.TradeScore {
	out := *sc
	out.MatchedPatterns = maps.Clone(sc.MatchedPatterns)
	out.Trade = nil
	return out
}

func (s *Store) GetTradeScore(_ context.Context, tradeID int64) (*storage.TradeScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scores[tradeID]
	if !ok {
		return nil, nil
	}
	out := cloneScore(sc)
	return &out, nil
}

func (s *Store) UpsertTradeScore(_ context.Context, sc *storage.TradeScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.scores[sc.TradeID]; ok {
		sc.ID = existing.ID
	} else {
		sc.ID = s.id()
	}
	_ = sc.BeforeCreate(nil)
	cp := cloneScore(sc)
	s.scores[sc.TradeID] = &cp
	return nil
}

func (s *Store) withTrade(sc *storage.TradeScore) storage.TradeScore {
	out := cloneScore(sc)
	if t, ok := s.trades[sc.TradeID]; ok {
		out.Trade = s.tradeCopy(t)
	}
	return out
}

func (s *Store) ListScoredTrades(_ context.Context, page storage.ScorePage) ([]storage.TradeScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := slices.Sorted(maps.Keys(s.scores))
	var out []storage.TradeScore
	for _, id := range ids {
		if id <= page.AfterTradeID {
			continue
		}
		out = append(out, s.withTrade(s.scores[id]))
		if page.Limit > 0 && len(out) == page.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) WalletAverageAnomaly(_ context.Context, wallets []string) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[string]bool, len(wallets))
	for _, w := range wallets {
		wanted[w] = true
	}
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for tradeID, sc := range s.scores {
		t, ok := s.trades[tradeID]
		if !ok || !wanted[t.WalletAddress] {
			continue
		}
		sums[t.WalletAddress] += sc.AnomalyScore
		counts[t.WalletAddress]++
	}
	out := make(map[string]float64, len(sums))
	for w, sum := range sums {
		out[w] = sum / float64(counts[w])
	}
	return out, nil
}

// Discovery

func (s *Store) eligible(q storage.DiscoveryQuery) []*storage.TradeScore {
	candidateTrades := make(map[int64]bool, len(s.candidates))
	for _, c := range s.candidates {
		candidateTrades[c.TradeID] = true
	}
	insiderTrades := make(map[int64]bool)
	for _, ci := range s.insiders {
		if ci.TradeID != nil {
			insiderTrades[*ci.TradeID] = true
		}
	}

	var out []*storage.TradeScore
	for tradeID, sc := range s.scores {
		t, ok := s.trades[tradeID]
		if !ok {
			continue
		}
		m, ok := s.markets[t.MarketID]
		if !ok || !m.IsEventBased {
			continue
		}
		if sc.AnomalyScore < q.MinAnomaly || sc.InsiderProbability < q.MinProbability {
			continue
		}
		if t.WasCorrect == nil || !*t.WasCorrect {
			continue
		}
		if q.MinProfit != nil && (t.ProfitLoss == nil || *t.ProfitLoss < *q.MinProfit) {
			continue
		}
		if candidateTrades[tradeID] || insiderTrades[tradeID] {
			continue
		}
		out = append(out, sc)
	}
	return out
}

func (s *Store) ListDiscoveryCandidates(_ context.Context, q storage.DiscoveryQuery) ([]storage.TradeScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.eligible(q)
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.InsiderProbability != b.InsiderProbability {
			return a.InsiderProbability > b.InsiderProbability
		}
		if a.AnomalyScore != b.AnomalyScore {
			return a.AnomalyScore > b.AnomalyScore
		}
		return a.TradeID < b.TradeID
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	out := make([]storage.TradeScore, 0, len(matched))
	for _, sc := range matched {
		out = append(out, s.withTrade(sc))
	}
	return out, nil
}

func (s *Store) DiscoveryStats(_ context.Context, q storage.DiscoveryQuery) (markets, trades int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.eligible(q)
	seen := make(map[int64]bool)
	for _, sc := range matched {
		seen[s.trades[sc.TradeID].MarketID] = true
	}
	return int64(len(seen)), int64(len(matched)), nil
}

func (s *Store) CreateBatch(_ context.Context, b *storage.DiscoveryBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = b.BeforeCreate(nil)
	cp := *b
	s.batches[b.ID] = &cp
	return nil
}

func (s *Store) SaveBatch(ctx context.Context, b *storage.DiscoveryBatch) error {
	return s.CreateBatch(ctx, b)
}

func (s *Store) GetBatch(_ context.Context, id string) (*storage.DiscoveryBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, nil
	}
	out := *b
	return &out, nil
}

// Candidates

func cloneCandidate(c *storage.InvestigationCandidate) storage.InvestigationCandidate {
	out := *c
	out.MatchedPatterns = maps.Clone(c.MatchedPatterns)
	out.Evidence = slices.Clone(c.Evidence)
	return out
}

func (s *Store) CreateCandidates(_ context.Context, candidates []storage.InvestigationCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.candidates {
		for _, n := range candidates {
			if c.TradeID == n.TradeID {
				return storage.ErrDuplicateTrade
			}
		}
	}
	for i := range candidates {
		candidates[i].ID = s.id()
		_ = candidates[i].BeforeCreate(nil)
		cp := cloneCandidate(&candidates[i])
		s.candidates[cp.ID] = &cp
	}
	return nil
}

func (s *Store) GetCandidate(_ context.Context, id int64) (*storage.InvestigationCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.candidates[id]
	if !ok {
		return nil, nil
	}
	out := cloneCandidate(c)
	return &out, nil
}

func (s *Store) SaveCandidate(_ context.Context, c *storage.InvestigationCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.UpdatedTS = time.Now().Unix()
	cp := cloneCandidate(c)
	s.candidates[c.ID] = &cp
	return nil
}

func (s *Store) ResolveCandidate(_ context.Context, c *storage.InvestigationCandidate, insider *storage.ConfirmedInsider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if insider != nil {
		s.createInsider(insider)
	}
	c.UpdatedTS = time.Now().Unix()
	cp := cloneCandidate(c)
	s.candidates[c.ID] = &cp
	return nil
}

func (s *Store) ListCandidates(_ context.Context, f storage.CandidateFilter) ([]storage.InvestigationCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*storage.InvestigationCandidate
	for _, c := range s.candidates {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Priority != "" && c.Priority != f.Priority {
			continue
		}
		if f.BatchID != "" && c.BatchID != f.BatchID {
			continue
		}
		if f.Wallet != "" && c.WalletAddress != f.Wallet {
			continue
		}
		matched = append(matched, c)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].InsiderProbability != matched[j].InsiderProbability {
			return matched[i].InsiderProbability > matched[j].InsiderProbability
		}
		return matched[i].ID < matched[j].ID
	})
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[f.Offset:]
		}
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	out := make([]storage.InvestigationCandidate, 0, len(matched))
	for _, c := range matched {
		out = append(out, cloneCandidate(c))
	}
	return out, nil
}

func (s *Store) CountCandidates(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.candidates)), nil
}

// Confirmed insiders

func (s *Store) createInsider(c *storage.ConfirmedInsider) {
	c.ID = s.id()
	_ = c.BeforeCreate(nil)
	cp := *c
	cp.Evidence = maps.Clone(c.Evidence)
	s.insiders = append(s.insiders, &cp)
}

func (s *Store) CreateConfirmedInsider(_ context.Context, c *storage.ConfirmedInsider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createInsider(c)
	return nil
}

func (s *Store) ListConfirmedInsiders(_ context.Context, trainedOnly bool) ([]storage.ConfirmedInsider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.ConfirmedInsider
	for _, c := range s.insiders {
		if trainedOnly && !c.UsedForTraining {
			continue
		}
		cp := *c
		cp.Evidence = maps.Clone(c.Evidence)
		out = append(out, cp)
	}
	return out, nil
}

func (s *Store) ListInsiderWallets(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for _, c := range s.insiders {
		seen[c.WalletAddress] = true
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

func (s *Store) MarkInsidersTrained(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.insiders {
		if !c.UsedForTraining {
			c.UsedForTraining = true
			n++
		}
	}
	return n, nil
}

func (s *Store) CountConfirmedInsiders(context.Context) (storage.InsiderCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := storage.InsiderCounts{Total: int64(len(s.insiders))}
	for _, c := range s.insiders {
		if c.UsedForTraining {
			counts.Trained++
		}
	}
	return counts, nil
}

// Patterns

func clonePattern(p *storage.InsiderPattern) storage.InsiderPattern {
	out := *p
	out.Conditions = slices.Clone(p.Conditions)
	return out
}

func (s *Store) ListPatterns(_ context.Context, activeOnly bool) ([]storage.InsiderPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.InsiderPattern
	for _, name := range slices.Sorted(maps.Keys(s.patterns)) {
		p := s.patterns[name]
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, clonePattern(p))
	}
	return out, nil
}

func (s *Store) GetPatternByName(_ context.Context, name string) (*storage.InsiderPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patterns[name]
	if !ok {
		return nil, nil
	}
	out := clonePattern(p)
	return &out, nil
}

func (s *Store) SavePattern(_ context.Context, p *storage.InsiderPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
		_ = p.BeforeCreate(nil)
	}
	p.UpdatedTS = time.Now().Unix()
	cp := clonePattern(p)
	s.patterns[p.Name] = &cp
	return nil
}

// Feedback runs

func (s *Store) CreateFeedbackRun(_ context.Context, run *storage.FeedbackRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.ID = s.id()
	_ = run.BeforeCreate(nil)
	cp := *run
	s.feedbackRuns = append(s.feedbackRuns, &cp)
	return nil
}

func (s *Store) LatestFeedbackIteration(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := 0
	for _, r := range s.feedbackRuns {
		latest = max(latest, r.Iteration)
	}
	return latest, nil
}
