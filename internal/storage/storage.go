package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/liamashdown/insiderlens/internal/config"
	"github.com/liamashdown/insiderlens/internal/metrics"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DB wraps the GORM database connection
type DB struct {
	conn *gorm.DB
	log  *logrus.Logger
}

// New creates a new database connection with GORM
func New(cfg *config.Config, log *logrus.Logger) (*DB, error) {
	// Configure GORM logger
	gormLogger := logger.New(
		&gormLogAdapter{log: log},
		logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	conn, err := gorm.Open(mysql.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := registerMetricsCallbacks(conn); err != nil {
		return nil, fmt.Errorf("register metrics callbacks: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.DatabaseMaxConns)
	sqlDB.SetMaxIdleConns(cfg.DatabaseMaxConns / 2)
	sqlDB.SetConnMaxIdleTime(cfg.DatabaseMaxIdleTime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("Database connection established")

	return &DB{conn: conn, log: log}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the connection is alive
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// AutoMigrate runs GORM auto-migration
func (db *DB) AutoMigrate() error {
	return db.conn.AutoMigrate(
		&Market{},
		&Trade{},
		&Wallet{},
		&PatternBaseline{},
		&TradeScore{},
		&InsiderPattern{},
		&ConfirmedInsider{},
		&InvestigationCandidate{},
		&DiscoveryBatch{},
		&FeedbackRun{},
	)
}

// Trades

// GetTrade retrieves a trade with its market
func (db *DB) GetTrade(ctx context.Context, id int64) (*Trade, error) {
	var trade Trade
	result := db.conn.WithContext(ctx).Preload("Market").Where("id = ?", id).First(&trade)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &trade, nil
}

// ListTrades pages through trades by id
func (db *DB) ListTrades(ctx context.Context, page TradePage) ([]Trade, error) {
	var trades []Trade
	q := db.conn.WithContext(ctx).
		Preload("Market").
		Where("trades.id > ?", page.AfterID)
	if page.UnscoredOnly {
		q = q.Where("NOT EXISTS (SELECT 1 FROM trade_scores WHERE trade_scores.trade_id = trades.id)")
	}
	result := q.Order("trades.id ASC").Limit(page.Limit).Find(&trades)
	return trades, result.Error
}

// CountTrades returns the number of trades
func (db *DB) CountTrades(ctx context.Context) (int64, error) {
	var count int64
	result := db.conn.WithContext(ctx).Model(&Trade{}).Count(&count)
	return count, result.Error
}

// ListResolvedTrades pages through trades on resolved markets in (trade_ts, id) order
func (db *DB) ListResolvedTrades(ctx context.Context, q TradeQuery) ([]Trade, error) {
	var trades []Trade
	tx := db.conn.WithContext(ctx).
		Select("trades.*").
		Joins("JOIN markets ON markets.id = trades.market_id").
		Preload("Market").
		Where("markets.resolved_outcome IS NOT NULL").
		Where("(trades.trade_ts > ? OR (trades.trade_ts = ? AND trades.id > ?))", q.AfterTS, q.AfterTS, q.AfterID)
	if q.Category != "" && q.Category != CategoryAll {
		tx = tx.Where("markets.category = ?", q.Category)
	}
	result := tx.Order("trades.trade_ts ASC, trades.id ASC").Limit(q.Limit).Find(&trades)
	return trades, result.Error
}

// ListTradesByIDs retrieves the given trades with their markets
func (db *DB) ListTradesByIDs(ctx context.Context, ids []int64) ([]Trade, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var trades []Trade
	result := db.conn.WithContext(ctx).Preload("Market").Where("id IN ?", ids).Order("id ASC").Find(&trades)
	return trades, result.Error
}

// ListWalletTrades retrieves a wallet's trades, optionally limited to one market and/or resolved markets
func (db *DB) ListWalletTrades(ctx context.Context, wallet string, marketID *int64, resolvedOnly bool) ([]Trade, error) {
	var trades []Trade
	tx := db.conn.WithContext(ctx).
		Select("trades.*").
		Joins("JOIN markets ON markets.id = trades.market_id").
		Preload("Market").
		Where("trades.wallet_address = ?", wallet)
	if marketID != nil {
		tx = tx.Where("trades.market_id = ?", *marketID)
	}
	if resolvedOnly {
		tx = tx.Where("markets.resolved_outcome IS NOT NULL")
	}
	result := tx.Order("trades.trade_ts ASC, trades.id ASC").Find(&trades)
	return trades, result.Error
}

// ListCategories returns the distinct non-empty categories of resolved markets
func (db *DB) ListCategories(ctx context.Context) ([]string, error) {
	var categories []string
	result := db.conn.WithContext(ctx).Model(&Market{}).
		Where("resolved_outcome IS NOT NULL AND category <> ''").
		Distinct("category").
		Order("category ASC").
		Pluck("category", &categories)
	return categories, result.Error
}

// ListWalletMarketIDs returns the distinct markets a wallet has traded
func (db *DB) ListWalletMarketIDs(ctx context.Context, wallet string) ([]int64, error) {
	var ids []int64
	result := db.conn.WithContext(ctx).Model(&Trade{}).
		Where("wallet_address = ?", wallet).
		Distinct("market_id").
		Pluck("market_id", &ids)
	return ids, result.Error
}

// ListMarketWallets returns every distinct (wallet, market) pair on the given markets
func (db *DB) ListMarketWallets(ctx context.Context, marketIDs []int64) ([]WalletMarket, error) {
	if len(marketIDs) == 0 {
		return nil, nil
	}
	var pairs []WalletMarket
	result := db.conn.WithContext(ctx).Model(&Trade{}).
		Select("DISTINCT wallet_address, market_id").
		Where("market_id IN ?", marketIDs).
		Scan(&pairs)
	return pairs, result.Error
}

// Wallets

// GetWallet retrieves a wallet record
func (db *DB) GetWallet(ctx context.Context, address string) (*Wallet, error) {
	var wallet Wallet
	result := db.conn.WithContext(ctx).Where("wallet_address = ?", address).First(&wallet)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &wallet, nil
}

// ListWallets retrieves wallet records keyed by address; unknown addresses are absent
func (db *DB) ListWallets(ctx context.Context, addresses []string) (map[string]Wallet, error) {
	out := make(map[string]Wallet, len(addresses))
	if len(addresses) == 0 {
		return out, nil
	}
	var wallets []Wallet
	if err := db.conn.WithContext(ctx).Where("wallet_address IN ?", addresses).Find(&wallets).Error; err != nil {
		return nil, err
	}
	for _, w := range wallets {
		out[w.WalletAddress] = w
	}
	return out, nil
}

// UpsertWallet replaces a wallet's aggregate stats
func (db *DB) UpsertWallet(ctx context.Context, wallet *Wallet) error {
	return db.conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "wallet_address"}},
			UpdateAll: true,
		}).
		Create(wallet).Error
}

// Baselines

// GetBaseline retrieves the baseline for one (category, metric) pair
func (db *DB) GetBaseline(ctx context.Context, category, metric string) (*PatternBaseline, error) {
	var b PatternBaseline
	result := db.conn.WithContext(ctx).Where("category = ? AND metric = ?", category, metric).First(&b)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &b, nil
}

// ListBaselines retrieves every baseline
func (db *DB) ListBaselines(ctx context.Context) ([]PatternBaseline, error) {
	var baselines []PatternBaseline
	result := db.conn.WithContext(ctx).Order("category ASC, metric ASC").Find(&baselines)
	return baselines, result.Error
}

// UpsertBaseline inserts or replaces the baseline keyed by (category, metric)
func (db *DB) UpsertBaseline(ctx context.Context, b *PatternBaseline) error {
	b.UpdatedTS = time.Now().Unix()
	return db.conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "category"}, {Name: "metric"}},
			UpdateAll: true,
		}).
		Create(b).Error
}

// Scores

// GetTradeScore retrieves the score of one trade
func (db *DB) GetTradeScore(ctx context.Context, tradeID int64) (*TradeScore, error) {
	var s TradeScore
	result := db.conn.WithContext(ctx).Where("trade_id = ?", tradeID).First(&s)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &s, nil
}

// UpsertTradeScore inserts or replaces the score keyed by trade id
func (db *DB) UpsertTradeScore(ctx context.Context, s *TradeScore) error {
	return db.conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "trade_id"}},
			UpdateAll: true,
		}).
		Create(s).Error
}

// ListScoredTrades pages through scores by trade id with trade and market loaded
func (db *DB) ListScoredTrades(ctx context.Context, page ScorePage) ([]TradeScore, error) {
	var scores []TradeScore
	result := db.conn.WithContext(ctx).
		Preload("Trade.Market").
		Where("trade_id > ?", page.AfterTradeID).
		Order("trade_id ASC").
		Limit(page.Limit).
		Find(&scores)
	return scores, result.Error
}

// WalletAverageAnomaly returns the mean anomaly score of each wallet's scored trades
func (db *DB) WalletAverageAnomaly(ctx context.Context, wallets []string) (map[string]float64, error) {
	out := make(map[string]float64, len(wallets))
	if len(wallets) == 0 {
		return out, nil
	}
	var rows []struct {
		WalletAddress string
		AvgScore      float64
	}
	result := db.conn.WithContext(ctx).Model(&TradeScore{}).
		Select("trades.wallet_address AS wallet_address, AVG(trade_scores.anomaly_score) AS avg_score").
		Joins("JOIN trades ON trades.id = trade_scores.trade_id").
		Where("trades.wallet_address IN ?", wallets).
		Group("trades.wallet_address").
		Scan(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	for _, r := range rows {
		out[r.WalletAddress] = r.AvgScore
	}
	return out, nil
}

// Discovery

func (db *DB) discoveryScope(ctx context.Context, q DiscoveryQuery) *gorm.DB {
	tx := db.conn.WithContext(ctx).Model(&TradeScore{}).
		Joins("JOIN trades ON trades.id = trade_scores.trade_id").
		Joins("JOIN markets ON markets.id = trades.market_id").
		Where("trade_scores.anomaly_score >= ? AND trade_scores.insider_probability >= ?", q.MinAnomaly, q.MinProbability).
		Where("trades.was_correct = ?", true).
		Where("markets.is_event_based = ?", true).
		Where("trade_scores.trade_id NOT IN (SELECT trade_id FROM investigation_candidates)").
		Where("trade_scores.trade_id NOT IN (SELECT trade_id FROM confirmed_insiders WHERE trade_id IS NOT NULL)")
	if q.MinProfit != nil {
		tx = tx.Where("trades.profit_loss >= ?", *q.MinProfit)
	}
	return tx
}

// ListDiscoveryCandidates returns eligible scored trades, best first
func (db *DB) ListDiscoveryCandidates(ctx context.Context, q DiscoveryQuery) ([]TradeScore, error) {
	var scores []TradeScore
	result := db.discoveryScope(ctx, q).
		Select("trade_scores.*").
		Preload("Trade.Market").
		Order("trade_scores.insider_probability DESC, trade_scores.anomaly_score DESC, trade_scores.trade_id ASC").
		Limit(q.Limit).
		Find(&scores)
	return scores, result.Error
}

// DiscoveryStats counts the markets and trades that pass the discovery filter before the limit
func (db *DB) DiscoveryStats(ctx context.Context, q DiscoveryQuery) (markets, trades int64, err error) {
	if err := db.discoveryScope(ctx, q).Count(&trades).Error; err != nil {
		return 0, 0, err
	}
	if err := db.discoveryScope(ctx, q).Distinct("trades.market_id").Count(&markets).Error; err != nil {
		return 0, 0, err
	}
	return markets, trades, nil
}

// CreateBatch inserts a discovery batch
func (db *DB) CreateBatch(ctx context.Context, b *DiscoveryBatch) error {
	return db.conn.WithContext(ctx).Create(b).Error
}

// SaveBatch updates a discovery batch
func (db *DB) SaveBatch(ctx context.Context, b *DiscoveryBatch) error {
	return db.conn.WithContext(ctx).Save(b).Error
}

// GetBatch retrieves a discovery batch
func (db *DB) GetBatch(ctx context.Context, id string) (*DiscoveryBatch, error) {
	var b DiscoveryBatch
	result := db.conn.WithContext(ctx).Where("id = ?", id).First(&b)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &b, nil
}

// Candidates

// CreateCandidates inserts candidates in one statement. A trade that is
// already a candidate fails the whole insert with ErrDuplicateTrade.
func (db *DB) CreateCandidates(ctx context.Context, candidates []InvestigationCandidate) error {
	if len(candidates) == 0 {
		return nil
	}
	err := db.conn.WithContext(ctx).Create(&candidates).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicateTrade, err)
	}
	return err
}

// GetCandidate retrieves a candidate
func (db *DB) GetCandidate(ctx context.Context, id int64) (*InvestigationCandidate, error) {
	var c InvestigationCandidate
	result := db.conn.WithContext(ctx).Where("id = ?", id).First(&c)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &c, nil
}

// SaveCandidate updates a candidate
func (db *DB) SaveCandidate(ctx context.Context, c *InvestigationCandidate) error {
	c.UpdatedTS = time.Now().Unix()
	return db.conn.WithContext(ctx).Save(c).Error
}

// ResolveCandidate saves a resolved candidate and, when insider is non-nil, records it in the same transaction
func (db *DB) ResolveCandidate(ctx context.Context, c *InvestigationCandidate, insider *ConfirmedInsider) error {
	return db.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if insider != nil {
			if err := tx.Create(insider).Error; err != nil {
				return fmt.Errorf("create confirmed insider: %w", err)
			}
		}
		c.UpdatedTS = time.Now().Unix()
		if err := tx.Save(c).Error; err != nil {
			return fmt.Errorf("save candidate: %w", err)
		}
		return nil
	})
}

// ListCandidates lists candidates, most probable first
func (db *DB) ListCandidates(ctx context.Context, f CandidateFilter) ([]InvestigationCandidate, error) {
	var candidates []InvestigationCandidate
	tx := db.conn.WithContext(ctx)
	if f.Status != "" {
		tx = tx.Where("status = ?", f.Status)
	}
	if f.Priority != "" {
		tx = tx.Where("priority = ?", f.Priority)
	}
	if f.BatchID != "" {
		tx = tx.Where("batch_id = ?", f.BatchID)
	}
	if f.Wallet != "" {
		tx = tx.Where("wallet_address = ?", f.Wallet)
	}
	if f.Limit > 0 {
		tx = tx.Limit(f.Limit)
	}
	result := tx.Order("insider_probability DESC, id ASC").Offset(f.Offset).Find(&candidates)
	return candidates, result.Error
}

// CountCandidates returns the number of candidates
func (db *DB) CountCandidates(ctx context.Context) (int64, error) {
	var count int64
	result := db.conn.WithContext(ctx).Model(&InvestigationCandidate{}).Count(&count)
	return count, result.Error
}

// Confirmed insiders

// CreateConfirmedInsider inserts a ground-truth label
func (db *DB) CreateConfirmedInsider(ctx context.Context, c *ConfirmedInsider) error {
	return db.conn.WithContext(ctx).Create(c).Error
}

// ListConfirmedInsiders lists ground-truth labels, optionally only those used for training
func (db *DB) ListConfirmedInsiders(ctx context.Context, trainedOnly bool) ([]ConfirmedInsider, error) {
	var insiders []ConfirmedInsider
	tx := db.conn.WithContext(ctx)
	if trainedOnly {
		tx = tx.Where("used_for_training = ?", true)
	}
	result := tx.Order("id ASC").Find(&insiders)
	return insiders, result.Error
}

// ListInsiderWallets returns the distinct wallets with a confirmed insider label
func (db *DB) ListInsiderWallets(ctx context.Context) ([]string, error) {
	var wallets []string
	result := db.conn.WithContext(ctx).Model(&ConfirmedInsider{}).
		Distinct("wallet_address").
		Pluck("wallet_address", &wallets)
	return wallets, result.Error
}

// MarkInsidersTrained flags every untrained label as used for training
func (db *DB) MarkInsidersTrained(ctx context.Context) (int64, error) {
	result := db.conn.WithContext(ctx).Model(&ConfirmedInsider{}).
		Where("used_for_training = ?", false).
		Update("used_for_training", true)
	return result.RowsAffected, result.Error
}

// CountConfirmedInsiders returns total and trained label counts
func (db *DB) CountConfirmedInsiders(ctx context.Context) (InsiderCounts, error) {
	var counts InsiderCounts
	if err := db.conn.WithContext(ctx).Model(&ConfirmedInsider{}).Count(&counts.Total).Error; err != nil {
		return counts, err
	}
	err := db.conn.WithContext(ctx).Model(&ConfirmedInsider{}).
		Where("used_for_training = ?", true).
		Count(&counts.Trained).Error
	return counts, err
}

// Patterns

// ListPatterns lists patterns by name
func (db *DB) ListPatterns(ctx context.Context, activeOnly bool) ([]InsiderPattern, error) {
	var patterns []InsiderPattern
	tx := db.conn.WithContext(ctx)
	if activeOnly {
		tx = tx.Where("is_active = ?", true)
	}
	result := tx.Order("name ASC").Find(&patterns)
	return patterns, result.Error
}

// GetPatternByName retrieves a pattern
func (db *DB) GetPatternByName(ctx context.Context, name string) (*InsiderPattern, error) {
	var p InsiderPattern
	result := db.conn.WithContext(ctx).Where("name = ?", name).First(&p)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &p, nil
}

// SavePattern inserts a new pattern or updates an existing one
func (db *DB) SavePattern(ctx context.Context, p *InsiderPattern) error {
	p.UpdatedTS = time.Now().Unix()
	return db.conn.WithContext(ctx).Save(p).Error
}

// Feedback runs

// CreateFeedbackRun records one feedback iteration
func (db *DB) CreateFeedbackRun(ctx context.Context, run *FeedbackRun) error {
	return db.conn.WithContext(ctx).Create(run).Error
}

// LatestFeedbackIteration returns the highest recorded iteration, 0 when none
func (db *DB) LatestFeedbackIteration(ctx context.Context) (int, error) {
	var iteration int
	result := db.conn.WithContext(ctx).Model(&FeedbackRun{}).
		Select("COALESCE(MAX(iteration), 0)").
		Scan(&iteration)
	return iteration, result.Error
}

// gormLogAdapter adapts logrus to GORM's logger interface
type gormLogAdapter struct {
	log *logrus.Logger
}

func (l *gormLogAdapter) Printf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}

const queryStartKey = "insiderlens:query_start"

// registerMetricsCallbacks times every statement into the database metrics
func registerMetricsCallbacks(conn *gorm.DB) error {
	start := func(db *gorm.DB) {
		db.InstanceSet(queryStartKey, time.Now())
	}
	finish := func(operation string) func(*gorm.DB) {
		return func(db *gorm.DB) {
			v, ok := db.InstanceGet(queryStartKey)
			if !ok {
				return
			}
			began, ok := v.(time.Time)
			if !ok {
				return
			}
			err := db.Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				err = nil
			}
			metrics.RecordDatabaseQuery(operation, time.Since(began), err)
		}
	}

	cb := conn.Callback()
	return errors.Join(
		cb.Query().Before("gorm:query").Register("metrics:before_query", start),
		cb.Query().After("gorm:after_query").Register("metrics:after_query", finish("query")),
		cb.Create().Before("gorm:create").Register("metrics:before_create", start),
		cb.Create().After("gorm:after_create").Register("metrics:after_create", finish("create")),
		cb.Update().Before("gorm:update").Register("metrics:before_update", start),
		cb.Update().After("gorm:after_update").Register("metrics:after_update", finish("update")),
		cb.Delete().Before("gorm:delete").Register("metrics:before_delete", start),
		cb.Delete().After("gorm:after_delete").Register("metrics:after_delete", finish("delete")),
		cb.Row().Before("gorm:row").Register("metrics:before_row", start),
		cb.Row().After("gorm:row").Register("metrics:after_row", finish("row")),
	)
}
